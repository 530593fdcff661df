// Package pool caches heavyweight GPU objects between frames. Objects are
// leased by configuration key; identical configurations are interchangeable,
// so a returned object can satisfy any later lease with the same key.
package pool

import (
	"errors"
	"log/slog"
	"time"

	"github.com/vkgraph/vkgraph/driver"
)

// DefaultCapacity bounds each per-key free list. Objects released past this
// limit are destroyed instead of cached.
const DefaultCapacity = 8

// Lease is a checkout of a pooled object. Release returns the object to its
// free list; releasing twice panics.
type Lease[T any] struct {
	item     T
	cache    *cache[T]
	released bool
}

// Item returns the leased object. The object stays valid until Release.
func (l *Lease[T]) Item() T {
	if l.released {
		panic("pool: use of released lease")
	}
	return l.item
}

// Release returns the object to its pool, destroying it instead when the
// free list is full.
func (l *Lease[T]) Release() {
	if l.released {
		panic("pool: lease released twice")
	}
	l.released = true
	if l.cache != nil {
		l.cache.push(l.item)
	}
	var zero T
	l.item = zero
}

// cache is one per-key free list. Objects are returned to the back and
// leased from the front.
type cache[T any] struct {
	capacity int
	items    []T
}

func (c *cache[T]) pop() (T, bool) {
	if len(c.items) == 0 {
		var zero T
		return zero, false
	}
	item := c.items[0]
	c.items = c.items[1:]
	return item, true
}

func (c *cache[T]) push(item T) {
	if len(c.items) >= c.capacity {
		if d, ok := any(item).(driver.Destroyer); ok {
			d.Destroy()
		}
		return
	}
	c.items = append(c.items, item)
}

func newLease[T any](item T, c *cache[T]) *Lease[T] {
	return &Lease[T]{item: item, cache: c}
}

// CommandBuffer wraps a driver command buffer with the list of objects that
// must stay alive until the GPU finishes the buffer's last submission. The
// list drains the next time the buffer is leased after its fence signals.
type CommandBuffer struct {
	driver.CommandBuffer

	droppables []any
}

// PushFencedDrop retains item until the current submission completes on the
// GPU. Items implementing Release or Destroy are released back to their
// pools at that point.
func (cb *CommandBuffer) PushFencedDrop(item any) {
	cb.droppables = append(cb.droppables, item)
}

func (cb *CommandBuffer) dropFenced() {
	for _, item := range cb.droppables {
		switch it := item.(type) {
		case interface{ Release() }:
			it.Release()
		case driver.Destroyer:
			it.Destroy()
		}
	}
	cb.droppables = cb.droppables[:0]
}

// Destroy releases retained objects before destroying the underlying buffer.
func (cb *CommandBuffer) Destroy() {
	cb.dropFenced()
	cb.CommandBuffer.Destroy()
}

// HashPool keys free lists by structural equality of the full configuration.
type HashPool struct {
	device   driver.Device
	capacity int

	buffers         map[driver.BufferInfo]*cache[driver.Buffer]
	images          map[driver.ImageInfo]*cache[driver.Image]
	descriptorPools map[string]*cache[driver.DescriptorPool]
	renderPasses    map[string]*cache[driver.RenderPass]
	commandBuffers  map[uint32]*cache[*CommandBuffer]
}

// NewHashPool returns an empty pool backed by device.
func NewHashPool(device driver.Device) *HashPool {
	return &HashPool{
		device:          device,
		capacity:        DefaultCapacity,
		buffers:         map[driver.BufferInfo]*cache[driver.Buffer]{},
		images:          map[driver.ImageInfo]*cache[driver.Image]{},
		descriptorPools: map[string]*cache[driver.DescriptorPool]{},
		renderPasses:    map[string]*cache[driver.RenderPass]{},
		commandBuffers:  map[uint32]*cache[*CommandBuffer]{},
	}
}

// Device returns the device the pool creates objects on.
func (p *HashPool) Device() driver.Device {
	return p.device
}

func bucket[K comparable, T any](m map[K]*cache[T], key K, capacity int) *cache[T] {
	c, ok := m[key]
	if !ok {
		c = &cache[T]{capacity: capacity}
		m[key] = c
	}
	return c
}

// LeaseBuffer returns a pooled buffer with exactly this configuration,
// creating one if the free list is empty.
func (p *HashPool) LeaseBuffer(info driver.BufferInfo) (*Lease[driver.Buffer], error) {
	c := bucket(p.buffers, info, p.capacity)
	if item, ok := c.pop(); ok {
		return newLease(item, c), nil
	}
	slog.Debug("creating buffer", "size", info.Size, "usage", info.Usage)
	item, err := p.device.NewBuffer(info)
	if err != nil {
		return nil, err
	}
	return newLease(item, c), nil
}

// LeaseImage returns a pooled image with exactly this configuration.
func (p *HashPool) LeaseImage(info driver.ImageInfo) (*Lease[driver.Image], error) {
	c := bucket(p.images, info, p.capacity)
	if item, ok := c.pop(); ok {
		return newLease(item, c), nil
	}
	slog.Debug("creating image", "format", info.Format, "width", info.Width, "height", info.Height)
	item, err := p.device.NewImage(info)
	if err != nil {
		return nil, err
	}
	return newLease(item, c), nil
}

// LeaseDescriptorPool returns a pooled descriptor pool for this histogram.
// Pooled objects are reset before reuse.
func (p *HashPool) LeaseDescriptorPool(info driver.DescriptorPoolInfo) (*Lease[driver.DescriptorPool], error) {
	c := bucket(p.descriptorPools, descriptorPoolKey(info), p.capacity)
	if item, ok := c.pop(); ok {
		if err := item.Reset(); err != nil {
			return nil, err
		}
		return newLease(item, c), nil
	}
	slog.Debug("creating descriptor pool", "maxSets", info.MaxSets)
	item, err := p.device.NewDescriptorPool(info)
	if err != nil {
		return nil, err
	}
	return newLease(item, c), nil
}

// LeaseRenderPass returns a pooled render pass compiled from this
// configuration.
func (p *HashPool) LeaseRenderPass(info driver.RenderPassInfo) (*Lease[driver.RenderPass], error) {
	c := bucket(p.renderPasses, renderPassKey(info), p.capacity)
	if item, ok := c.pop(); ok {
		return newLease(item, c), nil
	}
	slog.Debug("creating render pass",
		"attachments", len(info.Attachments),
		"subpasses", len(info.Subpasses))
	item, err := p.device.NewRenderPass(info)
	if err != nil {
		return nil, err
	}
	return newLease(item, c), nil
}

// LeaseCommandBuffer returns a command buffer for the queue family. A pooled
// buffer is reused only once its previous submission's fence has signaled;
// an in-flight front object causes a fresh allocation instead of a wait.
func (p *HashPool) LeaseCommandBuffer(queueFamilyIndex uint32) (*Lease[*CommandBuffer], error) {
	c := bucket(p.commandBuffers, queueFamilyIndex, p.capacity)
	if len(c.items) > 0 {
		if ok, err := c.items[0].Fence().Signaled(); err != nil {
			return nil, err
		} else if ok {
			item, _ := c.pop()
			item.dropFenced()
			return newLease(item, c), nil
		}
	}
	slog.Debug("creating command buffer", "queueFamily", queueFamilyIndex)
	cb, err := p.device.NewCommandBuffer(queueFamilyIndex)
	if err != nil {
		return nil, err
	}
	return newLease(&CommandBuffer{CommandBuffer: cb}, c), nil
}

// WaitForFence blocks until the fence signals, polling once with a short
// timeout before falling back to an unbounded wait.
func WaitForFence(fence driver.Fence) error {
	err := fence.Wait(100 * time.Nanosecond)
	if err == nil || !errors.Is(err, driver.ErrTimeout) {
		return err
	}
	return fence.Wait(driver.NoTimeout)
}
