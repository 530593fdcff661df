package graph

import (
	"github.com/vkgraph/vkgraph/driver"
	"github.com/vkgraph/vkgraph/pool"
)

// SwapchainImage is an externally acquired presentation image. The graph
// waits on Acquired before rendering to it and signals Rendered at submit.
type SwapchainImage struct {
	Image    driver.Image
	Acquired driver.Semaphore
	Rendered driver.Semaphore
}

type bindingKind uint8

const (
	bindingBuffer bindingKind = iota
	bindingImage
	bindingAccelerationStructure
	bindingSwapchainImage
)

// binding owns exactly one real resource behind a node and records the most
// recent access made against it. Nodes are non-owning references into the
// binding table.
type binding struct {
	kind bindingKind

	buffer      driver.Buffer
	image       driver.Image
	accelStruct driver.AccelerationStructure
	swapchain   SwapchainImage

	// lease is non-nil when the resource came from a pool; it is parked on
	// the command buffer's fenced-drop list at submit.
	lease interface{ Release() }

	bound      bool
	prevAccess driver.AccessType
}

// access records the next access against the chain and returns the previous
// one, keeping the per-node access history a single consistent chain.
func (b *binding) access(next driver.AccessType) driver.AccessType {
	prev := b.prevAccess
	b.prevAccess = next
	return prev
}

func (b *binding) driverBuffer() driver.Buffer {
	if b.kind == bindingBuffer {
		return b.buffer
	}
	return nil
}

func (b *binding) driverImage() driver.Image {
	switch b.kind {
	case bindingImage:
		return b.image
	case bindingSwapchainImage:
		return b.swapchain.Image
	}
	return nil
}

func (b *binding) driverAccelerationStructure() driver.AccelerationStructure {
	if b.kind == bindingAccelerationStructure {
		return b.accelStruct
	}
	return nil
}

func (g *Graph) push(b binding) int {
	g.bindings = append(g.bindings, b)
	return len(g.bindings) - 1
}

// BindBuffer enters a buffer into the binding table. Binding a buffer that
// is already bound returns its existing node.
func (g *Graph) BindBuffer(buffer driver.Buffer) BufferNode {
	for idx := range g.bindings {
		b := &g.bindings[idx]
		if b.bound && b.kind == bindingBuffer && b.buffer == buffer {
			return BufferNode{idx: idx}
		}
	}
	return BufferNode{idx: g.push(binding{kind: bindingBuffer, buffer: buffer, bound: true})}
}

// BindBufferLease enters a pooled buffer; the lease is retained until the
// GPU finishes the frame that used it.
func (g *Graph) BindBufferLease(lease *pool.Lease[driver.Buffer]) BufferNode {
	return BufferNode{idx: g.push(binding{
		kind:   bindingBuffer,
		buffer: lease.Item(),
		lease:  lease,
		bound:  true,
	})}
}

// BindImage enters an image into the binding table. Binding an image that is
// already bound returns its existing node.
func (g *Graph) BindImage(image driver.Image) ImageNode {
	for idx := range g.bindings {
		b := &g.bindings[idx]
		if b.bound && b.kind == bindingImage && b.image == image {
			return ImageNode{idx: idx}
		}
	}
	return ImageNode{idx: g.push(binding{kind: bindingImage, image: image, bound: true})}
}

// BindImageLease enters a pooled image; the lease is retained until the GPU
// finishes the frame that used it.
func (g *Graph) BindImageLease(lease *pool.Lease[driver.Image]) ImageNode {
	return ImageNode{idx: g.push(binding{
		kind:  bindingImage,
		image: lease.Item(),
		lease: lease,
		bound: true,
	})}
}

// BindAccelerationStructure enters an acceleration structure into the
// binding table.
func (g *Graph) BindAccelerationStructure(accelStruct driver.AccelerationStructure) AccelerationStructureNode {
	for idx := range g.bindings {
		b := &g.bindings[idx]
		if b.bound && b.kind == bindingAccelerationStructure && b.accelStruct == accelStruct {
			return AccelerationStructureNode{idx: idx}
		}
	}
	return AccelerationStructureNode{idx: g.push(binding{
		kind:        bindingAccelerationStructure,
		accelStruct: accelStruct,
		bound:       true,
	})}
}

// BindSwapchainImage enters an acquired swapchain image. Its semaphores are
// collected into the submission that renders to it.
func (g *Graph) BindSwapchainImage(swapchain SwapchainImage) ImageNode {
	return ImageNode{idx: g.push(binding{
		kind:      bindingSwapchainImage,
		swapchain: swapchain,
		bound:     true,
	})}
}

func (g *Graph) unbind(node Node) *binding {
	b := g.binding(node)
	b.bound = false
	return b
}

// UnbindBuffer removes the node from the table and returns its buffer.
func (g *Graph) UnbindBuffer(node BufferNode) driver.Buffer {
	return g.unbind(node).buffer
}

// UnbindImage removes the node from the table and returns its image.
func (g *Graph) UnbindImage(node ImageNode) driver.Image {
	b := g.unbind(node)
	if b.kind == bindingSwapchainImage {
		return b.swapchain.Image
	}
	return b.image
}

// UnbindAccelerationStructure removes the node from the table and returns
// its acceleration structure.
func (g *Graph) UnbindAccelerationStructure(node AccelerationStructureNode) driver.AccelerationStructure {
	return g.unbind(node).accelStruct
}

// UnbindSwapchainImage removes the node from the table and returns the
// swapchain image with its semaphores.
func (g *Graph) UnbindSwapchainImage(node ImageNode) SwapchainImage {
	b := g.unbind(node)
	if b.kind != bindingSwapchainImage {
		panic("graph: node is not a swapchain image")
	}
	return b.swapchain
}

// binding returns the live binding behind a node, panicking on unbound or
// invalid nodes.
func (g *Graph) binding(node Node) *binding {
	idx := node.index()
	if idx < 0 || idx >= len(g.bindings) {
		panic("graph: invalid node")
	}
	b := &g.bindings[idx]
	if !b.bound {
		panic("graph: use of unbound node")
	}
	return b
}

// BufferInfo returns the configuration of the buffer behind a node.
func (g *Graph) BufferInfo(node BufferNode) driver.BufferInfo {
	return g.binding(node).buffer.Info()
}

// ImageInfo returns the configuration of the image behind a node.
func (g *Graph) ImageInfo(node ImageNode) driver.ImageInfo {
	return g.binding(node).driverImage().Info()
}
