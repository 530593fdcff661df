package graph

import (
	"testing"
	"time"

	vk "github.com/vulkan-go/vulkan"

	"github.com/vkgraph/vkgraph/driver"
	"github.com/vkgraph/vkgraph/pool"
)

// testDevice records every interesting call so tests can assert on the exact
// command stream a resolve produced.
type testDevice struct {
	events          []string
	barriers        []recordedBarrier
	renderPasses    []driver.RenderPassInfo
	descriptorPools []driver.DescriptorPoolInfo
	writes          []driver.WriteDescriptorSet
	clearValues     [][]driver.ClearValue
	submits         []driver.SubmitInfo
	pushes          []recordedPush
}

type recordedPush struct {
	stages vk.ShaderStageFlags
	offset uint32
	data   []byte
}

type recordedBarrier struct {
	global  *driver.GlobalBarrier
	buffers []driver.BufferBarrier
	images  []driver.ImageBarrier
}

func (d *testDevice) log(event string) {
	d.events = append(d.events, event)
}

func (d *testDevice) NewBuffer(info driver.BufferInfo) (driver.Buffer, error) {
	return &testBuffer{info: info}, nil
}

func (d *testDevice) NewImage(info driver.ImageInfo) (driver.Image, error) {
	return &testImage{info: info}, nil
}

func (d *testDevice) NewCommandBuffer(queueFamilyIndex uint32) (driver.CommandBuffer, error) {
	return &testCommandBuffer{
		device:           d,
		queueFamilyIndex: queueFamilyIndex,
		fence:            &testFence{signaled: true},
	}, nil
}

func (d *testDevice) NewDescriptorPool(info driver.DescriptorPoolInfo) (driver.DescriptorPool, error) {
	d.descriptorPools = append(d.descriptorPools, info)
	return &testDescriptorPool{}, nil
}

func (d *testDevice) NewRenderPass(info driver.RenderPassInfo) (driver.RenderPass, error) {
	d.renderPasses = append(d.renderPasses, info)
	return &testRenderPass{info: info}, nil
}

func (d *testDevice) UpdateDescriptorSets(writes []driver.WriteDescriptorSet) {
	d.writes = append(d.writes, writes...)
}

func (d *testDevice) Submit(info driver.SubmitInfo) error {
	d.submits = append(d.submits, info)
	return nil
}

func (d *testDevice) QueueFamilyCount() uint32 { return 1 }

type testBuffer struct {
	info driver.BufferInfo
}

func (b *testBuffer) Destroy()                {}
func (b *testBuffer) Info() driver.BufferInfo { return b.info }

type testImage struct {
	info    driver.ImageInfo
	viewErr error
}

func (i *testImage) Destroy()               {}
func (i *testImage) Info() driver.ImageInfo { return i.info }

func (i *testImage) View(info driver.ImageViewInfo) (driver.ImageView, error) {
	if i.viewErr != nil {
		return nil, i.viewErr
	}
	return info, nil
}

type testFence struct {
	signaled bool
}

func (f *testFence) Signaled() (bool, error) { return f.signaled, nil }

func (f *testFence) Wait(timeout time.Duration) error {
	if f.signaled {
		return nil
	}
	if timeout != driver.NoTimeout {
		return driver.ErrTimeout
	}
	f.signaled = true
	return nil
}

func (f *testFence) Reset() error {
	f.signaled = false
	return nil
}

type testCommandBuffer struct {
	device           *testDevice
	queueFamilyIndex uint32
	fence            *testFence
}

func (cb *testCommandBuffer) Destroy()                 {}
func (cb *testCommandBuffer) Begin() error             { return nil }
func (cb *testCommandBuffer) End() error               { return nil }
func (cb *testCommandBuffer) Reset() error             { return nil }
func (cb *testCommandBuffer) Fence() driver.Fence      { return cb.fence }
func (cb *testCommandBuffer) QueueFamilyIndex() uint32 { return cb.queueFamilyIndex }

func (cb *testCommandBuffer) BeginRenderPass(pass driver.RenderPass, framebuffer driver.Framebuffer, renderArea vk.Rect2D, clearValues []driver.ClearValue) {
	cb.device.clearValues = append(cb.device.clearValues, clearValues)
	cb.device.log("beginRenderPass")
}

func (cb *testCommandBuffer) NextSubpass()   { cb.device.log("nextSubpass") }
func (cb *testCommandBuffer) EndRenderPass() { cb.device.log("endRenderPass") }

func (cb *testCommandBuffer) BindPipeline(pipeline driver.Pipeline) {
	cb.device.log("bindPipeline:" + driver.PipelineReflectionOf(pipeline).Name)
}

func (cb *testCommandBuffer) BindDescriptorSets(bindPoint vk.PipelineBindPoint, layout driver.PipelineLayout, firstSet uint32, sets []driver.DescriptorSet) {
	cb.device.log("bindDescriptorSets")
}

func (cb *testCommandBuffer) PushConstants(layout driver.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	cb.device.log("pushConstants")
	cb.device.pushes = append(cb.device.pushes, recordedPush{stages: stages, offset: offset, data: data})
}

func (cb *testCommandBuffer) SetViewport(viewport vk.Viewport) {}
func (cb *testCommandBuffer) SetScissor(area vk.Rect2D)        {}

func (cb *testCommandBuffer) PipelineBarrier(global *driver.GlobalBarrier, buffers []driver.BufferBarrier, images []driver.ImageBarrier) {
	cb.device.barriers = append(cb.device.barriers, recordedBarrier{
		global:  global,
		buffers: buffers,
		images:  images,
	})
	cb.device.log("barrier")
}

func (cb *testCommandBuffer) BindVertexBuffer(buffer driver.Buffer, offset vk.DeviceSize) {}
func (cb *testCommandBuffer) BindIndexBuffer(buffer driver.Buffer, offset vk.DeviceSize, indexType vk.IndexType) {
}

func (cb *testCommandBuffer) Dispatch(x, y, z uint32) { cb.device.log("dispatch") }

func (cb *testCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	cb.device.log("draw")
}

func (cb *testCommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	cb.device.log("drawIndexed")
}

func (cb *testCommandBuffer) DrawIndirect(buffer driver.Buffer, offset vk.DeviceSize, drawCount, stride uint32) {
	cb.device.log("drawIndirect")
}

func (cb *testCommandBuffer) TraceRays(width, height, depth uint32) { cb.device.log("traceRays") }

func (cb *testCommandBuffer) CopyBuffer(src, dst driver.Buffer, regions []vk.BufferCopy) {
	cb.device.log("copyBuffer")
}

func (cb *testCommandBuffer) CopyBufferToImage(src driver.Buffer, dst driver.Image, dstLayout vk.ImageLayout, regions []vk.BufferImageCopy) {
	cb.device.log("copyBufferToImage")
}

func (cb *testCommandBuffer) CopyImage(src driver.Image, srcLayout vk.ImageLayout, dst driver.Image, dstLayout vk.ImageLayout, regions []vk.ImageCopy) {
	cb.device.log("copyImage")
}

func (cb *testCommandBuffer) CopyImageToBuffer(src driver.Image, srcLayout vk.ImageLayout, dst driver.Buffer, regions []vk.BufferImageCopy) {
	cb.device.log("copyImageToBuffer")
}

func (cb *testCommandBuffer) BlitImage(src driver.Image, srcLayout vk.ImageLayout, dst driver.Image, dstLayout vk.ImageLayout, regions []vk.ImageBlit, filter vk.Filter) {
	cb.device.log("blitImage")
}

func (cb *testCommandBuffer) ClearColorImage(image driver.Image, layout vk.ImageLayout, color driver.ClearColorValue, ranges []vk.ImageSubresourceRange) {
	cb.device.log("clearColorImage")
}

func (cb *testCommandBuffer) FillBuffer(buffer driver.Buffer, offset, size vk.DeviceSize, data uint32) {
	cb.device.log("fillBuffer")
}

func (cb *testCommandBuffer) UpdateBuffer(buffer driver.Buffer, offset vk.DeviceSize, data []byte) {
	cb.device.log("updateBuffer")
}

type testDescriptorPool struct {
	allocated int
}

func (p *testDescriptorPool) Destroy() {}

func (p *testDescriptorPool) AllocateSet(layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	p.allocated++
	return p.allocated, nil
}

func (p *testDescriptorPool) Reset() error {
	p.allocated = 0
	return nil
}

type testRenderPass struct {
	info driver.RenderPassInfo
}

func (rp *testRenderPass) Destroy()                    {}
func (rp *testRenderPass) Info() driver.RenderPassInfo { return rp.info }

func (rp *testRenderPass) NewFramebuffer(info driver.FramebufferInfo) (driver.Framebuffer, error) {
	return info, nil
}

func newTestPool(t *testing.T) (*testDevice, *pool.HashPool) {
	t.Helper()
	device := &testDevice{}
	return device, pool.NewHashPool(device)
}

func newTestBuffer(t *testing.T, device *testDevice, size vk.DeviceSize) driver.Buffer {
	t.Helper()
	info, err := driver.NewBufferInfo(size, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit))
	if err != nil {
		t.Fatal(err)
	}
	buffer, err := device.NewBuffer(info)
	if err != nil {
		t.Fatal(err)
	}
	return buffer
}

func newTestImage(t *testing.T, device *testDevice, format vk.Format, width, height uint32) driver.Image {
	t.Helper()
	usage := vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit)
	if driver.FormatAspectMask(format) != vk.ImageAspectFlags(vk.ImageAspectColorBit) {
		usage = vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
	}
	info, err := driver.NewImageInfo2D(format, width, height, usage)
	if err != nil {
		t.Fatal(err)
	}
	image, err := device.NewImage(info)
	if err != nil {
		t.Fatal(err)
	}
	return image
}

func newComputePipeline(name string, descriptors map[driver.DescriptorBinding]driver.DescriptorInfo) *driver.ComputePipeline {
	var maxSet uint32
	for db := range descriptors {
		if db.Set > maxSet {
			maxSet = db.Set
		}
	}
	layouts := make([]driver.DescriptorSetLayout, maxSet+1)
	for i := range layouts {
		layouts[i] = i
	}
	return &driver.ComputePipeline{Reflection: driver.PipelineReflection{
		Name:               name,
		SetLayouts:         layouts,
		DescriptorBindings: descriptors,
		Stages:             vk.ShaderStageFlags(vk.ShaderStageComputeBit),
	}}
}

func newGraphicsPipeline(name string) *driver.GraphicsPipeline {
	return &driver.GraphicsPipeline{
		Reflection: driver.PipelineReflection{
			Name:   name,
			Stages: vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
		},
	}
}

func leaseTestCommandBuffer(t *testing.T, p *pool.HashPool) *pool.CommandBuffer {
	t.Helper()
	lease, err := p.LeaseCommandBuffer(0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(lease.Release)
	return lease.Item()
}

func mustPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic: %s", want)
		}
	}()
	fn()
}
