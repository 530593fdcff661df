// Package driver defines the boundary between the render graph and the
// underlying GPU API. The graph and pool packages consume these interfaces;
// a Vulkan implementation (or a test double) provides them.
package driver

import (
	"errors"
	"math"
	"time"

	vk "github.com/vulkan-go/vulkan"
)

// The error taxonomy surfaced across the driver boundary. Programmer errors
// (unbound nodes, incompatible attachments, double-bound descriptors) are not
// errors in this sense; those panic at record time.
var (
	// ErrUnsupported means a device or feature capability is missing.
	ErrUnsupported = errors.New("unsupported")

	// ErrOutOfMemory means a host or device allocation failed.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrInvalidData means a configuration or reflection record is malformed.
	ErrInvalidData = errors.New("invalid data")

	// ErrTimeout is returned by Fence.Wait when the timeout elapses before
	// the fence signals. It is control flow, not part of the taxonomy above.
	ErrTimeout = errors.New("timeout")
)

// NoTimeout makes Fence.Wait block until the fence signals.
const NoTimeout = time.Duration(math.MaxInt64)

// Destroyer is implemented by driver objects that hold GPU resources. Pools
// call Destroy when evicting an object past the free-list capacity.
type Destroyer interface {
	Destroy()
}

// Device creates the heavyweight objects the graph leases and owns queue
// submission. All constructors surface ErrUnsupported, ErrOutOfMemory or
// ErrInvalidData.
type Device interface {
	NewBuffer(info BufferInfo) (Buffer, error)
	NewImage(info ImageInfo) (Image, error)
	NewCommandBuffer(queueFamilyIndex uint32) (CommandBuffer, error)
	NewDescriptorPool(info DescriptorPoolInfo) (DescriptorPool, error)
	NewRenderPass(info RenderPassInfo) (RenderPass, error)

	UpdateDescriptorSets(writes []WriteDescriptorSet)
	Submit(info SubmitInfo) error
	QueueFamilyCount() uint32
}

// SubmitInfo describes one queue submission. The command buffer's fence is
// signaled when the GPU finishes the batch.
type SubmitInfo struct {
	CommandBuffer    CommandBuffer
	QueueFamilyIndex uint32
	WaitSemaphores   []Semaphore
	WaitStages       []vk.PipelineStageFlags
	SignalSemaphores []Semaphore
}

// CommandBuffer records GPU commands. Recording is not thread safe; a buffer
// belongs to exactly one frame construction at a time.
type CommandBuffer interface {
	Destroyer

	Begin() error
	End() error
	Reset() error
	Fence() Fence
	QueueFamilyIndex() uint32

	BeginRenderPass(pass RenderPass, framebuffer Framebuffer, renderArea vk.Rect2D, clearValues []ClearValue)
	NextSubpass()
	EndRenderPass()

	BindPipeline(pipeline Pipeline)
	BindDescriptorSets(bindPoint vk.PipelineBindPoint, layout PipelineLayout, firstSet uint32, sets []DescriptorSet)
	PushConstants(layout PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte)
	SetViewport(viewport vk.Viewport)
	SetScissor(area vk.Rect2D)
	PipelineBarrier(global *GlobalBarrier, buffers []BufferBarrier, images []ImageBarrier)

	BindVertexBuffer(buffer Buffer, offset vk.DeviceSize)
	BindIndexBuffer(buffer Buffer, offset vk.DeviceSize, indexType vk.IndexType)
	Dispatch(groupCountX, groupCountY, groupCountZ uint32)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	DrawIndirect(buffer Buffer, offset vk.DeviceSize, drawCount, stride uint32)
	TraceRays(width, height, depth uint32)

	CopyBuffer(src, dst Buffer, regions []vk.BufferCopy)
	CopyBufferToImage(src Buffer, dst Image, dstLayout vk.ImageLayout, regions []vk.BufferImageCopy)
	CopyImage(src Image, srcLayout vk.ImageLayout, dst Image, dstLayout vk.ImageLayout, regions []vk.ImageCopy)
	CopyImageToBuffer(src Image, srcLayout vk.ImageLayout, dst Buffer, regions []vk.BufferImageCopy)
	BlitImage(src Image, srcLayout vk.ImageLayout, dst Image, dstLayout vk.ImageLayout, regions []vk.ImageBlit, filter vk.Filter)
	ClearColorImage(image Image, layout vk.ImageLayout, color ClearColorValue, ranges []vk.ImageSubresourceRange)
	FillBuffer(buffer Buffer, offset, size vk.DeviceSize, data uint32)
	UpdateBuffer(buffer Buffer, offset vk.DeviceSize, data []byte)
}

// Fence tracks GPU completion of a submitted command buffer.
type Fence interface {
	// Signaled reports fence status without blocking.
	Signaled() (bool, error)

	// Wait blocks until the fence signals or the timeout elapses, returning
	// ErrTimeout in the latter case. Pass NoTimeout to wait forever.
	Wait(timeout time.Duration) error

	Reset() error
}

// Buffer is a device buffer created from a BufferInfo.
type Buffer interface {
	Destroyer
	Info() BufferInfo
}

// Image is a device image created from an ImageInfo. Views are cached by the
// implementation and live as long as the image.
type Image interface {
	Destroyer
	Info() ImageInfo
	View(info ImageViewInfo) (ImageView, error)
}

// AccelerationStructure is a ray-tracing acceleration structure.
type AccelerationStructure interface {
	Destroyer
	Info() AccelerationStructureInfo
}

// RenderPass is a compiled hardware render pass. Framebuffers are created
// against it; implementations may cache them by attachment identity.
type RenderPass interface {
	Destroyer
	Info() RenderPassInfo
	NewFramebuffer(info FramebufferInfo) (Framebuffer, error)
}

// DescriptorPool allocates descriptor sets. Sets are never freed
// individually; the whole pool is reset when it returns to the object pool.
type DescriptorPool interface {
	Destroyer
	AllocateSet(layout DescriptorSetLayout) (DescriptorSet, error)
	Reset() error
}

// Opaque handles owned by the driver layer. The graph never inspects these;
// it only passes them back across the boundary.
type (
	ImageView           interface{}
	Framebuffer         interface{}
	DescriptorSet       interface{}
	DescriptorSetLayout interface{}
	PipelineLayout      interface{}
	Semaphore           interface{}
)

// WriteDescriptorSet updates one binding of one descriptor set. Exactly one
// of Buffers, Images and AccelerationStructures is populated, matching Type.
type WriteDescriptorSet struct {
	Set     DescriptorSet
	Binding uint32
	Type    vk.DescriptorType

	Buffers                []BufferDescriptor
	Images                 []ImageDescriptor
	AccelerationStructures []AccelerationStructure
}

type BufferDescriptor struct {
	Buffer Buffer
	Offset vk.DeviceSize
	Range  vk.DeviceSize
}

type ImageDescriptor struct {
	View   ImageView
	Layout vk.ImageLayout
}

// ClearColorValue is an RGBA clear color, one float per channel.
type ClearColorValue [4]float32

type ClearDepthStencilValue struct {
	Depth   float32
	Stencil uint32
}

// ClearValue is a union; Color applies to color attachments, DepthStencil to
// depth/stencil attachments.
type ClearValue struct {
	Color        ClearColorValue
	DepthStencil ClearDepthStencilValue
}
