package graph

import (
	vk "github.com/vulkan-go/vulkan"
	"honnef.co/go/safeish"

	"github.com/vkgraph/vkgraph/driver"
)

// PassRecorder declares the work of one pass: node accesses, pipeline binds,
// descriptor and attachment declarations, and execution callbacks. All
// methods chain; invalid declarations (unbound nodes, incompatible
// attachments, descriptor slots the pipeline does not have) panic
// immediately so the mistake points at the declaration site.
type PassRecorder struct {
	pass *Pass
}

// exec returns the execution currently being declared. A declaration made
// after the current execution has recorded its callback begins the next
// execution.
func (r *PassRecorder) exec() *execution {
	e := r.pass.execs[len(r.pass.execs)-1]
	if e.record != nil {
		e = newExecution()
		r.pass.execs = append(r.pass.execs, e)
	}
	return e
}

func (r *PassRecorder) pushAccess(node Node, access driver.AccessType, sub subresource) {
	r.pass.graph.binding(node)
	e := r.exec()
	idx := node.index()
	e.accesses[idx] = append(e.accesses[idx], subresourceAccess{access: access, subresource: sub})
}

// AccessNode declares that the current execution touches the whole node with
// the given access.
func (r *PassRecorder) AccessNode(node Node, access driver.AccessType) *PassRecorder {
	r.pushAccess(node, access, nil)
	return r
}

// AccessBuffer declares an access against a range of a buffer.
func (r *PassRecorder) AccessBuffer(node BufferNode, access driver.AccessType, offset, size vk.DeviceSize) *PassRecorder {
	r.pushAccess(node, access, bufferSubresource{Offset: offset, Size: size})
	return r
}

// AccessImage declares an access against a view of an image.
func (r *PassRecorder) AccessImage(node ImageNode, access driver.AccessType, view driver.ImageViewInfo) *PassRecorder {
	r.pushAccess(node, access, imageSubresource{view: view})
	return r
}

// ReadNode declares a read with the access implied by the bound pipeline.
func (r *PassRecorder) ReadNode(node Node) *PassRecorder {
	read, _ := driver.DefaultAccesses(r.requirePipeline())
	return r.AccessNode(node, read)
}

// WriteNode declares a write with the access implied by the bound pipeline.
func (r *PassRecorder) WriteNode(node Node) *PassRecorder {
	_, write := driver.DefaultAccesses(r.requirePipeline())
	return r.AccessNode(node, write)
}

// BindPipeline sets the pipeline of the current execution. Binding a second
// pipeline begins a new execution.
func (r *PassRecorder) BindPipeline(pipeline driver.Pipeline) *PassRecorder {
	e := r.exec()
	if e.pipeline != nil {
		e = newExecution()
		r.pass.execs = append(r.pass.execs, e)
	}
	e.pipeline = pipeline
	return r
}

func (r *PassRecorder) requirePipeline() driver.Pipeline {
	e := r.pass.execs[len(r.pass.execs)-1]
	if e.record == nil && e.pipeline != nil {
		return e.pipeline
	}
	panic("graph: no pipeline bound in current execution")
}

func (r *PassRecorder) requireGraphics() *driver.GraphicsPipeline {
	p, ok := r.requirePipeline().(*driver.GraphicsPipeline)
	if !ok {
		panic("graph: attachment declared without a graphics pipeline")
	}
	return p
}

func (r *PassRecorder) bindDescriptor(set, bindingIdx uint32, node Node, desc boundDescriptor) {
	pipeline := r.requirePipeline()
	db := driver.DescriptorBinding{Set: set, Binding: bindingIdx}
	reflection := driver.PipelineReflectionOf(pipeline)
	if _, ok := reflection.DescriptorBindings[db]; !ok {
		panic("graph: pipeline " + reflection.Name + " does not declare the descriptor slot")
	}
	e := r.exec()
	if _, ok := e.bindings[db]; ok {
		panic("graph: descriptor bound twice")
	}
	desc.node = node.index()
	e.bindings[db] = desc
}

// AccessDescriptor declares an access and binds the node to a descriptor
// slot of the current pipeline.
func (r *PassRecorder) AccessDescriptor(set, binding uint32, node Node, access driver.AccessType) *PassRecorder {
	r.bindDescriptor(set, binding, node, boundDescriptor{})
	return r.AccessNode(node, access)
}

// AccessDescriptorAsView is AccessDescriptor with an explicit image view.
func (r *PassRecorder) AccessDescriptorAsView(set, binding uint32, node ImageNode, access driver.AccessType, view driver.ImageViewInfo) *PassRecorder {
	r.bindDescriptor(set, binding, node, boundDescriptor{imageView: &view})
	return r.AccessImage(node, access, view)
}

// AccessDescriptorBuffer is AccessDescriptor with an explicit buffer range.
func (r *PassRecorder) AccessDescriptorBuffer(set, binding uint32, node BufferNode, access driver.AccessType, offset, size vk.DeviceSize) *PassRecorder {
	r.bindDescriptor(set, binding, node, boundDescriptor{buffer: &bufferSubresource{Offset: offset, Size: size}})
	return r.AccessBuffer(node, access, offset, size)
}

// ReadDescriptor binds a descriptor with the pipeline's implied read access.
func (r *PassRecorder) ReadDescriptor(set, binding uint32, node Node) *PassRecorder {
	read, _ := driver.DefaultAccesses(r.requirePipeline())
	return r.AccessDescriptor(set, binding, node, read)
}

// WriteDescriptor binds a descriptor with the pipeline's implied write
// access.
func (r *PassRecorder) WriteDescriptor(set, binding uint32, node Node) *PassRecorder {
	_, write := driver.DefaultAccesses(r.requirePipeline())
	return r.AccessDescriptor(set, binding, node, write)
}

func (r *PassRecorder) colorAttachmentOf(node ImageNode, view *driver.ImageViewInfo) (Attachment, driver.ImageViewInfo) {
	p := r.requireGraphics()
	info := r.pass.graph.ImageInfo(node)
	v := info.DefaultViewInfo()
	if view != nil {
		v = *view
	}
	samples := p.Raster.Samples
	if samples == 0 {
		samples = vk.SampleCount1Bit
	}
	return newAttachment(node.index(), v, samples), v
}

func (r *PassRecorder) checkColorSlot(slot uint32, a Attachment) {
	e := r.exec()
	if existing, ok := e.colorAttachment(slot); ok && !attachmentsCompatible(&existing, &a) {
		panic("graph: incompatible attachments share a color slot")
	}
}

// AttachColor binds an image as a color attachment without load or store
// semantics; its prior contents are undefined.
func (r *PassRecorder) AttachColor(slot uint32, node ImageNode) *PassRecorder {
	return r.AttachColorAsView(slot, node, r.pass.graph.ImageInfo(node).DefaultViewInfo())
}

// AttachColorAsView is AttachColor with an explicit view.
func (r *PassRecorder) AttachColorAsView(slot uint32, node ImageNode, view driver.ImageViewInfo) *PassRecorder {
	a, v := r.colorAttachmentOf(node, &view)
	r.checkColorSlot(slot, a)
	r.exec().colorAttachments[slot] = a
	return r.AccessImage(node, driver.AccessColorAttachmentWrite, v)
}

// ClearColor clears a color attachment to transparent black on entry.
func (r *PassRecorder) ClearColor(slot uint32, node ImageNode) *PassRecorder {
	return r.ClearColorValue(slot, node, driver.ClearColorValue{})
}

// ClearColorValue clears a color attachment to the given color on entry.
func (r *PassRecorder) ClearColorValue(slot uint32, node ImageNode, color driver.ClearColorValue) *PassRecorder {
	a, v := r.colorAttachmentOf(node, nil)
	r.checkColorSlot(slot, a)
	r.exec().colorClears[slot] = clearAttachment{attachment: a, value: color}
	return r.AccessImage(node, driver.AccessColorAttachmentWrite, v)
}

// LoadColor loads a color attachment's existing contents on entry.
func (r *PassRecorder) LoadColor(slot uint32, node ImageNode) *PassRecorder {
	return r.LoadColorAsView(slot, node, r.pass.graph.ImageInfo(node).DefaultViewInfo())
}

// LoadColorAsView is LoadColor with an explicit view.
func (r *PassRecorder) LoadColorAsView(slot uint32, node ImageNode, view driver.ImageViewInfo) *PassRecorder {
	a, v := r.colorAttachmentOf(node, &view)
	r.checkColorSlot(slot, a)
	r.exec().colorLoads[slot] = a
	return r.AccessImage(node, driver.AccessColorAttachmentRead, v)
}

// StoreColor stores a color attachment's contents on exit.
func (r *PassRecorder) StoreColor(slot uint32, node ImageNode) *PassRecorder {
	return r.StoreColorAsView(slot, node, r.pass.graph.ImageInfo(node).DefaultViewInfo())
}

// StoreColorAsView is StoreColor with an explicit view.
func (r *PassRecorder) StoreColorAsView(slot uint32, node ImageNode, view driver.ImageViewInfo) *PassRecorder {
	a, v := r.colorAttachmentOf(node, &view)
	r.checkColorSlot(slot, a)
	r.exec().colorStores[slot] = a
	return r.AccessImage(node, driver.AccessColorAttachmentWrite, v)
}

// ResolveColor resolves the multisampled color attachment at slot into a
// single-sampled image on exit.
func (r *PassRecorder) ResolveColor(slot uint32, node ImageNode) *PassRecorder {
	info := r.pass.graph.ImageInfo(node)
	v := info.DefaultViewInfo()
	a := newAttachment(node.index(), v, vk.SampleCount1Bit)
	e := r.exec()
	if _, ok := e.colorResolves[slot]; ok {
		panic("graph: color slot resolved twice")
	}
	e.colorResolves[slot] = resolveAttachment{attachment: a, srcSlot: slot}
	return r.AccessImage(node, driver.AccessColorAttachmentWrite, v)
}

func (r *PassRecorder) depthStencilAttachmentOf(node ImageNode) (Attachment, driver.ImageViewInfo) {
	p := r.requireGraphics()
	info := r.pass.graph.ImageInfo(node)
	v := info.DefaultViewInfo()
	samples := p.Raster.Samples
	if samples == 0 {
		samples = vk.SampleCount1Bit
	}
	return newAttachment(node.index(), v, samples), v
}

func (r *PassRecorder) checkDepthStencil(a Attachment) {
	e := r.exec()
	if existing, ok := e.depthStencil(); ok && !attachmentsCompatible(&existing, &a) {
		panic("graph: incompatible attachments share the depth/stencil slot")
	}
}

// AttachDepthStencil binds an image as the depth/stencil attachment without
// load or store semantics.
func (r *PassRecorder) AttachDepthStencil(node ImageNode) *PassRecorder {
	a, v := r.depthStencilAttachmentOf(node)
	r.checkDepthStencil(a)
	r.exec().depthStencilAttachment = &a
	return r.AccessImage(node, driver.AccessDepthStencilAttachmentWrite, v)
}

// ClearDepthStencil clears the depth/stencil attachment on entry.
func (r *PassRecorder) ClearDepthStencil(node ImageNode, value driver.ClearDepthStencilValue) *PassRecorder {
	a, v := r.depthStencilAttachmentOf(node)
	r.checkDepthStencil(a)
	r.exec().depthStencilClear = &clearDepthStencil{attachment: a, value: value}
	return r.AccessImage(node, driver.AccessDepthStencilAttachmentWrite, v)
}

// LoadDepthStencil loads the depth/stencil attachment's existing contents on
// entry.
func (r *PassRecorder) LoadDepthStencil(node ImageNode) *PassRecorder {
	a, v := r.depthStencilAttachmentOf(node)
	r.checkDepthStencil(a)
	r.exec().depthStencilLoad = &a
	return r.AccessImage(node, driver.AccessDepthStencilAttachmentRead, v)
}

// StoreDepthStencil stores the depth/stencil attachment's contents on exit.
func (r *PassRecorder) StoreDepthStencil(node ImageNode) *PassRecorder {
	a, v := r.depthStencilAttachmentOf(node)
	r.checkDepthStencil(a)
	r.exec().depthStencilStore = &a
	return r.AccessImage(node, driver.AccessDepthStencilAttachmentWrite, v)
}

// SetDepthBounds sets the viewport depth range used when the viewport is
// derived automatically.
func (r *PassRecorder) SetDepthBounds(min, max float32) *PassRecorder {
	r.pass.depthBounds = [2]float32{min, max}
	r.pass.hasDepthMode = true
	return r
}

// SetRenderArea overrides the render area otherwise derived from the pass's
// attachments.
func (r *PassRecorder) SetRenderArea(area vk.Rect2D) *PassRecorder {
	r.pass.renderArea = &area
	return r
}

// Record sets the callback that records the current execution's commands and
// seals the execution.
func (r *PassRecorder) Record(fn func(Cmd, Bindings)) *PassRecorder {
	e := r.pass.execs[len(r.pass.execs)-1]
	if e.record != nil {
		panic("graph: execution recorded twice")
	}
	e.record = fn
	return r
}

// SubmitPass finishes the pass and returns the graph for further recording.
// Executions left without a callback are discarded.
func (r *PassRecorder) SubmitPass() *Graph {
	execs := r.pass.execs[:0]
	for _, e := range r.pass.execs {
		if e.record != nil {
			execs = append(execs, e)
		}
	}
	r.pass.execs = execs
	return r.pass.graph
}

// Cmd is handed to execution callbacks. It scopes command recording to what
// is valid inside a resolved execution: drawing, dispatching and push
// constants against the already-bound pipeline.
type Cmd struct {
	cb       driver.CommandBuffer
	pipeline driver.Pipeline
}

// PushConstants uploads a push-constant block starting at offset zero.
func (c Cmd) PushConstants(data []byte) {
	c.PushConstantsAt(0, data)
}

// PushConstantsAt uploads a push-constant block at the given offset.
func (c Cmd) PushConstantsAt(offset uint32, data []byte) {
	reflection := driver.PipelineReflectionOf(c.pipeline)
	var stages vk.ShaderStageFlags
	for _, rng := range reflection.PushConstants {
		stages |= rng.Stages
	}
	c.cb.PushConstants(reflection.Layout, stages, offset, data)
}

func (c Cmd) BindVertexBuffer(buffer driver.Buffer, offset vk.DeviceSize) {
	c.cb.BindVertexBuffer(buffer, offset)
}

func (c Cmd) BindIndexBuffer(buffer driver.Buffer, offset vk.DeviceSize, indexType vk.IndexType) {
	c.cb.BindIndexBuffer(buffer, offset, indexType)
}

func (c Cmd) Dispatch(x, y, z uint32) {
	c.cb.Dispatch(x, y, z)
}

func (c Cmd) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.cb.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c Cmd) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.cb.DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (c Cmd) DrawIndirect(buffer driver.Buffer, offset vk.DeviceSize, drawCount, stride uint32) {
	c.cb.DrawIndirect(buffer, offset, drawCount, stride)
}

func (c Cmd) TraceRays(width, height, depth uint32) {
	c.cb.TraceRays(width, height, depth)
}

// SetViewport overrides the viewport derived from the render area.
func (c Cmd) SetViewport(viewport vk.Viewport) {
	c.cb.SetViewport(viewport)
}

// SetScissor overrides the scissor derived from the render area.
func (c Cmd) SetScissor(area vk.Rect2D) {
	c.cb.SetScissor(area)
}

// Raw exposes the underlying command buffer for commands Cmd does not wrap.
func (c Cmd) Raw() driver.CommandBuffer {
	return c.cb
}

// Bindings resolves nodes to their driver resources inside an execution
// callback. Only nodes the execution declared accesses against are
// reachable.
type Bindings struct {
	graph *Graph
	exec  *execution
}

func (b Bindings) require(node Node) *binding {
	if _, ok := b.exec.accesses[node.index()]; !ok {
		panic("graph: node used without a declared access")
	}
	return b.graph.binding(node)
}

// Buffer returns the driver buffer behind a node.
func (b Bindings) Buffer(node BufferNode) driver.Buffer {
	return b.require(node).driverBuffer()
}

// Image returns the driver image behind a node.
func (b Bindings) Image(node ImageNode) driver.Image {
	return b.require(node).driverImage()
}

// AccelerationStructure returns the driver acceleration structure behind a
// node.
func (b Bindings) AccelerationStructure(node AccelerationStructureNode) driver.AccelerationStructure {
	return b.require(node).driverAccelerationStructure()
}

// PushData reinterprets a slice of constant-size values as the byte payload
// of a push-constant or buffer update.
func PushData[T any](data []T) []byte {
	return safeish.SliceCast[[]byte](data)
}
