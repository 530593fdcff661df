package graph

import (
	"fmt"
	"sort"

	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/constraints"

	"github.com/vkgraph/vkgraph/driver"
	"github.com/vkgraph/vkgraph/pool"
)

// descriptorAtom rounds descriptor pool sizes up so slightly different
// passes land on the same pool configuration.
const descriptorAtom = 1 << 5

func alignUp[T constraints.Unsigned](value, atom T) T {
	return (value + atom - 1) / atom * atom
}

// leaseScheduledResources leases the descriptor pools, descriptor sets and
// render passes every scheduled pass needs, in schedule order.
func (r *Resolver) leaseScheduledResources(p Pool, schedule []int) error {
	for _, passIdx := range schedule {
		pass := r.graph.passes[passIdx]

		descriptorPool, err := leaseDescriptorPool(p, pass)
		if err != nil {
			return err
		}

		execDescriptorSets := map[int][]driver.DescriptorSet{}
		if descriptorPool != nil {
			for execIdx, exec := range pass.execs {
				if exec.pipeline == nil {
					continue
				}
				reflection := driver.PipelineReflectionOf(exec.pipeline)
				sets := make([]driver.DescriptorSet, 0, len(reflection.SetLayouts))
				for _, layout := range reflection.SetLayouts {
					set, err := descriptorPool.Item().AllocateSet(layout)
					if err != nil {
						descriptorPool.Release()
						return err
					}
					sets = append(sets, set)
				}
				execDescriptorSets[execIdx] = sets
			}
		}

		// Merging globs every subpass-input pass onto the pass that feeds
		// it, so a pass can never open with input attachments.
		if first, ok := pass.execs[0].pipeline.(*driver.GraphicsPipeline); ok {
			if len(driver.InputAttachmentBindings(first)) > 0 {
				panic("graph: pass begins with subpass inputs and nothing to read from")
			}
		}

		var renderPass *pool.Lease[driver.RenderPass]
		if pass.execs[0].isGraphic() {
			renderPass, err = r.leaseRenderPass(p, passIdx)
			if err != nil {
				if descriptorPool != nil {
					descriptorPool.Release()
				}
				return err
			}
		}

		r.physicalPasses = append(r.physicalPasses, &physicalPass{
			descriptorPool:     descriptorPool,
			execDescriptorSets: execDescriptorSets,
			renderPass:         renderPass,
		})
	}

	return nil
}

// leaseDescriptorPool sizes one pool for every pipeline in the pass. Counts
// are rounded up so pools of nearly equal shape share a free list. Returns
// nil for passes that bind no descriptors.
func leaseDescriptorPool(p Pool, pass *Pass) (*pool.Lease[driver.DescriptorPool], error) {
	var maxSet uint32
	for _, exec := range pass.execs {
		for db := range exec.bindings {
			if db.Set > maxSet {
				maxSet = db.Set
			}
		}
	}

	counts := map[vk.DescriptorType]uint32{}
	for _, exec := range pass.execs {
		if exec.pipeline == nil {
			continue
		}
		reflection := driver.PipelineReflectionOf(exec.pipeline)
		for _, info := range reflection.DescriptorBindings {
			counts[info.Type] += info.Count
		}
	}
	if len(counts) == 0 {
		return nil, nil
	}

	sizes := make([]vk.DescriptorPoolSize, 0, len(counts))
	for ty, count := range counts {
		sizes = append(sizes, vk.DescriptorPoolSize{
			Type:            ty,
			DescriptorCount: alignUp(count, uint32(descriptorAtom)),
		})
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i].Type < sizes[j].Type })

	return p.LeaseDescriptorPool(driver.DescriptorPoolInfo{
		MaxSets: uint32(len(pass.execs)) * (maxSet + 1),
		Sizes:   sizes,
	})
}

// sortedDescriptorBindings returns a pipeline's descriptor slots ordered by
// (set, binding).
func sortedDescriptorBindings(reflection *driver.PipelineReflection) []driver.DescriptorBinding {
	bindings := make([]driver.DescriptorBinding, 0, len(reflection.DescriptorBindings))
	for db := range reflection.DescriptorBindings {
		bindings = append(bindings, db)
	}
	sort.Slice(bindings, func(i, j int) bool {
		if bindings[i].Set != bindings[j].Set {
			return bindings[i].Set < bindings[j].Set
		}
		return bindings[i].Binding < bindings[j].Binding
	})
	return bindings
}

// leaseRenderPass synthesizes the hardware render pass for one merged pass:
// load ops and initial layouts come from the first execution, store ops and
// final layouts from the last, one subpass per execution, and subpass
// dependencies derived from the declared accesses.
func (r *Resolver) leaseRenderPass(p Pool, passIdx int) (*pool.Lease[driver.RenderPass], error) {
	pass := r.graph.passes[passIdx]

	var colorCount uint32
	hasDepthStencil := false
	for _, exec := range pass.execs {
		if n := exec.colorAttachmentCount(); n > colorCount {
			colorCount = n
		}
		if _, ok := exec.depthStencil(); ok {
			hasDepthStencil = true
		}
	}
	attachmentCount := int(colorCount)
	if hasDepthStencil {
		attachmentCount++
	}
	depthStencilIdx := attachmentCount - 1

	attachments := make([]driver.AttachmentInfo, attachmentCount)
	for i := range attachments {
		attachments[i] = driver.NewAttachmentInfo(vk.FormatUndefined, vk.SampleCount1Bit)
	}

	setShape := func(idx int, a Attachment) {
		attachments[idx].Format = a.format
		attachments[idx].Samples = a.samples
	}

	first := pass.execs[0]
	for slot, clear := range first.colorClears {
		setShape(int(slot), clear.attachment)
		attachments[slot].LoadOp = vk.AttachmentLoadOpClear
		attachments[slot].InitialLayout = vk.ImageLayoutColorAttachmentOptimal
	}
	for slot, loaded := range first.colorLoads {
		setShape(int(slot), loaded)
		attachments[slot].LoadOp = vk.AttachmentLoadOpLoad
		attachments[slot].InitialLayout = vk.ImageLayoutColorAttachmentOptimal
	}
	for slot, resolve := range first.colorResolves {
		setShape(int(slot), resolve.attachment)
		attachments[slot].InitialLayout = vk.ImageLayoutColorAttachmentOptimal
	}
	for slot, stored := range first.colorStores {
		setShape(int(slot), stored)
		attachments[slot].InitialLayout = vk.ImageLayoutColorAttachmentOptimal
	}
	if first.depthStencilClear != nil {
		setShape(depthStencilIdx, first.depthStencilClear.attachment)
		attachments[depthStencilIdx].LoadOp = vk.AttachmentLoadOpClear
		attachments[depthStencilIdx].StencilLoadOp = vk.AttachmentLoadOpClear
	}
	if first.depthStencilLoad != nil {
		loaded := *first.depthStencilLoad
		setShape(depthStencilIdx, loaded)
		attachments[depthStencilIdx].LoadOp = vk.AttachmentLoadOpLoad
		attachments[depthStencilIdx].StencilLoadOp = vk.AttachmentLoadOpLoad
		if first.depthStencilStore != nil {
			attachments[depthStencilIdx].InitialLayout = vk.ImageLayoutDepthStencilAttachmentOptimal
		} else {
			attachments[depthStencilIdx].InitialLayout = vk.ImageLayoutDepthStencilReadOnlyOptimal
		}
	}
	if first.depthStencilStore != nil {
		setShape(depthStencilIdx, *first.depthStencilStore)
		if attachments[depthStencilIdx].InitialLayout == vk.ImageLayoutUndefined {
			attachments[depthStencilIdx].InitialLayout = vk.ImageLayoutDepthStencilAttachmentOptimal
		}
	}

	last := pass.execs[len(pass.execs)-1]
	for slot := range last.colorResolves {
		attachments[slot].FinalLayout = vk.ImageLayoutColorAttachmentOptimal
	}
	for slot := range last.colorStores {
		attachments[slot].StoreOp = vk.AttachmentStoreOpStore
		attachments[slot].FinalLayout = vk.ImageLayoutColorAttachmentOptimal
	}
	if last.depthStencilStore != nil {
		attachments[depthStencilIdx].StoreOp = vk.AttachmentStoreOpStore
		attachments[depthStencilIdx].StencilStoreOp = vk.AttachmentStoreOpStore
		attachments[depthStencilIdx].FinalLayout = vk.ImageLayoutDepthStencilAttachmentOptimal
	}

	subpasses := make([]driver.SubpassInfo, 0, len(pass.execs))
	for execIdx, exec := range pass.execs {
		pipeline, ok := exec.pipeline.(*driver.GraphicsPipeline)
		if !ok {
			panic("graph: non-graphic execution merged into a render pass")
		}
		var subpass driver.SubpassInfo

		reflection := &pipeline.Reflection
		for _, db := range sortedDescriptorBindings(reflection) {
			info := reflection.DescriptorBindings[db]
			if info.Type != vk.DescriptorTypeInputAttachment {
				continue
			}
			slot := info.AttachmentIndex
			if _, cleared := exec.colorClears[slot]; cleared {
				panic(fmt.Sprintf("graph: color attachment %d is cleared but used as a subpass input", slot))
			}
			attachment, ok := exec.colorAttachment(slot)
			if !ok {
				panic(fmt.Sprintf("graph: subpass input attachment %d is not loaded, resolved or stored", slot))
			}
			_, resolved := exec.colorResolves[slot]
			_, stored := exec.colorStores[slot]
			randomAccess := resolved || stored
			subpass.InputAttachments = append(subpass.InputAttachments, driver.AttachmentRef{
				Attachment: slot,
				AspectMask: attachment.aspectMask,
				Layout:     attachmentLayout(attachment.aspectMask, randomAccess, true),
			})

			// The attachment must survive the subpasses between its writer
			// and this reader.
			for prevIdx := execIdx - 2; prevIdx >= 0; prevIdx-- {
				prev := pass.execs[prevIdx]
				_, prevResolved := prev.colorResolves[slot]
				_, prevStored := prev.colorStores[slot]
				if prevResolved || prevStored {
					break
				}
				subpasses[prevIdx].PreserveAttachments = append(subpasses[prevIdx].PreserveAttachments, slot)
			}
		}

		isInput := func(slot uint32) bool {
			for _, ref := range subpass.InputAttachments {
				if ref.Attachment == slot {
					return true
				}
			}
			return false
		}

		execColorCount := exec.colorAttachmentCount()
		for slot := uint32(0); slot < execColorCount; slot++ {
			subpass.ColorAttachments = append(subpass.ColorAttachments, driver.AttachmentRef{
				Attachment: slot,
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				Layout:     attachmentLayout(vk.ImageAspectFlags(vk.ImageAspectColorBit), true, isInput(slot)),
			})
		}

		if ds, ok := exec.depthStencil(); ok {
			randomAccess := exec.depthStencilStore != nil || exec.depthStencilClear != nil
			subpass.DepthStencilAttachment = &driver.AttachmentRef{
				Attachment: uint32(depthStencilIdx),
				AspectMask: ds.aspectMask,
				Layout:     attachmentLayout(ds.aspectMask, randomAccess, false),
			}
		}

		subpass.ResolveAttachments = make([]driver.AttachmentRef, execColorCount)
		for i := range subpass.ResolveAttachments {
			subpass.ResolveAttachments[i] = driver.AttachmentRef{
				Attachment: driver.AttachmentUnused,
				Layout:     vk.ImageLayoutUndefined,
			}
		}
		for slot, resolve := range exec.colorResolves {
			subpass.ResolveAttachments[slot] = driver.AttachmentRef{
				Attachment: slot,
				AspectMask: resolve.attachment.aspectMask,
				Layout:     attachmentLayout(resolve.attachment.aspectMask, true, isInput(slot)),
			}
		}

		subpasses = append(subpasses, subpass)
	}

	dependencies := r.subpassDependencies(passIdx)

	return p.LeaseRenderPass(driver.RenderPassInfo{
		Attachments:  attachments,
		Subpasses:    subpasses,
		Dependencies: dependencies,
	})
}

// framebufferStages are the stages whose dependencies may be scoped
// per-region within the framebuffer.
const framebufferStages = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit |
	vk.PipelineStageEarlyFragmentTestsBit |
	vk.PipelineStageLateFragmentTestsBit |
	vk.PipelineStageColorAttachmentOutputBit)

// subpassDependencies derives subpass ordering edges from declared accesses.
// For each access, earlier executions of the same pass satisfy the common
// stages first, then earlier passes of the graph satisfy more through an
// external dependency; stages nothing produced fall back to a top-of-pipe
// external edge.
func (r *Resolver) subpassDependencies(passIdx int) []driver.SubpassDependency {
	pass := r.graph.passes[passIdx]

	type edge struct {
		src uint32
		dst uint32
	}
	deps := map[edge]*driver.SubpassDependency{}
	edgeOf := func(src, dst uint32) *driver.SubpassDependency {
		key := edge{src, dst}
		dep, ok := deps[key]
		if !ok {
			dep = &driver.SubpassDependency{SrcSubpass: src, DstSubpass: dst}
			deps[key] = dep
		}
		return dep
	}

	for execIdx, exec := range pass.execs {
	accesses:
		for _, nodeIdx := range sortedAccessNodes(exec) {
			desc := driver.DescribeAccess(exec.firstAccess(nodeIdx).access)
			currStages, currAccess := desc.Stages, desc.Access

			for prevIdx := execIdx - 1; prevIdx >= 0; prevIdx-- {
				prev := pass.execs[prevIdx]
				if _, ok := prev.accesses[nodeIdx]; !ok {
					continue
				}
				prevDesc := driver.DescribeAccess(prev.lastAccess(nodeIdx).access)
				common := currStages & prevDesc.Stages
				if common == 0 {
					continue
				}

				dep := edgeOf(uint32(prevIdx), uint32(execIdx))
				dep.SrcStageMask |= common
				dep.SrcAccessMask |= prevDesc.Access
				dep.DstStageMask |= currStages
				dep.DstAccessMask |= currAccess
				if (prevDesc.Stages|currStages)&framebufferStages != 0 {
					dep.Flags |= vk.DependencyFlags(vk.DependencyByRegionBit)
				}

				currStages &^= common
				currAccess &^= prevDesc.Access
				if currStages == 0 {
					continue accesses
				}
			}

			for _, earlierPass := range r.dependentPasses(nodeIdx, passIdx) {
				execs := r.graph.passes[earlierPass].execs
				for i := len(execs) - 1; i >= 0; i-- {
					if _, ok := execs[i].accesses[nodeIdx]; !ok {
						continue
					}
					prevDesc := driver.DescribeAccess(execs[i].lastAccess(nodeIdx).access)
					common := currStages & prevDesc.Stages
					if common == 0 {
						continue
					}

					dep := edgeOf(driver.SubpassExternal, uint32(execIdx))
					dep.SrcStageMask |= common
					dep.SrcAccessMask |= prevDesc.Access
					dstStages := currStages
					if dstStages > vk.PipelineStageFlags(vk.PipelineStageAllGraphicsBit) {
						dstStages = vk.PipelineStageFlags(vk.PipelineStageAllGraphicsBit)
					}
					dep.DstStageMask |= dstStages
					dep.DstAccessMask |= currAccess
					if (prevDesc.Stages|currStages)&framebufferStages != 0 {
						dep.Flags |= vk.DependencyFlags(vk.DependencyByRegionBit)
					}

					currStages &^= common
					currAccess &^= prevDesc.Access
					if currStages == 0 {
						continue accesses
					}
				}
			}

			if currStages != 0 {
				dep := edgeOf(driver.SubpassExternal, uint32(execIdx))
				dep.SrcStageMask |= currStages
				dep.SrcAccessMask |= currAccess
				dep.DstStageMask |= vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
				dep.DstAccessMask = 0
			}
		}
	}

	keys := make([]edge, 0, len(deps))
	for key := range deps {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].src != keys[j].src {
			return keys[i].src < keys[j].src
		}
		return keys[i].dst < keys[j].dst
	})
	dependencies := make([]driver.SubpassDependency, 0, len(keys))
	for _, key := range keys {
		dependencies = append(dependencies, *deps[key])
	}
	return dependencies
}

// beginRenderPass creates a framebuffer over the pass's attached images and
// opens the render pass with the first execution's clear values.
func (r *Resolver) beginRenderPass(cb *pool.CommandBuffer, pass *Pass, physical *physicalPass, area vk.Rect2D) error {
	renderPass := physical.renderPass.Item()
	rpInfo := renderPass.Info()

	hasDepthStencil := false
	for _, exec := range pass.execs {
		if _, ok := exec.depthStencil(); ok {
			hasDepthStencil = true
			break
		}
	}

	attachmentOf := func(idx int) (Attachment, bool) {
		for _, exec := range pass.execs {
			if hasDepthStencil && idx == len(rpInfo.Attachments)-1 {
				if a, ok := exec.depthStencil(); ok {
					return a, true
				}
				continue
			}
			if a, ok := exec.colorAttachment(uint32(idx)); ok {
				return a, true
			}
		}
		return Attachment{}, false
	}

	views := make([]driver.ImageView, len(rpInfo.Attachments))
	var layers uint32 = 1
	for idx := range rpInfo.Attachments {
		attachment, ok := attachmentOf(idx)
		if !ok {
			panic("graph: render pass attachment never bound by any execution")
		}
		image := r.graph.bindings[attachment.target].driverImage()
		view, err := image.View(driver.ImageViewInfo{
			Type:            image.Info().Type,
			Format:          attachment.format,
			AspectMask:      attachment.aspectMask,
			MipLevelCount:   1,
			ArrayLayerCount: 1,
		})
		if err != nil {
			return err
		}
		views[idx] = view
	}

	framebuffer, err := renderPass.NewFramebuffer(driver.FramebufferInfo{
		Attachments: views,
		Width:       area.Extent.Width,
		Height:      area.Extent.Height,
		Layers:      layers,
	})
	if err != nil {
		return err
	}

	clearValues := make([]driver.ClearValue, len(rpInfo.Attachments))
	first := pass.execs[0]
	for slot, clear := range first.colorClears {
		clearValues[slot].Color = clear.value
	}
	if first.depthStencilClear != nil {
		clearValues[len(clearValues)-1].DepthStencil = first.depthStencilClear.value
	}

	cb.BeginRenderPass(renderPass, framebuffer, area, clearValues)
	return nil
}

// writeDescriptorSets fills the pass's freshly allocated descriptor sets:
// explicitly bound descriptors first, then the input attachments later
// subpasses read, which bind automatically to whatever the earlier subpass
// stored or resolved.
func (r *Resolver) writeDescriptorSets(device driver.Device, pass *Pass, physical *physicalPass) error {
	var writes []driver.WriteDescriptorSet

	for execIdx, exec := range pass.execs {
		if exec.pipeline == nil {
			continue
		}
		sets := physical.execDescriptorSets[execIdx]
		if len(sets) == 0 {
			continue
		}
		reflection := driver.PipelineReflectionOf(exec.pipeline)

		bindings := make([]driver.DescriptorBinding, 0, len(exec.bindings))
		for db := range exec.bindings {
			bindings = append(bindings, db)
		}
		sort.Slice(bindings, func(i, j int) bool {
			if bindings[i].Set != bindings[j].Set {
				return bindings[i].Set < bindings[j].Set
			}
			return bindings[i].Binding < bindings[j].Binding
		})

		for _, db := range bindings {
			bound := exec.bindings[db]
			info, ok := reflection.DescriptorBindings[db]
			if !ok {
				panic(fmt.Sprintf("graph: descriptor %d.%d bound in pass %q was not discovered through shader reflection",
					db.Set, db.Binding, pass.name))
			}

			node := &r.graph.bindings[bound.node]
			write := driver.WriteDescriptorSet{
				Set:     sets[db.Set],
				Binding: db.Binding,
				Type:    info.Type,
			}

			switch {
			case node.driverImage() != nil:
				image := node.driverImage()
				viewInfo := image.Info().DefaultViewInfo()
				if bound.imageView != nil {
					viewInfo = *bound.imageView
				}
				if viewInfo.AspectMask == 0 {
					viewInfo.AspectMask = driver.FormatAspectMask(image.Info().Format)
				}
				view, err := image.View(viewInfo)
				if err != nil {
					return err
				}
				write.Images = []driver.ImageDescriptor{{
					View:   view,
					Layout: descriptorImageLayout(info.Type, viewInfo.AspectMask),
				}}
			case node.driverBuffer() != nil:
				buffer := node.driverBuffer()
				offset, size := vk.DeviceSize(0), buffer.Info().Size
				if bound.buffer != nil {
					offset, size = bound.buffer.Offset, bound.buffer.Size
				}
				write.Buffers = []driver.BufferDescriptor{{
					Buffer: buffer,
					Offset: offset,
					Range:  size,
				}}
			case node.driverAccelerationStructure() != nil:
				write.AccelerationStructures = []driver.AccelerationStructure{
					node.driverAccelerationStructure(),
				}
			default:
				panic("graph: descriptor bound to an unbindable node")
			}

			writes = append(writes, write)
		}

		if execIdx > 0 && exec.isGraphic() {
			inputWrites, err := r.inputAttachmentWrites(pass, execIdx, sets)
			if err != nil {
				return err
			}
			writes = append(writes, inputWrites...)
		}
	}

	if len(writes) > 0 {
		device.UpdateDescriptorSets(writes)
	}
	return nil
}

// descriptorImageLayout picks the layout an image must be in for a given
// descriptor type.
func descriptorImageLayout(ty vk.DescriptorType, aspectMask vk.ImageAspectFlags) vk.ImageLayout {
	const depthStencil = vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)

	switch ty {
	case vk.DescriptorTypeStorageImage:
		return vk.ImageLayoutGeneral
	case vk.DescriptorTypeInputAttachment:
		panic("graph: input attachments are written automatically")
	default:
		if aspectMask&depthStencil != 0 {
			return vk.ImageLayoutDepthStencilReadOnlyOptimal
		}
		return vk.ImageLayoutShaderReadOnlyOptimal
	}
}

// inputAttachmentWrites binds each subpass input to the image the closest
// earlier execution stored or resolved into that attachment slot.
func (r *Resolver) inputAttachmentWrites(pass *Pass, execIdx int, sets []driver.DescriptorSet) ([]driver.WriteDescriptorSet, error) {
	exec := pass.execs[execIdx]
	reflection := driver.PipelineReflectionOf(exec.pipeline)

	var writes []driver.WriteDescriptorSet
	for _, db := range sortedDescriptorBindings(reflection) {
		info := reflection.DescriptorBindings[db]
		if info.Type != vk.DescriptorTypeInputAttachment {
			continue
		}
		slot := info.AttachmentIndex

		var attachment Attachment
		var writeExec *execution
		for prevIdx := execIdx - 1; prevIdx >= 0; prevIdx-- {
			prev := pass.execs[prevIdx]
			if a, ok := prev.colorStores[slot]; ok {
				attachment, writeExec = a, prev
				break
			}
			if resolve, ok := prev.colorResolves[slot]; ok {
				attachment, writeExec = resolve.attachment, prev
				break
			}
		}
		if writeExec == nil {
			panic(fmt.Sprintf("graph: subpass input attachment %d was never written", slot))
		}

		image := r.graph.bindings[attachment.target].driverImage()
		viewInfo := image.Info().DefaultViewInfo()
		if sub, ok := writeExec.lastAccess(attachment.target).subresource.(imageSubresource); ok {
			viewInfo = sub.view
		}
		viewInfo.Format = attachment.format
		viewInfo.AspectMask = attachment.aspectMask
		view, err := image.View(viewInfo)
		if err != nil {
			return nil, err
		}

		_, resolved := exec.colorResolves[slot]
		_, stored := exec.colorStores[slot]

		writes = append(writes, driver.WriteDescriptorSet{
			Set:     sets[db.Set],
			Binding: db.Binding,
			Type:    vk.DescriptorTypeInputAttachment,
			Images: []driver.ImageDescriptor{{
				View:   view,
				Layout: attachmentLayout(attachment.aspectMask, resolved || stored, true),
			}},
		})
	}

	return writes, nil
}
