package graph

import (
	"log/slog"
	"sort"
	"strings"

	vk "github.com/vulkan-go/vulkan"

	"github.com/vkgraph/vkgraph/driver"
	"github.com/vkgraph/vkgraph/pool"
)

// Pool supplies the transient objects a resolve needs. *pool.HashPool
// satisfies it.
type Pool interface {
	Device() driver.Device
	LeaseCommandBuffer(queueFamilyIndex uint32) (*pool.Lease[*pool.CommandBuffer], error)
	LeaseDescriptorPool(info driver.DescriptorPoolInfo) (*pool.Lease[driver.DescriptorPool], error)
	LeaseRenderPass(info driver.RenderPassInfo) (*pool.Lease[driver.RenderPass], error)
}

// Resolver compiles a recorded graph into driver commands. Passes may be
// recorded in several steps (dependencies of a node first, everything else
// later); each step schedules, reorders and merges only the passes it covers
// and removes them from the graph.
type Resolver struct {
	graph          *Graph
	physicalPasses []*physicalPass
}

// physicalPass holds the leased objects of one scheduled pass.
type physicalPass struct {
	descriptorPool     *pool.Lease[driver.DescriptorPool]
	execDescriptorSets map[int][]driver.DescriptorSet
	renderPass         *pool.Lease[driver.RenderPass]
}

// Release returns the leased objects to their pool. Called through the
// command buffer's fenced-drop list once the GPU is done with them.
func (p *physicalPass) Release() {
	if p.descriptorPool != nil {
		p.descriptorPool.Release()
	}
	if p.renderPass != nil {
		p.renderPass.Release()
	}
}

// releasePhysicalPasses returns every leased object to its pool and empties
// the slice. A failed record step must not carry leases into a later one;
// the graph keeps its passes and the retry leases afresh.
func (r *Resolver) releasePhysicalPasses() {
	for _, physical := range r.physicalPasses {
		physical.Release()
	}
	r.physicalPasses = r.physicalPasses[:0]
}

// IsResolved reports whether every recorded pass has been submitted. A
// resolved graph holds no pending work.
func (r *Resolver) IsResolved() bool {
	return len(r.graph.passes) == 0
}

// Release returns every pooled binding to its pool. Called through the
// fenced-drop list after the final submission completes.
func (r *Resolver) Release() {
	for idx := range r.graph.bindings {
		b := &r.graph.bindings[idx]
		if b.lease != nil {
			b.lease.Release()
			b.lease = nil
		}
	}
}

// UnbindBuffer removes the node from the graph and returns its buffer.
func (r *Resolver) UnbindBuffer(node BufferNode) driver.Buffer {
	return r.graph.UnbindBuffer(node)
}

// UnbindImage removes the node from the graph and returns its image.
func (r *Resolver) UnbindImage(node ImageNode) driver.Image {
	return r.graph.UnbindImage(node)
}

// UnbindAccelerationStructure removes the node from the graph and returns
// its acceleration structure.
func (r *Resolver) UnbindAccelerationStructure(node AccelerationStructureNode) driver.AccelerationStructure {
	return r.graph.UnbindAccelerationStructure(node)
}

// UnbindSwapchainImage removes the node from the graph and returns the
// swapchain image with its semaphores.
func (r *Resolver) UnbindSwapchainImage(node ImageNode) SwapchainImage {
	return r.graph.UnbindSwapchainImage(node)
}

// NodePipelineStages returns the union of pipeline stages of every pass that
// accesses the node. It must be queried before the passes are recorded.
func (r *Resolver) NodePipelineStages(node Node) vk.PipelineStageFlags {
	nodeIdx := node.index()
	var stages vk.PipelineStageFlags

passes:
	for _, pass := range r.graph.passes {
		for _, exec := range pass.execs {
			if _, ok := exec.accesses[nodeIdx]; !ok {
				continue
			}
			for _, e := range pass.execs {
				if e.pipeline != nil {
					stages |= driver.PipelineStagesOf(e.pipeline)
				}
			}
			if stages == 0 {
				stages = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
			}
			continue passes
		}
	}
	if stages == 0 {
		panic("graph: node is not accessed by any pass")
	}
	return stages
}

// sortedAccessNodes returns the node indices of an execution's accesses in
// ascending order. Map iteration order must not leak into schedules or
// barriers.
func sortedAccessNodes(e *execution) []int {
	nodes := make([]int, 0, len(e.accesses))
	for nodeIdx := range e.accesses {
		nodes = append(nodes, nodeIdx)
	}
	sort.Ints(nodes)
	return nodes
}

// dependentPasses returns the indices of passes in [0, end) that access the
// node, in reverse order.
func (r *Resolver) dependentPasses(nodeIdx, end int) []int {
	var passes []int
	for passIdx := end - 1; passIdx >= 0; passIdx-- {
		for _, exec := range r.graph.passes[passIdx].execs {
			if _, ok := exec.accesses[nodeIdx]; ok {
				passes = append(passes, passIdx)
				break
			}
		}
	}
	return passes
}

// dependentNodes returns the unique node indices a pass reads.
func (r *Resolver) dependentNodes(passIdx int) []int {
	seen := map[int]struct{}{}
	var nodes []int
	for _, exec := range r.graph.passes[passIdx].execs {
		for _, nodeIdx := range sortedAccessNodes(exec) {
			if _, ok := seen[nodeIdx]; ok {
				continue
			}
			if driver.IsReadAccess(exec.firstAccess(nodeIdx).access) {
				seen[nodeIdx] = struct{}{}
				nodes = append(nodes, nodeIdx)
			}
		}
	}
	return nodes
}

// interdependentPasses returns the unique passes in [0, end) that share a
// node this pass reads, excluding the pass itself.
func (r *Resolver) interdependentPasses(passIdx, end int) []int {
	seen := map[int]struct{}{passIdx: {}}
	var passes []int
	for _, nodeIdx := range r.dependentNodes(passIdx) {
		for _, other := range r.dependentPasses(nodeIdx, end) {
			if _, ok := seen[other]; !ok {
				seen[other] = struct{}{}
				passes = append(passes, other)
			}
		}
	}
	return passes
}

// scheduleNodePasses returns the pass indices required to resolve the node,
// in execution order. Passes in [0, end) that nothing in the schedule
// depends on are left for a later resolve step.
func (r *Resolver) scheduleNodePasses(nodeIdx, end int) []int {
	var schedule []int
	unscheduled := map[int]struct{}{}
	for passIdx := 0; passIdx < end; passIdx++ {
		unscheduled[passIdx] = struct{}{}
	}

	type pending struct {
		nodeIdx int
		end     int
	}
	var unresolved []pending

	for _, passIdx := range r.dependentPasses(nodeIdx, end) {
		schedule = append(schedule, passIdx)
		delete(unscheduled, passIdx)
		for _, dep := range r.dependentNodes(passIdx) {
			unresolved = append(unresolved, pending{dep, passIdx})
		}
	}

	for len(unresolved) > 0 {
		next := unresolved[0]
		unresolved = unresolved[1:]
		for _, passIdx := range r.dependentPasses(next.nodeIdx, next.end) {
			if _, ok := unscheduled[passIdx]; !ok {
				continue
			}
			delete(unscheduled, passIdx)
			schedule = append(schedule, passIdx)
			for _, dep := range r.dependentNodes(passIdx) {
				unresolved = append(unresolved, pending{dep, passIdx})
			}
		}
	}

	for i, j := 0, len(schedule)-1; i < j; i, j = i+1, j-1 {
		schedule[i], schedule[j] = schedule[j], schedule[i]
	}

	if len(schedule) > 0 {
		names := make([]string, len(schedule))
		for i, passIdx := range schedule {
			names[i] = r.graph.passes[passIdx].name
		}
		slog.Debug("scheduled passes", "node", nodeIdx, "passes", names)
	}

	return schedule
}

// reorderScheduledPasses greedily reorders the schedule so that passes with
// the most interdependencies run as early as possible, keeping dependent
// work apart. A candidate whose interdependent passes include unfinished
// work cannot move forward.
func (r *Resolver) reorderScheduledPasses(schedule []int, end int) {
	if len(schedule) < 3 {
		return
	}

	unscheduled := map[int]struct{}{}
	for _, passIdx := range schedule {
		unscheduled[passIdx] = struct{}{}
	}

	for scheduled := 0; scheduled < len(schedule); scheduled++ {
		bestIdx := scheduled
		bestFactor := len(r.interdependentPasses(schedule[bestIdx], end))

		for idx := scheduled + 1; idx < len(schedule); idx++ {
			interdependent := r.interdependentPasses(schedule[idx], end)
			if len(interdependent) <= bestFactor {
				continue
			}
			blocked := false
			for _, other := range interdependent {
				if _, ok := unscheduled[other]; ok {
					blocked = true
					break
				}
			}
			if blocked {
				continue
			}
			bestIdx = idx
			bestFactor = len(interdependent)
		}

		delete(unscheduled, schedule[bestIdx])
		schedule[scheduled], schedule[bestIdx] = schedule[bestIdx], schedule[scheduled]
	}
}

// allowMergePasses reports whether rhs may merge into lhs as additional
// subpasses: both graphic with identical rasterization state, every slot lhs
// stores or resolves compatible with what rhs's first execution loads there,
// and either a stored or resolved image of lhs is loaded by rhs's first
// execution, or rhs declares subpass inputs.
func allowMergePasses(lhs, rhs *Pass) bool {
	lhsPipeline, lhsGraphic := lhs.execs[0].pipeline.(*driver.GraphicsPipeline)
	rhsPipeline, rhsGraphic := rhs.execs[0].pipeline.(*driver.GraphicsPipeline)
	if !lhsGraphic || !rhsGraphic {
		return false
	}
	if lhsPipeline.Raster != rhsPipeline.Raster {
		return false
	}

	rhsFirst := rhs.execs[0]
	rhsLoaded := rhsFirst.loadedImages()
	for i := len(lhs.execs) - 1; i >= 0; i-- {
		exec := lhs.execs[i]
		if !exec.compatibleWithLoads(rhsFirst) {
			return false
		}
		written := exec.writtenColorImages()
		for nodeIdx := range rhsLoaded {
			if _, ok := written[nodeIdx]; ok {
				return true
			}
		}
	}

	return len(driver.InputAttachmentBindings(rhsPipeline)) > 0
}

// mergeScheduledPasses merges contiguous runs of mergeable scheduled passes.
// Scheduled pass order is final here, so only adjacent passes combine. On
// return the merged passes occupy graph.passes[0:len(schedule)] and the
// schedule indexes them directly; unscheduled passes follow in their
// original relative order.
func (r *Resolver) mergeScheduledPasses(schedule []int) []int {
	taken := make([]*Pass, len(r.graph.passes))
	copy(taken, r.graph.passes)
	merged := r.graph.passes[:0]

	for idx := 0; idx < len(schedule); {
		pass := taken[schedule[idx]]
		taken[schedule[idx]] = nil

		end := idx + 1
		for end < len(schedule) && allowMergePasses(pass, taken[schedule[end]]) {
			other := taken[schedule[end]]
			taken[schedule[end]] = nil
			pass.name = pass.name + " + " + other.name
			pass.execs = append(pass.execs, other.execs...)
			end++
		}
		if end > idx+1 {
			slog.Debug("merged passes", "pass", truncateName(pass.name), "subpasses", len(pass.execs))
		}

		merged = append(merged, pass)
		idx = end
	}

	schedule = schedule[:len(merged)]
	for i := range schedule {
		schedule[i] = i
	}

	for _, pass := range taken {
		if pass != nil {
			merged = append(merged, pass)
		}
	}
	r.graph.passes = merged

	return schedule
}

// recordExecutionBarriers issues the barriers one execution needs before it
// runs. Accesses with a declared subrange become buffer or image barriers;
// the rest fold into one global barrier with deduplicated access lists.
func (r *Resolver) recordExecutionBarriers(cb driver.CommandBuffer, pass *Pass, execIdx int) {
	exec := pass.execs[execIdx]

	var global *driver.GlobalBarrier
	var buffers []driver.BufferBarrier
	var images []driver.ImageBarrier

	for _, nodeIdx := range sortedAccessNodes(exec) {
		b := &r.graph.bindings[nodeIdx]
		next := exec.firstAccess(nodeIdx).access
		prev := b.access(exec.lastAccess(nodeIdx).access)

		switch sub := exec.firstAccess(nodeIdx).subresource.(type) {
		case bufferSubresource:
			buffers = append(buffers, driver.BufferBarrier{
				PrevAccess: prev,
				NextAccess: next,
				Buffer:     b.driverBuffer(),
				Offset:     sub.Offset,
				Size:       sub.Size,
			})
		case imageSubresource:
			images = append(images, driver.ImageBarrier{
				PrevAccess:      prev,
				NextAccess:      next,
				Image:           b.driverImage(),
				Range:           sub.view.SubresourceRange(),
				DiscardContents: prev == driver.AccessNone || driver.IsWriteAccess(next),
			})
		default:
			if global == nil {
				global = &driver.GlobalBarrier{}
			}
			global.PrevAccesses = appendUniqueAccess(global.PrevAccesses, prev)
			global.NextAccesses = appendUniqueAccess(global.NextAccesses, next)
		}
	}

	if global == nil && len(buffers) == 0 && len(images) == 0 {
		return
	}
	cb.PipelineBarrier(global, buffers, images)
}

func appendUniqueAccess(list []driver.AccessType, access driver.AccessType) []driver.AccessType {
	for _, a := range list {
		if a == access {
			return list
		}
	}
	return append(list, access)
}

// renderArea returns the pass's explicit render area, or one derived from
// the extent of its first attachment.
func (r *Resolver) renderArea(pass *Pass) vk.Rect2D {
	if pass.renderArea != nil {
		return *pass.renderArea
	}

	first := pass.execs[0]
	for slot := uint32(0); slot < first.colorAttachmentCount(); slot++ {
		if attachment, ok := first.colorAttachment(slot); ok {
			info := r.graph.bindings[attachment.target].driverImage().Info()
			return vk.Rect2D{Extent: vk.Extent2D{Width: info.Width, Height: info.Height}}
		}
	}
	if attachment, ok := first.depthStencil(); ok {
		info := r.graph.bindings[attachment.target].driverImage().Info()
		return vk.Rect2D{Extent: vk.Extent2D{Width: info.Width, Height: info.Height}}
	}

	panic("graph: render pass has no attachments to derive a render area from")
}

// RecordNodeDependencies records the pending passes the node requires,
// stopping short of the first pass that accesses the node itself.
func (r *Resolver) RecordNodeDependencies(p Pool, cb *pool.CommandBuffer, node Node) error {
	r.graph.binding(node)
	end := r.graph.firstNodeAccessPassIndex(node.index())
	return r.recordNodePasses(p, cb, node.index(), end)
}

// RecordNode records every pending pass the node requires, including the
// passes that access it.
func (r *Resolver) RecordNode(p Pool, cb *pool.CommandBuffer, node Node) error {
	r.graph.binding(node)
	return r.recordNodePasses(p, cb, node.index(), len(r.graph.passes))
}

func (r *Resolver) recordNodePasses(p Pool, cb *pool.CommandBuffer, nodeIdx, end int) error {
	schedule := r.scheduleNodePasses(nodeIdx, end)
	return r.recordScheduledPasses(p, cb, schedule, end)
}

// RecordUnscheduledPasses records every pass no prior step scheduled, in
// recording order.
func (r *Resolver) RecordUnscheduledPasses(p Pool, cb *pool.CommandBuffer) error {
	if len(r.graph.passes) == 0 {
		return nil
	}
	schedule := make([]int, len(r.graph.passes))
	for i := range schedule {
		schedule[i] = i
	}
	return r.recordScheduledPasses(p, cb, schedule, len(r.graph.passes))
}

func (r *Resolver) recordScheduledPasses(p Pool, cb *pool.CommandBuffer, schedule []int, end int) error {
	if end == 0 || len(schedule) == 0 {
		return nil
	}

	r.reorderScheduledPasses(schedule, end)
	schedule = r.mergeScheduledPasses(schedule)
	if err := r.leaseScheduledResources(p, schedule); err != nil {
		r.releasePhysicalPasses()
		return err
	}

	for _, passIdx := range schedule {
		pass := r.graph.passes[passIdx]
		physical := r.physicalPasses[passIdx]
		isGraphic := physical.renderPass != nil

		slog.Debug("recording pass", "pass", truncateName(pass.name), "graphic", isGraphic)

		if len(physical.execDescriptorSets) > 0 {
			if err := r.writeDescriptorSets(p.Device(), pass, physical); err != nil {
				r.releasePhysicalPasses()
				return err
			}
		}

		r.recordExecutionBarriers(cb, pass, 0)

		var area vk.Rect2D
		if isGraphic {
			area = r.renderArea(pass)
			if err := r.beginRenderPass(cb, pass, physical, area); err != nil {
				r.releasePhysicalPasses()
				return err
			}
		}

		for execIdx, exec := range pass.execs {
			if isGraphic && execIdx > 0 {
				cb.NextSubpass()
			}

			if exec.pipeline != nil {
				cb.BindPipeline(exec.pipeline)

				if isGraphic && pass.renderArea == nil {
					minDepth, maxDepth := float32(0), float32(1)
					if pass.hasDepthMode {
						minDepth, maxDepth = pass.depthBounds[0], pass.depthBounds[1]
					}
					cb.SetViewport(vk.Viewport{
						Width:    float32(area.Extent.Width),
						Height:   float32(area.Extent.Height),
						MinDepth: minDepth,
						MaxDepth: maxDepth,
					})
					cb.SetScissor(vk.Rect2D{Extent: area.Extent})
				}

				if sets := physical.execDescriptorSets[execIdx]; len(sets) > 0 {
					reflection := driver.PipelineReflectionOf(exec.pipeline)
					cb.BindDescriptorSets(driver.PipelineBindPointOf(exec.pipeline),
						reflection.Layout, 0, sets)
				}
			}

			if execIdx > 0 && !isGraphic {
				r.recordExecutionBarriers(cb, pass, execIdx)
			}

			exec.record(
				Cmd{cb: cb.CommandBuffer, pipeline: exec.pipeline},
				Bindings{graph: r.graph, exec: exec},
			)
		}

		if isGraphic {
			cb.EndRenderPass()
		}
	}

	// Scheduled passes and their leased objects stay alive until the fence
	// signals; unscheduled passes return to the graph in order.
	for _, physical := range r.physicalPasses {
		cb.PushFencedDrop(physical)
	}
	r.physicalPasses = r.physicalPasses[:0]
	r.graph.passes = r.graph.passes[len(schedule):]

	return nil
}

// Submit records every remaining pass into a pooled command buffer and
// submits it on the given queue family. Swapchain images bound to the graph
// contribute their acquire semaphores as waits and their render semaphores
// as signals. The resolver must not be used afterwards; its pooled bindings
// return to the pool once the submission's fence signals.
func (r *Resolver) Submit(p Pool, queueFamilyIndex uint32) error {
	lease, err := p.LeaseCommandBuffer(queueFamilyIndex)
	if err != nil {
		return err
	}
	cb := lease.Item()

	if err := pool.WaitForFence(cb.Fence()); err != nil {
		lease.Release()
		return err
	}
	if err := cb.Reset(); err != nil {
		lease.Release()
		return err
	}
	if err := cb.Begin(); err != nil {
		lease.Release()
		return err
	}

	if err := r.RecordUnscheduledPasses(p, cb); err != nil {
		lease.Release()
		return err
	}

	if err := cb.End(); err != nil {
		lease.Release()
		return err
	}
	if err := cb.Fence().Reset(); err != nil {
		lease.Release()
		return err
	}

	var waits []driver.Semaphore
	var waitStages []vk.PipelineStageFlags
	var signals []driver.Semaphore
	for idx := range r.graph.bindings {
		b := &r.graph.bindings[idx]
		if !b.bound || b.kind != bindingSwapchainImage {
			continue
		}
		if b.swapchain.Acquired != nil {
			waits = append(waits, b.swapchain.Acquired)
			waitStages = append(waitStages, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
		}
		if b.swapchain.Rendered != nil {
			signals = append(signals, b.swapchain.Rendered)
		}
	}

	err = p.Device().Submit(driver.SubmitInfo{
		CommandBuffer:    cb.CommandBuffer,
		QueueFamilyIndex: queueFamilyIndex,
		WaitSemaphores:   waits,
		WaitStages:       waitStages,
		SignalSemaphores: signals,
	})
	if err != nil {
		lease.Release()
		return err
	}

	cb.PushFencedDrop(r)
	lease.Release()
	return nil
}

// name joins for merged passes may grow long; keep slog lines bounded.
func truncateName(name string) string {
	const max = 120
	if len(name) <= max {
		return name
	}
	return strings.TrimSpace(name[:max]) + "..."
}
