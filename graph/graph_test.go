package graph

import (
	"errors"
	"slices"
	"testing"

	vk "github.com/vulkan-go/vulkan"

	"github.com/vkgraph/vkgraph/driver"
)

func TestCopyBufferRecordsTransferPass(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	src := g.BindBuffer(newTestBuffer(t, device, 64))
	dst := g.BindBuffer(newTestBuffer(t, device, 64))
	g.CopyBuffer(src, dst)

	r := g.Resolve()
	if err := r.Submit(p, 0); err != nil {
		t.Fatal(err)
	}

	want := []string{"barrier", "copyBuffer"}
	if !slices.Equal(device.events, want) {
		t.Errorf("events = %v, want %v", device.events, want)
	}
	if !r.IsResolved() {
		t.Error("graph not resolved after submit")
	}
	if len(device.submits) != 1 {
		t.Fatalf("submits = %d, want 1", len(device.submits))
	}

	barrier := device.barriers[0]
	if barrier.global == nil {
		t.Fatal("whole-node accesses should fold into a global barrier")
	}
	if !slices.Equal(barrier.global.PrevAccesses, []driver.AccessType{driver.AccessNone}) {
		t.Errorf("prev accesses = %v", barrier.global.PrevAccesses)
	}
	wantNext := []driver.AccessType{driver.AccessTransferRead, driver.AccessTransferWrite}
	if !slices.Equal(barrier.global.NextAccesses, wantNext) {
		t.Errorf("next accesses = %v, want %v", barrier.global.NextAccesses, wantNext)
	}
}

func TestRecordNodeSchedulesOnlyRequiredPasses(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	a := g.BindBuffer(newTestBuffer(t, device, 64))
	b := g.BindBuffer(newTestBuffer(t, device, 64))
	c := g.BindBuffer(newTestBuffer(t, device, 64))

	g.BeginPass("a").
		AccessNode(a, driver.AccessComputeShaderWrite).
		Record(func(Cmd, Bindings) { device.log("exec:a") }).
		SubmitPass()
	g.BeginPass("b").
		AccessNode(a, driver.AccessComputeShaderReadOther).
		AccessNode(b, driver.AccessComputeShaderWrite).
		Record(func(Cmd, Bindings) { device.log("exec:b") }).
		SubmitPass()
	g.BeginPass("c").
		AccessNode(c, driver.AccessComputeShaderWrite).
		Record(func(Cmd, Bindings) { device.log("exec:c") }).
		SubmitPass()

	r := g.Resolve()
	cb := leaseTestCommandBuffer(t, p)

	if err := r.RecordNode(p, cb, b); err != nil {
		t.Fatal(err)
	}
	want := []string{"barrier", "exec:a", "barrier", "exec:b"}
	if !slices.Equal(device.events, want) {
		t.Errorf("events = %v, want %v", device.events, want)
	}
	if r.IsResolved() {
		t.Error("unrelated pass should stay pending")
	}

	if err := r.RecordUnscheduledPasses(p, cb); err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(device.events, "exec:c") {
		t.Error("leftover pass was not recorded")
	}
	if !r.IsResolved() {
		t.Error("graph not resolved after recording leftovers")
	}
}

func TestRecordNodeDependenciesExcludesAccessingPasses(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	a := g.BindBuffer(newTestBuffer(t, device, 64))
	b := g.BindBuffer(newTestBuffer(t, device, 64))

	g.BeginPass("producer").
		AccessNode(a, driver.AccessComputeShaderWrite).
		Record(func(Cmd, Bindings) { device.log("exec:producer") }).
		SubmitPass()
	g.BeginPass("consumer").
		AccessNode(a, driver.AccessComputeShaderReadOther).
		AccessNode(b, driver.AccessComputeShaderWrite).
		Record(func(Cmd, Bindings) { device.log("exec:consumer") }).
		SubmitPass()

	r := g.Resolve()
	cb := leaseTestCommandBuffer(t, p)

	if err := r.RecordNodeDependencies(p, cb, b); err != nil {
		t.Fatal(err)
	}
	if len(device.events) != 0 {
		t.Errorf("events = %v, want none before the node's first access", device.events)
	}
	if len(r.graph.passes) != 2 {
		t.Errorf("pending passes = %d, want 2", len(r.graph.passes))
	}

	if err := r.RecordNode(p, cb, b); err != nil {
		t.Fatal(err)
	}
	want := []string{"barrier", "exec:producer", "barrier", "exec:consumer"}
	if !slices.Equal(device.events, want) {
		t.Errorf("events = %v, want %v", device.events, want)
	}
}

func TestReorderKeepsWritersBeforeReaders(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	a := g.BindBuffer(newTestBuffer(t, device, 64))
	b := g.BindBuffer(newTestBuffer(t, device, 64))
	c := g.BindBuffer(newTestBuffer(t, device, 64))

	g.BeginPass("writeA").
		AccessNode(a, driver.AccessComputeShaderWrite).
		Record(func(Cmd, Bindings) { device.log("exec:writeA") }).
		SubmitPass()
	g.BeginPass("writeB").
		AccessNode(b, driver.AccessComputeShaderWrite).
		Record(func(Cmd, Bindings) { device.log("exec:writeB") }).
		SubmitPass()
	g.BeginPass("gather").
		AccessNode(a, driver.AccessComputeShaderReadOther).
		AccessNode(b, driver.AccessComputeShaderReadOther).
		AccessNode(c, driver.AccessComputeShaderWrite).
		Record(func(Cmd, Bindings) { device.log("exec:gather") }).
		SubmitPass()

	r := g.Resolve()
	cb := leaseTestCommandBuffer(t, p)
	if err := r.RecordNode(p, cb, c); err != nil {
		t.Fatal(err)
	}

	var order []string
	for _, event := range device.events {
		if len(event) > 5 && event[:5] == "exec:" {
			order = append(order, event)
		}
	}
	if len(order) != 3 || order[2] != "exec:gather" {
		t.Errorf("execution order = %v, want both writers before the reader", order)
	}
	if !r.IsResolved() {
		t.Error("graph not resolved")
	}
}

func TestMergeStoredIntoLoaded(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	img := g.BindImage(newTestImage(t, device, vk.FormatR8g8b8a8Unorm, 8, 8))

	g.BeginPass("fill").
		BindPipeline(newGraphicsPipeline("fill")).
		StoreColor(0, img).
		Record(func(cmd Cmd, _ Bindings) { cmd.Draw(3, 1, 0, 0) }).
		SubmitPass()
	g.BeginPass("post").
		BindPipeline(newGraphicsPipeline("post")).
		LoadColor(0, img).
		StoreColor(0, img).
		Record(func(cmd Cmd, _ Bindings) { cmd.Draw(3, 1, 0, 0) }).
		SubmitPass()

	if err := g.Resolve().Submit(p, 0); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"barrier",
		"beginRenderPass",
		"bindPipeline:fill",
		"draw",
		"nextSubpass",
		"bindPipeline:post",
		"draw",
		"endRenderPass",
	}
	if !slices.Equal(device.events, want) {
		t.Errorf("events = %v, want %v", device.events, want)
	}

	info := device.renderPasses[0]
	if len(info.Subpasses) != 2 {
		t.Fatalf("subpasses = %d, want 2", len(info.Subpasses))
	}
	if len(info.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(info.Attachments))
	}

	found := false
	for _, dep := range info.Dependencies {
		if dep.SrcSubpass == 0 && dep.DstSubpass == 1 {
			found = true
			if dep.Flags&vk.DependencyFlags(vk.DependencyByRegionBit) == 0 {
				t.Error("attachment dependency between subpasses should be by-region")
			}
		}
	}
	if !found {
		t.Error("no dependency between the merged subpasses")
	}
}

func TestMergeRejectsIncompatibleAttachments(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	shared := g.BindImage(newTestImage(t, device, vk.FormatR8g8b8a8Unorm, 8, 8))
	aux8 := g.BindImage(newTestImage(t, device, vk.FormatR8g8b8a8Unorm, 8, 8))
	aux32 := g.BindImage(newTestImage(t, device, vk.FormatR32g32b32a32Sfloat, 8, 8))

	g.BeginPass("fill").
		BindPipeline(newGraphicsPipeline("fill")).
		StoreColor(0, shared).
		StoreColor(1, aux8).
		Record(func(cmd Cmd, _ Bindings) { cmd.Draw(3, 1, 0, 0) }).
		SubmitPass()
	g.BeginPass("post").
		BindPipeline(newGraphicsPipeline("post")).
		LoadColor(0, shared).
		StoreColor(0, shared).
		LoadColor(1, aux32).
		StoreColor(1, aux32).
		Record(func(cmd Cmd, _ Bindings) { cmd.Draw(3, 1, 0, 0) }).
		SubmitPass()

	if err := g.Resolve().Submit(p, 0); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"barrier", "beginRenderPass", "bindPipeline:fill", "draw", "endRenderPass",
		"barrier", "beginRenderPass", "bindPipeline:post", "draw", "endRenderPass",
	}
	if !slices.Equal(device.events, want) {
		t.Errorf("events = %v, want %v", device.events, want)
	}

	if len(device.renderPasses) != 2 {
		t.Fatalf("render passes = %d, want 2", len(device.renderPasses))
	}
	second := device.renderPasses[1]
	if len(second.Attachments) != 2 {
		t.Fatalf("second pass attachments = %d, want 2", len(second.Attachments))
	}
	if second.Attachments[0].Format != vk.FormatR8g8b8a8Unorm ||
		second.Attachments[1].Format != vk.FormatR32g32b32a32Sfloat {
		t.Errorf("second pass attachment formats = %v, %v",
			second.Attachments[0].Format, second.Attachments[1].Format)
	}
}

func TestDisjointAttachmentPassesStaySeparate(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	imgA := g.BindImage(newTestImage(t, device, vk.FormatR8g8b8a8Unorm, 8, 8))
	imgB := g.BindImage(newTestImage(t, device, vk.FormatR32g32b32a32Sfloat, 8, 8))

	g.BeginPass("a").
		BindPipeline(newGraphicsPipeline("a")).
		StoreColor(0, imgA).
		Record(func(cmd Cmd, _ Bindings) { cmd.Draw(3, 1, 0, 0) }).
		SubmitPass()
	g.BeginPass("b").
		BindPipeline(newGraphicsPipeline("b")).
		StoreColor(0, imgB).
		Record(func(cmd Cmd, _ Bindings) { cmd.Draw(3, 1, 0, 0) }).
		SubmitPass()

	if err := g.Resolve().Submit(p, 0); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"barrier", "beginRenderPass", "bindPipeline:a", "draw", "endRenderPass",
		"barrier", "beginRenderPass", "bindPipeline:b", "draw", "endRenderPass",
	}
	if !slices.Equal(device.events, want) {
		t.Errorf("events = %v, want %v", device.events, want)
	}
	if len(device.renderPasses) != 2 {
		t.Errorf("render passes = %d, want 2", len(device.renderPasses))
	}
}

func TestComputeAdjacentToGraphicDoesNotMerge(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	image := newTestImage(t, device, vk.FormatR8g8b8a8Unorm, 8, 8)
	img := g.BindImage(image)

	g.BeginPass("prepare").
		BindPipeline(newComputePipeline("prepare", nil)).
		AccessImage(img, driver.AccessComputeShaderWrite, image.Info().DefaultViewInfo()).
		Record(func(cmd Cmd, _ Bindings) { cmd.Dispatch(1, 1, 1) }).
		SubmitPass()
	g.BeginPass("draw").
		BindPipeline(newGraphicsPipeline("draw")).
		LoadColor(0, img).
		StoreColor(0, img).
		Record(func(cmd Cmd, _ Bindings) { cmd.Draw(3, 1, 0, 0) }).
		SubmitPass()

	if err := g.Resolve().Submit(p, 0); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"barrier", "bindPipeline:prepare", "dispatch",
		"barrier", "beginRenderPass", "bindPipeline:draw", "draw", "endRenderPass",
	}
	if !slices.Equal(device.events, want) {
		t.Errorf("events = %v, want %v", device.events, want)
	}
	if len(device.renderPasses) != 1 {
		t.Errorf("render passes = %d, want 1", len(device.renderPasses))
	}
}

func TestComputePassesDoNotMerge(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	buf := g.BindBuffer(newTestBuffer(t, device, 64))

	g.BeginPass("produce").
		BindPipeline(newComputePipeline("produce", nil)).
		WriteNode(buf).
		Record(func(cmd Cmd, _ Bindings) { cmd.Dispatch(1, 1, 1) }).
		SubmitPass()
	g.BeginPass("consume").
		BindPipeline(newComputePipeline("consume", nil)).
		ReadNode(buf).
		Record(func(cmd Cmd, _ Bindings) { cmd.Dispatch(1, 1, 1) }).
		SubmitPass()

	if err := g.Resolve().Submit(p, 0); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"barrier", "bindPipeline:produce", "dispatch",
		"barrier", "bindPipeline:consume", "dispatch",
	}
	if !slices.Equal(device.events, want) {
		t.Errorf("events = %v, want %v", device.events, want)
	}

	second := device.barriers[1]
	if second.global == nil {
		t.Fatal("expected a global barrier between the compute passes")
	}
	if !slices.Equal(second.global.PrevAccesses, []driver.AccessType{driver.AccessComputeShaderWrite}) {
		t.Errorf("prev accesses = %v", second.global.PrevAccesses)
	}
	if !slices.Equal(second.global.NextAccesses, []driver.AccessType{driver.AccessComputeShaderReadOther}) {
		t.Errorf("next accesses = %v", second.global.NextAccesses)
	}
}

func TestGraphicWriteThenComputeReadBarrier(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	image := newTestImage(t, device, vk.FormatR8g8b8a8Unorm, 8, 8)
	img := g.BindImage(image)

	g.BeginPass("draw").
		BindPipeline(newGraphicsPipeline("draw")).
		StoreColor(0, img).
		Record(func(cmd Cmd, _ Bindings) { cmd.Draw(3, 1, 0, 0) }).
		SubmitPass()
	g.BeginPass("sample").
		BindPipeline(newComputePipeline("sample", nil)).
		AccessImage(img, driver.AccessComputeShaderReadSampledImage, image.Info().DefaultViewInfo()).
		Record(func(cmd Cmd, _ Bindings) { cmd.Dispatch(1, 1, 1) }).
		SubmitPass()

	if err := g.Resolve().Submit(p, 0); err != nil {
		t.Fatal(err)
	}

	if len(device.barriers) != 2 {
		t.Fatalf("barriers = %d, want 2", len(device.barriers))
	}

	first := device.barriers[0].images
	if len(first) != 1 || !first[0].DiscardContents {
		t.Errorf("first use of the image should discard: %+v", first)
	}

	second := device.barriers[1].images
	if len(second) != 1 {
		t.Fatalf("image barriers before compute = %d, want 1", len(second))
	}
	ib := second[0]
	if ib.PrevAccess != driver.AccessColorAttachmentWrite || ib.NextAccess != driver.AccessComputeShaderReadSampledImage {
		t.Errorf("barrier accesses = %v -> %v", ib.PrevAccess, ib.NextAccess)
	}
	if ib.DiscardContents {
		t.Error("read after write must not discard")
	}
	prevLayout, nextLayout := ib.Layouts()
	if prevLayout != vk.ImageLayoutColorAttachmentOptimal || nextLayout != vk.ImageLayoutShaderReadOnlyOptimal {
		t.Errorf("layouts = %v -> %v", prevLayout, nextLayout)
	}
}

func TestRenderPassSynthesis(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	img := g.BindImage(newTestImage(t, device, vk.FormatR8g8b8a8Unorm, 16, 16))
	color := driver.ClearColorValue{1, 0, 0, 1}

	g.BeginPass("clear and draw").
		BindPipeline(newGraphicsPipeline("clear and draw")).
		ClearColorValue(0, img, color).
		StoreColor(0, img).
		Record(func(cmd Cmd, _ Bindings) { cmd.Draw(3, 1, 0, 0) }).
		SubmitPass()

	if err := g.Resolve().Submit(p, 0); err != nil {
		t.Fatal(err)
	}

	info := device.renderPasses[0]
	if len(info.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(info.Attachments))
	}
	a := info.Attachments[0]
	if a.Format != vk.FormatR8g8b8a8Unorm || a.Samples != vk.SampleCount1Bit {
		t.Errorf("attachment shape = %v %v", a.Format, a.Samples)
	}
	if a.LoadOp != vk.AttachmentLoadOpClear {
		t.Errorf("load op = %v, want CLEAR", a.LoadOp)
	}
	if a.StoreOp != vk.AttachmentStoreOpStore {
		t.Errorf("store op = %v, want STORE", a.StoreOp)
	}
	if a.InitialLayout != vk.ImageLayoutColorAttachmentOptimal || a.FinalLayout != vk.ImageLayoutColorAttachmentOptimal {
		t.Errorf("layouts = %v -> %v", a.InitialLayout, a.FinalLayout)
	}

	if len(info.Subpasses) != 1 || len(info.Subpasses[0].ColorAttachments) != 1 {
		t.Fatalf("subpasses = %+v", info.Subpasses)
	}
	ref := info.Subpasses[0].ColorAttachments[0]
	if ref.Attachment != 0 || ref.Layout != vk.ImageLayoutColorAttachmentOptimal {
		t.Errorf("color ref = %+v", ref)
	}

	if device.clearValues[0][0].Color != color {
		t.Errorf("clear value = %v, want %v", device.clearValues[0][0].Color, color)
	}
}

func TestDescriptorPoolSizingAndWrites(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	bufA := newTestBuffer(t, device, 64)
	bufB := newTestBuffer(t, device, 128)
	a := g.BindBuffer(bufA)
	b := g.BindBuffer(bufB)

	pipeline := newComputePipeline("reduce", map[driver.DescriptorBinding]driver.DescriptorInfo{
		{Set: 0, Binding: 0}: {Type: vk.DescriptorTypeStorageBuffer, Count: 1},
		{Set: 0, Binding: 1}: {Type: vk.DescriptorTypeStorageBuffer, Count: 1},
	})

	g.BeginPass("reduce").
		BindPipeline(pipeline).
		AccessDescriptor(0, 0, a, driver.AccessComputeShaderReadOther).
		AccessDescriptor(0, 1, b, driver.AccessComputeShaderWrite).
		Record(func(cmd Cmd, _ Bindings) { cmd.Dispatch(1, 1, 1) }).
		SubmitPass()

	if err := g.Resolve().Submit(p, 0); err != nil {
		t.Fatal(err)
	}

	if len(device.descriptorPools) != 1 {
		t.Fatalf("descriptor pools = %d, want 1", len(device.descriptorPools))
	}
	poolInfo := device.descriptorPools[0]
	if poolInfo.MaxSets != 1 {
		t.Errorf("max sets = %d, want 1", poolInfo.MaxSets)
	}
	wantSizes := []vk.DescriptorPoolSize{{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: 32}}
	if !slices.Equal(poolInfo.Sizes, wantSizes) {
		t.Errorf("sizes = %v, want %v", poolInfo.Sizes, wantSizes)
	}

	if len(device.writes) != 2 {
		t.Fatalf("descriptor writes = %d, want 2", len(device.writes))
	}
	if device.writes[0].Binding != 0 || device.writes[1].Binding != 1 {
		t.Errorf("writes out of (set, binding) order: %+v", device.writes)
	}
	if device.writes[0].Buffers[0].Buffer != bufA || device.writes[0].Buffers[0].Range != 64 {
		t.Errorf("write 0 = %+v", device.writes[0].Buffers)
	}
	if device.writes[1].Buffers[0].Buffer != bufB || device.writes[1].Buffers[0].Range != 128 {
		t.Errorf("write 1 = %+v", device.writes[1].Buffers)
	}

	if !slices.Contains(device.events, "bindDescriptorSets") {
		t.Error("descriptor sets were never bound")
	}
}

func TestNodePipelineStages(t *testing.T) {
	device, _ := newTestPool(t)
	g := New()

	used := g.BindBuffer(newTestBuffer(t, device, 64))
	unused := g.BindBuffer(newTestBuffer(t, device, 64))

	g.BeginPass("consume").
		BindPipeline(newComputePipeline("consume", nil)).
		ReadNode(used).
		Record(func(Cmd, Bindings) {}).
		SubmitPass()

	r := g.Resolve()
	if got := r.NodePipelineStages(used); got != vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit) {
		t.Errorf("stages = %v, want compute", got)
	}
	mustPanic(t, "node is not accessed by any pass", func() {
		r.NodePipelineStages(unused)
	})
}

func TestBindBufferIdentity(t *testing.T) {
	device, _ := newTestPool(t)
	g := New()

	buffer := newTestBuffer(t, device, 64)
	first := g.BindBuffer(buffer)
	second := g.BindBuffer(buffer)
	if first != second {
		t.Error("binding the same buffer twice should return the same node")
	}

	if got := g.UnbindBuffer(first); got != buffer {
		t.Error("unbind did not return the bound buffer")
	}
	mustPanic(t, "use of unbound node", func() {
		g.BufferInfo(first)
	})
}

func TestUnbindSwapchainImagePanicsOnPlainImage(t *testing.T) {
	device, _ := newTestPool(t)
	g := New()

	img := g.BindImage(newTestImage(t, device, vk.FormatR8g8b8a8Unorm, 8, 8))
	mustPanic(t, "node is not a swapchain image", func() {
		g.UnbindSwapchainImage(img)
	})
}

func TestIncompatibleAttachmentsPanic(t *testing.T) {
	device, _ := newTestPool(t)
	g := New()

	a := g.BindImage(newTestImage(t, device, vk.FormatR8g8b8a8Unorm, 8, 8))
	b := g.BindImage(newTestImage(t, device, vk.FormatR32g32b32a32Sfloat, 8, 8))

	r := g.BeginPass("mismatch").
		BindPipeline(newGraphicsPipeline("mismatch")).
		AttachColor(0, a)
	mustPanic(t, "incompatible attachments share a color slot", func() {
		r.LoadColor(0, b)
	})
}

func TestResolveDropsEmptyPasses(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	g.BeginPass("noop").SubmitPass()

	r := g.Resolve()
	if !r.IsResolved() {
		t.Error("pass without executions should be dropped at resolve")
	}
	if err := r.Submit(p, 0); err != nil {
		t.Fatal(err)
	}
	if len(device.events) != 0 {
		t.Errorf("events = %v, want none", device.events)
	}
	if len(device.submits) != 1 {
		t.Errorf("submits = %d, want 1", len(device.submits))
	}
}

func TestSubmitPassDropsUnrecordedExecutions(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	buf := g.BindBuffer(newTestBuffer(t, device, 64))

	g.BeginPass("fill").
		BindPipeline(newComputePipeline("abandoned", nil)).
		BindPipeline(newComputePipeline("used", nil)).
		WriteNode(buf).
		Record(func(cmd Cmd, _ Bindings) { cmd.Dispatch(1, 1, 1) }).
		SubmitPass()

	if err := g.Resolve().Submit(p, 0); err != nil {
		t.Fatal(err)
	}

	want := []string{"barrier", "bindPipeline:used", "dispatch"}
	if !slices.Equal(device.events, want) {
		t.Errorf("events = %v, want %v", device.events, want)
	}
}

func TestPushConstantsUseReflectedStages(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	buf := g.BindBuffer(newTestBuffer(t, device, 64))

	pipeline := newComputePipeline("fill", nil)
	pipeline.Reflection.PushConstants = []driver.PushConstantRange{{
		Stages: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		Size:   8,
	}}

	g.BeginPass("fill").
		BindPipeline(pipeline).
		WriteNode(buf).
		Record(func(cmd Cmd, _ Bindings) {
			cmd.PushConstants(PushData([]uint32{2, 3}))
			cmd.Dispatch(1, 1, 1)
		}).
		SubmitPass()

	if err := g.Resolve().Submit(p, 0); err != nil {
		t.Fatal(err)
	}

	want := []string{"barrier", "bindPipeline:fill", "pushConstants", "dispatch"}
	if !slices.Equal(device.events, want) {
		t.Errorf("events = %v, want %v", device.events, want)
	}

	if len(device.pushes) != 1 {
		t.Fatalf("push constant uploads = %d, want 1", len(device.pushes))
	}
	push := device.pushes[0]
	if push.stages != vk.ShaderStageFlags(vk.ShaderStageComputeBit) {
		t.Errorf("stages = %v, want compute", push.stages)
	}
	if push.offset != 0 {
		t.Errorf("offset = %d, want 0", push.offset)
	}
	if len(push.data) != 8 {
		t.Errorf("data bytes = %d, want 8", len(push.data))
	}
}

func TestFailedRecordReleasesLeases(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	image := newTestImage(t, device, vk.FormatR8g8b8a8Unorm, 8, 8).(*testImage)
	img := g.BindImage(image)

	pipeline := newComputePipeline("sample", map[driver.DescriptorBinding]driver.DescriptorInfo{
		{Set: 0, Binding: 0}: {Type: vk.DescriptorTypeCombinedImageSampler, Count: 1},
	})

	g.BeginPass("sample").
		BindPipeline(pipeline).
		AccessDescriptor(0, 0, img, driver.AccessComputeShaderReadSampledImage).
		Record(func(cmd Cmd, _ Bindings) { cmd.Dispatch(1, 1, 1) }).
		SubmitPass()

	r := g.Resolve()
	cb := leaseTestCommandBuffer(t, p)

	image.viewErr = errors.New("view creation failed")
	if err := r.RecordUnscheduledPasses(p, cb); !errors.Is(err, image.viewErr) {
		t.Fatalf("err = %v, want the injected view failure", err)
	}
	if len(r.physicalPasses) != 0 {
		t.Errorf("leases held after a failed record = %d, want 0", len(r.physicalPasses))
	}
	if r.IsResolved() {
		t.Error("the failed pass should remain pending")
	}
	if len(device.descriptorPools) != 1 {
		t.Fatalf("descriptor pools created = %d, want 1", len(device.descriptorPools))
	}

	image.viewErr = nil
	if err := r.RecordUnscheduledPasses(p, cb); err != nil {
		t.Fatal(err)
	}
	if !r.IsResolved() {
		t.Error("retry should record the remaining pass")
	}
	if len(device.descriptorPools) != 1 {
		t.Errorf("retry created %d descriptor pools, want the released one reused", len(device.descriptorPools))
	}
}

func TestSwapchainSemaphores(t *testing.T) {
	device, p := newTestPool(t)
	g := New()

	acquired := new(int)
	rendered := new(int)
	img := g.BindSwapchainImage(SwapchainImage{
		Image:    newTestImage(t, device, vk.FormatR8g8b8a8Unorm, 8, 8),
		Acquired: acquired,
		Rendered: rendered,
	})

	g.BeginPass("present").
		BindPipeline(newGraphicsPipeline("present")).
		ClearColor(0, img).
		StoreColor(0, img).
		Record(func(cmd Cmd, _ Bindings) { cmd.Draw(3, 1, 0, 0) }).
		SubmitPass()

	if err := g.Resolve().Submit(p, 0); err != nil {
		t.Fatal(err)
	}

	submit := device.submits[0]
	if len(submit.WaitSemaphores) != 1 || submit.WaitSemaphores[0] != driver.Semaphore(acquired) {
		t.Errorf("wait semaphores = %v", submit.WaitSemaphores)
	}
	wantStages := []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)}
	if !slices.Equal(submit.WaitStages, wantStages) {
		t.Errorf("wait stages = %v, want %v", submit.WaitStages, wantStages)
	}
	if len(submit.SignalSemaphores) != 1 || submit.SignalSemaphores[0] != driver.Semaphore(rendered) {
		t.Errorf("signal semaphores = %v", submit.SignalSemaphores)
	}
}
