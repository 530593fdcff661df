package driver

import (
	vk "github.com/vulkan-go/vulkan"
)

// SubpassExternal marks a dependency edge that crosses the render pass
// boundary, matching VK_SUBPASS_EXTERNAL.
const SubpassExternal = ^uint32(0)

// AttachmentUnused marks an unused slot in a resolve attachment list,
// matching VK_ATTACHMENT_UNUSED.
const AttachmentUnused = ^uint32(0)

// AttachmentInfo describes one attachment slot of a render pass: its pixel
// shape plus what happens to its contents at the pass boundaries.
type AttachmentInfo struct {
	Format         vk.Format
	Samples        vk.SampleCountFlagBits
	LoadOp         vk.AttachmentLoadOp
	StoreOp        vk.AttachmentStoreOp
	StencilLoadOp  vk.AttachmentLoadOp
	StencilStoreOp vk.AttachmentStoreOp
	InitialLayout  vk.ImageLayout
	FinalLayout    vk.ImageLayout
}

// NewAttachmentInfo returns an attachment that neither loads nor stores.
func NewAttachmentInfo(format vk.Format, samples vk.SampleCountFlagBits) AttachmentInfo {
	return AttachmentInfo{
		Format:         format,
		Samples:        samples,
		LoadOp:         vk.AttachmentLoadOpDontCare,
		StoreOp:        vk.AttachmentStoreOpDontCare,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutUndefined,
	}
}

// AttachmentRef points a subpass at an attachment slot in a given layout.
type AttachmentRef struct {
	Attachment uint32
	AspectMask vk.ImageAspectFlags
	Layout     vk.ImageLayout
}

// SubpassInfo lists the attachment roles of one subpass.
type SubpassInfo struct {
	ColorAttachments       []AttachmentRef
	InputAttachments       []AttachmentRef
	ResolveAttachments     []AttachmentRef
	DepthStencilAttachment *AttachmentRef
	PreserveAttachments    []uint32
}

// HasMultipleAttachments reports whether the subpass touches more than one
// attachment slot.
func (info *SubpassInfo) HasMultipleAttachments() bool {
	n := len(info.ColorAttachments)
	if info.DepthStencilAttachment != nil {
		n++
	}
	return n > 1
}

// SubpassDependency orders work between two subpasses, or between a subpass
// and work outside the render pass (SubpassExternal).
type SubpassDependency struct {
	SrcSubpass    uint32
	DstSubpass    uint32
	SrcStageMask  vk.PipelineStageFlags
	DstStageMask  vk.PipelineStageFlags
	SrcAccessMask vk.AccessFlags
	DstAccessMask vk.AccessFlags
	Flags         vk.DependencyFlags
}

// RenderPassInfo configures a hardware render pass and doubles as its pool
// key.
type RenderPassInfo struct {
	Attachments  []AttachmentInfo
	Subpasses    []SubpassInfo
	Dependencies []SubpassDependency
}

// FramebufferInfo binds concrete image views to a render pass's attachment
// slots.
type FramebufferInfo struct {
	Attachments []ImageView
	Width       uint32
	Height      uint32
	Layers      uint32
}

// DescriptorPoolInfo sizes a descriptor pool by descriptor-type histogram.
// Sizes must be sorted by type so equal configurations digest identically.
type DescriptorPoolInfo struct {
	MaxSets uint32
	Sizes   []vk.DescriptorPoolSize
}

// IsEmpty reports whether the pool would hold no descriptors at all.
func (info *DescriptorPoolInfo) IsEmpty() bool {
	for _, size := range info.Sizes {
		if size.DescriptorCount > 0 {
			return false
		}
	}
	return true
}
