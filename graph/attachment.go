package graph

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/vkgraph/vkgraph/driver"
)

// Attachment records what one attachment slot of an execution is bound to:
// the owning node plus the pixel shape the slot is viewed as.
type Attachment struct {
	target     int
	aspectMask vk.ImageAspectFlags
	format     vk.Format
	samples    vk.SampleCountFlagBits
}

func newAttachment(target int, view driver.ImageViewInfo, samples vk.SampleCountFlagBits) Attachment {
	return Attachment{
		target:     target,
		aspectMask: view.AspectMask,
		format:     view.Format,
		samples:    samples,
	}
}

// attachmentsCompatible reports whether two attachment descriptions may
// share a slot across merged subpasses: format and sample count must match
// exactly, or one side must be absent.
func attachmentsCompatible(lhs, rhs *Attachment) bool {
	if lhs == nil || rhs == nil {
		return true
	}
	return lhs.format == rhs.format && lhs.samples == rhs.samples
}

// clearAttachment is a color attachment cleared on entry.
type clearAttachment struct {
	attachment Attachment
	value      driver.ClearColorValue
}

// resolveAttachment resolves multisampled color into the slot it is keyed
// under, sourced from srcSlot.
type resolveAttachment struct {
	attachment Attachment
	srcSlot    uint32
}

// clearDepthStencil is a depth/stencil attachment cleared on entry.
type clearDepthStencil struct {
	attachment Attachment
	value      driver.ClearDepthStencilValue
}

// colorAttachment returns the attachment bound to a slot through any of this
// execution's declarations.
func (e *execution) colorAttachment(slot uint32) (Attachment, bool) {
	if a, ok := e.colorAttachments[slot]; ok {
		return a, true
	}
	if c, ok := e.colorClears[slot]; ok {
		return c.attachment, true
	}
	if a, ok := e.colorLoads[slot]; ok {
		return a, true
	}
	if r, ok := e.colorResolves[slot]; ok {
		return r.attachment, true
	}
	if a, ok := e.colorStores[slot]; ok {
		return a, true
	}
	return Attachment{}, false
}

// colorAttachmentCount returns one past the highest declared color slot.
func (e *execution) colorAttachmentCount() uint32 {
	var n uint32
	bump := func(slot uint32) {
		if slot+1 > n {
			n = slot + 1
		}
	}
	for slot := range e.colorAttachments {
		bump(slot)
	}
	for slot := range e.colorClears {
		bump(slot)
	}
	for slot := range e.colorLoads {
		bump(slot)
	}
	for slot := range e.colorResolves {
		bump(slot)
	}
	for slot := range e.colorStores {
		bump(slot)
	}
	return n
}

// depthStencil returns the attachment bound to the depth/stencil slot.
func (e *execution) depthStencil() (Attachment, bool) {
	if e.depthStencilAttachment != nil {
		return *e.depthStencilAttachment, true
	}
	if e.depthStencilClear != nil {
		return e.depthStencilClear.attachment, true
	}
	if e.depthStencilLoad != nil {
		return *e.depthStencilLoad, true
	}
	if e.depthStencilStore != nil {
		return *e.depthStencilStore, true
	}
	return Attachment{}, false
}

// compatibleWithLoads reports whether every attachment this execution stores
// or resolves shares a compatible description with whatever the other
// execution loads at the same slot. Slots only one side touches pass.
func (e *execution) compatibleWithLoads(other *execution) bool {
	for slot, load := range other.colorLoads {
		if store, ok := e.colorStores[slot]; ok && !attachmentsCompatible(&store, &load) {
			return false
		}
		if res, ok := e.colorResolves[slot]; ok && !attachmentsCompatible(&res.attachment, &load) {
			return false
		}
	}
	if other.depthStencilLoad != nil && e.depthStencilStore != nil &&
		!attachmentsCompatible(e.depthStencilStore, other.depthStencilLoad) {
		return false
	}
	return true
}

// writesColor reports whether this execution leaves slot's contents written
// on tile (cleared, stored or resolved into).
func (e *execution) writesColor(slot uint32) bool {
	if _, ok := e.colorClears[slot]; ok {
		return true
	}
	if _, ok := e.colorStores[slot]; ok {
		return true
	}
	_, ok := e.colorResolves[slot]
	return ok
}

// writtenColorImages returns the node indices of images this execution
// stores or resolves.
func (e *execution) writtenColorImages() map[int]struct{} {
	images := map[int]struct{}{}
	for _, a := range e.colorStores {
		images[a.target] = struct{}{}
	}
	for _, r := range e.colorResolves {
		images[r.attachment.target] = struct{}{}
	}
	return images
}

// loadedImages returns the node indices of images this execution loads.
func (e *execution) loadedImages() map[int]struct{} {
	images := map[int]struct{}{}
	for _, a := range e.colorLoads {
		images[a.target] = struct{}{}
	}
	if e.depthStencilLoad != nil {
		images[e.depthStencilLoad.target] = struct{}{}
	}
	return images
}

// attachmentLayout picks an attachment reference layout per the Vulkan
// attachment/layout compatibility rules.
func attachmentLayout(aspectMask vk.ImageAspectFlags, randomAccess, input bool) vk.ImageLayout {
	const depthStencil = vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)

	switch {
	case aspectMask&vk.ImageAspectFlags(vk.ImageAspectColorBit) != 0:
		if input {
			return vk.ImageLayoutGeneral
		}
		return vk.ImageLayoutColorAttachmentOptimal
	case aspectMask&depthStencil == depthStencil,
		aspectMask&vk.ImageAspectFlags(vk.ImageAspectDepthBit) != 0,
		aspectMask&vk.ImageAspectFlags(vk.ImageAspectStencilBit) != 0:
		if !randomAccess {
			return vk.ImageLayoutDepthStencilReadOnlyOptimal
		}
		if input {
			return vk.ImageLayoutGeneral
		}
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	default:
		return vk.ImageLayoutUndefined
	}
}
