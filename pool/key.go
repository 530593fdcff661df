package pool

import (
	"encoding/binary"
	"slices"

	vk "github.com/vulkan-go/vulkan"

	"github.com/vkgraph/vkgraph/driver"
)

// Configuration records that contain slices cannot be map keys directly, so
// they are reduced to digest strings. Every field participates: two
// configurations that differ anywhere must never share a free list.

type keyWriter struct {
	buf []byte
}

func (w *keyWriter) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *keyWriter) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *keyWriter) refs(refs []driver.AttachmentRef) {
	w.u32(uint32(len(refs)))
	for _, ref := range refs {
		w.u32(ref.Attachment)
		w.u32(uint32(ref.AspectMask))
		w.u32(uint32(ref.Layout))
	}
}

func descriptorPoolKey(info driver.DescriptorPoolInfo) string {
	sizes := slices.Clone(info.Sizes)
	slices.SortFunc(sizes, func(a, b vk.DescriptorPoolSize) int {
		return int(a.Type) - int(b.Type)
	})

	w := keyWriter{buf: make([]byte, 0, 4+12*len(sizes))}
	w.u32(info.MaxSets)
	for _, size := range sizes {
		w.u32(uint32(size.Type))
		w.u32(size.DescriptorCount)
	}
	return string(w.buf)
}

func renderPassKey(info driver.RenderPassInfo) string {
	var w keyWriter

	w.u32(uint32(len(info.Attachments)))
	for _, a := range info.Attachments {
		w.u32(uint32(a.Format))
		w.u32(uint32(a.Samples))
		w.u32(uint32(a.LoadOp))
		w.u32(uint32(a.StoreOp))
		w.u32(uint32(a.StencilLoadOp))
		w.u32(uint32(a.StencilStoreOp))
		w.u32(uint32(a.InitialLayout))
		w.u32(uint32(a.FinalLayout))
	}

	w.u32(uint32(len(info.Subpasses)))
	for _, s := range info.Subpasses {
		w.refs(s.ColorAttachments)
		w.refs(s.InputAttachments)
		w.refs(s.ResolveAttachments)
		if s.DepthStencilAttachment != nil {
			w.u32(1)
			w.refs([]driver.AttachmentRef{*s.DepthStencilAttachment})
		} else {
			w.u32(0)
		}
		w.u32(uint32(len(s.PreserveAttachments)))
		for _, p := range s.PreserveAttachments {
			w.u32(p)
		}
	}

	w.u32(uint32(len(info.Dependencies)))
	for _, d := range info.Dependencies {
		w.u32(d.SrcSubpass)
		w.u32(d.DstSubpass)
		w.u64(uint64(d.SrcStageMask))
		w.u64(uint64(d.DstStageMask))
		w.u64(uint64(d.SrcAccessMask))
		w.u64(uint64(d.DstAccessMask))
		w.u32(uint32(d.Flags))
	}

	return string(w.buf)
}
