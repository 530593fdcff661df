package graph

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/vkgraph/vkgraph/driver"
)

// Built-in transfer passes. Each records a single-execution pass with the
// transfer accesses declared, so ordinary scheduling and barrier analysis
// apply to copies the same way they do to shader work.

// CopyBuffer copies the full extent of src into dst.
func (g *Graph) CopyBuffer(src, dst BufferNode) {
	size := g.BufferInfo(src).Size
	if dstSize := g.BufferInfo(dst).Size; dstSize < size {
		size = dstSize
	}
	g.CopyBufferRegions(src, dst, []vk.BufferCopy{{Size: size}})
}

// CopyBufferRegions copies the given regions of src into dst.
func (g *Graph) CopyBufferRegions(src, dst BufferNode, regions []vk.BufferCopy) {
	g.BeginPass("copy buffer").
		AccessNode(src, driver.AccessTransferRead).
		AccessNode(dst, driver.AccessTransferWrite).
		Record(func(cmd Cmd, b Bindings) {
			cmd.cb.CopyBuffer(b.Buffer(src), b.Buffer(dst), regions)
		}).
		SubmitPass()
}

// CopyBufferToImage copies buffer contents into the first mip level of an
// image.
func (g *Graph) CopyBufferToImage(src BufferNode, dst ImageNode) {
	info := g.ImageInfo(dst)
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: driver.FormatAspectMask(info.Format),
			LayerCount: info.ArrayLayerCount,
		},
		ImageExtent: vk.Extent3D{Width: info.Width, Height: info.Height, Depth: info.Depth},
	}
	g.CopyBufferToImageRegions(src, dst, []vk.BufferImageCopy{region})
}

// CopyBufferToImageRegions copies the given regions of a buffer into an
// image.
func (g *Graph) CopyBufferToImageRegions(src BufferNode, dst ImageNode, regions []vk.BufferImageCopy) {
	g.BeginPass("copy buffer to image").
		AccessNode(src, driver.AccessTransferRead).
		AccessNode(dst, driver.AccessTransferWrite).
		Record(func(cmd Cmd, b Bindings) {
			cmd.cb.CopyBufferToImage(b.Buffer(src), b.Image(dst),
				vk.ImageLayoutTransferDstOptimal, regions)
		}).
		SubmitPass()
}

// CopyImage copies the shared extent of src into dst at mip level zero.
func (g *Graph) CopyImage(src, dst ImageNode) {
	srcInfo := g.ImageInfo(src)
	dstInfo := g.ImageInfo(dst)
	region := vk.ImageCopy{
		SrcSubresource: vk.ImageSubresourceLayers{
			AspectMask: driver.FormatAspectMask(srcInfo.Format),
			LayerCount: min(srcInfo.ArrayLayerCount, dstInfo.ArrayLayerCount),
		},
		DstSubresource: vk.ImageSubresourceLayers{
			AspectMask: driver.FormatAspectMask(dstInfo.Format),
			LayerCount: min(srcInfo.ArrayLayerCount, dstInfo.ArrayLayerCount),
		},
		Extent: vk.Extent3D{
			Width:  min(srcInfo.Width, dstInfo.Width),
			Height: min(srcInfo.Height, dstInfo.Height),
			Depth:  min(srcInfo.Depth, dstInfo.Depth),
		},
	}
	g.CopyImageRegions(src, dst, []vk.ImageCopy{region})
}

// CopyImageRegions copies the given regions of src into dst.
func (g *Graph) CopyImageRegions(src, dst ImageNode, regions []vk.ImageCopy) {
	g.BeginPass("copy image").
		AccessNode(src, driver.AccessTransferRead).
		AccessNode(dst, driver.AccessTransferWrite).
		Record(func(cmd Cmd, b Bindings) {
			cmd.cb.CopyImage(b.Image(src), vk.ImageLayoutTransferSrcOptimal,
				b.Image(dst), vk.ImageLayoutTransferDstOptimal, regions)
		}).
		SubmitPass()
}

// CopyImageToBuffer copies the first mip level of an image into a buffer.
func (g *Graph) CopyImageToBuffer(src ImageNode, dst BufferNode) {
	info := g.ImageInfo(src)
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: driver.FormatAspectMask(info.Format),
			LayerCount: info.ArrayLayerCount,
		},
		ImageExtent: vk.Extent3D{Width: info.Width, Height: info.Height, Depth: info.Depth},
	}
	g.CopyImageToBufferRegions(src, dst, []vk.BufferImageCopy{region})
}

// CopyImageToBufferRegions copies the given regions of an image into a
// buffer.
func (g *Graph) CopyImageToBufferRegions(src ImageNode, dst BufferNode, regions []vk.BufferImageCopy) {
	g.BeginPass("copy image to buffer").
		AccessNode(src, driver.AccessTransferRead).
		AccessNode(dst, driver.AccessTransferWrite).
		Record(func(cmd Cmd, b Bindings) {
			cmd.cb.CopyImageToBuffer(b.Image(src), vk.ImageLayoutTransferSrcOptimal,
				b.Buffer(dst), regions)
		}).
		SubmitPass()
}

// BlitImage blits the full extent of src into dst with the given filter.
func (g *Graph) BlitImage(src, dst ImageNode, filter vk.Filter) {
	srcInfo := g.ImageInfo(src)
	dstInfo := g.ImageInfo(dst)
	region := vk.ImageBlit{
		SrcSubresource: vk.ImageSubresourceLayers{
			AspectMask: driver.FormatAspectMask(srcInfo.Format),
			LayerCount: srcInfo.ArrayLayerCount,
		},
		SrcOffsets: [2]vk.Offset3D{{}, {
			X: int32(srcInfo.Width), Y: int32(srcInfo.Height), Z: int32(srcInfo.Depth),
		}},
		DstSubresource: vk.ImageSubresourceLayers{
			AspectMask: driver.FormatAspectMask(dstInfo.Format),
			LayerCount: dstInfo.ArrayLayerCount,
		},
		DstOffsets: [2]vk.Offset3D{{}, {
			X: int32(dstInfo.Width), Y: int32(dstInfo.Height), Z: int32(dstInfo.Depth),
		}},
	}
	g.BlitImageRegions(src, dst, []vk.ImageBlit{region}, filter)
}

// BlitImageRegions blits the given regions of src into dst.
func (g *Graph) BlitImageRegions(src, dst ImageNode, regions []vk.ImageBlit, filter vk.Filter) {
	g.BeginPass("blit image").
		AccessNode(src, driver.AccessTransferRead).
		AccessNode(dst, driver.AccessTransferWrite).
		Record(func(cmd Cmd, b Bindings) {
			cmd.cb.BlitImage(b.Image(src), vk.ImageLayoutTransferSrcOptimal,
				b.Image(dst), vk.ImageLayoutTransferDstOptimal, regions, filter)
		}).
		SubmitPass()
}

// ClearColorImage fills every subresource of an image with a constant color.
func (g *Graph) ClearColorImage(node ImageNode, color driver.ClearColorValue) {
	info := g.ImageInfo(node)
	ranges := []vk.ImageSubresourceRange{{
		AspectMask: driver.FormatAspectMask(info.Format),
		LevelCount: info.MipLevelCount,
		LayerCount: info.ArrayLayerCount,
	}}
	g.BeginPass("clear color image").
		AccessNode(node, driver.AccessTransferWrite).
		Record(func(cmd Cmd, b Bindings) {
			cmd.cb.ClearColorImage(b.Image(node), vk.ImageLayoutTransferDstOptimal,
				color, ranges)
		}).
		SubmitPass()
}

// FillBuffer fills the whole buffer with a repeated 32-bit value.
func (g *Graph) FillBuffer(node BufferNode, data uint32) {
	size := g.BufferInfo(node).Size
	g.FillBufferRegion(node, 0, size, data)
}

// FillBufferRegion fills a region of a buffer with a repeated 32-bit value.
func (g *Graph) FillBufferRegion(node BufferNode, offset, size vk.DeviceSize, data uint32) {
	g.BeginPass("fill buffer").
		AccessNode(node, driver.AccessTransferWrite).
		Record(func(cmd Cmd, b Bindings) {
			cmd.cb.FillBuffer(b.Buffer(node), offset, size, data)
		}).
		SubmitPass()
}

// UpdateBuffer writes inline data into a buffer. Vulkan limits this path to
// small payloads; callers move anything larger through a staging copy.
func (g *Graph) UpdateBuffer(node BufferNode, offset vk.DeviceSize, data []byte) {
	g.BeginPass("update buffer").
		AccessNode(node, driver.AccessTransferWrite).
		Record(func(cmd Cmd, b Bindings) {
			cmd.cb.UpdateBuffer(b.Buffer(node), offset, data)
		}).
		SubmitPass()
}
