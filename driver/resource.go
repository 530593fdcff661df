package driver

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// BufferInfo configures a device buffer and doubles as its pool key.
type BufferInfo struct {
	Size     vk.DeviceSize
	Usage    vk.BufferUsageFlags
	Mappable bool
}

// NewBufferInfo validates a buffer configuration.
func NewBufferInfo(size vk.DeviceSize, usage vk.BufferUsageFlags) (BufferInfo, error) {
	if size == 0 {
		return BufferInfo{}, fmt.Errorf("buffer size must be non-zero: %w", ErrInvalidData)
	}
	if usage == 0 {
		return BufferInfo{}, fmt.Errorf("buffer usage must be non-empty: %w", ErrInvalidData)
	}
	return BufferInfo{Size: size, Usage: usage}, nil
}

// ImageType selects the dimensionality of an image.
type ImageType uint8

const (
	ImageType1D ImageType = iota
	ImageType2D
	ImageType3D
	ImageTypeCube
)

// ImageInfo configures a device image and doubles as its pool key.
type ImageInfo struct {
	Type            ImageType
	Format          vk.Format
	Width           uint32
	Height          uint32
	Depth           uint32
	MipLevelCount   uint32
	ArrayLayerCount uint32
	Samples         vk.SampleCountFlagBits
	Usage           vk.ImageUsageFlags
}

// NewImageInfo2D validates a two-dimensional single-sample image
// configuration.
func NewImageInfo2D(format vk.Format, width, height uint32, usage vk.ImageUsageFlags) (ImageInfo, error) {
	info := ImageInfo{
		Type:            ImageType2D,
		Format:          format,
		Width:           width,
		Height:          height,
		Depth:           1,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
		Samples:         vk.SampleCount1Bit,
		Usage:           usage,
	}
	return info, info.validate()
}

func (info ImageInfo) validate() error {
	if info.Width == 0 || info.Height == 0 || info.Depth == 0 {
		return fmt.Errorf("image extent must be non-zero: %w", ErrInvalidData)
	}
	if info.Format == vk.FormatUndefined {
		return fmt.Errorf("image format must be defined: %w", ErrInvalidData)
	}
	if info.MipLevelCount == 0 || info.ArrayLayerCount == 0 {
		return fmt.Errorf("image mip and layer counts must be non-zero: %w", ErrInvalidData)
	}
	if info.Usage == 0 {
		return fmt.Errorf("image usage must be non-empty: %w", ErrInvalidData)
	}
	return nil
}

// DefaultViewInfo returns the view covering the whole image.
func (info ImageInfo) DefaultViewInfo() ImageViewInfo {
	return ImageViewInfo{
		Type:            info.Type,
		Format:          info.Format,
		AspectMask:      FormatAspectMask(info.Format),
		BaseMipLevel:    0,
		MipLevelCount:   info.MipLevelCount,
		BaseArrayLayer:  0,
		ArrayLayerCount: info.ArrayLayerCount,
	}
}

// ImageViewInfo selects a subresource view of an image.
type ImageViewInfo struct {
	Type            ImageType
	Format          vk.Format
	AspectMask      vk.ImageAspectFlags
	BaseMipLevel    uint32
	MipLevelCount   uint32
	BaseArrayLayer  uint32
	ArrayLayerCount uint32
}

// SubresourceRange converts the view selection to a Vulkan range.
func (info ImageViewInfo) SubresourceRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     info.AspectMask,
		BaseMipLevel:   info.BaseMipLevel,
		LevelCount:     info.MipLevelCount,
		BaseArrayLayer: info.BaseArrayLayer,
		LayerCount:     info.ArrayLayerCount,
	}
}

// AccelerationStructureInfo configures a ray-tracing acceleration structure.
type AccelerationStructureInfo struct {
	Size     vk.DeviceSize
	TopLevel bool
}

// FormatAspectMask derives the image aspect flags a format implies.
func FormatAspectMask(format vk.Format) vk.ImageAspectFlags {
	switch format {
	case vk.FormatD16Unorm, vk.FormatD32Sfloat, vk.FormatX8D24UnormPack32:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case vk.FormatS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	case vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	default:
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
}
