package driver

import (
	vk "github.com/vulkan-go/vulkan"
)

// AccessType names one way the GPU may touch a resource. Each access maps to
// the pipeline stages it runs in, the memory access flags it performs, and
// (for images) the layout the image must be in while it happens.
type AccessType uint8

const (
	AccessNone AccessType = iota

	// Reads.
	AccessIndirectBuffer
	AccessIndexBuffer
	AccessVertexBuffer
	AccessVertexShaderReadUniformBuffer
	AccessVertexShaderReadSampledImage
	AccessVertexShaderReadOther
	AccessFragmentShaderReadUniformBuffer
	AccessFragmentShaderReadSampledImage
	AccessFragmentShaderReadColorInputAttachment
	AccessFragmentShaderReadDepthStencilInputAttachment
	AccessFragmentShaderReadOther
	AccessColorAttachmentRead
	AccessDepthStencilAttachmentRead
	AccessComputeShaderReadUniformBuffer
	AccessComputeShaderReadSampledImage
	AccessComputeShaderReadOther
	AccessRayTracingShaderReadSampledImage
	AccessRayTracingShaderReadAccelerationStructure
	AccessAnyShaderReadUniformBuffer
	AccessAnyShaderReadSampledImage
	AccessAnyShaderReadOther
	AccessTransferRead
	AccessHostRead
	AccessPresent

	// Writes.
	AccessVertexShaderWrite
	AccessFragmentShaderWrite
	AccessColorAttachmentWrite
	AccessDepthStencilAttachmentWrite
	AccessDepthAttachmentWriteStencilReadOnly
	AccessStencilAttachmentWriteDepthReadOnly
	AccessComputeShaderWrite
	AccessRayTracingShaderWrite
	AccessAnyShaderWrite
	AccessTransferWrite
	AccessHostWrite

	// Read/write.
	AccessColorAttachmentReadWrite
	AccessGeneral
)

// Ray tracing constants absent from the bindings' Vulkan headers; values are
// from the registry (VK_NV_ray_tracing, extension number 166).
const (
	PipelineStageRayTracingShaderBit vk.PipelineStageFlags = 0x00200000
	AccessAccelerationStructureRead  vk.AccessFlags        = 0x00200000
	AccessAccelerationStructureWrite vk.AccessFlags        = 0x00400000

	DescriptorTypeAccelerationStructure vk.DescriptorType   = 1000165000
	PipelineBindPointRayTracing         vk.PipelineBindPoint = 1000165000
)

// AccessDesc is the hardware meaning of one AccessType.
type AccessDesc struct {
	Stages vk.PipelineStageFlags
	Access vk.AccessFlags
	Layout vk.ImageLayout
}

var accessDescs = [...]AccessDesc{
	AccessNone: {},
	AccessIndirectBuffer: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit),
		Access: vk.AccessFlags(vk.AccessIndirectCommandReadBit),
	},
	AccessIndexBuffer: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
		Access: vk.AccessFlags(vk.AccessIndexReadBit),
	},
	AccessVertexBuffer: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
		Access: vk.AccessFlags(vk.AccessVertexAttributeReadBit),
	},
	AccessVertexShaderReadUniformBuffer: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit),
		Access: vk.AccessFlags(vk.AccessUniformReadBit),
	},
	AccessVertexShaderReadSampledImage: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit),
		Access: vk.AccessFlags(vk.AccessShaderReadBit),
		Layout: vk.ImageLayoutShaderReadOnlyOptimal,
	},
	AccessVertexShaderReadOther: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit),
		Access: vk.AccessFlags(vk.AccessShaderReadBit),
		Layout: vk.ImageLayoutGeneral,
	},
	AccessFragmentShaderReadUniformBuffer: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		Access: vk.AccessFlags(vk.AccessUniformReadBit),
	},
	AccessFragmentShaderReadSampledImage: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		Access: vk.AccessFlags(vk.AccessShaderReadBit),
		Layout: vk.ImageLayoutShaderReadOnlyOptimal,
	},
	AccessFragmentShaderReadColorInputAttachment: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		Access: vk.AccessFlags(vk.AccessInputAttachmentReadBit),
		Layout: vk.ImageLayoutShaderReadOnlyOptimal,
	},
	AccessFragmentShaderReadDepthStencilInputAttachment: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		Access: vk.AccessFlags(vk.AccessInputAttachmentReadBit),
		Layout: vk.ImageLayoutDepthStencilReadOnlyOptimal,
	},
	AccessFragmentShaderReadOther: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		Access: vk.AccessFlags(vk.AccessShaderReadBit),
		Layout: vk.ImageLayoutGeneral,
	},
	AccessColorAttachmentRead: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		Access: vk.AccessFlags(vk.AccessColorAttachmentReadBit),
		Layout: vk.ImageLayoutColorAttachmentOptimal,
	},
	AccessDepthStencilAttachmentRead: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit),
		Access: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit),
		Layout: vk.ImageLayoutDepthStencilReadOnlyOptimal,
	},
	AccessComputeShaderReadUniformBuffer: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		Access: vk.AccessFlags(vk.AccessUniformReadBit),
	},
	AccessComputeShaderReadSampledImage: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		Access: vk.AccessFlags(vk.AccessShaderReadBit),
		Layout: vk.ImageLayoutShaderReadOnlyOptimal,
	},
	AccessComputeShaderReadOther: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		Access: vk.AccessFlags(vk.AccessShaderReadBit),
		Layout: vk.ImageLayoutGeneral,
	},
	AccessRayTracingShaderReadSampledImage: {
		Stages: PipelineStageRayTracingShaderBit,
		Access: vk.AccessFlags(vk.AccessShaderReadBit),
		Layout: vk.ImageLayoutShaderReadOnlyOptimal,
	},
	AccessRayTracingShaderReadAccelerationStructure: {
		Stages: PipelineStageRayTracingShaderBit,
		Access: AccessAccelerationStructureRead,
	},
	AccessAnyShaderReadUniformBuffer: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		Access: vk.AccessFlags(vk.AccessUniformReadBit),
	},
	AccessAnyShaderReadSampledImage: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		Access: vk.AccessFlags(vk.AccessShaderReadBit),
		Layout: vk.ImageLayoutShaderReadOnlyOptimal,
	},
	AccessAnyShaderReadOther: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		Access: vk.AccessFlags(vk.AccessShaderReadBit),
		Layout: vk.ImageLayoutGeneral,
	},
	AccessTransferRead: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		Access: vk.AccessFlags(vk.AccessTransferReadBit),
		Layout: vk.ImageLayoutTransferSrcOptimal,
	},
	AccessHostRead: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageHostBit),
		Access: vk.AccessFlags(vk.AccessHostReadBit),
		Layout: vk.ImageLayoutGeneral,
	},
	AccessPresent: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		Layout: vk.ImageLayoutPresentSrc,
	},
	AccessVertexShaderWrite: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit),
		Access: vk.AccessFlags(vk.AccessShaderWriteBit),
		Layout: vk.ImageLayoutGeneral,
	},
	AccessFragmentShaderWrite: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		Access: vk.AccessFlags(vk.AccessShaderWriteBit),
		Layout: vk.ImageLayoutGeneral,
	},
	AccessColorAttachmentWrite: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		Access: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		Layout: vk.ImageLayoutColorAttachmentOptimal,
	},
	AccessDepthStencilAttachmentWrite: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit),
		Access: vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
		Layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
	},
	AccessDepthAttachmentWriteStencilReadOnly: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit),
		Access: vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit | vk.AccessDepthStencilAttachmentReadBit),
		Layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
	},
	AccessStencilAttachmentWriteDepthReadOnly: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit),
		Access: vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit | vk.AccessDepthStencilAttachmentReadBit),
		Layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
	},
	AccessComputeShaderWrite: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		Access: vk.AccessFlags(vk.AccessShaderWriteBit),
		Layout: vk.ImageLayoutGeneral,
	},
	AccessRayTracingShaderWrite: {
		Stages: PipelineStageRayTracingShaderBit,
		Access: vk.AccessFlags(vk.AccessShaderWriteBit) | AccessAccelerationStructureWrite,
		Layout: vk.ImageLayoutGeneral,
	},
	AccessAnyShaderWrite: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		Access: vk.AccessFlags(vk.AccessShaderWriteBit),
		Layout: vk.ImageLayoutGeneral,
	},
	AccessTransferWrite: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		Access: vk.AccessFlags(vk.AccessTransferWriteBit),
		Layout: vk.ImageLayoutTransferDstOptimal,
	},
	AccessHostWrite: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageHostBit),
		Access: vk.AccessFlags(vk.AccessHostWriteBit),
		Layout: vk.ImageLayoutGeneral,
	},
	AccessColorAttachmentReadWrite: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		Access: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
		Layout: vk.ImageLayoutColorAttachmentOptimal,
	},
	AccessGeneral: {
		Stages: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		Access: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		Layout: vk.ImageLayoutGeneral,
	},
}

// DescribeAccess returns the stage/access/layout mapping for an access type.
func DescribeAccess(access AccessType) AccessDesc {
	return accessDescs[access]
}

// AccessLayout returns the image layout an access requires.
func AccessLayout(access AccessType) vk.ImageLayout {
	return accessDescs[access].Layout
}

// IsWriteAccess reports whether an access can modify the resource. General is
// treated as a write.
func IsWriteAccess(access AccessType) bool {
	switch access {
	case AccessVertexShaderWrite,
		AccessFragmentShaderWrite,
		AccessColorAttachmentWrite,
		AccessDepthStencilAttachmentWrite,
		AccessDepthAttachmentWriteStencilReadOnly,
		AccessStencilAttachmentWriteDepthReadOnly,
		AccessComputeShaderWrite,
		AccessRayTracingShaderWrite,
		AccessAnyShaderWrite,
		AccessTransferWrite,
		AccessHostWrite,
		AccessColorAttachmentReadWrite,
		AccessGeneral:
		return true
	}
	return false
}

// IsReadAccess reports whether an access can observe the resource.
func IsReadAccess(access AccessType) bool {
	switch access {
	case AccessNone,
		AccessVertexShaderWrite,
		AccessFragmentShaderWrite,
		AccessColorAttachmentWrite,
		AccessDepthStencilAttachmentWrite,
		AccessComputeShaderWrite,
		AccessRayTracingShaderWrite,
		AccessAnyShaderWrite,
		AccessTransferWrite,
		AccessHostWrite:
		return false
	}
	return true
}

// GlobalBarrier covers accesses that could not be pinned to a specific
// resource subrange.
type GlobalBarrier struct {
	PrevAccesses []AccessType
	NextAccesses []AccessType
}

// BufferBarrier orders accesses to a buffer byte range.
type BufferBarrier struct {
	PrevAccess AccessType
	NextAccess AccessType
	Buffer     Buffer
	Offset     vk.DeviceSize
	Size       vk.DeviceSize
}

// ImageBarrier orders accesses to an image subresource range and carries the
// layout transition implied by the two accesses. DiscardContents permits the
// driver to throw the previous contents away (old layout UNDEFINED).
type ImageBarrier struct {
	PrevAccess      AccessType
	NextAccess      AccessType
	Image           Image
	Range           vk.ImageSubresourceRange
	DiscardContents bool
}

// Layouts returns the source and destination layouts of the transition.
func (b ImageBarrier) Layouts() (prev, next vk.ImageLayout) {
	prev = AccessLayout(b.PrevAccess)
	if b.DiscardContents {
		prev = vk.ImageLayoutUndefined
	}
	return prev, AccessLayout(b.NextAccess)
}

// MergeAccessDescs folds the stage and access masks of several access types
// into one pair, for issuing a batched barrier.
func MergeAccessDescs(accesses []AccessType) (vk.PipelineStageFlags, vk.AccessFlags) {
	var stages vk.PipelineStageFlags
	var mask vk.AccessFlags
	for _, access := range accesses {
		desc := accessDescs[access]
		stages |= desc.Stages
		mask |= desc.Access
	}
	return stages, mask
}
