package driver

import (
	vk "github.com/vulkan-go/vulkan"
)

// Pipeline is a closed union of the three pipeline kinds the graph can bind.
// Pipelines arrive from the driver layer fully compiled; the graph only reads
// their reflection metadata.
type Pipeline interface {
	isPipeline()
}

// DescriptorBinding addresses one descriptor slot: (set, binding).
type DescriptorBinding struct {
	Set     uint32
	Binding uint32
}

// DescriptorInfo is the reflection record behind one descriptor slot.
// AttachmentIndex is meaningful only for input attachments.
type DescriptorInfo struct {
	Type            vk.DescriptorType
	Count           uint32
	AttachmentIndex uint32
	Sampler         Sampler
}

// Sampler is an opaque immutable sampler handle, present on combined image
// sampler bindings.
type Sampler interface{}

// PushConstantRange describes one push-constant block of a pipeline layout.
type PushConstantRange struct {
	Stages vk.ShaderStageFlags
	Offset uint32
	Size   uint32
}

// PipelineReflection is the externally supplied metadata shared by all
// pipeline kinds.
type PipelineReflection struct {
	Name               string
	Layout             PipelineLayout
	SetLayouts         []DescriptorSetLayout
	DescriptorBindings map[DescriptorBinding]DescriptorInfo
	PushConstants      []PushConstantRange
	Stages             vk.ShaderStageFlags
}

type ComputePipeline struct {
	Reflection PipelineReflection
}

// RasterState is the fixed-function rasterization configuration of a
// graphics pipeline. Two passes merge only if these compare equal.
type RasterState struct {
	BlendEnable bool
	CullMode    vk.CullModeFlags
	FrontFace   vk.FrontFace
	PolygonMode vk.PolygonMode
	Samples     vk.SampleCountFlagBits
}

type GraphicsPipeline struct {
	Reflection PipelineReflection
	Raster     RasterState
}

type RayTracePipeline struct {
	Reflection PipelineReflection
}

func (*ComputePipeline) isPipeline()  {}
func (*GraphicsPipeline) isPipeline() {}
func (*RayTracePipeline) isPipeline() {}

// PipelineReflectionOf returns the reflection record of any pipeline kind.
func PipelineReflectionOf(pipeline Pipeline) *PipelineReflection {
	switch p := pipeline.(type) {
	case *ComputePipeline:
		return &p.Reflection
	case *GraphicsPipeline:
		return &p.Reflection
	case *RayTracePipeline:
		return &p.Reflection
	default:
		panic("unreachable")
	}
}

// PipelineBindPointOf returns the hardware bind point of a pipeline kind.
func PipelineBindPointOf(pipeline Pipeline) vk.PipelineBindPoint {
	switch pipeline.(type) {
	case *ComputePipeline:
		return vk.PipelineBindPointCompute
	case *GraphicsPipeline:
		return vk.PipelineBindPointGraphics
	case *RayTracePipeline:
		return PipelineBindPointRayTracing
	default:
		panic("unreachable")
	}
}

// PipelineStagesOf returns the pipeline stages a pipeline kind executes in.
func PipelineStagesOf(pipeline Pipeline) vk.PipelineStageFlags {
	switch pipeline.(type) {
	case *ComputePipeline:
		return vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	case *GraphicsPipeline:
		return vk.PipelineStageFlags(vk.PipelineStageAllGraphicsBit)
	case *RayTracePipeline:
		return PipelineStageRayTracingShaderBit
	default:
		panic("unreachable")
	}
}

// InputAttachmentBindings returns the descriptor slots a graphics pipeline
// declares as subpass inputs, or nil for other kinds.
func InputAttachmentBindings(pipeline Pipeline) []DescriptorBinding {
	p, ok := pipeline.(*GraphicsPipeline)
	if !ok {
		return nil
	}
	var slots []DescriptorBinding
	for binding, info := range p.Reflection.DescriptorBindings {
		if info.Type == vk.DescriptorTypeInputAttachment {
			slots = append(slots, binding)
		}
	}
	return slots
}

// DefaultAccesses returns the access types implied by plain read/write
// declarations against each pipeline kind, for recorder convenience methods.
func DefaultAccesses(pipeline Pipeline) (read, write AccessType) {
	switch pipeline.(type) {
	case *ComputePipeline:
		return AccessComputeShaderReadOther, AccessComputeShaderWrite
	case *RayTracePipeline:
		return AccessRayTracingShaderReadSampledImage, AccessAnyShaderWrite
	default:
		return AccessAnyShaderReadSampledImage, AccessAnyShaderWrite
	}
}
