package graph

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/vkgraph/vkgraph/driver"
)

// Graph accumulates bindings and passes while client code records a frame.
// Construction is single threaded; the only concurrency in the system is the
// GPU executing previously submitted buffers while the CPU records the next.
type Graph struct {
	bindings []binding
	passes   []*Pass
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{}
}

// Pass is a unit of declared GPU work: an ordered list of executions plus
// pass-level state. A pass with rasterization work becomes one hardware
// render pass whose subpasses are its executions; anything else becomes a
// bare sequence of barrier+dispatch blocks.
type Pass struct {
	graph *Graph

	name         string
	execs        []*execution
	renderArea   *vk.Rect2D
	depthBounds  [2]float32
	hasDepthMode bool
}

// subresource is the optional resource subrange an access was declared
// against.
type subresource interface {
	isSubresource()
}

type bufferSubresource struct {
	Offset vk.DeviceSize
	Size   vk.DeviceSize
}

type imageSubresource struct {
	view driver.ImageViewInfo
}

func (bufferSubresource) isSubresource() {}
func (imageSubresource) isSubresource()  {}

// subresourceAccess is one declared access of one node within an execution.
type subresourceAccess struct {
	access      driver.AccessType
	subresource subresource
}

// boundDescriptor maps a descriptor slot to the node it reads or writes,
// with an optional explicit view.
type boundDescriptor struct {
	node      int
	imageView *driver.ImageViewInfo
	buffer    *bufferSubresource
}

// execution is the unit of scheduling inside a pass: an optional bound
// pipeline, declared accesses and descriptor bindings, attachment directives
// and a deferred recording callback. Within a merged render pass each
// execution becomes one hardware subpass.
type execution struct {
	pipeline driver.Pipeline

	// accesses lists every declared access per node, in declaration order.
	// Barrier analysis uses the first entry; the access chain advances to
	// the last.
	accesses map[int][]subresourceAccess
	bindings map[driver.DescriptorBinding]boundDescriptor

	colorAttachments map[uint32]Attachment
	colorClears      map[uint32]clearAttachment
	colorLoads       map[uint32]Attachment
	colorResolves    map[uint32]resolveAttachment
	colorStores      map[uint32]Attachment

	depthStencilAttachment *Attachment
	depthStencilClear      *clearDepthStencil
	depthStencilLoad       *Attachment
	depthStencilStore      *Attachment

	record func(Cmd, Bindings)
}

func newExecution() *execution {
	return &execution{
		accesses:         map[int][]subresourceAccess{},
		bindings:         map[driver.DescriptorBinding]boundDescriptor{},
		colorAttachments: map[uint32]Attachment{},
		colorClears:      map[uint32]clearAttachment{},
		colorLoads:       map[uint32]Attachment{},
		colorResolves:    map[uint32]resolveAttachment{},
		colorStores:      map[uint32]Attachment{},
	}
}

func (e *execution) firstAccess(nodeIdx int) subresourceAccess {
	return e.accesses[nodeIdx][0]
}

func (e *execution) lastAccess(nodeIdx int) subresourceAccess {
	list := e.accesses[nodeIdx]
	return list[len(list)-1]
}

// isGraphic reports whether the execution binds a rasterization pipeline.
func (e *execution) isGraphic() bool {
	_, ok := e.pipeline.(*driver.GraphicsPipeline)
	return ok
}

// BeginPass starts declaring a pass. The returned recorder must be finished
// with SubmitPass before another pass begins.
func (g *Graph) BeginPass(name string) *PassRecorder {
	pass := &Pass{
		graph: g,
		name:  name,
		execs: []*execution{newExecution()},
	}
	g.passes = append(g.passes, pass)
	return &PassRecorder{pass: pass}
}

// firstNodeAccessPassIndex returns the index of the first pass accessing the
// node, or len(passes) if none does.
func (g *Graph) firstNodeAccessPassIndex(nodeIdx int) int {
	for passIdx, pass := range g.passes {
		for _, exec := range pass.execs {
			if _, ok := exec.accesses[nodeIdx]; ok {
				return passIdx
			}
		}
	}
	return len(g.passes)
}

// Resolve converts the recorded graph into a resolvable unit. The graph must
// not be recorded into afterwards.
func (g *Graph) Resolve() *Resolver {
	// Drop passes that recorded nothing.
	passes := g.passes[:0]
	for _, pass := range g.passes {
		if len(pass.execs) > 0 {
			passes = append(passes, pass)
		}
	}
	g.passes = passes

	return &Resolver{graph: g}
}
