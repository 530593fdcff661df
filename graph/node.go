// Package graph compiles a declared frame of GPU work into scheduled,
// merged, barrier-correct command buffer submissions. Client code binds
// resources into nodes, records passes against those nodes, and resolves the
// graph; the resolver leases transient objects from a pool and emits driver
// commands.
package graph

// Node is a small copyable handle to a bound resource. A node is valid from
// bind to unbind; using it outside that window panics at record time.
type Node interface {
	index() int
}

// BufferNode refers to a bound buffer.
type BufferNode struct {
	idx int
}

// ImageNode refers to a bound image, including swapchain images.
type ImageNode struct {
	idx int
}

// AccelerationStructureNode refers to a bound acceleration structure.
type AccelerationStructureNode struct {
	idx int
}

func (n BufferNode) index() int                { return n.idx }
func (n ImageNode) index() int                 { return n.idx }
func (n AccelerationStructureNode) index() int { return n.idx }
