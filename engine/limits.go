package engine

// Limits bound the resources an instance may consume. Zero fields take
// the corresponding default. The effective memory maximum for an
// instance is min(module-declared max, MemoryPages).
type Limits struct {
	// ValueStack is the maximum number of values on the operand stack
	// across all active frames.
	ValueStack int

	// CallDepth is the maximum number of nested call frames, host
	// re-entry included.
	CallDepth int

	// ControlDepth is the maximum number of nested blocks within a
	// single frame.
	ControlDepth int

	// MemoryPages is the host ceiling on linear memory, in 64KiB pages.
	MemoryPages uint32

	// TableEntries is the host ceiling on table size.
	TableEntries uint32

	// Budget is the number of instructions a single invocation may
	// execute before trapping. Zero means unlimited.
	Budget uint64
}

// Default limits, sized for small embedded workloads.
const (
	DefaultValueStack   = 1024
	DefaultCallDepth    = 128
	DefaultControlDepth = 256
	DefaultMemoryPages  = 64 // 4MiB
	DefaultTableEntries = 4096
)

// DefaultLimits returns the default resource limits.
func DefaultLimits() Limits {
	return Limits{
		ValueStack:   DefaultValueStack,
		CallDepth:    DefaultCallDepth,
		ControlDepth: DefaultControlDepth,
		MemoryPages:  DefaultMemoryPages,
		TableEntries: DefaultTableEntries,
	}
}

// withDefaults fills zero fields from DefaultLimits. Budget stays zero,
// meaning unlimited.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.ValueStack <= 0 {
		l.ValueStack = d.ValueStack
	}
	if l.CallDepth <= 0 {
		l.CallDepth = d.CallDepth
	}
	if l.ControlDepth <= 0 {
		l.ControlDepth = d.ControlDepth
	}
	if l.MemoryPages == 0 {
		l.MemoryPages = d.MemoryPages
	}
	if l.TableEntries == 0 {
		l.TableEntries = d.TableEntries
	}
	return l
}
