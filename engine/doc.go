// Package engine executes WebAssembly functions on an in-process stack
// interpreter sized for constrained targets.
//
// An Instance is produced by Instantiate from a decoded wasm.Module plus
// the host functions that satisfy its imports. Invoke runs an exported
// or internal function by index; arguments and results are passed as
// tagged Value cells.
//
// Every resource the guest can consume is bounded by Limits: operand
// stack cells, call depth, open control constructs, linear memory pages,
// table entries, and optionally an instruction budget. Exceeding a bound
// raises a Trap, which also covers the standard WebAssembly runtime
// failures (unreachable, division by zero, out of bounds access, and so
// on). A trap aborts the invocation but leaves the instance usable.
package engine
