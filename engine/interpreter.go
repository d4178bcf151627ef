package engine

import (
	"context"
	"fmt"
	"math"
	"math/bits"

	errs "github.com/wippyai/microwasm/errors"
	"github.com/wippyai/microwasm/wasm"
)

// execState is the state of one invocation: the context and the shared
// operand stack. Call depth and instruction budget live on the instance
// so they survive re-entrant invocations from host functions.
type execState struct {
	ctx  context.Context
	inst *Instance
	vals []Value
}

// label is an open structured-control region inside a frame.
type label struct {
	pc     int // opener instruction index, -1 for the function body
	height int // operand stack height at entry
	arity  int // values a branch transfers
	isLoop bool
}

// Invoke runs a function by index with the given arguments. Argument
// count and types must match the function signature. A trap aborts the
// invocation but leaves the instance usable.
func (inst *Instance) Invoke(ctx context.Context, funcIdx uint32, args []Value) ([]Value, error) {
	if int(funcIdx) >= len(inst.funcs) {
		return nil, errs.OutOfBounds(errs.PhaseRuntime, []string{"func"}, int(funcIdx), len(inst.funcs))
	}
	ft := inst.funcs[funcIdx].ft
	if len(args) != len(ft.Params) {
		return nil, errs.InvalidInput(errs.PhaseRuntime,
			fmt.Sprintf("function expects %d arguments, got %d", len(ft.Params), len(args)))
	}
	for i, arg := range args {
		if arg.Type != ft.Params[i] {
			return nil, errs.TypeMismatch(errs.PhaseRuntime,
				[]string{"arg", fmt.Sprint(i)}, arg.Type.String(), ft.Params[i].String())
		}
	}

	// The budget resets only at the outermost entry; a nested Invoke
	// from a host function spends the remaining outer budget.
	if inst.depth == 0 {
		inst.budget = inst.limits.Budget
	}

	s := &execState{ctx: ctx, inst: inst, vals: make([]Value, 0, 64)}

	results, trap := s.call(funcIdx, args)
	if trap != nil {
		return nil, trap
	}
	return results, nil
}

func (s *execState) push(v Value) *Trap {
	if len(s.vals) >= s.inst.limits.ValueStack {
		return NewTrap(TrapStackOverflow)
	}
	s.vals = append(s.vals, v)
	return nil
}

func (s *execState) pop() Value {
	v := s.vals[len(s.vals)-1]
	s.vals = s.vals[:len(s.vals)-1]
	return v
}

func (s *execState) call(funcIdx uint32, args []Value) ([]Value, *Trap) {
	if s.inst.depth >= s.inst.limits.CallDepth {
		return nil, NewTrap(TrapCallStackExhausted)
	}
	s.inst.depth++
	defer func() { s.inst.depth-- }()

	// Context is checked at call boundaries so a host can cancel a
	// runaway guest between frames.
	if err := s.ctx.Err(); err != nil {
		return nil, HostTrap(err)
	}

	fn := &s.inst.funcs[funcIdx]
	if fn.host != nil {
		results, err := fn.host(s.ctx, s.inst, args)
		if err != nil {
			return nil, HostTrap(err)
		}
		if len(results) != len(fn.ft.Results) {
			return nil, HostTrap(fmt.Errorf("host %s returned %d values, type declares %d",
				fn.name, len(results), len(fn.ft.Results)))
		}
		return results, nil
	}

	locals := make([]Value, len(fn.ft.Params)+len(fn.locals))
	copy(locals, args)
	for i, t := range fn.locals {
		locals[len(fn.ft.Params)+i] = Zero(t)
	}

	return s.run(fn, locals)
}

// run executes a compiled function body to completion.
func (s *execState) run(fn *compiledFunc, locals []Value) ([]Value, *Trap) {
	base := len(s.vals)
	labels := []label{{pc: -1, height: base, arity: len(fn.ft.Results)}}

	pc := 0
	for pc < len(fn.code) {
		if s.inst.limits.Budget > 0 {
			if s.inst.budget == 0 {
				return nil, NewTrap(TrapBudgetExhausted)
			}
			s.inst.budget--
		}

		instr := &fn.code[pc]
		switch instr.Opcode {

		case wasm.OpUnreachable:
			return nil, NewTrap(TrapUnreachable)

		case wasm.OpNop:

		case wasm.OpBlock, wasm.OpLoop:
			if len(labels) >= s.inst.limits.ControlDepth {
				return nil, NewTrap(TrapStackOverflow)
			}
			in, out := s.blockArity(instr.Imm.(wasm.BlockImm).Type)
			arity := out
			if instr.Opcode == wasm.OpLoop {
				arity = in
			}
			labels = append(labels, label{
				pc:     pc,
				height: len(s.vals) - in,
				arity:  arity,
				isLoop: instr.Opcode == wasm.OpLoop,
			})

		case wasm.OpIf:
			if len(labels) >= s.inst.limits.ControlDepth {
				return nil, NewTrap(TrapStackOverflow)
			}
			cond := s.pop().AsI32()
			in, out := s.blockArity(instr.Imm.(wasm.BlockImm).Type)
			if cond != 0 {
				labels = append(labels, label{pc: pc, height: len(s.vals) - in, arity: out})
			} else if elsePC, ok := fn.elseOf[pc]; ok {
				labels = append(labels, label{pc: pc, height: len(s.vals) - in, arity: out})
				pc = elsePC
			} else {
				// No else: skip to the matching end, which closes
				// nothing since the label was never pushed.
				pc = fn.end[pc]
			}

		case wasm.OpElse:
			// The then-branch ran to completion; jump to the end of
			// the enclosing if. The end pops the label.
			ifPC := labels[len(labels)-1].pc
			pc = fn.end[ifPC]
			continue

		case wasm.OpEnd:
			labels = labels[:len(labels)-1]
			if len(labels) == 0 {
				// Function body finished.
				results := make([]Value, len(fn.ft.Results))
				copy(results, s.vals[len(s.vals)-len(results):])
				s.vals = s.vals[:base]
				return results, nil
			}

		case wasm.OpBr:
			pc = s.branch(fn, &labels, instr.Imm.(wasm.BranchImm).LabelIdx)
			continue

		case wasm.OpBrIf:
			if s.pop().AsI32() != 0 {
				pc = s.branch(fn, &labels, instr.Imm.(wasm.BranchImm).LabelIdx)
				continue
			}

		case wasm.OpBrTable:
			imm := instr.Imm.(wasm.BrTableImm)
			idx := s.pop().AsU32()
			target := imm.Default
			if idx < uint32(len(imm.Labels)) {
				target = imm.Labels[idx]
			}
			pc = s.branch(fn, &labels, target)
			continue

		case wasm.OpReturn:
			results := make([]Value, len(fn.ft.Results))
			copy(results, s.vals[len(s.vals)-len(results):])
			s.vals = s.vals[:base]
			return results, nil

		case wasm.OpCall:
			if trap := s.callAt(instr.Imm.(wasm.CallImm).FuncIdx); trap != nil {
				return nil, trap
			}

		case wasm.OpCallIndirect:
			imm := instr.Imm.(wasm.CallIndirectImm)
			elem := s.pop().AsU32()
			if elem >= uint32(len(s.inst.table)) {
				return nil, NewTrap(TrapOutOfBoundsTableAccess)
			}
			funcIdx := s.inst.table[elem]
			if funcIdx < 0 {
				return nil, NewTrap(TrapUninitializedElement)
			}
			target := &s.inst.funcs[funcIdx]
			if !target.ft.Equal(&s.inst.module.Types[imm.TypeIdx]) {
				return nil, NewTrap(TrapIndirectCallTypeMismatch)
			}
			if trap := s.callAt(uint32(funcIdx)); trap != nil {
				return nil, trap
			}

		case wasm.OpDrop:
			s.pop()

		case wasm.OpSelect:
			cond := s.pop().AsI32()
			b := s.pop()
			a := s.pop()
			if cond != 0 {
				s.vals = append(s.vals, a)
			} else {
				s.vals = append(s.vals, b)
			}

		case wasm.OpLocalGet:
			if trap := s.push(locals[instr.Imm.(wasm.LocalImm).LocalIdx]); trap != nil {
				return nil, trap
			}

		case wasm.OpLocalSet:
			locals[instr.Imm.(wasm.LocalImm).LocalIdx] = s.pop()

		case wasm.OpLocalTee:
			locals[instr.Imm.(wasm.LocalImm).LocalIdx] = s.vals[len(s.vals)-1]

		case wasm.OpGlobalGet:
			if trap := s.push(s.inst.globals[instr.Imm.(wasm.GlobalImm).GlobalIdx]); trap != nil {
				return nil, trap
			}

		case wasm.OpGlobalSet:
			s.inst.globals[instr.Imm.(wasm.GlobalImm).GlobalIdx] = s.pop()

		default:
			if trap := s.dispatchData(fn, instr); trap != nil {
				return nil, trap
			}
		}

		pc++
	}

	return nil, NewTrap(TrapUnreachable)
}

// branch transfers control to a label. It returns the next pc; labels
// above the target are discarded and the transfer values are moved down
// to the target's entry height.
func (s *execState) branch(fn *compiledFunc, labels *[]label, labelIdx uint32) int {
	ls := *labels
	target := ls[len(ls)-1-int(labelIdx)]

	// Move the transfer values down to the label's entry height.
	transfer := s.vals[len(s.vals)-target.arity:]
	s.vals = append(s.vals[:target.height], transfer...)

	if target.isLoop {
		// Keep the loop's own label; drop everything above it.
		*labels = ls[:len(ls)-int(labelIdx)]
		return target.pc + 1
	}

	if target.pc < 0 {
		// Branch out of the function body: keep the function label
		// and jump to the final end, which returns.
		*labels = ls[:1]
		return len(fn.code) - 1
	}
	*labels = ls[:len(ls)-1-int(labelIdx)]
	return fn.end[target.pc] + 1
}

// blockArity resolves a block type to its parameter and result counts.
func (s *execState) blockArity(bt int64) (in, out int) {
	switch bt {
	case wasm.BlockTypeVoid:
		return 0, 0
	case wasm.BlockTypeI32, wasm.BlockTypeI64, wasm.BlockTypeF32, wasm.BlockTypeF64:
		return 0, 1
	}
	ft := &s.inst.module.Types[bt]
	return len(ft.Params), len(ft.Results)
}

// callAt pops arguments for funcIdx off the stack, performs the call,
// and pushes the results.
func (s *execState) callAt(funcIdx uint32) *Trap {
	ft := s.inst.funcs[funcIdx].ft
	argc := len(ft.Params)
	args := make([]Value, argc)
	copy(args, s.vals[len(s.vals)-argc:])
	s.vals = s.vals[:len(s.vals)-argc]

	results, trap := s.call(funcIdx, args)
	if trap != nil {
		return trap
	}
	for _, r := range results {
		if t := s.push(r); t != nil {
			return t
		}
	}
	return nil
}

// dispatchData handles memory access, constants, and numeric operators.
func (s *execState) dispatchData(fn *compiledFunc, instr *wasm.Instruction) *Trap {
	mem := s.inst.memory

	switch instr.Opcode {

	case wasm.OpI32Load:
		imm := instr.Imm.(wasm.MemoryImm)
		raw, trap := mem.loadU32(s.pop().AsU32(), imm.Offset)
		if trap != nil {
			return trap
		}
		return s.push(I32(int32(uint32(raw))))
	case wasm.OpI64Load:
		imm := instr.Imm.(wasm.MemoryImm)
		raw, trap := mem.loadU64(s.pop().AsU32(), imm.Offset)
		if trap != nil {
			return trap
		}
		return s.push(I64(int64(raw)))
	case wasm.OpF32Load:
		imm := instr.Imm.(wasm.MemoryImm)
		raw, trap := mem.loadU32(s.pop().AsU32(), imm.Offset)
		if trap != nil {
			return trap
		}
		return s.push(F32(math.Float32frombits(uint32(raw))))
	case wasm.OpF64Load:
		imm := instr.Imm.(wasm.MemoryImm)
		raw, trap := mem.loadU64(s.pop().AsU32(), imm.Offset)
		if trap != nil {
			return trap
		}
		return s.push(F64(math.Float64frombits(raw)))

	case wasm.OpI32Load8S:
		imm := instr.Imm.(wasm.MemoryImm)
		raw, trap := mem.loadU8(s.pop().AsU32(), imm.Offset)
		if trap != nil {
			return trap
		}
		return s.push(I32(int32(int8(raw))))
	case wasm.OpI32Load8U:
		imm := instr.Imm.(wasm.MemoryImm)
		raw, trap := mem.loadU8(s.pop().AsU32(), imm.Offset)
		if trap != nil {
			return trap
		}
		return s.push(I32(int32(uint32(raw))))
	case wasm.OpI32Load16S:
		imm := instr.Imm.(wasm.MemoryImm)
		raw, trap := mem.loadU16(s.pop().AsU32(), imm.Offset)
		if trap != nil {
			return trap
		}
		return s.push(I32(int32(int16(raw))))
	case wasm.OpI32Load16U:
		imm := instr.Imm.(wasm.MemoryImm)
		raw, trap := mem.loadU16(s.pop().AsU32(), imm.Offset)
		if trap != nil {
			return trap
		}
		return s.push(I32(int32(uint32(raw))))

	case wasm.OpI64Load8S:
		imm := instr.Imm.(wasm.MemoryImm)
		raw, trap := mem.loadU8(s.pop().AsU32(), imm.Offset)
		if trap != nil {
			return trap
		}
		return s.push(I64(int64(int8(raw))))
	case wasm.OpI64Load8U:
		imm := instr.Imm.(wasm.MemoryImm)
		raw, trap := mem.loadU8(s.pop().AsU32(), imm.Offset)
		if trap != nil {
			return trap
		}
		return s.push(I64(int64(raw)))
	case wasm.OpI64Load16S:
		imm := instr.Imm.(wasm.MemoryImm)
		raw, trap := mem.loadU16(s.pop().AsU32(), imm.Offset)
		if trap != nil {
			return trap
		}
		return s.push(I64(int64(int16(raw))))
	case wasm.OpI64Load16U:
		imm := instr.Imm.(wasm.MemoryImm)
		raw, trap := mem.loadU16(s.pop().AsU32(), imm.Offset)
		if trap != nil {
			return trap
		}
		return s.push(I64(int64(raw)))
	case wasm.OpI64Load32S:
		imm := instr.Imm.(wasm.MemoryImm)
		raw, trap := mem.loadU32(s.pop().AsU32(), imm.Offset)
		if trap != nil {
			return trap
		}
		return s.push(I64(int64(int32(uint32(raw)))))
	case wasm.OpI64Load32U:
		imm := instr.Imm.(wasm.MemoryImm)
		raw, trap := mem.loadU32(s.pop().AsU32(), imm.Offset)
		if trap != nil {
			return trap
		}
		return s.push(I64(int64(raw)))

	case wasm.OpI32Store:
		imm := instr.Imm.(wasm.MemoryImm)
		v := s.pop()
		return mem.storeU32(s.pop().AsU32(), imm.Offset, uint64(v.AsU32()))
	case wasm.OpI64Store:
		imm := instr.Imm.(wasm.MemoryImm)
		v := s.pop()
		return mem.storeU64(s.pop().AsU32(), imm.Offset, v.AsU64())
	case wasm.OpF32Store:
		imm := instr.Imm.(wasm.MemoryImm)
		v := s.pop()
		return mem.storeU32(s.pop().AsU32(), imm.Offset, uint64(math.Float32bits(v.AsF32())))
	case wasm.OpF64Store:
		imm := instr.Imm.(wasm.MemoryImm)
		v := s.pop()
		return mem.storeU64(s.pop().AsU32(), imm.Offset, math.Float64bits(v.AsF64()))
	case wasm.OpI32Store8, wasm.OpI64Store8:
		imm := instr.Imm.(wasm.MemoryImm)
		v := s.pop()
		return mem.storeU8(s.pop().AsU32(), imm.Offset, v.AsU64())
	case wasm.OpI32Store16, wasm.OpI64Store16:
		imm := instr.Imm.(wasm.MemoryImm)
		v := s.pop()
		return mem.storeU16(s.pop().AsU32(), imm.Offset, v.AsU64())
	case wasm.OpI64Store32:
		imm := instr.Imm.(wasm.MemoryImm)
		v := s.pop()
		return mem.storeU32(s.pop().AsU32(), imm.Offset, v.AsU64())

	case wasm.OpMemorySize:
		return s.push(I32(int32(mem.Size())))
	case wasm.OpMemoryGrow:
		delta := s.pop().AsU32()
		return s.push(I32(mem.Grow(delta)))

	case wasm.OpI32Const:
		return s.push(I32(instr.Imm.(wasm.I32Imm).Value))
	case wasm.OpI64Const:
		return s.push(I64(instr.Imm.(wasm.I64Imm).Value))
	case wasm.OpF32Const:
		return s.push(F32(instr.Imm.(wasm.F32Imm).Value))
	case wasm.OpF64Const:
		return s.push(F64(instr.Imm.(wasm.F64Imm).Value))

	case wasm.OpI32Eqz:
		return s.push(boolVal(s.pop().AsI32() == 0))
	case wasm.OpI32Eq:
		b, a := s.pop().AsI32(), s.pop().AsI32()
		return s.push(boolVal(a == b))
	case wasm.OpI32Ne:
		b, a := s.pop().AsI32(), s.pop().AsI32()
		return s.push(boolVal(a != b))
	case wasm.OpI32LtS:
		b, a := s.pop().AsI32(), s.pop().AsI32()
		return s.push(boolVal(a < b))
	case wasm.OpI32LtU:
		b, a := s.pop().AsU32(), s.pop().AsU32()
		return s.push(boolVal(a < b))
	case wasm.OpI32GtS:
		b, a := s.pop().AsI32(), s.pop().AsI32()
		return s.push(boolVal(a > b))
	case wasm.OpI32GtU:
		b, a := s.pop().AsU32(), s.pop().AsU32()
		return s.push(boolVal(a > b))
	case wasm.OpI32LeS:
		b, a := s.pop().AsI32(), s.pop().AsI32()
		return s.push(boolVal(a <= b))
	case wasm.OpI32LeU:
		b, a := s.pop().AsU32(), s.pop().AsU32()
		return s.push(boolVal(a <= b))
	case wasm.OpI32GeS:
		b, a := s.pop().AsI32(), s.pop().AsI32()
		return s.push(boolVal(a >= b))
	case wasm.OpI32GeU:
		b, a := s.pop().AsU32(), s.pop().AsU32()
		return s.push(boolVal(a >= b))

	case wasm.OpI64Eqz:
		return s.push(boolVal(s.pop().AsI64() == 0))
	case wasm.OpI64Eq:
		b, a := s.pop().AsI64(), s.pop().AsI64()
		return s.push(boolVal(a == b))
	case wasm.OpI64Ne:
		b, a := s.pop().AsI64(), s.pop().AsI64()
		return s.push(boolVal(a != b))
	case wasm.OpI64LtS:
		b, a := s.pop().AsI64(), s.pop().AsI64()
		return s.push(boolVal(a < b))
	case wasm.OpI64LtU:
		b, a := s.pop().AsU64(), s.pop().AsU64()
		return s.push(boolVal(a < b))
	case wasm.OpI64GtS:
		b, a := s.pop().AsI64(), s.pop().AsI64()
		return s.push(boolVal(a > b))
	case wasm.OpI64GtU:
		b, a := s.pop().AsU64(), s.pop().AsU64()
		return s.push(boolVal(a > b))
	case wasm.OpI64LeS:
		b, a := s.pop().AsI64(), s.pop().AsI64()
		return s.push(boolVal(a <= b))
	case wasm.OpI64LeU:
		b, a := s.pop().AsU64(), s.pop().AsU64()
		return s.push(boolVal(a <= b))
	case wasm.OpI64GeS:
		b, a := s.pop().AsI64(), s.pop().AsI64()
		return s.push(boolVal(a >= b))
	case wasm.OpI64GeU:
		b, a := s.pop().AsU64(), s.pop().AsU64()
		return s.push(boolVal(a >= b))

	case wasm.OpF32Eq:
		b, a := s.pop().AsF32(), s.pop().AsF32()
		return s.push(boolVal(a == b))
	case wasm.OpF32Ne:
		b, a := s.pop().AsF32(), s.pop().AsF32()
		return s.push(boolVal(a != b))
	case wasm.OpF32Lt:
		b, a := s.pop().AsF32(), s.pop().AsF32()
		return s.push(boolVal(a < b))
	case wasm.OpF32Gt:
		b, a := s.pop().AsF32(), s.pop().AsF32()
		return s.push(boolVal(a > b))
	case wasm.OpF32Le:
		b, a := s.pop().AsF32(), s.pop().AsF32()
		return s.push(boolVal(a <= b))
	case wasm.OpF32Ge:
		b, a := s.pop().AsF32(), s.pop().AsF32()
		return s.push(boolVal(a >= b))

	case wasm.OpF64Eq:
		b, a := s.pop().AsF64(), s.pop().AsF64()
		return s.push(boolVal(a == b))
	case wasm.OpF64Ne:
		b, a := s.pop().AsF64(), s.pop().AsF64()
		return s.push(boolVal(a != b))
	case wasm.OpF64Lt:
		b, a := s.pop().AsF64(), s.pop().AsF64()
		return s.push(boolVal(a < b))
	case wasm.OpF64Gt:
		b, a := s.pop().AsF64(), s.pop().AsF64()
		return s.push(boolVal(a > b))
	case wasm.OpF64Le:
		b, a := s.pop().AsF64(), s.pop().AsF64()
		return s.push(boolVal(a <= b))
	case wasm.OpF64Ge:
		b, a := s.pop().AsF64(), s.pop().AsF64()
		return s.push(boolVal(a >= b))

	case wasm.OpI32Clz:
		return s.push(I32(int32(bits.LeadingZeros32(s.pop().AsU32()))))
	case wasm.OpI32Ctz:
		return s.push(I32(int32(bits.TrailingZeros32(s.pop().AsU32()))))
	case wasm.OpI32Popcnt:
		return s.push(I32(int32(bits.OnesCount32(s.pop().AsU32()))))
	case wasm.OpI32Add:
		b, a := s.pop().AsI32(), s.pop().AsI32()
		return s.push(I32(a + b))
	case wasm.OpI32Sub:
		b, a := s.pop().AsI32(), s.pop().AsI32()
		return s.push(I32(a - b))
	case wasm.OpI32Mul:
		b, a := s.pop().AsI32(), s.pop().AsI32()
		return s.push(I32(a * b))
	case wasm.OpI32DivS:
		b, a := s.pop().AsI32(), s.pop().AsI32()
		r, trap := divS32(a, b)
		if trap != nil {
			return trap
		}
		return s.push(I32(r))
	case wasm.OpI32DivU:
		b, a := s.pop().AsU32(), s.pop().AsU32()
		r, trap := divU32(a, b)
		if trap != nil {
			return trap
		}
		return s.push(I32(int32(r)))
	case wasm.OpI32RemS:
		b, a := s.pop().AsI32(), s.pop().AsI32()
		r, trap := remS32(a, b)
		if trap != nil {
			return trap
		}
		return s.push(I32(r))
	case wasm.OpI32RemU:
		b, a := s.pop().AsU32(), s.pop().AsU32()
		r, trap := remU32(a, b)
		if trap != nil {
			return trap
		}
		return s.push(I32(int32(r)))
	case wasm.OpI32And:
		b, a := s.pop().AsU32(), s.pop().AsU32()
		return s.push(I32(int32(a & b)))
	case wasm.OpI32Or:
		b, a := s.pop().AsU32(), s.pop().AsU32()
		return s.push(I32(int32(a | b)))
	case wasm.OpI32Xor:
		b, a := s.pop().AsU32(), s.pop().AsU32()
		return s.push(I32(int32(a ^ b)))
	case wasm.OpI32Shl:
		b, a := s.pop().AsU32(), s.pop().AsU32()
		return s.push(I32(int32(a << (b & 31))))
	case wasm.OpI32ShrS:
		b, a := s.pop().AsU32(), s.pop().AsI32()
		return s.push(I32(a >> (b & 31)))
	case wasm.OpI32ShrU:
		b, a := s.pop().AsU32(), s.pop().AsU32()
		return s.push(I32(int32(a >> (b & 31))))
	case wasm.OpI32Rotl:
		b, a := s.pop().AsU32(), s.pop().AsU32()
		return s.push(I32(int32(bits.RotateLeft32(a, int(b&31)))))
	case wasm.OpI32Rotr:
		b, a := s.pop().AsU32(), s.pop().AsU32()
		return s.push(I32(int32(bits.RotateLeft32(a, -int(b&31)))))

	case wasm.OpI64Clz:
		return s.push(I64(int64(bits.LeadingZeros64(s.pop().AsU64()))))
	case wasm.OpI64Ctz:
		return s.push(I64(int64(bits.TrailingZeros64(s.pop().AsU64()))))
	case wasm.OpI64Popcnt:
		return s.push(I64(int64(bits.OnesCount64(s.pop().AsU64()))))
	case wasm.OpI64Add:
		b, a := s.pop().AsI64(), s.pop().AsI64()
		return s.push(I64(a + b))
	case wasm.OpI64Sub:
		b, a := s.pop().AsI64(), s.pop().AsI64()
		return s.push(I64(a - b))
	case wasm.OpI64Mul:
		b, a := s.pop().AsI64(), s.pop().AsI64()
		return s.push(I64(a * b))
	case wasm.OpI64DivS:
		b, a := s.pop().AsI64(), s.pop().AsI64()
		r, trap := divS64(a, b)
		if trap != nil {
			return trap
		}
		return s.push(I64(r))
	case wasm.OpI64DivU:
		b, a := s.pop().AsU64(), s.pop().AsU64()
		r, trap := divU64(a, b)
		if trap != nil {
			return trap
		}
		return s.push(I64(int64(r)))
	case wasm.OpI64RemS:
		b, a := s.pop().AsI64(), s.pop().AsI64()
		r, trap := remS64(a, b)
		if trap != nil {
			return trap
		}
		return s.push(I64(r))
	case wasm.OpI64RemU:
		b, a := s.pop().AsU64(), s.pop().AsU64()
		r, trap := remU64(a, b)
		if trap != nil {
			return trap
		}
		return s.push(I64(int64(r)))
	case wasm.OpI64And:
		b, a := s.pop().AsU64(), s.pop().AsU64()
		return s.push(I64(int64(a & b)))
	case wasm.OpI64Or:
		b, a := s.pop().AsU64(), s.pop().AsU64()
		return s.push(I64(int64(a | b)))
	case wasm.OpI64Xor:
		b, a := s.pop().AsU64(), s.pop().AsU64()
		return s.push(I64(int64(a ^ b)))
	case wasm.OpI64Shl:
		b, a := s.pop().AsU64(), s.pop().AsU64()
		return s.push(I64(int64(a << (b & 63))))
	case wasm.OpI64ShrS:
		b, a := s.pop().AsU64(), s.pop().AsI64()
		return s.push(I64(a >> (b & 63)))
	case wasm.OpI64ShrU:
		b, a := s.pop().AsU64(), s.pop().AsU64()
		return s.push(I64(int64(a >> (b & 63))))
	case wasm.OpI64Rotl:
		b, a := s.pop().AsU64(), s.pop().AsU64()
		return s.push(I64(int64(bits.RotateLeft64(a, int(b&63)))))
	case wasm.OpI64Rotr:
		b, a := s.pop().AsU64(), s.pop().AsU64()
		return s.push(I64(int64(bits.RotateLeft64(a, -int(b&63)))))

	case wasm.OpF32Abs:
		return s.push(F32(float32(math.Abs(float64(s.pop().AsF32())))))
	case wasm.OpF32Neg:
		return s.push(F32(-s.pop().AsF32()))
	case wasm.OpF32Ceil:
		return s.push(F32(float32(math.Ceil(float64(s.pop().AsF32())))))
	case wasm.OpF32Floor:
		return s.push(F32(float32(math.Floor(float64(s.pop().AsF32())))))
	case wasm.OpF32Trunc:
		return s.push(F32(float32(math.Trunc(float64(s.pop().AsF32())))))
	case wasm.OpF32Nearest:
		return s.push(F32(nearest32(s.pop().AsF32())))
	case wasm.OpF32Sqrt:
		return s.push(F32(float32(math.Sqrt(float64(s.pop().AsF32())))))
	case wasm.OpF32Add:
		b, a := s.pop().AsF32(), s.pop().AsF32()
		return s.push(F32(a + b))
	case wasm.OpF32Sub:
		b, a := s.pop().AsF32(), s.pop().AsF32()
		return s.push(F32(a - b))
	case wasm.OpF32Mul:
		b, a := s.pop().AsF32(), s.pop().AsF32()
		return s.push(F32(a * b))
	case wasm.OpF32Div:
		b, a := s.pop().AsF32(), s.pop().AsF32()
		return s.push(F32(a / b))
	case wasm.OpF32Min:
		b, a := s.pop().AsF32(), s.pop().AsF32()
		return s.push(F32(fmin32(a, b)))
	case wasm.OpF32Max:
		b, a := s.pop().AsF32(), s.pop().AsF32()
		return s.push(F32(fmax32(a, b)))
	case wasm.OpF32Copysign:
		b, a := s.pop().AsF32(), s.pop().AsF32()
		return s.push(F32(float32(math.Copysign(float64(a), float64(b)))))

	case wasm.OpF64Abs:
		return s.push(F64(math.Abs(s.pop().AsF64())))
	case wasm.OpF64Neg:
		return s.push(F64(-s.pop().AsF64()))
	case wasm.OpF64Ceil:
		return s.push(F64(math.Ceil(s.pop().AsF64())))
	case wasm.OpF64Floor:
		return s.push(F64(math.Floor(s.pop().AsF64())))
	case wasm.OpF64Trunc:
		return s.push(F64(math.Trunc(s.pop().AsF64())))
	case wasm.OpF64Nearest:
		return s.push(F64(nearest(s.pop().AsF64())))
	case wasm.OpF64Sqrt:
		return s.push(F64(math.Sqrt(s.pop().AsF64())))
	case wasm.OpF64Add:
		b, a := s.pop().AsF64(), s.pop().AsF64()
		return s.push(F64(a + b))
	case wasm.OpF64Sub:
		b, a := s.pop().AsF64(), s.pop().AsF64()
		return s.push(F64(a - b))
	case wasm.OpF64Mul:
		b, a := s.pop().AsF64(), s.pop().AsF64()
		return s.push(F64(a * b))
	case wasm.OpF64Div:
		b, a := s.pop().AsF64(), s.pop().AsF64()
		return s.push(F64(a / b))
	case wasm.OpF64Min:
		b, a := s.pop().AsF64(), s.pop().AsF64()
		return s.push(F64(fmin(a, b)))
	case wasm.OpF64Max:
		b, a := s.pop().AsF64(), s.pop().AsF64()
		return s.push(F64(fmax(a, b)))
	case wasm.OpF64Copysign:
		b, a := s.pop().AsF64(), s.pop().AsF64()
		return s.push(F64(math.Copysign(a, b)))

	case wasm.OpI32WrapI64:
		return s.push(I32(int32(s.pop().AsI64())))
	case wasm.OpI32TruncF32S:
		r, trap := truncToI32(float64(s.pop().AsF32()))
		if trap != nil {
			return trap
		}
		return s.push(I32(r))
	case wasm.OpI32TruncF32U:
		r, trap := truncToU32(float64(s.pop().AsF32()))
		if trap != nil {
			return trap
		}
		return s.push(I32(int32(r)))
	case wasm.OpI32TruncF64S:
		r, trap := truncToI32(s.pop().AsF64())
		if trap != nil {
			return trap
		}
		return s.push(I32(r))
	case wasm.OpI32TruncF64U:
		r, trap := truncToU32(s.pop().AsF64())
		if trap != nil {
			return trap
		}
		return s.push(I32(int32(r)))
	case wasm.OpI64ExtendI32S:
		return s.push(I64(int64(s.pop().AsI32())))
	case wasm.OpI64ExtendI32U:
		return s.push(I64(int64(s.pop().AsU32())))
	case wasm.OpI64TruncF32S:
		r, trap := truncToI64(float64(s.pop().AsF32()))
		if trap != nil {
			return trap
		}
		return s.push(I64(r))
	case wasm.OpI64TruncF32U:
		r, trap := truncToU64(float64(s.pop().AsF32()))
		if trap != nil {
			return trap
		}
		return s.push(I64(int64(r)))
	case wasm.OpI64TruncF64S:
		r, trap := truncToI64(s.pop().AsF64())
		if trap != nil {
			return trap
		}
		return s.push(I64(r))
	case wasm.OpI64TruncF64U:
		r, trap := truncToU64(s.pop().AsF64())
		if trap != nil {
			return trap
		}
		return s.push(I64(int64(r)))
	case wasm.OpF32ConvertI32S:
		return s.push(F32(float32(s.pop().AsI32())))
	case wasm.OpF32ConvertI32U:
		return s.push(F32(float32(s.pop().AsU32())))
	case wasm.OpF32ConvertI64S:
		return s.push(F32(float32(s.pop().AsI64())))
	case wasm.OpF32ConvertI64U:
		return s.push(F32(float32(s.pop().AsU64())))
	case wasm.OpF32DemoteF64:
		return s.push(F32(float32(s.pop().AsF64())))
	case wasm.OpF64ConvertI32S:
		return s.push(F64(float64(s.pop().AsI32())))
	case wasm.OpF64ConvertI32U:
		return s.push(F64(float64(s.pop().AsU32())))
	case wasm.OpF64ConvertI64S:
		return s.push(F64(float64(s.pop().AsI64())))
	case wasm.OpF64ConvertI64U:
		return s.push(F64(float64(s.pop().AsU64())))
	case wasm.OpF64PromoteF32:
		return s.push(F64(float64(s.pop().AsF32())))
	case wasm.OpI32ReinterpretF32:
		return s.push(I32(int32(math.Float32bits(s.pop().AsF32()))))
	case wasm.OpI64ReinterpretF64:
		return s.push(I64(int64(math.Float64bits(s.pop().AsF64()))))
	case wasm.OpF32ReinterpretI32:
		return s.push(F32(math.Float32frombits(s.pop().AsU32())))
	case wasm.OpF64ReinterpretI64:
		return s.push(F64(math.Float64frombits(s.pop().AsU64())))

	case wasm.OpI32Extend8S:
		return s.push(I32(int32(int8(s.pop().AsI32()))))
	case wasm.OpI32Extend16S:
		return s.push(I32(int32(int16(s.pop().AsI32()))))
	case wasm.OpI64Extend8S:
		return s.push(I64(int64(int8(s.pop().AsI64()))))
	case wasm.OpI64Extend16S:
		return s.push(I64(int64(int16(s.pop().AsI64()))))
	case wasm.OpI64Extend32S:
		return s.push(I64(int64(int32(s.pop().AsI64()))))

	case wasm.OpPrefixMisc:
		switch instr.Imm.(wasm.MiscImm).SubOpcode {
		case wasm.MiscI32TruncSatF32S:
			return s.push(I32(truncSatI32(float64(s.pop().AsF32()))))
		case wasm.MiscI32TruncSatF32U:
			return s.push(I32(int32(truncSatU32(float64(s.pop().AsF32())))))
		case wasm.MiscI32TruncSatF64S:
			return s.push(I32(truncSatI32(s.pop().AsF64())))
		case wasm.MiscI32TruncSatF64U:
			return s.push(I32(int32(truncSatU32(s.pop().AsF64()))))
		case wasm.MiscI64TruncSatF32S:
			return s.push(I64(truncSatI64(float64(s.pop().AsF32()))))
		case wasm.MiscI64TruncSatF32U:
			return s.push(I64(int64(truncSatU64(float64(s.pop().AsF32())))))
		case wasm.MiscI64TruncSatF64S:
			return s.push(I64(truncSatI64(s.pop().AsF64())))
		case wasm.MiscI64TruncSatF64U:
			return s.push(I64(int64(truncSatU64(s.pop().AsF64()))))
		}
	}

	return HostTrap(fmt.Errorf("unhandled opcode 0x%02x", instr.Opcode))
}

func boolVal(b bool) Value {
	if b {
		return I32(1)
	}
	return I32(0)
}
