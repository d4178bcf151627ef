package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	errs "github.com/wippyai/microwasm/errors"
	"github.com/wippyai/microwasm/wasm"
)

// HostFunc is a bound host function. Results must match the declared
// import type; a returned error aborts the invocation as a trap.
type HostFunc func(ctx context.Context, inst *Instance, args []Value) ([]Value, error)

// compiledFunc is a function ready for dispatch. Imported functions
// carry a host binding; local functions carry decoded instructions with
// block targets resolved.
type compiledFunc struct {
	host    HostFunc
	ft      *wasm.FuncType
	code    []wasm.Instruction
	locals  []wasm.ValType // declared locals, params excluded
	end     map[int]int    // opener pc -> matching end pc
	elseOf  map[int]int    // if pc -> else pc
	name    string
	typeIdx uint32
}

// Instance is an instantiated module: memory, table, globals, and
// compiled functions. It is not safe for concurrent use.
type Instance struct {
	module  *wasm.Module
	limits  Limits
	funcs   []compiledFunc
	globals []Value
	memory  *Memory
	table   []int64 // function indices, -1 when uninitialized

	// In-flight execution state. Held on the instance so a host function
	// re-entering Invoke continues the outer call depth and budget
	// instead of starting fresh.
	depth  int
	budget uint64
}

// Instantiate builds an executable instance. hostFuncs must be aligned
// with the module's imported function order; the caller is responsible
// for type-checking them against the import declarations. Active data
// and element segments are applied here, and the start function runs if
// the module declares one.
func Instantiate(ctx context.Context, m *wasm.Module, hostFuncs []HostFunc, limits Limits) (*Instance, error) {
	limits = limits.withDefaults()

	for i := range m.Imports {
		if m.Imports[i].Desc.Kind != wasm.KindFunc {
			return nil, errs.Unsupported(errs.PhaseLink,
				fmt.Sprintf("import %s.%s: only function imports are supported", m.Imports[i].Module, m.Imports[i].Name))
		}
	}
	if len(hostFuncs) != m.NumImportedFuncs() {
		return nil, errs.InvalidInput(errs.PhaseLink,
			fmt.Sprintf("%d host bindings for %d imported functions", len(hostFuncs), m.NumImportedFuncs()))
	}

	inst := &Instance{module: m, limits: limits}

	if err := inst.buildFuncs(hostFuncs); err != nil {
		return nil, err
	}
	if err := inst.buildGlobals(); err != nil {
		return nil, err
	}
	if err := inst.buildMemory(); err != nil {
		return nil, err
	}
	if err := inst.buildTable(); err != nil {
		return nil, err
	}

	if m.Start != nil {
		Logger().Debug("running start function", zap.Uint32("func", *m.Start))
		if _, err := inst.Invoke(ctx, *m.Start, nil); err != nil {
			return nil, errs.Instantiation(err)
		}
	}

	return inst, nil
}

func (inst *Instance) buildFuncs(hostFuncs []HostFunc) error {
	m := inst.module
	inst.funcs = make([]compiledFunc, 0, m.NumFuncs())

	hostIdx := 0
	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		inst.funcs = append(inst.funcs, compiledFunc{
			host:    hostFuncs[hostIdx],
			ft:      &m.Types[imp.Desc.TypeIdx],
			typeIdx: imp.Desc.TypeIdx,
			name:    imp.Module + "." + imp.Name,
		})
		hostIdx++
	}

	for i, typeIdx := range m.Funcs {
		body := &m.Code[i]
		code, err := wasm.DecodeInstructions(body.Code)
		if err != nil {
			return errs.ParseFailed(fmt.Sprintf("function %d body", i), err)
		}
		end, elseOf, err := resolveTargets(code)
		if err != nil {
			return errs.InvalidData(errs.PhaseInstantiate, nil,
				fmt.Sprintf("function %d: %v", i, err))
		}

		locals := make([]wasm.ValType, 0, body.NumLocals())
		for _, e := range body.Locals {
			for j := uint32(0); j < e.Count; j++ {
				locals = append(locals, e.ValType)
			}
		}

		inst.funcs = append(inst.funcs, compiledFunc{
			ft:      &m.Types[typeIdx],
			typeIdx: typeIdx,
			code:    code,
			locals:  locals,
			end:     end,
			elseOf:  elseOf,
		})
	}
	return nil
}

// resolveTargets scans decoded instructions once and records, for every
// block, loop, and if, the index of its matching end, plus the else
// index for ifs. The final end closes the implicit function block and
// has no opener.
func resolveTargets(code []wasm.Instruction) (end, elseOf map[int]int, err error) {
	end = make(map[int]int)
	elseOf = make(map[int]int)
	var openers []int

	for pc := range code {
		switch code[pc].Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			openers = append(openers, pc)
		case wasm.OpElse:
			if len(openers) == 0 {
				return nil, nil, fmt.Errorf("else at %d without open if", pc)
			}
			ifPC := openers[len(openers)-1]
			if code[ifPC].Opcode != wasm.OpIf {
				return nil, nil, fmt.Errorf("else at %d without matching if", pc)
			}
			elseOf[ifPC] = pc
		case wasm.OpEnd:
			if len(openers) > 0 {
				opener := openers[len(openers)-1]
				openers = openers[:len(openers)-1]
				end[opener] = pc
			} else if pc != len(code)-1 {
				return nil, nil, fmt.Errorf("unbalanced end at %d", pc)
			}
		}
	}
	if len(openers) != 0 {
		return nil, nil, fmt.Errorf("%d unclosed blocks", len(openers))
	}
	return end, elseOf, nil
}

func (inst *Instance) buildGlobals() error {
	m := inst.module
	inst.globals = make([]Value, 0, len(m.Globals))
	for i := range m.Globals {
		v, err := inst.evalConstExpr(m.Globals[i].Init)
		if err != nil {
			return errs.Wrap(errs.PhaseInstantiate, errs.KindInvalidData, err,
				fmt.Sprintf("global %d init", i))
		}
		inst.globals = append(inst.globals, v)
	}
	return nil
}

func (inst *Instance) buildMemory() error {
	m := inst.module
	if len(m.Memories) == 0 {
		return nil
	}

	mt := &m.Memories[0]
	if mt.Limits.Min > inst.limits.MemoryPages {
		return errs.LimitExceeded(errs.PhaseInstantiate, "memory min pages",
			uint64(mt.Limits.Min), uint64(inst.limits.MemoryPages))
	}
	// Effective ceiling is the smaller of declared max and host ceiling.
	max := inst.limits.MemoryPages
	if mt.Limits.Max != nil && *mt.Limits.Max < max {
		max = *mt.Limits.Max
	}
	inst.memory = NewMemory(mt.Limits.Min, max)

	for i := range m.Data {
		seg := &m.Data[i]
		if !seg.Active() {
			continue
		}
		off, err := inst.evalConstExpr(seg.Offset)
		if err != nil {
			return errs.Wrap(errs.PhaseInstantiate, errs.KindInvalidData, err,
				fmt.Sprintf("data segment %d offset", i))
		}
		if trap := inst.memory.WriteAt(off.AsU32(), seg.Init); trap != nil {
			return errs.OutOfBounds(errs.PhaseInstantiate,
				[]string{"data", fmt.Sprint(i)}, int(off.AsU32())+len(seg.Init), len(inst.memory.Bytes()))
		}
	}
	return nil
}

func (inst *Instance) buildTable() error {
	m := inst.module
	if len(m.Tables) == 0 {
		return nil
	}

	tt := &m.Tables[0]
	if tt.Limits.Min > inst.limits.TableEntries {
		return errs.LimitExceeded(errs.PhaseInstantiate, "table entries",
			uint64(tt.Limits.Min), uint64(inst.limits.TableEntries))
	}
	inst.table = make([]int64, tt.Limits.Min)
	for i := range inst.table {
		inst.table[i] = -1
	}

	for i := range m.Elements {
		elem := &m.Elements[i]
		if !elem.Active() {
			continue
		}
		off, err := inst.evalConstExpr(elem.Offset)
		if err != nil {
			return errs.Wrap(errs.PhaseInstantiate, errs.KindInvalidData, err,
				fmt.Sprintf("element %d offset", i))
		}
		start := uint64(off.AsU32())
		if start+uint64(len(elem.FuncIdxs)) > uint64(len(inst.table)) {
			return errs.OutOfBounds(errs.PhaseInstantiate,
				[]string{"element", fmt.Sprint(i)}, int(start)+len(elem.FuncIdxs), len(inst.table))
		}
		for j, funcIdx := range elem.FuncIdxs {
			inst.table[start+uint64(j)] = int64(funcIdx)
		}
	}
	return nil
}

// evalConstExpr evaluates a validated constant expression. Only const
// instructions appear here; global.get is rejected because imported
// globals are not supported.
func (inst *Instance) evalConstExpr(expr []byte) (Value, error) {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil {
		return Value{}, err
	}
	if len(instrs) != 2 || instrs[1].Opcode != wasm.OpEnd {
		return Value{}, fmt.Errorf("malformed constant expression")
	}
	switch imm := instrs[0].Imm.(type) {
	case wasm.I32Imm:
		return I32(imm.Value), nil
	case wasm.I64Imm:
		return I64(imm.Value), nil
	case wasm.F32Imm:
		return F32(imm.Value), nil
	case wasm.F64Imm:
		return F64(imm.Value), nil
	default:
		return Value{}, fmt.Errorf("unsupported constant expression opcode 0x%02x", instrs[0].Opcode)
	}
}

// Module returns the underlying parsed module.
func (inst *Instance) Module() *wasm.Module {
	return inst.module
}

// Memory returns the instance's linear memory, or nil if the module
// declares none.
func (inst *Instance) Memory() *Memory {
	return inst.memory
}

// Limits returns the resource limits the instance runs under.
func (inst *Instance) Limits() Limits {
	return inst.limits
}

// GlobalValue returns the current value of a global by index.
func (inst *Instance) GlobalValue(idx uint32) (Value, error) {
	if int(idx) >= len(inst.globals) {
		return Value{}, errs.OutOfBounds(errs.PhaseRuntime, []string{"global"}, int(idx), len(inst.globals))
	}
	return inst.globals[idx], nil
}

// FuncType returns the signature of a function by index.
func (inst *Instance) FuncType(funcIdx uint32) (*wasm.FuncType, error) {
	if int(funcIdx) >= len(inst.funcs) {
		return nil, errs.OutOfBounds(errs.PhaseRuntime, []string{"func"}, int(funcIdx), len(inst.funcs))
	}
	return inst.funcs[funcIdx].ft, nil
}
