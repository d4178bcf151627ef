package wasm

import "fmt"

// ValidateCode type-checks every function body against its declared
// signature. Validation uses an abstract value stack and a control frame
// stack; code after unreachable, br, br_table, and return is checked
// polymorphically.
func (m *Module) ValidateCode() error {
	for i := range m.Code {
		if err := m.validateFunc(i); err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
	}
	return nil
}

// ctrlFrame tracks an open block, loop, if, or the function body itself.
type ctrlFrame struct {
	startTypes  []ValType
	endTypes    []ValType
	height      int
	opcode      byte
	unreachable bool
}

// labelTypes returns the types a branch to this frame must provide: the
// block parameters for a loop, the block results otherwise.
func (f *ctrlFrame) labelTypes() []ValType {
	if f.opcode == OpLoop {
		return f.startTypes
	}
	return f.endTypes
}

// valUnknown marks a stack slot produced by polymorphic code.
const valUnknown ValType = 0

type codeValidator struct {
	m      *Module
	locals []ValType
	vals   []ValType
	ctrls  []ctrlFrame
}

func (m *Module) validateFunc(codeIdx int) error {
	typeIdx := m.Funcs[codeIdx]
	if int(typeIdx) >= len(m.Types) {
		return fmt.Errorf("invalid type index %d", typeIdx)
	}
	ft := &m.Types[typeIdx]
	body := &m.Code[codeIdx]

	if body.NumLocals()+uint64(len(ft.Params)) > uint64(^uint32(0)) {
		return fmt.Errorf("too many locals")
	}

	locals := make([]ValType, 0, len(ft.Params)+int(body.NumLocals()))
	locals = append(locals, ft.Params...)
	for _, e := range body.Locals {
		for i := uint32(0); i < e.Count; i++ {
			locals = append(locals, e.ValType)
		}
	}

	instrs, err := DecodeInstructions(body.Code)
	if err != nil {
		return err
	}
	if len(instrs) == 0 || instrs[len(instrs)-1].Opcode != OpEnd {
		return fmt.Errorf("missing end opcode")
	}

	v := &codeValidator{m: m, locals: locals}
	v.pushCtrl(0, nil, ft.Results)

	for pc := range instrs {
		if len(v.ctrls) == 0 {
			return fmt.Errorf("instruction %d (opcode 0x%02x): code after function end", pc, instrs[pc].Opcode)
		}
		if err := v.step(&instrs[pc]); err != nil {
			return fmt.Errorf("instruction %d (opcode 0x%02x): %w", pc, instrs[pc].Opcode, err)
		}
	}

	if len(v.ctrls) != 0 {
		return fmt.Errorf("%d unclosed blocks", len(v.ctrls))
	}
	if len(v.vals) != len(ft.Results) {
		return fmt.Errorf("function leaves %d values on stack, type declares %d", len(v.vals), len(ft.Results))
	}
	return nil
}

func (v *codeValidator) pushVal(t ValType) {
	v.vals = append(v.vals, t)
}

func (v *codeValidator) pushVals(types []ValType) {
	v.vals = append(v.vals, types...)
}

func (v *codeValidator) popVal() (ValType, error) {
	frame := &v.ctrls[len(v.ctrls)-1]
	if len(v.vals) == frame.height {
		if frame.unreachable {
			return valUnknown, nil
		}
		return 0, fmt.Errorf("value stack underflow")
	}
	t := v.vals[len(v.vals)-1]
	v.vals = v.vals[:len(v.vals)-1]
	return t, nil
}

func (v *codeValidator) popExpect(expect ValType) (ValType, error) {
	actual, err := v.popVal()
	if err != nil {
		return 0, err
	}
	if actual != expect && actual != valUnknown && expect != valUnknown {
		return 0, fmt.Errorf("type mismatch: expected %s, got %s", expect, actual)
	}
	return actual, nil
}

func (v *codeValidator) popVals(types []ValType) error {
	for i := len(types) - 1; i >= 0; i-- {
		if _, err := v.popExpect(types[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *codeValidator) pushCtrl(opcode byte, in, out []ValType) {
	v.ctrls = append(v.ctrls, ctrlFrame{
		opcode:     opcode,
		startTypes: in,
		endTypes:   out,
		height:     len(v.vals),
	})
	v.pushVals(in)
}

func (v *codeValidator) popCtrl() (ctrlFrame, error) {
	if len(v.ctrls) == 0 {
		return ctrlFrame{}, fmt.Errorf("control stack underflow")
	}
	frame := v.ctrls[len(v.ctrls)-1]
	if err := v.popVals(frame.endTypes); err != nil {
		return ctrlFrame{}, err
	}
	if len(v.vals) != frame.height {
		return ctrlFrame{}, fmt.Errorf("block leaves %d extra values on stack", len(v.vals)-frame.height)
	}
	v.ctrls = v.ctrls[:len(v.ctrls)-1]
	return frame, nil
}

// setUnreachable marks the rest of the current block as polymorphic.
func (v *codeValidator) setUnreachable() {
	frame := &v.ctrls[len(v.ctrls)-1]
	v.vals = v.vals[:frame.height]
	frame.unreachable = true
}

func (v *codeValidator) frameAt(labelIdx uint32) (*ctrlFrame, error) {
	if int(labelIdx) >= len(v.ctrls) {
		return nil, fmt.Errorf("branch label %d exceeds depth %d", labelIdx, len(v.ctrls))
	}
	return &v.ctrls[len(v.ctrls)-1-int(labelIdx)], nil
}

// blockTypes resolves a block type immediate to parameter and result lists.
func (v *codeValidator) blockTypes(bt int64) ([]ValType, []ValType, error) {
	switch bt {
	case BlockTypeVoid:
		return nil, nil, nil
	case BlockTypeI32:
		return nil, []ValType{ValI32}, nil
	case BlockTypeI64:
		return nil, []ValType{ValI64}, nil
	case BlockTypeF32:
		return nil, []ValType{ValF32}, nil
	case BlockTypeF64:
		return nil, []ValType{ValF64}, nil
	}
	if bt < 0 || bt >= int64(len(v.m.Types)) {
		return nil, nil, fmt.Errorf("invalid block type %d", bt)
	}
	ft := &v.m.Types[bt]
	return ft.Params, ft.Results, nil
}

func (v *codeValidator) localType(idx uint32) (ValType, error) {
	if int(idx) >= len(v.locals) {
		return 0, fmt.Errorf("local index %d exceeds %d locals", idx, len(v.locals))
	}
	return v.locals[idx], nil
}

func (v *codeValidator) step(instr *Instruction) error {
	switch instr.Opcode {
	case OpUnreachable:
		v.setUnreachable()

	case OpNop:

	case OpBlock, OpLoop:
		in, out, err := v.blockTypes(instr.Imm.(BlockImm).Type)
		if err != nil {
			return err
		}
		if err := v.popVals(in); err != nil {
			return err
		}
		v.pushCtrl(instr.Opcode, in, out)

	case OpIf:
		in, out, err := v.blockTypes(instr.Imm.(BlockImm).Type)
		if err != nil {
			return err
		}
		if _, err := v.popExpect(ValI32); err != nil {
			return err
		}
		if err := v.popVals(in); err != nil {
			return err
		}
		v.pushCtrl(OpIf, in, out)

	case OpElse:
		frame, err := v.popCtrl()
		if err != nil {
			return err
		}
		if frame.opcode != OpIf {
			return fmt.Errorf("else without matching if")
		}
		v.pushCtrl(OpElse, frame.startTypes, frame.endTypes)

	case OpEnd:
		frame, err := v.popCtrl()
		if err != nil {
			return err
		}
		// An if without else must have matching input and output types
		// since the implicit else is empty.
		if frame.opcode == OpIf {
			if len(frame.startTypes) != len(frame.endTypes) {
				return fmt.Errorf("if without else requires matching block input and output")
			}
			for i := range frame.startTypes {
				if frame.startTypes[i] != frame.endTypes[i] {
					return fmt.Errorf("if without else requires matching block input and output")
				}
			}
		}
		v.pushVals(frame.endTypes)

	case OpBr:
		frame, err := v.frameAt(instr.Imm.(BranchImm).LabelIdx)
		if err != nil {
			return err
		}
		if err := v.popVals(frame.labelTypes()); err != nil {
			return err
		}
		v.setUnreachable()

	case OpBrIf:
		frame, err := v.frameAt(instr.Imm.(BranchImm).LabelIdx)
		if err != nil {
			return err
		}
		if _, err := v.popExpect(ValI32); err != nil {
			return err
		}
		labels := frame.labelTypes()
		if err := v.popVals(labels); err != nil {
			return err
		}
		v.pushVals(labels)

	case OpBrTable:
		imm := instr.Imm.(BrTableImm)
		if _, err := v.popExpect(ValI32); err != nil {
			return err
		}
		defFrame, err := v.frameAt(imm.Default)
		if err != nil {
			return err
		}
		defLabels := defFrame.labelTypes()
		for _, label := range imm.Labels {
			frame, err := v.frameAt(label)
			if err != nil {
				return err
			}
			labels := frame.labelTypes()
			if len(labels) != len(defLabels) {
				return fmt.Errorf("br_table targets have mismatched arity")
			}
			// Pop and re-push so each target is checked against the
			// same stack shape.
			popped := make([]ValType, len(labels))
			for i := len(labels) - 1; i >= 0; i-- {
				t, err := v.popExpect(labels[i])
				if err != nil {
					return err
				}
				popped[i] = t
			}
			v.pushVals(popped)
		}
		if err := v.popVals(defLabels); err != nil {
			return err
		}
		v.setUnreachable()

	case OpReturn:
		if err := v.popVals(v.ctrls[0].endTypes); err != nil {
			return err
		}
		v.setUnreachable()

	case OpCall:
		idx := instr.Imm.(CallImm).FuncIdx
		ft := v.m.GetFuncType(idx)
		if ft == nil {
			return fmt.Errorf("call target %d out of range", idx)
		}
		if err := v.popVals(ft.Params); err != nil {
			return err
		}
		v.pushVals(ft.Results)

	case OpCallIndirect:
		imm := instr.Imm.(CallIndirectImm)
		if v.m.NumTables() == 0 {
			return fmt.Errorf("call_indirect requires a table")
		}
		if int(imm.TypeIdx) >= len(v.m.Types) {
			return fmt.Errorf("call_indirect type index %d out of range", imm.TypeIdx)
		}
		ft := &v.m.Types[imm.TypeIdx]
		if _, err := v.popExpect(ValI32); err != nil {
			return err
		}
		if err := v.popVals(ft.Params); err != nil {
			return err
		}
		v.pushVals(ft.Results)

	case OpDrop:
		if _, err := v.popVal(); err != nil {
			return err
		}

	case OpSelect:
		if _, err := v.popExpect(ValI32); err != nil {
			return err
		}
		t1, err := v.popVal()
		if err != nil {
			return err
		}
		t2, err := v.popExpect(t1)
		if err != nil {
			return err
		}
		if t1 == valUnknown {
			v.pushVal(t2)
		} else {
			v.pushVal(t1)
		}

	case OpLocalGet:
		t, err := v.localType(instr.Imm.(LocalImm).LocalIdx)
		if err != nil {
			return err
		}
		v.pushVal(t)

	case OpLocalSet:
		t, err := v.localType(instr.Imm.(LocalImm).LocalIdx)
		if err != nil {
			return err
		}
		if _, err := v.popExpect(t); err != nil {
			return err
		}

	case OpLocalTee:
		t, err := v.localType(instr.Imm.(LocalImm).LocalIdx)
		if err != nil {
			return err
		}
		if _, err := v.popExpect(t); err != nil {
			return err
		}
		v.pushVal(t)

	case OpGlobalGet:
		gt := v.m.GetGlobalType(instr.Imm.(GlobalImm).GlobalIdx)
		if gt == nil {
			return fmt.Errorf("global index out of range")
		}
		v.pushVal(gt.ValType)

	case OpGlobalSet:
		gt := v.m.GetGlobalType(instr.Imm.(GlobalImm).GlobalIdx)
		if gt == nil {
			return fmt.Errorf("global index out of range")
		}
		if !gt.Mutable {
			return fmt.Errorf("global.set on immutable global")
		}
		if _, err := v.popExpect(gt.ValType); err != nil {
			return err
		}

	case OpI32Load, OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U:
		return v.checkLoad(instr, ValI32)
	case OpI64Load, OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U,
		OpI64Load32S, OpI64Load32U:
		return v.checkLoad(instr, ValI64)
	case OpF32Load:
		return v.checkLoad(instr, ValF32)
	case OpF64Load:
		return v.checkLoad(instr, ValF64)

	case OpI32Store, OpI32Store8, OpI32Store16:
		return v.checkStore(instr, ValI32)
	case OpI64Store, OpI64Store8, OpI64Store16, OpI64Store32:
		return v.checkStore(instr, ValI64)
	case OpF32Store:
		return v.checkStore(instr, ValF32)
	case OpF64Store:
		return v.checkStore(instr, ValF64)

	case OpMemorySize:
		if v.m.NumMemories() == 0 {
			return fmt.Errorf("memory.size requires a memory")
		}
		v.pushVal(ValI32)

	case OpMemoryGrow:
		if v.m.NumMemories() == 0 {
			return fmt.Errorf("memory.grow requires a memory")
		}
		if _, err := v.popExpect(ValI32); err != nil {
			return err
		}
		v.pushVal(ValI32)

	case OpI32Const:
		v.pushVal(ValI32)
	case OpI64Const:
		v.pushVal(ValI64)
	case OpF32Const:
		v.pushVal(ValF32)
	case OpF64Const:
		v.pushVal(ValF64)

	case OpI32Eqz:
		return v.checkUnop(ValI32, ValI32)
	case OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU,
		OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU:
		return v.checkBinop(ValI32, ValI32)

	case OpI64Eqz:
		return v.checkUnop(ValI64, ValI32)
	case OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU,
		OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU:
		return v.checkBinop(ValI64, ValI32)

	case OpF32Eq, OpF32Ne, OpF32Lt, OpF32Gt, OpF32Le, OpF32Ge:
		return v.checkBinop(ValF32, ValI32)
	case OpF64Eq, OpF64Ne, OpF64Lt, OpF64Gt, OpF64Le, OpF64Ge:
		return v.checkBinop(ValF64, ValI32)

	case OpI32Clz, OpI32Ctz, OpI32Popcnt:
		return v.checkUnop(ValI32, ValI32)
	case OpI32Add, OpI32Sub, OpI32Mul, OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU,
		OpI32And, OpI32Or, OpI32Xor, OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr:
		return v.checkBinop(ValI32, ValI32)

	case OpI64Clz, OpI64Ctz, OpI64Popcnt:
		return v.checkUnop(ValI64, ValI64)
	case OpI64Add, OpI64Sub, OpI64Mul, OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU,
		OpI64And, OpI64Or, OpI64Xor, OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr:
		return v.checkBinop(ValI64, ValI64)

	case OpF32Abs, OpF32Neg, OpF32Ceil, OpF32Floor, OpF32Trunc, OpF32Nearest, OpF32Sqrt:
		return v.checkUnop(ValF32, ValF32)
	case OpF32Add, OpF32Sub, OpF32Mul, OpF32Div, OpF32Min, OpF32Max, OpF32Copysign:
		return v.checkBinop(ValF32, ValF32)

	case OpF64Abs, OpF64Neg, OpF64Ceil, OpF64Floor, OpF64Trunc, OpF64Nearest, OpF64Sqrt:
		return v.checkUnop(ValF64, ValF64)
	case OpF64Add, OpF64Sub, OpF64Mul, OpF64Div, OpF64Min, OpF64Max, OpF64Copysign:
		return v.checkBinop(ValF64, ValF64)

	case OpI32WrapI64:
		return v.checkUnop(ValI64, ValI32)
	case OpI32TruncF32S, OpI32TruncF32U, OpI32ReinterpretF32:
		return v.checkUnop(ValF32, ValI32)
	case OpI32TruncF64S, OpI32TruncF64U:
		return v.checkUnop(ValF64, ValI32)
	case OpI64ExtendI32S, OpI64ExtendI32U:
		return v.checkUnop(ValI32, ValI64)
	case OpI64TruncF32S, OpI64TruncF32U:
		return v.checkUnop(ValF32, ValI64)
	case OpI64TruncF64S, OpI64TruncF64U, OpI64ReinterpretF64:
		return v.checkUnop(ValF64, ValI64)
	case OpF32ConvertI32S, OpF32ConvertI32U, OpF32ReinterpretI32:
		return v.checkUnop(ValI32, ValF32)
	case OpF32ConvertI64S, OpF32ConvertI64U:
		return v.checkUnop(ValI64, ValF32)
	case OpF32DemoteF64:
		return v.checkUnop(ValF64, ValF32)
	case OpF64ConvertI32S, OpF64ConvertI32U:
		return v.checkUnop(ValI32, ValF64)
	case OpF64ConvertI64S, OpF64ConvertI64U, OpF64ReinterpretI64:
		return v.checkUnop(ValI64, ValF64)
	case OpF64PromoteF32:
		return v.checkUnop(ValF32, ValF64)

	case OpI32Extend8S, OpI32Extend16S:
		return v.checkUnop(ValI32, ValI32)
	case OpI64Extend8S, OpI64Extend16S, OpI64Extend32S:
		return v.checkUnop(ValI64, ValI64)

	case OpPrefixMisc:
		switch instr.Imm.(MiscImm).SubOpcode {
		case MiscI32TruncSatF32S, MiscI32TruncSatF32U:
			return v.checkUnop(ValF32, ValI32)
		case MiscI32TruncSatF64S, MiscI32TruncSatF64U:
			return v.checkUnop(ValF64, ValI32)
		case MiscI64TruncSatF32S, MiscI64TruncSatF32U:
			return v.checkUnop(ValF32, ValI64)
		case MiscI64TruncSatF64S, MiscI64TruncSatF64U:
			return v.checkUnop(ValF64, ValI64)
		}

	default:
		return fmt.Errorf("unsupported opcode")
	}
	return nil
}

func (v *codeValidator) checkUnop(in, out ValType) error {
	if _, err := v.popExpect(in); err != nil {
		return err
	}
	v.pushVal(out)
	return nil
}

func (v *codeValidator) checkBinop(in, out ValType) error {
	if _, err := v.popExpect(in); err != nil {
		return err
	}
	if _, err := v.popExpect(in); err != nil {
		return err
	}
	v.pushVal(out)
	return nil
}

func (v *codeValidator) checkLoad(instr *Instruction, result ValType) error {
	if v.m.NumMemories() == 0 {
		return fmt.Errorf("load requires a memory")
	}
	if err := checkAlignment(instr); err != nil {
		return err
	}
	if _, err := v.popExpect(ValI32); err != nil {
		return err
	}
	v.pushVal(result)
	return nil
}

func (v *codeValidator) checkStore(instr *Instruction, operand ValType) error {
	if v.m.NumMemories() == 0 {
		return fmt.Errorf("store requires a memory")
	}
	if err := checkAlignment(instr); err != nil {
		return err
	}
	if _, err := v.popExpect(operand); err != nil {
		return err
	}
	if _, err := v.popExpect(ValI32); err != nil {
		return err
	}
	return nil
}

// checkAlignment rejects alignment hints wider than the access itself.
func checkAlignment(instr *Instruction) error {
	imm := instr.Imm.(MemoryImm)
	width := memoryAccessWidth(instr.Opcode)
	var maxAlign uint32
	for w := width; w > 1; w >>= 1 {
		maxAlign++
	}
	if imm.Align > maxAlign {
		return fmt.Errorf("alignment 2^%d exceeds access width %d", imm.Align, width)
	}
	return nil
}

// memoryAccessWidth returns the byte width touched by a load or store.
func memoryAccessWidth(opcode byte) uint32 {
	switch opcode {
	case OpI32Load8S, OpI32Load8U, OpI64Load8S, OpI64Load8U, OpI32Store8, OpI64Store8:
		return 1
	case OpI32Load16S, OpI32Load16U, OpI64Load16S, OpI64Load16U, OpI32Store16, OpI64Store16:
		return 2
	case OpI32Load, OpF32Load, OpI64Load32S, OpI64Load32U, OpI32Store, OpF32Store, OpI64Store32:
		return 4
	default:
		return 8
	}
}
