package wasm

import "fmt"

// Validate checks the module for structural validity: index spaces, limits,
// export rules, and constant expression typing. Function body validation is
// separate, see ValidateCode.
func (m *Module) Validate() error {
	if err := m.validateTypeIndices(); err != nil {
		return err
	}
	if err := m.validateFunctionIndices(); err != nil {
		return err
	}
	if err := m.validateTableIndices(); err != nil {
		return err
	}
	if err := m.validateMemoryIndices(); err != nil {
		return err
	}
	if err := m.validateGlobalInits(); err != nil {
		return err
	}
	if err := m.validateExports(); err != nil {
		return err
	}
	if err := m.validateStart(); err != nil {
		return err
	}
	if err := m.validateCodeCount(); err != nil {
		return err
	}
	if err := m.validateSegmentOffsets(); err != nil {
		return err
	}
	return nil
}

// ParseModuleValidate parses a WebAssembly binary and validates it,
// including all function bodies.
// This is a convenience function combining ParseModule, Validate, and ValidateCode.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := m.ValidateCode(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))

	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d references invalid type index %d", i, typeIdx)
		}
	}

	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= numTypes {
			return fmt.Errorf("import %d (%s.%s) references invalid type index %d", i, imp.Module, imp.Name, imp.Desc.TypeIdx)
		}
	}

	return nil
}

func (m *Module) validateFunctionIndices() error {
	numFuncs := uint32(m.NumFuncs())

	if m.Start != nil && *m.Start >= numFuncs {
		return fmt.Errorf("start function index %d exceeds function count %d", *m.Start, numFuncs)
	}

	for i, elem := range m.Elements {
		for j, funcIdx := range elem.FuncIdxs {
			if funcIdx >= numFuncs {
				return fmt.Errorf("element %d, entry %d references invalid function index %d", i, j, funcIdx)
			}
		}
	}

	for i, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Idx >= numFuncs {
			return fmt.Errorf("export %d (%s) references invalid function index %d", i, exp.Name, exp.Idx)
		}
	}

	return nil
}

func (m *Module) validateTableIndices() error {
	numTables := uint32(m.NumTables())
	if numTables > 1 {
		return fmt.Errorf("at most one table is allowed, found %d", numTables)
	}

	for i := range m.Elements {
		elem := &m.Elements[i]
		if elem.Active() && elem.TableIdx >= numTables {
			return fmt.Errorf("element %d references invalid table index %d", i, elem.TableIdx)
		}
	}

	for i, exp := range m.Exports {
		if exp.Kind == KindTable && exp.Idx >= numTables {
			return fmt.Errorf("export %d (%s) references invalid table index %d", i, exp.Name, exp.Idx)
		}
	}

	return nil
}

func (m *Module) validateMemoryIndices() error {
	numMemories := uint32(m.NumMemories())
	if numMemories > 1 {
		return fmt.Errorf("at most one memory is allowed, found %d", numMemories)
	}

	for i := range m.Data {
		data := &m.Data[i]
		if data.Active() && data.MemIdx >= numMemories {
			return fmt.Errorf("data segment %d references invalid memory index %d", i, data.MemIdx)
		}
	}

	for i, exp := range m.Exports {
		if exp.Kind == KindMemory && exp.Idx >= numMemories {
			return fmt.Errorf("export %d (%s) references invalid memory index %d", i, exp.Name, exp.Idx)
		}
	}

	return nil
}

func (m *Module) validateGlobalInits() error {
	numImported := uint32(m.NumImportedGlobals())
	for i := range m.Globals {
		g := &m.Globals[i]
		if err := m.validateConstExpr(g.Init, g.Type.ValType, numImported); err != nil {
			return fmt.Errorf("global %d init: %w", i, err)
		}
	}

	for i, exp := range m.Exports {
		if exp.Kind == KindGlobal && exp.Idx >= uint32(m.NumGlobals()) {
			return fmt.Errorf("export %d (%s) references invalid global index %d", i, exp.Name, exp.Idx)
		}
	}

	return nil
}

func (m *Module) validateExports() error {
	seen := make(map[string]bool)
	for i, exp := range m.Exports {
		if seen[exp.Name] {
			return fmt.Errorf("duplicate export name %q at index %d", exp.Name, i)
		}
		seen[exp.Name] = true
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}

	funcType := m.GetFuncType(*m.Start)
	if funcType == nil {
		return fmt.Errorf("start function %d has no type", *m.Start)
	}

	if len(funcType.Params) != 0 || len(funcType.Results) != 0 {
		return fmt.Errorf("start function must have signature [] -> [], got [%d params] -> [%d results]",
			len(funcType.Params), len(funcType.Results))
	}

	return nil
}

func (m *Module) validateCodeCount() error {
	if len(m.Code) != len(m.Funcs) {
		return fmt.Errorf("code section has %d entries but function section has %d",
			len(m.Code), len(m.Funcs))
	}
	return nil
}

func (m *Module) validateSegmentOffsets() error {
	numImported := uint32(m.NumImportedGlobals())

	for i := range m.Elements {
		elem := &m.Elements[i]
		if !elem.Active() {
			continue
		}
		if err := m.validateConstExpr(elem.Offset, ValI32, numImported); err != nil {
			return fmt.Errorf("element %d offset: %w", i, err)
		}
	}

	for i := range m.Data {
		data := &m.Data[i]
		if !data.Active() {
			continue
		}
		if err := m.validateConstExpr(data.Offset, ValI32, numImported); err != nil {
			return fmt.Errorf("data segment %d offset: %w", i, err)
		}
	}

	return nil
}

// validateConstExpr checks that a constant expression has exactly one
// instruction of the expected type followed by end. global.get may only
// reference imported immutable globals.
func (m *Module) validateConstExpr(expr []byte, expected ValType, numImportedGlobals uint32) error {
	instrs, err := DecodeInstructions(expr)
	if err != nil {
		return err
	}
	if len(instrs) != 2 || instrs[1].Opcode != OpEnd {
		return fmt.Errorf("constant expression must be a single instruction followed by end")
	}

	var actual ValType
	switch instrs[0].Opcode {
	case OpI32Const:
		actual = ValI32
	case OpI64Const:
		actual = ValI64
	case OpF32Const:
		actual = ValF32
	case OpF64Const:
		actual = ValF64
	case OpGlobalGet:
		idx := instrs[0].Imm.(GlobalImm).GlobalIdx
		if idx >= numImportedGlobals {
			return fmt.Errorf("constant expression references non-imported global %d", idx)
		}
		gt := m.GetGlobalType(idx)
		if gt == nil {
			return fmt.Errorf("constant expression references invalid global %d", idx)
		}
		if gt.Mutable {
			return fmt.Errorf("constant expression references mutable global %d", idx)
		}
		actual = gt.ValType
	default:
		return fmt.Errorf("opcode 0x%02x not allowed in constant expression", instrs[0].Opcode)
	}

	if actual != expected {
		return fmt.Errorf("constant expression has type %s, expected %s", actual, expected)
	}
	return nil
}
