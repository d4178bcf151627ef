package wasm_test

import (
	"testing"

	"github.com/wippyai/microwasm/wasm"
)

func TestValidate_FuncTypeIndexOutOfBounds(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{3},
		Code:  []wasm.FuncBody{{Code: body()}},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for type index out of bounds")
	}
}

func TestValidate_ExportIndexOutOfBounds(t *testing.T) {
	m := &wasm.Module{
		Types:   []wasm.FuncType{{}},
		Funcs:   []uint32{0},
		Code:    []wasm.FuncBody{{Code: body()}},
		Exports: []wasm.Export{{Name: "f", Kind: wasm.KindFunc, Idx: 9}},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for export index out of bounds")
	}
}

func TestValidate_MultipleMemories(t *testing.T) {
	m := &wasm.Module{
		Memories: []wasm.MemoryType{
			{Limits: wasm.Limits{Min: 1}},
			{Limits: wasm.Limits{Min: 1}},
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for multiple memories")
	}
}

func TestValidate_MultipleTables(t *testing.T) {
	m := &wasm.Module{
		Tables: []wasm.TableType{
			{ElemType: byte(wasm.ValFuncRef), Limits: wasm.Limits{Min: 1}},
			{ElemType: byte(wasm.ValFuncRef), Limits: wasm.Limits{Min: 1}},
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for multiple tables")
	}
}

func TestValidate_StartSignature(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}},
		},
		Funcs: []uint32{0},
		Start: ptrTo(uint32(0)),
		Code:  []wasm.FuncBody{{Code: body()}},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for start function with parameters")
	}
}

func TestValidate_StartIndexOutOfBounds(t *testing.T) {
	m := &wasm.Module{
		Start: ptrTo(uint32(5)),
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for start index out of bounds")
	}
}

func TestValidate_GlobalInitTypeMismatch(t *testing.T) {
	m := &wasm.Module{
		Globals: []wasm.Global{{
			Type: wasm.GlobalType{ValType: wasm.ValI64},
			Init: []byte{0x41, 0x00, 0x0B}, // i32.const 0
		}},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for global init type mismatch")
	}
}

func TestValidate_ElementWithoutTable(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{{Code: body()}},
		Elements: []wasm.Element{
			{Flags: 0, Offset: []byte{0x41, 0x00, 0x0B}, FuncIdxs: []uint32{0}},
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for active element without table")
	}
}

func TestValidate_ElementFuncIndexOutOfBounds(t *testing.T) {
	m := &wasm.Module{
		Tables: []wasm.TableType{
			{ElemType: byte(wasm.ValFuncRef), Limits: wasm.Limits{Min: 1}},
		},
		Elements: []wasm.Element{
			{Flags: 0, Offset: []byte{0x41, 0x00, 0x0B}, FuncIdxs: []uint32{4}},
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for element func index out of bounds")
	}
}

func TestValidate_DataWithoutMemory(t *testing.T) {
	m := &wasm.Module{
		Data: []wasm.DataSegment{
			{Flags: 0, Offset: []byte{0x41, 0x00, 0x0B}, Init: []byte{1}},
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for active data without memory")
	}
}

func TestValidate_DataOffsetTypeMismatch(t *testing.T) {
	m := &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Data: []wasm.DataSegment{
			{Flags: 0, Offset: []byte{0x42, 0x00, 0x0B}, Init: []byte{1}}, // i64.const 0
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for i64 data offset")
	}
}

func TestValidate_ConstExprMutableImportedGlobal(t *testing.T) {
	m := &wasm.Module{
		Imports: []wasm.Import{
			{Module: "env", Name: "g", Desc: wasm.ImportDesc{Kind: wasm.KindGlobal,
				Global: &wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}}},
		},
		Globals: []wasm.Global{{
			Type: wasm.GlobalType{ValType: wasm.ValI32},
			Init: []byte{0x23, 0x00, 0x0B}, // global.get 0
		}},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for init referencing mutable global")
	}
}

func TestValidate_ConstExprImportedGlobal(t *testing.T) {
	m := &wasm.Module{
		Imports: []wasm.Import{
			{Module: "env", Name: "g", Desc: wasm.ImportDesc{Kind: wasm.KindGlobal,
				Global: &wasm.GlobalType{ValType: wasm.ValI32}}},
		},
		Globals: []wasm.Global{{
			Type: wasm.GlobalType{ValType: wasm.ValI32},
			Init: []byte{0x23, 0x00, 0x0B},
		}},
	}
	if err := m.Validate(); err != nil {
		t.Errorf("immutable imported global in init should validate: %v", err)
	}
}

func TestValidate_ConstExprLocalGlobal(t *testing.T) {
	// Init expressions may only reference imported globals.
	m := &wasm.Module{
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: []byte{0x41, 0x00, 0x0B}},
			{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: []byte{0x23, 0x00, 0x0B}},
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for init referencing non-imported global")
	}
}

func TestValidate_ValidModule(t *testing.T) {
	m := fullModule()
	// fullModule's start points at a valid zero-signature function.
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseModuleValidate_RunsCodeValidation(t *testing.T) {
	// Body drops from an empty stack.
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{{Code: body(0x1A)}}, // drop
	}
	if _, err := wasm.ParseModuleValidate(m.Encode()); err == nil {
		t.Error("expected error for stack underflow")
	}
}
