package wasm_test

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/wippyai/microwasm/wasm"
)

// fullModule exercises every section the encoder emits.
func fullModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "host", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
		Funcs: []uint32{0, 1},
		Tables: []wasm.TableType{
			{ElemType: byte(wasm.ValFuncRef), Limits: wasm.Limits{Min: 2, Max: ptrTo(uint32(4))}},
		},
		Memories: []wasm.MemoryType{
			{Limits: wasm.Limits{Min: 1, Max: ptrTo(uint32(2))}},
		},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, Init: []byte{0x41, 0x2A, 0x0B}},
			{Type: wasm.GlobalType{ValType: wasm.ValF64}, Init: []byte{0x44, 0, 0, 0, 0, 0, 0, 0, 0, 0x0B}},
		},
		Exports: []wasm.Export{
			{Name: "add", Kind: wasm.KindFunc, Idx: 1},
			{Name: "mem", Kind: wasm.KindMemory, Idx: 0},
		},
		Start: ptrTo(uint32(2)),
		Elements: []wasm.Element{
			{Flags: 0, Offset: []byte{0x41, 0x00, 0x0B}, FuncIdxs: []uint32{1, 2}},
		},
		Code: []wasm.FuncBody{
			{Code: body(0x20, 0x00, 0x20, 0x01, 0x6A)}, // local.get 0; local.get 1; i32.add
			{Locals: []wasm.LocalEntry{{Count: 2, ValType: wasm.ValI64}}, Code: body()},
		},
		Data: []wasm.DataSegment{
			{Flags: 0, Offset: []byte{0x41, 0x08, 0x0B}, Init: []byte("hello")},
			{Flags: 1, Init: []byte{1, 2, 3}},
		},
		CustomSections: []wasm.CustomSection{
			{Name: "name", Data: []byte{0x00}},
		},
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	m := fullModule()

	parsed, err := wasm.ParseModule(m.Encode())
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}

	if !reflect.DeepEqual(m.Types, parsed.Types) {
		t.Errorf("types differ: %v vs %v", m.Types, parsed.Types)
	}
	if !reflect.DeepEqual(m.Imports, parsed.Imports) {
		t.Errorf("imports differ")
	}
	if !reflect.DeepEqual(m.Funcs, parsed.Funcs) {
		t.Errorf("funcs differ: %v vs %v", m.Funcs, parsed.Funcs)
	}
	if !reflect.DeepEqual(m.Tables, parsed.Tables) {
		t.Errorf("tables differ")
	}
	if !reflect.DeepEqual(m.Memories, parsed.Memories) {
		t.Errorf("memories differ")
	}
	if !reflect.DeepEqual(m.Globals, parsed.Globals) {
		t.Errorf("globals differ")
	}
	if !reflect.DeepEqual(m.Exports, parsed.Exports) {
		t.Errorf("exports differ")
	}
	if parsed.Start == nil || *parsed.Start != *m.Start {
		t.Errorf("start differs")
	}
	if !reflect.DeepEqual(m.Elements, parsed.Elements) {
		t.Errorf("elements differ")
	}
	if !reflect.DeepEqual(m.Code, parsed.Code) {
		t.Errorf("code differs")
	}
	if !reflect.DeepEqual(m.Data, parsed.Data) {
		t.Errorf("data differs")
	}
	if !reflect.DeepEqual(m.CustomSections, parsed.CustomSections) {
		t.Errorf("custom sections differ")
	}
}

func TestEncodeStable(t *testing.T) {
	m := fullModule()
	first := m.Encode()
	second := m.Encode()
	if !bytes.Equal(first, second) {
		t.Error("encoding is not deterministic")
	}
}

func TestEncodeEmptyModule(t *testing.T) {
	m := &wasm.Module{}
	data := m.Encode()

	want := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	if !bytes.Equal(data, want) {
		t.Errorf("empty module encoding: %x", data)
	}
}
