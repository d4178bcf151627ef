package testbed

import (
	"context"
	"math"
	"testing"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/microwasm/engine"
	"github.com/wippyai/microwasm/runtime"
	"github.com/wippyai/microwasm/wasm"
)

// moduleBuilder assembles small test binaries through the encoder.
type moduleBuilder struct {
	m wasm.Module
}

func build() *moduleBuilder {
	return &moduleBuilder{}
}

func (b *moduleBuilder) typeIdx(ft wasm.FuncType) uint32 {
	for i := range b.m.Types {
		if b.m.Types[i].Equal(&ft) {
			return uint32(i)
		}
	}
	b.m.Types = append(b.m.Types, ft)
	return uint32(len(b.m.Types) - 1)
}

// fn adds a function and exports it under name. The terminating end is
// appended automatically.
func (b *moduleBuilder) fn(name string, ft wasm.FuncType, locals []wasm.LocalEntry, instrs ...wasm.Instruction) *moduleBuilder {
	instrs = append(instrs, op(wasm.OpEnd))
	b.m.Funcs = append(b.m.Funcs, b.typeIdx(ft))
	b.m.Code = append(b.m.Code, wasm.FuncBody{
		Locals: locals,
		Code:   wasm.EncodeInstructions(instrs),
	})
	b.m.Exports = append(b.m.Exports, wasm.Export{
		Name: name,
		Kind: wasm.KindFunc,
		Idx:  uint32(len(b.m.Funcs) - 1),
	})
	return b
}

func (b *moduleBuilder) memory(min uint32) *moduleBuilder {
	b.m.Memories = append(b.m.Memories, wasm.MemoryType{Limits: wasm.Limits{Min: min}})
	return b
}

func (b *moduleBuilder) table(funcIdxs ...uint32) *moduleBuilder {
	b.m.Tables = append(b.m.Tables, wasm.TableType{
		Limits:   wasm.Limits{Min: uint32(len(funcIdxs))},
		ElemType: byte(wasm.ValFuncRef),
	})
	b.m.Elements = append(b.m.Elements, wasm.Element{
		Flags:    0,
		Offset:   wasm.EncodeInstructions([]wasm.Instruction{i32c(0), op(wasm.OpEnd)}),
		FuncIdxs: funcIdxs,
	})
	return b
}

func (b *moduleBuilder) bytes(t *testing.T) []byte {
	t.Helper()
	bin := b.m.Encode()
	if _, err := wasm.ParseModuleValidate(bin); err != nil {
		t.Fatalf("built module does not validate: %v", err)
	}
	return bin
}

func op(opcode byte) wasm.Instruction {
	return wasm.Instruction{Opcode: opcode}
}

func i32c(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}

func i64c(v int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: v}}
}

func local(opcode byte, idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: opcode, Imm: wasm.LocalImm{LocalIdx: idx}}
}

func block(opcode byte, bt int64) wasm.Instruction {
	return wasm.Instruction{Opcode: opcode, Imm: wasm.BlockImm{Type: bt}}
}

func br(opcode byte, label uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: opcode, Imm: wasm.BranchImm{LabelIdx: label}}
}

func memOp(opcode byte, align, offset uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: opcode, Imm: wasm.MemoryImm{Align: align, Offset: offset}}
}

var (
	sigI32I32toI32 = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}
	sigI32toI32    = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}
	sigI64toI64    = wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}, Results: []wasm.ValType{wasm.ValI64}}
	sigF64toF64    = wasm.FuncType{Params: []wasm.ValType{wasm.ValF64}, Results: []wasm.ValType{wasm.ValF64}}
	sigF64toI32    = wasm.FuncType{Params: []wasm.ValType{wasm.ValF64}, Results: []wasm.ValType{wasm.ValI32}}
)

// runDifferential executes fn on wazero and on our interpreter with the
// same arguments and requires bit-identical results.
func runDifferential(t *testing.T, bin []byte, fn string, args ...uint64) {
	t.Helper()
	ctx := context.Background()

	wz := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer wz.Close(ctx)

	wzMod, err := wz.Instantiate(ctx, bin)
	if err != nil {
		t.Fatalf("wazero instantiate: %v", err)
	}
	want, err := wzMod.ExportedFunction(fn).Call(ctx, args...)
	if err != nil {
		t.Fatalf("wazero call: %v", err)
	}

	rt := runtime.New()
	mod, err := rt.LoadModule(ctx, bin)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	ft, err := mod.FuncType(fn)
	if err != nil {
		t.Fatalf("func type: %v", err)
	}
	values := make([]engine.Value, len(args))
	for i, arg := range args {
		values[i] = engine.Raw(ft.Params[i], arg)
	}

	results, err := inst.Invoke(ctx, fn, values)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	if len(results) != len(want) {
		t.Fatalf("result count: got %d, wazero produced %d", len(results), len(want))
	}
	for i, r := range results {
		if r.Bits() != want[i] {
			t.Errorf("result %d: got %#x, wazero produced %#x", i, r.Bits(), want[i])
		}
	}
}

func TestDifferential_Arithmetic(t *testing.T) {
	bin := build().
		fn("add", sigI32I32toI32, nil,
			local(wasm.OpLocalGet, 0), local(wasm.OpLocalGet, 1), op(wasm.OpI32Add)).
		fn("mulsub", sigI32I32toI32, nil,
			local(wasm.OpLocalGet, 0), local(wasm.OpLocalGet, 1), op(wasm.OpI32Mul),
			local(wasm.OpLocalGet, 0), op(wasm.OpI32Sub)).
		bytes(t)

	runDifferential(t, bin, "add", 2, 3)
	runDifferential(t, bin, "add", 0xFFFFFFFF, 1)
	runDifferential(t, bin, "mulsub", 7, 6)
}

func TestDifferential_DivRem(t *testing.T) {
	bin := build().
		fn("divs", sigI32I32toI32, nil,
			local(wasm.OpLocalGet, 0), local(wasm.OpLocalGet, 1), op(wasm.OpI32DivS)).
		fn("remu", sigI32I32toI32, nil,
			local(wasm.OpLocalGet, 0), local(wasm.OpLocalGet, 1), op(wasm.OpI32RemU)).
		bytes(t)

	runDifferential(t, bin, "divs", 100, 7)
	runDifferential(t, bin, "divs", uint64(uint32(0x80000001)), uint64(uint32(0xFFFFFFFF)))
	runDifferential(t, bin, "remu", 100, 7)
}

func TestDifferential_Factorial(t *testing.T) {
	// Iterative factorial with a loop and a conditional branch.
	bin := build().
		fn("fac", sigI64toI64, []wasm.LocalEntry{{Count: 1, ValType: wasm.ValI64}},
			i64c(1), local(wasm.OpLocalSet, 1),
			block(wasm.OpBlock, wasm.BlockTypeVoid),
			block(wasm.OpLoop, wasm.BlockTypeVoid),
			local(wasm.OpLocalGet, 0), i64c(1), op(wasm.OpI64LtS),
			br(wasm.OpBrIf, 1),
			local(wasm.OpLocalGet, 1), local(wasm.OpLocalGet, 0), op(wasm.OpI64Mul),
			local(wasm.OpLocalSet, 1),
			local(wasm.OpLocalGet, 0), i64c(1), op(wasm.OpI64Sub),
			local(wasm.OpLocalSet, 0),
			br(wasm.OpBr, 0),
			op(wasm.OpEnd),
			op(wasm.OpEnd),
			local(wasm.OpLocalGet, 1)).
		bytes(t)

	runDifferential(t, bin, "fac", 0)
	runDifferential(t, bin, "fac", 5)
	runDifferential(t, bin, "fac", 20)
}

func TestDifferential_IfElse(t *testing.T) {
	bin := build().
		fn("abs", sigI32toI32, nil,
			local(wasm.OpLocalGet, 0), i32c(0), op(wasm.OpI32LtS),
			block(wasm.OpIf, wasm.BlockTypeI32),
			i32c(0), local(wasm.OpLocalGet, 0), op(wasm.OpI32Sub),
			op(wasm.OpElse),
			local(wasm.OpLocalGet, 0),
			op(wasm.OpEnd)).
		bytes(t)

	runDifferential(t, bin, "abs", 42)
	runDifferential(t, bin, "abs", uint64(uint32(0xFFFFFFD6))) // -42
	runDifferential(t, bin, "abs", 0)
}

func TestDifferential_BrTable(t *testing.T) {
	bin := build().
		fn("classify", sigI32toI32, nil,
			block(wasm.OpBlock, wasm.BlockTypeVoid),
			block(wasm.OpBlock, wasm.BlockTypeVoid),
			block(wasm.OpBlock, wasm.BlockTypeVoid),
			local(wasm.OpLocalGet, 0),
			wasm.Instruction{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: []uint32{0, 1}, Default: 2}},
			op(wasm.OpEnd),
			i32c(100), op(wasm.OpReturn), op(wasm.OpEnd),
			i32c(200), op(wasm.OpReturn), op(wasm.OpEnd),
			i32c(300)).
		bytes(t)

	runDifferential(t, bin, "classify", 0)
	runDifferential(t, bin, "classify", 1)
	runDifferential(t, bin, "classify", 7)
}

func TestDifferential_Memory(t *testing.T) {
	bin := build().
		memory(1).
		fn("roundtrip", sigI32I32toI32, nil,
			local(wasm.OpLocalGet, 0), local(wasm.OpLocalGet, 1),
			memOp(wasm.OpI32Store, 2, 0),
			local(wasm.OpLocalGet, 0),
			memOp(wasm.OpI32Load, 2, 0)).
		fn("load8s", sigI32toI32, nil,
			i32c(16), local(wasm.OpLocalGet, 0),
			memOp(wasm.OpI32Store8, 0, 0),
			i32c(16),
			memOp(wasm.OpI32Load8S, 0, 0)).
		fn("grow", sigI32toI32, nil,
			local(wasm.OpLocalGet, 0), op(wasm.OpMemoryGrow)).
		bytes(t)

	runDifferential(t, bin, "roundtrip", 128, 0xDEADBEEF)
	runDifferential(t, bin, "load8s", 0x80)
	runDifferential(t, bin, "grow", 2)
}

func TestDifferential_CallIndirect(t *testing.T) {
	b := build().
		fn("double", sigI32toI32, nil,
			local(wasm.OpLocalGet, 0), i32c(2), op(wasm.OpI32Mul)).
		fn("square", sigI32toI32, nil,
			local(wasm.OpLocalGet, 0), local(wasm.OpLocalGet, 0), op(wasm.OpI32Mul))
	typeIdx := b.typeIdx(sigI32toI32)
	b.fn("dispatch", sigI32I32toI32, nil,
		local(wasm.OpLocalGet, 1),
		local(wasm.OpLocalGet, 0),
		wasm.Instruction{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: typeIdx}})
	bin := b.table(0, 1).bytes(t)

	runDifferential(t, bin, "dispatch", 0, 9) // double
	runDifferential(t, bin, "dispatch", 1, 9) // square
}

func TestDifferential_FloatOps(t *testing.T) {
	bin := build().
		fn("nearest", sigF64toF64, nil,
			local(wasm.OpLocalGet, 0), op(wasm.OpF64Nearest)).
		fn("sqrt", sigF64toF64, nil,
			local(wasm.OpLocalGet, 0), op(wasm.OpF64Sqrt)).
		bytes(t)

	for _, v := range []float64{0.5, 1.5, 2.5, -2.5, 4.75} {
		runDifferential(t, bin, "nearest", math.Float64bits(v))
	}
	runDifferential(t, bin, "sqrt", math.Float64bits(2))
}

func TestDifferential_SignExtension(t *testing.T) {
	bin := build().
		fn("ext8", sigI32toI32, nil,
			local(wasm.OpLocalGet, 0), op(wasm.OpI32Extend8S)).
		fn("ext16", sigI32toI32, nil,
			local(wasm.OpLocalGet, 0), op(wasm.OpI32Extend16S)).
		bytes(t)

	runDifferential(t, bin, "ext8", 0x80)
	runDifferential(t, bin, "ext8", 0x7F)
	runDifferential(t, bin, "ext16", 0x8000)
}

func TestDifferential_TruncSat(t *testing.T) {
	bin := build().
		fn("sat", sigF64toI32, nil,
			local(wasm.OpLocalGet, 0),
			wasm.Instruction{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscI32TruncSatF64S}}).
		bytes(t)

	for _, v := range []float64{1.9, -1.9, 1e10, -1e10} {
		runDifferential(t, bin, "sat", math.Float64bits(v))
	}
}
