package runtime_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/wippyai/microwasm/engine"
	"github.com/wippyai/microwasm/errors"
	"github.com/wippyai/microwasm/runtime"
	"github.com/wippyai/microwasm/wasm"
)

// addModule exports add(i32, i32) -> i32 and its memory.
func addModule() []byte {
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Funcs:    []uint32{0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Exports: []wasm.Export{
			{Name: "add", Kind: wasm.KindFunc, Idx: 0},
			{Name: "memory", Kind: wasm.KindMemory, Idx: 0},
		},
		Code: []wasm.FuncBody{{Code: []byte{
			wasm.OpLocalGet, 0x00,
			wasm.OpLocalGet, 0x01,
			wasm.OpI32Add,
			wasm.OpEnd,
		}}},
	}
	return m.Encode()
}

func TestLoadModule_RejectsGarbage(t *testing.T) {
	r := runtime.New()

	if _, err := r.LoadModule(context.Background(), []byte("not wasm")); err == nil {
		t.Error("expected error for invalid binary")
	}
	if _, err := r.LoadModule(context.Background(), nil); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestLoadModule_CancelledContext(t *testing.T) {
	r := runtime.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.LoadModule(ctx, addModule()); !stderrors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCall_EndToEnd(t *testing.T) {
	r := runtime.New()
	mod, err := r.LoadModule(context.Background(), addModule())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	inst, err := mod.Instantiate(context.Background())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	results, err := inst.Call(context.Background(), "add", 2, 3)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %v", results)
	}
	if got, ok := results[0].(int32); !ok || got != 5 {
		t.Errorf("add(2, 3) = %v (%T)", results[0], results[0])
	}
}

func TestCall_ArgumentConversion(t *testing.T) {
	r := runtime.New()
	mod, err := r.LoadModule(context.Background(), addModule())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	inst, err := mod.Instantiate(context.Background())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	ctx := context.Background()

	// int, int32, int64, and uint32 all convert to i32 parameters.
	for _, args := range [][]any{
		{int(7), int32(8)},
		{int64(7), uint32(8)},
	} {
		results, err := inst.Call(ctx, "add", args...)
		if err != nil {
			t.Fatalf("Call(%v): %v", args, err)
		}
		if results[0].(int32) != 15 {
			t.Errorf("Call(%v) = %v", args, results[0])
		}
	}

	if _, err := inst.Call(ctx, "add", 1); err == nil {
		t.Error("expected error for wrong argument count")
	}
	if _, err := inst.Call(ctx, "add", "one", "two"); err == nil {
		t.Error("expected error for string argument")
	}
	if _, err := inst.Call(ctx, "missing"); err == nil {
		t.Error("expected error for unknown export")
	}
}

func TestInvoke_RawValues(t *testing.T) {
	r := runtime.New()
	mod, err := r.LoadModule(context.Background(), addModule())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	inst, err := mod.Instantiate(context.Background())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	results, err := inst.Invoke(context.Background(), "add",
		[]engine.Value{engine.I32(-10), engine.I32(4)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if results[0].AsI32() != -6 {
		t.Errorf("add(-10, 4) = %d", results[0].AsI32())
	}
}

func TestModule_ExportsAndFuncType(t *testing.T) {
	r := runtime.New()
	mod, err := r.LoadModule(context.Background(), addModule())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}

	exports := mod.Exports()
	if len(exports) != 2 {
		t.Fatalf("exports = %v", exports)
	}
	kinds := map[string]byte{}
	for _, e := range exports {
		kinds[e.Name] = e.Kind
	}
	if kinds["add"] != wasm.KindFunc || kinds["memory"] != wasm.KindMemory {
		t.Errorf("export kinds = %v", kinds)
	}

	ft, err := mod.FuncType("add")
	if err != nil {
		t.Fatalf("FuncType: %v", err)
	}
	if ft.String() != "(i32, i32) -> (i32)" {
		t.Errorf("FuncType(add) = %s", ft)
	}

	if _, err := mod.FuncType("memory"); err == nil {
		t.Error("expected error for non-function export")
	}
	if _, err := mod.FuncType("nope"); err == nil {
		t.Error("expected error for unknown export")
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	// counter() bumps a mutable global; two instances must not share it.
	m := &wasm.Module{
		Types: []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Globals: []wasm.Global{{
			Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
			Init: []byte{wasm.OpI32Const, 0x00, wasm.OpEnd},
		}},
		Funcs:   []uint32{0},
		Exports: []wasm.Export{{Name: "counter", Kind: wasm.KindFunc, Idx: 0}},
		Code: []wasm.FuncBody{{Code: []byte{
			wasm.OpGlobalGet, 0x00,
			wasm.OpI32Const, 0x01,
			wasm.OpI32Add,
			wasm.OpGlobalSet, 0x00,
			wasm.OpGlobalGet, 0x00,
			wasm.OpEnd,
		}}},
	}

	r := runtime.New()
	mod, err := r.LoadModule(context.Background(), m.Encode())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	ctx := context.Background()

	a, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate a: %v", err)
	}
	b, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate b: %v", err)
	}

	for want := int32(1); want <= 3; want++ {
		results, err := a.Call(ctx, "counter")
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		if results[0].(int32) != want {
			t.Fatalf("instance a counter = %v, want %d", results[0], want)
		}
	}
	results, err := b.Call(ctx, "counter")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if results[0].(int32) != 1 {
		t.Errorf("instance b counter = %v, want 1", results[0])
	}
}

func TestWithLimits_BudgetEnforced(t *testing.T) {
	// spin() loops forever.
	m := &wasm.Module{
		Types:   []wasm.FuncType{{}},
		Funcs:   []uint32{0},
		Exports: []wasm.Export{{Name: "spin", Kind: wasm.KindFunc, Idx: 0}},
		Code: []wasm.FuncBody{{Code: []byte{
			wasm.OpLoop, 0x40,
			wasm.OpBr, 0x00,
			wasm.OpEnd,
			wasm.OpEnd,
		}}},
	}

	limits := engine.DefaultLimits()
	limits.Budget = 5_000

	r := runtime.New(runtime.WithLimits(limits))
	mod, err := r.LoadModule(context.Background(), m.Encode())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	inst, err := mod.Instantiate(context.Background())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	_, err = inst.Call(context.Background(), "spin")
	var trap *engine.Trap
	if !stderrors.As(err, &trap) || trap.Code != engine.TrapBudgetExhausted {
		t.Errorf("expected budget trap, got %v", err)
	}
}

func TestWithLimits_MemoryCeiling(t *testing.T) {
	m := &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 8}}},
	}

	limits := engine.DefaultLimits()
	limits.MemoryPages = 4

	r := runtime.New(runtime.WithLimits(limits))
	mod, err := r.LoadModule(context.Background(), m.Encode())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if _, err := mod.Instantiate(context.Background()); err == nil {
		t.Error("expected error for memory above the configured ceiling")
	}
}

func TestStartFunctionRunsOnInstantiate(t *testing.T) {
	// start writes 0x2A to address 0.
	start := uint32(0)
	m := &wasm.Module{
		Types:    []wasm.FuncType{{}},
		Funcs:    []uint32{0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Start:    &start,
		Exports:  []wasm.Export{{Name: "memory", Kind: wasm.KindMemory, Idx: 0}},
		Code: []wasm.FuncBody{{Code: []byte{
			wasm.OpI32Const, 0x00,
			wasm.OpI32Const, 0x2A,
			wasm.OpI32Store, 0x02, 0x00,
			wasm.OpEnd,
		}}},
	}

	r := runtime.New()
	mod, err := r.LoadModule(context.Background(), m.Encode())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	inst, err := mod.Instantiate(context.Background())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	got, trap := inst.Memory().ReadAt(0, 1)
	if trap != nil {
		t.Fatalf("ReadAt: %v", trap)
	}
	if got[0] != 0x2A {
		t.Errorf("start function did not run: byte = %#x", got[0])
	}
}

func TestLoadModule_ValidationFailureSurfaces(t *testing.T) {
	// Body pushes i64 where the type promises i32.
	m := &wasm.Module{
		Types:   []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Funcs:   []uint32{0},
		Exports: []wasm.Export{{Name: "bad", Kind: wasm.KindFunc, Idx: 0}},
		Code: []wasm.FuncBody{{Code: []byte{
			wasm.OpI64Const, 0x01,
			wasm.OpEnd,
		}}},
	}

	r := runtime.New()
	_, err := r.LoadModule(context.Background(), m.Encode())
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !stderrors.Is(err, errors.Load("", nil)) {
		t.Errorf("expected load-phase error, got %v", err)
	}
}
