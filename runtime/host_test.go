package runtime_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/wippyai/microwasm/errors"
	"github.com/wippyai/microwasm/runtime"
	"github.com/wippyai/microwasm/wasm"
)

func TestRegisterFunc_SignatureDerivation(t *testing.T) {
	cases := []struct {
		name string
		fn   any
		want string
	}{
		{"plain", func(a, b int32) int32 { return a + b }, "(i32, i32) -> (i32)"},
		{"no results", func(a int32) {}, "(i32) -> ()"},
		{"mixed widths", func(a int64, b float32) float64 { return 0 }, "(i64, f32) -> (f64)"},
		{"unsigned", func(a uint32, b uint64) uint32 { return a }, "(i32, i64) -> (i32)"},
		{"context only", func(ctx context.Context, a int32) int32 { return a }, "(i32) -> (i32)"},
		{"context and caller", func(ctx context.Context, c *runtime.Caller, a int32) int32 { return a }, "(i32) -> (i32)"},
		{"trailing error", func(a int32) (int32, error) { return a, nil }, "(i32) -> (i32)"},
		{"error only", func() error { return nil }, "() -> ()"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := runtime.NewHostRegistry()
			if err := reg.RegisterFunc("env", "f", tc.fn); err != nil {
				t.Fatalf("RegisterFunc: %v", err)
			}
			ft, ok := reg.Lookup("env", "f")
			if !ok {
				t.Fatal("registered function not found")
			}
			if got := ft.String(); got != tc.want {
				t.Errorf("derived type %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRegisterFunc_Rejections(t *testing.T) {
	reg := runtime.NewHostRegistry()

	if err := reg.RegisterFunc("", "f", func() {}); err == nil {
		t.Error("empty module name accepted")
	}
	if err := reg.RegisterFunc("env", "", func() {}); err == nil {
		t.Error("empty function name accepted")
	}
	if err := reg.RegisterFunc("env", "f", 42); err == nil {
		t.Error("non-function handler accepted")
	}
	if err := reg.RegisterFunc("env", "f", func(s string) {}); err == nil {
		t.Error("string parameter accepted")
	}
	if err := reg.RegisterFunc("env", "f", func() (int32, int32) { return 0, 0 }); err == nil {
		t.Error("multiple numeric results accepted")
	}
	if err := reg.RegisterFunc("env", "f", func(c *runtime.Caller, ctx context.Context) {}); err == nil {
		t.Error("context after caller accepted")
	}
}

func importingModule(module, name string, ft wasm.FuncType) []byte {
	m := &wasm.Module{
		Types: []wasm.FuncType{ft},
		Imports: []wasm.Import{
			{Module: module, Name: name, Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
	}
	return m.Encode()
}

func TestBind_MissingImports(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Imports: []wasm.Import{
			{Module: "env", Name: "alpha", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
			{Module: "env", Name: "beta", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
			{Module: "sys", Name: "gamma", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
	}

	r := runtime.New()
	if err := r.RegisterFunc("env", "beta", func() {}); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}

	mod, err := r.LoadModule(context.Background(), m.Encode())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	_, err = mod.Instantiate(context.Background())
	if err == nil {
		t.Fatal("expected missing import error")
	}

	var missing *errors.MissingImportsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("expected MissingImportsError, got %v", err)
	}
	if len(missing.Imports) != 2 {
		t.Fatalf("missing count = %d: %v", len(missing.Imports), missing.Imports)
	}
	got := map[string]bool{}
	for _, imp := range missing.Imports {
		got[imp.Module+"#"+imp.Function] = true
	}
	if !got["env#alpha"] || !got["sys#gamma"] {
		t.Errorf("missing set = %v", missing.Imports)
	}
}

func TestBind_SignatureMismatch(t *testing.T) {
	declared := wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	}

	r := runtime.New()
	if err := r.RegisterFunc("env", "add", func(a int64) int64 { return a }); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}

	mod, err := r.LoadModule(context.Background(), importingModule("env", "add", declared))
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	_, err = mod.Instantiate(context.Background())
	if err == nil {
		t.Fatal("expected signature mismatch error")
	}
	if !stderrors.Is(err, errors.TypeMismatch(errors.PhaseLink, nil, "", "")) {
		t.Errorf("expected link type mismatch, got %v", err)
	}
}

func TestHostFunction_ErrorReturn(t *testing.T) {
	// f() calls env.fail once; the host error surfaces as the trap cause.
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Imports: []wasm.Import{
			{Module: "env", Name: "fail", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
		Funcs:   []uint32{0},
		Exports: []wasm.Export{{Name: "f", Kind: wasm.KindFunc, Idx: 1}},
		Code: []wasm.FuncBody{{Code: []byte{
			wasm.OpCall, 0x00, wasm.OpEnd,
		}}},
	}

	sentinel := fmt.Errorf("bus fault")
	r := runtime.New()
	if err := r.RegisterFunc("env", "fail", func() error { return sentinel }); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}

	mod, err := r.LoadModule(context.Background(), m.Encode())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	inst, err := mod.Instantiate(context.Background())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	_, err = inst.Call(context.Background(), "f")
	if err == nil {
		t.Fatal("expected trap from host error")
	}
	if !stderrors.Is(err, sentinel) {
		t.Errorf("host cause lost: %v", err)
	}
}

func TestHostFunction_CallerMemoryAccess(t *testing.T) {
	// env.fill writes a byte pattern into guest memory through the caller.
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}},
			{},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "fill", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
		Funcs:    []uint32{1},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Exports: []wasm.Export{
			{Name: "f", Kind: wasm.KindFunc, Idx: 1},
			{Name: "memory", Kind: wasm.KindMemory, Idx: 0},
		},
		Code: []wasm.FuncBody{{Code: []byte{
			wasm.OpI32Const, 0x10, // addr 16
			wasm.OpI32Const, 0x04, // len 4
			wasm.OpCall, 0x00,
			wasm.OpEnd,
		}}},
	}

	r := runtime.New()
	err := r.RegisterFunc("env", "fill", func(ctx context.Context, c *runtime.Caller, addr, n int32) error {
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = 0xAB
		}
		if trap := c.Memory().WriteAt(uint32(addr), buf); trap != nil {
			return trap
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}

	mod, err := r.LoadModule(context.Background(), m.Encode())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	inst, err := mod.Instantiate(context.Background())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if _, err := inst.Call(context.Background(), "f"); err != nil {
		t.Fatalf("Call: %v", err)
	}

	got, trap := inst.Memory().ReadAt(16, 4)
	if trap != nil {
		t.Fatalf("ReadAt: %v", trap)
	}
	for i, b := range got {
		if b != 0xAB {
			t.Errorf("byte %d = %#x", i, b)
		}
	}
}

func TestLookup_Unknown(t *testing.T) {
	reg := runtime.NewHostRegistry()
	if _, ok := reg.Lookup("env", "nope"); ok {
		t.Error("Lookup returned a function that was never registered")
	}
}
