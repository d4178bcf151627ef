package runtime

import (
	"context"
	"fmt"

	"github.com/wippyai/microwasm/engine"
	"github.com/wippyai/microwasm/errors"
	"github.com/wippyai/microwasm/wasm"
)

type Instance struct {
	module     *Module
	engineInst *engine.Instance
}

// Call invokes an exported function by name with automatic argument
// conversion. Go arguments are mapped to the function's declared
// parameter types: integer kinds to i32/i64, float kinds to f32/f64.
// Results come back as int32, int64, float32, or float64.
func (i *Instance) Call(ctx context.Context, name string, args ...any) ([]any, error) {
	funcIdx, ok := i.module.module.ExportedFunc(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "exported function", name)
	}

	ft := i.module.module.GetFuncType(funcIdx)
	if len(args) != len(ft.Params) {
		return nil, errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("%s expects %d arguments, got %d", name, len(ft.Params), len(args)))
	}

	values := make([]engine.Value, len(args))
	for idx, arg := range args {
		v, err := toValue(arg, ft.Params[idx])
		if err != nil {
			return nil, errors.TypeMismatch(errors.PhaseRuntime,
				[]string{name, fmt.Sprintf("arg %d", idx)},
				fmt.Sprintf("%T", arg), ft.Params[idx].String())
		}
		values[idx] = v
	}

	results, err := i.engineInst.Invoke(ctx, funcIdx, values)
	if err != nil {
		return nil, err
	}

	out := make([]any, len(results))
	for idx, r := range results {
		out[idx] = fromValue(r)
	}
	return out, nil
}

// Invoke invokes an exported function with explicit engine values.
func (i *Instance) Invoke(ctx context.Context, name string, args []engine.Value) ([]engine.Value, error) {
	funcIdx, ok := i.module.module.ExportedFunc(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "exported function", name)
	}
	return i.engineInst.Invoke(ctx, funcIdx, args)
}

// Memory returns the instance's linear memory, or nil if the module
// declares none.
func (i *Instance) Memory() *engine.Memory {
	return i.engineInst.Memory()
}

func (i *Instance) Engine() *engine.Instance {
	return i.engineInst
}

// toValue converts a Go argument to an engine value of the wanted type.
func toValue(arg any, want wasm.ValType) (engine.Value, error) {
	switch v := arg.(type) {
	case int:
		return intValue(int64(v), want)
	case int32:
		return intValue(int64(v), want)
	case int64:
		return intValue(v, want)
	case uint32:
		return intValue(int64(v), want)
	case uint64:
		return intValue(int64(v), want)
	case float32:
		if want == wasm.ValF32 {
			return engine.F32(v), nil
		}
		if want == wasm.ValF64 {
			return engine.F64(float64(v)), nil
		}
	case float64:
		if want == wasm.ValF64 {
			return engine.F64(v), nil
		}
		if want == wasm.ValF32 {
			return engine.F32(float32(v)), nil
		}
	}
	return engine.Value{}, fmt.Errorf("cannot convert %T to %s", arg, want)
}

func intValue(v int64, want wasm.ValType) (engine.Value, error) {
	switch want {
	case wasm.ValI32:
		return engine.I32(int32(v)), nil
	case wasm.ValI64:
		return engine.I64(v), nil
	case wasm.ValF32:
		return engine.F32(float32(v)), nil
	case wasm.ValF64:
		return engine.F64(float64(v)), nil
	}
	return engine.Value{}, fmt.Errorf("cannot convert integer to %s", want)
}

func fromValue(v engine.Value) any {
	switch v.Type {
	case wasm.ValI32:
		return v.AsI32()
	case wasm.ValI64:
		return v.AsI64()
	case wasm.ValF32:
		return v.AsF32()
	case wasm.ValF64:
		return v.AsF64()
	}
	return nil
}
