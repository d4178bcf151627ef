package runtime

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/wippyai/microwasm/engine"
	"github.com/wippyai/microwasm/errors"
	"github.com/wippyai/microwasm/wasm"
)

// Caller gives a host function access to the calling instance, most
// commonly its linear memory.
type Caller struct {
	inst *engine.Instance
}

func (c *Caller) Memory() *engine.Memory {
	return c.inst.Memory()
}

func (c *Caller) Instance() *engine.Instance {
	return c.inst
}

// HostRegistry maps (module, name) import pairs to Go functions.
type HostRegistry struct {
	funcs map[string]map[string]*hostBinding
	mu    sync.RWMutex
}

// hostBinding is a registered Go function with its derived wasm type.
type hostBinding struct {
	fn       reflect.Value
	funcType *wasm.FuncType
	wantCtx  bool
	wantCall bool
	wantErr  bool
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs: make(map[string]map[string]*hostBinding),
	}
}

var (
	ctxType    = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType    = reflect.TypeOf((*error)(nil)).Elem()
	callerType = reflect.TypeOf((*Caller)(nil))
)

// RegisterFunc registers fn under the given import module and name.
//
// fn must be a Go function whose parameters and results are int32,
// uint32, int64, uint64, float32, or float64. It may additionally take
// a leading context.Context, a *Caller after that, and return a
// trailing error. The wasm signature is derived from the remaining
// numeric parameters and results.
func (r *HostRegistry) RegisterFunc(module, name string, fn any) error {
	if module == "" {
		return errors.InvalidInput(errors.PhaseHost, "module cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}

	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			GoType(reflect.TypeOf(fn).String()).
			Detail("handler must be a function").
			Build()
	}

	binding, err := newHostBinding(rv)
	if err != nil {
		return errors.Registration(errors.PhaseHost, module, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.funcs[module] == nil {
		r.funcs[module] = make(map[string]*hostBinding)
	}
	r.funcs[module][name] = binding

	return nil
}

// Lookup returns the derived wasm type of a registered function.
func (r *HostRegistry) Lookup(module, name string) (*wasm.FuncType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b := r.funcs[module][name]
	if b == nil {
		return nil, false
	}
	return b.funcType, true
}

// Bind resolves every function import of m against the registry and
// returns host bindings aligned with the module's import order. All
// missing imports are reported together.
func (r *HostRegistry) Bind(m *wasm.Module) ([]engine.HostFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hostFuncs := make([]engine.HostFunc, 0, m.NumImportedFuncs())
	var missing []string

	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}

		b := r.funcs[imp.Module][imp.Name]
		if b == nil {
			missing = append(missing, imp.Module+"#"+imp.Name)
			continue
		}

		declared := &m.Types[imp.Desc.TypeIdx]
		if !b.funcType.Equal(declared) {
			return nil, errors.TypeMismatch(errors.PhaseLink,
				[]string{imp.Module, imp.Name},
				b.funcType.String(), declared.String())
		}

		hostFuncs = append(hostFuncs, b.invoke)
	}

	if len(missing) > 0 {
		return nil, errors.NewMissingImportsError(missing)
	}
	return hostFuncs, nil
}

// newHostBinding derives a wasm signature from a Go function type.
func newHostBinding(rv reflect.Value) (*hostBinding, error) {
	rt := rv.Type()
	b := &hostBinding{fn: rv, funcType: &wasm.FuncType{}}

	in := 0
	if in < rt.NumIn() && rt.In(in) == ctxType {
		b.wantCtx = true
		in++
	}
	if in < rt.NumIn() && rt.In(in) == callerType {
		b.wantCall = true
		in++
	}
	for ; in < rt.NumIn(); in++ {
		vt, ok := goToWasmType(rt.In(in))
		if !ok {
			return nil, fmt.Errorf("unsupported parameter type %s", rt.In(in))
		}
		b.funcType.Params = append(b.funcType.Params, vt)
	}

	out := rt.NumOut()
	if out > 0 && rt.Out(out-1) == errType {
		b.wantErr = true
		out--
	}
	if out > 1 {
		return nil, fmt.Errorf("at most one result supported, got %d", out)
	}
	for i := 0; i < out; i++ {
		vt, ok := goToWasmType(rt.Out(i))
		if !ok {
			return nil, fmt.Errorf("unsupported result type %s", rt.Out(i))
		}
		b.funcType.Results = append(b.funcType.Results, vt)
	}

	return b, nil
}

// invoke adapts the Go function to the engine's host calling convention.
func (b *hostBinding) invoke(ctx context.Context, inst *engine.Instance, args []engine.Value) ([]engine.Value, error) {
	rt := b.fn.Type()
	in := make([]reflect.Value, 0, rt.NumIn())

	if b.wantCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	if b.wantCall {
		in = append(in, reflect.ValueOf(&Caller{inst: inst}))
	}
	for _, arg := range args {
		in = append(in, valueToReflect(arg, rt.In(len(in))))
	}

	out := b.fn.Call(in)

	if b.wantErr {
		last := out[len(out)-1]
		if !last.IsNil() {
			return nil, last.Interface().(error)
		}
		out = out[:len(out)-1]
	}

	results := make([]engine.Value, len(out))
	for i, v := range out {
		results[i] = reflectToValue(v, b.funcType.Results[i])
	}
	return results, nil
}

func goToWasmType(t reflect.Type) (wasm.ValType, bool) {
	switch t.Kind() {
	case reflect.Int32, reflect.Uint32:
		return wasm.ValI32, true
	case reflect.Int64, reflect.Uint64:
		return wasm.ValI64, true
	case reflect.Float32:
		return wasm.ValF32, true
	case reflect.Float64:
		return wasm.ValF64, true
	}
	return 0, false
}

func valueToReflect(v engine.Value, t reflect.Type) reflect.Value {
	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Int32:
		out.SetInt(int64(v.AsI32()))
	case reflect.Uint32:
		out.SetUint(uint64(v.AsU32()))
	case reflect.Int64:
		out.SetInt(v.AsI64())
	case reflect.Uint64:
		out.SetUint(v.AsU64())
	case reflect.Float32:
		out.SetFloat(float64(v.AsF32()))
	case reflect.Float64:
		out.SetFloat(v.AsF64())
	}
	return out
}

func reflectToValue(v reflect.Value, t wasm.ValType) engine.Value {
	switch t {
	case wasm.ValI32:
		if v.Kind() == reflect.Uint32 {
			return engine.I32(int32(uint32(v.Uint())))
		}
		return engine.I32(int32(v.Int()))
	case wasm.ValI64:
		if v.Kind() == reflect.Uint64 {
			return engine.I64(int64(v.Uint()))
		}
		return engine.I64(v.Int())
	case wasm.ValF32:
		return engine.F32(float32(v.Float()))
	case wasm.ValF64:
		return engine.F64(v.Float())
	}
	return engine.Zero(t)
}
