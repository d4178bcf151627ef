package runtime

import (
	"context"

	"github.com/wippyai/microwasm/engine"
	"github.com/wippyai/microwasm/errors"
	"github.com/wippyai/microwasm/wasm"
)

type Module struct {
	runtime *Runtime
	module  *wasm.Module
}

// Raw returns the decoded module for direct inspection.
func (m *Module) Raw() *wasm.Module {
	return m.module
}

// Instantiate resolves imports against the runtime's host registry,
// builds an executable instance, and runs the start function if one is
// declared. Each call produces an independent instance with its own
// memory, table, and globals.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	hostFuncs, err := m.runtime.hosts.Bind(m.module)
	if err != nil {
		return nil, err
	}

	engineInst, err := engine.Instantiate(ctx, m.module, hostFuncs, m.runtime.limits)
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	return &Instance{
		module:     m,
		engineInst: engineInst,
	}, nil
}

type Export struct {
	Name string
	Kind byte
}

// Exports lists the module's exported items.
func (m *Module) Exports() []Export {
	if len(m.module.Exports) == 0 {
		return nil
	}
	exports := make([]Export, len(m.module.Exports))
	for i, exp := range m.module.Exports {
		exports[i] = Export{Name: exp.Name, Kind: exp.Kind}
	}
	return exports
}

// FuncType returns the signature of an exported function.
func (m *Module) FuncType(name string) (*wasm.FuncType, error) {
	idx, ok := m.module.ExportedFunc(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "function", name)
	}
	return m.module.GetFuncType(idx), nil
}
