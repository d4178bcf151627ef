package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/microwasm/engine"
	"github.com/wippyai/microwasm/errors"
	"github.com/wippyai/microwasm/wasm"
)

type Runtime struct {
	hosts  *HostRegistry
	limits engine.Limits
}

type Option func(*Runtime)

// WithLimits overrides the default execution limits for all modules
// loaded through this runtime.
func WithLimits(l engine.Limits) Option {
	return func(r *Runtime) {
		r.limits = l
	}
}

// WithLogger routes engine and runtime logging to l. The default is a
// no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) {
		engine.SetLogger(l)
		SetLogger(l)
	}
}

func New(opts ...Option) *Runtime {
	r := &Runtime{
		hosts:  NewHostRegistry(),
		limits: engine.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterFunc registers a Go function as a host import. Must be called
// before instantiating modules that import it.
func (r *Runtime) RegisterFunc(module, name string, fn any) error {
	return r.hosts.RegisterFunc(module, name, fn)
}

func (r *Runtime) Hosts() *HostRegistry {
	return r.hosts
}

func (r *Runtime) Limits() engine.Limits {
	return r.limits
}

// LoadModule decodes and fully validates a core WebAssembly binary.
// The returned Module can be instantiated any number of times.
func (r *Runtime) LoadModule(ctx context.Context, data []byte) (*Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Load("load module", err)
	}

	m, err := wasm.ParseModuleValidate(data)
	if err != nil {
		return nil, errors.Load("load module", err)
	}

	Logger().Debug("module loaded",
		zap.Int("types", len(m.Types)),
		zap.Int("funcs", m.NumFuncs()),
		zap.Int("imports", len(m.Imports)),
		zap.Int("exports", len(m.Exports)))

	return &Module{
		runtime: r,
		module:  m,
	}, nil
}
