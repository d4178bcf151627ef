// Package runtime provides the high-level API for loading and running
// core WebAssembly modules on the built-in interpreter.
//
// # Quick Start
//
//	rt := runtime.New()
//
//	mod, err := rt.LoadModule(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	results, err := inst.Call(ctx, "add", int32(2), int32(3))
//
// # Host Functions
//
// Go functions are registered as imports before instantiation:
//
//	rt.RegisterFunc("env", "log_value",
//	    func(ctx context.Context, c *runtime.Caller, v int32) {
//	        fmt.Println(v)
//	    })
//
// Parameters and results are limited to the core numeric types: int32,
// uint32, int64, uint64, float32, float64. A leading context.Context,
// a *Caller for memory access, and a trailing error are optional.
//
// # Limits
//
// Execution is bounded by engine.Limits, configurable per runtime:
//
//	rt := runtime.New(runtime.WithLimits(engine.Limits{
//	    ValueStack:  512,
//	    CallDepth:   64,
//	    MemoryPages: 16,
//	    Budget:      1_000_000,
//	}))
//
// Exceeding a limit traps the running invocation; the instance stays
// usable afterwards.
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use once registration is
// complete. Instance is not thread-safe; give each goroutine its own
// instance or synchronize externally.
package runtime
