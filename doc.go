// Package microwasm provides a pure Go interpreter for WebAssembly core
// modules, sized for memory-constrained hosts.
//
// The interpreter executes the core MVP instruction set plus the
// sign-extension and saturating truncation operators. Component Model
// binaries, SIMD, threads, and reference types are rejected at decode
// time.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	microwasm/           Root package documentation
//	├── runtime/         High-level API for loading and running modules
//	├── engine/          Stack-machine interpreter, memory, and limits
//	├── wasm/            Binary decoding, encoding, and validation
//	├── errors/          Structured error types for debugging
//	└── config/          Runner configuration for cmd/run
//
// # Quick Start
//
// Load and run a module:
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
//	results, err := inst.Call(ctx, "add", 2, 3)
//	fmt.Println(results[0]) // 5
//
// # Host Functions
//
// Register Go functions before instantiation to satisfy module imports:
//
//	rt.RegisterFunc("env", "log_u32", func(ctx context.Context, c *runtime.Caller, v uint32) {
//	    fmt.Println(v)
//	})
//
// The wasm signature is derived from the Go parameter and result types.
//
// # Resource Limits
//
// Every instance runs under engine.Limits: operand stack and call depth
// ceilings, a memory page ceiling, and an optional instruction budget.
// Exceeding a limit traps the current invocation; the instance stays
// usable afterwards.
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. Instance is NOT
// thread-safe and should be used by a single goroutine, or access must
// be synchronized.
package microwasm
