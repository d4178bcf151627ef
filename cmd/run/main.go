package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/microwasm/config"
	"github.com/wippyai/microwasm/runtime"
	"github.com/wippyai/microwasm/wasm"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to wasm file")
		funcName    = flag.String("func", "", "Function to call (optional)")
		funcArgs    = flag.String("args", "", "Arguments (comma-separated numbers)")
		configPath  = flag.String("config", "", "Path to config file")
		list        = flag.Bool("list", false, "List exported functions and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <file.wasm> [-func name] [-args 1,2,3]")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(1)
	}

	if *interactive {
		if err := runInteractive(*wasmFile, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*wasmFile, *funcName, *funcArgs, cfg, *list); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

func run(wasmFile, funcName, argsStr string, cfg *config.Config, listOnly bool) error {
	ctx := context.Background()

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	rt := runtime.New(
		runtime.WithLimits(cfg.Limits.EngineLimits()),
		runtime.WithLogger(log),
	)

	module, err := rt.LoadModule(ctx, data)
	if err != nil {
		return fmt.Errorf("load module: %w", err)
	}

	raw := module.Raw()
	fmt.Printf("Module: %s\n", wasmFile)
	fmt.Printf("Functions: %d\n", raw.NumFuncs())
	fmt.Printf("Imports: %d\n", len(raw.Imports))
	fmt.Printf("Exports: %d\n", len(raw.Exports))

	fmt.Printf("\nExported functions:\n")
	var exportedFuncs []string
	for _, exp := range module.Exports() {
		if exp.Kind != wasm.KindFunc {
			continue
		}
		exportedFuncs = append(exportedFuncs, exp.Name)
		ft, err := module.FuncType(exp.Name)
		if err != nil {
			continue
		}
		fmt.Printf("  %s%s\n", exp.Name, ft)
	}

	if listOnly {
		return nil
	}

	fmt.Printf("\nInstantiating module...\n")
	instance, err := module.Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}

	// Without an explicit function, try common entry points.
	if funcName == "" {
		for _, name := range []string{"_start", "run", "main"} {
			for _, f := range exportedFuncs {
				if f == name {
					funcName = name
					break
				}
			}
			if funcName != "" {
				break
			}
		}
		if funcName == "" && len(exportedFuncs) == 1 {
			funcName = exportedFuncs[0]
		}
		if funcName == "" {
			fmt.Printf("\nNo function specified and no common entry point found.\n")
			fmt.Printf("Use -func to specify a function to call.\n")
			return nil
		}
	}

	ft, err := module.FuncType(funcName)
	if err != nil {
		return fmt.Errorf("function %s: %w", funcName, err)
	}

	args, err := parseArgs(argsStr, ft.Params)
	if err != nil {
		return fmt.Errorf("parse arguments: %w", err)
	}

	fmt.Printf("\nCalling %s(%s)...\n", funcName, argsStr)
	results, err := instance.Call(ctx, funcName, args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", funcName, err)
	}

	for _, r := range results {
		fmt.Printf("Result: %v\n", r)
	}
	return nil
}

// parseArgs converts a comma-separated argument string to typed values
// matching the function's declared parameters.
func parseArgs(argsStr string, params []wasm.ValType) ([]any, error) {
	var parts []string
	if argsStr != "" {
		parts = strings.Split(argsStr, ",")
	}
	if len(parts) != len(params) {
		return nil, fmt.Errorf("function expects %d arguments, got %d", len(params), len(parts))
	}

	args := make([]any, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		switch params[i] {
		case wasm.ValI32:
			v, err := strconv.ParseInt(part, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("arg %d: %w", i, err)
			}
			args[i] = int32(v)
		case wasm.ValI64:
			v, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("arg %d: %w", i, err)
			}
			args[i] = v
		case wasm.ValF32:
			v, err := strconv.ParseFloat(part, 32)
			if err != nil {
				return nil, fmt.Errorf("arg %d: %w", i, err)
			}
			args[i] = float32(v)
		case wasm.ValF64:
			v, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return nil, fmt.Errorf("arg %d: %w", i, err)
			}
			args[i] = v
		}
	}
	return args, nil
}
