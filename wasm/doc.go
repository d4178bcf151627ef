// Package wasm provides WebAssembly binary format parsing, validation,
// and encoding.
//
// This package implements a parser, validator, and encoder for core
// WebAssembly (MVP) binary modules, plus the sign extension and
// non-trapping float-to-int conversion operators that standard
// toolchains emit by default. Proposals beyond that (SIMD, GC,
// exception handling, threads, bulk memory, multi-memory) are rejected
// at decode time with a descriptive error.
//
// # Parsing
//
// Parse a WebAssembly module from binary:
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Parse with full validation enabled:
//
//	module, err := wasm.ParseModuleValidate(data)
//
// # Encoding
//
// Encode a module back to binary:
//
//	encoded := module.Encode()
//
// Round-trip parsing and encoding preserves module semantics:
//
//	original, _ := wasm.ParseModule(data)
//	roundtrip, _ := wasm.ParseModule(original.Encode())
//	// original and roundtrip are semantically equivalent
//
// # Module Structure
//
// A parsed module contains all sections:
//
//	module.Types     []FuncType    // Function signatures
//	module.Funcs     []uint32      // Type indices for functions
//	module.Tables    []TableType   // Table definitions
//	module.Memories  []MemoryType  // Memory definitions
//	module.Globals   []Global      // Global definitions
//	module.Imports   []Import      // Imported definitions
//	module.Exports   []Export      // Exported definitions
//	module.Code      []FuncBody    // Function bodies
//	module.Data      []DataSegment // Data segments
//	module.Elements  []Element     // Element segments
//
// # Instructions
//
// Decode instructions from bytecode:
//
//	instructions, err := wasm.DecodeInstructions(code)
//
// Encode instructions back to bytecode:
//
//	encoded := wasm.EncodeInstructions(instructions)
//
// # Validation
//
// Structural validation checks index spaces, limits, export rules, and
// constant expressions:
//
//	if err := module.Validate(); err != nil {
//	    log.Printf("invalid module: %v", err)
//	}
//
// Code validation type-checks every function body with full support for
// polymorphic stack typing after unreachable code:
//
//	if err := module.ValidateCode(); err != nil {
//	    log.Printf("invalid function body: %v", err)
//	}
package wasm
