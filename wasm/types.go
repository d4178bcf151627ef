package wasm

import "strings"

// Module represents a parsed WebAssembly module
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	CustomSections []CustomSection
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two function types have identical parameter and
// result lists. Type identity is structural.
func (t *FuncType) Equal(other *FuncType) bool {
	if len(t.Params) != len(other.Params) || len(t.Results) != len(other.Results) {
		return false
	}
	for i, p := range t.Params {
		if p != other.Params[i] {
			return false
		}
	}
	for i, r := range t.Results {
		if r != other.Results[i] {
			return false
		}
	}
	return true
}

// String renders the signature in text form, e.g. "(i32, i32) -> (i32)".
func (t *FuncType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range t.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> (")
	for i, r := range t.Results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r.String())
	}
	b.WriteByte(')')
	return b.String()
}

// ValType represents a WebAssembly value type.
// See constants.go for ValI32, ValI64, ValF32, ValF64.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValFuncRef:
		return "funcref"
	default:
		return "unknown"
	}
}

// Import represents an imported function, table, memory, or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal constants.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
// ElemType is always ValFuncRef in the core format.
type TableType struct {
	Limits   Limits
	ElemType byte
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max *uint32
	Min uint32
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []byte // Raw init expression bytes including end opcode
}

// Export describes an exported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal constants.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element represents an element segment.
// Flags determine the format:
//   - 0: active, tableIdx=0, offset expr, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, tableIdx, offset expr, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Flags    uint32
	TableIdx uint32
	ElemKind byte
}

// Active reports whether the segment is applied to a table at instantiation.
func (e *Element) Active() bool {
	return e.Flags == 0 || e.Flags == 2
}

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // Raw code bytes including end opcode
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// NumLocals returns the total local count across all entries, not counting
// parameters.
func (b *FuncBody) NumLocals() uint64 {
	var n uint64
	for _, e := range b.Locals {
		n += uint64(e.Count)
	}
	return n
}

// DataSegment represents a data segment.
// Flags determine the format:
//   - 0: active, memIdx=0, offset expr, vec(byte)
//   - 1: passive, vec(byte)
//   - 2: active, memIdx, offset expr, vec(byte)
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// Active reports whether the segment is copied into memory at instantiation.
func (d *DataSegment) Active() bool {
	return d.Flags == 0 || d.Flags == 2
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			count++
		}
	}
	return count
}

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindGlobal {
			count++
		}
	}
	return count
}

// NumImportedTables returns the number of imported tables
func (m *Module) NumImportedTables() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindTable {
			count++
		}
	}
	return count
}

// NumImportedMemories returns the number of imported memories
func (m *Module) NumImportedMemories() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory {
			count++
		}
	}
	return count
}

// NumFuncs returns the total function count including imports.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// NumTables returns the total table count including imports.
func (m *Module) NumTables() int {
	return m.NumImportedTables() + len(m.Tables)
}

// NumMemories returns the total memory count including imports.
func (m *Module) NumMemories() int {
	return m.NumImportedMemories() + len(m.Memories)
}

// NumGlobals returns the total global count including imports.
func (m *Module) NumGlobals() int {
	return m.NumImportedGlobals() + len(m.Globals)
}

// GetFuncType returns the type of a function by its index in the combined
// import+declared function index space, or nil if out of range.
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	numImported := uint32(m.NumImportedFuncs())
	if funcIdx < numImported {
		for i := range m.Imports {
			if m.Imports[i].Desc.Kind == KindFunc {
				if funcIdx == 0 {
					return m.typeByIdx(m.Imports[i].Desc.TypeIdx)
				}
				funcIdx--
			}
		}
	}
	localIdx := funcIdx - numImported
	if int(localIdx) >= len(m.Funcs) {
		return nil
	}
	return m.typeByIdx(m.Funcs[localIdx])
}

// GetGlobalType returns the type of a global by its index in the combined
// import+declared global index space, or nil if out of range.
func (m *Module) GetGlobalType(globalIdx uint32) *GlobalType {
	numImported := uint32(m.NumImportedGlobals())
	if globalIdx < numImported {
		for i := range m.Imports {
			if m.Imports[i].Desc.Kind == KindGlobal {
				if globalIdx == 0 {
					return m.Imports[i].Desc.Global
				}
				globalIdx--
			}
		}
	}
	localIdx := globalIdx - numImported
	if int(localIdx) >= len(m.Globals) {
		return nil
	}
	return &m.Globals[localIdx].Type
}

// GetTableType returns the type of a table by its index in the combined
// import+declared table index space, or nil if out of range.
func (m *Module) GetTableType(tableIdx uint32) *TableType {
	numImported := uint32(m.NumImportedTables())
	if tableIdx < numImported {
		for i := range m.Imports {
			if m.Imports[i].Desc.Kind == KindTable {
				if tableIdx == 0 {
					return m.Imports[i].Desc.Table
				}
				tableIdx--
			}
		}
	}
	localIdx := tableIdx - numImported
	if int(localIdx) >= len(m.Tables) {
		return nil
	}
	return &m.Tables[localIdx]
}

// GetMemoryType returns the type of a memory by its index in the combined
// import+declared memory index space, or nil if out of range.
func (m *Module) GetMemoryType(memIdx uint32) *MemoryType {
	numImported := uint32(m.NumImportedMemories())
	if memIdx < numImported {
		for i := range m.Imports {
			if m.Imports[i].Desc.Kind == KindMemory {
				if memIdx == 0 {
					return m.Imports[i].Desc.Memory
				}
				memIdx--
			}
		}
	}
	localIdx := memIdx - numImported
	if int(localIdx) >= len(m.Memories) {
		return nil
	}
	return &m.Memories[localIdx]
}

// ExportedFunc returns the function index exported under name, if any.
func (m *Module) ExportedFunc(name string) (uint32, bool) {
	for i := range m.Exports {
		if m.Exports[i].Kind == KindFunc && m.Exports[i].Name == name {
			return m.Exports[i].Idx, true
		}
	}
	return 0, false
}

func (m *Module) typeByIdx(typeIdx uint32) *FuncType {
	if int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}
