package engine

import (
	"fmt"
	"math"

	"github.com/wippyai/microwasm/wasm"
)

// Value is a tagged WebAssembly runtime value. The payload is stored as
// raw 64 bits regardless of type; accessors reinterpret it.
type Value struct {
	bits uint64
	Type wasm.ValType
}

// I32 constructs an i32 value.
func I32(v int32) Value {
	return Value{Type: wasm.ValI32, bits: uint64(uint32(v))}
}

// I64 constructs an i64 value.
func I64(v int64) Value {
	return Value{Type: wasm.ValI64, bits: uint64(v)}
}

// F32 constructs an f32 value.
func F32(v float32) Value {
	return Value{Type: wasm.ValF32, bits: uint64(math.Float32bits(v))}
}

// F64 constructs an f64 value.
func F64(v float64) Value {
	return Value{Type: wasm.ValF64, bits: math.Float64bits(v)}
}

// Raw constructs a value of the given type from raw bits.
func Raw(t wasm.ValType, bits uint64) Value {
	if t == wasm.ValI32 || t == wasm.ValF32 {
		bits = uint64(uint32(bits))
	}
	return Value{Type: t, bits: bits}
}

// AsI32 returns the value as a signed 32-bit integer.
func (v Value) AsI32() int32 {
	return int32(uint32(v.bits))
}

// AsU32 returns the value as an unsigned 32-bit integer.
func (v Value) AsU32() uint32 {
	return uint32(v.bits)
}

// AsI64 returns the value as a signed 64-bit integer.
func (v Value) AsI64() int64 {
	return int64(v.bits)
}

// AsU64 returns the value as an unsigned 64-bit integer.
func (v Value) AsU64() uint64 {
	return v.bits
}

// AsF32 returns the value as a 32-bit float.
func (v Value) AsF32() float32 {
	return math.Float32frombits(uint32(v.bits))
}

// AsF64 returns the value as a 64-bit float.
func (v Value) AsF64() float64 {
	return math.Float64frombits(v.bits)
}

// Bits returns the raw 64-bit payload.
func (v Value) Bits() uint64 {
	return v.bits
}

// Zero returns the zero value of the given type.
func Zero(t wasm.ValType) Value {
	return Value{Type: t}
}

func (v Value) String() string {
	switch v.Type {
	case wasm.ValI32:
		return fmt.Sprintf("i32:%d", v.AsI32())
	case wasm.ValI64:
		return fmt.Sprintf("i64:%d", v.AsI64())
	case wasm.ValF32:
		return fmt.Sprintf("f32:%g", v.AsF32())
	case wasm.ValF64:
		return fmt.Sprintf("f64:%g", v.AsF64())
	default:
		return fmt.Sprintf("%s:%#x", v.Type, v.bits)
	}
}
