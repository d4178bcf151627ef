package engine

import (
	"encoding/binary"

	"github.com/wippyai/microwasm/wasm"
)

// Memory is a linear memory instance. Loads and stores are little-endian
// and bounds-checked; out of range accesses trap rather than grow.
type Memory struct {
	data []byte
	max  uint32 // effective ceiling in pages
}

// NewMemory allocates a memory of min pages with the given page ceiling.
func NewMemory(min, max uint32) *Memory {
	return &Memory{
		data: make([]byte, int(min)*wasm.PageSize),
		max:  max,
	}
}

// Size returns the current size in pages.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data) / wasm.PageSize)
}

// Bytes returns the backing byte slice. Writes through it are visible to
// the instance.
func (m *Memory) Bytes() []byte {
	return m.data
}

// Max returns the effective page ceiling.
func (m *Memory) Max() uint32 {
	return m.max
}

// Grow extends the memory by delta pages and returns the previous size,
// or -1 if the ceiling would be exceeded. Failure is not a trap.
func (m *Memory) Grow(delta uint32) int32 {
	old := m.Size()
	if delta > m.max || old > m.max-delta {
		return -1
	}
	m.data = append(m.data, make([]byte, int(delta)*wasm.PageSize)...)
	return int32(old)
}

// Range checks that [addr, addr+n) is in bounds and returns the slice.
// The effective address is addr+offset computed without 32-bit wraparound.
func (m *Memory) Range(addr, offset, n uint32) ([]byte, *Trap) {
	ea := uint64(addr) + uint64(offset)
	if ea+uint64(n) > uint64(len(m.data)) {
		return nil, NewTrap(TrapOutOfBoundsMemoryAccess)
	}
	return m.data[ea : ea+uint64(n)], nil
}

func (m *Memory) loadU8(addr, offset uint32) (uint64, *Trap) {
	b, trap := m.Range(addr, offset, 1)
	if trap != nil {
		return 0, trap
	}
	return uint64(b[0]), nil
}

func (m *Memory) loadU16(addr, offset uint32) (uint64, *Trap) {
	b, trap := m.Range(addr, offset, 2)
	if trap != nil {
		return 0, trap
	}
	return uint64(binary.LittleEndian.Uint16(b)), nil
}

func (m *Memory) loadU32(addr, offset uint32) (uint64, *Trap) {
	b, trap := m.Range(addr, offset, 4)
	if trap != nil {
		return 0, trap
	}
	return uint64(binary.LittleEndian.Uint32(b)), nil
}

func (m *Memory) loadU64(addr, offset uint32) (uint64, *Trap) {
	b, trap := m.Range(addr, offset, 8)
	if trap != nil {
		return 0, trap
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m *Memory) storeU8(addr, offset uint32, v uint64) *Trap {
	b, trap := m.Range(addr, offset, 1)
	if trap != nil {
		return trap
	}
	b[0] = byte(v)
	return nil
}

func (m *Memory) storeU16(addr, offset uint32, v uint64) *Trap {
	b, trap := m.Range(addr, offset, 2)
	if trap != nil {
		return trap
	}
	binary.LittleEndian.PutUint16(b, uint16(v))
	return nil
}

func (m *Memory) storeU32(addr, offset uint32, v uint64) *Trap {
	b, trap := m.Range(addr, offset, 4)
	if trap != nil {
		return trap
	}
	binary.LittleEndian.PutUint32(b, uint32(v))
	return nil
}

func (m *Memory) storeU64(addr, offset uint32, v uint64) *Trap {
	b, trap := m.Range(addr, offset, 8)
	if trap != nil {
		return trap
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// ReadAt copies n bytes starting at addr into a fresh slice.
func (m *Memory) ReadAt(addr, n uint32) ([]byte, *Trap) {
	b, trap := m.Range(addr, 0, n)
	if trap != nil {
		return nil, trap
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// WriteAt copies data into memory starting at addr.
func (m *Memory) WriteAt(addr uint32, data []byte) *Trap {
	b, trap := m.Range(addr, 0, uint32(len(data)))
	if trap != nil {
		return trap
	}
	copy(b, data)
	return nil
}
