package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
)

// DefaultMemorySize is the linear memory given to each execution.
const DefaultMemorySize = 128 << 10

// Memory is bounds-checked little-endian linear memory owned by one execution.
type Memory struct {
	data []byte
}

func NewMemory(size int) *Memory {
	return &Memory{data: make([]byte, size)}
}

func (m *Memory) Len() int { return len(m.data) }

// Bytes exposes the backing array.
func (m *Memory) Bytes() []byte { return m.data }

// LoadData copies a data section to ir.DataBase, growing memory when it does not fit.
func (m *Memory) LoadData(data []byte) {
	if len(data) == 0 {
		return
	}
	end := ir.DataBase + len(data)
	if end > len(m.data) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[ir.DataBase:], data)
}

func (m *Memory) check(addr, n uint64) error {
	size := uint64(len(m.data))
	if addr > size || n > size-addr {
		return fmt.Errorf("%w: [0x%x, +%d) in %d bytes", jiterrors.ErrOutOfBounds, addr, n, size)
	}
	return nil
}

// Slice returns the n bytes at addr, aliasing memory.
func (m *Memory) Slice(addr, n uint64) ([]byte, error) {
	if err := m.check(addr, n); err != nil {
		return nil, err
	}
	return m.data[addr : addr+n : addr+n], nil
}

// String copies n bytes at addr into a string.
func (m *Memory) String(addr, n uint64) (string, error) {
	b, err := m.Slice(addr, n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CString reads a NUL-terminated string of at most max bytes starting at addr.
// Without a terminator it stops at max or the end of memory.
func (m *Memory) CString(addr, max uint64) (string, error) {
	if err := m.check(addr, 0); err != nil {
		return "", err
	}
	end := min(addr+max, uint64(len(m.data)))
	for i := addr; i < end; i++ {
		if m.data[i] == 0 {
			return string(m.data[addr:i]), nil
		}
	}
	return string(m.data[addr:end]), nil
}

// Load reads a value of the given width mode, zero-extended.
func (m *Memory) Load(addr uint64, width uint8) (uint64, error) {
	n := uint64(ir.WidthBytes(width))
	if err := m.check(addr, n); err != nil {
		return 0, err
	}
	b := m.data[addr:]
	switch width {
	case ir.WidthByte:
		return uint64(b[0]), nil
	case ir.WidthHalf:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case ir.WidthWord:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	default:
		return binary.LittleEndian.Uint64(b), nil
	}
}

// Store writes the low bytes of v for the given width mode.
func (m *Memory) Store(addr uint64, width uint8, v uint64) error {
	n := uint64(ir.WidthBytes(width))
	if err := m.check(addr, n); err != nil {
		return err
	}
	b := m.data[addr:]
	switch width {
	case ir.WidthByte:
		b[0] = byte(v)
	case ir.WidthHalf:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case ir.WidthWord:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
	return nil
}
