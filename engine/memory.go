package engine

import (
	"encoding/binary"

	wasminterp "github.com/wippyai/wasm-interp"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

var (
	_ wasminterp.Memory      = (*Memory)(nil)
	_ wasminterp.MemorySizer = (*Memory)(nil)
	_ wasminterp.Grower      = (*Memory)(nil)
)

// Memory is a linear memory: a little-endian byte buffer sized in 64KiB
// pages that only grows.
type Memory struct {
	data     []byte
	maxPages uint32
	onGrow   func(previous, pages uint32)
}

// NewMemory returns a memory of minPages pages that may grow to maxPages.
func NewMemory(minPages, maxPages uint32) *Memory {
	if maxPages < minPages {
		maxPages = minPages
	}
	return &Memory{
		data:     make([]byte, uint64(minPages)*wasm.PageSize),
		maxPages: maxPages,
	}
}

// Size returns the memory size in bytes.
func (m *Memory) Size() uint64 { return uint64(len(m.data)) }

// Pages returns the memory size in pages.
func (m *Memory) Pages() uint32 { return uint32(uint64(len(m.data)) / wasm.PageSize) }

// MaxPages returns the page count the memory may grow to.
func (m *Memory) MaxPages() uint32 { return m.maxPages }

// Bytes returns the underlying buffer. It is invalidated by Grow.
func (m *Memory) Bytes() []byte { return m.data }

// Grow adds delta pages and returns the previous page count. Growth past the
// maximum fails and leaves the memory unchanged.
func (m *Memory) Grow(delta uint32) (uint32, bool) {
	prev := m.Pages()
	if uint64(prev)+uint64(delta) > uint64(m.maxPages) {
		return prev, false
	}
	if delta == 0 {
		return prev, true
	}
	grown := make([]byte, uint64(prev+delta)*wasm.PageSize)
	copy(grown, m.data)
	m.data = grown
	if m.onGrow != nil {
		m.onGrow(prev, prev+delta)
	}
	return prev, true
}

// view returns the width bytes at addr, or an out of bounds trap when the
// access ends past the memory size.
func (m *Memory) view(code string, addr uint64, width int) ([]byte, error) {
	size := uint64(len(m.data))
	if addr+uint64(width) > size {
		return nil, errors.OutOfBounds(code, addr, width, size)
	}
	return m.data[addr : addr+uint64(width)], nil
}

// Get returns the byte at addr.
func (m *Memory) Get(addr uint64) (byte, error) {
	b, err := m.view("memory.get", addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Set stores b at addr.
func (m *Memory) Set(addr uint64, b byte) error {
	v, err := m.view("memory.set", addr, 1)
	if err != nil {
		return err
	}
	v[0] = b
	return nil
}

// Read returns a copy of length bytes at offset.
func (m *Memory) Read(offset, length uint32) ([]byte, error) {
	v, err := m.view("memory.read", uint64(offset), int(length))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v...), nil
}

// Write copies data to offset.
func (m *Memory) Write(offset uint32, data []byte) error {
	v, err := m.view("memory.write", uint64(offset), len(data))
	if err != nil {
		return err
	}
	copy(v, data)
	return nil
}

func (m *Memory) ReadU8(offset uint32) (uint8, error) {
	return m.Get(uint64(offset))
}

func (m *Memory) ReadU16(offset uint32) (uint16, error) {
	v, err := m.view("memory.read", uint64(offset), 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(v), nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	v, err := m.view("memory.read", uint64(offset), 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(v), nil
}

func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	v, err := m.view("memory.read", uint64(offset), 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(v), nil
}

func (m *Memory) WriteU8(offset uint32, value uint8) error {
	return m.Set(uint64(offset), value)
}

func (m *Memory) WriteU16(offset uint32, value uint16) error {
	v, err := m.view("memory.write", uint64(offset), 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(v, value)
	return nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	v, err := m.view("memory.write", uint64(offset), 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(v, value)
	return nil
}

func (m *Memory) WriteU64(offset uint32, value uint64) error {
	v, err := m.view("memory.write", uint64(offset), 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(v, value)
	return nil
}

// Fill sets n bytes at dst to b.
func (m *Memory) Fill(dst, n uint32, b byte) error {
	v, err := m.view("memory.fill.bounds", uint64(dst), int(n))
	if err != nil {
		return err
	}
	for i := range v {
		v[i] = b
	}
	return nil
}

// Copy moves n bytes from src to dst. The ranges may overlap.
func (m *Memory) Copy(dst, src, n uint32) error {
	from, err := m.view("memory.copy.bounds", uint64(src), int(n))
	if err != nil {
		return err
	}
	to, err := m.view("memory.copy.bounds", uint64(dst), int(n))
	if err != nil {
		return err
	}
	copy(to, from)
	return nil
}
