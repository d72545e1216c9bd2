package wasminterp

// Memory represents WASM linear memory
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of WASM linear memory.
// Size is in bytes and Pages in 64KiB units.
type MemorySizer interface {
	Size() uint64
	Pages() uint32
}

// Grower is implemented by memories that can be extended by whole pages.
type Grower interface {
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}
