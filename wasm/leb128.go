package wasm

import (
	"bytes"
	"io"

	"github.com/wippyai/wasm-interp/wasm/internal/binary"
)

// ErrOverflow is returned when a LEB128 value exceeds the maximum bit width.
var ErrOverflow = binary.ErrOverflow

// ReadLEB128u reads an unsigned 32-bit LEB128 value
func ReadLEB128u(r io.ByteReader) (uint32, error) {
	v, err := binary.DecodeUnsigned(r, 32)
	return uint32(v), err
}

// ReadLEB128u64 reads an unsigned 64-bit LEB128 value
func ReadLEB128u64(r io.ByteReader) (uint64, error) {
	return binary.DecodeUnsigned(r, 64)
}

// ReadLEB128s reads a signed 32-bit LEB128 value
func ReadLEB128s(r io.ByteReader) (int32, error) {
	v, err := binary.DecodeSigned(r, 32)
	return int32(v), err
}

// ReadLEB128s33 reads a signed 33-bit LEB128 value (block types).
func ReadLEB128s33(r io.ByteReader) (int64, error) {
	return binary.DecodeSigned(r, 33)
}

// ReadLEB128s64 reads a signed 64-bit LEB128 value
func ReadLEB128s64(r io.ByteReader) (int64, error) {
	return binary.DecodeSigned(r, 64)
}

// WriteLEB128u writes an unsigned LEB128 value
func WriteLEB128u(w *bytes.Buffer, v uint32) {
	w.Write(binary.AppendUnsigned(nil, uint64(v)))
}

// WriteLEB128s writes a signed LEB128 value
func WriteLEB128s(w *bytes.Buffer, v int32) {
	w.Write(binary.AppendSigned(nil, int64(v)))
}

// WriteLEB128s64 writes a signed 64-bit LEB128 value
func WriteLEB128s64(w *bytes.Buffer, v int64) {
	w.Write(binary.AppendSigned(nil, v))
}

// EncodeLEB128u encodes an unsigned 32-bit LEB128 value to bytes.
func EncodeLEB128u(v uint32) []byte {
	return binary.AppendUnsigned(nil, uint64(v))
}

// EncodeLEB128s encodes a signed 32-bit LEB128 value to bytes.
func EncodeLEB128s(v int32) []byte {
	return binary.AppendSigned(nil, int64(v))
}

// EncodeLEB128s64 encodes a signed 64-bit LEB128 value to bytes.
func EncodeLEB128s64(v int64) []byte {
	return binary.AppendSigned(nil, v)
}
