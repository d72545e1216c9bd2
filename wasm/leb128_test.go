package wasm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wippyai/wasm-interp/wasm"
)

func TestLEB128Unsigned(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0x80, 0x80, 0x01}, 16384},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xFFFFFFFF},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		wasm.WriteLEB128u(&buf, tt.value)
		if !bytes.Equal(buf.Bytes(), tt.encoded) {
			t.Errorf("encode %d: got %x, want %x", tt.value, buf.Bytes(), tt.encoded)
		}
		if !bytes.Equal(wasm.EncodeLEB128u(tt.value), tt.encoded) {
			t.Errorf("EncodeLEB128u(%d) = %x, want %x", tt.value, wasm.EncodeLEB128u(tt.value), tt.encoded)
		}
		got, err := wasm.ReadLEB128u(bytes.NewReader(tt.encoded))
		if err != nil {
			t.Fatalf("decode %x: %v", tt.encoded, err)
		}
		if got != tt.value {
			t.Errorf("decode %x: got %d, want %d", tt.encoded, got, tt.value)
		}
	}
}

func TestLEB128Signed(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   int32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, -1},
		{[]byte{0xc0, 0x00}, 64},
		{[]byte{0x40}, -64},
		{[]byte{0xbf, 0x7f}, -65},
		{[]byte{0x80, 0x7f}, -128},
		{[]byte{0xff, 0x7e}, -129},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		wasm.WriteLEB128s(&buf, tt.value)
		if !bytes.Equal(buf.Bytes(), tt.encoded) {
			t.Errorf("encode %d: got %x, want %x", tt.value, buf.Bytes(), tt.encoded)
		}
		got, err := wasm.ReadLEB128s(bytes.NewReader(tt.encoded))
		if err != nil {
			t.Fatalf("decode %x: %v", tt.encoded, err)
		}
		if got != tt.value {
			t.Errorf("decode %x: got %d, want %d", tt.encoded, got, tt.value)
		}
	}
}

func TestLEB128s64(t *testing.T) {
	values := []int64{0, 1, -1, 1 << 40, -(1 << 40), 1<<63 - 1, -1 << 63}
	for _, v := range values {
		got, err := wasm.ReadLEB128s64(bytes.NewReader(wasm.EncodeLEB128s64(v)))
		if err != nil {
			t.Errorf("ReadLEB128s64(%d): %v", v, err)
			continue
		}
		if got != v {
			t.Errorf("ReadLEB128s64(Encode(%d)) = %d", v, got)
		}
	}
}

func TestLEB128s33BlockTypes(t *testing.T) {
	tests := []struct {
		encoded []byte
		want    int64
	}{
		{[]byte{0x40}, -64},
		{[]byte{0x7f}, -1},
		{[]byte{0x05}, 5},
	}
	for _, tt := range tests {
		got, err := wasm.ReadLEB128s33(bytes.NewReader(tt.encoded))
		if err != nil {
			t.Fatalf("ReadLEB128s33(%x): %v", tt.encoded, err)
		}
		if got != tt.want {
			t.Errorf("ReadLEB128s33(%x) = %d, want %d", tt.encoded, got, tt.want)
		}
	}
}

func TestLEB128Overflow(t *testing.T) {
	_, err := wasm.ReadLEB128u(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}))
	if !errors.Is(err, wasm.ErrOverflow) {
		t.Errorf("ReadLEB128u err = %v, want ErrOverflow", err)
	}
	_, err = wasm.ReadLEB128s(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}))
	if !errors.Is(err, wasm.ErrOverflow) {
		t.Errorf("ReadLEB128s err = %v, want ErrOverflow", err)
	}
}
