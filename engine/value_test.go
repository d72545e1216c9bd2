package engine

import (
	"math"
	"testing"

	"github.com/wippyai/wasm-interp/wasm"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want Value
	}{
		{"i32:7", I32(7)},
		{"i32:-1", U32(0xffffffff)},
		{"i32:0xffffffff", I32(-1)},
		{"i32:4294967295", I32(-1)},
		{"i64:-9223372036854775808", I64(math.MinInt64)},
		{"i64:0xff", I64(255)},
		{"f32:1.5", F32(1.5)},
		{"f64:-inf", F64(math.Inf(-1))},
		{"f32:nan:0x7fc00001", F32Bits(0x7fc00001)},
		{"f64:nan", F64Bits(0x7ff8000000000000)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseValue(tt.in)
			if err != nil {
				t.Fatalf("ParseValue(%q) error: %v", tt.in, err)
			}
			if got.Type() != tt.want.Type() || got.Bits() != tt.want.Bits() {
				t.Errorf("ParseValue(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseValueErrors(t *testing.T) {
	for _, in := range []string{"7", "i8:1", "i32:abc", "i32:4294967296", "f32:nan:zz", "f64:1e"} {
		t.Run(in, func(t *testing.T) {
			if _, err := ParseValue(in); err == nil {
				t.Errorf("ParseValue(%q) should fail", in)
			}
		})
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{I32(-7), "i32:-7"},
		{I64(1 << 40), "i64:1099511627776"},
		{F32(0.5), "f32:0.5"},
		{F64(-2), "f64:-2"},
		{F32Bits(0x7fc00001), "f32:nan:0x7fc00001"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		back, err := ParseValue(tt.want)
		if err != nil {
			t.Fatalf("ParseValue(%q) error: %v", tt.want, err)
		}
		if back.Bits() != tt.v.Bits() {
			t.Errorf("ParseValue(%q).Bits() = %#x, want %#x", tt.want, back.Bits(), tt.v.Bits())
		}
	}
}

func TestValueViews(t *testing.T) {
	v := U32(0x80000000)
	if v.I32() != math.MinInt32 {
		t.Errorf("I32() = %d, want %d", v.I32(), int32(math.MinInt32))
	}
	if v.U32() != 0x80000000 {
		t.Errorf("U32() = %#x, want 0x80000000", v.U32())
	}
	if got := I64(-1).U64(); got != math.MaxUint64 {
		t.Errorf("I64(-1).U64() = %d, want max uint64", got)
	}
	if Bool(true) != I32(1) || Bool(false) != I32(0) {
		t.Error("Bool should produce i32 1 and 0")
	}
	if z := Zero(wasm.ValF64); z.Type() != wasm.ValF64 || z.Bits() != 0 {
		t.Errorf("Zero(f64) = %v", z)
	}
}

func TestValueEqual(t *testing.T) {
	if !F32Bits(0x7fc00000).Equal(F32Bits(0x7fc00001)) {
		t.Error("NaNs of the same type should be equal")
	}
	if F32(0).Equal(F32(float32(math.Copysign(0, -1)))) {
		t.Error("+0 and -0 differ in bits")
	}
	if I32(1).Equal(I64(1)) {
		t.Error("values of different types should differ")
	}
}
