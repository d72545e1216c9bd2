package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Value is a WebAssembly number. It stores the raw bit pattern of its type;
// signed and unsigned readings are views over the same bits.
type Value struct {
	bits uint64
	typ  wasm.ValType
}

// I32 returns an i32 value.
func I32(v int32) Value { return Value{bits: uint64(uint32(v)), typ: wasm.ValI32} }

// U32 returns an i32 value from its unsigned reading.
func U32(v uint32) Value { return Value{bits: uint64(v), typ: wasm.ValI32} }

// I64 returns an i64 value.
func I64(v int64) Value { return Value{bits: uint64(v), typ: wasm.ValI64} }

// U64 returns an i64 value from its unsigned reading.
func U64(v uint64) Value { return Value{bits: v, typ: wasm.ValI64} }

// F32 returns an f32 value.
func F32(v float32) Value { return Value{bits: uint64(math.Float32bits(v)), typ: wasm.ValF32} }

// F32Bits returns an f32 value with the given IEEE bit pattern.
func F32Bits(bits uint32) Value { return Value{bits: uint64(bits), typ: wasm.ValF32} }

// F64 returns an f64 value.
func F64(v float64) Value { return Value{bits: math.Float64bits(v), typ: wasm.ValF64} }

// F64Bits returns an f64 value with the given IEEE bit pattern.
func F64Bits(bits uint64) Value { return Value{bits: bits, typ: wasm.ValF64} }

// Bool returns the i32 encoding of b: 1 for true, 0 for false.
func Bool(b bool) Value {
	if b {
		return U32(1)
	}
	return U32(0)
}

// Zero returns the zero value of t.
func Zero(t wasm.ValType) Value { return Value{typ: t} }

// Type returns the value's type.
func (v Value) Type() wasm.ValType { return v.typ }

// Bits returns the raw bit pattern, zero-extended to 64 bits.
func (v Value) Bits() uint64 { return v.bits }

// I32 returns the signed 32-bit reading.
func (v Value) I32() int32 { return int32(uint32(v.bits)) }

// U32 returns the unsigned 32-bit reading.
func (v Value) U32() uint32 { return uint32(v.bits) }

// I64 returns the signed 64-bit reading.
func (v Value) I64() int64 { return int64(v.bits) }

// U64 returns the unsigned 64-bit reading.
func (v Value) U64() uint64 { return v.bits }

// F32 returns the value as a float32.
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.bits)) }

// F64 returns the value as a float64.
func (v Value) F64() float64 { return math.Float64frombits(v.bits) }

// IsNaN reports whether v is a float NaN.
func (v Value) IsNaN() bool {
	switch v.typ {
	case wasm.ValF32:
		return v.bits&0x7f800000 == 0x7f800000 && v.bits&0x007fffff != 0
	case wasm.ValF64:
		return v.bits&0x7ff0000000000000 == 0x7ff0000000000000 && v.bits&0x000fffffffffffff != 0
	}
	return false
}

// Equal reports whether two values have the same type and bits. Any two
// NaNs of the same type are equal, since NaN payloads are not normalized.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	if v.IsNaN() && o.IsNaN() {
		return true
	}
	return v.bits == o.bits
}

// Interface returns the value as int32, int64, float32 or float64.
func (v Value) Interface() any {
	switch v.typ {
	case wasm.ValI32:
		return v.I32()
	case wasm.ValI64:
		return v.I64()
	case wasm.ValF32:
		return v.F32()
	case wasm.ValF64:
		return v.F64()
	}
	return nil
}

// String formats the value as "type:literal", the form accepted by ParseValue.
func (v Value) String() string {
	switch v.typ {
	case wasm.ValI32:
		return "i32:" + strconv.FormatInt(int64(v.I32()), 10)
	case wasm.ValI64:
		return "i64:" + strconv.FormatInt(v.I64(), 10)
	case wasm.ValF32:
		if v.IsNaN() {
			return fmt.Sprintf("f32:nan:0x%08x", uint32(v.bits))
		}
		return "f32:" + strconv.FormatFloat(float64(v.F32()), 'g', -1, 32)
	case wasm.ValF64:
		if v.IsNaN() {
			return fmt.Sprintf("f64:nan:0x%016x", v.bits)
		}
		return "f64:" + strconv.FormatFloat(v.F64(), 'g', -1, 64)
	}
	return fmt.Sprintf("<invalid:%#x>", v.bits)
}

var valTypesByName = map[string]wasm.ValType{
	"i32": wasm.ValI32,
	"i64": wasm.ValI64,
	"f32": wasm.ValF32,
	"f64": wasm.ValF64,
}

// ParseValue parses "type:literal", for example "i32:-7", "i64:0xff",
// "f32:1.5", "f64:-inf" or "f32:nan:0x7fc00001".
func ParseValue(s string) (Value, error) {
	name, lit, ok := strings.Cut(s, ":")
	if !ok {
		return Value{}, errors.InvalidInput(errors.PhaseExecute, fmt.Sprintf("value %q: missing type prefix", s))
	}
	t, ok := valTypesByName[name]
	if !ok {
		return Value{}, errors.InvalidInput(errors.PhaseExecute, fmt.Sprintf("value %q: unknown type %q", s, name))
	}
	return ParseValueAs(t, lit)
}

// ParseValueAs parses a literal of type t. Integers accept decimal or 0x
// hex in either the signed or unsigned range.
func ParseValueAs(t wasm.ValType, lit string) (Value, error) {
	fail := func(err error) (Value, error) {
		return Value{}, errors.New(errors.PhaseExecute, errors.KindInvalidInput).
			Want(t.String()).
			Cause(err).
			Detail("cannot parse %q", lit).
			Build()
	}
	switch t {
	case wasm.ValI32:
		n, err := parseInt(lit, 32)
		if err != nil {
			return fail(err)
		}
		return U32(uint32(n)), nil
	case wasm.ValI64:
		n, err := parseInt(lit, 64)
		if err != nil {
			return fail(err)
		}
		return U64(n), nil
	case wasm.ValF32:
		if bits, ok, err := parseNaN(lit, 32); ok {
			if err != nil {
				return fail(err)
			}
			return F32Bits(uint32(bits)), nil
		}
		f, err := strconv.ParseFloat(lit, 32)
		if err != nil {
			return fail(err)
		}
		return F32(float32(f)), nil
	case wasm.ValF64:
		if bits, ok, err := parseNaN(lit, 64); ok {
			if err != nil {
				return fail(err)
			}
			return F64Bits(bits), nil
		}
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return fail(err)
		}
		return F64(f), nil
	}
	return Value{}, errors.Unsupported(errors.PhaseExecute, fmt.Sprintf("value type %s", t))
}

func parseInt(lit string, bitSize int) (uint64, error) {
	if n, err := strconv.ParseInt(lit, 0, bitSize); err == nil {
		return uint64(n), nil
	}
	return strconv.ParseUint(lit, 0, bitSize)
}

// parseNaN handles "nan" and "nan:0x<bits>". ok is false for other literals.
func parseNaN(lit string, bitSize int) (bits uint64, ok bool, err error) {
	lit = strings.TrimPrefix(lit, "+")
	neg := strings.HasPrefix(lit, "-")
	lit = strings.TrimPrefix(lit, "-")
	if !strings.HasPrefix(lit, "nan") {
		return 0, false, nil
	}
	if lit == "nan" {
		if bitSize == 32 {
			bits = 0x7fc00000
		} else {
			bits = 0x7ff8000000000000
		}
	} else {
		payload, found := strings.CutPrefix(lit, "nan:")
		if !found {
			return 0, true, fmt.Errorf("malformed nan literal %q", lit)
		}
		bits, err = strconv.ParseUint(payload, 0, bitSize)
		if err != nil {
			return 0, true, err
		}
	}
	if neg {
		bits |= 1 << (bitSize - 1)
	}
	return bits, true, nil
}
