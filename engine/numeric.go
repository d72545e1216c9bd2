package engine

import (
	"math"
	"math/bits"

	"github.com/wippyai/wasm-interp/wasm"
)

type integer interface{ ~uint32 | ~uint64 }

type signed interface{ ~int32 | ~int64 }

type float interface{ ~float32 | ~float64 }

type number interface{ integer | float }

// kind binds a Go operand type to a WebAssembly value type.
type kind[T number] struct {
	typ  wasm.ValType
	from func(Value) T
	to   func(T) Value
}

var (
	kI32 = kind[uint32]{wasm.ValI32, Value.U32, U32}
	kI64 = kind[uint64]{wasm.ValI64, Value.U64, U64}
	kF32 = kind[float32]{wasm.ValF32, Value.F32, F32}
	kF64 = kind[float64]{wasm.ValF64, Value.F64, F64}

	// Raw float bits, for operations that must not disturb NaN payloads.
	kF32Bits = kind[uint32]{wasm.ValF32, Value.U32, F32Bits}
	kF64Bits = kind[uint64]{wasm.ValF64, Value.U64, F64Bits}
)

// width returns the bit width of an integer type.
func width[T integer]() T {
	return T(bits.Len64(uint64(^T(0))))
}

func add[T number](a, b T) T { return a + b }
func sub[T number](a, b T) T { return a - b }
func mul[T number](a, b T) T { return a * b }

func and[T integer](a, b T) T { return a & b }
func or[T integer](a, b T) T { return a | b }
func xor[T integer](a, b T) T { return a ^ b }

func divU[T integer](a, b T) (T, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	return a / b, nil
}

func remU[T integer](a, b T) (T, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	return a % b, nil
}

// isMin reports whether v is the minimum of its signed type, the only
// non-zero value that is its own negation.
func isMin[S signed](v S) bool { return v != 0 && v == -v }

func divS[T integer, S signed](a, b T) (T, error) {
	sa, sb := S(a), S(b)
	if sb == 0 {
		return 0, ErrDivideByZero
	}
	if sb == -1 && isMin(sa) {
		return 0, ErrDivideOverflow
	}
	return T(sa / sb), nil
}

// remS takes the sign of the dividend. INT_MIN rem -1 is 0.
func remS[T integer, S signed](a, b T) (T, error) {
	sa, sb := S(a), S(b)
	if sb == 0 {
		return 0, ErrDivideByZero
	}
	if sb == -1 {
		return 0, nil
	}
	return T(sa % sb), nil
}

func shl[T integer](a, b T) T { return a << (b % width[T]()) }

func shrU[T integer](a, b T) T { return a >> (b % width[T]()) }

func shrS[T integer, S signed](a, b T) T { return T(S(a) >> (b % width[T]())) }

func rotl[T integer](a, b T) T {
	n := width[T]()
	k := b % n
	return a<<k | a>>((n-k)%n)
}

func rotr[T integer](a, b T) T {
	n := width[T]()
	k := b % n
	return a>>k | a<<((n-k)%n)
}

// Bit counts produce a 32-bit count for either operand width.
func clz[T integer](a T) uint32 {
	return uint32(bits.LeadingZeros64(uint64(a))) - (64 - uint32(width[T]()))
}

func ctz[T integer](a T) uint32 {
	if a == 0 {
		return uint32(width[T]())
	}
	return uint32(bits.TrailingZeros64(uint64(a)))
}

func popcnt[T integer](a T) uint32 { return uint32(bits.OnesCount64(uint64(a))) }

func eqz[T integer](a T) bool { return a == 0 }

func eq[T number](a, b T) bool { return a == b }
func ne[T number](a, b T) bool { return a != b }
func lt[T number](a, b T) bool { return a < b }
func gt[T number](a, b T) bool { return a > b }
func le[T number](a, b T) bool { return a <= b }
func ge[T number](a, b T) bool { return a >= b }

func ltS[T integer, S signed](a, b T) bool { return S(a) < S(b) }
func gtS[T integer, S signed](a, b T) bool { return S(a) > S(b) }
func leS[T integer, S signed](a, b T) bool { return S(a) <= S(b) }
func geS[T integer, S signed](a, b T) bool { return S(a) >= S(b) }

// Sign extension from the low 8, 16 or 32 bits.
func extend8S[T integer](a T) T { return T(int64(int8(a))) }
func extend16S[T integer](a T) T { return T(int64(int16(a))) }
func extend32S[T integer](a T) T { return T(int64(int32(a))) }

// Float arithmetic uses the host's IEEE 754 operations. NaN results are
// whatever the host produces.

func div[T float](a, b T) T { return a / b }

func sqrt[T float](a T) T { return T(math.Sqrt(float64(a))) }
func ceil[T float](a T) T { return T(math.Ceil(float64(a))) }
func floor[T float](a T) T { return T(math.Floor(float64(a))) }
func trunc[T float](a T) T { return T(math.Trunc(float64(a))) }
func nearest[T float](a T) T { return T(math.RoundToEven(float64(a))) }

// fmin and fmax propagate NaN and order -0 below +0.
func fmin[T float](a, b T) T {
	switch {
	case a != a:
		return a
	case b != b:
		return b
	case a == 0 && b == 0:
		if math.Signbit(float64(a)) {
			return a
		}
		return b
	case a < b:
		return a
	}
	return b
}

func fmax[T float](a, b T) T {
	switch {
	case a != a:
		return a
	case b != b:
		return b
	case a == 0 && b == 0:
		if math.Signbit(float64(a)) {
			return b
		}
		return a
	case a > b:
		return a
	}
	return b
}

// Sign manipulation works on raw bits so NaN payloads survive.
func signBit[T integer]() T { return T(1) << (width[T]() - 1) }

func fabs[T integer](a T) T { return a &^ signBit[T]() }
func fneg[T integer](a T) T { return a ^ signBit[T]() }
func copysign[T integer](a, b T) T { return a&^signBit[T]() | b&signBit[T]() }

// Integer bounds of the trapping truncations, as exact float64 values.
const (
	minI32 = -2147483648.0
	maxI32 = 2147483648.0 // exclusive
	maxU32 = 4294967296.0
	minI64 = -9223372036854775808.0
	maxI64 = 9223372036854775808.0
	maxU64 = 18446744073709551616.0
)

// truncIn truncates v and checks it lies in [lo, hi). NaN is checked first.
func truncIn(v, lo, hi float64) (float64, error) {
	if v != v {
		return 0, ErrInvalidConversion
	}
	t := math.Trunc(v)
	if t < lo || t >= hi {
		return 0, ErrIntegerOverflow
	}
	return t, nil
}

func truncS32[F float](f F) (uint32, error) {
	t, err := truncIn(float64(f), minI32, maxI32)
	return uint32(int32(t)), err
}

func truncU32[F float](f F) (uint32, error) {
	t, err := truncIn(float64(f), 0, maxU32)
	return uint32(t), err
}

func truncS64[F float](f F) (uint64, error) {
	t, err := truncIn(float64(f), minI64, maxI64)
	return uint64(int64(t)), err
}

func truncU64[F float](f F) (uint64, error) {
	t, err := truncIn(float64(f), 0, maxU64)
	return uint64(t), err
}

// Saturating truncations map NaN to 0 and clamp out-of-range values.

func truncSatS32[F float](f F) uint32 {
	v := float64(f)
	switch {
	case v != v:
		return 0
	case v < minI32:
		return 1 << 31
	case v >= maxI32:
		return math.MaxInt32
	}
	return uint32(int32(math.Trunc(v)))
}

func truncSatU32[F float](f F) uint32 {
	v := float64(f)
	switch {
	case v != v || v <= -1:
		return 0
	case v >= maxU32:
		return math.MaxUint32
	}
	return uint32(math.Trunc(v))
}

func truncSatS64[F float](f F) uint64 {
	v := float64(f)
	switch {
	case v != v:
		return 0
	case v < minI64:
		return 1 << 63
	case v >= maxI64:
		return math.MaxInt64
	}
	return uint64(int64(math.Trunc(v)))
}

func truncSatU64[F float](f F) uint64 {
	v := float64(f)
	switch {
	case v != v || v <= -1:
		return 0
	case v >= maxU64:
		return math.MaxUint64
	}
	return uint64(math.Trunc(v))
}

func wrap(a uint64) uint32 { return uint32(a) }
func extendS(a uint32) uint64 { return uint64(int64(int32(a))) }
func extendU(a uint32) uint64 { return uint64(a) }
func demote(a float64) float32 { return float32(a) }
func promote(a float32) float64 { return float64(a) }
func reinterpret32(a uint32) uint32 { return a }
func reinterpret64(a uint64) uint64 { return a }

func convertS32[F float](a uint32) F { return F(int32(a)) }
func convertU32[F float](a uint32) F { return F(a) }
func convertS64[F float](a uint64) F { return F(int64(a)) }
func convertU64[F float](a uint64) F { return F(a) }
