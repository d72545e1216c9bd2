package engine

import (
	"encoding/binary"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// The operator contracts. Each returns a handler that pops its typed
// operands, applies a pure function and pushes the result. Binary operators
// pop the second operand first.

func unop[T number](k kind[T], op func(T) T) handler {
	return func(f *frame, in *wasm.Instruction) error {
		a, err := f.pop(k.typ)
		if err != nil {
			return operandTrap("unop", in, err)
		}
		f.push(k.to(op(k.from(a))))
		return nil
	}
}

// count is a unop whose result is a 32-bit count, widened to the operand's
// type.
func count[T integer](k kind[T], op func(T) uint32) handler {
	return func(f *frame, in *wasm.Instruction) error {
		a, err := f.pop(k.typ)
		if err != nil {
			return operandTrap("unop", in, err)
		}
		f.push(k.to(T(op(k.from(a)))))
		return nil
	}
}

func binop[T number](k kind[T], op func(T, T) T) handler {
	return func(f *frame, in *wasm.Instruction) error {
		b, err := f.pop(k.typ)
		if err != nil {
			return operandTrap("binop", in, err)
		}
		a, err := f.pop(k.typ)
		if err != nil {
			return operandTrap("binop", in, err)
		}
		f.push(k.to(op(k.from(a), k.from(b))))
		return nil
	}
}

// binopTrap is a binop whose function may trap, such as division.
func binopTrap[T number](k kind[T], op func(T, T) (T, error)) handler {
	return func(f *frame, in *wasm.Instruction) error {
		b, err := f.pop(k.typ)
		if err != nil {
			return operandTrap("binop", in, err)
		}
		a, err := f.pop(k.typ)
		if err != nil {
			return operandTrap("binop", in, err)
		}
		r, err := op(k.from(a), k.from(b))
		if err != nil {
			return arithTrap("binop", in, err)
		}
		f.push(k.to(r))
		return nil
	}
}

func relop[T number](k kind[T], op func(T, T) bool) handler {
	return func(f *frame, in *wasm.Instruction) error {
		b, err := f.pop(k.typ)
		if err != nil {
			return operandTrap("relop", in, err)
		}
		a, err := f.pop(k.typ)
		if err != nil {
			return operandTrap("relop", in, err)
		}
		f.push(Bool(op(k.from(a), k.from(b))))
		return nil
	}
}

func testop[T number](k kind[T], op func(T) bool) handler {
	return func(f *frame, in *wasm.Instruction) error {
		a, err := f.pop(k.typ)
		if err != nil {
			return operandTrap("testop", in, err)
		}
		f.push(Bool(op(k.from(a))))
		return nil
	}
}

func cvtop[A, B number](from kind[A], to kind[B], op func(A) B) handler {
	return func(f *frame, in *wasm.Instruction) error {
		a, err := f.pop(from.typ)
		if err != nil {
			return operandTrap("cvtop", in, err)
		}
		f.push(to.to(op(from.from(a))))
		return nil
	}
}

// cvtopTrap is a conversion that is undefined for part of its input.
func cvtopTrap[A, B number](from kind[A], to kind[B], op func(A) (B, error)) handler {
	return func(f *frame, in *wasm.Instruction) error {
		a, err := f.pop(from.typ)
		if err != nil {
			return operandTrap("cvtop", in, err)
		}
		r, err := op(from.from(a))
		if err != nil {
			return arithTrap("cvtop", in, err)
		}
		f.push(to.to(r))
		return nil
	}
}

// effectiveAddress pops the dynamic base and adds the static offset. The
// sum is computed in 64 bits so it cannot wrap.
func effectiveAddress(f *frame, in *wasm.Instruction) (uint64, error) {
	base, err := f.pop(wasm.ValI32)
	if err != nil {
		return 0, operandTrap("memop", in, err)
	}
	imm, _ := in.Imm.(wasm.MemoryImm)
	return imm.Offset + uint64(base.U32()), nil
}

func load[T number](k kind[T], width int, decode func([]byte) T) handler {
	return func(f *frame, in *wasm.Instruction) error {
		mem, err := f.memory()
		if err != nil {
			return err
		}
		ea, err := effectiveAddress(f, in)
		if err != nil {
			return err
		}
		b, err := mem.view(siteCode("memop", in, "bounds"), ea, width)
		if err != nil {
			return err
		}
		f.push(k.to(decode(b)))
		return nil
	}
}

func store[T number](k kind[T], width int, encode func([]byte, T)) handler {
	return func(f *frame, in *wasm.Instruction) error {
		mem, err := f.memory()
		if err != nil {
			return err
		}
		v, err := f.pop(k.typ)
		if err != nil {
			return operandTrap("memop", in, err)
		}
		ea, err := effectiveAddress(f, in)
		if err != nil {
			return err
		}
		b, err := mem.view(siteCode("memop", in, "bounds"), ea, width)
		if err != nil {
			return err
		}
		encode(b, k.from(v))
		return nil
	}
}

// Little-endian decoders for full-width and sub-word loads.
var byteOrder = binary.LittleEndian

func loadU8[T integer](b []byte) T  { return T(b[0]) }
func loadS8[T integer](b []byte) T  { return T(int64(int8(b[0]))) }
func loadU16[T integer](b []byte) T { return T(byteOrder.Uint16(b)) }
func loadS16[T integer](b []byte) T { return T(int64(int16(byteOrder.Uint16(b)))) }
func loadU32[T integer](b []byte) T { return T(byteOrder.Uint32(b)) }
func loadS32[T integer](b []byte) T { return T(int64(int32(byteOrder.Uint32(b)))) }
func loadU64(b []byte) uint64       { return byteOrder.Uint64(b) }

func storeU8[T integer](b []byte, v T)  { b[0] = byte(v) }
func storeU16[T integer](b []byte, v T) { byteOrder.PutUint16(b, uint16(v)) }
func storeU32[T integer](b []byte, v T) { byteOrder.PutUint32(b, uint32(v)) }
func storeU64(b []byte, v uint64)       { byteOrder.PutUint64(b, v) }

// constant pushes the immediate of a const instruction.
func constant(f *frame, in *wasm.Instruction) error {
	switch imm := in.Imm.(type) {
	case wasm.I32Imm:
		f.push(I32(imm.Value))
	case wasm.I64Imm:
		f.push(I64(imm.Value))
	case wasm.F32Imm:
		f.push(F32Bits(imm.Bits))
	case wasm.F64Imm:
		f.push(F64Bits(imm.Bits))
	default:
		return errors.Malformed("const.immediate", in.Offset, wasm.ErrTruncated)
	}
	return nil
}
