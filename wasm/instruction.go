package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/wippyai/wasm-interp/wasm/internal/binary"
)

// Instruction is one decoded instruction. Offset is the byte position of the
// opcode within the function body it was decoded from.
type Instruction struct {
	Imm    any
	Offset int
	Opcode byte
}

// BlockImm is the block type of block, loop and if.
type BlockImm struct {
	Type int32 // -64=void, -1=i32, -2=i64, -3=f32, -4=f64, >=0=type index
}

// BranchImm is the relative label depth of br and br_if.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm is the label vector and default of br_table.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm is the callee of call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm is the expected signature and table of call_indirect.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm indexes a local.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm indexes a global.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm is the memarg of loads and stores. Align is the log2 alignment
// hint and is never enforced.
type MemoryImm struct {
	Offset uint64
	Align  uint32
}

// MemoryIdxImm is the reserved memory index of memory.size and memory.grow.
type MemoryIdxImm struct {
	MemIdx uint32
}

// I32Imm is the operand of i32.const.
type I32Imm struct {
	Value int32
}

// I64Imm is the operand of i64.const.
type I64Imm struct {
	Value int64
}

// F32Imm is the operand of f32.const as raw IEEE bits, preserving NaN payloads.
type F32Imm struct {
	Bits uint32
}

// Value returns the constant as a float32.
func (i F32Imm) Value() float32 { return math.Float32frombits(i.Bits) }

// F64Imm is the operand of f64.const as raw IEEE bits.
type F64Imm struct {
	Bits uint64
}

// Value returns the constant as a float64.
func (i F64Imm) Value() float64 { return math.Float64frombits(i.Bits) }

// SelectTypeImm is the type annotation of a typed select.
type SelectTypeImm struct {
	Types []ValType
}

// MiscImm is a 0xFC sub-opcode and its index immediates.
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// GetCallTarget returns the callee for a direct call.
func (i Instruction) GetCallTarget() (uint32, bool) {
	if i.Opcode == OpCall {
		if imm, ok := i.Imm.(CallImm); ok {
			return imm.FuncIdx, true
		}
	}
	return 0, false
}

// Decoding errors.
var (
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrTruncated     = errors.New("truncated instruction")
)

// InstructionError reports a malformed instruction and its byte offset.
type InstructionError struct {
	Err    error
	Offset int
	Opcode byte
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %s at offset %d: %v", OpcodeName(e.Opcode), e.Offset, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

// DecodeInstructions decodes a function body's instruction bytes.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := binary.NewReader(bytes.NewReader(code))
	instrs := make([]Instruction, 0, len(code)/2)

	for r.Remaining() > 0 {
		offset := r.Position()
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		instr := Instruction{Opcode: op, Offset: offset}
		info, ok := Lookup(op)
		if !ok {
			return nil, &InstructionError{Opcode: op, Offset: offset, Err: ErrUnknownOpcode}
		}
		instr.Imm, err = decodeImmediate(r, info.Imm)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = ErrTruncated
			}
			return nil, &InstructionError{Opcode: op, Offset: offset, Err: err}
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

func decodeImmediate(r *binary.Reader, kind ImmKind) (any, error) {
	switch kind {
	case ImmNone:
		return nil, nil
	case ImmBlockType:
		bt, err := r.ReadS33()
		if err != nil {
			return nil, err
		}
		if bt < math.MinInt32 || bt > math.MaxInt32 {
			return nil, ErrOverflow
		}
		return BlockImm{Type: int32(bt)}, nil
	case ImmLabel:
		idx, err := r.ReadU32()
		return BranchImm{LabelIdx: idx}, err
	case ImmBrTable:
		count, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if rem := r.Remaining(); rem >= 0 && int(count) > rem {
			return nil, ErrTruncated
		}
		labels := make([]uint32, count)
		for i := range labels {
			if labels[i], err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		def, err := r.ReadU32()
		return BrTableImm{Labels: labels, Default: def}, err
	case ImmFunc:
		idx, err := r.ReadU32()
		return CallImm{FuncIdx: idx}, err
	case ImmCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		tableIdx, err := r.ReadU32()
		return CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}, err
	case ImmLocal:
		idx, err := r.ReadU32()
		return LocalImm{LocalIdx: idx}, err
	case ImmGlobal:
		idx, err := r.ReadU32()
		return GlobalImm{GlobalIdx: idx}, err
	case ImmMemArg:
		align, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		offset, err := r.ReadU32()
		return MemoryImm{Align: align, Offset: uint64(offset)}, err
	case ImmMemIdx:
		idx, err := r.ReadByte()
		return MemoryIdxImm{MemIdx: uint32(idx)}, err
	case ImmI32:
		v, err := r.ReadS32()
		return I32Imm{Value: v}, err
	case ImmI64:
		v, err := r.ReadS64()
		return I64Imm{Value: v}, err
	case ImmF32:
		bits, err := r.ReadU32LE()
		return F32Imm{Bits: bits}, err
	case ImmF64:
		bits, err := r.ReadU64LE()
		return F64Imm{Bits: bits}, err
	case ImmSelectTypes:
		count, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if count != 1 {
			return nil, fmt.Errorf("typed select with %d types", count)
		}
		t, err := r.ReadByte()
		return SelectTypeImm{Types: []ValType{ValType(t)}}, err
	case ImmMisc:
		sub, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		info, ok := miscInfo[sub]
		if !ok {
			return nil, fmt.Errorf("%w: 0xfc %d", ErrUnknownOpcode, sub)
		}
		imm := MiscImm{SubOpcode: sub}
		for i := 0; i < info.operands; i++ {
			v, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			imm.Operands = append(imm.Operands, v)
		}
		return imm, nil
	}
	return nil, fmt.Errorf("unhandled immediate kind %d", kind)
}

// EncodeInstructionTo appends the binary encoding of instr to buf.
func EncodeInstructionTo(buf *bytes.Buffer, instr *Instruction) {
	buf.WriteByte(instr.Opcode)

	switch imm := instr.Imm.(type) {
	case BlockImm:
		WriteLEB128s64(buf, int64(imm.Type))
	case BranchImm:
		WriteLEB128u(buf, imm.LabelIdx)
	case BrTableImm:
		WriteLEB128u(buf, uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			WriteLEB128u(buf, l)
		}
		WriteLEB128u(buf, imm.Default)
	case CallImm:
		WriteLEB128u(buf, imm.FuncIdx)
	case CallIndirectImm:
		WriteLEB128u(buf, imm.TypeIdx)
		WriteLEB128u(buf, imm.TableIdx)
	case LocalImm:
		WriteLEB128u(buf, imm.LocalIdx)
	case GlobalImm:
		WriteLEB128u(buf, imm.GlobalIdx)
	case MemoryImm:
		WriteLEB128u(buf, imm.Align)
		WriteLEB128u(buf, uint32(imm.Offset))
	case MemoryIdxImm:
		buf.WriteByte(byte(imm.MemIdx))
	case I32Imm:
		WriteLEB128s(buf, imm.Value)
	case I64Imm:
		WriteLEB128s64(buf, imm.Value)
	case F32Imm:
		var b [4]byte
		b[0], b[1], b[2], b[3] = byte(imm.Bits), byte(imm.Bits>>8), byte(imm.Bits>>16), byte(imm.Bits>>24)
		buf.Write(b[:])
	case F64Imm:
		for i := 0; i < 8; i++ {
			buf.WriteByte(byte(imm.Bits >> (8 * i)))
		}
	case SelectTypeImm:
		WriteLEB128u(buf, uint32(len(imm.Types)))
		for _, t := range imm.Types {
			buf.WriteByte(byte(t))
		}
	case MiscImm:
		WriteLEB128u(buf, imm.SubOpcode)
		for _, v := range imm.Operands {
			WriteLEB128u(buf, v)
		}
	case nil:
		if instr.Opcode == OpMemorySize || instr.Opcode == OpMemoryGrow {
			buf.WriteByte(0x00)
		}
	}
}

// EncodeInstructionsTo appends the encoding of every instruction to buf.
func EncodeInstructionsTo(buf *bytes.Buffer, instrs []Instruction) {
	for i := range instrs {
		EncodeInstructionTo(buf, &instrs[i])
	}
}

// EncodeInstructions encodes instructions into a new byte slice.
func EncodeInstructions(instrs []Instruction) []byte {
	var buf bytes.Buffer
	EncodeInstructionsTo(&buf, instrs)
	return buf.Bytes()
}
