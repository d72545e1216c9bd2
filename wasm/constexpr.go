package wasm

import "fmt"

// DecodeConstExpr decodes a constant expression produced by the parser: a
// single const or global.get instruction followed by end.
func DecodeConstExpr(expr []byte) (Instruction, error) {
	instrs, err := DecodeInstructions(expr)
	if err != nil {
		return Instruction{}, err
	}
	if len(instrs) != 2 || instrs[1].Opcode != OpEnd {
		return Instruction{}, fmt.Errorf("constant expression must be one instruction followed by end, got %d instructions", len(instrs))
	}
	switch instrs[0].Opcode {
	case OpI32Const, OpI64Const, OpF32Const, OpF64Const, OpGlobalGet:
		return instrs[0], nil
	default:
		return Instruction{}, fmt.Errorf("opcode %s is not allowed in a constant expression", instrs[0].Name())
	}
}

// ExprI32 encodes an i32.const constant expression.
func ExprI32(v int32) []byte {
	return EncodeInstructions([]Instruction{{Opcode: OpI32Const, Imm: I32Imm{Value: v}}, {Opcode: OpEnd}})
}

// ExprI64 encodes an i64.const constant expression.
func ExprI64(v int64) []byte {
	return EncodeInstructions([]Instruction{{Opcode: OpI64Const, Imm: I64Imm{Value: v}}, {Opcode: OpEnd}})
}

// ExprF32 encodes an f32.const constant expression from raw bits.
func ExprF32(bits uint32) []byte {
	return EncodeInstructions([]Instruction{{Opcode: OpF32Const, Imm: F32Imm{Bits: bits}}, {Opcode: OpEnd}})
}

// ExprF64 encodes an f64.const constant expression from raw bits.
func ExprF64(bits uint64) []byte {
	return EncodeInstructions([]Instruction{{Opcode: OpF64Const, Imm: F64Imm{Bits: bits}}, {Opcode: OpEnd}})
}

// ExprGlobalGet encodes a global.get constant expression.
func ExprGlobalGet(idx uint32) []byte {
	return EncodeInstructions([]Instruction{{Opcode: OpGlobalGet, Imm: GlobalImm{GlobalIdx: idx}}, {Opcode: OpEnd}})
}
