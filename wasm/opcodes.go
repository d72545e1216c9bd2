package wasm

import "fmt"

// ImmKind identifies the shape of an opcode's immediate operands.
type ImmKind uint8

const (
	ImmNone ImmKind = iota
	ImmBlockType
	ImmLabel
	ImmBrTable
	ImmFunc
	ImmCallIndirect
	ImmLocal
	ImmGlobal
	ImmMemArg
	ImmMemIdx
	ImmI32
	ImmI64
	ImmF32
	ImmF64
	ImmSelectTypes
	ImmMisc
)

// OpInfo is the static description of a single-byte opcode.
type OpInfo struct {
	Name string
	Imm  ImmKind
}

var opTable [256]OpInfo

func def(op byte, name string, imm ImmKind) {
	opTable[op] = OpInfo{Name: name, Imm: imm}
}

func init() {
	def(OpUnreachable, "unreachable", ImmNone)
	def(OpNop, "nop", ImmNone)
	def(OpBlock, "block", ImmBlockType)
	def(OpLoop, "loop", ImmBlockType)
	def(OpIf, "if", ImmBlockType)
	def(OpElse, "else", ImmNone)
	def(OpEnd, "end", ImmNone)
	def(OpBr, "br", ImmLabel)
	def(OpBrIf, "br_if", ImmLabel)
	def(OpBrTable, "br_table", ImmBrTable)
	def(OpReturn, "return", ImmNone)
	def(OpCall, "call", ImmFunc)
	def(OpCallIndirect, "call_indirect", ImmCallIndirect)

	def(OpDrop, "drop", ImmNone)
	def(OpSelect, "select", ImmNone)
	def(OpSelectType, "select", ImmSelectTypes)

	def(OpLocalGet, "local.get", ImmLocal)
	def(OpLocalSet, "local.set", ImmLocal)
	def(OpLocalTee, "local.tee", ImmLocal)
	def(OpGlobalGet, "global.get", ImmGlobal)
	def(OpGlobalSet, "global.set", ImmGlobal)

	memNames := []string{
		"i32.load", "i64.load", "f32.load", "f64.load",
		"i32.load8_s", "i32.load8_u", "i32.load16_s", "i32.load16_u",
		"i64.load8_s", "i64.load8_u", "i64.load16_s", "i64.load16_u",
		"i64.load32_s", "i64.load32_u",
		"i32.store", "i64.store", "f32.store", "f64.store",
		"i32.store8", "i32.store16", "i64.store8", "i64.store16", "i64.store32",
	}
	for i, name := range memNames {
		def(OpI32Load+byte(i), name, ImmMemArg)
	}
	def(OpMemorySize, "memory.size", ImmMemIdx)
	def(OpMemoryGrow, "memory.grow", ImmMemIdx)

	def(OpI32Const, "i32.const", ImmI32)
	def(OpI64Const, "i64.const", ImmI64)
	def(OpF32Const, "f32.const", ImmF32)
	def(OpF64Const, "f64.const", ImmF64)

	// 0x45 through 0xC4 carry no immediates and are named in opcode order.
	plain := []string{
		"i32.eqz", "i32.eq", "i32.ne", "i32.lt_s", "i32.lt_u", "i32.gt_s", "i32.gt_u",
		"i32.le_s", "i32.le_u", "i32.ge_s", "i32.ge_u",
		"i64.eqz", "i64.eq", "i64.ne", "i64.lt_s", "i64.lt_u", "i64.gt_s", "i64.gt_u",
		"i64.le_s", "i64.le_u", "i64.ge_s", "i64.ge_u",
		"f32.eq", "f32.ne", "f32.lt", "f32.gt", "f32.le", "f32.ge",
		"f64.eq", "f64.ne", "f64.lt", "f64.gt", "f64.le", "f64.ge",
		"i32.clz", "i32.ctz", "i32.popcnt", "i32.add", "i32.sub", "i32.mul",
		"i32.div_s", "i32.div_u", "i32.rem_s", "i32.rem_u", "i32.and", "i32.or", "i32.xor",
		"i32.shl", "i32.shr_s", "i32.shr_u", "i32.rotl", "i32.rotr",
		"i64.clz", "i64.ctz", "i64.popcnt", "i64.add", "i64.sub", "i64.mul",
		"i64.div_s", "i64.div_u", "i64.rem_s", "i64.rem_u", "i64.and", "i64.or", "i64.xor",
		"i64.shl", "i64.shr_s", "i64.shr_u", "i64.rotl", "i64.rotr",
		"f32.abs", "f32.neg", "f32.ceil", "f32.floor", "f32.trunc", "f32.nearest", "f32.sqrt",
		"f32.add", "f32.sub", "f32.mul", "f32.div", "f32.min", "f32.max", "f32.copysign",
		"f64.abs", "f64.neg", "f64.ceil", "f64.floor", "f64.trunc", "f64.nearest", "f64.sqrt",
		"f64.add", "f64.sub", "f64.mul", "f64.div", "f64.min", "f64.max", "f64.copysign",
		"i32.wrap_i64", "i32.trunc_f32_s", "i32.trunc_f32_u", "i32.trunc_f64_s", "i32.trunc_f64_u",
		"i64.extend_i32_s", "i64.extend_i32_u", "i64.trunc_f32_s", "i64.trunc_f32_u",
		"i64.trunc_f64_s", "i64.trunc_f64_u",
		"f32.convert_i32_s", "f32.convert_i32_u", "f32.convert_i64_s", "f32.convert_i64_u",
		"f32.demote_f64",
		"f64.convert_i32_s", "f64.convert_i32_u", "f64.convert_i64_s", "f64.convert_i64_u",
		"f64.promote_f32",
		"i32.reinterpret_f32", "i64.reinterpret_f64", "f32.reinterpret_i32", "f64.reinterpret_i64",
		"i32.extend8_s", "i32.extend16_s", "i64.extend8_s", "i64.extend16_s", "i64.extend32_s",
	}
	for i, name := range plain {
		def(OpI32Eqz+byte(i), name, ImmNone)
	}

	def(OpPrefixMisc, "misc", ImmMisc)
}

// miscInfo names the 0xFC sub-opcodes and the number of index immediates
// that follow each one.
var miscInfo = map[uint32]struct {
	name     string
	operands int
}{
	MiscI32TruncSatF32S: {"i32.trunc_sat_f32_s", 0},
	MiscI32TruncSatF32U: {"i32.trunc_sat_f32_u", 0},
	MiscI32TruncSatF64S: {"i32.trunc_sat_f64_s", 0},
	MiscI32TruncSatF64U: {"i32.trunc_sat_f64_u", 0},
	MiscI64TruncSatF32S: {"i64.trunc_sat_f32_s", 0},
	MiscI64TruncSatF32U: {"i64.trunc_sat_f32_u", 0},
	MiscI64TruncSatF64S: {"i64.trunc_sat_f64_s", 0},
	MiscI64TruncSatF64U: {"i64.trunc_sat_f64_u", 0},
	MiscMemoryInit:      {"memory.init", 2},
	MiscDataDrop:        {"data.drop", 1},
	MiscMemoryCopy:      {"memory.copy", 2},
	MiscMemoryFill:      {"memory.fill", 1},
}

// Lookup returns the static description of op. ok is false for bytes that
// are not opcodes this package understands.
func Lookup(op byte) (OpInfo, bool) {
	info := opTable[op]
	return info, info.Name != ""
}

// OpcodeName returns the text-format name of op, or a hex placeholder.
func OpcodeName(op byte) string {
	if info, ok := Lookup(op); ok {
		return info.Name
	}
	return fmt.Sprintf("<0x%02x>", op)
}

// MiscName returns the text-format name of a 0xFC sub-opcode.
func MiscName(sub uint32) string {
	if info, ok := miscInfo[sub]; ok {
		return info.name
	}
	return fmt.Sprintf("<0xfc %d>", sub)
}

// Name returns the text-format name of the instruction.
func (i Instruction) Name() string {
	if i.Opcode == OpPrefixMisc {
		if imm, ok := i.Imm.(MiscImm); ok {
			return MiscName(imm.SubOpcode)
		}
	}
	return OpcodeName(i.Opcode)
}
