package engine

import "github.com/wippyai/wasm-interp/wasm"

// handlers is the dispatch table, indexed by opcode.
var handlers [256]handler

// pure marks opcodes that only touch the operand stack. Apply accepts
// exactly these.
var pure [256]bool

// miscHandlers dispatches 0xFC sub-opcodes.
var miscHandlers = map[uint32]handler{}

func def(op byte, h handler) { handlers[op] = h }

func defPure(op byte, h handler) {
	handlers[op] = h
	pure[op] = true
}

func init() {
	defControl()
	defParametric()
	defVariables()
	defMemory()
	defNumeric()
	defConversions()
	defMisc()
}

func defParametric() {
	defPure(wasm.OpDrop, drop)
	defPure(wasm.OpSelect, selectOp)
	defPure(wasm.OpSelectType, selectOp)
	defPure(wasm.OpI32Const, constant)
	defPure(wasm.OpI64Const, constant)
	defPure(wasm.OpF32Const, constant)
	defPure(wasm.OpF64Const, constant)
}

func defMemory() {
	def(wasm.OpI32Load, load(kI32, 4, loadU32[uint32]))
	def(wasm.OpI64Load, load(kI64, 8, loadU64))
	def(wasm.OpF32Load, load(kF32Bits, 4, loadU32[uint32]))
	def(wasm.OpF64Load, load(kF64Bits, 8, loadU64))
	def(wasm.OpI32Load8S, load(kI32, 1, loadS8[uint32]))
	def(wasm.OpI32Load8U, load(kI32, 1, loadU8[uint32]))
	def(wasm.OpI32Load16S, load(kI32, 2, loadS16[uint32]))
	def(wasm.OpI32Load16U, load(kI32, 2, loadU16[uint32]))
	def(wasm.OpI64Load8S, load(kI64, 1, loadS8[uint64]))
	def(wasm.OpI64Load8U, load(kI64, 1, loadU8[uint64]))
	def(wasm.OpI64Load16S, load(kI64, 2, loadS16[uint64]))
	def(wasm.OpI64Load16U, load(kI64, 2, loadU16[uint64]))
	def(wasm.OpI64Load32S, load(kI64, 4, loadS32[uint64]))
	def(wasm.OpI64Load32U, load(kI64, 4, loadU32[uint64]))

	def(wasm.OpI32Store, store(kI32, 4, storeU32[uint32]))
	def(wasm.OpI64Store, store(kI64, 8, storeU64))
	def(wasm.OpF32Store, store(kF32Bits, 4, storeU32[uint32]))
	def(wasm.OpF64Store, store(kF64Bits, 8, storeU64))
	def(wasm.OpI32Store8, store(kI32, 1, storeU8[uint32]))
	def(wasm.OpI32Store16, store(kI32, 2, storeU16[uint32]))
	def(wasm.OpI64Store8, store(kI64, 1, storeU8[uint64]))
	def(wasm.OpI64Store16, store(kI64, 2, storeU16[uint64]))
	def(wasm.OpI64Store32, store(kI64, 4, storeU32[uint64]))

	def(wasm.OpMemorySize, memorySize)
	def(wasm.OpMemoryGrow, memoryGrow)
}

func defNumeric() {
	defPure(wasm.OpI32Eqz, testop(kI32, eqz[uint32]))
	defPure(wasm.OpI32Eq, relop(kI32, eq[uint32]))
	defPure(wasm.OpI32Ne, relop(kI32, ne[uint32]))
	defPure(wasm.OpI32LtS, relop(kI32, ltS[uint32, int32]))
	defPure(wasm.OpI32LtU, relop(kI32, lt[uint32]))
	defPure(wasm.OpI32GtS, relop(kI32, gtS[uint32, int32]))
	defPure(wasm.OpI32GtU, relop(kI32, gt[uint32]))
	defPure(wasm.OpI32LeS, relop(kI32, leS[uint32, int32]))
	defPure(wasm.OpI32LeU, relop(kI32, le[uint32]))
	defPure(wasm.OpI32GeS, relop(kI32, geS[uint32, int32]))
	defPure(wasm.OpI32GeU, relop(kI32, ge[uint32]))

	defPure(wasm.OpI64Eqz, testop(kI64, eqz[uint64]))
	defPure(wasm.OpI64Eq, relop(kI64, eq[uint64]))
	defPure(wasm.OpI64Ne, relop(kI64, ne[uint64]))
	defPure(wasm.OpI64LtS, relop(kI64, ltS[uint64, int64]))
	defPure(wasm.OpI64LtU, relop(kI64, lt[uint64]))
	defPure(wasm.OpI64GtS, relop(kI64, gtS[uint64, int64]))
	defPure(wasm.OpI64GtU, relop(kI64, gt[uint64]))
	defPure(wasm.OpI64LeS, relop(kI64, leS[uint64, int64]))
	defPure(wasm.OpI64LeU, relop(kI64, le[uint64]))
	defPure(wasm.OpI64GeS, relop(kI64, geS[uint64, int64]))
	defPure(wasm.OpI64GeU, relop(kI64, ge[uint64]))

	defPure(wasm.OpF32Eq, relop(kF32, eq[float32]))
	defPure(wasm.OpF32Ne, relop(kF32, ne[float32]))
	defPure(wasm.OpF32Lt, relop(kF32, lt[float32]))
	defPure(wasm.OpF32Gt, relop(kF32, gt[float32]))
	defPure(wasm.OpF32Le, relop(kF32, le[float32]))
	defPure(wasm.OpF32Ge, relop(kF32, ge[float32]))

	defPure(wasm.OpF64Eq, relop(kF64, eq[float64]))
	defPure(wasm.OpF64Ne, relop(kF64, ne[float64]))
	defPure(wasm.OpF64Lt, relop(kF64, lt[float64]))
	defPure(wasm.OpF64Gt, relop(kF64, gt[float64]))
	defPure(wasm.OpF64Le, relop(kF64, le[float64]))
	defPure(wasm.OpF64Ge, relop(kF64, ge[float64]))

	defPure(wasm.OpI32Clz, count(kI32, clz[uint32]))
	defPure(wasm.OpI32Ctz, count(kI32, ctz[uint32]))
	defPure(wasm.OpI32Popcnt, count(kI32, popcnt[uint32]))
	defPure(wasm.OpI32Add, binop(kI32, add[uint32]))
	defPure(wasm.OpI32Sub, binop(kI32, sub[uint32]))
	defPure(wasm.OpI32Mul, binop(kI32, mul[uint32]))
	defPure(wasm.OpI32DivS, binopTrap(kI32, divS[uint32, int32]))
	defPure(wasm.OpI32DivU, binopTrap(kI32, divU[uint32]))
	defPure(wasm.OpI32RemS, binopTrap(kI32, remS[uint32, int32]))
	defPure(wasm.OpI32RemU, binopTrap(kI32, remU[uint32]))
	defPure(wasm.OpI32And, binop(kI32, and[uint32]))
	defPure(wasm.OpI32Or, binop(kI32, or[uint32]))
	defPure(wasm.OpI32Xor, binop(kI32, xor[uint32]))
	defPure(wasm.OpI32Shl, binop(kI32, shl[uint32]))
	defPure(wasm.OpI32ShrS, binop(kI32, shrS[uint32, int32]))
	defPure(wasm.OpI32ShrU, binop(kI32, shrU[uint32]))
	defPure(wasm.OpI32Rotl, binop(kI32, rotl[uint32]))
	defPure(wasm.OpI32Rotr, binop(kI32, rotr[uint32]))

	defPure(wasm.OpI64Clz, count(kI64, clz[uint64]))
	defPure(wasm.OpI64Ctz, count(kI64, ctz[uint64]))
	defPure(wasm.OpI64Popcnt, count(kI64, popcnt[uint64]))
	defPure(wasm.OpI64Add, binop(kI64, add[uint64]))
	defPure(wasm.OpI64Sub, binop(kI64, sub[uint64]))
	defPure(wasm.OpI64Mul, binop(kI64, mul[uint64]))
	defPure(wasm.OpI64DivS, binopTrap(kI64, divS[uint64, int64]))
	defPure(wasm.OpI64DivU, binopTrap(kI64, divU[uint64]))
	defPure(wasm.OpI64RemS, binopTrap(kI64, remS[uint64, int64]))
	defPure(wasm.OpI64RemU, binopTrap(kI64, remU[uint64]))
	defPure(wasm.OpI64And, binop(kI64, and[uint64]))
	defPure(wasm.OpI64Or, binop(kI64, or[uint64]))
	defPure(wasm.OpI64Xor, binop(kI64, xor[uint64]))
	defPure(wasm.OpI64Shl, binop(kI64, shl[uint64]))
	defPure(wasm.OpI64ShrS, binop(kI64, shrS[uint64, int64]))
	defPure(wasm.OpI64ShrU, binop(kI64, shrU[uint64]))
	defPure(wasm.OpI64Rotl, binop(kI64, rotl[uint64]))
	defPure(wasm.OpI64Rotr, binop(kI64, rotr[uint64]))

	defPure(wasm.OpF32Abs, unop(kF32Bits, fabs[uint32]))
	defPure(wasm.OpF32Neg, unop(kF32Bits, fneg[uint32]))
	defPure(wasm.OpF32Ceil, unop(kF32, ceil[float32]))
	defPure(wasm.OpF32Floor, unop(kF32, floor[float32]))
	defPure(wasm.OpF32Trunc, unop(kF32, trunc[float32]))
	defPure(wasm.OpF32Nearest, unop(kF32, nearest[float32]))
	defPure(wasm.OpF32Sqrt, unop(kF32, sqrt[float32]))
	defPure(wasm.OpF32Add, binop(kF32, add[float32]))
	defPure(wasm.OpF32Sub, binop(kF32, sub[float32]))
	defPure(wasm.OpF32Mul, binop(kF32, mul[float32]))
	defPure(wasm.OpF32Div, binop(kF32, div[float32]))
	defPure(wasm.OpF32Min, binop(kF32, fmin[float32]))
	defPure(wasm.OpF32Max, binop(kF32, fmax[float32]))
	defPure(wasm.OpF32Copysign, binop(kF32Bits, copysign[uint32]))

	defPure(wasm.OpF64Abs, unop(kF64Bits, fabs[uint64]))
	defPure(wasm.OpF64Neg, unop(kF64Bits, fneg[uint64]))
	defPure(wasm.OpF64Ceil, unop(kF64, ceil[float64]))
	defPure(wasm.OpF64Floor, unop(kF64, floor[float64]))
	defPure(wasm.OpF64Trunc, unop(kF64, trunc[float64]))
	defPure(wasm.OpF64Nearest, unop(kF64, nearest[float64]))
	defPure(wasm.OpF64Sqrt, unop(kF64, sqrt[float64]))
	defPure(wasm.OpF64Add, binop(kF64, add[float64]))
	defPure(wasm.OpF64Sub, binop(kF64, sub[float64]))
	defPure(wasm.OpF64Mul, binop(kF64, mul[float64]))
	defPure(wasm.OpF64Div, binop(kF64, div[float64]))
	defPure(wasm.OpF64Min, binop(kF64, fmin[float64]))
	defPure(wasm.OpF64Max, binop(kF64, fmax[float64]))
	defPure(wasm.OpF64Copysign, binop(kF64Bits, copysign[uint64]))

	defPure(wasm.OpI32Extend8S, unop(kI32, extend8S[uint32]))
	defPure(wasm.OpI32Extend16S, unop(kI32, extend16S[uint32]))
	defPure(wasm.OpI64Extend8S, unop(kI64, extend8S[uint64]))
	defPure(wasm.OpI64Extend16S, unop(kI64, extend16S[uint64]))
	defPure(wasm.OpI64Extend32S, unop(kI64, extend32S[uint64]))
}

func defConversions() {
	defPure(wasm.OpI32WrapI64, cvtop(kI64, kI32, wrap))
	defPure(wasm.OpI32TruncF32S, cvtopTrap(kF32, kI32, truncS32[float32]))
	defPure(wasm.OpI32TruncF32U, cvtopTrap(kF32, kI32, truncU32[float32]))
	defPure(wasm.OpI32TruncF64S, cvtopTrap(kF64, kI32, truncS32[float64]))
	defPure(wasm.OpI32TruncF64U, cvtopTrap(kF64, kI32, truncU32[float64]))
	defPure(wasm.OpI64ExtendI32S, cvtop(kI32, kI64, extendS))
	defPure(wasm.OpI64ExtendI32U, cvtop(kI32, kI64, extendU))
	defPure(wasm.OpI64TruncF32S, cvtopTrap(kF32, kI64, truncS64[float32]))
	defPure(wasm.OpI64TruncF32U, cvtopTrap(kF32, kI64, truncU64[float32]))
	defPure(wasm.OpI64TruncF64S, cvtopTrap(kF64, kI64, truncS64[float64]))
	defPure(wasm.OpI64TruncF64U, cvtopTrap(kF64, kI64, truncU64[float64]))
	defPure(wasm.OpF32ConvertI32S, cvtop(kI32, kF32, convertS32[float32]))
	defPure(wasm.OpF32ConvertI32U, cvtop(kI32, kF32, convertU32[float32]))
	defPure(wasm.OpF32ConvertI64S, cvtop(kI64, kF32, convertS64[float32]))
	defPure(wasm.OpF32ConvertI64U, cvtop(kI64, kF32, convertU64[float32]))
	defPure(wasm.OpF32DemoteF64, cvtop(kF64, kF32, demote))
	defPure(wasm.OpF64ConvertI32S, cvtop(kI32, kF64, convertS32[float64]))
	defPure(wasm.OpF64ConvertI32U, cvtop(kI32, kF64, convertU32[float64]))
	defPure(wasm.OpF64ConvertI64S, cvtop(kI64, kF64, convertS64[float64]))
	defPure(wasm.OpF64ConvertI64U, cvtop(kI64, kF64, convertU64[float64]))
	defPure(wasm.OpF64PromoteF32, cvtop(kF32, kF64, promote))
	defPure(wasm.OpI32ReinterpretF32, cvtop(kF32Bits, kI32, reinterpret32))
	defPure(wasm.OpI64ReinterpretF64, cvtop(kF64Bits, kI64, reinterpret64))
	defPure(wasm.OpF32ReinterpretI32, cvtop(kI32, kF32Bits, reinterpret32))
	defPure(wasm.OpF64ReinterpretI64, cvtop(kI64, kF64Bits, reinterpret64))
}

func defMisc() {
	miscHandlers[wasm.MiscI32TruncSatF32S] = cvtop(kF32, kI32, truncSatS32[float32])
	miscHandlers[wasm.MiscI32TruncSatF32U] = cvtop(kF32, kI32, truncSatU32[float32])
	miscHandlers[wasm.MiscI32TruncSatF64S] = cvtop(kF64, kI32, truncSatS32[float64])
	miscHandlers[wasm.MiscI32TruncSatF64U] = cvtop(kF64, kI32, truncSatU32[float64])
	miscHandlers[wasm.MiscI64TruncSatF32S] = cvtop(kF32, kI64, truncSatS64[float32])
	miscHandlers[wasm.MiscI64TruncSatF32U] = cvtop(kF32, kI64, truncSatU64[float32])
	miscHandlers[wasm.MiscI64TruncSatF64S] = cvtop(kF64, kI64, truncSatS64[float64])
	miscHandlers[wasm.MiscI64TruncSatF64U] = cvtop(kF64, kI64, truncSatU64[float64])
	miscHandlers[wasm.MiscMemoryInit] = memoryInit
	miscHandlers[wasm.MiscDataDrop] = dataDrop
	miscHandlers[wasm.MiscMemoryCopy] = memoryCopy
	miscHandlers[wasm.MiscMemoryFill] = memoryFill
	def(wasm.OpPrefixMisc, misc)
}

// isPureMisc reports whether a 0xFC sub-opcode only touches the stack.
func isPureMisc(sub uint32) bool {
	return sub <= wasm.MiscI64TruncSatF64U
}
