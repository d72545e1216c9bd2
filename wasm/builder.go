package wasm

import "math"

// Builder assembles a Module in Go. Imported functions must be added before
// any defined function so that function indices stay stable.
type Builder struct {
	m Module
}

// NewBuilder returns an empty module builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// ImportFunc declares an imported function and returns its function index.
func (b *Builder) ImportFunc(module, name string, ft FuncType) uint32 {
	if len(b.m.Funcs) > 0 {
		panic("wasm: ImportFunc after Func")
	}
	idx := uint32(b.m.NumImportedFuncs())
	b.m.Imports = append(b.m.Imports, Import{
		Module: module,
		Name:   name,
		Desc:   ImportDesc{Kind: KindFunc, TypeIdx: b.m.AddType(ft)},
	})
	return idx
}

// ImportGlobal declares an imported global and returns its global index.
func (b *Builder) ImportGlobal(module, name string, gt GlobalType) uint32 {
	if len(b.m.Globals) > 0 {
		panic("wasm: ImportGlobal after Global")
	}
	idx := uint32(b.m.NumImportedGlobals())
	b.m.Imports = append(b.m.Imports, Import{
		Module: module,
		Name:   name,
		Desc:   ImportDesc{Kind: KindGlobal, Global: &gt},
	})
	return idx
}

// Func defines a function and returns its index. body excludes the final
// end, which is appended. A non-empty export name also exports it.
func (b *Builder) Func(export string, ft FuncType, locals []ValType, body ...Instruction) uint32 {
	idx := uint32(b.m.NumFuncs())
	b.m.Funcs = append(b.m.Funcs, b.m.AddType(ft))
	instrs := append(append([]Instruction(nil), body...), Instruction{Opcode: OpEnd})
	b.m.Code = append(b.m.Code, FuncBody{
		Locals: groupLocals(locals),
		Code:   EncodeInstructions(instrs),
	})
	if export != "" {
		b.Export(export, KindFunc, idx)
	}
	return idx
}

// Type registers a function type, typically for call_indirect or a
// multi-value block, and returns its index.
func (b *Builder) Type(ft FuncType) uint32 {
	return b.m.AddType(ft)
}

func groupLocals(locals []ValType) []LocalEntry {
	var entries []LocalEntry
	for _, t := range locals {
		if n := len(entries); n > 0 && entries[n-1].ValType == t {
			entries[n-1].Count++
			continue
		}
		entries = append(entries, LocalEntry{Count: 1, ValType: t})
	}
	return entries
}

// Memory declares the module's memory. max < 0 means no maximum.
func (b *Builder) Memory(minPages uint32, maxPages int64, export string) {
	l := Limits{Min: uint64(minPages)}
	if maxPages >= 0 {
		v := uint64(maxPages)
		l.Max = &v
	}
	b.m.Memories = append(b.m.Memories, MemoryType{Limits: l})
	if export != "" {
		b.Export(export, KindMemory, 0)
	}
}

// Global defines a global initialised by a constant expression and returns
// its index.
func (b *Builder) Global(export string, gt GlobalType, init []byte) uint32 {
	idx := uint32(b.m.NumImportedGlobals() + len(b.m.Globals))
	b.m.Globals = append(b.m.Globals, Global{Type: gt, Init: init})
	if export != "" {
		b.Export(export, KindGlobal, idx)
	}
	return idx
}

// Table declares a funcref table of size entries.
func (b *Builder) Table(size uint32) {
	b.m.Tables = append(b.m.Tables, TableType{ElemType: ValFuncRef, Limits: Limits{Min: uint64(size)}})
}

// Elements adds an active element segment writing funcs at offset of table 0.
func (b *Builder) Elements(offset int32, funcs ...uint32) {
	b.m.Elements = append(b.m.Elements, Element{Offset: ExprI32(offset), FuncIdxs: funcs})
}

// Data adds an active data segment at offset of memory 0.
func (b *Builder) Data(offset int32, data []byte) {
	b.m.Data = append(b.m.Data, DataSegment{Offset: ExprI32(offset), Init: data})
	b.syncDataCount()
}

// PassiveData adds a passive data segment and returns its index.
func (b *Builder) PassiveData(data []byte) uint32 {
	idx := uint32(len(b.m.Data))
	b.m.Data = append(b.m.Data, DataSegment{Flags: 1, Init: data})
	b.syncDataCount()
	return idx
}

func (b *Builder) syncDataCount() {
	n := uint32(len(b.m.Data))
	b.m.DataCount = &n
}

// Export exports an item by index.
func (b *Builder) Export(name string, kind byte, idx uint32) {
	b.m.Exports = append(b.m.Exports, Export{Name: name, Kind: kind, Idx: idx})
}

// Start sets the start function.
func (b *Builder) Start(funcIdx uint32) {
	b.m.Start = &funcIdx
}

// Module returns the assembled module.
func (b *Builder) Module() *Module {
	m := b.m
	return &m
}

// Bytes returns the binary encoding of the assembled module.
func (b *Builder) Bytes() []byte {
	return b.m.Encode()
}

// Instruction constructors.

// Op returns an instruction without immediates.
func Op(op byte) Instruction { return Instruction{Opcode: op} }

// I32Const returns i32.const v.
func I32Const(v int32) Instruction { return Instruction{Opcode: OpI32Const, Imm: I32Imm{Value: v}} }

// I64Const returns i64.const v.
func I64Const(v int64) Instruction { return Instruction{Opcode: OpI64Const, Imm: I64Imm{Value: v}} }

// F32Const returns f32.const v.
func F32Const(v float32) Instruction {
	return Instruction{Opcode: OpF32Const, Imm: F32Imm{Bits: math.Float32bits(v)}}
}

// F64Const returns f64.const v.
func F64Const(v float64) Instruction {
	return Instruction{Opcode: OpF64Const, Imm: F64Imm{Bits: math.Float64bits(v)}}
}

// LocalGet returns local.get idx.
func LocalGet(idx uint32) Instruction { return Instruction{Opcode: OpLocalGet, Imm: LocalImm{LocalIdx: idx}} }

// LocalSet returns local.set idx.
func LocalSet(idx uint32) Instruction { return Instruction{Opcode: OpLocalSet, Imm: LocalImm{LocalIdx: idx}} }

// LocalTee returns local.tee idx.
func LocalTee(idx uint32) Instruction { return Instruction{Opcode: OpLocalTee, Imm: LocalImm{LocalIdx: idx}} }

// GlobalGet returns global.get idx.
func GlobalGet(idx uint32) Instruction {
	return Instruction{Opcode: OpGlobalGet, Imm: GlobalImm{GlobalIdx: idx}}
}

// GlobalSet returns global.set idx.
func GlobalSet(idx uint32) Instruction {
	return Instruction{Opcode: OpGlobalSet, Imm: GlobalImm{GlobalIdx: idx}}
}

// Block returns block with the given block type.
func Block(bt int32) Instruction { return Instruction{Opcode: OpBlock, Imm: BlockImm{Type: bt}} }

// Loop returns loop with the given block type.
func Loop(bt int32) Instruction { return Instruction{Opcode: OpLoop, Imm: BlockImm{Type: bt}} }

// If returns if with the given block type.
func If(bt int32) Instruction { return Instruction{Opcode: OpIf, Imm: BlockImm{Type: bt}} }

// End returns end, closing the innermost block.
func End() Instruction { return Instruction{Opcode: OpEnd} }

// Br returns br label.
func Br(label uint32) Instruction { return Instruction{Opcode: OpBr, Imm: BranchImm{LabelIdx: label}} }

// BrIf returns br_if label.
func BrIf(label uint32) Instruction { return Instruction{Opcode: OpBrIf, Imm: BranchImm{LabelIdx: label}} }

// BrTable returns br_table labels... def.
func BrTable(def uint32, labels ...uint32) Instruction {
	return Instruction{Opcode: OpBrTable, Imm: BrTableImm{Labels: labels, Default: def}}
}

// Call returns call funcIdx.
func Call(funcIdx uint32) Instruction { return Instruction{Opcode: OpCall, Imm: CallImm{FuncIdx: funcIdx}} }

// CallIndirect returns call_indirect typeIdx on table 0.
func CallIndirect(typeIdx uint32) Instruction {
	return Instruction{Opcode: OpCallIndirect, Imm: CallIndirectImm{TypeIdx: typeIdx}}
}

// Mem returns a load or store with the given static offset and natural
// alignment hint 0.
func Mem(op byte, offset uint32) Instruction {
	return Instruction{Opcode: op, Imm: MemoryImm{Offset: uint64(offset)}}
}

// MemorySize returns memory.size.
func MemorySize() Instruction { return Instruction{Opcode: OpMemorySize, Imm: MemoryIdxImm{}} }

// MemoryGrow returns memory.grow.
func MemoryGrow() Instruction { return Instruction{Opcode: OpMemoryGrow, Imm: MemoryIdxImm{}} }

// Misc returns a 0xFC-prefixed instruction.
func Misc(sub uint32, operands ...uint32) Instruction {
	return Instruction{Opcode: OpPrefixMisc, Imm: MiscImm{SubOpcode: sub, Operands: operands}}
}
