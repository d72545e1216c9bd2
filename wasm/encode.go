package wasm

import (
	"github.com/wippyai/wasm-interp/wasm/internal/binary"
)

// Encode encodes the module to WebAssembly binary format. Sections are
// emitted in canonical order and empty sections are omitted.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	sections := []struct {
		id    byte
		write func(sec *binary.Writer) bool
	}{
		{SectionType, m.encodeTypes},
		{SectionImport, m.encodeImports},
		{SectionFunction, m.encodeFuncs},
		{SectionTable, m.encodeTables},
		{SectionMemory, m.encodeMemories},
		{SectionGlobal, m.encodeGlobals},
		{SectionExport, m.encodeExports},
		{SectionStart, m.encodeStart},
		{SectionElement, m.encodeElements},
		{SectionDataCount, m.encodeDataCount},
		{SectionCode, m.encodeCode},
		{SectionData, m.encodeData},
	}
	for _, s := range sections {
		sec := binary.NewWriter()
		if s.write(sec) {
			writeSection(w, s.id, sec.Bytes())
		}
	}

	for _, cs := range m.CustomSections {
		sec := binary.NewWriter()
		sec.WriteName(cs.Name)
		sec.WriteBytes(cs.Data)
		writeSection(w, SectionCustom, sec.Bytes())
	}
	return w.Bytes()
}

func (m *Module) encodeTypes(sec *binary.Writer) bool {
	sec.WriteU32(uint32(len(m.Types)))
	for _, ft := range m.Types {
		sec.Byte(FuncTypeByte)
		writeValTypes(sec, ft.Params)
		writeValTypes(sec, ft.Results)
	}
	return len(m.Types) > 0
}

func (m *Module) encodeImports(sec *binary.Writer) bool {
	sec.WriteU32(uint32(len(m.Imports)))
	for _, imp := range m.Imports {
		sec.WriteName(imp.Module)
		sec.WriteName(imp.Name)
		sec.Byte(imp.Desc.Kind)
		switch imp.Desc.Kind {
		case KindFunc:
			sec.WriteU32(imp.Desc.TypeIdx)
		case KindTable:
			writeTableType(sec, *imp.Desc.Table)
		case KindMemory:
			writeLimits(sec, imp.Desc.Memory.Limits)
		case KindGlobal:
			writeGlobalType(sec, *imp.Desc.Global)
		}
	}
	return len(m.Imports) > 0
}

func (m *Module) encodeFuncs(sec *binary.Writer) bool {
	sec.WriteU32(uint32(len(m.Funcs)))
	for _, typeIdx := range m.Funcs {
		sec.WriteU32(typeIdx)
	}
	return len(m.Funcs) > 0
}

func (m *Module) encodeTables(sec *binary.Writer) bool {
	sec.WriteU32(uint32(len(m.Tables)))
	for _, t := range m.Tables {
		writeTableType(sec, t)
	}
	return len(m.Tables) > 0
}

func (m *Module) encodeMemories(sec *binary.Writer) bool {
	sec.WriteU32(uint32(len(m.Memories)))
	for _, mem := range m.Memories {
		writeLimits(sec, mem.Limits)
	}
	return len(m.Memories) > 0
}

func (m *Module) encodeGlobals(sec *binary.Writer) bool {
	sec.WriteU32(uint32(len(m.Globals)))
	for _, g := range m.Globals {
		writeGlobalType(sec, g.Type)
		sec.WriteBytes(g.Init)
	}
	return len(m.Globals) > 0
}

func (m *Module) encodeExports(sec *binary.Writer) bool {
	sec.WriteU32(uint32(len(m.Exports)))
	for _, exp := range m.Exports {
		sec.WriteName(exp.Name)
		sec.Byte(exp.Kind)
		sec.WriteU32(exp.Idx)
	}
	return len(m.Exports) > 0
}

func (m *Module) encodeStart(sec *binary.Writer) bool {
	if m.Start == nil {
		return false
	}
	sec.WriteU32(*m.Start)
	return true
}

func (m *Module) encodeElements(sec *binary.Writer) bool {
	sec.WriteU32(uint32(len(m.Elements)))
	for _, elem := range m.Elements {
		sec.WriteU32(elem.Flags)
		if elem.Flags == 2 {
			sec.WriteU32(elem.TableIdx)
		}
		if elem.Flags&0x01 == 0 {
			sec.WriteBytes(elem.Offset)
		}
		if elem.Flags != 0 {
			sec.Byte(ElemKindFuncRef)
		}
		sec.WriteU32(uint32(len(elem.FuncIdxs)))
		for _, idx := range elem.FuncIdxs {
			sec.WriteU32(idx)
		}
	}
	return len(m.Elements) > 0
}

func (m *Module) encodeDataCount(sec *binary.Writer) bool {
	if m.DataCount == nil {
		return false
	}
	sec.WriteU32(*m.DataCount)
	return true
}

func (m *Module) encodeCode(sec *binary.Writer) bool {
	sec.WriteU32(uint32(len(m.Code)))
	for _, body := range m.Code {
		bodyBuf := binary.NewWriter()
		bodyBuf.WriteU32(uint32(len(body.Locals)))
		for _, local := range body.Locals {
			bodyBuf.WriteU32(local.Count)
			bodyBuf.Byte(byte(local.ValType))
		}
		bodyBuf.WriteBytes(body.Code)
		sec.WriteU32(uint32(bodyBuf.Len()))
		sec.WriteBytes(bodyBuf.Bytes())
	}
	return len(m.Code) > 0
}

func (m *Module) encodeData(sec *binary.Writer) bool {
	sec.WriteU32(uint32(len(m.Data)))
	for _, d := range m.Data {
		sec.WriteU32(d.Flags)
		if d.Flags == 2 {
			sec.WriteU32(d.MemIdx)
		}
		if d.Flags != 1 {
			sec.WriteBytes(d.Offset)
		}
		sec.WriteU32(uint32(len(d.Init)))
		sec.WriteBytes(d.Init)
	}
	return len(m.Data) > 0
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	if l.Max != nil {
		w.Byte(LimitsHasMax)
		w.WriteU32(uint32(l.Min))
		w.WriteU32(uint32(*l.Max))
		return
	}
	w.Byte(LimitsNoMax)
	w.WriteU32(uint32(l.Min))
}

func writeTableType(w *binary.Writer, t TableType) {
	elem := t.ElemType
	if elem == 0 {
		elem = ValFuncRef
	}
	w.Byte(byte(elem))
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}
