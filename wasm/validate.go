package wasm

import "fmt"

// Validate checks the module for structural validity: index spaces, limits,
// export names, constant expressions and the block structure of every
// function body. It does not type-check operand stacks.
func (m *Module) Validate() error {
	checks := []func() error{
		m.validateTypeIndices,
		m.validateFunctionIndices,
		m.validateTableIndices,
		m.validateMemoryIndices,
		m.validateGlobals,
		m.validateExports,
		m.validateStart,
		m.validateDataCount,
		m.validateCodeCount,
		m.validateMemoryLimits,
		m.validateBodies,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ParseModuleValidate parses a WebAssembly binary and validates it.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))
	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d references invalid type index %d", i, typeIdx)
		}
	}
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= numTypes {
			return fmt.Errorf("import %d (%s.%s) references invalid type index %d", i, imp.Module, imp.Name, imp.Desc.TypeIdx)
		}
	}
	return nil
}

func (m *Module) validateFunctionIndices() error {
	numFuncs := uint32(m.NumFuncs())
	for i, elem := range m.Elements {
		for j, funcIdx := range elem.FuncIdxs {
			if funcIdx >= numFuncs {
				return fmt.Errorf("element %d, entry %d references invalid function index %d", i, j, funcIdx)
			}
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Idx >= numFuncs {
			return fmt.Errorf("export %d (%s) references invalid function index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateTableIndices() error {
	numTables := uint32(m.NumImportedTables() + len(m.Tables))
	for i := range m.Elements {
		elem := &m.Elements[i]
		if elem.Mode() != ElemModeActive {
			continue
		}
		if elem.TableIdx >= numTables {
			return fmt.Errorf("element %d references invalid table index %d", i, elem.TableIdx)
		}
		if err := m.validateOffsetExpr(elem.Offset); err != nil {
			return fmt.Errorf("element %d offset: %w", i, err)
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindTable && exp.Idx >= numTables {
			return fmt.Errorf("export %d (%s) references invalid table index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateMemoryIndices() error {
	numMemories := uint32(m.NumImportedMemories() + len(m.Memories))
	if numMemories > 1 {
		return fmt.Errorf("multiple memories are not supported (%d declared)", numMemories)
	}
	for i := range m.Data {
		d := &m.Data[i]
		if d.Passive() {
			continue
		}
		if d.MemIdx >= numMemories {
			return fmt.Errorf("data segment %d references invalid memory index %d", i, d.MemIdx)
		}
		if err := m.validateOffsetExpr(d.Offset); err != nil {
			return fmt.Errorf("data segment %d offset: %w", i, err)
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindMemory && exp.Idx >= numMemories {
			return fmt.Errorf("export %d (%s) references invalid memory index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

// validateOffsetExpr checks a segment offset is an i32 constant expression.
func (m *Module) validateOffsetExpr(expr []byte) error {
	t, err := m.constExprType(expr, uint32(m.NumImportedGlobals()+len(m.Globals)))
	if err != nil {
		return err
	}
	if t != ValI32 {
		return fmt.Errorf("offset has type %s, want i32", t)
	}
	return nil
}

// constExprType returns the result type of a constant expression that may
// read globals with index below visible.
func (m *Module) constExprType(expr []byte, visible uint32) (ValType, error) {
	instr, err := DecodeConstExpr(expr)
	if err != nil {
		return 0, err
	}
	switch instr.Opcode {
	case OpI32Const:
		return ValI32, nil
	case OpI64Const:
		return ValI64, nil
	case OpF32Const:
		return ValF32, nil
	case OpF64Const:
		return ValF64, nil
	}
	idx := instr.Imm.(GlobalImm).GlobalIdx
	if idx >= visible {
		return 0, fmt.Errorf("global.get %d is not visible here", idx)
	}
	gt := m.GlobalType(idx)
	if gt.Mutable {
		return 0, fmt.Errorf("global.get %d reads a mutable global", idx)
	}
	return gt.ValType, nil
}

// GlobalType returns the type of a global by its index in the global index
// space (imports first).
func (m *Module) GlobalType(idx uint32) GlobalType {
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindGlobal {
			continue
		}
		if idx == 0 {
			return *imp.Desc.Global
		}
		idx--
	}
	return m.Globals[idx].Type
}

func (m *Module) validateGlobals() error {
	imported := uint32(m.NumImportedGlobals())
	for i, g := range m.Globals {
		t, err := m.constExprType(g.Init, imported+uint32(i))
		if err != nil {
			return fmt.Errorf("global %d init: %w", i, err)
		}
		if t != g.Type.ValType {
			return fmt.Errorf("global %d init has type %s, want %s", i, t, g.Type.ValType)
		}
	}
	numGlobals := imported + uint32(len(m.Globals))
	for i, exp := range m.Exports {
		if exp.Kind == KindGlobal && exp.Idx >= numGlobals {
			return fmt.Errorf("export %d (%s) references invalid global index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	seen := make(map[string]bool)
	for i, exp := range m.Exports {
		if seen[exp.Name] {
			return fmt.Errorf("duplicate export name %q at index %d", exp.Name, i)
		}
		seen[exp.Name] = true
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}
	funcType := m.GetFuncType(*m.Start)
	if funcType == nil {
		return fmt.Errorf("start function index %d out of range", *m.Start)
	}
	if len(funcType.Params) != 0 || len(funcType.Results) != 0 {
		return fmt.Errorf("start function must have signature () -> (), got %s", funcType)
	}
	return nil
}

func (m *Module) validateDataCount() error {
	if m.DataCount != nil && *m.DataCount != uint32(len(m.Data)) {
		return fmt.Errorf("data count section declares %d segments, but data section has %d",
			*m.DataCount, len(m.Data))
	}
	return nil
}

func (m *Module) validateCodeCount() error {
	if len(m.Code) != len(m.Funcs) {
		return fmt.Errorf("code section has %d entries but function section has %d",
			len(m.Code), len(m.Funcs))
	}
	return nil
}

func (m *Module) validateMemoryLimits() error {
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory {
			if err := validateMemoryType(imp.Desc.Memory, i, true); err != nil {
				return err
			}
		}
	}
	for i := range m.Memories {
		if err := validateMemoryType(&m.Memories[i], i, false); err != nil {
			return err
		}
	}
	return nil
}

func validateMemoryType(mem *MemoryType, idx int, isImport bool) error {
	prefix := "memory"
	if isImport {
		prefix = "imported memory"
	}
	if mem.Limits.Min > MemoryMaxPages {
		return fmt.Errorf("%s %d: min pages %d exceeds maximum %d", prefix, idx, mem.Limits.Min, MemoryMaxPages)
	}
	if mem.Limits.Max != nil && *mem.Limits.Max > MemoryMaxPages {
		return fmt.Errorf("%s %d: max pages %d exceeds maximum %d", prefix, idx, *mem.Limits.Max, MemoryMaxPages)
	}
	return nil
}

func (m *Module) validateBodies() error {
	imported := uint32(m.NumImportedFuncs())
	for i := range m.Code {
		if err := m.ValidateBody(imported + uint32(i)); err != nil {
			return fmt.Errorf("function %d: %w", imported+uint32(i), err)
		}
	}
	return nil
}

// ValidateBody checks one defined function: every instruction decodes, blocks
// nest and terminate, and every index immediate is in range.
func (m *Module) ValidateBody(funcIdx uint32) error {
	imported := uint32(m.NumImportedFuncs())
	if funcIdx < imported || int(funcIdx-imported) >= len(m.Code) {
		return fmt.Errorf("function %d has no body", funcIdx)
	}
	ft := m.GetFuncType(funcIdx)
	if ft == nil {
		return fmt.Errorf("function %d has no type", funcIdx)
	}
	body := &m.Code[funcIdx-imported]
	instrs, err := DecodeInstructions(body.Code)
	if err != nil {
		return err
	}

	numLocals := uint64(len(ft.Params)) + body.NumLocals()
	numGlobals := uint32(m.NumImportedGlobals() + len(m.Globals))
	numFuncs := uint32(m.NumFuncs())
	hasMemory := m.NumImportedMemories()+len(m.Memories) > 0
	hasTable := m.NumImportedTables()+len(m.Tables) > 0

	// One entry per open block; the function body is the outermost one.
	// OpIf marks an if still awaiting its else.
	blocks := []byte{OpBlock}

	for _, in := range instrs {
		fail := func(format string, args ...any) error {
			return fmt.Errorf("%s at offset %d: %s", in.Name(), in.Offset, fmt.Sprintf(format, args...))
		}
		if len(blocks) == 0 {
			return fail("instruction after final end")
		}
		labels := uint32(len(blocks))

		switch imm := in.Imm.(type) {
		case BlockImm:
			if _, _, ok := m.BlockSignature(imm.Type); !ok {
				return fail("invalid block type %d", imm.Type)
			}
		case BranchImm:
			if imm.LabelIdx >= labels {
				return fail("label %d out of range", imm.LabelIdx)
			}
		case BrTableImm:
			if imm.Default >= labels {
				return fail("label %d out of range", imm.Default)
			}
			for _, l := range imm.Labels {
				if l >= labels {
					return fail("label %d out of range", l)
				}
			}
		case CallImm:
			if imm.FuncIdx >= numFuncs {
				return fail("function %d out of range", imm.FuncIdx)
			}
		case CallIndirectImm:
			if !hasTable || imm.TableIdx != 0 {
				return fail("table %d not defined", imm.TableIdx)
			}
			if int(imm.TypeIdx) >= len(m.Types) {
				return fail("type %d out of range", imm.TypeIdx)
			}
		case LocalImm:
			if uint64(imm.LocalIdx) >= numLocals {
				return fail("local %d out of range", imm.LocalIdx)
			}
		case GlobalImm:
			if imm.GlobalIdx >= numGlobals {
				return fail("global %d out of range", imm.GlobalIdx)
			}
			if in.Opcode == OpGlobalSet && !m.GlobalType(imm.GlobalIdx).Mutable {
				return fail("global %d is immutable", imm.GlobalIdx)
			}
		case MemoryImm, MemoryIdxImm:
			if !hasMemory {
				return fail("no memory defined")
			}
		case MiscImm:
			if err := m.validateMisc(imm, hasMemory); err != nil {
				return fail("%v", err)
			}
		}

		switch in.Opcode {
		case OpBlock, OpLoop:
			blocks = append(blocks, OpBlock)
		case OpIf:
			blocks = append(blocks, OpIf)
		case OpElse:
			if blocks[len(blocks)-1] != OpIf {
				return fail("else without matching if")
			}
			blocks[len(blocks)-1] = OpElse
		case OpEnd:
			blocks = blocks[:len(blocks)-1]
		}
	}
	if len(blocks) != 0 {
		return fmt.Errorf("%d unterminated blocks", len(blocks))
	}
	return nil
}

func (m *Module) validateMisc(imm MiscImm, hasMemory bool) error {
	switch imm.SubOpcode {
	case MiscMemoryInit, MiscDataDrop:
		if m.DataCount == nil {
			return fmt.Errorf("%s requires a data count section", MiscName(imm.SubOpcode))
		}
		if imm.Operands[0] >= *m.DataCount {
			return fmt.Errorf("data segment %d out of range", imm.Operands[0])
		}
		if imm.SubOpcode == MiscMemoryInit && !hasMemory {
			return fmt.Errorf("no memory defined")
		}
	case MiscMemoryCopy, MiscMemoryFill:
		if !hasMemory {
			return fmt.Errorf("no memory defined")
		}
	}
	return nil
}
