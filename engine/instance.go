package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Instance is a module bound to its memory, globals, table and imports. An
// instance is not safe for concurrent use.
type Instance struct {
	id      uuid.UUID
	module  *wasm.Module
	cfg     Config
	log     *zap.Logger
	stack   *Stack
	mem     *Memory
	funcs   []*function
	globals []*Global
	table   []*function
	data    [][]byte
	exports map[string]wasm.Export
	depth   int
}

// Instantiate links m against imports, sets up its memory, globals, table
// and data, then runs the start function. cfg may be nil.
func Instantiate(ctx context.Context, m *wasm.Module, imports *Imports, cfg *Config) (*Instance, error) {
	c := cfg.normalized()
	inst := &Instance{
		id:      uuid.New(),
		module:  m,
		cfg:     c,
		stack:   NewStack(),
		exports: make(map[string]wasm.Export, len(m.Exports)),
	}
	inst.log = c.Logger.With(zap.String("instance", inst.id.String()))

	for _, exp := range m.Exports {
		inst.exports[exp.Name] = exp
	}
	if err := inst.link(imports); err != nil {
		return nil, err
	}
	if err := inst.defineFuncs(); err != nil {
		return nil, err
	}
	if err := inst.initGlobals(); err != nil {
		return nil, err
	}
	if err := inst.initMemory(); err != nil {
		return nil, err
	}
	if err := inst.initTable(); err != nil {
		return nil, err
	}
	if err := inst.initData(); err != nil {
		return nil, err
	}

	pages := uint32(0)
	if inst.mem != nil {
		pages = inst.mem.Pages()
	}
	inst.log.Debug("instantiated",
		zap.Int("funcs", len(inst.funcs)),
		zap.Int("globals", len(inst.globals)),
		zap.Uint32("pages", pages),
		zap.Int("exports", len(m.Exports)),
	)

	if m.Start != nil {
		if int(*m.Start) >= len(inst.funcs) {
			return nil, errors.Instantiation(fmt.Sprintf("start function %d out of range", *m.Start), nil)
		}
		start := &Function{inst: inst, fn: inst.funcs[*m.Start]}
		if _, err := start.Call(ctx); err != nil {
			return nil, errors.Instantiation("start function", err)
		}
	}
	return inst, nil
}

// funcName names function idx by its first export, falling back to its
// index.
func (inst *Instance) funcName(idx uint32) string {
	for _, exp := range inst.module.Exports {
		if exp.Kind == wasm.KindFunc && exp.Idx == idx {
			return exp.Name
		}
	}
	return fmt.Sprintf("func[%d]", idx)
}

// link resolves imports. Every unresolved import is reported at once.
func (inst *Instance) link(imports *Imports) error {
	m := inst.module
	var missing []string
	for _, imp := range m.Imports {
		key := imp.Module + "#" + imp.Name
		switch imp.Desc.Kind {
		case wasm.KindFunc:
			ft := m.GetFuncType(uint32(len(inst.funcs)))
			if ft == nil {
				return errors.New(errors.PhaseLink, errors.KindInvalidData).
					Detail("import %s has invalid type %d", key, imp.Desc.TypeIdx).
					Build()
			}
			host, ok := imports.HostFunction(imp.Module, imp.Name)
			if !ok {
				missing = append(missing, key)
				inst.funcs = append(inst.funcs, nil)
				continue
			}
			if !host.Type.Equal(*ft) {
				return errors.New(errors.PhaseLink, errors.KindMismatch).
					Detail("import %s", key).
					Want(ft.String()).
					Got(host.Type.String()).
					Build()
			}
			inst.funcs = append(inst.funcs, &function{
				typ:  ft,
				host: host,
				name: imp.Module + "." + imp.Name,
				idx:  uint32(len(inst.funcs)),
			})
		case wasm.KindGlobal:
			g, ok := imports.global(imp.Module, imp.Name)
			if !ok {
				missing = append(missing, key)
				inst.globals = append(inst.globals, nil)
				continue
			}
			if g.Type != *imp.Desc.Global {
				return errors.New(errors.PhaseLink, errors.KindMismatch).
					Detail("import %s", key).
					Want(fmt.Sprintf("%v", *imp.Desc.Global)).
					Got(fmt.Sprintf("%v", g.Type)).
					Build()
			}
			inst.globals = append(inst.globals, g)
		default:
			return errors.Unsupported(errors.PhaseLink, fmt.Sprintf("import %s of kind %d", key, imp.Desc.Kind))
		}
	}
	if len(missing) > 0 {
		return errors.NewMissingImportsError(missing)
	}
	return nil
}

func (inst *Instance) defineFuncs() error {
	m := inst.module
	if len(m.Funcs) != len(m.Code) {
		return errors.Instantiation(fmt.Sprintf("%d functions but %d bodies", len(m.Funcs), len(m.Code)), nil)
	}
	for i := range m.Funcs {
		idx := uint32(len(inst.funcs))
		ft := m.GetFuncType(idx)
		if ft == nil {
			return errors.Instantiation(fmt.Sprintf("function %d has an invalid type", idx), nil)
		}
		inst.funcs = append(inst.funcs, &function{
			typ:  ft,
			def:  &m.Code[i],
			name: inst.funcName(idx),
			idx:  idx,
		})
	}
	return nil
}

// evalConst evaluates a constant expression. global.get may only refer to
// globals defined before it.
func (inst *Instance) evalConst(expr []byte) (Value, error) {
	in, err := wasm.DecodeConstExpr(expr)
	if err != nil {
		return Value{}, err
	}
	switch imm := in.Imm.(type) {
	case wasm.I32Imm:
		return I32(imm.Value), nil
	case wasm.I64Imm:
		return I64(imm.Value), nil
	case wasm.F32Imm:
		return F32Bits(imm.Bits), nil
	case wasm.F64Imm:
		return F64Bits(imm.Bits), nil
	case wasm.GlobalImm:
		if int(imm.GlobalIdx) >= len(inst.globals) {
			return Value{}, fmt.Errorf("global.get %d refers to an undefined global", imm.GlobalIdx)
		}
		return inst.globals[imm.GlobalIdx].Get(), nil
	}
	return Value{}, fmt.Errorf("unsupported constant expression %s", in.Name())
}

func (inst *Instance) initGlobals() error {
	for i, g := range inst.module.Globals {
		v, err := inst.evalConst(g.Init)
		if err != nil {
			return errors.Instantiation(fmt.Sprintf("global %d initializer", i), err)
		}
		global, err := NewGlobal(g.Type, v)
		if err != nil {
			return errors.Instantiation(fmt.Sprintf("global %d initializer", i), err)
		}
		inst.globals = append(inst.globals, global)
	}
	return nil
}

// initMemory allocates the module's memory. The maximum is the declared
// maximum bounded by the configured page limit.
func (inst *Instance) initMemory() error {
	mems := inst.module.Memories
	if len(mems) == 0 {
		return nil
	}
	if len(mems) > 1 {
		return errors.Unsupported(errors.PhaseInstantiate, "multiple memories")
	}
	limits := mems[0].Limits
	maxPages := inst.cfg.MemoryLimitPages
	if limits.Max != nil && *limits.Max < uint64(maxPages) {
		maxPages = uint32(*limits.Max)
	}
	if limits.Min > uint64(maxPages) {
		return errors.Instantiation(fmt.Sprintf("memory minimum %d pages exceeds limit %d", limits.Min, maxPages), nil)
	}
	inst.mem = NewMemory(uint32(limits.Min), maxPages)
	log := inst.log
	inst.mem.onGrow = func(previous, pages uint32) {
		log.Debug("memory grown", zap.Uint32("from", previous), zap.Uint32("to", pages))
	}
	return nil
}

// initTable allocates the funcref table and applies active element
// segments.
func (inst *Instance) initTable() error {
	m := inst.module
	if len(m.Tables) > 0 {
		inst.table = make([]*function, m.Tables[0].Limits.Min)
	}
	for i := range m.Elements {
		elem := &m.Elements[i]
		if elem.Mode() != wasm.ElemModeActive {
			continue
		}
		v, err := inst.evalConst(elem.Offset)
		if err != nil {
			return errors.Instantiation(fmt.Sprintf("element segment %d offset", i), err)
		}
		offset := uint64(v.U32())
		if offset+uint64(len(elem.FuncIdxs)) > uint64(len(inst.table)) {
			return errors.Instantiation(fmt.Sprintf("element segment %d does not fit table of size %d", i, len(inst.table)), nil)
		}
		for j, idx := range elem.FuncIdxs {
			if int(idx) >= len(inst.funcs) {
				return errors.Instantiation(fmt.Sprintf("element segment %d refers to function %d", i, idx), nil)
			}
			inst.table[offset+uint64(j)] = inst.funcs[idx]
		}
	}
	return nil
}

// initData copies active data segments into memory. Passive segments are
// kept for memory.init; active ones behave as dropped afterwards.
func (inst *Instance) initData() error {
	m := inst.module
	inst.data = make([][]byte, len(m.Data))
	for i := range m.Data {
		seg := &m.Data[i]
		if seg.Passive() {
			inst.data[i] = seg.Init
			continue
		}
		if inst.mem == nil {
			return errors.Instantiation(fmt.Sprintf("data segment %d without memory", i), nil)
		}
		v, err := inst.evalConst(seg.Offset)
		if err != nil {
			return errors.Instantiation(fmt.Sprintf("data segment %d offset", i), err)
		}
		if err := inst.mem.Write(v.U32(), seg.Init); err != nil {
			return errors.Instantiation(fmt.Sprintf("data segment %d", i), err)
		}
	}
	return nil
}

// ID returns the instance's unique id, also attached to its log entries.
func (inst *Instance) ID() uuid.UUID { return inst.id }

// Module returns the instantiated module.
func (inst *Instance) Module() *wasm.Module { return inst.module }

// Memory returns the instance memory, or nil if the module declares none.
func (inst *Instance) Memory() *Memory { return inst.mem }

// Stack returns the operand stack shared by all calls into the instance.
func (inst *Instance) Stack() *Stack { return inst.stack }

// Logger returns the instance logger.
func (inst *Instance) Logger() *zap.Logger { return inst.log }

// Func resolves an exported function.
func (inst *Instance) Func(name string) (*Function, error) {
	exp, ok := inst.exports[name]
	if !ok || exp.Kind != wasm.KindFunc {
		return nil, errors.NotFound(errors.PhaseExecute, "function", name)
	}
	if int(exp.Idx) >= len(inst.funcs) {
		return nil, errors.InvalidData(errors.PhaseExecute, fmt.Sprintf("export %q refers to function %d", name, exp.Idx))
	}
	return &Function{inst: inst, fn: inst.funcs[exp.Idx]}, nil
}

// Invoke calls the exported function name.
func (inst *Instance) Invoke(ctx context.Context, name string, args ...Value) ([]Value, error) {
	fn, err := inst.Func(name)
	if err != nil {
		return nil, err
	}
	return fn.Call(ctx, args...)
}

// Global resolves an exported global.
func (inst *Instance) Global(name string) (*Global, error) {
	exp, ok := inst.exports[name]
	if !ok || exp.Kind != wasm.KindGlobal {
		return nil, errors.NotFound(errors.PhaseExecute, "global", name)
	}
	if int(exp.Idx) >= len(inst.globals) {
		return nil, errors.InvalidData(errors.PhaseExecute, fmt.Sprintf("export %q refers to global %d", name, exp.Idx))
	}
	return inst.globals[exp.Idx], nil
}

// Exports returns the module's exports in declaration order.
func (inst *Instance) Exports() []wasm.Export {
	return append([]wasm.Export(nil), inst.module.Exports...)
}

// Functions returns handles to the exported functions in declaration order.
func (inst *Instance) Functions() []*Function {
	var out []*Function
	for _, exp := range inst.module.Exports {
		if exp.Kind != wasm.KindFunc || int(exp.Idx) >= len(inst.funcs) {
			continue
		}
		out = append(out, &Function{inst: inst, fn: inst.funcs[exp.Idx]})
	}
	return out
}
