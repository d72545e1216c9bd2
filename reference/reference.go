// Package reference runs modules on wazero's interpreter so that results of
// the engine can be checked against an independent implementation.
package reference

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Config configures reference instances.
type Config struct {
	Logger *zap.Logger

	// MemoryLimitPages caps memory growth, as engine.Config does.
	MemoryLimitPages uint32
}

// Instance is a module instantiated on its own wazero runtime.
type Instance struct {
	rt  wazero.Runtime
	mod api.Module
	log *zap.Logger

	// wazero hands back a non-nil api.Memory even for memoryless modules.
	hasMemory bool
}

// Instantiate compiles bin with wazero's interpreter and instantiates it.
// Function imports are resolved from imports; host functions receive a nil
// *engine.Instance. Global imports are not supported.
func Instantiate(ctx context.Context, bin []byte, imports *engine.Imports, cfg Config) (*Instance, error) {
	m, err := wasm.ParseModule(bin)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindDecode, err, "parse module")
	}

	rc := wazero.NewRuntimeConfigInterpreter()
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rc)

	if err := defineHosts(ctx, rt, m, imports); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Load("reference compile", err)
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Instantiation("reference instantiate", classify(err))
	}

	log := cfg.Logger
	if log == nil {
		log = engine.Logger()
	}
	return &Instance{
		rt:        rt,
		mod:       mod,
		log:       log.Named("reference"),
		hasMemory: len(m.Memories) > 0,
	}, nil
}

// defineHosts instantiates one wazero host module per imported module name.
func defineHosts(ctx context.Context, rt wazero.Runtime, m *wasm.Module, imports *engine.Imports) error {
	builders := make(map[string]wazero.HostModuleBuilder)
	var order []string
	for _, imp := range m.Imports {
		key := imp.Module + "#" + imp.Name
		if imp.Desc.Kind != wasm.KindFunc {
			return errors.Unsupported(errors.PhaseLink, fmt.Sprintf("reference import %s of kind %d", key, imp.Desc.Kind))
		}
		host, ok := imports.HostFunction(imp.Module, imp.Name)
		if !ok {
			return errors.NewMissingImportsError([]string{key})
		}
		b, ok := builders[imp.Module]
		if !ok {
			b = rt.NewHostModuleBuilder(imp.Module)
			builders[imp.Module] = b
			order = append(order, imp.Module)
		}
		b.NewFunctionBuilder().
			WithGoModuleFunction(hostFunc(host), apiTypes(host.Type.Params), apiTypes(host.Type.Results)).
			WithName(imp.Name).
			Export(imp.Name)
	}
	sort.Strings(order)
	for _, name := range order {
		if _, err := builders[name].Instantiate(ctx); err != nil {
			return errors.Wrap(errors.PhaseLink, errors.KindRegistration, err, "reference host module "+name)
		}
	}
	return nil
}

// hostFunc adapts an engine host function to wazero's stack convention.
// Errors panic, which wazero reports as the call's error.
func hostFunc(host *engine.HostFunction) api.GoModuleFunc {
	params, results := host.Type.Params, host.Type.Results
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		args := make([]engine.Value, len(params))
		for i, t := range params {
			args[i] = fromBits(t, stack[i])
		}
		out, err := host.Fn(ctx, nil, args)
		if err != nil {
			panic(err)
		}
		if len(out) != len(results) {
			panic(fmt.Errorf("host returned %d results, want %d", len(out), len(results)))
		}
		for i, v := range out {
			stack[i] = v.Bits()
		}
	}
}

// Invoke calls the exported function name.
func (i *Instance) Invoke(ctx context.Context, name string, args ...engine.Value) ([]engine.Value, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseExecute, "function", name)
	}
	def := fn.Definition()
	params := valTypes(def.ParamTypes())
	if len(args) != len(params) {
		return nil, errors.New(errors.PhaseExecute, errors.KindTypeMismatch).
			Code("invoke.args").
			Func(name).
			Want(fmt.Sprintf("%d arguments", len(params))).
			Got(fmt.Sprintf("%d arguments", len(args))).
			Build()
	}
	raw := make([]uint64, len(args))
	for j, a := range args {
		if a.Type() != params[j] {
			return nil, errors.New(errors.PhaseExecute, errors.KindTypeMismatch).
				Code("invoke.args").
				Func(name).
				Want(params[j].String()).
				Got(a.Type().String()).
				Detail("argument %d", j).
				Build()
		}
		raw[j] = a.Bits()
	}

	out, err := fn.Call(ctx, raw...)
	if err != nil {
		i.log.Debug("reference trap", zap.String("func", name), zap.Error(err))
		return nil, classify(err)
	}
	results := valTypes(def.ResultTypes())
	vals := make([]engine.Value, len(out))
	for j, r := range out {
		vals[j] = fromBits(results[j], r)
	}
	return vals, nil
}

// Memory returns a copy of the instance's linear memory, or nil if it has
// none.
func (i *Instance) Memory() []byte {
	if !i.hasMemory {
		return nil
	}
	mem := i.mod.Memory()
	b, ok := mem.Read(0, mem.Size())
	if !ok {
		return nil
	}
	return append([]byte(nil), b...)
}

// Close releases the instance's runtime.
func (i *Instance) Close(ctx context.Context) error {
	return i.rt.Close(ctx)
}

// wazero reports traps as errors whose message names the cause.
var trapMessages = []struct {
	msg  string
	kind errors.Kind
}{
	{"integer divide by zero", errors.KindDivideByZero},
	{"integer overflow", errors.KindIntegerOverflow},
	{"invalid conversion to integer", errors.KindInvalidConversion},
	{"out of bounds memory access", errors.KindOutOfBounds},
	{"invalid table access", errors.KindUndefinedElement},
	{"indirect call type mismatch", errors.KindIndirectCallTypeMismatch},
	{"stack overflow", errors.KindCallStackExhausted},
	{"unreachable", errors.KindUnreachable},
}

// classify converts a wazero error into a trap of the matching kind. Errors
// it does not recognize become host failures.
func classify(err error) error {
	msg := err.Error()
	for _, t := range trapMessages {
		if strings.Contains(msg, t.msg) {
			return errors.New(errors.PhaseExecute, t.kind).
				Code("reference." + string(t.kind)).
				Cause(err).
				Build()
		}
	}
	return errors.New(errors.PhaseExecute, errors.KindHostFailure).
		Code("reference.error").
		Cause(err).
		Build()
}

func fromBits(t wasm.ValType, bits uint64) engine.Value {
	switch t {
	case wasm.ValI32:
		return engine.U32(uint32(bits))
	case wasm.ValI64:
		return engine.U64(bits)
	case wasm.ValF32:
		return engine.F32Bits(uint32(bits))
	case wasm.ValF64:
		return engine.F64Bits(bits)
	}
	return engine.Zero(t)
}

func apiTypes(ts []wasm.ValType) []api.ValueType {
	out := make([]api.ValueType, len(ts))
	for i, t := range ts {
		switch t {
		case wasm.ValI32:
			out[i] = api.ValueTypeI32
		case wasm.ValI64:
			out[i] = api.ValueTypeI64
		case wasm.ValF32:
			out[i] = api.ValueTypeF32
		case wasm.ValF64:
			out[i] = api.ValueTypeF64
		}
	}
	return out
}

func valTypes(ts []api.ValueType) []wasm.ValType {
	out := make([]wasm.ValType, len(ts))
	for i, t := range ts {
		switch t {
		case api.ValueTypeI32:
			out[i] = wasm.ValI32
		case api.ValueTypeI64:
			out[i] = wasm.ValI64
		case api.ValueTypeF32:
			out[i] = wasm.ValF32
		case api.ValueTypeF64:
			out[i] = wasm.ValF64
		}
	}
	return out
}
