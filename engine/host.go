package engine

import (
	"context"
	"fmt"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// HostFunc implements an imported function in Go. args match the import's
// parameter types; the results must match its result types.
type HostFunc func(ctx context.Context, inst *Instance, args []Value) ([]Value, error)

// HostFunction is a Go function together with its WebAssembly signature.
type HostFunction struct {
	Fn   HostFunc
	Type wasm.FuncType
}

// Global is a global variable.
type Global struct {
	value Value
	Type  wasm.GlobalType
}

// NewGlobal returns a global of type t holding v.
func NewGlobal(t wasm.GlobalType, v Value) (*Global, error) {
	if v.typ != t.ValType {
		return nil, errors.New(errors.PhaseLink, errors.KindMismatch).
			Want(typeName(t.ValType)).
			Got(typeName(v.typ)).
			Detail("global initial value").
			Build()
	}
	return &Global{Type: t, value: v}, nil
}

// Get returns the global's value.
func (g *Global) Get() Value { return g.value }

// Set stores v. Immutable globals and values of the wrong type are rejected.
func (g *Global) Set(v Value) error {
	if !g.Type.Mutable {
		return errors.New(errors.PhaseExecute, errors.KindTypeMismatch).
			Code("global.set.immutable").
			Detail("global is immutable").
			Build()
	}
	if v.typ != g.Type.ValType {
		return errors.TypeMismatch("global.set.type", typeName(g.Type.ValType), typeName(v.typ))
	}
	g.value = v
	return nil
}

// Imports resolves a module's imports by module and field name.
type Imports struct {
	funcs   map[string]map[string]*HostFunction
	globals map[string]map[string]*Global
}

// NewImports returns an empty import set.
func NewImports() *Imports {
	return &Imports{
		funcs:   make(map[string]map[string]*HostFunction),
		globals: make(map[string]map[string]*Global),
	}
}

// Func defines a host function import.
func (im *Imports) Func(module, name string, ft wasm.FuncType, fn HostFunc) *Imports {
	if im.funcs[module] == nil {
		im.funcs[module] = make(map[string]*HostFunction)
	}
	im.funcs[module][name] = &HostFunction{Type: ft, Fn: fn}
	return im
}

// Global defines a global import.
func (im *Imports) Global(module, name string, g *Global) *Imports {
	if im.globals[module] == nil {
		im.globals[module] = make(map[string]*Global)
	}
	im.globals[module][name] = g
	return im
}

// HostFunction returns the function defined for module#name.
func (im *Imports) HostFunction(module, name string) (*HostFunction, bool) {
	if im == nil {
		return nil, false
	}
	fn, ok := im.funcs[module][name]
	return fn, ok
}

func (im *Imports) global(module, name string) (*Global, bool) {
	if im == nil {
		return nil, false
	}
	g, ok := im.globals[module][name]
	return g, ok
}

// callHost invokes a host function with its arguments popped from the stack
// and pushes its results.
func (inst *Instance) callHost(ctx context.Context, fn *function) error {
	params := fn.typ.Params
	args := make([]Value, len(params))
	for i := len(params) - 1; i >= 0; i-- {
		v, err := inst.stack.PopTyped(params[i])
		if err != nil {
			return err
		}
		args[i] = v
	}

	results, err := fn.host.Fn(ctx, inst, args)
	if err != nil {
		if errors.IsTrap(err) {
			return err
		}
		return errors.New(errors.PhaseExecute, errors.KindHostFailure).
			Code("call.host").
			Func(fn.name).
			Cause(err).
			Build()
	}
	if len(results) != len(fn.typ.Results) {
		return errors.New(errors.PhaseExecute, errors.KindTypeMismatch).
			Code("call.host.results").
			Func(fn.name).
			Want(fmt.Sprintf("%d results", len(fn.typ.Results))).
			Got(fmt.Sprintf("%d results", len(results))).
			Build()
	}
	for i, r := range results {
		if r.typ != fn.typ.Results[i] {
			return errors.New(errors.PhaseExecute, errors.KindTypeMismatch).
				Code("call.host.results").
				Func(fn.name).
				Want(typeName(fn.typ.Results[i])).
				Got(typeName(r.typ)).
				Build()
		}
		inst.stack.Push(r)
	}
	return nil
}
