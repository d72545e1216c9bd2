package runtime

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Instance is an instantiated module. It is NOT safe for concurrent use.
type Instance struct {
	module *Module
	inst   *engine.Instance
}

// Call invokes an exported function, converting Go arguments to the
// function's parameter types. Integers must fit the parameter type;
// strings are parsed as literals of it. A function without results returns
// nil, one result returns int32, int64, float32 or float64, and several
// return []any.
func (i *Instance) Call(ctx context.Context, name string, args ...any) (any, error) {
	if i.inst == nil {
		return nil, errors.NotInitialized(errors.PhaseExecute, "instance")
	}
	fn, err := i.inst.Func(name)
	if err != nil {
		return nil, err
	}
	ft := fn.Type()
	if len(args) != len(ft.Params) {
		return nil, errors.New(errors.PhaseExecute, errors.KindTypeMismatch).
			Code("invoke.args").
			Func(name).
			Want(fmt.Sprintf("%d arguments", len(ft.Params))).
			Got(fmt.Sprintf("%d arguments", len(args))).
			Build()
	}
	vals := make([]engine.Value, len(args))
	for j, a := range args {
		v, err := ArgValue(ft.Params[j], a)
		if err != nil {
			return nil, errors.New(errors.PhaseExecute, errors.KindTypeMismatch).
				Code("invoke.args").
				Func(name).
				Cause(err).
				Detail("argument %d", j).
				Build()
		}
		vals[j] = v
	}

	results, err := fn.Call(ctx, vals...)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0].Interface(), nil
	}
	out := make([]any, len(results))
	for j, r := range results {
		out[j] = r.Interface()
	}
	return out, nil
}

// CallValues invokes an exported function with typed values.
func (i *Instance) CallValues(ctx context.Context, name string, args ...engine.Value) ([]engine.Value, error) {
	if i.inst == nil {
		return nil, errors.NotInitialized(errors.PhaseExecute, "instance")
	}
	return i.inst.Invoke(ctx, name, args...)
}

// ID returns the instance id attached to its log entries.
func (i *Instance) ID() uuid.UUID {
	if i.inst == nil {
		return uuid.Nil
	}
	return i.inst.ID()
}

// Memory returns the instance's linear memory, or nil if it has none.
func (i *Instance) Memory() *engine.Memory {
	if i.inst == nil {
		return nil
	}
	return i.inst.Memory()
}

// Global returns an exported global.
func (i *Instance) Global(name string) (*engine.Global, error) {
	if i.inst == nil {
		return nil, errors.NotInitialized(errors.PhaseExecute, "instance")
	}
	return i.inst.Global(name)
}

// Module returns the module the instance was created from.
func (i *Instance) Module() *Module {
	return i.module
}

// Engine returns the underlying engine instance.
func (i *Instance) Engine() *engine.Instance {
	return i.inst
}

// Close releases the instance. Calls after Close fail.
func (i *Instance) Close(_ context.Context) error {
	i.inst = nil
	return nil
}

// ArgValue converts a Go value to a WebAssembly value of type t.
func ArgValue(t wasm.ValType, a any) (engine.Value, error) {
	switch x := a.(type) {
	case engine.Value:
		if x.Type() != t {
			return engine.Value{}, fmt.Errorf("%s value for %s parameter", x.Type(), t)
		}
		return x, nil
	case string:
		return engine.ParseValueAs(t, x)
	case bool:
		if t != wasm.ValI32 {
			return engine.Value{}, fmt.Errorf("bool for %s parameter", t)
		}
		return engine.Bool(x), nil
	case int:
		return fromInt(t, int64(x))
	case int8:
		return fromInt(t, int64(x))
	case int16:
		return fromInt(t, int64(x))
	case int32:
		return fromInt(t, int64(x))
	case int64:
		return fromInt(t, x)
	case uint:
		return fromUint(t, uint64(x))
	case uint8:
		return fromUint(t, uint64(x))
	case uint16:
		return fromUint(t, uint64(x))
	case uint32:
		return fromUint(t, uint64(x))
	case uint64:
		return fromUint(t, x)
	case float32:
		return fromFloat(t, float64(x), x)
	case float64:
		return fromFloat(t, x, float32(x))
	}
	return engine.Value{}, fmt.Errorf("unsupported argument type %T", a)
}

// fromInt accepts signed integers in the signed or unsigned range of t.
func fromInt(t wasm.ValType, v int64) (engine.Value, error) {
	switch t {
	case wasm.ValI32:
		if v < math.MinInt32 || v > math.MaxUint32 {
			return engine.Value{}, fmt.Errorf("%d overflows i32", v)
		}
		return engine.U32(uint32(v)), nil
	case wasm.ValI64:
		return engine.I64(v), nil
	case wasm.ValF32:
		return engine.F32(float32(v)), nil
	case wasm.ValF64:
		return engine.F64(float64(v)), nil
	}
	return engine.Value{}, fmt.Errorf("integer for %s parameter", t)
}

func fromUint(t wasm.ValType, v uint64) (engine.Value, error) {
	switch t {
	case wasm.ValI32:
		if v > math.MaxUint32 {
			return engine.Value{}, fmt.Errorf("%d overflows i32", v)
		}
		return engine.U32(uint32(v)), nil
	case wasm.ValI64:
		return engine.U64(v), nil
	case wasm.ValF32:
		return engine.F32(float32(v)), nil
	case wasm.ValF64:
		return engine.F64(float64(v)), nil
	}
	return engine.Value{}, fmt.Errorf("integer for %s parameter", t)
}

func fromFloat(t wasm.ValType, v64 float64, v32 float32) (engine.Value, error) {
	switch t {
	case wasm.ValF32:
		return engine.F32(v32), nil
	case wasm.ValF64:
		return engine.F64(v64), nil
	}
	return engine.Value{}, fmt.Errorf("float for %s parameter", t)
}
