package runtime

import (
	"context"
	"fmt"
	"reflect"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

var (
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	instanceType = reflect.TypeOf((*engine.Instance)(nil))
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
)

// signature is the shape of a Go host function. An optional leading
// context.Context and *engine.Instance are passed through; the remaining
// parameters and results map to WebAssembly numbers. A trailing error
// result aborts the call.
type signature struct {
	params  []reflect.Type
	results []reflect.Type
	ctx     bool
	inst    bool
	err     bool
}

func goSignature(t reflect.Type) (*signature, error) {
	if t == nil || t.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function")
	}
	if t.IsVariadic() {
		return nil, fmt.Errorf("variadic handler %s", t)
	}

	s := &signature{}
	i := 0
	if i < t.NumIn() && t.In(i) == contextType {
		s.ctx = true
		i++
	}
	if i < t.NumIn() && t.In(i) == instanceType {
		s.inst = true
		i++
	}
	for ; i < t.NumIn(); i++ {
		if _, ok := valType(t.In(i)); !ok {
			return nil, fmt.Errorf("parameter %d: unsupported type %s", i, t.In(i))
		}
		s.params = append(s.params, t.In(i))
	}

	n := t.NumOut()
	if n > 0 && t.Out(n-1) == errorType {
		s.err = true
		n--
	}
	for j := 0; j < n; j++ {
		if _, ok := valType(t.Out(j)); !ok {
			return nil, fmt.Errorf("result %d: unsupported type %s", j, t.Out(j))
		}
		s.results = append(s.results, t.Out(j))
	}
	return s, nil
}

// FuncType returns the WebAssembly signature the Go function implements.
func (s *signature) FuncType() wasm.FuncType {
	var ft wasm.FuncType
	for _, p := range s.params {
		vt, _ := valType(p)
		ft.Params = append(ft.Params, vt)
	}
	for _, r := range s.results {
		vt, _ := valType(r)
		ft.Results = append(ft.Results, vt)
	}
	return ft
}

func valType(t reflect.Type) (wasm.ValType, bool) {
	switch t.Kind() {
	case reflect.Int32, reflect.Uint32, reflect.Bool:
		return wasm.ValI32, true
	case reflect.Int64, reflect.Uint64:
		return wasm.ValI64, true
	case reflect.Float32:
		return wasm.ValF32, true
	case reflect.Float64:
		return wasm.ValF64, true
	}
	return 0, false
}

// adapt wraps a Go function as an engine host function for an import of
// type ft.
func adapt(name string, handler any, ft wasm.FuncType) (engine.HostFunc, error) {
	fv := reflect.ValueOf(handler)
	sig, err := goSignature(fv.Type())
	if err != nil {
		return nil, errors.New(errors.PhaseLink, errors.KindMismatch).
			Func(name).
			Cause(err).
			Build()
	}
	if got := sig.FuncType(); !got.Equal(ft) {
		return nil, errors.New(errors.PhaseLink, errors.KindMismatch).
			Func(name).
			Want(ft.String()).
			Got(got.String()).
			Detail("host function signature").
			Build()
	}

	return func(ctx context.Context, inst *engine.Instance, args []engine.Value) (results []engine.Value, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("host function %s panicked: %v", name, r)
			}
		}()

		in := make([]reflect.Value, 0, len(args)+2)
		if sig.ctx {
			if ctx == nil {
				ctx = context.Background()
			}
			in = append(in, reflect.ValueOf(ctx))
		}
		if sig.inst {
			in = append(in, reflect.ValueOf(inst))
		}
		for i, a := range args {
			in = append(in, fromValue(a, sig.params[i]))
		}

		out := fv.Call(in)
		if sig.err {
			last := out[len(out)-1]
			if !last.IsNil() {
				return nil, last.Interface().(error)
			}
			out = out[:len(out)-1]
		}
		results = make([]engine.Value, len(out))
		for i, o := range out {
			results[i] = toValue(o)
		}
		return results, nil
	}, nil
}

func fromValue(v engine.Value, t reflect.Type) reflect.Value {
	rv := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Int32:
		rv.SetInt(int64(v.I32()))
	case reflect.Uint32:
		rv.SetUint(uint64(v.U32()))
	case reflect.Bool:
		rv.SetBool(v.U32() != 0)
	case reflect.Int64:
		rv.SetInt(v.I64())
	case reflect.Uint64:
		rv.SetUint(v.U64())
	case reflect.Float32:
		rv.SetFloat(float64(v.F32()))
	case reflect.Float64:
		rv.SetFloat(v.F64())
	}
	return rv
}

func toValue(rv reflect.Value) engine.Value {
	switch rv.Kind() {
	case reflect.Int32:
		return engine.I32(int32(rv.Int()))
	case reflect.Uint32:
		return engine.U32(uint32(rv.Uint()))
	case reflect.Bool:
		return engine.Bool(rv.Bool())
	case reflect.Int64:
		return engine.I64(rv.Int())
	case reflect.Uint64:
		return engine.U64(rv.Uint())
	case reflect.Float32:
		return engine.F32(float32(rv.Float()))
	case reflect.Float64:
		return engine.F64(rv.Float())
	}
	return engine.Value{}
}
