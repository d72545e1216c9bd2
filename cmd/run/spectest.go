package main

import (
	"fmt"
	"io"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/runtime"
	"github.com/wippyai/wasm-interp/wasm"
)

// spectest provides the host module conformance test suites import.
type spectest struct {
	out io.Writer
}

func (spectest) Namespace() string { return "spectest" }

func (s spectest) Register() map[string]any {
	return map[string]any{
		"print":         func() { fmt.Fprintln(s.out) },
		"print_i32":     func(v int32) { fmt.Fprintf(s.out, "%d : i32\n", v) },
		"print_i64":     func(v int64) { fmt.Fprintf(s.out, "%d : i64\n", v) },
		"print_f32":     func(v float32) { fmt.Fprintf(s.out, "%g : f32\n", v) },
		"print_f64":     func(v float64) { fmt.Fprintf(s.out, "%g : f64\n", v) },
		"print_i32_f32": func(a int32, b float32) { fmt.Fprintf(s.out, "%d : i32\n%g : f32\n", a, b) },
		"print_f64_f64": func(a, b float64) { fmt.Fprintf(s.out, "%g : f64\n%g : f64\n", a, b) },
	}
}

var spectestGlobals = []struct {
	name  string
	value engine.Value
}{
	{"global_i32", engine.I32(666)},
	{"global_i64", engine.I64(666)},
	{"global_f32", engine.F32(666.6)},
	{"global_f64", engine.F64(666.6)},
}

func registerSpectest(rt *runtime.Runtime, out io.Writer) error {
	if err := rt.RegisterHost(spectest{out: out}); err != nil {
		return err
	}
	for _, g := range spectestGlobals {
		global, err := engine.NewGlobal(wasm.GlobalType{ValType: g.value.Type()}, g.value)
		if err != nil {
			return err
		}
		if err := rt.RegisterGlobal("spectest", g.name, global); err != nil {
			return err
		}
	}
	return nil
}
