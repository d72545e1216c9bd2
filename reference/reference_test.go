package reference

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
	f32 = wasm.ValF32
	f64 = wasm.ValF64
)

func sig(params []wasm.ValType, results ...wasm.ValType) wasm.FuncType {
	return wasm.FuncType{Params: params, Results: results}
}

func types(ts ...wasm.ValType) []wasm.ValType { return ts }

// opModule exports one function per opcode applying it to its parameters.
type opModule struct {
	b *wasm.Builder
}

func (m opModule) unary(name string, op byte, in, out wasm.ValType) {
	m.b.Func(name, sig(types(in), out), nil, wasm.LocalGet(0), wasm.Op(op))
}

func (m opModule) binary(name string, op byte, in, out wasm.ValType) {
	m.b.Func(name, sig(types(in, in), out), nil, wasm.LocalGet(0), wasm.LocalGet(1), wasm.Op(op))
}

func numericModule() []byte {
	m := opModule{b: wasm.NewBuilder()}
	m.binary("i32.add", wasm.OpI32Add, i32, i32)
	m.binary("i32.sub", wasm.OpI32Sub, i32, i32)
	m.binary("i32.mul", wasm.OpI32Mul, i32, i32)
	m.binary("i32.div_s", wasm.OpI32DivS, i32, i32)
	m.binary("i32.div_u", wasm.OpI32DivU, i32, i32)
	m.binary("i32.rem_s", wasm.OpI32RemS, i32, i32)
	m.binary("i32.shl", wasm.OpI32Shl, i32, i32)
	m.binary("i32.shr_s", wasm.OpI32ShrS, i32, i32)
	m.binary("i32.rotl", wasm.OpI32Rotl, i32, i32)
	m.binary("i32.lt_s", wasm.OpI32LtS, i32, i32)
	m.binary("i32.lt_u", wasm.OpI32LtU, i32, i32)
	m.unary("i32.clz", wasm.OpI32Clz, i32, i32)
	m.unary("i32.ctz", wasm.OpI32Ctz, i32, i32)
	m.unary("i32.popcnt", wasm.OpI32Popcnt, i32, i32)
	m.unary("i32.extend8_s", wasm.OpI32Extend8S, i32, i32)
	m.binary("i64.mul", wasm.OpI64Mul, i64, i64)
	m.binary("i64.div_s", wasm.OpI64DivS, i64, i64)
	m.binary("i64.rem_u", wasm.OpI64RemU, i64, i64)
	m.binary("i64.rotr", wasm.OpI64Rotr, i64, i64)
	m.unary("i64.clz", wasm.OpI64Clz, i64, i64)
	m.unary("i64.extend_i32_s", wasm.OpI64ExtendI32S, i32, i64)
	m.unary("i64.extend_i32_u", wasm.OpI64ExtendI32U, i32, i64)
	m.unary("i32.wrap_i64", wasm.OpI32WrapI64, i64, i32)
	m.binary("f32.add", wasm.OpF32Add, f32, f32)
	m.binary("f32.min", wasm.OpF32Min, f32, f32)
	m.binary("f32.max", wasm.OpF32Max, f32, f32)
	m.binary("f32.lt", wasm.OpF32Lt, f32, i32)
	m.unary("f32.nearest", wasm.OpF32Nearest, f32, f32)
	m.unary("f32.sqrt", wasm.OpF32Sqrt, f32, f32)
	m.binary("f64.div", wasm.OpF64Div, f64, f64)
	m.binary("f64.copysign", wasm.OpF64Copysign, f64, f64)
	m.unary("f64.nearest", wasm.OpF64Nearest, f64, f64)
	m.unary("f64.floor", wasm.OpF64Floor, f64, f64)
	m.unary("i32.trunc_f32_s", wasm.OpI32TruncF32S, f32, i32)
	m.unary("i32.trunc_f64_u", wasm.OpI32TruncF64U, f64, i32)
	m.unary("i64.trunc_f64_s", wasm.OpI64TruncF64S, f64, i64)
	m.unary("f32.demote_f64", wasm.OpF32DemoteF64, f64, f32)
	m.unary("f64.convert_i64_u", wasm.OpF64ConvertI64U, i64, f64)
	m.unary("i32.reinterpret_f32", wasm.OpI32ReinterpretF32, f32, i32)
	m.b.Func("i32.trunc_sat_f32_s", sig(types(f32), i32), nil,
		wasm.LocalGet(0), wasm.Misc(wasm.MiscI32TruncSatF32S))
	m.b.Func("i64.trunc_sat_f64_u", sig(types(f64), i64), nil,
		wasm.LocalGet(0), wasm.Misc(wasm.MiscI64TruncSatF64U))
	return m.b.Bytes()
}

func TestDifferential_Numeric(t *testing.T) {
	nan32 := engine.F32Bits(0x7fc00000)
	nan64 := engine.F64Bits(0x7ff8000000000000)
	negZero32 := engine.F32(float32(math.Copysign(0, -1)))

	calls := []Call{
		{"i32.add", []engine.Value{engine.I32(math.MaxInt32), engine.I32(1)}},
		{"i32.sub", []engine.Value{engine.I32(math.MinInt32), engine.I32(1)}},
		{"i32.mul", []engine.Value{engine.I32(0x10000), engine.I32(0x10000)}},
		{"i32.div_s", []engine.Value{engine.I32(-7), engine.I32(2)}},
		{"i32.div_s", []engine.Value{engine.I32(1), engine.I32(0)}},
		{"i32.div_s", []engine.Value{engine.I32(math.MinInt32), engine.I32(-1)}},
		{"i32.div_u", []engine.Value{engine.I32(-1), engine.I32(2)}},
		{"i32.rem_s", []engine.Value{engine.I32(math.MinInt32), engine.I32(-1)}},
		{"i32.rem_s", []engine.Value{engine.I32(-7), engine.I32(2)}},
		{"i32.shl", []engine.Value{engine.I32(1), engine.I32(33)}},
		{"i32.shr_s", []engine.Value{engine.I32(-8), engine.I32(1)}},
		{"i32.rotl", []engine.Value{engine.U32(0x80000001), engine.I32(1)}},
		{"i32.lt_s", []engine.Value{engine.I32(-1), engine.I32(0)}},
		{"i32.lt_u", []engine.Value{engine.I32(-1), engine.I32(0)}},
		{"i32.clz", []engine.Value{engine.I32(0)}},
		{"i32.ctz", []engine.Value{engine.I32(0x80)}},
		{"i32.popcnt", []engine.Value{engine.I32(-1)}},
		{"i32.extend8_s", []engine.Value{engine.I32(0x80)}},
		{"i64.mul", []engine.Value{engine.I64(math.MaxInt64), engine.I64(2)}},
		{"i64.div_s", []engine.Value{engine.I64(math.MinInt64), engine.I64(-1)}},
		{"i64.rem_u", []engine.Value{engine.I64(-1), engine.I64(10)}},
		{"i64.rotr", []engine.Value{engine.I64(1), engine.I64(65)}},
		{"i64.clz", []engine.Value{engine.I64(1)}},
		{"i64.extend_i32_s", []engine.Value{engine.I32(-1)}},
		{"i64.extend_i32_u", []engine.Value{engine.I32(-1)}},
		{"i32.wrap_i64", []engine.Value{engine.U64(0x1_2345_6789)}},
		{"f32.add", []engine.Value{engine.F32(0.1), engine.F32(0.2)}},
		{"f32.add", []engine.Value{nan32, engine.F32(1)}},
		{"f32.min", []engine.Value{negZero32, engine.F32(0)}},
		{"f32.max", []engine.Value{negZero32, engine.F32(0)}},
		{"f32.min", []engine.Value{nan32, engine.F32(1)}},
		{"f32.lt", []engine.Value{nan32, engine.F32(1)}},
		{"f32.nearest", []engine.Value{engine.F32(2.5)}},
		{"f32.nearest", []engine.Value{engine.F32(-3.5)}},
		{"f32.sqrt", []engine.Value{engine.F32(-1)}},
		{"f64.div", []engine.Value{engine.F64(1), engine.F64(0)}},
		{"f64.div", []engine.Value{engine.F64(0), engine.F64(0)}},
		{"f64.copysign", []engine.Value{engine.F64(3), engine.F64(math.Copysign(0, -1))}},
		{"f64.nearest", []engine.Value{engine.F64(0.5)}},
		{"f64.floor", []engine.Value{engine.F64(-0.5)}},
		{"i32.trunc_f32_s", []engine.Value{engine.F32(-3.9)}},
		{"i32.trunc_f32_s", []engine.Value{nan32}},
		{"i32.trunc_f32_s", []engine.Value{engine.F32(3e9)}},
		{"i32.trunc_f64_u", []engine.Value{engine.F64(-0.9)}},
		{"i32.trunc_f64_u", []engine.Value{engine.F64(-1)}},
		{"i64.trunc_f64_s", []engine.Value{engine.F64(math.Inf(1))}},
		{"f32.demote_f64", []engine.Value{engine.F64(math.MaxFloat64)}},
		{"f32.demote_f64", []engine.Value{nan64}},
		{"f64.convert_i64_u", []engine.Value{engine.I64(-1)}},
		{"i32.reinterpret_f32", []engine.Value{engine.F32(-1)}},
		{"i32.trunc_sat_f32_s", []engine.Value{nan32}},
		{"i32.trunc_sat_f32_s", []engine.Value{engine.F32(-3e9)}},
		{"i64.trunc_sat_f64_u", []engine.Value{engine.F64(1e20)}},
		{"i64.trunc_sat_f64_u", []engine.Value{engine.F64(-5)}},
	}

	diffs, err := Run(context.Background(), numericModule(), nil, engine.Config{}, calls)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	for _, d := range diffs {
		t.Errorf("diff: %v", d)
	}
}

func TestDifferential_ControlAndMemory(t *testing.T) {
	b := wasm.NewBuilder()
	b.Memory(1, 2, "memory")
	b.Data(16, []byte("hello"))
	b.Func("store", sig(types(i32, i64)), nil,
		wasm.LocalGet(0), wasm.LocalGet(1), wasm.Mem(wasm.OpI64Store, 0))
	b.Func("load16_s", sig(types(i32), i32), nil,
		wasm.LocalGet(0), wasm.Mem(wasm.OpI32Load16S, 0))
	b.Func("load_off", sig(types(i32), i32), nil,
		wasm.LocalGet(0), wasm.Mem(wasm.OpI32Load, 0xfffffff0))
	b.Func("grow", sig(types(i32), i32), nil,
		wasm.LocalGet(0), wasm.MemoryGrow())
	b.Func("fill", sig(types(i32, i32, i32)), nil,
		wasm.LocalGet(0), wasm.LocalGet(1), wasm.LocalGet(2), wasm.Misc(wasm.MiscMemoryFill, 0))
	b.Func("copy", sig(types(i32, i32, i32)), nil,
		wasm.LocalGet(0), wasm.LocalGet(1), wasm.LocalGet(2), wasm.Misc(wasm.MiscMemoryCopy, 0, 0))
	// fact(n) with a loop.
	b.Func("fact", sig(types(i64), i64), types(i64),
		wasm.I64Const(1), wasm.LocalSet(1),
		wasm.Block(wasm.BlockTypeVoid),
		wasm.Loop(wasm.BlockTypeVoid),
		wasm.LocalGet(0), wasm.Op(wasm.OpI64Eqz), wasm.BrIf(1),
		wasm.LocalGet(1), wasm.LocalGet(0), wasm.Op(wasm.OpI64Mul), wasm.LocalSet(1),
		wasm.LocalGet(0), wasm.I64Const(1), wasm.Op(wasm.OpI64Sub), wasm.LocalSet(0),
		wasm.Br(0),
		wasm.End(),
		wasm.End(),
		wasm.LocalGet(1))
	b.Func("switch", sig(types(i32), i32), nil,
		wasm.Block(wasm.BlockTypeVoid),
		wasm.Block(wasm.BlockTypeVoid),
		wasm.LocalGet(0), wasm.BrTable(1, 0),
		wasm.End(),
		wasm.I32Const(10), wasm.Op(wasm.OpReturn),
		wasm.End(),
		wasm.I32Const(20))
	b.Func("trap", sig(nil), nil, wasm.Op(wasm.OpUnreachable))

	calls := []Call{
		{"store", []engine.Value{engine.I32(0), engine.I64(-2)}},
		{"store", []engine.Value{engine.I32(65530), engine.I64(1)}},
		{"load16_s", []engine.Value{engine.I32(6)}},
		{"load16_s", []engine.Value{engine.I32(16)}},
		{"load16_s", []engine.Value{engine.I32(65535)}},
		{"load_off", []engine.Value{engine.I32(0x20)}},
		{"fill", []engine.Value{engine.I32(100), engine.I32(0xab), engine.I32(8)}},
		{"copy", []engine.Value{engine.I32(102), engine.I32(16), engine.I32(5)}},
		{"fill", []engine.Value{engine.I32(65535), engine.I32(1), engine.I32(2)}},
		{"grow", []engine.Value{engine.I32(1)}},
		{"grow", []engine.Value{engine.I32(1)}},
		{"store", []engine.Value{engine.I32(65536 + 8), engine.I64(7)}},
		{"fact", []engine.Value{engine.I64(20)}},
		{"fact", []engine.Value{engine.I64(0)}},
		{"switch", []engine.Value{engine.I32(0)}},
		{"switch", []engine.Value{engine.I32(1)}},
		{"switch", []engine.Value{engine.I32(99)}},
		{"trap", nil},
	}

	diffs, err := Run(context.Background(), b.Bytes(), nil, engine.Config{}, calls)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	for _, d := range diffs {
		t.Errorf("diff: %v", d)
	}
}

func TestDifferential_CallIndirect(t *testing.T) {
	b := wasm.NewBuilder()
	unary := sig(types(i32), i32)
	inc := b.Func("", unary, nil, wasm.LocalGet(0), wasm.I32Const(1), wasm.Op(wasm.OpI32Add))
	neg := b.Func("", unary, nil, wasm.I32Const(0), wasm.LocalGet(0), wasm.Op(wasm.OpI32Sub))
	other := b.Func("", sig(nil), nil)
	b.Table(5)
	b.Elements(0, inc, neg, other)
	unaryType := b.Type(unary)
	b.Func("dispatch", sig(types(i32, i32), i32), nil,
		wasm.LocalGet(1), wasm.LocalGet(0), wasm.CallIndirect(unaryType))

	var calls []Call
	for slot := int32(0); slot < 6; slot++ {
		calls = append(calls, Call{"dispatch", []engine.Value{engine.I32(slot), engine.I32(41)}})
	}

	diffs, err := Run(context.Background(), b.Bytes(), nil, engine.Config{}, calls)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	for _, d := range diffs {
		t.Errorf("diff: %v", d)
	}
}

func TestDifferential_HostImports(t *testing.T) {
	b := wasm.NewBuilder()
	scale := b.ImportFunc("env", "scale", sig(types(i64), i64))
	b.Func("run", sig(types(i64), i64), nil,
		wasm.LocalGet(0), wasm.Call(scale), wasm.I64Const(1), wasm.Op(wasm.OpI64Add))

	imports := engine.NewImports().Func("env", "scale", sig(types(i64), i64),
		func(_ context.Context, _ *engine.Instance, args []engine.Value) ([]engine.Value, error) {
			return []engine.Value{engine.I64(args[0].I64() * 3)}, nil
		})

	diffs, err := Run(context.Background(), b.Bytes(), imports, engine.Config{}, []Call{
		{"run", []engine.Value{engine.I64(5)}},
		{"run", []engine.Value{engine.I64(-5)}},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	for _, d := range diffs {
		t.Errorf("diff: %v", d)
	}
}

func TestCompare_ReportsDisagreement(t *testing.T) {
	ctx := context.Background()
	b := wasm.NewBuilder()
	tick := b.ImportFunc("env", "tick", sig(nil, i32))
	b.Func("tick", sig(nil, i32), nil, wasm.Call(tick))
	bin := b.Bytes()

	var n int32
	imports := engine.NewImports().Func("env", "tick", sig(nil, i32),
		func(context.Context, *engine.Instance, []engine.Value) ([]engine.Value, error) {
			n++
			return []engine.Value{engine.I32(n)}, nil
		})

	m, err := wasm.ParseModule(bin)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	inst, err := engine.Instantiate(ctx, m, imports, nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	ref, err := Instantiate(ctx, bin, imports, Config{})
	if err != nil {
		t.Fatalf("reference Instantiate: %v", err)
	}
	defer ref.Close(ctx)

	d := Compare(ctx, inst, ref, "tick")
	if d == nil {
		t.Fatal("Compare() = nil, want a diff")
	}
	if len(d.Engine.Results) != 1 || d.Engine.Results[0] != engine.I32(1) {
		t.Errorf("engine outcome = %v, want [i32:1]", d.Engine)
	}
	if len(d.Reference.Results) != 1 || d.Reference.Results[0] != engine.I32(2) {
		t.Errorf("reference outcome = %v, want [i32:2]", d.Reference)
	}
	if got, want := d.Error(), "tick(): engine [i32:1], reference [i32:2]"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestInstance_Invoke(t *testing.T) {
	ctx := context.Background()
	b := wasm.NewBuilder()
	b.Func("add", sig(types(i32, i32), i32), nil,
		wasm.LocalGet(0), wasm.LocalGet(1), wasm.Op(wasm.OpI32Add))
	ref, err := Instantiate(ctx, b.Bytes(), nil, Config{})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer ref.Close(ctx)

	out, err := ref.Invoke(ctx, "add", engine.I32(3), engine.I32(4))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(out) != 1 || out[0] != engine.I32(7) {
		t.Errorf("add(3, 4) = %v, want [i32:7]", out)
	}

	tests := []struct {
		name string
		fn   string
		args []engine.Value
		kind errors.Kind
	}{
		{"missing export", "sub", nil, errors.KindNotFound},
		{"argument count", "add", []engine.Value{engine.I32(1)}, errors.KindTypeMismatch},
		{"argument type", "add", []engine.Value{engine.I64(1), engine.I32(1)}, errors.KindTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ref.Invoke(ctx, tt.fn, tt.args...)
			if got := errors.KindOf(err); got != tt.kind {
				t.Errorf("KindOf(%v) = %q, want %q", err, got, tt.kind)
			}
		})
	}
	if ref.Memory() != nil {
		t.Error("Memory() of a module without memory should be nil")
	}
}

func TestInstantiate_Errors(t *testing.T) {
	ctx := context.Background()

	if _, err := Instantiate(ctx, []byte("nope"), nil, Config{}); errors.KindOf(err) != errors.KindDecode {
		t.Errorf("Instantiate(garbage) = %v, want decode error", err)
	}

	b := wasm.NewBuilder()
	b.ImportFunc("env", "missing", sig(nil))
	_, err := Instantiate(ctx, b.Bytes(), nil, Config{})
	var missing *errors.MissingImportsError
	if !errors.As(err, &missing) {
		t.Errorf("Instantiate(missing import) = %v, want MissingImportsError", err)
	}

	g := wasm.NewBuilder()
	g.ImportGlobal("env", "g", wasm.GlobalType{ValType: i32})
	if _, err := Instantiate(ctx, g.Bytes(), nil, Config{}); errors.KindOf(err) != errors.KindUnsupported {
		t.Errorf("Instantiate(global import) = %v, want unsupported", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		kind errors.Kind
	}{
		{"wasm error: integer divide by zero\nwasm stack trace:\n\t.f()", errors.KindDivideByZero},
		{"wasm error: integer overflow", errors.KindIntegerOverflow},
		{"wasm error: invalid conversion to integer", errors.KindInvalidConversion},
		{"wasm error: out of bounds memory access", errors.KindOutOfBounds},
		{"wasm error: invalid table access", errors.KindUndefinedElement},
		{"wasm error: indirect call type mismatch", errors.KindIndirectCallTypeMismatch},
		{"wasm error: stack overflow", errors.KindCallStackExhausted},
		{"wasm error: unreachable", errors.KindUnreachable},
		{"something else", errors.KindHostFailure},
	}
	for _, tt := range tests {
		err := classify(fmt.Errorf("%s", tt.msg))
		if got := errors.KindOf(err); got != tt.kind {
			t.Errorf("classify(%q) kind = %q, want %q", tt.msg, got, tt.kind)
		}
		if !errors.IsTrap(err) {
			t.Errorf("classify(%q) is not a trap", tt.msg)
		}
	}
}

func TestOutcome_Agrees(t *testing.T) {
	nanA := engine.F64Bits(0x7ff8000000000001)
	nanB := engine.F64Bits(0xfff8000000000000)
	overflow := errors.Trap(errors.KindDivideOverflow, "binop.div_s.overflow")
	refOverflow := errors.Trap(errors.KindIntegerOverflow, "reference.integer_overflow")

	tests := []struct {
		name string
		a, b Outcome
		want bool
	}{
		{"same results", NewOutcome([]engine.Value{engine.I32(1)}, nil), NewOutcome([]engine.Value{engine.I32(1)}, nil), true},
		{"different results", NewOutcome([]engine.Value{engine.I32(1)}, nil), NewOutcome([]engine.Value{engine.I32(2)}, nil), false},
		{"different types", NewOutcome([]engine.Value{engine.I32(1)}, nil), NewOutcome([]engine.Value{engine.I64(1)}, nil), false},
		{"result count", NewOutcome(nil, nil), NewOutcome([]engine.Value{engine.I32(1)}, nil), false},
		{"nan payloads", NewOutcome([]engine.Value{nanA}, nil), NewOutcome([]engine.Value{nanB}, nil), true},
		{"trap classes", NewOutcome(nil, overflow), NewOutcome(nil, refOverflow), true},
		{"trap vs result", NewOutcome(nil, overflow), NewOutcome([]engine.Value{engine.I32(0)}, nil), false},
		{"different traps", NewOutcome(nil, engine.ErrUnreachable), NewOutcome(nil, engine.ErrOutOfBounds), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Agrees(tt.b); got != tt.want {
				t.Errorf("%v.Agrees(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
