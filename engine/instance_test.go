package engine

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
	f64 = wasm.ValF64
)

func sig(params []wasm.ValType, results ...wasm.ValType) wasm.FuncType {
	return wasm.FuncType{Params: params, Results: results}
}

func types(ts ...wasm.ValType) []wasm.ValType { return ts }

// instantiate encodes the builder's module, decodes it again and
// instantiates the result.
func instantiate(t *testing.T, b *wasm.Builder, imports *Imports, cfg *Config) *Instance {
	t.Helper()
	m, err := wasm.ParseModule(b.Bytes())
	if err != nil {
		t.Fatalf("ParseModule() error: %v", err)
	}
	inst, err := Instantiate(context.Background(), m, imports, cfg)
	if err != nil {
		t.Fatalf("Instantiate() error: %v", err)
	}
	return inst
}

func invoke(t *testing.T, inst *Instance, name string, args ...Value) []Value {
	t.Helper()
	out, err := inst.Invoke(context.Background(), name, args...)
	if err != nil {
		t.Fatalf("Invoke(%s) error: %v", name, err)
	}
	return out
}

func invoke1(t *testing.T, inst *Instance, name string, args ...Value) Value {
	t.Helper()
	out := invoke(t, inst, name, args...)
	if len(out) != 1 {
		t.Fatalf("Invoke(%s) returned %d results, want 1", name, len(out))
	}
	return out[0]
}

func trapOf(t *testing.T, err error) *errors.Error {
	t.Helper()
	e, ok := errors.AsError(err)
	if !ok {
		t.Fatalf("error = %v, want *errors.Error", err)
	}
	return e
}

func TestInvokeAdd(t *testing.T) {
	b := wasm.NewBuilder()
	b.Func("add", sig(types(i32, i32), i32), nil,
		wasm.LocalGet(0), wasm.LocalGet(1), wasm.Op(wasm.OpI32Add))
	inst := instantiate(t, b, nil, nil)

	if got := invoke1(t, inst, "add", I32(3), I32(4)); got != I32(7) {
		t.Errorf("add(3, 4) = %v, want i32:7", got)
	}
	if got := invoke1(t, inst, "add", I32(-1), I32(1)); got != I32(0) {
		t.Errorf("add(-1, 1) = %v, want i32:0", got)
	}
	if inst.Stack().Len() != 0 {
		t.Errorf("stack holds %d entries after the call", inst.Stack().Len())
	}
}

func TestFactorialLoop(t *testing.T) {
	b := wasm.NewBuilder()
	b.Func("fac", sig(types(i64), i64), types(i64),
		wasm.I64Const(1), wasm.LocalSet(1),
		wasm.Block(wasm.BlockTypeVoid),
		wasm.Loop(wasm.BlockTypeVoid),
		wasm.LocalGet(0), wasm.Op(wasm.OpI64Eqz), wasm.BrIf(1),
		wasm.LocalGet(1), wasm.LocalGet(0), wasm.Op(wasm.OpI64Mul), wasm.LocalSet(1),
		wasm.LocalGet(0), wasm.I64Const(1), wasm.Op(wasm.OpI64Sub), wasm.LocalSet(0),
		wasm.Br(0),
		wasm.End(),
		wasm.End(),
		wasm.LocalGet(1),
	)
	inst := instantiate(t, b, nil, nil)

	tests := []struct {
		n    int64
		want int64
	}{
		{0, 1}, {1, 1}, {5, 120}, {10, 3628800}, {20, 2432902008176640000},
	}
	for _, tt := range tests {
		if got := invoke1(t, inst, "fac", I64(tt.n)); got != I64(tt.want) {
			t.Errorf("fac(%d) = %v, want %d", tt.n, got, tt.want)
		}
	}
}

func TestRecursiveFib(t *testing.T) {
	b := wasm.NewBuilder()
	const fib = 0
	b.Func("fib", sig(types(i32), i32), nil,
		wasm.LocalGet(0), wasm.I32Const(2), wasm.Op(wasm.OpI32LtS),
		wasm.If(wasm.BlockTypeI32),
		wasm.LocalGet(0),
		wasm.Op(wasm.OpElse),
		wasm.LocalGet(0), wasm.I32Const(1), wasm.Op(wasm.OpI32Sub), wasm.Call(fib),
		wasm.LocalGet(0), wasm.I32Const(2), wasm.Op(wasm.OpI32Sub), wasm.Call(fib),
		wasm.Op(wasm.OpI32Add),
		wasm.End(),
	)
	inst := instantiate(t, b, nil, nil)

	for n, want := range map[int32]int32{0: 0, 1: 1, 2: 1, 10: 55, 20: 6765} {
		if got := invoke1(t, inst, "fib", I32(n)); got != I32(want) {
			t.Errorf("fib(%d) = %v, want %d", n, got, want)
		}
	}
}

func TestIfWithoutElse(t *testing.T) {
	b := wasm.NewBuilder()
	b.Func("clamp", sig(types(i32), i32), nil,
		wasm.LocalGet(0), wasm.I32Const(0), wasm.Op(wasm.OpI32LtS),
		wasm.If(wasm.BlockTypeVoid),
		wasm.I32Const(0), wasm.LocalSet(0),
		wasm.End(),
		wasm.LocalGet(0),
	)
	inst := instantiate(t, b, nil, nil)

	if got := invoke1(t, inst, "clamp", I32(-5)); got != I32(0) {
		t.Errorf("clamp(-5) = %v, want 0", got)
	}
	if got := invoke1(t, inst, "clamp", I32(5)); got != I32(5) {
		t.Errorf("clamp(5) = %v, want 5", got)
	}
}

func TestMultiValueBlocks(t *testing.T) {
	b := wasm.NewBuilder()
	pair := int32(b.Type(sig(types(i32, i32), i32, i32)))
	countdown := int32(b.Type(sig(types(i32), i32)))

	b.Func("pair", sig(nil, i32, i32), nil,
		wasm.I32Const(1), wasm.I32Const(2),
		wasm.Block(pair),
		wasm.Op(wasm.OpI32Add), wasm.I32Const(5),
		wasm.End(),
	)
	b.Func("countdown", sig(types(i32), i32), types(i32),
		wasm.LocalGet(0),
		wasm.Loop(countdown),
		wasm.LocalGet(1), wasm.I32Const(1), wasm.Op(wasm.OpI32Add), wasm.LocalSet(1),
		wasm.I32Const(1), wasm.Op(wasm.OpI32Sub),
		wasm.LocalTee(0), wasm.LocalGet(0), wasm.BrIf(0),
		wasm.End(),
		wasm.LocalGet(1), wasm.Op(wasm.OpI32Add),
	)
	inst := instantiate(t, b, nil, nil)

	out := invoke(t, inst, "pair")
	if len(out) != 2 || out[0] != I32(3) || out[1] != I32(5) {
		t.Errorf("pair() = %v, want [i32:3 i32:5]", out)
	}
	// The loop runs n times and ends with 0 on the stack, plus the count.
	if got := invoke1(t, inst, "countdown", I32(6)); got != I32(6) {
		t.Errorf("countdown(6) = %v, want 6", got)
	}
}

func TestBrTable(t *testing.T) {
	b := wasm.NewBuilder()
	b.Func("switch", sig(types(i32), i32), nil,
		wasm.Block(wasm.BlockTypeVoid),
		wasm.Block(wasm.BlockTypeVoid),
		wasm.Block(wasm.BlockTypeVoid),
		wasm.LocalGet(0),
		wasm.BrTable(2, 0, 1),
		wasm.End(),
		wasm.I32Const(100), wasm.Op(wasm.OpReturn),
		wasm.End(),
		wasm.I32Const(101), wasm.Op(wasm.OpReturn),
		wasm.End(),
		wasm.I32Const(102),
	)
	inst := instantiate(t, b, nil, nil)

	for in, want := range map[int32]int32{0: 100, 1: 101, 2: 102, 7: 102, -1: 102} {
		if got := invoke1(t, inst, "switch", I32(in)); got != I32(want) {
			t.Errorf("switch(%d) = %v, want %d", in, got, want)
		}
	}
}

func TestReturnFromNestedBlocks(t *testing.T) {
	b := wasm.NewBuilder()
	b.Func("ret", sig(nil, i32), nil,
		wasm.I32Const(1), wasm.I32Const(2),
		wasm.Block(wasm.BlockTypeVoid),
		wasm.Block(wasm.BlockTypeVoid),
		wasm.I32Const(9), wasm.Op(wasm.OpReturn),
		wasm.End(),
		wasm.End(),
		wasm.Op(wasm.OpDrop),
	)
	b.Func("br_out", sig(nil, i32), nil,
		wasm.Block(wasm.BlockTypeVoid),
		wasm.I32Const(4), wasm.Br(1),
		wasm.End(),
		wasm.I32Const(0),
	)
	inst := instantiate(t, b, nil, nil)

	if got := invoke1(t, inst, "ret"); got != I32(9) {
		t.Errorf("ret() = %v, want 9", got)
	}
	if got := invoke1(t, inst, "br_out"); got != I32(4) {
		t.Errorf("br_out() = %v, want 4", got)
	}
	if n := inst.Stack().Len(); n != 0 {
		t.Errorf("stack holds %d entries", n)
	}
}

func memoryModule() *wasm.Builder {
	b := wasm.NewBuilder()
	b.Memory(1, 2, "mem")
	b.Data(16, []byte("hello"))
	b.Func("load8_u", sig(types(i32), i32), nil,
		wasm.LocalGet(0), wasm.Mem(wasm.OpI32Load8U, 0))
	b.Func("load16_s", sig(types(i32), i32), nil,
		wasm.LocalGet(0), wasm.Mem(wasm.OpI32Load16S, 0))
	b.Func("store64", sig(types(i32, i64)), nil,
		wasm.LocalGet(0), wasm.LocalGet(1), wasm.Mem(wasm.OpI64Store, 4))
	b.Func("load64", sig(types(i32), i64), nil,
		wasm.LocalGet(0), wasm.Mem(wasm.OpI64Load, 4))
	b.Func("load32_s", sig(types(i32), i64), nil,
		wasm.LocalGet(0), wasm.Mem(wasm.OpI64Load32S, 0))
	b.Func("storef", sig(types(i32, f64)), nil,
		wasm.LocalGet(0), wasm.LocalGet(1), wasm.Mem(wasm.OpF64Store, 0))
	b.Func("loadf", sig(types(i32), f64), nil,
		wasm.LocalGet(0), wasm.Mem(wasm.OpF64Load, 0))
	b.Func("far", sig(types(i32), i32), nil,
		wasm.LocalGet(0), wasm.Mem(wasm.OpI32Load, 0xffffffff))
	b.Func("grow", sig(types(i32), i32), nil,
		wasm.LocalGet(0), wasm.MemoryGrow())
	b.Func("size", sig(nil, i32), nil, wasm.MemorySize())
	return b
}

func TestMemoryAccess(t *testing.T) {
	inst := instantiate(t, memoryModule(), nil, nil)

	if got := invoke1(t, inst, "load8_u", I32(16)); got != I32('h') {
		t.Errorf("load8_u(16) = %v, want 'h'", got)
	}
	invoke(t, inst, "store64", I32(100), I64(-2))
	if got := invoke1(t, inst, "load64", I32(100)); got != I64(-2) {
		t.Errorf("load64(100) = %v, want -2", got)
	}
	if got := invoke1(t, inst, "load16_s", I32(104)); got != I32(-2) {
		t.Errorf("load16_s(104) = %v, want -2", got)
	}
	if got := invoke1(t, inst, "load32_s", I32(108)); got != I64(-1) {
		t.Errorf("load32_s(108) = %v, want -1", got)
	}
	if v, err := inst.Memory().ReadU64(104); err != nil || v != 0xfffffffffffffffe {
		t.Errorf("memory at 104 = %#x, %v", v, err)
	}

	nan := F64Bits(0x7ff4000000000001)
	invoke(t, inst, "storef", I32(200), nan)
	if got := invoke1(t, inst, "loadf", I32(200)); got.Bits() != nan.Bits() {
		t.Errorf("f64 round trip = %v, want payload preserved", got)
	}
}

func TestMemoryOutOfBounds(t *testing.T) {
	inst := instantiate(t, memoryModule(), nil, nil)

	tests := []struct {
		name string
		fn   string
		arg  int32
		code string
	}{
		{"past end", "load8_u", 65536, "memop.load8_u.bounds"},
		{"straddles end", "load16_s", 65535, "memop.load16_s.bounds"},
		{"offset does not wrap", "far", 1, "memop.load.bounds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inst.Invoke(context.Background(), tt.fn, I32(tt.arg))
			if !errors.Is(err, ErrOutOfBounds) {
				t.Fatalf("error = %v, want out of bounds", err)
			}
			e := trapOf(t, err)
			if e.Code != tt.code || e.Func != tt.fn {
				t.Errorf("Code, Func = %q, %q, want %q, %q", e.Code, e.Func, tt.code, tt.fn)
			}
		})
	}
	if got := invoke1(t, inst, "load8_u", I32(65535)); got != I32(0) {
		t.Errorf("load8_u(last byte) = %v, want 0", got)
	}
}

func TestMemoryGrowAndSize(t *testing.T) {
	inst := instantiate(t, memoryModule(), nil, nil)

	if got := invoke1(t, inst, "size"); got != I32(1) {
		t.Errorf("size() = %v, want 1", got)
	}
	if got := invoke1(t, inst, "grow", I32(1)); got != I32(1) {
		t.Errorf("grow(1) = %v, want previous size 1", got)
	}
	if got := invoke1(t, inst, "grow", I32(1)); got != I32(-1) {
		t.Errorf("grow past max = %v, want -1", got)
	}
	if got := invoke1(t, inst, "size"); got != I32(2) {
		t.Errorf("size() = %v, want 2", got)
	}
	if got := invoke1(t, inst, "load8_u", I32(16)); got != I32('h') {
		t.Errorf("contents lost on growth: %v", got)
	}
}

func TestMemoryLimitPages(t *testing.T) {
	b := wasm.NewBuilder()
	b.Memory(1, -1, "")
	b.Func("grow", sig(types(i32), i32), nil, wasm.LocalGet(0), wasm.MemoryGrow())
	inst := instantiate(t, b, nil, &Config{MemoryLimitPages: 3})

	if got := inst.Memory().MaxPages(); got != 3 {
		t.Errorf("MaxPages() = %d, want 3", got)
	}
	if got := invoke1(t, inst, "grow", I32(3)); got != I32(-1) {
		t.Errorf("grow(3) = %v, want -1", got)
	}

	b = wasm.NewBuilder()
	b.Memory(4, -1, "")
	m, _ := wasm.ParseModule(b.Bytes())
	_, err := Instantiate(context.Background(), m, nil, &Config{MemoryLimitPages: 3})
	if errors.KindOf(err) != errors.KindInstantiation {
		t.Errorf("minimum above limit error = %v, want instantiation", err)
	}
}

func TestBulkMemory(t *testing.T) {
	b := wasm.NewBuilder()
	b.Memory(1, 1, "mem")
	seg := b.PassiveData([]byte("abcdef"))
	b.Func("init", sig(types(i32, i32, i32)), nil,
		wasm.LocalGet(0), wasm.LocalGet(1), wasm.LocalGet(2),
		wasm.Misc(wasm.MiscMemoryInit, seg, 0))
	b.Func("drop", sig(nil), nil, wasm.Misc(wasm.MiscDataDrop, seg))
	b.Func("fill", sig(types(i32, i32, i32)), nil,
		wasm.LocalGet(0), wasm.LocalGet(1), wasm.LocalGet(2),
		wasm.Misc(wasm.MiscMemoryFill, 0))
	b.Func("copy", sig(types(i32, i32, i32)), nil,
		wasm.LocalGet(0), wasm.LocalGet(1), wasm.LocalGet(2),
		wasm.Misc(wasm.MiscMemoryCopy, 0, 0))
	inst := instantiate(t, b, nil, nil)
	mem := inst.Memory()

	invoke(t, inst, "init", I32(10), I32(2), I32(3))
	if got, _ := mem.Read(10, 3); string(got) != "cde" {
		t.Errorf("after init = %q, want cde", got)
	}
	invoke(t, inst, "copy", I32(11), I32(10), I32(3))
	if got, _ := mem.Read(10, 4); string(got) != "ccde" {
		t.Errorf("after copy = %q, want ccde", got)
	}
	invoke(t, inst, "fill", I32(10), I32('z'), I32(2))
	if got, _ := mem.Read(10, 4); string(got) != "zzde" {
		t.Errorf("after fill = %q, want zzde", got)
	}

	_, err := inst.Invoke(context.Background(), "init", I32(0), I32(4), I32(3))
	if !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("init past segment end error = %v, want out of bounds", err)
	}
	invoke(t, inst, "drop")
	invoke(t, inst, "init", I32(0), I32(0), I32(0))
	_, err = inst.Invoke(context.Background(), "init", I32(0), I32(0), I32(1))
	if !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("init from dropped segment error = %v, want out of bounds", err)
	}
	_, err = inst.Invoke(context.Background(), "fill", I32(65535), I32(0), I32(2))
	if !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("fill past end error = %v, want out of bounds", err)
	}
}

func TestGlobals(t *testing.T) {
	b := wasm.NewBuilder()
	base := b.ImportGlobal("env", "base", wasm.GlobalType{ValType: i32})
	counter := b.Global("counter", wasm.GlobalType{ValType: i32, Mutable: true}, wasm.ExprGlobalGet(base))
	b.Global("pi", wasm.GlobalType{ValType: f64}, wasm.ExprF64(0x400921fb54442d18))
	b.Func("inc", sig(nil, i32), nil,
		wasm.GlobalGet(counter), wasm.I32Const(1), wasm.Op(wasm.OpI32Add), wasm.GlobalSet(counter),
		wasm.GlobalGet(counter))

	g, err := NewGlobal(wasm.GlobalType{ValType: i32}, I32(40))
	if err != nil {
		t.Fatal(err)
	}
	inst := instantiate(t, b, NewImports().Global("env", "base", g), nil)

	invoke(t, inst, "inc")
	if got := invoke1(t, inst, "inc"); got != I32(42) {
		t.Errorf("inc() = %v, want 42", got)
	}
	c, err := inst.Global("counter")
	if err != nil || c.Get() != I32(42) {
		t.Errorf("Global(counter) = %v, %v", c, err)
	}
	pi, err := inst.Global("pi")
	if err != nil || pi.Get().F64() != 3.141592653589793 {
		t.Errorf("Global(pi) = %v, %v", pi, err)
	}
	if err := pi.Set(F64(1)); errors.KindOf(err) != errors.KindTypeMismatch {
		t.Errorf("Set on immutable global error = %v", err)
	}
	if err := c.Set(I64(1)); errors.KindOf(err) != errors.KindTypeMismatch {
		t.Errorf("Set with wrong type error = %v", err)
	}
	if _, err := inst.Global("inc"); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("Global(inc) error = %v, want not found", err)
	}
	if _, err := NewGlobal(wasm.GlobalType{ValType: i64}, I32(1)); errors.KindOf(err) != errors.KindMismatch {
		t.Errorf("NewGlobal with wrong value type error = %v", err)
	}
}

func hostModule() *wasm.Builder {
	b := wasm.NewBuilder()
	host := b.ImportFunc("env", "double", sig(types(i32), i32))
	b.Func("quad", sig(types(i32), i32), nil,
		wasm.LocalGet(0), wasm.Call(host), wasm.Call(host))
	return b
}

func TestHostImports(t *testing.T) {
	var calls int
	double := func(_ context.Context, inst *Instance, args []Value) ([]Value, error) {
		calls++
		if inst == nil {
			return nil, fmt.Errorf("no instance")
		}
		return []Value{I32(args[0].I32() * 2)}, nil
	}
	imports := NewImports().Func("env", "double", sig(types(i32), i32), double)
	inst := instantiate(t, hostModule(), imports, nil)

	if got := invoke1(t, inst, "quad", I32(5)); got != I32(20) {
		t.Errorf("quad(5) = %v, want 20", got)
	}
	if calls != 2 {
		t.Errorf("host calls = %d, want 2", calls)
	}
}

func TestHostFailures(t *testing.T) {
	boom := fmt.Errorf("boom")
	tests := []struct {
		name string
		fn   HostFunc
		kind errors.Kind
		code string
	}{
		{
			name: "error",
			fn: func(context.Context, *Instance, []Value) ([]Value, error) {
				return nil, boom
			},
			kind: errors.KindHostFailure,
			code: "call.host",
		},
		{
			name: "result count",
			fn: func(context.Context, *Instance, []Value) ([]Value, error) {
				return nil, nil
			},
			kind: errors.KindTypeMismatch,
			code: "call.host.results",
		},
		{
			name: "result type",
			fn: func(context.Context, *Instance, []Value) ([]Value, error) {
				return []Value{I64(1)}, nil
			},
			kind: errors.KindTypeMismatch,
			code: "call.host.results",
		},
		{
			name: "trap passes through",
			fn: func(context.Context, *Instance, []Value) ([]Value, error) {
				return nil, errors.Trap(errors.KindUnreachable, "host.abort")
			},
			kind: errors.KindUnreachable,
			code: "host.abort",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			imports := NewImports().Func("env", "double", sig(types(i32), i32), tt.fn)
			inst := instantiate(t, hostModule(), imports, nil)
			_, err := inst.Invoke(context.Background(), "quad", I32(1))
			e := trapOf(t, err)
			if e.Kind != tt.kind || e.Code != tt.code {
				t.Errorf("trap = %s (%s), want %s (%s)", e.Kind, e.Code, tt.kind, tt.code)
			}
			if tt.kind == errors.KindHostFailure && !errors.Is(err, boom) {
				t.Errorf("host failure does not wrap its cause: %v", err)
			}
			if inst.Stack().Len() != 0 {
				t.Errorf("stack holds %d entries after the trap", inst.Stack().Len())
			}
		})
	}
}

func TestLinkErrors(t *testing.T) {
	m, err := wasm.ParseModule(hostModule().Bytes())
	if err != nil {
		t.Fatal(err)
	}

	_, err = Instantiate(context.Background(), m, nil, nil)
	var missing *errors.MissingImportsError
	if !errors.As(err, &missing) || len(missing.Imports) != 1 || missing.Imports[0].Name != "double" {
		t.Errorf("Instantiate without imports error = %v, want missing env#double", err)
	}

	wrong := NewImports().Func("env", "double", sig(types(i64), i64), nil)
	_, err = Instantiate(context.Background(), m, wrong, nil)
	if e, ok := errors.AsError(err); !ok || e.Phase != errors.PhaseLink || e.Kind != errors.KindMismatch {
		t.Errorf("Instantiate with wrong signature error = %v, want link mismatch", err)
	}
}

func TestCallIndirect(t *testing.T) {
	b := wasm.NewBuilder()
	binary := sig(types(i32, i32), i32)
	add := b.Func("", binary, nil, wasm.LocalGet(0), wasm.LocalGet(1), wasm.Op(wasm.OpI32Add))
	seven := b.Func("", sig(nil, i32), nil, wasm.I32Const(7))
	b.Table(3)
	b.Elements(0, add, seven)
	b.Func("dispatch", sig(types(i32), i32), nil,
		wasm.I32Const(2), wasm.I32Const(3), wasm.LocalGet(0),
		wasm.CallIndirect(b.Type(binary)))
	inst := instantiate(t, b, nil, nil)

	if got := invoke1(t, inst, "dispatch", I32(0)); got != I32(5) {
		t.Errorf("dispatch(0) = %v, want 5", got)
	}

	tests := []struct {
		elem int32
		kind errors.Kind
	}{
		{1, errors.KindIndirectCallTypeMismatch},
		{2, errors.KindUninitializedElement},
		{3, errors.KindUndefinedElement},
		{-1, errors.KindUndefinedElement},
	}
	for _, tt := range tests {
		_, err := inst.Invoke(context.Background(), "dispatch", I32(tt.elem))
		if got := errors.KindOf(err); got != tt.kind {
			t.Errorf("dispatch(%d) error kind = %q, want %q", tt.elem, got, tt.kind)
		}
	}
	if inst.Stack().Len() != 0 {
		t.Errorf("stack holds %d entries after traps", inst.Stack().Len())
	}
}

func TestCallDepthLimit(t *testing.T) {
	b := wasm.NewBuilder()
	b.Func("loop", sig(nil), nil, wasm.Call(0))
	b.Func("one", sig(nil, i32), nil, wasm.I32Const(1))
	inst := instantiate(t, b, nil, &Config{MaxCallDepth: 50})

	_, err := inst.Invoke(context.Background(), "loop")
	if !errors.Is(err, ErrCallStackExhausted) {
		t.Fatalf("error = %v, want call stack exhausted", err)
	}
	if inst.Stack().Len() != 0 || inst.depth != 0 {
		t.Errorf("after trap: stack %d entries, depth %d", inst.Stack().Len(), inst.depth)
	}
	if got := invoke1(t, inst, "one"); got != I32(1) {
		t.Errorf("instance unusable after trap: one() = %v", got)
	}
}

func TestUnreachable(t *testing.T) {
	b := wasm.NewBuilder()
	b.Func("boom", sig(nil, i32), nil, wasm.I32Const(1), wasm.Op(wasm.OpUnreachable))
	inst := instantiate(t, b, nil, nil)

	_, err := inst.Invoke(context.Background(), "boom")
	e := trapOf(t, err)
	if e.Kind != errors.KindUnreachable || e.Code != "unreachable" || e.Op != "unreachable" || e.Func != "boom" {
		t.Errorf("trap = %+v", e)
	}
}

func TestStartFunction(t *testing.T) {
	b := wasm.NewBuilder()
	g := b.Global("g", wasm.GlobalType{ValType: i32, Mutable: true}, wasm.ExprI32(0))
	start := b.Func("", sig(nil), nil, wasm.I32Const(42), wasm.GlobalSet(g))
	b.Start(start)
	inst := instantiate(t, b, nil, nil)

	v, err := inst.Global("g")
	if err != nil || v.Get() != I32(42) {
		t.Errorf("global after start = %v, %v, want 42", v, err)
	}

	b = wasm.NewBuilder()
	b.Start(b.Func("", sig(nil), nil, wasm.Op(wasm.OpUnreachable)))
	m, _ := wasm.ParseModule(b.Bytes())
	_, err = Instantiate(context.Background(), m, nil, nil)
	if errors.KindOf(err) != errors.KindInstantiation || !errors.Is(err, ErrUnreachable) {
		t.Errorf("trapping start error = %v, want instantiation wrapping unreachable", err)
	}
}

func TestInstantiationBounds(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *wasm.Builder)
	}{
		{"data past memory", func(b *wasm.Builder) {
			b.Memory(1, 1, "")
			b.Data(65534, []byte{1, 2, 3})
		}},
		{"data without memory", func(b *wasm.Builder) {
			b.Data(0, []byte{1})
		}},
		{"elements past table", func(b *wasm.Builder) {
			f := b.Func("", sig(nil), nil)
			b.Table(1)
			b.Elements(1, f)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := wasm.NewBuilder()
			tt.build(b)
			_, err := Instantiate(context.Background(), b.Module(), nil, nil)
			if errors.KindOf(err) != errors.KindInstantiation {
				t.Errorf("error = %v, want instantiation", err)
			}
		})
	}
}

func TestInvokeChecksArguments(t *testing.T) {
	b := wasm.NewBuilder()
	b.Func("add", sig(types(i32, i32), i32), nil,
		wasm.LocalGet(0), wasm.LocalGet(1), wasm.Op(wasm.OpI32Add))
	inst := instantiate(t, b, nil, nil)
	ctx := context.Background()

	for name, args := range map[string][]Value{
		"too few":    {I32(1)},
		"too many":   {I32(1), I32(2), I32(3)},
		"wrong type": {I32(1), I64(2)},
	} {
		_, err := inst.Invoke(ctx, "add", args...)
		if e, ok := errors.AsError(err); !ok || e.Kind != errors.KindTypeMismatch || e.Code != "invoke.args" {
			t.Errorf("%s: error = %v, want invoke.args type mismatch", name, err)
		}
	}
	if _, err := inst.Invoke(ctx, "missing"); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("Invoke(missing) error = %v, want not found", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := inst.Invoke(cancelled, "add", I32(1), I32(2)); !errors.Is(err, context.Canceled) {
		t.Errorf("Invoke with cancelled context error = %v", err)
	}
}

func TestNestedCallSeesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	double := func(_ context.Context, _ *Instance, args []Value) ([]Value, error) {
		calls++
		cancel()
		return []Value{I32(args[0].I32() * 2)}, nil
	}
	imports := NewImports().Func("env", "double", sig(types(i32), i32), double)
	inst := instantiate(t, hostModule(), imports, nil)

	if _, err := inst.Invoke(ctx, "quad", I32(5)); !errors.Is(err, context.Canceled) {
		t.Errorf("quad error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("host calls = %d, want 1", calls)
	}
	if n := inst.stack.Len(); n != 0 {
		t.Errorf("stack height after cancelled call = %d, want 0", n)
	}
}

func TestMalformedBodyTrapsAtCall(t *testing.T) {
	b := wasm.NewBuilder()
	b.Func("bad", sig(nil), nil)
	b.Func("good", sig(nil, i32), nil, wasm.I32Const(1))
	m := b.Module()
	m.Code = append([]wasm.FuncBody(nil), m.Code...)
	m.Code[0] = wasm.FuncBody{Code: []byte{0x06, wasm.OpEnd}}

	inst, err := Instantiate(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Instantiate() error: %v", err)
	}
	_, err = inst.Invoke(context.Background(), "bad")
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("error = %v, want decode error", err)
	}
	if e := trapOf(t, err); e.Code != "decode.body" || e.Func != "bad" {
		t.Errorf("Code, Func = %q, %q", e.Code, e.Func)
	}
	if got := invoke1(t, inst, "good"); got != I32(1) {
		t.Errorf("good() = %v", got)
	}
}

func TestExports(t *testing.T) {
	inst := instantiate(t, memoryModule(), nil, nil)
	exports := inst.Exports()
	if len(exports) == 0 || exports[0].Name != "mem" || exports[0].Kind != wasm.KindMemory {
		t.Errorf("Exports()[0] = %+v, want memory mem", exports[0])
	}
	fns := inst.Functions()
	if len(fns) != len(exports)-1 || fns[0].Name() != "load8_u" {
		t.Errorf("Functions() = %d handles, first %q", len(fns), fns[0].Name())
	}
	if ft := fns[0].Type(); len(ft.Params) != 1 || ft.Results[0] != i32 {
		t.Errorf("load8_u type = %v", ft)
	}
	if inst.ID().String() == "" || inst.Module() == nil {
		t.Error("instance id and module should be set")
	}
}

func TestTrapAndTraceLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	b := wasm.NewBuilder()
	b.Func("div", sig(types(i32, i32), i32), nil,
		wasm.LocalGet(0), wasm.LocalGet(1), wasm.Op(wasm.OpI32DivS))
	inst := instantiate(t, b, nil, &Config{Logger: zap.New(core), Trace: true})

	if _, err := inst.Invoke(context.Background(), "div", I32(1), I32(0)); !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("error = %v, want divide by zero", err)
	}
	traps := logs.FilterMessage("trap").All()
	if len(traps) != 1 {
		t.Fatalf("trap log entries = %d, want 1", len(traps))
	}
	fields := traps[0].ContextMap()
	if fields["code"] != "binop.div_s.zero" || fields["func"] != "div" || fields["instance"] != inst.ID().String() {
		t.Errorf("trap fields = %v", fields)
	}
	if n := logs.FilterMessage("exec").Len(); n != 3 {
		t.Errorf("exec trace entries = %d, want 3", n)
	}
}
