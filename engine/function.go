package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// function is an entry of an instance's function index space.
type function struct {
	typ  *wasm.FuncType
	host *HostFunction
	def  *wasm.FuncBody
	code *body
	err  error
	name string
	idx  uint32
}

// body is a decoded function body with its block structure resolved.
type body struct {
	instrs []wasm.Instruction
	// ends maps the index of block, loop, if and else to the index of the
	// matching end. elses maps an if to its else, or -1.
	ends   []int
	elses  []int
	locals []wasm.ValType
}

// compiled decodes the function body on first use. Failures are sticky.
func (fn *function) compiled() (*body, error) {
	if fn.code != nil || fn.err != nil {
		return fn.code, fn.err
	}
	fn.code, fn.err = compile(fn.def)
	return fn.code, fn.err
}

func compile(def *wasm.FuncBody) (*body, error) {
	instrs, err := wasm.DecodeInstructions(def.Code)
	if err != nil {
		pos := 0
		if ie, ok := err.(*wasm.InstructionError); ok {
			pos = ie.Offset
		}
		return nil, errors.Malformed("decode.body", pos, err)
	}

	b := &body{
		instrs: instrs,
		ends:   make([]int, len(instrs)),
		elses:  make([]int, len(instrs)),
	}
	for _, l := range def.Locals {
		for j := uint32(0); j < l.Count; j++ {
			b.locals = append(b.locals, l.ValType)
		}
	}

	var open []int
	for i := range instrs {
		b.ends[i], b.elses[i] = -1, -1
		switch instrs[i].Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			open = append(open, i)
		case wasm.OpElse:
			if len(open) == 0 || instrs[open[len(open)-1]].Opcode != wasm.OpIf {
				return nil, errors.Malformed("decode.else", instrs[i].Offset, fmt.Errorf("else without if"))
			}
			b.elses[open[len(open)-1]] = i
		case wasm.OpEnd:
			if len(open) == 0 {
				if i != len(instrs)-1 {
					return nil, errors.Malformed("decode.end", instrs[i].Offset, fmt.Errorf("instructions after final end"))
				}
				continue
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			b.ends[start] = i
			if e := b.elses[start]; e >= 0 {
				b.ends[e] = i
			}
		}
	}
	if len(open) != 0 {
		return nil, errors.Malformed("decode.block", len(def.Code), fmt.Errorf("%d unterminated blocks", len(open)))
	}
	return b, nil
}

// Function is a callable handle to a function of an instance.
type Function struct {
	inst *Instance
	fn   *function
}

// Name returns the export name, or "func[N]" for unexported functions.
func (f *Function) Name() string { return f.fn.name }

// Type returns the function's signature.
func (f *Function) Type() wasm.FuncType { return *f.fn.typ }

// Call invokes the function. Arguments must match the parameter types in
// number and type. A trap aborts the call, restores the stack to its height
// before the call and is returned as an *errors.Error.
func (f *Function) Call(ctx context.Context, args ...Value) ([]Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ft := f.fn.typ
	if len(args) != len(ft.Params) {
		return nil, errors.New(errors.PhaseExecute, errors.KindTypeMismatch).
			Code("invoke.args").
			Func(f.fn.name).
			Want(fmt.Sprintf("%d arguments", len(ft.Params))).
			Got(fmt.Sprintf("%d arguments", len(args))).
			Build()
	}
	for i, a := range args {
		if a.typ != ft.Params[i] {
			return nil, errors.New(errors.PhaseExecute, errors.KindTypeMismatch).
				Code("invoke.args").
				Func(f.fn.name).
				Want(typeName(ft.Params[i])).
				Got(typeName(a.typ)).
				Detail("argument %d", i).
				Build()
		}
	}

	inst := f.inst
	height := inst.stack.Len()
	for _, a := range args {
		inst.stack.Push(a)
	}
	if err := inst.call(ctx, f.fn); err != nil {
		inst.stack.Truncate(height)
		inst.logTrap(err)
		return nil, err
	}

	results := make([]Value, len(ft.Results))
	for i := len(results) - 1; i >= 0; i-- {
		v, err := inst.stack.PopTyped(ft.Results[i])
		if err != nil {
			inst.stack.Truncate(height)
			return nil, err
		}
		results[i] = v
	}
	inst.stack.Truncate(height)
	return results, nil
}

func (inst *Instance) logTrap(err error) {
	e, ok := errors.AsError(err)
	if !ok {
		inst.log.Debug("call failed", zap.Error(err))
		return
	}
	inst.log.Debug("trap",
		zap.String("kind", string(e.Kind)),
		zap.String("op", e.Op),
		zap.String("code", e.Code),
		zap.String("func", e.Func),
	)
}

// call runs fn with its arguments on top of the stack and leaves its results
// there.
func (inst *Instance) call(ctx context.Context, fn *function) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if inst.depth >= inst.cfg.MaxCallDepth {
		return errors.New(errors.PhaseExecute, errors.KindCallStackExhausted).
			Code("call.depth").
			Func(fn.name).
			Detail("call depth exceeds %d", inst.cfg.MaxCallDepth).
			Build()
	}
	inst.depth++
	defer func() { inst.depth-- }()

	if fn.host != nil {
		return inst.callHost(ctx, fn)
	}

	code, err := fn.compiled()
	if err != nil {
		if e, ok := errors.AsError(err); ok && e.Func == "" {
			c := *e
			c.Func = fn.name
			return &c
		}
		return err
	}

	params := fn.typ.Params
	locals := make([]Value, len(params)+len(code.locals))
	for i := len(params) - 1; i >= 0; i-- {
		v, err := inst.stack.PopTyped(params[i])
		if err != nil {
			return err
		}
		locals[i] = v
	}
	for i, t := range code.locals {
		locals[len(params)+i] = Zero(t)
	}

	f := &frame{
		ctx:    ctx,
		inst:   inst,
		stack:  inst.stack,
		fn:     fn,
		code:   code,
		locals: locals,
		base:   inst.stack.Len(),
	}
	if err := f.run(); err != nil {
		return err
	}
	return inst.stack.Unwind(f.base, len(fn.typ.Results))
}
