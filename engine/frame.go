package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// frame is the execution context of one call: its locals, the instruction
// cursor and the stack height at entry.
type frame struct {
	ctx    context.Context
	inst   *Instance
	stack  *Stack
	fn     *function
	code   *body
	locals []Value
	pc     int
	base   int
	// depth counts the labels this frame has pushed.
	depth int
}

// handler executes one instruction. f.pc already points past it.
type handler func(f *frame, in *wasm.Instruction) error

// run executes instructions until the body is exhausted. Returning from the
// function moves the cursor past the end of the body.
func (f *frame) run() error {
	instrs := f.code.instrs
	trace := f.inst != nil && f.inst.cfg.Trace
	for f.pc < len(instrs) {
		in := &instrs[f.pc]
		f.pc++
		if trace {
			f.inst.log.Debug("exec",
				zap.String("func", f.fn.name),
				zap.Int("offset", in.Offset),
				zap.String("op", in.Name()),
				zap.Int("stack", f.stack.Len()),
				zap.Int("depth", f.depth),
			)
		}
		h := handlers[in.Opcode]
		if h == nil {
			return f.fail(errors.Malformed("dispatch", in.Offset, wasm.ErrUnknownOpcode), in)
		}
		if err := h(f, in); err != nil {
			return f.fail(err, in)
		}
	}
	return nil
}

// fail annotates a trap with the instruction and function it was raised in.
func (f *frame) fail(err error, in *wasm.Instruction) error {
	e, ok := errors.AsError(err)
	if !ok {
		return err
	}
	if e.Op != "" && e.Func != "" {
		return err
	}
	c := *e
	if c.Op == "" {
		c.Op = in.Name()
	}
	if c.Func == "" && f.fn != nil {
		c.Func = f.fn.name
	}
	return &c
}

// ret leaves the function: the results stay on top, everything the frame
// pushed below them is dropped and the cursor moves past the body.
func (f *frame) ret() error {
	if err := f.stack.Unwind(f.base, len(f.fn.typ.Results)); err != nil {
		return err
	}
	f.depth = 0
	f.pc = len(f.code.instrs)
	return nil
}

// branch transfers control to the label depth levels out. A branch to the
// function's own label returns.
func (f *frame) branch(depth uint32) error {
	if int(depth) >= f.depth {
		return f.ret()
	}
	l, err := f.stack.Branch(int(depth))
	if err != nil {
		return err
	}
	f.depth -= int(depth) + 1
	f.pc = l.Cont
	return nil
}

func (f *frame) pop(t wasm.ValType) (Value, error) {
	return f.stack.PopTyped(t)
}

func (f *frame) push(v Value) {
	f.stack.Push(v)
}

func (f *frame) memory() (*Memory, error) {
	if f.inst == nil || f.inst.mem == nil {
		return nil, errors.New(errors.PhaseExecute, errors.KindOutOfBounds).
			Code("memory.missing").
			Detail("instance has no memory").
			Build()
	}
	return f.inst.mem, nil
}
