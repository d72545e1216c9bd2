package engine

import (
	"fmt"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Apply executes a single instruction against s outside of any function.
// Only instructions that touch nothing but the operand stack are accepted:
// numeric operators, conversions, constants, drop, select and nop. On a trap
// the operands have been consumed and no result is pushed.
func Apply(s *Stack, in wasm.Instruction) error {
	if !isPure(&in) {
		return errors.Unsupported(errors.PhaseExecute, fmt.Sprintf("%s requires an instance", in.Name()))
	}
	f := &frame{stack: s}
	return f.fail(handlers[in.Opcode](f, &in), &in)
}

func isPure(in *wasm.Instruction) bool {
	if in.Opcode == wasm.OpPrefixMisc {
		imm, ok := in.Imm.(wasm.MiscImm)
		return ok && isPureMisc(imm.SubOpcode)
	}
	return pure[in.Opcode]
}

// Eval applies the immediate-free operator op to args and returns its single
// result.
func Eval(op byte, args ...Value) (Value, error) {
	s := NewStack()
	for _, a := range args {
		s.Push(a)
	}
	if err := Apply(s, wasm.Instruction{Opcode: op}); err != nil {
		return Value{}, err
	}
	return s.PopValue()
}
