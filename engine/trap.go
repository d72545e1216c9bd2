package engine

import (
	"strings"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Trap sentinels for errors.Is. A trap matches its sentinel by kind.
var (
	ErrTypeMismatch             = errors.Trap(errors.KindTypeMismatch, "")
	ErrStackUnderflow           = errors.Trap(errors.KindStackUnderflow, "")
	ErrDivideByZero             = errors.Trap(errors.KindDivideByZero, "")
	ErrDivideOverflow           = errors.Trap(errors.KindDivideOverflow, "")
	ErrOutOfBounds              = errors.Trap(errors.KindOutOfBounds, "")
	ErrDecode                   = errors.Trap(errors.KindDecode, "")
	ErrUnreachable              = errors.Trap(errors.KindUnreachable, "")
	ErrInvalidConversion        = errors.Trap(errors.KindInvalidConversion, "")
	ErrIntegerOverflow          = errors.Trap(errors.KindIntegerOverflow, "")
	ErrCallStackExhausted       = errors.Trap(errors.KindCallStackExhausted, "")
	ErrUndefinedElement         = errors.Trap(errors.KindUndefinedElement, "")
	ErrUninitializedElement     = errors.Trap(errors.KindUninitializedElement, "")
	ErrIndirectCallTypeMismatch = errors.Trap(errors.KindIndirectCallTypeMismatch, "")
	ErrHostFailure              = errors.Trap(errors.KindHostFailure, "")
)

// Reason suffixes of arithmetic trap codes.
var trapReasons = map[errors.Kind]string{
	errors.KindDivideByZero:      "zero",
	errors.KindDivideOverflow:    "overflow",
	errors.KindInvalidConversion: "nan",
	errors.KindIntegerOverflow:   "range",
}

// shortName strips the type prefix of an opcode name: "i32.div_s" -> "div_s".
func shortName(in *wasm.Instruction) string {
	name := in.Name()
	if _, rest, ok := strings.Cut(name, "."); ok {
		return rest
	}
	return name
}

// siteCode builds the stable code of a trap raised by contract at in.
func siteCode(contract string, in *wasm.Instruction, reason string) string {
	return contract + "." + shortName(in) + "." + reason
}

// arithTrap converts a sentinel returned by a numeric function into a trap
// located at in.
func arithTrap(contract string, in *wasm.Instruction, err error) error {
	kind := errors.KindOf(err)
	reason, ok := trapReasons[kind]
	if !ok {
		return err
	}
	return errors.New(errors.PhaseExecute, kind).
		Op(in.Name()).
		Code(siteCode(contract, in, reason)).
		Build()
}

// operandTrap re-codes a stack error raised while popping an operand.
func operandTrap(contract string, in *wasm.Instruction, err error) error {
	e, ok := errors.AsError(err)
	if !ok {
		return err
	}
	c := *e
	c.Op = in.Name()
	c.Code = siteCode(contract, in, "operand")
	return &c
}

func typeName(t wasm.ValType) string { return t.String() }
