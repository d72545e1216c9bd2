// Package errors provides structured error types for the interpreter.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Traps raised while executing code always carry PhaseExecute, the static name of
// the opcode that raised them and a stable site code such as "binop.div_s.overflow".
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseExecute, errors.KindTypeMismatch).
//		Op("i32.add").
//		Code("binop.operand").
//		Want("i32").
//		Got("f64").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Trap(errors.KindDivideByZero, "binop.div_u.zero")
//	err := errors.OutOfBounds("load.bounds", addr, 4, size)
//
// All errors implement the standard error interface and support errors.Is/As.
// Error.Is matches on Phase and Kind only, so a zero-detail sentinel such as
// &Error{Phase: PhaseExecute, Kind: KindDivideByZero} matches every trap of that kind.
package errors
