// Package engine is a WebAssembly interpreter for core modules.
//
// Instructions are dispatched through a table indexed by opcode. Most
// entries are built from a handful of generic operator contracts, each
// parameterized by the operand type and a pure function:
//
//	Contract   Stack effect                          Traps
//	──────────────────────────────────────────────────────────────────
//	unop       pop T, push T                         operand type
//	binop      pop b then a (both T), push T         operand type, div/rem
//	relop      pop b then a (both T), push i32 0/1   operand type
//	cvtop      pop T1, push T2                       NaN, out of range
//	memop      pop address (and value), access       end address > size
//
// # Instantiation and Calls
//
//	m, err := wasm.ParseModule(bin)
//	inst, err := engine.Instantiate(ctx, m, imports, nil)
//	results, err := inst.Invoke(ctx, "add", engine.I32(3), engine.I32(4))
//
// All calls into an instance share one operand stack. Blocks push a Label
// that records the branch arity and continuation; end removes it and keeps
// the values produced above it. A function returns when its instruction
// stream is exhausted at label depth 0, or earlier through return or a
// branch to its outermost label.
//
// # Traps
//
// Every trap is an *errors.Error in PhaseExecute carrying the opcode name
// (Op), a stable site code (Code, for example "binop.div_s.overflow") and
// the executing function. A trap aborts the whole call and the stack is
// restored to its height before the call. Sentinels such as
// ErrDivideByZero match with errors.Is.
//
// # Standalone Operators
//
// Apply and Eval run a single stack-only instruction without an instance,
// which is how the operator contracts are exercised in isolation:
//
//	v, err := engine.Eval(wasm.OpI32Add, engine.I32(3), engine.I32(4))
//
// An Instance is not safe for concurrent use.
package engine
