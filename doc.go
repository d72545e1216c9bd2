// Package wasminterp provides a pure Go interpreter for WebAssembly core modules.
//
// The library executes decoded modules directly on an operand stack with
// structured-control labels, a typed numeric value model and a growable
// linear memory. No code is compiled to the host; every opcode is dispatched
// through a static table of generic operator contracts.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasminterp/          Root package with core Memory interfaces
//	├── wasm/            Binary decoding, instruction codec, module builder, validation
//	├── engine/          Interpreter core: values, stack, memory, operators, control flow
//	├── runtime/         High-level API for loading modules and calling exports
//	├── reference/       Differential oracle backed by wazero
//	├── script/          YAML invocation scripts with expected results and traps
//	├── errors/          Structured error and trap types
//	└── cmd/run/         Command line runner and interactive TUI
//
// # Quick Start
//
// Load and run a module:
//
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mod, err := rt.LoadWASM(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	results, err := inst.Call(ctx, "add", int32(3), int32(4))
//	fmt.Println(results) // 7
//
// # Traps
//
// Every trap aborts the call in progress and is returned as an *errors.Error
// in the execute phase. Use errors.Is against the sentinels exported by the
// engine package:
//
//	if errors.Is(err, engine.ErrDivideByZero) {
//	    ...
//	}
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. Instance is NOT thread-safe:
// execution is strictly single-threaded and an instance must be driven by one
// goroutine at a time.
//
// # Memory Model
//
// WASM linear memory can only grow, never shrink. Growth beyond the declared
// maximum fails without changing the memory.
package wasminterp
