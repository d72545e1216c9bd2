// Package runtime provides the high-level API over the interpreter.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	// Load a core module
//	mod, err := rt.LoadWASM(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create an instance
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	// Call exported functions
//	result, err := inst.Call(ctx, "add", 3, 4)
//	fmt.Println(result) // 7
//
// # Host Functions
//
// Register Go functions under an import module name:
//
//	rt.RegisterFunc("env", "print_i32", func(ctx context.Context, v int32) {
//	    fmt.Println(v)
//	})
//
//	// Or implement the Host interface for a full namespace
//	rt.RegisterHost(myEnv)
//
// A handler may take a leading context.Context and then an
// *engine.Instance to reach linear memory. A trailing error result aborts
// the call; returning an *errors.Error trap kind passes the trap through.
//
// # Type Mapping
//
//	Go Type          Wasm Type
//	───────────────────────────
//	int32/uint32     i32
//	bool             i32 (0 or 1)
//	int64/uint64     i64
//	float32          f32
//	float64          f64
//
// Instance.Call accepts any Go integer that fits the parameter type,
// floats for float parameters, engine.Value, and strings parsed as
// literals ("0x10", "nan", "-inf").
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. You can call
// Module.Instantiate() from multiple goroutines concurrently.
//
// Instance is NOT thread-safe. Each goroutine should have its own
// Instance, or access must be synchronized externally.
//
// # Memory
//
// WASM linear memory can only grow, never shrink. Config.Engine.MemoryLimitPages
// caps growth for every instance of a runtime.
package runtime
