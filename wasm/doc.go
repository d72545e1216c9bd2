// Package wasm provides WebAssembly binary format parsing and encoding.
//
// It covers the core module format: WebAssembly 1.0 plus sign-extension,
// non-trapping float-to-int conversion, bulk memory and multi-value block
// types. SIMD, threads, GC and exception handling encodings are rejected.
//
// # Parsing
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//
// Parse with structural validation:
//
//	module, err := wasm.ParseModuleValidate(data)
//
// Custom sections are kept verbatim; a custom section whose name is
// malformed is dropped without failing the parse.
//
// # Instructions
//
// Function bodies are stored as raw bytes. DecodeInstructions turns them into
// []Instruction, each carrying its opcode, typed immediate and byte offset:
//
//	instrs, err := wasm.DecodeInstructions(module.Code[0].Code)
//	for _, in := range instrs {
//	    fmt.Println(in.Offset, in.Name())
//	}
//
// # Building modules
//
// Builder assembles modules in Go, which is how tests and tools produce
// binaries without a text format:
//
//	b := wasm.NewBuilder()
//	b.Func("add", wasm.FuncType{
//	    Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
//	    Results: []wasm.ValType{wasm.ValI32},
//	}, nil,
//	    wasm.LocalGet(0), wasm.LocalGet(1), wasm.Op(wasm.OpI32Add))
//	bin := b.Bytes()
package wasm
