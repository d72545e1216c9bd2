package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/reference"
	"github.com/wippyai/wasm-interp/runtime"
	"github.com/wippyai/wasm-interp/script"
	"github.com/wippyai/wasm-interp/wasm"
)

type options struct {
	wasmFile    string
	funcName    string
	args        string
	scriptFile  string
	list        bool
	compare     bool
	interactive bool
	verbose     bool
	trace       bool
	maxDepth    int
	memLimit    uint
}

func main() {
	var o options
	flag.StringVar(&o.wasmFile, "wasm", "", "Path to core module wasm file")
	flag.StringVar(&o.funcName, "func", "", "Exported function to call")
	flag.StringVar(&o.args, "args", "", "Comma-separated argument literals (1,0x10,-2.5,nan)")
	flag.StringVar(&o.scriptFile, "script", "", "Run a YAML invocation script")
	flag.BoolVar(&o.list, "list", false, "List exports and exit")
	flag.BoolVar(&o.compare, "compare", false, "Also run the call on the wazero reference and compare")
	flag.BoolVar(&o.interactive, "i", false, "Interactive mode with TUI")
	flag.BoolVar(&o.verbose, "v", false, "Development logging")
	flag.BoolVar(&o.trace, "trace", false, "Log every executed opcode (implies -v)")
	flag.IntVar(&o.maxDepth, "max-depth", engine.DefaultMaxCallDepth, "Maximum call depth")
	flag.UintVar(&o.memLimit, "mem-limit", uint(engine.DefaultMemoryLimitPages), "Memory limit in 64KiB pages")
	flag.Parse()

	if o.wasmFile == "" && o.scriptFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <file.wasm> [-func name] [-args 1,2] [-compare]")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "       run -script <file.yaml>")
		os.Exit(1)
	}

	log, err := newLogger(o.verbose || o.trace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	engine.SetLogger(log)

	if o.interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: -i needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(o); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(context.Background(), o, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewNop(), nil
}

func (o options) config() runtime.Config {
	cfg := runtime.DefaultConfig()
	cfg.Engine.MaxCallDepth = o.maxDepth
	cfg.Engine.MemoryLimitPages = uint32(o.memLimit)
	cfg.Engine.Trace = o.trace
	return cfg
}

// newRuntime creates a runtime with the spectest host module registered.
func newRuntime(ctx context.Context, o options, out io.Writer) (*runtime.Runtime, error) {
	rt, err := runtime.NewWithConfig(ctx, o.config())
	if err != nil {
		return nil, err
	}
	if err := registerSpectest(rt, out); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func run(ctx context.Context, o options, out io.Writer) error {
	rt, err := newRuntime(ctx, o, out)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	if o.scriptFile != "" {
		return runScript(ctx, rt, o.scriptFile, out)
	}

	data, err := os.ReadFile(o.wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	mod, err := rt.LoadWASM(ctx, data)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	fmt.Fprintf(out, "Module: %s\n", o.wasmFile)
	fmt.Fprintf(out, "Imports: %d\n", len(mod.Wasm().Imports))
	fmt.Fprintf(out, "\nExports:\n")
	var funcs []string
	for _, exp := range mod.Exports() {
		if exp.Kind == "func" {
			funcs = append(funcs, exp.Name)
			fmt.Fprintf(out, "  %s %s\n", exp.Name, exp.Type)
		} else {
			fmt.Fprintf(out, "  %s (%s)\n", exp.Name, exp.Kind)
		}
	}
	if o.list {
		return nil
	}

	funcName := o.funcName
	if funcName == "" {
		funcName = entryPoint(funcs)
		if funcName == "" {
			fmt.Fprintf(out, "\nNo function specified and no common entry point found.\n")
			fmt.Fprintf(out, "Use -func to specify a function to call.\n")
			return nil
		}
	}

	ft, err := mod.FuncType(funcName)
	if err != nil {
		return err
	}
	args, err := parseArgs(ft.Params, o.args)
	if err != nil {
		return fmt.Errorf("arguments of %s: %w", funcName, err)
	}

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}
	defer inst.Close(ctx)

	fmt.Fprintf(out, "\nCalling %s(%s)...\n", funcName, formatValues(args, ", "))
	results, err := inst.CallValues(ctx, funcName, args...)
	if err != nil {
		fmt.Fprintf(out, "Trap: %v\n", err)
	} else {
		fmt.Fprintf(out, "Result: %s\n", formatValues(results, " "))
	}

	if o.compare {
		return compare(ctx, rt, mod, data, funcName, args, out)
	}
	return err
}

// entryPoint picks a conventional entry point, or the only export.
func entryPoint(funcs []string) string {
	for _, name := range []string{"_start", "run", "main"} {
		for _, f := range funcs {
			if f == name {
				return name
			}
		}
	}
	if len(funcs) == 1 {
		return funcs[0]
	}
	return ""
}

// compare repeats the call on a fresh engine instance and on the reference.
func compare(ctx context.Context, rt *runtime.Runtime, mod *runtime.Module, data []byte, funcName string, args []engine.Value, out io.Writer) error {
	imports, err := rt.Hosts().Bind(mod.Wasm())
	if err != nil {
		return err
	}
	cfg := rt.Config().Engine
	diffs, err := reference.Run(ctx, data, imports, cfg, []reference.Call{{Func: funcName, Args: args}})
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}
	if len(diffs) == 0 {
		fmt.Fprintln(out, "Reference: agrees")
		return nil
	}
	for _, d := range diffs {
		fmt.Fprintf(out, "Reference: %v\n", d)
	}
	return fmt.Errorf("%d disagreements with reference", len(diffs))
}

func runScript(ctx context.Context, rt *runtime.Runtime, path string, out io.Writer) error {
	s, err := script.Load(path)
	if err != nil {
		return err
	}
	rep, err := script.Exec(ctx, rt, s)
	if err != nil {
		return err
	}
	for _, res := range rep.Results {
		status := "ok  "
		if !res.Passed() {
			status = "FAIL"
		}
		fmt.Fprintf(out, "%s %s:%d %s", status, path, res.Step.Line, res.Step)
		if !res.Passed() {
			fmt.Fprintf(out, ": %s", res.Failure)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "%d/%d passed\n", len(rep.Results)-rep.Failed(), len(rep.Results))
	return rep.Err()
}

// parseArgs parses comma-separated literals against the parameter types.
func parseArgs(params []wasm.ValType, s string) ([]engine.Value, error) {
	var lits []string
	if s = strings.TrimSpace(s); s != "" {
		lits = strings.Split(s, ",")
	}
	if len(lits) != len(params) {
		return nil, fmt.Errorf("got %d arguments, want %d", len(lits), len(params))
	}
	args := make([]engine.Value, len(lits))
	for i, lit := range lits {
		v, err := engine.ParseValueAs(params[i], strings.TrimSpace(lit))
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func formatValues(vals []engine.Value, sep string) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return strings.Join(parts, sep)
}
