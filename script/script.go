// Package script runs YAML invocation scripts against an instance.
//
// A script names a module and lists steps. Each step invokes an export and
// states what it must produce, or checks a range of linear memory:
//
//	module: math.wasm
//	steps:
//	  - invoke: add
//	    args: [1, 2]
//	    expect: [3]
//	  - invoke: div
//	    args: [1, 0]
//	    trap: divide_by_zero
//	  - memory: {offset: 16, hex: "68656c6c6f"}
//
// Arguments and expected results are literals of the function's parameter
// and result types, as accepted by engine.ParseValueAs. An expected "nan"
// matches any NaN.
package script

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/runtime"
	"github.com/wippyai/wasm-interp/wasm"
)

// Script is a parsed invocation script.
type Script struct {
	// Module is the path of the module binary, relative to the script.
	Module string `yaml:"module"`

	Steps []Step `yaml:"steps"`

	path string
}

// Step is one invocation or memory check.
type Step struct {
	Invoke string   `yaml:"invoke,omitempty"`
	Args   []string `yaml:"args,omitempty"`

	// Expect lists the results. Nil means any results are accepted.
	Expect []string `yaml:"expect,omitempty"`

	// Trap is the trap kind the invocation must raise.
	Trap string `yaml:"trap,omitempty"`

	Memory *MemoryCheck `yaml:"memory,omitempty"`

	// Line is the step's line in the script file.
	Line int `yaml:"-"`
}

// MemoryCheck compares linear memory at Offset with hex-encoded bytes.
type MemoryCheck struct {
	Offset uint32 `yaml:"offset"`
	Hex    string `yaml:"hex"`
}

// UnmarshalYAML records the step's line.
func (s *Step) UnmarshalYAML(n *yaml.Node) error {
	type plain Step
	if err := n.Decode((*plain)(s)); err != nil {
		return err
	}
	s.Line = n.Line
	return nil
}

func (s Step) String() string {
	if s.Memory != nil {
		return fmt.Sprintf("memory[%d]", s.Memory.Offset)
	}
	return s.Invoke + "(" + strings.Join(s.Args, ", ") + ")"
}

var trapKinds = map[errors.Kind]bool{
	errors.KindTypeMismatch:             true,
	errors.KindStackUnderflow:           true,
	errors.KindDivideByZero:             true,
	errors.KindDivideOverflow:           true,
	errors.KindOutOfBounds:              true,
	errors.KindDecode:                   true,
	errors.KindUnreachable:              true,
	errors.KindInvalidConversion:        true,
	errors.KindIntegerOverflow:          true,
	errors.KindCallStackExhausted:       true,
	errors.KindUndefinedElement:         true,
	errors.KindUninitializedElement:     true,
	errors.KindIndirectCallTypeMismatch: true,
	errors.KindHostFailure:              true,
}

// Load reads and parses a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseScript, errors.KindNotFound, err, "read "+path)
	}
	return Parse(data, path)
}

// Parse parses script content. path locates the module and appears in
// error messages.
func Parse(data []byte, path string) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(errors.PhaseScript, errors.KindInvalidInput, err, "parse "+path)
	}
	s.path = path
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Script) validate() error {
	fail := func(st Step, format string, args ...any) error {
		return errors.InvalidInput(errors.PhaseScript,
			fmt.Sprintf("%s:%d: ", s.path, st.Line)+fmt.Sprintf(format, args...))
	}
	if len(s.Steps) == 0 {
		return errors.InvalidInput(errors.PhaseScript, s.path+": no steps")
	}
	for _, st := range s.Steps {
		switch {
		case st.Invoke == "" && st.Memory == nil:
			return fail(st, "step needs invoke or memory")
		case st.Invoke != "" && st.Memory != nil:
			return fail(st, "step has both invoke and memory")
		case st.Trap != "" && st.Expect != nil:
			return fail(st, "step has both trap and expect")
		case st.Trap != "" && !trapKinds[errors.Kind(st.Trap)]:
			return fail(st, "unknown trap kind %q", st.Trap)
		}
		if st.Memory != nil {
			if _, err := hex.DecodeString(st.Memory.Hex); err != nil {
				return fail(st, "memory hex: %v", err)
			}
		}
	}
	return nil
}

// Path returns the file the script was parsed from.
func (s *Script) Path() string {
	return s.path
}

// ModulePath resolves Module against the script's directory.
func (s *Script) ModulePath() string {
	if s.Module == "" || filepath.IsAbs(s.Module) {
		return s.Module
	}
	return filepath.Join(filepath.Dir(s.path), s.Module)
}

// Result is the outcome of one step. Failure is empty when it passed.
type Result struct {
	Step    Step
	Got     []engine.Value
	Err     error
	Failure string
}

// Passed reports whether the step matched its expectation.
func (r Result) Passed() bool {
	return r.Failure == ""
}

// Report collects the results of a run.
type Report struct {
	Path    string
	Results []Result
}

// Failed returns the number of failed steps.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Passed() {
			n++
		}
	}
	return n
}

// Err returns a script error summarizing the failures, or nil.
func (r *Report) Err() error {
	n := r.Failed()
	if n == 0 {
		return nil
	}
	var first Result
	for _, res := range r.Results {
		if !res.Passed() {
			first = res
			break
		}
	}
	return errors.New(errors.PhaseScript, errors.KindMismatch).
		Got(fmt.Sprintf("%d of %d steps failed", n, len(r.Results))).
		Detail("%s:%d: %s: %s", r.Path, first.Step.Line, first.Step, first.Failure).
		Build()
}

// Exec loads the script's module into rt, instantiates it and runs the
// script against the instance.
func Exec(ctx context.Context, rt *runtime.Runtime, s *Script) (*Report, error) {
	if s.Module == "" {
		return nil, errors.InvalidInput(errors.PhaseScript, s.path+": no module")
	}
	bin, err := os.ReadFile(s.ModulePath())
	if err != nil {
		return nil, errors.Wrap(errors.PhaseScript, errors.KindNotFound, err, "read module")
	}
	mod, err := rt.LoadWASM(ctx, bin)
	if err != nil {
		return nil, err
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		return nil, err
	}
	defer inst.Close(ctx)
	return Run(ctx, inst, s), nil
}

// Run executes every step against inst in order.
func Run(ctx context.Context, inst *runtime.Instance, s *Script) *Report {
	log := inst.Engine().Logger()
	rep := &Report{Path: s.path}
	for _, st := range s.Steps {
		var res Result
		if st.Memory != nil {
			res = checkMemory(inst, st)
		} else {
			res = invoke(ctx, inst, st)
		}
		if !res.Passed() {
			log.Debug("script step failed",
				zap.String("script", s.path),
				zap.Int("line", st.Line),
				zap.String("step", st.String()),
				zap.String("failure", res.Failure),
			)
		}
		rep.Results = append(rep.Results, res)
	}
	return rep
}

func invoke(ctx context.Context, inst *runtime.Instance, st Step) Result {
	res := Result{Step: st}
	fn, err := inst.Engine().Func(st.Invoke)
	if err != nil {
		res.Err = err
		res.Failure = err.Error()
		return res
	}
	ft := fn.Type()
	if len(st.Args) != len(ft.Params) {
		res.Failure = fmt.Sprintf("%d arguments for %s", len(st.Args), ft)
		return res
	}
	args := make([]engine.Value, len(st.Args))
	for i, lit := range st.Args {
		v, err := engine.ParseValueAs(ft.Params[i], lit)
		if err != nil {
			res.Failure = fmt.Sprintf("argument %d: %v", i, err)
			return res
		}
		args[i] = v
	}

	res.Got, res.Err = fn.Call(ctx, args...)

	switch {
	case st.Trap != "":
		if res.Err == nil {
			res.Failure = fmt.Sprintf("want trap %s, got %s", st.Trap, format(res.Got))
		} else if kind := errors.KindOf(res.Err); !errors.IsTrap(res.Err) || kind != errors.Kind(st.Trap) {
			res.Failure = fmt.Sprintf("want trap %s, got %v", st.Trap, res.Err)
		}
	case res.Err != nil:
		res.Failure = res.Err.Error()
	case st.Expect != nil:
		res.Failure = compareResults(ft.Results, st.Expect, res.Got)
	}
	return res
}

func compareResults(types []wasm.ValType, expect []string, got []engine.Value) string {
	if len(expect) != len(types) {
		return fmt.Sprintf("%d expected results for %d results", len(expect), len(types))
	}
	for i, lit := range expect {
		want, err := engine.ParseValueAs(types[i], lit)
		if err != nil {
			return fmt.Sprintf("result %d: %v", i, err)
		}
		if !want.Equal(got[i]) {
			return fmt.Sprintf("want %s, got %s", lits(expect), format(got))
		}
	}
	return ""
}

func checkMemory(inst *runtime.Instance, st Step) Result {
	res := Result{Step: st}
	want, _ := hex.DecodeString(st.Memory.Hex)
	mem := inst.Memory()
	if mem == nil {
		res.Failure = "instance has no memory"
		return res
	}
	data := mem.Bytes()
	end := uint64(st.Memory.Offset) + uint64(len(want))
	if end > uint64(len(data)) {
		res.Failure = fmt.Sprintf("range [%d, %d) beyond memory size %d", st.Memory.Offset, end, len(data))
		return res
	}
	if got := data[st.Memory.Offset:end]; string(got) != string(want) {
		res.Failure = fmt.Sprintf("want %s, got %s", st.Memory.Hex, hex.EncodeToString(got))
	}
	return res
}

func format(vals []engine.Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func lits(ss []string) string {
	return "[" + strings.Join(ss, " ") + "]"
}
