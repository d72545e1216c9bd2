package reference

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Outcome is what one invocation produced: results, or a trap kind.
type Outcome struct {
	Err     error
	Results []engine.Value
	Trap    errors.Kind
}

// NewOutcome records the result of an invocation. Trap kinds that wazero
// does not distinguish are merged: divide_overflow reports as
// integer_overflow and uninitialized_element as undefined_element.
func NewOutcome(results []engine.Value, err error) Outcome {
	if err == nil {
		return Outcome{Results: results}
	}
	o := Outcome{Err: err}
	if errors.IsTrap(err) {
		o.Trap = TrapClass(errors.KindOf(err))
	}
	return o
}

// TrapClass maps a trap kind to the class both engines agree on.
func TrapClass(k errors.Kind) errors.Kind {
	switch k {
	case errors.KindDivideOverflow:
		return errors.KindIntegerOverflow
	case errors.KindUninitializedElement:
		return errors.KindUndefinedElement
	}
	return k
}

func (o Outcome) String() string {
	if o.Err != nil {
		if o.Trap != "" {
			return "trap " + string(o.Trap)
		}
		return "error " + o.Err.Error()
	}
	parts := make([]string, len(o.Results))
	for i, v := range o.Results {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Agrees reports whether two outcomes match: equal results (any NaN equals
// any NaN of its type), or traps of the same class, or both non-trap errors.
func (o Outcome) Agrees(other Outcome) bool {
	if (o.Err == nil) != (other.Err == nil) {
		return false
	}
	if o.Err != nil {
		return o.Trap == other.Trap
	}
	if len(o.Results) != len(other.Results) {
		return false
	}
	for i := range o.Results {
		if !o.Results[i].Equal(other.Results[i]) {
			return false
		}
	}
	return true
}

// Diff is a disagreement between the engine and the reference.
type Diff struct {
	Func      string
	Args      []engine.Value
	Engine    Outcome
	Reference Outcome
}

func (d *Diff) Error() string {
	args := make([]string, len(d.Args))
	for i, a := range d.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s): engine %s, reference %s",
		d.Func, strings.Join(args, ", "), d.Engine, d.Reference)
}

// Compare invokes name with args on both instances. It returns nil when
// the outcomes agree.
func Compare(ctx context.Context, inst *engine.Instance, ref *Instance, name string, args ...engine.Value) *Diff {
	got := NewOutcome(inst.Invoke(ctx, name, args...))
	want := NewOutcome(ref.Invoke(ctx, name, args...))
	if got.Agrees(want) {
		return nil
	}
	d := &Diff{Func: name, Args: args, Engine: got, Reference: want}
	ref.log.Warn("engine disagrees with reference",
		zap.String("func", name),
		zap.String("engine", got.String()),
		zap.String("reference", want.String()),
	)
	return d
}

// Call is one invocation of a comparison run.
type Call struct {
	Func string
	Args []engine.Value
}

// Run instantiates bin on both engines, performs calls in order on each and
// returns every disagreement. Memory contents are compared after the last
// call.
func Run(ctx context.Context, bin []byte, imports *engine.Imports, cfg engine.Config, calls []Call) ([]*Diff, error) {
	m, err := wasm.ParseModule(bin)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindDecode, err, "parse module")
	}
	inst, err := engine.Instantiate(ctx, m, imports, &cfg)
	if err != nil {
		return nil, err
	}
	ref, err := Instantiate(ctx, bin, imports, Config{Logger: cfg.Logger, MemoryLimitPages: cfg.MemoryLimitPages})
	if err != nil {
		return nil, err
	}
	defer ref.Close(ctx)

	var diffs []*Diff
	for _, c := range calls {
		if d := Compare(ctx, inst, ref, c.Func, c.Args...); d != nil {
			diffs = append(diffs, d)
		}
	}

	var mem []byte
	if inst.Memory() != nil {
		mem = inst.Memory().Bytes()
	}
	if refMem := ref.Memory(); !bytes.Equal(mem, refMem) {
		diffs = append(diffs, &Diff{
			Func:      "memory",
			Engine:    Outcome{Err: fmt.Errorf("%d bytes", len(mem))},
			Reference: Outcome{Err: fmt.Errorf("%d bytes, first difference at %d", len(refMem), firstDifference(mem, refMem))},
		})
	}
	return diffs, nil
}

func firstDifference(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
