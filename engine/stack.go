package engine

import (
	"fmt"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Label marks the entry of a structured block on the operand stack.
type Label struct {
	// Arity is the number of values a branch to this label carries: the
	// block's results, or its parameters for a loop.
	Arity int
	// Results is the block's declared result count.
	Results int
	// Cont is the instruction index where a branch to this label resumes.
	Cont int
	Loop bool
}

// Entry is one operand stack slot, either a value or a label.
type Entry struct {
	label *Label
	value Value
}

// IsLabel reports whether the entry is a label.
func (e Entry) IsLabel() bool { return e.label != nil }

// Value returns the entry's value. It is the zero Value for a label.
func (e Entry) Value() Value { return e.value }

// Label returns the entry's label, or nil for a value.
func (e Entry) Label() *Label { return e.label }

// String formats a value entry as its value and a label by its kind.
func (e Entry) String() string {
	if e.label != nil {
		if e.label.Loop {
			return "loop"
		}
		return "label"
	}
	return e.value.String()
}

// Stack is the operand stack shared by every frame of an instance. It holds
// values and the labels of the blocks currently entered.
type Stack struct {
	entries []Entry
	labels  int
}

// NewStack returns an empty stack.
func NewStack() *Stack {
	return &Stack{entries: make([]Entry, 0, 64)}
}

// Len returns the number of entries, labels included.
func (s *Stack) Len() int { return len(s.entries) }

// Labels returns the number of labels on the stack.
func (s *Stack) Labels() int { return s.labels }

// Push pushes a value.
func (s *Stack) Push(v Value) {
	s.entries = append(s.entries, Entry{value: v})
}

// PushLabel pushes a label.
func (s *Stack) PushLabel(l Label) {
	s.entries = append(s.entries, Entry{label: &l})
	s.labels++
}

// Pop removes and returns the top entry.
func (s *Stack) Pop() (Entry, error) {
	n := len(s.entries)
	if n == 0 {
		return Entry{}, errors.Trap(errors.KindStackUnderflow, "stack.pop")
	}
	e := s.entries[n-1]
	s.entries = s.entries[:n-1]
	if e.label != nil {
		s.labels--
	}
	return e, nil
}

// PopValue removes and returns the top value. A label on top is a type
// mismatch and is left in place.
func (s *Stack) PopValue() (Value, error) {
	n := len(s.entries)
	if n == 0 {
		return Value{}, errors.Trap(errors.KindStackUnderflow, "stack.pop")
	}
	e := s.entries[n-1]
	if e.label != nil {
		return Value{}, errors.TypeMismatch("stack.pop.label", "value", "label")
	}
	s.entries = s.entries[:n-1]
	return e.value, nil
}

// PopTyped removes and returns the top value, which must be of type t.
func (s *Stack) PopTyped(t wasm.ValType) (Value, error) {
	n := len(s.entries)
	if n == 0 {
		return Value{}, errors.Trap(errors.KindStackUnderflow, "stack.pop")
	}
	e := s.entries[n-1]
	if e.label != nil {
		return Value{}, errors.TypeMismatch("stack.pop.label", typeName(t), "label")
	}
	if e.value.typ != t {
		return Value{}, errors.TypeMismatch("stack.pop.type", typeName(t), typeName(e.value.typ))
	}
	s.entries = s.entries[:n-1]
	return e.value, nil
}

// Peek returns the entry index positions below the top; 0 is the top.
func (s *Stack) Peek(index int) (Entry, error) {
	if index < 0 || index >= len(s.entries) {
		return Entry{}, errors.Trap(errors.KindStackUnderflow, "stack.peek")
	}
	return s.entries[len(s.entries)-1-index], nil
}

// Entries returns a copy of the stack, bottom first.
func (s *Stack) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Enter begins a block: the top params values are the block's inputs. They
// are popped, the label is pushed and the inputs are pushed back above it.
func (s *Stack) Enter(l Label, params int) error {
	n := len(s.entries)
	if n < params {
		return errors.Trap(errors.KindStackUnderflow, "block.enter")
	}
	inputs := make([]Entry, params)
	copy(inputs, s.entries[n-params:])
	for _, e := range inputs {
		if e.label != nil {
			return errors.TypeMismatch("block.enter.label", "value", "label")
		}
	}
	s.entries = s.entries[:n-params]
	s.PushLabel(l)
	s.entries = append(s.entries, inputs...)
	return nil
}

// Exit ends the innermost block. The contiguous values above its label are
// saved, the label is removed and the values are pushed back in order. The
// saved values must number exactly the label's Results.
func (s *Stack) Exit() (Label, error) {
	i := len(s.entries) - 1
	for i >= 0 && s.entries[i].label == nil {
		i--
	}
	if i < 0 {
		return Label{}, errors.TypeMismatch("block.end.label", "label", "value")
	}
	l := *s.entries[i].label
	if got := len(s.entries) - i - 1; got != l.Results {
		return Label{}, errors.New(errors.PhaseExecute, errors.KindTypeMismatch).
			Code("block.end.arity").
			Want(fmt.Sprintf("%d values", l.Results)).
			Got(fmt.Sprintf("%d values", got)).
			Build()
	}
	saved := append([]Entry(nil), s.entries[i+1:]...)
	s.entries = append(s.entries[:i], saved...)
	s.labels--
	return l, nil
}

// Branch unwinds to the label depth levels out (0 is the innermost). The
// label's arity values are kept, everything down to and including the label
// is dropped and the kept values are pushed back.
func (s *Stack) Branch(depth int) (Label, error) {
	i := len(s.entries) - 1
	for seen := -1; i >= 0; i-- {
		if s.entries[i].label != nil {
			seen++
			if seen == depth {
				break
			}
		}
	}
	if i < 0 {
		return Label{}, errors.Trap(errors.KindStackUnderflow, "branch.label")
	}
	l := *s.entries[i].label
	if err := s.Unwind(i, l.Arity); err != nil {
		return Label{}, err
	}
	return l, nil
}

// Unwind keeps the top keep values and drops every entry from height up to
// them, then pushes the kept values back.
func (s *Stack) Unwind(height, keep int) error {
	n := len(s.entries)
	if n-keep < height {
		return errors.Trap(errors.KindStackUnderflow, "stack.unwind")
	}
	kept := s.entries[n-keep:]
	for _, e := range kept {
		if e.label != nil {
			return errors.TypeMismatch("stack.unwind.label", "value", "label")
		}
	}
	for _, e := range s.entries[height : n-keep] {
		if e.label != nil {
			s.labels--
		}
	}
	s.entries = append(s.entries[:height], kept...)
	return nil
}

// Truncate drops entries until the stack holds height entries.
func (s *Stack) Truncate(height int) {
	if height >= len(s.entries) {
		return
	}
	for _, e := range s.entries[height:] {
		if e.label != nil {
			s.labels--
		}
	}
	s.entries = s.entries[:height]
}

// Reset empties the stack.
func (s *Stack) Reset() {
	s.entries = s.entries[:0]
	s.labels = 0
}
