package engine

import (
	"testing"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

func values(s *Stack) []Value {
	var out []Value
	for _, e := range s.Entries() {
		if !e.IsLabel() {
			out = append(out, e.Value())
		}
	}
	return out
}

func sameValues(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func TestStackPushPop(t *testing.T) {
	s := NewStack()
	s.Push(I32(1))
	s.Push(I64(2))
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	top, err := s.Peek(0)
	if err != nil || top.Value() != I64(2) {
		t.Errorf("Peek(0) = %v, %v, want i64:2", top, err)
	}
	below, err := s.Peek(1)
	if err != nil || below.Value() != I32(1) {
		t.Errorf("Peek(1) = %v, %v, want i32:1", below, err)
	}
	if _, err := s.Peek(2); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Peek(2) error = %v, want stack underflow", err)
	}

	if _, err := s.PopTyped(wasm.ValI32); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("PopTyped(i32) over i64 error = %v, want type mismatch", err)
	}
	if s.Len() != 2 {
		t.Errorf("failed PopTyped changed Len() to %d", s.Len())
	}
	v, err := s.PopTyped(wasm.ValI64)
	if err != nil || v != I64(2) {
		t.Errorf("PopTyped(i64) = %v, %v", v, err)
	}
	if _, err := s.Pop(); err != nil {
		t.Fatalf("Pop() error: %v", err)
	}
	if _, err := s.Pop(); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Pop() on empty stack error = %v, want stack underflow", err)
	}
	_, err = s.PopValue()
	if e, ok := errors.AsError(err); !ok || e.Code != "stack.pop" {
		t.Errorf("PopValue() on empty stack error = %v, want code stack.pop", err)
	}
}

func TestBlockEndRoundTrip(t *testing.T) {
	outer := []Value{I32(1), I64(2), F32(3)}
	produced := []Value{I32(10), F64(11)}

	s := NewStack()
	for _, v := range outer {
		s.Push(v)
	}
	if err := s.Enter(Label{Arity: 2, Results: 2}, 0); err != nil {
		t.Fatalf("Enter() error: %v", err)
	}
	if s.Labels() != 1 {
		t.Fatalf("Labels() = %d, want 1", s.Labels())
	}
	for _, v := range produced {
		s.Push(v)
	}
	if _, err := s.Exit(); err != nil {
		t.Fatalf("Exit() error: %v", err)
	}

	want := append(append([]Value(nil), outer...), produced...)
	if got := values(s); !sameValues(got, want) {
		t.Errorf("stack = %v, want %v", got, want)
	}
	if s.Labels() != 0 || s.Len() != len(want) {
		t.Errorf("label not removed: Len() = %d, Labels() = %d", s.Len(), s.Labels())
	}
}

func TestEnterMovesParamsAboveLabel(t *testing.T) {
	s := NewStack()
	s.Push(I32(1))
	s.Push(I32(2))
	s.Push(I32(3))
	if err := s.Enter(Label{Arity: 1, Results: 1}, 2); err != nil {
		t.Fatalf("Enter() error: %v", err)
	}
	e, _ := s.Peek(2)
	if !e.IsLabel() {
		t.Fatalf("entry below the two params = %v, want label", e)
	}
	if err := s.Enter(Label{}, 5); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Enter() with too few params error = %v, want stack underflow", err)
	}
	if err := s.Enter(Label{}, 3); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Enter() over a label error = %v, want type mismatch", err)
	}
}

func TestExitWithoutLabel(t *testing.T) {
	s := NewStack()
	s.Push(I32(1))
	_, err := s.Exit()
	e, ok := errors.AsError(err)
	if !ok || e.Kind != errors.KindTypeMismatch || e.Code != "block.end.label" {
		t.Errorf("Exit() error = %v, want type mismatch block.end.label", err)
	}
}

func TestExitChecksResultCount(t *testing.T) {
	tests := []struct {
		name     string
		results  int
		produced int
	}{
		{"too few", 1, 0},
		{"too many", 1, 2},
		{"void with leftover", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStack()
			if err := s.Enter(Label{Arity: tt.results, Results: tt.results}, 0); err != nil {
				t.Fatalf("Enter() error: %v", err)
			}
			for i := 0; i < tt.produced; i++ {
				s.Push(I32(int32(i)))
			}
			_, err := s.Exit()
			e, ok := errors.AsError(err)
			if !ok || e.Kind != errors.KindTypeMismatch || e.Code != "block.end.arity" {
				t.Errorf("Exit() error = %v, want type mismatch block.end.arity", err)
			}
			if s.Labels() != 1 {
				t.Errorf("Labels() = %d, want label left in place", s.Labels())
			}
		})
	}
}

func TestBranchKeepsArity(t *testing.T) {
	s := NewStack()
	s.Push(I32(100))
	s.PushLabel(Label{Arity: 1, Cont: 7})
	s.Push(I32(1))
	s.PushLabel(Label{Arity: 0, Cont: 3})
	s.Push(I32(2))
	s.Push(I32(3))

	l, err := s.Branch(1)
	if err != nil {
		t.Fatalf("Branch(1) error: %v", err)
	}
	if l.Cont != 7 {
		t.Errorf("Branch(1).Cont = %d, want 7", l.Cont)
	}
	want := []Value{I32(100), I32(3)}
	if got := values(s); !sameValues(got, want) || s.Labels() != 0 || s.Len() != 2 {
		t.Errorf("stack after branch = %v (labels %d), want %v", got, s.Labels(), want)
	}

	if _, err := s.Branch(0); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Branch() without labels error = %v, want stack underflow", err)
	}
}

func TestTruncateAndReset(t *testing.T) {
	s := NewStack()
	s.Push(I32(1))
	s.PushLabel(Label{})
	s.Push(I32(2))
	s.Truncate(1)
	if s.Len() != 1 || s.Labels() != 0 {
		t.Errorf("Truncate(1): Len() = %d, Labels() = %d", s.Len(), s.Labels())
	}
	s.Truncate(5)
	if s.Len() != 1 {
		t.Errorf("Truncate above Len changed Len() to %d", s.Len())
	}
	s.PushLabel(Label{Loop: true})
	if got := s.Entries()[1].String(); got != "loop" {
		t.Errorf("loop entry String() = %q, want loop", got)
	}
	s.Reset()
	if s.Len() != 0 || s.Labels() != 0 {
		t.Errorf("Reset(): Len() = %d, Labels() = %d", s.Len(), s.Labels())
	}
}
