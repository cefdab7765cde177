package forth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMachine(t *testing.T, opts ...Option) (*Machine, *strings.Builder) {
	t.Helper()
	var out strings.Builder
	return New(&out, opts...), &out
}

// run evaluates each line and returns the output produced.
func run(t *testing.T, m *Machine, out *strings.Builder, lines ...string) string {
	t.Helper()
	out.Reset()
	for _, line := range lines {
		require.NoError(t, m.Eval(context.Background(), line), "line %q", line)
	}
	return out.String()
}

func TestEval(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  string
	}{
		{"add", []string{"1 2 + ."}, "3 "},
		{"arithmetic", []string{"7 3 - . 6 7 * . 17 5 / . 17 5 mod ."}, "4 42 3 2 "},
		{"negate abs", []string{"5 negate . -9 abs ."}, "-5 9 "},
		{"min max", []string{"3 9 min . 3 9 max ."}, "3 9 "},
		{"comparison", []string{"1 1 = . 1 2 = . 1 2 < . 0 0= ."}, "-1 0 -1 -1 "},
		{"logic", []string{"12 10 and . 12 10 or . 12 10 xor . 0 not ."}, "8 14 6 -1 "},
		{"stack words", []string{"1 2 swap . . 1 2 over . . . 1 2 3 rot . . ."}, "1 2 1 2 1 1 3 2 "},
		{"depth", []string{"1 2 3 depth . clear depth ."}, "3 0 "},
		{"qdup", []string{"0 ?dup depth . 4 ?dup . ."}, "1 4 4 "},
		{"hex", []string{"0x10 . 0xFFFFFFFF ."}, "16 -1 "},
		{"comments", []string{"1 ( ignored 2 ) 3 + . \\ 100 ."}, "4 "},
		{"emit cr space", []string{"65 emit space 66 emit cr"}, "A B\n"},
		{"string", []string{`." hello world"`}, "hello world"},
		{"case insensitive", []string{"1 DUP + ."}, "2 "},
		{"wraps", []string{"2147483647 1 + ."}, "-2147483648 "},
		{"return stack", []string{": t 5 >r r@ r> + ; t ."}, "10 "},
		{"variable", []string{"variable x 5 x ! x @ . 3 x +! x @ ."}, "5 8 "},
		{"constant", []string{"42 constant answer answer ."}, "42 "},
		{"colon", []string{": sq dup * ;", "4 sq ."}, "16 "},
		{"multi-line definition", []string{": cube", "dup dup", "* * ;", "3 cube ."}, "27 "},
		{"if else then", []string{`: sign 0< if ." neg" else ." pos" then ;`, "-5 sign 5 sign"}, "negpos"},
		{"do loop", []string{": count 5 0 do i . loop ;", "count"}, "0 1 2 3 4 "},
		{"nested do", []string{": grid 2 0 do 2 0 do i . loop loop ;", "grid"}, "0 1 0 1 "},
		{"begin until", []string{": down begin 1- dup 0= until ;", "3 down ."}, "0 "},
		{"nested calls", []string{": a 1 + ;", ": b a a ;", "0 b ."}, "2 "},
		{"redefine keeps old callers", []string{": one 1 ;", ": two one one + ;", ": one 100 ;", "two ."}, "2 "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, out := newTestMachine(t)
			assert.Equal(t, tt.want, run(t, m, out, tt.lines...))
		})
	}
}

func TestEvalErrors(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
		wantOut string
	}{
		{"underflow", "+", ErrStackUnderflow, "Stack underflow: +.\n"},
		{"undefined", "frob", ErrUndefined, "Undefined word: frob.\n"},
		{"divide by zero", "1 0 /", ErrDivisionByZero, "Division by zero: /.\n"},
		{"mod by zero", "1 0 mod", ErrDivisionByZero, "Division by zero: MOD.\n"},
		{"compile only", "if", ErrCompileOnly, "Compile-only word: IF.\n"},
		{"missing name", ":", ErrMissingName, "Missing name: :.\n"},
		{"unterminated string", `." oops`, ErrUnterminatedString, "Unterminated string: .\".\n"},
		{"bad address", "99 @", ErrBadAddress, "Bad address: @.\n"},
		{"r from empty", "r>", ErrReturnStackUnderflow, "Return stack underflow: R>.\n"},
		{"unbalanced", ": x then ;", ErrControlStructure, "Control structure mismatch: X.\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, out := newTestMachine(t)
			err := m.Eval(context.Background(), tt.line)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantOut, out.String())
		})
	}
}

func TestErrorPreservesDataStack(t *testing.T) {
	m, _ := newTestMachine(t)
	err := m.Eval(context.Background(), "1 2 3 frob 4")
	require.ErrorIs(t, err, ErrUndefined)
	assert.Equal(t, []Cell{1, 2, 3}, m.Stack())
	assert.Zero(t, m.ReturnDepth())
}

func TestErrorDiscardsPartialDefinition(t *testing.T) {
	m, out := newTestMachine(t)
	require.Error(t, m.Eval(context.Background(), ": bad frob ;"))
	assert.False(t, m.Lookup("bad"))

	// Back in interpret mode.
	assert.Equal(t, "1 ", run(t, m, out, "1 ."))
}

func TestStackOverflow(t *testing.T) {
	m, _ := newTestMachine(t, WithStackSize(2))
	err := m.Eval(context.Background(), "1 2 3")
	require.ErrorIs(t, err, ErrStackOverflow)
	assert.Equal(t, []Cell{1, 2}, m.Stack())
}

func TestReturnStackOverflow(t *testing.T) {
	m, _ := newTestMachine(t, WithReturnStackSize(4))
	require.NoError(t, m.Eval(context.Background(), ": a 1 ;"))
	require.NoError(t, m.Eval(context.Background(), ": b a ;"))
	require.NoError(t, m.Eval(context.Background(), ": c b ;"))
	require.NoError(t, m.Eval(context.Background(), ": d c ;"))
	require.NoError(t, m.Eval(context.Background(), ": e d ;"))

	require.NoError(t, m.Eval(context.Background(), "d"))
	err := m.Eval(context.Background(), "e")
	require.ErrorIs(t, err, ErrReturnStackOverflow)
	assert.Zero(t, m.ReturnDepth())
}

func TestEvalCancelledContext(t *testing.T) {
	m, out := newTestMachine(t)
	require.NoError(t, m.Eval(context.Background(), ": spin begin again ;"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Eval(ctx, "spin")
	require.ErrorIs(t, err, ErrBreak)
	assert.Equal(t, "Break.\n", out.String())
}

func TestAbortInterruptsEval(t *testing.T) {
	m, out := newTestMachine(t)
	require.NoError(t, m.Eval(context.Background(), ": spin begin again ;"))

	done := make(chan error, 1)
	go func() { done <- m.Eval(context.Background(), "spin") }()

	// An Abort that lands before Eval has started is a no-op, so keep
	// trying until the loop notices one.
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			require.True(t, errors.Is(err, ErrBreak), "got %v", err)
			assert.Equal(t, "Break.\n", out.String())

			// The machine is usable afterwards.
			assert.Equal(t, "7 ", run(t, m, out, "7 ."))
			return
		case <-tick.C:
			m.Abort()
		case <-deadline:
			t.Fatal("spin was not interrupted")
		}
	}
}

func TestAbortIdle(t *testing.T) {
	m, out := newTestMachine(t)
	m.Abort()
	assert.Equal(t, "1 ", run(t, m, out, "1 ."))
}

func TestQuitClearsReturnStack(t *testing.T) {
	m, out := newTestMachine(t)
	assert.Equal(t, "", run(t, m, out, "1 2 quit"))
	assert.Equal(t, []Cell{1, 2}, m.Stack())
	assert.Equal(t, "quit", m.RecoveryCommand())
}

func TestDefinePrimitive(t *testing.T) {
	m, out := newTestMachine(t)
	m.Define(Primitive{Name: "triple", Effect: "( n -- 3n )", Fn: func(m *Machine) error {
		if err := m.Need(1); err != nil {
			return err
		}
		m.Set(0, m.Peek(0)*3)
		return nil
	}})
	assert.True(t, m.Lookup("TRIPLE"))
	assert.Equal(t, "21 ", run(t, m, out, "7 triple ."))

	err := m.Eval(context.Background(), "triple")
	require.ErrorIs(t, err, ErrStackUnderflow)
	assert.Contains(t, out.String(), "Stack underflow: TRIPLE.")
}

func TestWords(t *testing.T) {
	m, out := newTestMachine(t)
	require.NoError(t, m.Eval(context.Background(), ": zzz ;"))
	words := m.Words()
	assert.Equal(t, "ZZZ", words[len(words)-1])
	assert.Contains(t, m.SortedWords(), "DUP")

	got := run(t, m, out, "words")
	assert.Contains(t, got, "ZZZ")
	assert.True(t, strings.HasSuffix(got, "\n"))
}
