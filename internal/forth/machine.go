// Package forth is a small ATLAST-flavoured Forth interpreter.
//
// A Machine keeps its dictionary, data stack and variables across calls to
// Eval, so a definition entered on one line can be used on the next. Cells
// are 32 bits wide and arithmetic wraps.
//
// Eval checks for a pending Abort (or a cancelled context) before every
// word it runs; when one is seen it prints "Break." and returns ErrBreak.
// Errors are printed to the output as well as returned. On error the data
// stack is left as it was, the return stack is cleared and any half-built
// definition is discarded.
package forth

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Cell is the interpreter's stack item.
type Cell = int32

// Truth values pushed by comparison words.
const (
	True  Cell = -1
	False Cell = 0
)

const (
	defaultStackSize       = 100
	defaultReturnStackSize = 100
)

type wordKind int

const (
	kindPrim wordKind = iota
	kindColon
	kindConstant
	kindVariable
)

type word struct {
	name   string
	kind   wordKind
	prim   func(m *Machine) error
	code   []instr
	value  Cell // constant value or variable address
	effect string
	doc    string
}

// Primitive is a word implemented in Go. Fn should check its operands with
// Need/Room before touching the stack.
type Primitive struct {
	Name   string
	Effect string // stack effect, e.g. "( pin value -- )"
	Doc    string
	Fn     func(m *Machine) error
}

// Option configures a Machine.
type Option func(*Machine)

// WithStackSize bounds the data stack.
func WithStackSize(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.stackMax = n
		}
	}
}

// WithReturnStackSize bounds the return stack (and so call depth).
func WithReturnStackSize(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.rstackMax = n
		}
	}
}

// Machine is a Forth interpreter instance. Eval must not be called
// concurrently; Abort may be called from any goroutine.
type Machine struct {
	out io.Writer

	stack     []Cell
	rstack    []Cell
	stackMax  int
	rstackMax int

	dict  map[string]*word
	order []string // definition order, for WORDS
	mem   []Cell   // variable storage, addressed by index

	// Compile state survives across Eval calls so a definition may span
	// several lines.
	compiling *word
	cstack    []ctrl

	ctx context.Context // context of the Eval in progress

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New returns a Machine that writes program output to out.
func New(out io.Writer, opts ...Option) *Machine {
	m := &Machine{
		out:       out,
		stackMax:  defaultStackSize,
		rstackMax: defaultReturnStackSize,
		dict:      make(map[string]*word),
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.defineBuiltins()
	return m
}

// Eval interprets one line of input.
func (m *Machine) Eval(ctx context.Context, line string) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
		cancel()
	}()

	m.ctx = ctx
	err := m.interpret(line)
	m.ctx = context.Background()

	if err != nil {
		m.rstack = m.rstack[:0]
		m.compiling = nil
		m.cstack = nil
		fmt.Fprintf(m.out, "%s\n", message(err))
	}
	return err
}

// Abort interrupts the Eval in progress at its next checkpoint. It has no
// effect when nothing is being evaluated.
func (m *Machine) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

// RecoveryCommand is queued by the host after a restart.
func (m *Machine) RecoveryCommand() string {
	return "quit"
}

// checkpoint reports ErrBreak once the running Eval has been aborted.
func (m *Machine) checkpoint() error {
	if m.ctx.Err() != nil {
		return ErrBreak
	}
	return nil
}

// Context is the context of the Eval in progress. Blocking primitives
// should select on its Done channel so a break can interrupt them.
func (m *Machine) Context() context.Context {
	return m.ctx
}

// Out is the program output writer.
func (m *Machine) Out() io.Writer {
	return m.out
}

// Define adds (or replaces) a Go primitive.
func (m *Machine) Define(p Primitive) {
	m.add(&word{
		name:   strings.ToUpper(p.Name),
		kind:   kindPrim,
		prim:   p.Fn,
		effect: p.Effect,
		doc:    p.Doc,
	})
}

func (m *Machine) add(w *word) {
	if _, exists := m.dict[w.name]; !exists {
		m.order = append(m.order, w.name)
	}
	m.dict[w.name] = w
}

// Lookup reports whether name is defined.
func (m *Machine) Lookup(name string) bool {
	_, ok := m.dict[strings.ToUpper(name)]
	return ok
}

// Words returns the dictionary in definition order.
func (m *Machine) Words() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// SortedWords returns the dictionary sorted by name.
func (m *Machine) SortedWords() []string {
	out := m.Words()
	sort.Strings(out)
	return out
}

// --- data stack ---

// Need fails with ErrStackUnderflow unless n items are on the stack.
func (m *Machine) Need(n int) error {
	if len(m.stack) < n {
		return ErrStackUnderflow
	}
	return nil
}

// Room fails with ErrStackOverflow unless n more items fit.
func (m *Machine) Room(n int) error {
	if len(m.stack)+n > m.stackMax {
		return ErrStackOverflow
	}
	return nil
}

// Push pushes v.
func (m *Machine) Push(v Cell) error {
	if err := m.Room(1); err != nil {
		return err
	}
	m.stack = append(m.stack, v)
	return nil
}

// Pop removes and returns the top item.
func (m *Machine) Pop() (Cell, error) {
	if err := m.Need(1); err != nil {
		return 0, err
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

// Peek returns the item i places below the top (0 is the top). The caller
// must have checked Need(i+1).
func (m *Machine) Peek(i int) Cell {
	return m.stack[len(m.stack)-1-i]
}

// Set replaces the item i places below the top.
func (m *Machine) Set(i int, v Cell) {
	m.stack[len(m.stack)-1-i] = v
}

// Drop discards n items. The caller must have checked Need(n).
func (m *Machine) Drop(n int) {
	m.stack = m.stack[:len(m.stack)-n]
}

// Depth is the number of items on the data stack.
func (m *Machine) Depth() int {
	return len(m.stack)
}

// Stack returns a copy of the data stack, bottom first.
func (m *Machine) Stack() []Cell {
	out := make([]Cell, len(m.stack))
	copy(out, m.stack)
	return out
}

// ReturnDepth is the number of items on the return stack.
func (m *Machine) ReturnDepth() int {
	return len(m.rstack)
}

// --- return stack ---

func (m *Machine) rpush(v Cell) error {
	if len(m.rstack) >= m.rstackMax {
		return ErrReturnStackOverflow
	}
	m.rstack = append(m.rstack, v)
	return nil
}

func (m *Machine) rpop() (Cell, error) {
	if len(m.rstack) == 0 {
		return 0, ErrReturnStackUnderflow
	}
	v := m.rstack[len(m.rstack)-1]
	m.rstack = m.rstack[:len(m.rstack)-1]
	return v, nil
}
