package forth

import (
	"fmt"
	"strings"
)

func flag(b bool) Cell {
	if b {
		return True
	}
	return False
}

// binary defines a ( a b -- c ) word.
func (m *Machine) binary(name string, fn func(a, b Cell) (Cell, error)) {
	m.Define(Primitive{Name: name, Effect: "( a b -- c )", Fn: func(m *Machine) error {
		if err := m.Need(2); err != nil {
			return err
		}
		c, err := fn(m.Peek(1), m.Peek(0))
		if err != nil {
			return err
		}
		m.Drop(1)
		m.Set(0, c)
		return nil
	}})
}

// unary defines a ( a -- b ) word.
func (m *Machine) unary(name string, fn func(a Cell) Cell) {
	m.Define(Primitive{Name: name, Effect: "( a -- b )", Fn: func(m *Machine) error {
		if err := m.Need(1); err != nil {
			return err
		}
		m.Set(0, fn(m.Peek(0)))
		return nil
	}})
}

func (m *Machine) defineBuiltins() {
	// Arithmetic.
	m.binary("+", func(a, b Cell) (Cell, error) { return a + b, nil })
	m.binary("-", func(a, b Cell) (Cell, error) { return a - b, nil })
	m.binary("*", func(a, b Cell) (Cell, error) { return a * b, nil })
	m.binary("/", func(a, b Cell) (Cell, error) {
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	})
	m.binary("MOD", func(a, b Cell) (Cell, error) {
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a % b, nil
	})
	m.binary("MIN", func(a, b Cell) (Cell, error) { return min(a, b), nil })
	m.binary("MAX", func(a, b Cell) (Cell, error) { return max(a, b), nil })
	m.unary("NEGATE", func(a Cell) Cell { return -a })
	m.unary("ABS", func(a Cell) Cell {
		if a < 0 {
			return -a
		}
		return a
	})
	m.unary("1+", func(a Cell) Cell { return a + 1 })
	m.unary("1-", func(a Cell) Cell { return a - 1 })

	// Comparison and logic.
	m.binary("=", func(a, b Cell) (Cell, error) { return flag(a == b), nil })
	m.binary("<>", func(a, b Cell) (Cell, error) { return flag(a != b), nil })
	m.binary("<", func(a, b Cell) (Cell, error) { return flag(a < b), nil })
	m.binary(">", func(a, b Cell) (Cell, error) { return flag(a > b), nil })
	m.unary("0=", func(a Cell) Cell { return flag(a == 0) })
	m.unary("0<", func(a Cell) Cell { return flag(a < 0) })
	m.binary("AND", func(a, b Cell) (Cell, error) { return a & b, nil })
	m.binary("OR", func(a, b Cell) (Cell, error) { return a | b, nil })
	m.binary("XOR", func(a, b Cell) (Cell, error) { return a ^ b, nil })
	m.unary("NOT", func(a Cell) Cell { return ^a })

	// Stack manipulation.
	m.Define(Primitive{Name: "DUP", Effect: "( a -- a a )", Fn: func(m *Machine) error {
		if err := m.Need(1); err != nil {
			return err
		}
		return m.Push(m.Peek(0))
	}})
	m.Define(Primitive{Name: "?DUP", Effect: "( a -- a a | 0 )", Fn: func(m *Machine) error {
		if err := m.Need(1); err != nil {
			return err
		}
		if m.Peek(0) == 0 {
			return nil
		}
		return m.Push(m.Peek(0))
	}})
	m.Define(Primitive{Name: "DROP", Effect: "( a -- )", Fn: func(m *Machine) error {
		_, err := m.Pop()
		return err
	}})
	m.Define(Primitive{Name: "SWAP", Effect: "( a b -- b a )", Fn: func(m *Machine) error {
		if err := m.Need(2); err != nil {
			return err
		}
		a, b := m.Peek(1), m.Peek(0)
		m.Set(1, b)
		m.Set(0, a)
		return nil
	}})
	m.Define(Primitive{Name: "OVER", Effect: "( a b -- a b a )", Fn: func(m *Machine) error {
		if err := m.Need(2); err != nil {
			return err
		}
		return m.Push(m.Peek(1))
	}})
	m.Define(Primitive{Name: "ROT", Effect: "( a b c -- b c a )", Fn: func(m *Machine) error {
		if err := m.Need(3); err != nil {
			return err
		}
		a, b, c := m.Peek(2), m.Peek(1), m.Peek(0)
		m.Set(2, b)
		m.Set(1, c)
		m.Set(0, a)
		return nil
	}})
	m.Define(Primitive{Name: "NIP", Effect: "( a b -- b )", Fn: func(m *Machine) error {
		if err := m.Need(2); err != nil {
			return err
		}
		m.Set(1, m.Peek(0))
		m.Drop(1)
		return nil
	}})
	m.Define(Primitive{Name: "2DUP", Effect: "( a b -- a b a b )", Fn: func(m *Machine) error {
		if err := m.Need(2); err != nil {
			return err
		}
		if err := m.Room(2); err != nil {
			return err
		}
		a, b := m.Peek(1), m.Peek(0)
		m.stack = append(m.stack, a, b)
		return nil
	}})
	m.Define(Primitive{Name: "2DROP", Effect: "( a b -- )", Fn: func(m *Machine) error {
		if err := m.Need(2); err != nil {
			return err
		}
		m.Drop(2)
		return nil
	}})
	m.Define(Primitive{Name: "DEPTH", Effect: "( -- n )", Fn: func(m *Machine) error {
		return m.Push(Cell(len(m.stack)))
	}})
	m.Define(Primitive{Name: "CLEAR", Effect: "( ... -- )", Fn: func(m *Machine) error {
		m.stack = m.stack[:0]
		return nil
	}})

	// Return stack.
	m.Define(Primitive{Name: ">R", Effect: "( a -- ) R: ( -- a )", Fn: func(m *Machine) error {
		if err := m.Need(1); err != nil {
			return err
		}
		if err := m.rpush(m.Peek(0)); err != nil {
			return err
		}
		m.Drop(1)
		return nil
	}})
	m.Define(Primitive{Name: "R>", Effect: "( -- a ) R: ( a -- )", Fn: func(m *Machine) error {
		if err := m.Room(1); err != nil {
			return err
		}
		v, err := m.rpop()
		if err != nil {
			return err
		}
		return m.Push(v)
	}})
	m.Define(Primitive{Name: "R@", Effect: "( -- a ) R: ( a -- a )", Fn: func(m *Machine) error {
		if len(m.rstack) == 0 {
			return ErrReturnStackUnderflow
		}
		return m.Push(m.rstack[len(m.rstack)-1])
	}})

	// Memory.
	m.Define(Primitive{Name: "!", Effect: "( value addr -- )", Fn: func(m *Machine) error {
		if err := m.Need(2); err != nil {
			return err
		}
		addr, v := m.Peek(0), m.Peek(1)
		if addr < 0 || int(addr) >= len(m.mem) {
			return ErrBadAddress
		}
		m.mem[addr] = v
		m.Drop(2)
		return nil
	}})
	m.Define(Primitive{Name: "@", Effect: "( addr -- value )", Fn: func(m *Machine) error {
		if err := m.Need(1); err != nil {
			return err
		}
		addr := m.Peek(0)
		if addr < 0 || int(addr) >= len(m.mem) {
			return ErrBadAddress
		}
		m.Set(0, m.mem[addr])
		return nil
	}})
	m.Define(Primitive{Name: "+!", Effect: "( n addr -- )", Fn: func(m *Machine) error {
		if err := m.Need(2); err != nil {
			return err
		}
		addr, n := m.Peek(0), m.Peek(1)
		if addr < 0 || int(addr) >= len(m.mem) {
			return ErrBadAddress
		}
		m.mem[addr] += n
		m.Drop(2)
		return nil
	}})

	// Output.
	m.Define(Primitive{Name: ".", Effect: "( n -- )", Doc: "print the top of stack", Fn: func(m *Machine) error {
		v, err := m.Pop()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(m.out, "%d ", v)
		return err
	}})
	m.Define(Primitive{Name: "CR", Effect: "( -- )", Fn: func(m *Machine) error {
		_, err := fmt.Fprint(m.out, "\n")
		return err
	}})
	m.Define(Primitive{Name: "SPACE", Effect: "( -- )", Fn: func(m *Machine) error {
		_, err := fmt.Fprint(m.out, " ")
		return err
	}})
	m.Define(Primitive{Name: "EMIT", Effect: "( c -- )", Fn: func(m *Machine) error {
		v, err := m.Pop()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(m.out, "%c", rune(v))
		return err
	}})
	m.Define(Primitive{Name: "WORDS", Effect: "( -- )", Doc: "list the dictionary", Fn: func(m *Machine) error {
		_, err := fmt.Fprintln(m.out, strings.Join(m.SortedWords(), " "))
		return err
	}})

	// QUIT clears the return stack and leaves the data stack alone. It is
	// the recovery command queued after a restart.
	m.Define(Primitive{Name: "QUIT", Effect: "( -- )", Doc: "clear the return stack", Fn: func(m *Machine) error {
		m.rstack = m.rstack[:0]
		return nil
	}})
}
