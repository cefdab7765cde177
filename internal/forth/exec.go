package forth

import "fmt"

// execute runs a single dictionary word.
func (m *Machine) execute(w *word) error {
	switch w.kind {
	case kindPrim:
		return wrap(w.name, w.prim(m))
	case kindConstant, kindVariable:
		return wrap(w.name, m.Push(w.value))
	default:
		return m.call(w)
	}
}

// call runs a colon definition. Each call occupies one return stack cell,
// which bounds recursion; DO loops keep their limit and index above it.
func (m *Machine) call(w *word) error {
	base := len(m.rstack)
	if err := m.rpush(0); err != nil {
		return wrap(w.name, err)
	}

	code := w.code
	for ip := 0; ip < len(code); {
		if err := m.checkpoint(); err != nil {
			return err
		}
		in := code[ip]
		ip++

		switch in.op {
		case opCall:
			if err := m.execute(in.w); err != nil {
				return err
			}
		case opLit:
			if err := m.Push(in.n); err != nil {
				return wrap(w.name, err)
			}
		case opBranch:
			ip = in.target
		case opBranch0:
			v, err := m.Pop()
			if err != nil {
				return wrap("IF", err)
			}
			if v == 0 {
				ip = in.target
			}
		case opDo:
			if err := m.Need(2); err != nil {
				return wrap("DO", err)
			}
			start, limit := m.Peek(0), m.Peek(1)
			m.Drop(2)
			if err := m.rpush(limit); err != nil {
				return wrap("DO", err)
			}
			if err := m.rpush(start); err != nil {
				return wrap("DO", err)
			}
		case opLoop:
			top := len(m.rstack) - 1
			if top < base+2 {
				return wrap("LOOP", ErrReturnStackUnderflow)
			}
			m.rstack[top]++
			if m.rstack[top] < m.rstack[top-1] {
				ip = in.target
			} else {
				m.rstack = m.rstack[:top-1]
			}
		case opI:
			top := len(m.rstack) - 1
			if top < base+2 {
				return wrap("I", ErrReturnStackUnderflow)
			}
			if err := m.Push(m.rstack[top]); err != nil {
				return wrap("I", err)
			}
		case opPrint:
			if _, err := fmt.Fprint(m.out, in.s); err != nil {
				return err
			}
		}
	}

	if len(m.rstack) > base {
		m.rstack = m.rstack[:base]
	}
	return nil
}
