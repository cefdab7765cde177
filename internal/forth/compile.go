package forth

import (
	"fmt"
	"strconv"
	"strings"
)

type opcode int

const (
	opCall opcode = iota
	opLit
	opBranch
	opBranch0
	opDo
	opLoop
	opI
	opPrint
)

type instr struct {
	op     opcode
	w      *word
	n      Cell
	target int
	s      string
}

type ctrlKind int

const (
	ctrlIf ctrlKind = iota
	ctrlElse
	ctrlBegin
	ctrlDo
)

// ctrl is an open control structure while compiling.
type ctrl struct {
	kind ctrlKind
	at   int
}

type tokenizer struct {
	s   string
	pos int
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (t *tokenizer) next() (string, bool) {
	for t.pos < len(t.s) && isSpace(t.s[t.pos]) {
		t.pos++
	}
	if t.pos >= len(t.s) {
		return "", false
	}
	start := t.pos
	for t.pos < len(t.s) && !isSpace(t.s[t.pos]) {
		t.pos++
	}
	return t.s[start:t.pos], true
}

// until returns the text up to delim and consumes the delimiter. The single
// separator space after the opening word is skipped.
func (t *tokenizer) until(delim byte) (string, bool) {
	if t.pos < len(t.s) && isSpace(t.s[t.pos]) {
		t.pos++
	}
	i := strings.IndexByte(t.s[t.pos:], delim)
	if i < 0 {
		rest := t.s[t.pos:]
		t.pos = len(t.s)
		return rest, false
	}
	text := t.s[t.pos : t.pos+i]
	t.pos += i + 1
	return text, true
}

func (t *tokenizer) skipLine() {
	t.pos = len(t.s)
}

// interpret runs the outer interpreter over one line.
func (m *Machine) interpret(line string) error {
	tz := &tokenizer{s: line}
	for {
		tok, ok := tz.next()
		if !ok {
			return nil
		}
		if err := m.checkpoint(); err != nil {
			return err
		}

		switch tok {
		case "(":
			if _, ok := tz.until(')'); !ok {
				return nil
			}
			continue
		case "\\":
			tz.skipLine()
			continue
		}

		var err error
		if m.compiling != nil {
			err = m.compileToken(tok, tz)
		} else {
			err = m.interpretToken(tok, tz)
		}
		if err != nil {
			return err
		}
	}
}

func (m *Machine) interpretToken(tok string, tz *tokenizer) error {
	name := strings.ToUpper(tok)
	switch name {
	case ":":
		def, ok := tz.next()
		if !ok {
			return &EvalError{Word: ":", Err: ErrMissingName}
		}
		m.compiling = &word{name: strings.ToUpper(def), kind: kindColon}
		m.cstack = nil
		return nil
	case "VARIABLE":
		def, ok := tz.next()
		if !ok {
			return &EvalError{Word: name, Err: ErrMissingName}
		}
		m.mem = append(m.mem, 0)
		m.add(&word{name: strings.ToUpper(def), kind: kindVariable, value: Cell(len(m.mem) - 1)})
		return nil
	case "CONSTANT":
		def, ok := tz.next()
		if !ok {
			return &EvalError{Word: name, Err: ErrMissingName}
		}
		v, err := m.Pop()
		if err != nil {
			return wrap(name, err)
		}
		m.add(&word{name: strings.ToUpper(def), kind: kindConstant, value: v})
		return nil
	case `."`:
		text, ok := tz.until('"')
		if !ok {
			return &EvalError{Word: name, Err: ErrUnterminatedString}
		}
		_, err := fmt.Fprint(m.out, text)
		return err
	case ";", "IF", "ELSE", "THEN", "BEGIN", "UNTIL", "AGAIN", "DO", "LOOP", "I":
		return &EvalError{Word: name, Err: ErrCompileOnly}
	}

	if w, ok := m.dict[name]; ok {
		return m.execute(w)
	}
	if n, ok := parseNumber(tok); ok {
		return wrap(tok, m.Push(n))
	}
	return &EvalError{Word: tok, Err: ErrUndefined}
}

func (m *Machine) compileToken(tok string, tz *tokenizer) error {
	def := m.compiling
	name := strings.ToUpper(tok)
	here := len(def.code)

	switch name {
	case ";":
		if len(m.cstack) != 0 {
			return &EvalError{Word: def.name, Err: ErrControlStructure}
		}
		m.add(def)
		m.compiling = nil
		return nil
	case ":":
		return &EvalError{Word: def.name, Err: ErrNestedDefinition}
	case "IF":
		def.code = append(def.code, instr{op: opBranch0})
		m.cstack = append(m.cstack, ctrl{kind: ctrlIf, at: here})
		return nil
	case "ELSE":
		c, err := m.popCtrl(def.name, ctrlIf)
		if err != nil {
			return err
		}
		def.code = append(def.code, instr{op: opBranch})
		def.code[c.at].target = len(def.code)
		m.cstack = append(m.cstack, ctrl{kind: ctrlElse, at: here})
		return nil
	case "THEN":
		c, err := m.popCtrl(def.name, ctrlIf, ctrlElse)
		if err != nil {
			return err
		}
		def.code[c.at].target = here
		return nil
	case "BEGIN":
		m.cstack = append(m.cstack, ctrl{kind: ctrlBegin, at: here})
		return nil
	case "UNTIL", "AGAIN":
		c, err := m.popCtrl(def.name, ctrlBegin)
		if err != nil {
			return err
		}
		op := opBranch0
		if name == "AGAIN" {
			op = opBranch
		}
		def.code = append(def.code, instr{op: op, target: c.at})
		return nil
	case "DO":
		def.code = append(def.code, instr{op: opDo})
		m.cstack = append(m.cstack, ctrl{kind: ctrlDo, at: here + 1})
		return nil
	case "LOOP":
		c, err := m.popCtrl(def.name, ctrlDo)
		if err != nil {
			return err
		}
		def.code = append(def.code, instr{op: opLoop, target: c.at})
		return nil
	case "I":
		def.code = append(def.code, instr{op: opI})
		return nil
	case `."`:
		text, ok := tz.until('"')
		if !ok {
			return &EvalError{Word: def.name, Err: ErrUnterminatedString}
		}
		def.code = append(def.code, instr{op: opPrint, s: text})
		return nil
	}

	if w, ok := m.dict[name]; ok {
		def.code = append(def.code, instr{op: opCall, w: w})
		return nil
	}
	if n, ok := parseNumber(tok); ok {
		def.code = append(def.code, instr{op: opLit, n: n})
		return nil
	}
	return &EvalError{Word: tok, Err: ErrUndefined}
}

func (m *Machine) popCtrl(def string, kinds ...ctrlKind) (ctrl, error) {
	if len(m.cstack) == 0 {
		return ctrl{}, &EvalError{Word: def, Err: ErrControlStructure}
	}
	c := m.cstack[len(m.cstack)-1]
	for _, k := range kinds {
		if c.kind == k {
			m.cstack = m.cstack[:len(m.cstack)-1]
			return c, nil
		}
	}
	return ctrl{}, &EvalError{Word: def, Err: ErrControlStructure}
}

// parseNumber accepts signed decimal and 0x-prefixed hex. Hex literals up
// to 0xFFFFFFFF are taken as raw 32-bit patterns.
func parseNumber(tok string) (Cell, bool) {
	if len(tok) > 2 && (tok[:2] == "0x" || tok[:2] == "0X") {
		u, err := strconv.ParseUint(tok[2:], 16, 32)
		if err != nil {
			return 0, false
		}
		return Cell(uint32(u)), true
	}
	n, err := strconv.ParseInt(tok, 10, 32)
	if err != nil {
		return 0, false
	}
	return Cell(n), true
}
