package forth

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Errors surfaced by the interpreter. Primitives defined outside this
// package use ErrStackUnderflow and ErrStackOverflow via Need and Room.
var (
	ErrStackUnderflow       = errors.New("stack underflow")
	ErrStackOverflow        = errors.New("stack overflow")
	ErrReturnStackUnderflow = errors.New("return stack underflow")
	ErrReturnStackOverflow  = errors.New("return stack overflow")
	ErrUndefined            = errors.New("undefined word")
	ErrDivisionByZero       = errors.New("division by zero")
	ErrCompileOnly          = errors.New("compile-only word")
	ErrNestedDefinition     = errors.New("nested definition")
	ErrMissingName          = errors.New("missing name")
	ErrControlStructure     = errors.New("control structure mismatch")
	ErrUnterminatedString   = errors.New("unterminated string")
	ErrBadAddress           = errors.New("bad address")
	ErrBreak                = errors.New("break")
)

// EvalError ties an interpreter error to the word that raised it.
type EvalError struct {
	Word string
	Err  error
}

func (e *EvalError) Error() string {
	if e.Word == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Word
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// wrap attaches the word name unless err already carries one.
func wrap(word string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EvalError
	if errors.As(err, &ee) || errors.Is(err, ErrBreak) {
		return err
	}
	return &EvalError{Word: word, Err: err}
}

// message renders err the way it is shown on the terminal.
func message(err error) string {
	s := err.Error()
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.TrimSpace(s[size:]) + "."
}
