// Package goscript is an engine that evaluates each command as Go source in
// a persistent yaegi interpreter. The hardware words are importable as
// package "hw".
package goscript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/kehao95/atlterm/internal/prims"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// ErrBreak is returned when Abort interrupted an evaluation.
var ErrBreak = errors.New("break")

// Engine wraps a yaegi interpreter. Declarations persist across Eval
// calls.
type Engine struct {
	in  *interp.Interpreter
	out io.Writer
	hw  *prims.Set

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an interpreter writing to out, with fmt and hw pre-imported.
func New(out io.Writer, hw *prims.Set) (*Engine, error) {
	e := &Engine{out: out, hw: hw, ctx: context.Background()}
	e.in = interp.New(interp.Options{Stdout: out, Stderr: out})
	if err := e.in.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib: %w", err)
	}
	if err := e.in.Use(e.exports()); err != nil {
		return nil, fmt.Errorf("load hw: %w", err)
	}
	for _, pkg := range []string{"fmt", "hw"} {
		if _, err := e.in.Eval(fmt.Sprintf("import %q", pkg)); err != nil {
			return nil, fmt.Errorf("import %s: %w", pkg, err)
		}
	}
	return e, nil
}

// exports maps the hardware primitives into package hw. Sizes are int;
// Delay observes the context of the evaluation in progress.
func (e *Engine) exports() interp.Exports {
	s := e.hw
	return interp.Exports{
		"hw/hw": map[string]reflect.Value{
			"PinMode":           reflect.ValueOf(s.PinMode),
			"PinWrite":          reflect.ValueOf(s.PinWrite),
			"PinRead":           reflect.ValueOf(s.PinRead),
			"DACWrite":          reflect.ValueOf(s.DACWrite),
			"ADCRead":           reflect.ValueOf(s.ADCRead),
			"ADCReadMilliVolts": reflect.ValueOf(s.ADCReadMilliVolts),
			"UptimeMillis":      reflect.ValueOf(s.UptimeMillis),
			"UptimeSeconds":     reflect.ValueOf(s.UptimeSeconds),
			"FSSize":            reflect.ValueOf(s.FSSize),
			"FSUsed":            reflect.ValueOf(s.FSUsed),
			"FSFree":            reflect.ValueOf(s.FSFree),
			"Delay": reflect.ValueOf(func(ms int) error {
				return s.Delay(e.evalContext(), ms)
			}),
		},
	}
}

func (e *Engine) evalContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx
}

// Eval evaluates command. Errors are printed to the output and returned.
func (e *Engine) Eval(ctx context.Context, command string) error {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.ctx, e.cancel = ctx, cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.ctx, e.cancel = context.Background(), nil
		e.mu.Unlock()
		cancel()
	}()

	_, err := e.in.EvalWithContext(ctx, command)
	// A cancelled hw.Delay returns normally, so the context decides.
	if ctx.Err() != nil {
		fmt.Fprintln(e.out, "Break.")
		return ErrBreak
	}
	if err != nil {
		fmt.Fprintf(e.out, "Error: %v\n", err)
		return err
	}
	return nil
}

// Abort cancels the evaluation in progress.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// RecoveryCommand is empty: there is no return stack to reset.
func (e *Engine) RecoveryCommand() string {
	return ""
}
