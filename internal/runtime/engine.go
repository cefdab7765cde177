package runtime

import (
	"context"
	"io"
)

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks github.com/kehao95/atlterm/internal/runtime Engine

// Engine evaluates one command string at a time for the execution loop.
//
// Eval runs synchronously and writes program output to the writer the
// engine was built with. It should return early once Abort has been called
// or ctx is done, at its next internal checkpoint.
//
// Abort may be called from any goroutine, at any time.
type Engine interface {
	Eval(ctx context.Context, command string) error
	Abort()
}

// EngineFactory builds the engine once, bound to the manager's output sink.
// The engine outlives restarts: interpreter state is kept across them.
type EngineFactory func(out io.Writer) (Engine, error)

// DefaultRecoveryCommand is queued after a restart when the engine does not
// provide its own. For the Forth engine it clears the return stack only.
const DefaultRecoveryCommand = "quit"

type recoverer interface {
	RecoveryCommand() string
}

func recoveryCommand(e Engine) string {
	if r, ok := e.(recoverer); ok {
		return r.RecoveryCommand()
	}
	return DefaultRecoveryCommand
}
