package runtime

import "errors"

var (
	// ErrSlotMismatch is returned by CompleteOne when the slot handed back is
	// not the one currently checked out (stale, foreign or already completed).
	ErrSlotMismatch = errors.New("slot is not the checked-out queue front")

	// ErrNoExecutionContext is returned by Restart when there is no live
	// execution context to tear down. It marks a broken lifecycle invariant.
	ErrNoExecutionContext = errors.New("no execution context to restart")

	// ErrContextNotStopped is returned by Restart when the torn-down execution
	// context did not confirm its exit within the configured number of polls.
	ErrContextNotStopped = errors.New("execution context did not stop")

	// ErrAlreadyStarted is returned by Start on a manager that is running.
	ErrAlreadyStarted = errors.New("manager already started")
)
