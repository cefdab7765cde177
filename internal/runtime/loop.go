package runtime

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// execContext is one execution context: the goroutine running the
// execution loop against a single Run State. It is identified by its
// generation and signals its exit by closing done.
type execContext struct {
	gen    uint64
	state  *State
	engine Engine
	poll   time.Duration
	log    *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// run is the perpetual consumer: WAITING -> RUNNING -> EXECUTING -> RESET.
// It only returns when its context is cancelled.
func (x *execContext) run(ctx context.Context) {
	defer close(x.done)
	x.log.Debug("execution context started", zap.Uint64("generation", x.gen))
	defer x.log.Debug("execution context stopped", zap.Uint64("generation", x.gen))

	for {
		if !x.wait(ctx) {
			return
		}
		if !x.drain(ctx) {
			return
		}
		if n := x.state.EndRun(); n > 0 {
			x.log.Info("discarded queued commands after break",
				zap.Uint64("generation", x.gen), zap.Int("count", n))
		}
	}
}

// wait polls TryBeginRun until the state becomes runnable.
func (x *execContext) wait(ctx context.Context) bool {
	timer := time.NewTimer(x.poll)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return false
		}
		if x.state.TryBeginRun() {
			return true
		}
		timer.Reset(x.poll)
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
	}
}

// drain executes queued commands in order until the queue is empty or a
// cancel was requested. It returns false if the context was torn down.
func (x *execContext) drain(ctx context.Context) bool {
	for {
		slot, ok := x.state.DrainOne()
		if !ok {
			return ctx.Err() == nil
		}
		if ctx.Err() != nil {
			return false
		}

		// The lock is not held here, so Submit can keep queueing.
		if err := x.engine.Eval(ctx, slot.Command); err != nil {
			x.log.Debug("command returned error",
				zap.Uint64("generation", x.gen),
				zap.String("command", truncateStr(slot.Command, 60)),
				zap.Error(err))
		}

		// Torn down mid-command: the slot is abandoned, not acknowledged.
		if ctx.Err() != nil {
			return false
		}
		if err := x.state.CompleteOne(slot); err != nil {
			x.log.Warn("completing command", zap.Uint64("generation", x.gen), zap.Error(err))
		}
	}
}

// truncateStr truncates s to at most maxLen bytes, appending "..." if
// truncated. The cut never splits a UTF-8 sequence.
func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
