package runtime

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Phase is the lifecycle phase of the whole subsystem.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseReady
	PhaseRunning
	PhaseFaulted // a restart could not confirm the old context stopped
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseReady:
		return "ready"
	case PhaseRunning:
		return "running"
	case PhaseFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Options tunes the manager. Zero values fall back to the defaults below.
type Options struct {
	PollInterval        time.Duration // execution loop idle poll (default 100ms)
	RestartPollInterval time.Duration // restart stop-confirmation poll (default 50ms)
	RestartMaxPolls     int           // polls before Restart gives up (default 100)
	Logger              *zap.Logger
}

const (
	defaultPollInterval        = 100 * time.Millisecond
	defaultRestartPollInterval = 50 * time.Millisecond
	defaultRestartMaxPolls     = 100
)

// Status describes the subsystem at a point in time.
type Status struct {
	Phase      Phase
	Generation uint64
	Snapshot
}

// Manager owns the Run State, the engine and the single execution context.
// It is the only surface the producer talks to.
type Manager struct {
	engine   Engine
	recovery string
	opts     Options
	log      *zap.Logger

	state atomic.Pointer[State]

	// restartMu serializes Start, Restart and Stop. It is never taken by the
	// producer's Submit/DrainOutput path.
	restartMu sync.Mutex

	mu      sync.Mutex // guards the fields below
	exec    *execContext
	gen     uint64
	parent  context.Context
	faulted bool
}

// NewManager builds the engine through factory, wiring its output into the
// current Run State. The manager starts UNINITIALIZED; call Start.
func NewManager(factory EngineFactory, opts Options) (*Manager, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RestartPollInterval <= 0 {
		opts.RestartPollInterval = defaultRestartPollInterval
	}
	if opts.RestartMaxPolls <= 0 {
		opts.RestartMaxPolls = defaultRestartMaxPolls
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := &Manager{opts: opts, log: opts.Logger}
	m.state.Store(NewState())

	engine, err := factory(outputSink{m})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	m.engine = engine
	m.recovery = recoveryCommand(engine)
	return m, nil
}

// outputSink routes engine output into whichever Run State is current.
type outputSink struct{ m *Manager }

func (o outputSink) Write(p []byte) (int, error) {
	text := string(p)
	for !o.m.state.Load().tryAppend(text) {
	}
	return len(p), nil
}

var _ io.Writer = outputSink{}

// Start creates the first execution context. ctx bounds the lifetime of
// every execution context the manager creates.
func (m *Manager) Start(ctx context.Context) error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exec != nil {
		return ErrAlreadyStarted
	}
	m.parent = ctx
	m.spawnLocked(m.state.Load())
	m.log.Info("interpreter started", zap.Uint64("generation", m.gen))
	return nil
}

// spawnLocked starts a new execution context on st. Caller must hold m.mu.
func (m *Manager) spawnLocked(st *State) *execContext {
	m.gen++
	ctx, cancel := context.WithCancel(m.parent)
	x := &execContext{
		gen:    m.gen,
		state:  st,
		engine: m.engine,
		poll:   m.opts.PollInterval,
		log:    m.log,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.exec = x
	go x.run(ctx)
	return x
}

// Submit queues a command for execution.
func (m *Manager) Submit(command string) {
	for !m.state.Load().trySubmit(command) {
	}
}

// DrainOutput takes all buffered output.
func (m *Manager) DrainOutput() string {
	return m.state.Load().DrainOutput()
}

// HasOutput reports whether output is waiting to be drained.
func (m *Manager) HasOutput() bool {
	return m.state.Load().HasOutput()
}

// Break asks the running program to stop and drops the rest of the queue.
// It is a no-op when nothing is executing and reports whether it acted.
func (m *Manager) Break() bool {
	st := m.state.Load()
	if !st.IsExecuting() {
		return false
	}
	st.RequestCancel()
	m.engine.Abort()
	m.log.Info("break requested")
	return true
}

// Restart tears down the execution context and its Run State and builds
// fresh ones. Undrained output survives; queued commands do not. The
// engine's interpreter state is kept and the recovery command is queued.
func (m *Manager) Restart() error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	m.Break()

	m.mu.Lock()
	old := m.exec
	m.mu.Unlock()
	if old == nil {
		m.log.Error("restart requested with no execution context")
		return ErrNoExecutionContext
	}

	old.cancel()
	if err := m.awaitStopped(old); err != nil {
		m.mu.Lock()
		m.faulted = true
		m.mu.Unlock()
		m.log.Error("restart failed", zap.Uint64("generation", old.gen), zap.Error(err))
		return err
	}

	fresh := m.replaceState()

	m.mu.Lock()
	next := m.spawnLocked(fresh)
	m.faulted = false
	m.mu.Unlock()

	if m.recovery != "" {
		fresh.enqueue(m.recovery)
	}
	m.log.Info("interpreter restarted",
		zap.Uint64("old_generation", old.gen),
		zap.Uint64("generation", next.gen))
	return nil
}

// replaceState installs a fresh Run State carrying over the undrained
// output. Queued commands and flags are dropped. Producers that raced the
// swap retry against the fresh state.
func (m *Manager) replaceState() *State {
	fresh := NewState()
	m.state.Load().retireInto(fresh, func() { m.state.Store(fresh) })
	return fresh
}

// awaitStopped polls the context's completion signal a bounded number of
// times.
func (m *Manager) awaitStopped(x *execContext) error {
	for i := 0; i < m.opts.RestartMaxPolls; i++ {
		select {
		case <-x.done:
			return nil
		default:
		}
		time.Sleep(m.opts.RestartPollInterval)
	}
	select {
	case <-x.done:
		return nil
	default:
	}
	return fmt.Errorf("%w: generation %d after %d polls", ErrContextNotStopped, x.gen, m.opts.RestartMaxPolls)
}

// Stop tears down the execution context without creating a new one.
func (m *Manager) Stop() error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	m.Break()

	m.mu.Lock()
	x := m.exec
	m.mu.Unlock()
	if x == nil {
		return nil
	}
	x.cancel()
	if err := m.awaitStopped(x); err != nil {
		return err
	}

	// The loop may have been cut off mid-drain; a later Start gets a clean
	// state.
	m.replaceState()

	m.mu.Lock()
	m.exec = nil
	m.faulted = false
	m.mu.Unlock()
	m.log.Info("interpreter stopped", zap.Uint64("generation", x.gen))
	return nil
}

// Status reports the current phase, generation and Run State snapshot.
func (m *Manager) Status() Status {
	snap := m.state.Load().Snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{Generation: m.gen, Snapshot: snap}
	switch {
	case m.exec == nil:
		st.Phase = PhaseUninitialized
	case m.faulted:
		st.Phase = PhaseFaulted
	case snap.Executing:
		st.Phase = PhaseRunning
	default:
		st.Phase = PhaseReady
	}
	return st
}

// Done returns a channel closed when the current execution context exits.
// It returns nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exec == nil {
		return nil
	}
	return m.exec.done
}
