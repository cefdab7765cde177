package runtime

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kehao95/atlterm/internal/forth"
	"github.com/kehao95/atlterm/internal/runtime/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func forthFactory(out io.Writer) (Engine, error) {
	return forth.New(out), nil
}

func newForthManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(forthFactory, Options{
		PollInterval:        time.Millisecond,
		RestartPollInterval: time.Millisecond,
		RestartMaxPolls:     2000,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, m.Stop()) })
	return m
}

func waitManagerIdle(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status().Idle() }, 5*time.Second, time.Millisecond)
}

// collect drains output until it contains want.
func collect(t *testing.T, m *Manager, want string) string {
	t.Helper()
	var sb strings.Builder
	require.Eventually(t, func() bool {
		sb.WriteString(m.DrainOutput())
		return strings.Contains(sb.String(), want)
	}, 5*time.Second, time.Millisecond, "output so far: %q", sb.String())
	return sb.String()
}

func TestManagerAddScenario(t *testing.T) {
	m := newForthManager(t)
	m.Submit("1 2 + .")
	waitManagerIdle(t, m)
	assert.Equal(t, "> 1 2 + .\n3 \n< ok\n", m.DrainOutput())
}

func TestManagerBackToBack(t *testing.T) {
	m := newForthManager(t)
	m.Submit("1 .")
	m.Submit("2 .")
	m.Submit("3 .")
	waitManagerIdle(t, m)

	out := m.DrainOutput()
	// Echoes land at submit time; results and acks are strictly ordered.
	for _, echo := range []string{"> 1 .\n", "> 2 .\n", "> 3 .\n"} {
		require.Equal(t, 1, strings.Count(out, echo), "output %q", out)
		out = strings.Replace(out, echo, "", 1)
	}
	assert.Equal(t, "1 \n< ok\n2 \n< ok\n3 \n< ok\n", out)
}

func TestManagerStatus(t *testing.T) {
	m, err := NewManager(forthFactory, Options{PollInterval: time.Millisecond})
	require.NoError(t, err)

	st := m.Status()
	assert.Equal(t, PhaseUninitialized, st.Phase)
	assert.Zero(t, st.Generation)
	assert.Nil(t, m.Done())

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	st = m.Status()
	assert.Equal(t, PhaseReady, st.Phase)
	assert.Equal(t, uint64(1), st.Generation)
	assert.NotNil(t, m.Done())
	assert.Equal(t, "ready", st.Phase.String())
}

func TestManagerStartTwice(t *testing.T) {
	m := newForthManager(t)
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)
}

func TestBreakIdleIsNoop(t *testing.T) {
	m := newForthManager(t)
	m.Submit("5 .")
	waitManagerIdle(t, m)
	before := m.DrainOutput()

	assert.False(t, m.Break())
	assert.False(t, m.Break())
	assert.False(t, m.HasOutput())

	m.Submit("6 .")
	waitManagerIdle(t, m)
	assert.Equal(t, "> 5 .\n5 \n< ok\n", before)
	assert.Equal(t, "> 6 .\n6 \n< ok\n", m.DrainOutput())
}

func TestBreakStopsRunningCommandAndDropsQueue(t *testing.T) {
	m := newForthManager(t)
	m.Submit(": spin begin again ;")
	waitManagerIdle(t, m)
	m.DrainOutput()

	m.Submit("spin")
	m.Submit("1 .")
	m.Submit("2 .")

	// An abort that lands before the engine starts evaluating is lost, so
	// keep breaking until the loop goes idle.
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(5 * time.Second)
	for !m.Status().Idle() {
		select {
		case <-tick.C:
			m.Break()
		case <-deadline:
			t.Fatal("spin was not interrupted")
		}
	}

	out := m.DrainOutput()
	assert.Contains(t, out, "Break.\n")
	assert.Equal(t, 1, strings.Count(out, "\n< ok\n"), "only spin is acknowledged: %q", out)
	assert.NotContains(t, out, "\n1 \n")
	assert.Zero(t, m.Status().Pending)

	m.Submit("3 .")
	waitManagerIdle(t, m)
	assert.Equal(t, "> 3 .\n3 \n< ok\n", m.DrainOutput())
}

func TestRestartReplacesExecutionContext(t *testing.T) {
	m := newForthManager(t)
	m.Submit(": sq dup * ;")
	m.Submit(": spin begin again ;")
	waitManagerIdle(t, m)
	m.DrainOutput()

	m.Submit("spin")
	m.Submit("7 .")
	require.Eventually(t, func() bool { return m.Status().Executing }, 5*time.Second, time.Millisecond)

	oldDone := m.Done()
	require.NoError(t, m.Restart())

	select {
	case <-oldDone:
	default:
		t.Fatal("old execution context still running after Restart")
	}
	st := m.Status()
	assert.Equal(t, uint64(2), st.Generation)
	assert.NotEqual(t, PhaseFaulted, st.Phase)

	// Interpreter state survives; the queued "7 ." does not.
	m.Submit("4 sq .")
	out := collect(t, m, "16 \n< ok\n")
	assert.NotContains(t, out, "\n7 \n")
	assert.Contains(t, out, "> spin\n> 7 .\n", "undrained output survives the restart")
	waitManagerIdle(t, m)
}

func TestRestartQueuesRecoveryCommand(t *testing.T) {
	m := newForthManager(t)
	require.NoError(t, m.Restart())
	waitManagerIdle(t, m)
	// The recovery command is not echoed; only its acknowledgement shows.
	assert.Equal(t, "\n< ok\n", m.DrainOutput())
}

func TestRestartBeforeStart(t *testing.T) {
	m, err := NewManager(forthFactory, Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Restart(), ErrNoExecutionContext)
	assert.Equal(t, PhaseUninitialized, m.Status().Phase)
}

func TestRestartStuckContextFaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)

	release := make(chan struct{})
	started := make(chan struct{})
	engine.EXPECT().Eval(gomock.Any(), "hang").DoAndReturn(func(ctx context.Context, cmd string) error {
		close(started)
		<-release // ignores ctx
		return nil
	}).Times(1)
	engine.EXPECT().Abort().AnyTimes()

	m, err := NewManager(func(io.Writer) (Engine, error) { return engine, nil }, Options{
		PollInterval:        time.Millisecond,
		RestartPollInterval: time.Millisecond,
		RestartMaxPolls:     5,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	m.Submit("hang")
	<-started

	err = m.Restart()
	assert.ErrorIs(t, err, ErrContextNotStopped)
	st := m.Status()
	assert.Equal(t, PhaseFaulted, st.Phase)
	assert.Equal(t, uint64(1), st.Generation)
	assert.Equal(t, "faulted", st.Phase.String())

	close(release)
	<-m.Done()
	require.NoError(t, m.Stop())
	assert.Equal(t, PhaseUninitialized, m.Status().Phase)
}

func TestStopIsIdempotent(t *testing.T) {
	m, err := NewManager(forthFactory, Options{PollInterval: time.Millisecond})
	require.NoError(t, err)
	assert.NoError(t, m.Stop())
	require.NoError(t, m.Start(context.Background()))
	assert.NoError(t, m.Stop())
	assert.NoError(t, m.Stop())
}

func TestStopMidCommandThenStart(t *testing.T) {
	m := newForthManager(t)
	m.Submit(": spin begin again ;")
	waitManagerIdle(t, m)
	m.DrainOutput()

	m.Submit("spin")
	m.Submit("9 .")
	require.Eventually(t, func() bool { return m.Status().Executing }, 5*time.Second, time.Millisecond)

	require.NoError(t, m.Stop())
	assert.Equal(t, PhaseUninitialized, m.Status().Phase)
	assert.Zero(t, m.Status().Pending)

	require.NoError(t, m.Start(context.Background()))
	m.Submit("1 2 + .")
	out := collect(t, m, "3 \n< ok\n")
	assert.Contains(t, out, "> spin\n> 9 .\n", "output from before Stop is kept")
	assert.NotContains(t, out, "\n9 \n")
	waitManagerIdle(t, m)
}

func TestSubmitDuringRestartIsNotLost(t *testing.T) {
	m, err := NewManager(func(io.Writer) (Engine, error) { return &recordingEngine{}, nil }, Options{
		PollInterval:        time.Millisecond,
		RestartPollInterval: time.Millisecond,
		RestartMaxPolls:     2000,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	stop := make(chan struct{})
	result := make(chan [2]int)
	go func() {
		var out strings.Builder
		submitted := 0
		for {
			select {
			case <-stop:
				out.WriteString(m.DrainOutput())
				result <- [2]int{submitted, strings.Count(out.String(), "> x\n")}
				return
			default:
			}
			m.Submit("x")
			submitted++
			out.WriteString(m.DrainOutput())
		}
	}()

	for i := 0; i < 50; i++ {
		require.NoError(t, m.Restart())
	}
	close(stop)
	r := <-result
	assert.Positive(t, r[0])
	assert.Equal(t, r[0], r[1], "every echo is drained exactly once")
}
