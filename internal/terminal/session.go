// Package terminal connects a client byte stream to the interpreter: it
// turns input lines into submissions and control requests, and pumps
// buffered output back to the client.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kehao95/atlterm/internal/linereader"
	"github.com/kehao95/atlterm/internal/runtime"
	"github.com/kehao95/atlterm/internal/tape"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Host is the interpreter side of a session. *runtime.Manager satisfies it.
type Host interface {
	Submit(command string)
	DrainOutput() string
	HasOutput() bool
	Break() bool
	Restart() error
	Status() runtime.Status
}

var _ Host = (*runtime.Manager)(nil)

// Default control words.
const (
	DefaultBreakWord      = "TESTBREAK"
	DefaultKillWord       = "TESTKILL"
	DefaultStatusWord     = "STATUS"
	DefaultOutputInterval = 20 * time.Millisecond
)

// Options configures a Session. Zero values select the defaults.
type Options struct {
	BreakWord      string
	KillWord       string
	StatusWord     string
	MaxLine        int
	OutputInterval time.Duration
	Banner         string // written before anything else when non-empty
	Logger         *zap.Logger

	// Tape and Recorder are optional; when both are set every submission,
	// control request and output chunk is recorded.
	Tape     *tape.Tape
	Recorder *tape.Writer
}

// Session serves one client.
type Session struct {
	host Host
	in   io.Reader
	opts Options
	log  *zap.Logger

	outMu sync.Mutex
	out   io.Writer
}

// NewSession builds a session reading commands from in and writing to out.
func NewSession(host Host, in io.Reader, out io.Writer, opts Options) *Session {
	if opts.BreakWord == "" {
		opts.BreakWord = DefaultBreakWord
	}
	if opts.KillWord == "" {
		opts.KillWord = DefaultKillWord
	}
	if opts.StatusWord == "" {
		opts.StatusWord = DefaultStatusWord
	}
	if opts.MaxLine <= 0 {
		opts.MaxLine = linereader.DefaultMaxLine
	}
	if opts.OutputInterval <= 0 {
		opts.OutputInterval = DefaultOutputInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Session{host: host, in: in, out: out, opts: opts, log: opts.Logger}
}

type readResult struct {
	line string
	err  error
}

// Run serves the client until its input ends and the interpreter has gone
// idle, or until ctx is cancelled. All output produced up to that point is
// flushed before Run returns. The transcript, if any, is opened with a
// meta entry and closed with an outcome entry.
func (s *Session) Run(ctx context.Context) (tape.EndReason, error) {
	if s.opts.Tape != nil {
		s.record(s.opts.Tape.MetaEntry())
	}
	reason, err := s.serve(ctx)
	if s.opts.Tape != nil {
		s.record(s.opts.Tape.OutcomeEntry(reason, err))
	}
	return reason, err
}

func (s *Session) serve(ctx context.Context) (tape.EndReason, error) {
	if s.opts.Banner != "" {
		if err := s.write(s.opts.Banner); err != nil {
			return tape.EndError, err
		}
	}

	// The reader goroutine may stay blocked in Read after Run returns; the
	// caller unblocks it by closing the input.
	stop := make(chan struct{})
	defer close(stop)
	lines := make(chan readResult)
	go s.readLines(lines, stop)

	inputDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(inputDone)
		return s.handleInput(gctx, lines)
	})
	g.Go(func() error {
		return s.pumpOutput(gctx, inputDone)
	})
	err := g.Wait()

	switch {
	case err != nil && ctx.Err() == nil:
		s.log.Warn("session ended with error", zap.Error(err))
		return tape.EndError, err
	case ctx.Err() != nil:
		return tape.EndSignal, nil
	}
	return tape.EndEOF, nil
}

func (s *Session) readLines(lines chan<- readResult, stop <-chan struct{}) {
	lr := linereader.New(s.in, s.opts.MaxLine)
	for {
		line, err := lr.ReadLine()
		select {
		case lines <- readResult{line, err}:
		case <-stop:
			return
		}
		if err != nil && !errors.Is(err, linereader.ErrLineTooLong) {
			return
		}
	}
}

// handleInput dispatches lines until the input ends, then waits for the
// interpreter to finish what was queued.
func (s *Session) handleInput(ctx context.Context, lines <-chan readResult) error {
	for {
		var r readResult
		select {
		case <-ctx.Done():
			return nil
		case r = <-lines:
		}

		switch {
		case errors.Is(r.err, linereader.ErrLineTooLong):
			s.log.Info("dropped over-length line", zap.Int("max", s.opts.MaxLine))
			if err := s.write(fmt.Sprintf("! line too long (max %d bytes)\n", s.opts.MaxLine)); err != nil {
				return err
			}
			continue
		case errors.Is(r.err, io.EOF):
			s.log.Debug("client input closed")
			return s.awaitIdle(ctx)
		case r.err != nil:
			return fmt.Errorf("reading client input: %w", r.err)
		}

		if err := s.dispatch(r.line); err != nil {
			return err
		}
	}
}

// dispatch handles one input line.
func (s *Session) dispatch(line string) error {
	word := strings.TrimSpace(line)
	switch word {
	case "":
		return nil
	case s.opts.BreakWord:
		acted := s.host.Break()
		s.log.Info("break", zap.Bool("was_executing", acted))
		s.recordControl(tape.ActionBreak, nil)
		return nil
	case s.opts.KillWord:
		err := s.host.Restart()
		s.recordControl(tape.ActionRestart, err)
		if err != nil {
			s.log.Error("restart", zap.Error(err))
			return s.write("! " + err.Error() + "\n")
		}
		return nil
	case s.opts.StatusWord:
		return s.write(formatStatus(s.host.Status()))
	}

	s.host.Submit(line)
	s.record(tape.InputEntry(line))
	if s.opts.Tape != nil {
		s.opts.Tape.CountInput()
	}
	return nil
}

func formatStatus(st runtime.Status) string {
	return fmt.Sprintf("* %s generation=%d pending=%d executing=%t buffered=%d\n",
		st.Phase, st.Generation, st.Pending, st.Executing, st.Buffered)
}

// awaitIdle waits until nothing is queued or executing.
func (s *Session) awaitIdle(ctx context.Context) error {
	t := time.NewTicker(s.opts.OutputInterval)
	defer t.Stop()
	for {
		if s.host.Status().Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// pumpOutput drains buffered output every OutputInterval.
func (s *Session) pumpOutput(ctx context.Context, inputDone <-chan struct{}) error {
	t := time.NewTicker(s.opts.OutputInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return s.flush()
		case <-inputDone:
			return s.flush()
		case <-t.C:
			if err := s.flush(); err != nil {
				return err
			}
		}
	}
}

func (s *Session) flush() error {
	if !s.host.HasOutput() {
		return nil
	}
	text := s.host.DrainOutput()
	if text == "" {
		return nil
	}
	s.record(tape.OutputEntry(text))
	if s.opts.Tape != nil {
		s.opts.Tape.CountOutput(len(text))
	}
	if err := s.write(text); err != nil {
		return fmt.Errorf("writing to client: %w", err)
	}
	return nil
}

func (s *Session) write(text string) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, err := io.WriteString(s.out, text)
	return err
}

func (s *Session) recordControl(action string, err error) {
	s.record(tape.ControlEntry(action, err))
	if s.opts.Tape != nil {
		s.opts.Tape.CountControl(action)
	}
}

func (s *Session) record(e tape.TapeEntry) {
	if s.opts.Recorder == nil {
		return
	}
	if err := s.opts.Recorder.WriteEntry(e); err != nil {
		s.log.Warn("recording transcript", zap.String("type", e.Type), zap.Error(err))
	}
}
