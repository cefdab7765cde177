package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/kehao95/atlterm/internal/tape"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a TTY.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// OpenDevice opens a character device (a serial port) for reading and
// writing without making it the controlling terminal. Line settings are
// left as configured by the system.
func OpenDevice(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening device: %w", err)
	}
	return f, nil
}

// Transcripts opens one tape per session. A nil *Transcripts records
// nothing.
type Transcripts struct {
	Dir       string
	SessionID string
	Engine    string
}

// Open creates the tape for the session named name.
func (t *Transcripts) Open(name, transport string) (*tape.Tape, *tape.Writer, error) {
	if t == nil {
		return nil, nil, nil
	}
	w, err := tape.NewWriter(t.Dir, name)
	if err != nil {
		return nil, nil, err
	}
	return tape.NewTape(t.SessionID, t.Engine, transport), w, nil
}

// Server runs a Session per TCP client, one client at a time, all sharing
// the same Host.
type Server struct {
	Host        Host
	Options     Options // template for each session; Tape and Recorder are set per client
	Transcripts *Transcripts
	Log         *zap.Logger
}

// Serve accepts clients on l until ctx is cancelled. A second client waits
// in the accept backlog until the first disconnects.
func (srv *Server) Serve(ctx context.Context, l net.Listener) error {
	log := srv.Log
	if log == nil {
		log = zap.NewNop()
	}
	l = netutil.LimitListener(l, 1)
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for n := 1; ; n++ {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		log.Info("client connected", zap.String("remote", conn.RemoteAddr().String()), zap.Int("client", n))

		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			srv.handle(ctx, conn, n, log)
		}(n)
	}
}

func (srv *Server) handle(ctx context.Context, conn net.Conn, n int, log *zap.Logger) {
	defer conn.Close()
	// Closing the connection unblocks the session's reader.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	opts := srv.Options
	opts.Logger = log.With(zap.Int("client", n))
	name := "tcp"
	if srv.Transcripts != nil {
		name = fmt.Sprintf("%s-%d", srv.Transcripts.SessionID, n)
	}
	tp, w, err := srv.Transcripts.Open(name, "tcp")
	if err != nil {
		log.Warn("opening transcript", zap.Error(err))
	}
	opts.Tape, opts.Recorder = tp, w

	reason, err := NewSession(srv.Host, conn, conn, opts).Run(ctx)
	if err != nil && !isClosedConn(err) {
		log.Warn("client session", zap.Error(err))
	}
	log.Info("client disconnected", zap.Int("client", n), zap.String("reason", string(reason)))
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
