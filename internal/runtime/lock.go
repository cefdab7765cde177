package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DeviceLock keeps two atlterm processes from driving the same device.
// Lock files live in {DataDir}/locks/ and hold "{sessionID} {pid}".
type DeviceLock struct {
	lockDir   string
	name      string
	sessionID string
	log       *zap.Logger

	// poll and warnAfter are overridable for tests.
	poll      time.Duration
	warnAfter time.Duration

	mu       sync.Mutex
	lockFile string // path of the held lock file, or "" if none
}

// NewDeviceLock creates a lock for device (a path or address). The device
// string is flattened into a file name.
func NewDeviceLock(lockDir, device, sessionID string, log *zap.Logger) *DeviceLock {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeviceLock{
		lockDir:   lockDir,
		name:      lockName(device),
		sessionID: sessionID,
		log:       log,
		poll:      time.Second,
		warnAfter: 60 * time.Second,
	}
}

func lockName(device string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	name := strings.Trim(r.Replace(device), "_")
	if name == "" {
		name = "default"
	}
	return name + ".lock"
}

// Acquire blocks until the lock is held or ctx is done. Locks left behind
// by dead processes are removed. If blocked for longer than a minute a
// warning is logged once.
func (l *DeviceLock) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(l.lockDir, 0o755); err != nil {
		return fmt.Errorf("device lock: creating lock dir: %w", err)
	}
	path := filepath.Join(l.lockDir, l.name)
	content := fmt.Sprintf("%s %d\n", l.sessionID, os.Getpid())

	start := time.Now()
	warned := false

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(content)
			f.Close()
			if werr != nil {
				os.Remove(path)
				return fmt.Errorf("device lock: writing lock file: %w", werr)
			}
			l.mu.Lock()
			l.lockFile = path
			l.mu.Unlock()
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("device lock: creating lock file: %w", err)
		}

		if l.removeStale(path) {
			continue
		}

		if !warned && time.Since(start) > l.warnAfter {
			holder, _ := l.Holder()
			l.log.Warn("device lock blocked", zap.String("lock", path), zap.String("holder", holder))
			warned = true
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("device lock: %w", ctx.Err())
		case <-time.After(l.poll):
		}
	}
}

// removeStale deletes the lock file if its owning process is gone.
func (l *DeviceLock) removeStale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return false
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil || pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); !errors.Is(err, unix.ESRCH) {
		return false
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false
	}
	l.log.Info("removed stale device lock", zap.String("lock", path), zap.Int("pid", pid))
	return true
}

// Release removes the lock file.
func (l *DeviceLock) Release() error {
	l.mu.Lock()
	path := l.lockFile
	l.lockFile = ""
	l.mu.Unlock()

	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("device lock: removing lock file: %w", err)
	}
	return nil
}

// Holder returns the session ID recorded in the lock file, if any.
func (l *DeviceLock) Holder() (string, bool) {
	data, err := os.ReadFile(filepath.Join(l.lockDir, l.name))
	if err != nil {
		return "", false
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}
