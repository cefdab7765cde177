// Package prims implements the hardware words: GPIO, DAC/ADC, delays,
// uptime and flash usage. The same Set backs the Forth dictionary and the
// hw package of the Go-script engine.
package prims

import (
	"context"
	"math"
	"time"

	"github.com/kehao95/atlterm/internal/board"
	"go.uber.org/zap"
)

// DefaultMaxDelay caps a single DELAY_MS.
const DefaultMaxDelay = 60 * time.Second

// Volume reports flash usage in bytes.
type Volume interface {
	Total() (int64, error)
	Used() (int64, error)
	Free() (int64, error)
}

// Set binds the primitives to a board and a volume.
type Set struct {
	Board    board.Board
	Volume   Volume
	MaxDelay time.Duration
	Log      *zap.Logger
}

// New returns a Set with defaults filled in. vol may be nil, in which case
// the filesystem words report zero.
func New(b board.Board, vol Volume, maxDelay time.Duration, log *zap.Logger) *Set {
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Set{Board: b, Volume: vol, MaxDelay: maxDelay, Log: log}
}

func (s *Set) PinMode(pin, mode int) error {
	return s.Board.PinMode(pin, mode)
}

func (s *Set) PinWrite(pin, value int) error {
	return s.Board.DigitalWrite(pin, value)
}

func (s *Set) PinRead(pin int) (int, error) {
	return s.Board.DigitalRead(pin)
}

func (s *Set) DACWrite(pin, value int) error {
	return s.Board.DACWrite(pin, value)
}

func (s *Set) ADCRead(pin int) (int, error) {
	return s.Board.AnalogRead(pin)
}

func (s *Set) ADCReadMilliVolts(pin int) (int, error) {
	return s.Board.AnalogReadMilliVolts(pin)
}

// Delay sleeps for ms milliseconds. A negative ms returns at once and an
// ms above MaxDelay is clamped. It returns ctx.Err() if ctx ends first.
func (s *Set) Delay(ctx context.Context, ms int) error {
	if ms <= 0 {
		return ctx.Err()
	}
	d := time.Duration(ms) * time.Millisecond
	if d > s.MaxDelay {
		s.Log.Debug("delay clamped", zap.Int("requested_ms", ms), zap.Duration("max", s.MaxDelay))
		d = s.MaxDelay
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UptimeMillis wraps like a 32-bit millisecond counter.
func (s *Set) UptimeMillis() int32 {
	return int32(uint32(s.Board.Uptime().Milliseconds()))
}

func (s *Set) UptimeSeconds() int32 {
	return clampInt32(int64(s.Board.Uptime() / time.Second))
}

func (s *Set) FSSize() (int64, error) {
	if s.Volume == nil {
		return 0, nil
	}
	return s.Volume.Total()
}

func (s *Set) FSUsed() (int64, error) {
	if s.Volume == nil {
		return 0, nil
	}
	return s.Volume.Used()
}

func (s *Set) FSFree() (int64, error) {
	if s.Volume == nil {
		return 0, nil
	}
	return s.Volume.Free()
}

func clampInt32(n int64) int32 {
	switch {
	case n > math.MaxInt32:
		return math.MaxInt32
	case n < math.MinInt32:
		return math.MinInt32
	}
	return int32(n)
}
