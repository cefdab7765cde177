// Package board models the microcontroller pins and clock that the hardware
// primitives drive.
package board

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Pin modes accepted by PinMode.
const (
	Input       = 0
	Output      = 1
	InputPullup = 2
)

// Analog characteristics of the simulated part.
const (
	NumPins       = 40
	ADCMax        = 4095
	DACMax        = 255
	FullScaleMilV = 3300
)

var (
	ErrBadPin  = errors.New("invalid pin")
	ErrBadMode = errors.New("invalid pin mode")
	ErrNoDAC   = errors.New("pin has no DAC")
)

// Board is the hardware surface available to interpreter primitives.
type Board interface {
	PinMode(pin, mode int) error
	DigitalWrite(pin, value int) error
	DigitalRead(pin int) (int, error)
	DACWrite(pin, value int) error
	AnalogRead(pin int) (int, error)
	AnalogReadMilliVolts(pin int) (int, error)
	Uptime() time.Duration
}

type pinState struct {
	mode  int
	level int
	dac   int
}

// Sim is an in-memory board. Digital outputs latch, reading an output pin
// returns the latched level and reading an input returns 0 (1 with the
// pull-up). DAC pins feed the ADC on the same pin.
type Sim struct {
	mu    sync.Mutex
	pins  [NumPins]pinState
	dacs  map[int]bool
	start time.Time
	now   func() time.Time
}

// SimOption configures a Sim.
type SimOption func(*Sim)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SimOption {
	return func(s *Sim) { s.now = now }
}

// NewSim returns a board with ESP32 pin numbering: pins 0..39, DAC on 25
// and 26.
func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		dacs: map[int]bool{25: true, 26: true},
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.start = s.now()
	return s
}

func checkPin(pin int) error {
	if pin < 0 || pin >= NumPins {
		return fmt.Errorf("%w: %d", ErrBadPin, pin)
	}
	return nil
}

func (s *Sim) PinMode(pin, mode int) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	switch mode {
	case Input, Output, InputPullup:
	default:
		return fmt.Errorf("%w: %d", ErrBadMode, mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[pin].mode = mode
	return nil
}

func (s *Sim) DigitalWrite(pin, value int) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if value != 0 {
		value = 1
	}
	s.pins[pin].level = value
	return nil
}

func (s *Sim) DigitalRead(pin int) (int, error) {
	if err := checkPin(pin); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pins[pin]
	switch p.mode {
	case Output:
		return p.level, nil
	case InputPullup:
		return 1, nil
	}
	return 0, nil
}

// DACWrite clamps value to 0..255.
func (s *Sim) DACWrite(pin, value int) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	if !s.dacs[pin] {
		return fmt.Errorf("%w: %d", ErrNoDAC, pin)
	}
	value = max(0, min(DACMax, value))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[pin].dac = value
	return nil
}

func (s *Sim) AnalogRead(pin int) (int, error) {
	if err := checkPin(pin); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins[pin].dac * ADCMax / DACMax, nil
}

func (s *Sim) AnalogReadMilliVolts(pin int) (int, error) {
	if err := checkPin(pin); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins[pin].dac * FullScaleMilV / DACMax, nil
}

func (s *Sim) Uptime() time.Duration {
	return s.now().Sub(s.start)
}

var _ Board = (*Sim)(nil)
