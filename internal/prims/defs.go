package prims

import (
	"context"
	"errors"

	"github.com/kehao95/atlterm/internal/forth"
)

// Def describes one hardware word. In and Out are the operand and result
// counts checked before the word runs.
type Def struct {
	Name   string
	Effect string
	Doc    string
	In     int
	Out    int

	run func(s *Set, ctx context.Context, args []int) ([]int64, error)
}

var defs = []Def{
	{
		Name: "PINM", Effect: "( pin mode -- )", In: 2,
		Doc: "Set pin mode: 0 input, 1 output, 2 input with pull-up.",
		run: func(s *Set, _ context.Context, a []int) ([]int64, error) {
			return nil, s.PinMode(a[0], a[1])
		},
	},
	{
		Name: "PINW", Effect: "( pin value -- )", In: 2,
		Doc: "Drive a digital output; any non-zero value is high.",
		run: func(s *Set, _ context.Context, a []int) ([]int64, error) {
			return nil, s.PinWrite(a[0], a[1])
		},
	},
	{
		Name: "PINR", Effect: "( pin -- value )", In: 1, Out: 1,
		Doc: "Read a digital pin as 0 or 1.",
		run: func(s *Set, _ context.Context, a []int) ([]int64, error) {
			v, err := s.PinRead(a[0])
			return []int64{int64(v)}, err
		},
	},
	{
		Name: "DACW", Effect: "( pin value -- )", In: 2,
		Doc: "Write 0..255 to a DAC pin (25 or 26).",
		run: func(s *Set, _ context.Context, a []int) ([]int64, error) {
			return nil, s.DACWrite(a[0], a[1])
		},
	},
	{
		Name: "ADCR", Effect: "( pin -- raw )", In: 1, Out: 1,
		Doc: "Read a 12-bit analog value.",
		run: func(s *Set, _ context.Context, a []int) ([]int64, error) {
			v, err := s.ADCRead(a[0])
			return []int64{int64(v)}, err
		},
	},
	{
		Name: "ADCR_MV", Effect: "( pin -- mV )", In: 1, Out: 1,
		Doc: "Read an analog pin in millivolts.",
		run: func(s *Set, _ context.Context, a []int) ([]int64, error) {
			v, err := s.ADCReadMilliVolts(a[0])
			return []int64{int64(v)}, err
		},
	},
	{
		Name: "DELAY_MS", Effect: "( ms -- )", In: 1,
		Doc: "Sleep; negative values do nothing, long values are clamped. A break interrupts it.",
		run: func(s *Set, ctx context.Context, a []int) ([]int64, error) {
			return nil, s.Delay(ctx, a[0])
		},
	},
	{
		Name: "UPTIME_MS", Effect: "( -- ms )", Out: 1,
		Doc: "Milliseconds since boot; wraps after about 49.7 days.",
		run: func(s *Set, _ context.Context, _ []int) ([]int64, error) {
			return []int64{int64(s.UptimeMillis())}, nil
		},
	},
	{
		Name: "UPTIME_S", Effect: "( -- s )", Out: 1,
		Doc: "Seconds since boot.",
		run: func(s *Set, _ context.Context, _ []int) ([]int64, error) {
			return []int64{int64(s.UptimeSeconds())}, nil
		},
	},
	{
		Name: "FSSIZE", Effect: "( -- bytes )", Out: 1,
		Doc: "Flash filesystem size.",
		run: func(s *Set, _ context.Context, _ []int) ([]int64, error) {
			n, err := s.FSSize()
			return []int64{n}, err
		},
	},
	{
		Name: "FSUSED", Effect: "( -- bytes )", Out: 1,
		Doc: "Flash filesystem bytes in use.",
		run: func(s *Set, _ context.Context, _ []int) ([]int64, error) {
			n, err := s.FSUsed()
			return []int64{n}, err
		},
	},
	{
		Name: "FSFREE", Effect: "( -- bytes )", Out: 1,
		Doc: "Flash filesystem bytes free.",
		run: func(s *Set, _ context.Context, _ []int) ([]int64, error) {
			n, err := s.FSFree()
			return []int64{n}, err
		},
	},
}

// Defs returns the hardware word table.
func Defs() []Def {
	out := make([]Def, len(defs))
	copy(out, defs)
	return out
}

// Register adds every hardware word to m.
func (s *Set) Register(m *forth.Machine) {
	for _, d := range defs {
		m.Define(forth.Primitive{
			Name:   d.Name,
			Effect: d.Effect,
			Doc:    d.Doc,
			Fn:     s.primitive(d),
		})
	}
}

// primitive adapts a Def to the Forth stack. Operands are checked before
// anything is popped, so a failed word leaves the stack as it was.
func (s *Set) primitive(d Def) func(m *forth.Machine) error {
	return func(m *forth.Machine) error {
		if err := m.Need(d.In); err != nil {
			return err
		}
		if d.Out > d.In {
			if err := m.Room(d.Out - d.In); err != nil {
				return err
			}
		}
		args := make([]int, d.In)
		for i := range args {
			args[i] = int(m.Peek(d.In - 1 - i))
		}

		res, err := d.run(s, m.Context(), args)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// The operand is consumed even when the delay is cut short.
				m.Drop(d.In)
				return forth.ErrBreak
			}
			return err
		}

		m.Drop(d.In)
		for _, v := range res {
			if err := m.Push(clampInt32(v)); err != nil {
				return err
			}
		}
		return nil
	}
}
