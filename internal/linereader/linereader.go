// Package linereader splits a terminal byte stream into command lines.
package linereader

import (
	"bufio"
	"errors"
	"io"
)

// DefaultMaxLine is the longest accepted command line in bytes: a 256-byte
// serial buffer less its terminating NUL.
const DefaultMaxLine = 255

// ErrLineTooLong is returned for a line that exceeded the maximum. The
// whole line, terminator included, has been consumed.
var ErrLineTooLong = errors.New("line too long")

// Reader reads lines terminated by "\n", "\r" or "\r\n".
type Reader struct {
	r       *bufio.Reader
	max     int
	afterCR bool
}

// New returns a Reader; max <= 0 selects DefaultMaxLine.
func New(r io.Reader, max int) *Reader {
	if max <= 0 {
		max = DefaultMaxLine
	}
	return &Reader{r: bufio.NewReader(r), max: max}
}

// ReadLine returns the next line without its terminator. At EOF a pending
// partial line is returned first and io.EOF on the following call. Any
// other read error is returned as is and the partial line is discarded.
func (lr *Reader) ReadLine() (string, error) {
	buf := make([]byte, 0, 64)
	overflow := false
	for {
		c, err := lr.r.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return "", err
			}
			if overflow {
				return "", ErrLineTooLong
			}
			if len(buf) > 0 {
				return string(buf), nil
			}
			return "", err
		}

		if lr.afterCR {
			lr.afterCR = false
			if c == '\n' {
				continue
			}
		}

		switch c {
		case '\r':
			lr.afterCR = true
			fallthrough
		case '\n':
			if overflow {
				return "", ErrLineTooLong
			}
			return string(buf), nil
		}

		if overflow {
			continue
		}
		if len(buf) >= lr.max {
			overflow = true
			buf = buf[:0]
			continue
		}
		buf = append(buf, c)
	}
}
