package runtime

import "strings"

// outputBuffer is the append-only text region of a Run State.
// It has no locking of its own: State serializes every access.
type outputBuffer struct {
	b strings.Builder
}

func (o *outputBuffer) append(s string) {
	o.b.WriteString(s)
}

// take returns everything appended so far and leaves the buffer empty.
func (o *outputBuffer) take() string {
	s := o.b.String()
	o.b.Reset()
	return s
}

func (o *outputBuffer) len() int {
	return o.b.Len()
}
