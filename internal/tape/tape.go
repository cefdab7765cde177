package tape

import (
	"encoding/json"
	"sync"
	"time"
)

// Entry types written to the JSONL transcript.
const (
	TypeMeta    = "meta"
	TypeInput   = "input"
	TypeOutput  = "output"
	TypeControl = "control"
	TypeOutcome = "outcome"
)

// Control actions recorded on the tape.
const (
	ActionBreak   = "break"
	ActionRestart = "restart"
)

// EndReason describes how a terminal session ended.
type EndReason string

const (
	EndEOF      EndReason = "eof"      // client closed its input
	EndSignal   EndReason = "signal"   // process interrupted
	EndError    EndReason = "error"    // transport failure
	EndShutdown EndReason = "shutdown" // server stopped
)

// Input is a command line received from the client.
type Input struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Output is a chunk of drained interpreter output sent to the client.
type Output struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Control records a break or restart request and its result.
type Control struct {
	Action    string `json:"action"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// SessionOutcome captures the final tallies of a session.
type SessionOutcome struct {
	Reason     EndReason `json:"reason"`
	DurationMs int64     `json:"duration_ms"`
	Commands   int       `json:"commands"`
	Breaks     int       `json:"breaks"`
	Restarts   int       `json:"restarts"`
	OutputSize int       `json:"output_bytes"`
	Error      string    `json:"error,omitempty"`
}

// Tape holds the header and running tallies of one terminal session.
type Tape struct {
	SessionID string `json:"session_id"`
	Engine    string `json:"engine"`
	Transport string `json:"transport"`
	CreatedAt int64  `json:"created_at"`

	mu      sync.Mutex
	outcome SessionOutcome
}

// NewTape creates a Tape with CreatedAt set to now.
func NewTape(sessionID, engine, transport string) *Tape {
	return &Tape{
		SessionID: sessionID,
		Engine:    engine,
		Transport: transport,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// CountInput, CountOutput and CountControl update the tallies reported in
// the outcome entry.
func (t *Tape) CountInput() {
	t.mu.Lock()
	t.outcome.Commands++
	t.mu.Unlock()
}

func (t *Tape) CountOutput(n int) {
	t.mu.Lock()
	t.outcome.OutputSize += n
	t.mu.Unlock()
}

func (t *Tape) CountControl(action string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch action {
	case ActionBreak:
		t.outcome.Breaks++
	case ActionRestart:
		t.outcome.Restarts++
	}
}

// Outcome returns the tallies so far.
func (t *Tape) Outcome() SessionOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// ---------------------------------------------------------------------------
// JSONL entries
// ---------------------------------------------------------------------------

// TapeEntry is a single line in the JSONL tape file. The Type field
// discriminates the payload stored in Data.
type TapeEntry struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type meta struct {
	SessionID string `json:"session_id"`
	Engine    string `json:"engine"`
	Transport string `json:"transport"`
	CreatedAt int64  `json:"created_at"`
}

// MetaEntry returns the header entry.
func (t *Tape) MetaEntry() TapeEntry {
	data, _ := json.Marshal(meta{
		SessionID: t.SessionID,
		Engine:    t.Engine,
		Transport: t.Transport,
		CreatedAt: t.CreatedAt,
	})
	return TapeEntry{Type: TypeMeta, Data: data}
}

// OutcomeEntry closes the tape with the final tallies.
func (t *Tape) OutcomeEntry(reason EndReason, err error) TapeEntry {
	o := t.Outcome()
	o.Reason = reason
	o.DurationMs = time.Now().UnixMilli() - t.CreatedAt
	if err != nil {
		o.Error = err.Error()
	}
	data, _ := json.Marshal(o)
	return TapeEntry{Type: TypeOutcome, Data: data}
}

func stamp() int64 {
	return time.Now().UnixMilli()
}

// InputEntry wraps a received command line.
func InputEntry(text string) TapeEntry {
	data, _ := json.Marshal(Input{Text: text, Timestamp: stamp()})
	return TapeEntry{Type: TypeInput, Data: data}
}

// OutputEntry wraps a drained output chunk.
func OutputEntry(text string) TapeEntry {
	data, _ := json.Marshal(Output{Text: text, Timestamp: stamp()})
	return TapeEntry{Type: TypeOutput, Data: data}
}

// ControlEntry wraps a break or restart and its error, if any.
func ControlEntry(action string, err error) TapeEntry {
	c := Control{Action: action, OK: err == nil, Timestamp: stamp()}
	if err != nil {
		c.Error = err.Error()
	}
	data, _ := json.Marshal(c)
	return TapeEntry{Type: TypeControl, Data: data}
}
