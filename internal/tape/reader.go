package tape

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// TapeSummary holds the parsed header and current state of a tape file.
// It is the read-side counterpart to the write-side Writer.
type TapeSummary struct {
	SessionID string          `json:"session_id"`
	Engine    string          `json:"engine"`
	Transport string          `json:"transport"`
	CreatedAt int64           `json:"created_at"`
	Entries   []TapeEntry     `json:"entries"`
	Inputs    []Input         `json:"inputs"`
	Controls  []Control       `json:"controls"`
	Output    string          `json:"output"`
	Outcome   *SessionOutcome `json:"outcome,omitempty"`
}

// ReadTapeFile reads and parses a complete JSONL tape file from disk.
func ReadTapeFile(path string) (*TapeSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening tape file %q: %w", path, err)
	}
	defer f.Close()

	return ReadTape(f)
}

// ReadTape parses a JSONL tape stream. Inputs, controls and the
// concatenated output are collected alongside the raw entries; an
// "outcome" entry is stored in TapeSummary.Outcome.
func ReadTape(r io.Reader) (*TapeSummary, error) {
	scanner := bufio.NewScanner(r)
	// Output chunks can be large.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	summary := &TapeSummary{}
	var out strings.Builder

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry TapeEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("line %d: unmarshal entry: %w", lineNum, err)
		}

		switch entry.Type {
		case TypeMeta:
			if summary.SessionID != "" {
				// A reused session ID appends a second header; keep the first.
				continue
			}
			var m meta
			if err := json.Unmarshal(entry.Data, &m); err != nil {
				return nil, fmt.Errorf("line %d: unmarshal meta: %w", lineNum, err)
			}
			summary.SessionID = m.SessionID
			summary.Engine = m.Engine
			summary.Transport = m.Transport
			summary.CreatedAt = m.CreatedAt

		case TypeInput:
			var in Input
			if err := json.Unmarshal(entry.Data, &in); err != nil {
				return nil, fmt.Errorf("line %d: unmarshal input: %w", lineNum, err)
			}
			summary.Inputs = append(summary.Inputs, in)

		case TypeOutput:
			var o Output
			if err := json.Unmarshal(entry.Data, &o); err != nil {
				return nil, fmt.Errorf("line %d: unmarshal output: %w", lineNum, err)
			}
			out.WriteString(o.Text)

		case TypeControl:
			var c Control
			if err := json.Unmarshal(entry.Data, &c); err != nil {
				return nil, fmt.Errorf("line %d: unmarshal control: %w", lineNum, err)
			}
			summary.Controls = append(summary.Controls, c)

		case TypeOutcome:
			var outcome SessionOutcome
			if err := json.Unmarshal(entry.Data, &outcome); err != nil {
				return nil, fmt.Errorf("line %d: unmarshal outcome: %w", lineNum, err)
			}
			summary.Outcome = &outcome
		}

		summary.Entries = append(summary.Entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning tape: %w", err)
	}

	if lineNum == 0 {
		return nil, fmt.Errorf("empty tape file")
	}

	summary.Output = out.String()
	return summary, nil
}

// TailLastEntry reads the last complete line of a tape file and returns
// the parsed TapeEntry, so a live session can be checked for an outcome
// without reading the entire file.
func TailLastEntry(path string) (*TapeEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening tape file %q: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat tape file: %w", err)
	}
	line, err := lastLine(f, info.Size())
	if err != nil {
		return nil, err
	}

	var entry TapeEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal last entry: %w", err)
	}
	return &entry, nil
}

const tailChunk = 4096

// lastLine scans backwards from size in tailChunk steps and returns the
// final line without its newline.
func lastLine(r io.ReaderAt, size int64) ([]byte, error) {
	if size == 0 {
		return nil, fmt.Errorf("empty tape file")
	}

	var buf []byte
	for end := size; end > 0; {
		start := max(0, end-tailChunk)
		chunk := make([]byte, end-start)
		if _, err := r.ReadAt(chunk, start); err != nil {
			return nil, fmt.Errorf("reading chunk: %w", err)
		}
		buf = append(chunk, buf...)
		end = start

		body := bytes.TrimRight(buf, "\n")
		if i := bytes.LastIndexByte(body, '\n'); i >= 0 {
			return body[i+1:], nil
		}
		if end == 0 && len(body) > 0 {
			return body, nil
		}
	}
	return nil, fmt.Errorf("no valid line found")
}
