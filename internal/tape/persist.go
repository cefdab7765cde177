package tape

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Writer handles JSONL persistence of a Tape.
// It uses open-write-close semantics: the file is only held open during
// each write operation, allowing external tools (tail, transcript) to
// read the file freely between writes.
type Writer struct {
	path string
	mu   sync.Mutex // the input and output goroutines both write
}

// NewWriter creates a Writer for {dir}/{name}.jsonl. It creates the
// directory if needed.
func NewWriter(dir string, name string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating tape dir %q: %w", dir, err)
	}
	return &Writer{path: filepath.Join(dir, name+".jsonl")}, nil
}

// Path is the tape file location.
func (w *Writer) Path() string {
	return w.path
}

// WriteEntry appends a TapeEntry as a JSON line to the file.
// Uses open-write-sync-close pattern so the file is not held open.
func (w *Writer) WriteEntry(entry TapeEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshalling tape entry: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening tape file %q: %w", w.path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("writing tape entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing tape file: %w", err)
	}
	return nil
}
