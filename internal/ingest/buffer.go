// Package ingest batches captured records and appends them to per-window
// JSON Lines files.
package ingest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	DefaultFlushThreshold = 1000
	Extension             = ".jsonl"
)

// ErrFlush marks a failure to persist buffered records. Records stay
// pending when it is returned.
var ErrFlush = errors.New("flush failed")

// Record is one captured message, encoded as a single line of JSON.
type Record = json.RawMessage

// FlushOutcome reports what a flush wrote.
type FlushOutcome struct {
	Name    string
	Path    string
	Records int
	// Persisted is true when every pending record reached the file. An
	// empty buffer counts as persisted.
	Persisted bool
}

// Buffer is owned by a single goroutine and is not safe for concurrent use.
type Buffer struct {
	dir        string
	name       string
	pending    []Record
	untilFlush int
	flushes    int
	onFlush    func(FlushOutcome)
}

// New creates a buffer writing <dir>/<name>.jsonl. The directory is created
// if it does not exist; an empty dir means the working directory.
func New(dir string, name string, untilFlush int) (*Buffer, error) {
	if untilFlush <= 0 {
		untilFlush = DefaultFlushThreshold
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("couldn't create directory %s: %w", dir, err)
		}
	}
	return &Buffer{
		dir:        dir,
		name:       name,
		pending:    make([]Record, 0, untilFlush),
		untilFlush: untilFlush,
	}, nil
}

func (b *Buffer) Name() string {
	return b.name
}

// Path is the file the pending records will be appended to.
func (b *Buffer) Path() string {
	return PathFor(b.dir, b.name)
}

// Len returns the number of pending records.
func (b *Buffer) Len() int {
	return len(b.pending)
}

// Flushes returns how many non-empty flushes have completed.
func (b *Buffer) Flushes() int {
	return b.flushes
}

// OnFlush registers fn to be called after every successful non-empty flush.
func (b *Buffer) OnFlush(fn func(FlushOutcome)) {
	b.onFlush = fn
}

// Append queues rec and flushes once the threshold is reached.
func (b *Buffer) Append(rec Record) error {
	b.pending = append(b.pending, rec)
	if len(b.pending) < b.untilFlush {
		return nil
	}
	_, err := b.Flush()
	return err
}

// Flush appends every pending record to the target file, one per line.
// Pending records are only dropped once all of them have been written.
func (b *Buffer) Flush() (FlushOutcome, error) {
	outcome := FlushOutcome{Name: b.name, Path: b.Path()}
	if len(b.pending) == 0 {
		outcome.Persisted = true
		return outcome, nil
	}

	if err := appendLines(outcome.Path, b.pending); err != nil {
		return outcome, fmt.Errorf("%w: %s: %w", ErrFlush, outcome.Path, err)
	}

	outcome.Records = len(b.pending)
	outcome.Persisted = true
	b.flushes++
	clear(b.pending)
	b.pending = b.pending[:0]
	if b.onFlush != nil {
		b.onFlush(outcome)
	}
	return outcome, nil
}

// Rotate flushes what is pending under the current name and then switches
// the target to newName. If the flush fails the target is left unchanged.
// The returned outcome describes the outgoing name.
func (b *Buffer) Rotate(newName string) (FlushOutcome, error) {
	outcome, err := b.Flush()
	if err != nil {
		return outcome, err
	}
	b.name = newName
	return outcome, nil
}

// PathFor returns the file a window named name is written to.
func PathFor(dir string, name string) string {
	filename := name + Extension
	if dir == "" {
		return filename
	}
	return filepath.Join(dir, filename)
}

func appendLines(path string, records []Record) (err error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	w := bufio.NewWriter(f)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}
