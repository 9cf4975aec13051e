// Package auditlog provides the append-only text trace of every
// selection and merge decision the reconciler makes. The trace exists
// for external verification of merge behavior; it plays no part in the
// algorithm's control flow and its exact line format is load-bearing
// only for auditability.
package auditlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Log is a mutex-guarded append-only writer. The pipeline processes
// station groups sequentially, so the lock only has to keep one
// group's message sequence contiguous, never to order groups.
type Log struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// New wraps an arbitrary writer, typically a buffer in tests.
func New(w io.Writer) *Log {
	return &Log{w: w}
}

// Open creates (or truncates) a trace file, making parent directories
// as needed.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit log dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Log{w: f, c: f}, nil
}

// Printf appends one formatted entry. Write errors are swallowed: the
// trace is advisory and must never fail a merge.
func (l *Log) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

// Close closes the underlying file, if any.
func (l *Log) Close() error {
	if l == nil || l.c == nil {
		return nil
	}
	return l.c.Close()
}
