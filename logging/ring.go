package logging

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// Ring is an io.Writer that keeps the last N lines written to it.
type Ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewRing returns a ring holding up to size lines.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = defaultMaxLines
	}
	return &Ring{lines: make([]string, size)}
}

func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		r.lines[r.next] = line
		r.next = (r.next + 1) % len(r.lines)
		if r.next == 0 {
			r.full = true
		}
	}
	return len(p), nil
}

// Lines returns a copy of the buffered lines, oldest first.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

// TrimmedFile appends log lines to a file and periodically rewrites it so
// that no more than maxLines remain.
type TrimmedFile struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	maxLines int
	written  int
}

// OpenTrimmed opens (creating parent directories) the log file at path.
func OpenTrimmed(path string, maxLines int) (*TrimmedFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	t := &TrimmedFile{path: path, f: f, maxLines: maxLines}
	if err := t.trimLocked(); err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

func (t *TrimmedFile) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return len(p), nil
	}
	n, err := t.f.Write(p)
	if err != nil {
		return n, err
	}
	t.written += bytes.Count(p, []byte("\n"))
	// The file never holds more than 2*maxLines lines between trims.
	if t.written >= t.maxLines {
		if err := t.trimLocked(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (t *TrimmedFile) trimLocked() error {
	t.written = 0
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("read log file: %w", err)
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) <= t.maxLines {
		return nil
	}
	lines = lines[len(lines)-t.maxLines:]

	if t.f != nil {
		t.f.Close()
	}
	if err := renameio.WriteFile(t.path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return fmt.Errorf("rewrite log file: %w", err)
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.f = nil
		return fmt.Errorf("reopen log file: %w", err)
	}
	t.f = f
	return nil
}

// Close closes the underlying file.
func (t *TrimmedFile) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}
