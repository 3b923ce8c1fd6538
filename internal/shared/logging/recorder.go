package logging

import (
	"fmt"
	"strings"
	"sync"
)

// Recorder is an in-memory Logger used by tests to assert on emitted lines.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *Recorder) record(level, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, level+" "+fmt.Sprintf(format, args...))
}

func (r *Recorder) Debug(format string, args ...any) { r.record("DEBUG", format, args...) }
func (r *Recorder) Info(format string, args ...any)  { r.record("INFO", format, args...) }
func (r *Recorder) Warn(format string, args ...any)  { r.record("WARN", format, args...) }
func (r *Recorder) Error(format string, args ...any) { r.record("ERROR", format, args...) }

// Lines returns a copy of every recorded line.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Contains reports whether any recorded line contains substr.
func (r *Recorder) Contains(substr string) bool {
	for _, line := range r.Lines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
