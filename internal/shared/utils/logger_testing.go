package utils

import (
	"io"
	"log"
)

// RedirectForTests points the category sink at w and returns a restore func.
func RedirectForTests(category LogCategory, w io.Writer, level LogLevel) func() {
	s := sinkFor(category)
	s.mu.Lock()
	prevOut, prevMirror, prevLevel := s.out, s.mirror, s.level
	s.out = log.New(w, "", 0)
	s.mirror = nil
	s.level = level
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.out, s.mirror, s.level = prevOut, prevMirror, prevLevel
		s.mu.Unlock()
	}
}
