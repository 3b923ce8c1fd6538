// Package memstore keeps sessions in process memory. It is the default store
// for tests and the offline CLI.
package memstore

import (
	"context"
	"strings"
	"sync"

	"specpilot/internal/agent/ports"
)

type record struct {
	state    *ports.SessionState
	messages []ports.Message
	summary  string
}

// Store is a ports.SessionStore backed by a map. Values are copied on the
// way in and out so callers never share memory with the store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*record
}

// New creates an empty store.
func New() *Store {
	return &Store{sessions: make(map[string]*record)}
}

var _ ports.SessionStore = (*Store)(nil)

func (s *Store) ensureLocked(sessionID string) *record {
	rec, ok := s.sessions[sessionID]
	if !ok {
		rec = &record{}
		s.sessions[sessionID] = rec
	}
	return rec
}

func (s *Store) lookup(sessionID string) (*record, error) {
	rec, ok := s.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return nil, ports.ErrSessionNotFound
	}
	return rec, nil
}

func (s *Store) GetMessages(_ context.Context, sessionID string) ([]ports.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	out := ports.CloneMessages(rec.messages)
	if out == nil {
		out = []ports.Message{}
	}
	return out, nil
}

func (s *Store) AddMessage(_ context.Context, sessionID string, msg ports.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(sessionID)
	rec.messages = append(rec.messages, msg)
	return nil
}

func (s *Store) ClearMessages(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	rec.messages = nil
	return nil
}

func (s *Store) GetState(_ context.Context, sessionID string) (*ports.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if rec.state == nil {
		return nil, ports.ErrSessionNotFound
	}
	return rec.state.Clone(), nil
}

func (s *Store) SetState(_ context.Context, state *ports.SessionState) error {
	if state == nil || strings.TrimSpace(state.SessionID) == "" {
		return ports.ErrInvalidState
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(state.SessionID).state = state.Clone()
	return nil
}

func (s *Store) GetSummary(_ context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.lookup(sessionID)
	if err != nil {
		return "", err
	}
	return rec.summary, nil
}

func (s *Store) UpdateSummary(_ context.Context, sessionID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(sessionID).summary = summary
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (*ports.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if rec.state == nil {
		return nil, ports.ErrSessionNotFound
	}
	messages := ports.CloneMessages(rec.messages)
	if messages == nil {
		messages = []ports.Message{}
	}
	return &ports.Session{State: rec.state.Clone(), Messages: messages, Summary: rec.summary}, nil
}

func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(sessionID); err != nil {
		return err
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *Store) SessionExists(_ context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	return ok && rec.state != nil, nil
}

func (s *Store) CommitTurn(_ context.Context, state *ports.SessionState, msgs ...ports.Message) error {
	if state == nil || strings.TrimSpace(state.SessionID) == "" {
		return ports.ErrInvalidState
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(state.SessionID)
	rec.state = state.Clone()
	rec.messages = append(rec.messages, msgs...)
	rec.summary = state.Summary
	return nil
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) Close() error { return nil }
