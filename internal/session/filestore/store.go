// Package filestore persists each session as one JSON document on disk.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"specpilot/internal/agent/ports"
	jsonx "specpilot/internal/shared/json"
	"specpilot/internal/shared/logging"
)

type document struct {
	State    *ports.SessionState `json:"state,omitempty"`
	Messages []ports.Message     `json:"messages"`
	Summary  string              `json:"summary,omitempty"`
}

// Store writes <baseDir>/<sessionID>.json. Every write replaces the file
// through a temp file and rename, so a turn is either fully on disk or not
// at all.
type Store struct {
	mu      sync.Mutex
	baseDir string
	logger  logging.Logger
}

var _ ports.SessionStore = (*Store)(nil)

// New creates the directory if needed. A leading "~/" expands to the home
// directory.
func New(baseDir string, logger logging.Logger) (*Store, error) {
	if strings.HasPrefix(baseDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		baseDir = filepath.Join(home, baseDir[2:])
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("SessionFileStore")
	}
	return &Store{baseDir: baseDir, logger: logger}, nil
}

func (s *Store) path(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(s.baseDir, sessionID+".json"), nil
}

// load reads a document. Missing files yield ErrSessionNotFound.
func (s *Store) load(sessionID string) (*document, error) {
	path, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ports.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	var doc document
	if err := jsonx.Unmarshal(data, &doc); err != nil {
		s.logger.Error("Failed to decode session file %s: %v. Preview: %s", path, err, previewJSON(data))
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &doc, nil
}

func (s *Store) loadOrNew(sessionID string) (*document, error) {
	doc, err := s.load(sessionID)
	if errors.Is(err, ports.ErrSessionNotFound) {
		return &document{}, nil
	}
	return doc, err
}

func (s *Store) save(sessionID string, doc *document) error {
	path, err := s.path(sessionID)
	if err != nil {
		return err
	}
	data, err := jsonx.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sessionID, err)
	}
	tmp, err := os.CreateTemp(s.baseDir, sessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write session %s: %w", sessionID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync session %s: %w", sessionID, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close session %s: %w", sessionID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, sessionID string, mustExist bool, fn func(doc *document)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		doc *document
		err error
	)
	if mustExist {
		doc, err = s.load(sessionID)
	} else {
		doc, err = s.loadOrNew(sessionID)
	}
	if err != nil {
		return err
	}
	fn(doc)
	return s.save(sessionID, doc)
}

func (s *Store) read(ctx context.Context, sessionID string) (*document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(sessionID)
}

func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]ports.Message, error) {
	doc, err := s.read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if doc.Messages == nil {
		return []ports.Message{}, nil
	}
	return doc.Messages, nil
}

func (s *Store) AddMessage(ctx context.Context, sessionID string, msg ports.Message) error {
	return s.update(ctx, sessionID, false, func(doc *document) {
		doc.Messages = append(doc.Messages, msg)
	})
}

func (s *Store) ClearMessages(ctx context.Context, sessionID string) error {
	return s.update(ctx, sessionID, true, func(doc *document) {
		doc.Messages = nil
	})
}

func (s *Store) GetState(ctx context.Context, sessionID string) (*ports.SessionState, error) {
	doc, err := s.read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if doc.State == nil {
		return nil, ports.ErrSessionNotFound
	}
	return doc.State, nil
}

func (s *Store) SetState(ctx context.Context, state *ports.SessionState) error {
	if state == nil || strings.TrimSpace(state.SessionID) == "" {
		return ports.ErrInvalidState
	}
	return s.update(ctx, state.SessionID, false, func(doc *document) {
		doc.State = state
	})
}

func (s *Store) GetSummary(ctx context.Context, sessionID string) (string, error) {
	doc, err := s.read(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return doc.Summary, nil
}

func (s *Store) UpdateSummary(ctx context.Context, sessionID, summary string) error {
	return s.update(ctx, sessionID, false, func(doc *document) {
		doc.Summary = summary
	})
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*ports.Session, error) {
	doc, err := s.read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if doc.State == nil {
		return nil, ports.ErrSessionNotFound
	}
	messages := doc.Messages
	if messages == nil {
		messages = []ports.Message{}
	}
	return &ports.Session{State: doc.State, Messages: messages, Summary: doc.Summary}, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return ports.ErrSessionNotFound
	}
	return err
}

func (s *Store) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	doc, err := s.read(ctx, sessionID)
	if errors.Is(err, ports.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return doc.State != nil, nil
}

func (s *Store) CommitTurn(ctx context.Context, state *ports.SessionState, msgs ...ports.Message) error {
	if state == nil || strings.TrimSpace(state.SessionID) == "" {
		return ports.ErrInvalidState
	}
	return s.update(ctx, state.SessionID, false, func(doc *document) {
		doc.State = state
		doc.Messages = append(doc.Messages, msgs...)
		doc.Summary = state.Summary
	})
}

// List returns the ids of stored sessions.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	return ids, nil
}

func (s *Store) Close() error { return nil }

func previewJSON(data []byte) string {
	const maxPreview = 512
	preview := strings.TrimSpace(string(data))
	preview = strings.ReplaceAll(preview, "\n", " ")
	preview = strings.ReplaceAll(preview, "\t", " ")
	if len(preview) > maxPreview {
		preview = preview[:maxPreview] + "... (truncated)"
	}
	return preview
}
