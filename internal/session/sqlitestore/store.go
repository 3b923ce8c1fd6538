// Package sqlitestore persists sessions in SQLite. State is stored as a
// deterministic CBOR blob; history as one row per message.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"specpilot/internal/agent/ports"
	"specpilot/internal/shared/codec"
	"specpilot/internal/shared/logging"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	state           BLOB,
	stage           TEXT NOT NULL DEFAULT '',
	summary         TEXT NOT NULL DEFAULT '',
	created_at_unix INTEGER NOT NULL DEFAULT 0,
	updated_at_unix INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
`

// Store is a ports.SessionStore over a single SQLite database file.
type Store struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time
}

var _ ports.SessionStore = (*Store)(nil)

// Open opens (or creates) the database at path with WAL pragmas and runs
// the schema migration.
func Open(path string, logger logging.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; WAL still lets readers proceed.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaV1); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("SessionSQLiteStore")
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) ensureSession(ctx context.Context, ex execer, sessionID string) error {
	now := s.now().UnixNano()
	_, err := ex.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, created_at_unix, updated_at_unix) VALUES (?, ?, ?)`,
		sessionID, now, now)
	if err != nil {
		return fmt.Errorf("ensure session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) sessionRow(ctx context.Context, sessionID string) (state []byte, summary string, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT state, summary FROM sessions WHERE id = ?`, sessionID)
	if err := row.Scan(&state, &summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ports.ErrSessionNotFound
		}
		return nil, "", fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return state, summary, nil
}

func decodeState(sessionID string, blob []byte) (*ports.SessionState, error) {
	if len(blob) == 0 {
		return nil, ports.ErrSessionNotFound
	}
	var state ports.SessionState
	if err := codec.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &state, nil
}

func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]ports.Message, error) {
	if _, _, err := s.sessionRow(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.messages(ctx, sessionID)
}

func (s *Store) messages(ctx context.Context, sessionID string) ([]ports.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []ports.Message{}
	for rows.Next() {
		var (
			msg     ports.Message
			created int64
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Timestamp = time.Unix(0, created).UTC()
		out = append(out, msg)
	}
	return out, rows.Err()
}

func insertMessages(ctx context.Context, ex execer, sessionID string, msgs []ports.Message, now time.Time) error {
	for _, msg := range msgs {
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = now
		}
		if _, err := ex.ExecContext(ctx,
			`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			sessionID, msg.Role, msg.Content, ts.UnixNano()); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return nil
}

func (s *Store) AddMessage(ctx context.Context, sessionID string, msg ports.Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureSession(ctx, tx, sessionID); err != nil {
			return err
		}
		return insertMessages(ctx, tx, sessionID, []ports.Message{msg}, s.now())
	})
}

func (s *Store) ClearMessages(ctx context.Context, sessionID string) error {
	if _, _, err := s.sessionRow(ctx, sessionID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (s *Store) GetState(ctx context.Context, sessionID string) (*ports.SessionState, error) {
	blob, _, err := s.sessionRow(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return decodeState(sessionID, blob)
}

func (s *Store) writeState(ctx context.Context, ex execer, state *ports.SessionState) error {
	blob, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", state.SessionID, err)
	}
	if err := s.ensureSession(ctx, ex, state.SessionID); err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx,
		`UPDATE sessions SET state = ?, stage = ?, updated_at_unix = ? WHERE id = ?`,
		blob, state.Stage.String(), s.now().UnixNano(), state.SessionID)
	if err != nil {
		return fmt.Errorf("store session %s: %w", state.SessionID, err)
	}
	return nil
}

func (s *Store) SetState(ctx context.Context, state *ports.SessionState) error {
	if state == nil || strings.TrimSpace(state.SessionID) == "" {
		return ports.ErrInvalidState
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.writeState(ctx, tx, state)
	})
}

func (s *Store) GetSummary(ctx context.Context, sessionID string) (string, error) {
	_, summary, err := s.sessionRow(ctx, sessionID)
	return summary, err
}

func (s *Store) UpdateSummary(ctx context.Context, sessionID, summary string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureSession(ctx, tx, sessionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE sessions SET summary = ? WHERE id = ?`, summary, sessionID)
		return err
	})
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*ports.Session, error) {
	blob, summary, err := s.sessionRow(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state, err := decodeState(sessionID, blob)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &ports.Session{State: state, Messages: msgs, Summary: summary}, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ports.ErrSessionNotFound
	}
	return nil
}

func (s *Store) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE id = ? AND state IS NOT NULL`, sessionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check session %s: %w", sessionID, err)
	}
	return n > 0, nil
}

// CommitTurn writes state, summary and messages in one transaction.
func (s *Store) CommitTurn(ctx context.Context, state *ports.SessionState, msgs ...ports.Message) error {
	if state == nil || strings.TrimSpace(state.SessionID) == "" {
		return ports.ErrInvalidState
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.writeState(ctx, tx, state); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET summary = ? WHERE id = ?`, state.Summary, state.SessionID); err != nil {
			return fmt.Errorf("store summary: %w", err)
		}
		return insertMessages(ctx, tx, state.SessionID, msgs, s.now())
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
