package ports

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned by stores for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// ErrInvalidState is returned when a store is asked to persist a nil state
// or one without a session id.
var ErrInvalidState = errors.New("invalid session state")

// Option is one selectable choice offered to the user.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
}

// SessionMetadata carries session timestamps.
type SessionMetadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionState is the router-owned state of one conversation.
type SessionState struct {
	SessionID      string            `json:"session_id"`
	Stage          Stage             `json:"stage"`
	Completeness   int               `json:"completeness"`
	Profile        map[string]any    `json:"profile"`
	AskedQuestions []string          `json:"asked_questions"`
	Summary        string            `json:"summary,omitempty"`
	MissingFields  []string          `json:"missing_fields,omitempty"`
	StageSummaries map[string]string `json:"stage_summaries,omitempty"`
	Selections     map[string]string `json:"selections,omitempty"`
	PendingOptions []Option          `json:"pending_options,omitempty"`
	NextQuestion   string            `json:"next_question,omitempty"`
	ClarifyTurns   int               `json:"clarify_turns"`
	NeedMoreInfo   bool              `json:"need_more_info"`
	FinalSpec      string            `json:"final_spec,omitempty"`
	Metadata       SessionMetadata   `json:"metadata"`
}

// NewSessionState returns a fresh INIT session.
func NewSessionState(sessionID string, now time.Time) *SessionState {
	return &SessionState{
		SessionID:      sessionID,
		Stage:          StageInit,
		Profile:        map[string]any{},
		AskedQuestions: []string{},
		StageSummaries: map[string]string{},
		Selections:     map[string]string{},
		Metadata:       SessionMetadata{CreatedAt: now, UpdatedAt: now},
	}
}

// Clone returns a deep copy so a turn can work on state without mutating
// the committed version until the turn succeeds.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.Profile = cloneAnyMap(s.Profile)
	out.AskedQuestions = append([]string{}, s.AskedQuestions...)
	out.MissingFields = append([]string(nil), s.MissingFields...)
	out.StageSummaries = cloneStringMap(s.StageSummaries)
	out.Selections = cloneStringMap(s.Selections)
	out.PendingOptions = append([]Option(nil), s.PendingOptions...)
	return &out
}

func cloneStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneAnyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneAnyMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	default:
		return v
	}
}

// Session bundles state, history and summary as returned by GetSession.
type Session struct {
	State    *SessionState `json:"state"`
	Messages []Message     `json:"messages"`
	Summary  string        `json:"summary"`
}

// SessionStore persists sessions between turns. All methods are keyed by
// session id and return ErrSessionNotFound for unknown sessions, except
// SessionExists and the writers that create sessions implicitly.
type SessionStore interface {
	GetMessages(ctx context.Context, sessionID string) ([]Message, error)
	AddMessage(ctx context.Context, sessionID string, msg Message) error
	ClearMessages(ctx context.Context, sessionID string) error

	GetState(ctx context.Context, sessionID string) (*SessionState, error)
	SetState(ctx context.Context, state *SessionState) error

	GetSummary(ctx context.Context, sessionID string) (string, error)
	UpdateSummary(ctx context.Context, sessionID, summary string) error

	GetSession(ctx context.Context, sessionID string) (*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	SessionExists(ctx context.Context, sessionID string) (bool, error)

	// CommitTurn stores state, appends msgs and sets the summary from
	// state.Summary in one atomic step.
	CommitTurn(ctx context.Context, state *SessionState, msgs ...Message) error

	Close() error
}
