package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specpilot/internal/agent/ports"
	"specpilot/internal/app/di"
	"specpilot/internal/config"
	"specpilot/internal/invoker"
	"specpilot/internal/llm"
	"specpilot/internal/shared/errors"
	jsonx "specpilot/internal/shared/json"
	"specpilot/internal/shared/logging"
	"specpilot/internal/structured"
)

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
	Kind    string `json:"kind"`
}

func newTestServer(t *testing.T, rateLimit int) (*Server, *di.Container) {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.Provider = "mock"
	cfg.Router.Checklist = []config.ChecklistItem{{Field: "projectGoal", Weight: 100, Required: true}}

	container, err := di.BuildContainer(cfg, di.WithLLMClient(llm.NewOfflineClient()), di.WithLogger(&logging.Recorder{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Shutdown(context.Background()) })

	server, err := NewServer(Config{
		RateLimit:  rateLimit,
		RateWindow: time.Minute,
	}, Deps{
		Router:  container.Router,
		Invoker: container.Invoker,
		Cache:   container.Cache,
		Metrics: container.Metrics.Handler(),
		Logger:  &logging.Recorder{},
	})
	require.NoError(t, err)
	return server, container
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var out envelope[T]
	require.NoError(t, jsonx.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSessionLifecycle(t *testing.T) {
	s, _ := newTestServer(t, 0)

	rec := do(t, s, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[ports.SessionState](t, rec)
	require.True(t, created.Success)
	sessionID := created.Data.SessionID
	require.NotEmpty(t, sessionID)
	assert.Equal(t, ports.StageInit, created.Data.Stage)

	rec = do(t, s, http.MethodPost, "/api/sessions/"+sessionID+"/turns", `{"message": "A habit tracker for students"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	turn := decode[struct {
		Session *ports.SessionState `json:"session"`
		Reply   string              `json:"reply"`
		Options []ports.Option      `json:"options"`
	}](t, rec)
	assert.Equal(t, ports.StageRiskAnalysis, turn.Data.Session.Stage)
	assert.NotEmpty(t, turn.Data.Reply)
	assert.Len(t, turn.Data.Options, 2)

	rec = do(t, s, http.MethodGet, "/api/sessions/"+sessionID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ports.StageRiskAnalysis, decode[ports.SessionState](t, rec).Data.Stage)

	rec = do(t, s, http.MethodGet, "/api/sessions/"+sessionID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[MessagesResponse](t, rec)
	require.Len(t, history.Data.Messages, 2)
	assert.Equal(t, ports.RoleUser, history.Data.Messages[0].Role)

	rec = do(t, s, http.MethodDelete, "/api/sessions/"+sessionID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/sessions/"+sessionID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[any](t, rec).Kind)
}

func TestAdvanceRejectsBadInput(t *testing.T) {
	s, container := newTestServer(t, 0)
	state, err := container.Router.Create(context.Background())
	require.NoError(t, err)

	rec := do(t, s, http.MethodPost, "/api/sessions/"+state.SessionID+"/turns", `{"text": "wrong field"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/sessions/"+state.SessionID+"/turns", `{"message": "   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[any](t, rec).Kind)

	rec = do(t, s, http.MethodPost, "/api/sessions/missing/turns", `{"message": "hello"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitPerSession(t *testing.T) {
	s, container := newTestServer(t, 2)
	state, err := container.Router.Create(context.Background())
	require.NoError(t, err)
	path := "/api/sessions/" + state.SessionID

	first := do(t, s, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	second := do(t, s, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := do(t, s, http.MethodGet, path, "")
	require.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "0", third.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, third.Header().Get("Retry-After"))

	// Other sessions have their own window.
	other := do(t, s, http.MethodGet, "/api/sessions/other", "")
	assert.Equal(t, http.StatusNotFound, other.Code)

	// Health is never limited.
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/health", "").Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	s, container := newTestServer(t, 0)
	ctx := context.Background()
	state, err := container.Router.Create(ctx)
	require.NoError(t, err)
	_, err = container.Router.Advance(ctx, state.SessionID, "A recipe sharing app")
	require.NoError(t, err)
	require.Equal(t, 1, container.Cache.Len())

	rec := do(t, s, http.MethodGet, "/api/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[struct {
		Entries int `json:"entries"`
	}](t, rec).Data.Entries)

	rec = do(t, s, http.MethodPost, "/api/cache/invalidate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/cache/invalidate", `{"tags": ["stage:risk_analysis"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[InvalidateResponse](t, rec).Data.Removed)
	assert.Equal(t, 0, container.Cache.Len())
}

type healthView struct {
	Status string            `json:"status"`
	Pool   invoker.PoolStats `json:"pool"`
}

func TestHealthAndMetrics(t *testing.T) {
	s, container := newTestServer(t, 0)

	rec := do(t, s, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[healthView](t, rec)
	assert.Equal(t, "ok", health.Data.Status)
	assert.Equal(t, 5, health.Data.Pool.MaxConcurrent)

	for i := 0; i < 5; i++ {
		container.Breakers.Get("llm").Mark(fmt.Errorf("boom"))
	}
	rec = do(t, s, http.MethodGet, "/api/health", "")
	assert.Equal(t, "degraded", decode[healthView](t, rec).Data.Status)

	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "specpilot_breaker_state")
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		kind       string
		retryAfter int
	}{
		{"not found", fmt.Errorf("get: %w", ports.ErrSessionNotFound), http.StatusNotFound, "not_found", 0},
		{"input", errors.NewInputError("message", "empty"), http.StatusBadRequest, "invalid_input", 0},
		{"circuit open", &errors.CircuitOpenError{Name: "llm", RetryIn: 1500 * time.Millisecond}, http.StatusServiceUnavailable, "degraded", 2},
		{"queue full", &errors.QueueFullError{Capacity: 1}, http.StatusServiceUnavailable, "degraded", 0},
		{"throttled", &errors.ThrottleError{RetryAfter: 3 * time.Second}, http.StatusTooManyRequests, "throttled", 3},
		{"auth", &errors.AuthError{}, http.StatusInternalServerError, "configuration", 0},
		{"model output", &structured.SchemaValidationError{}, http.StatusBadGateway, "invalid_model_output", 0},
		{"transient", errors.NewTransientError(fmt.Errorf("ETIMEDOUT"), "upstream"), http.StatusServiceUnavailable, "unavailable", 0},
		{"unknown", fmt.Errorf("something odd"), http.StatusInternalServerError, "internal", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind, retryAfter := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.retryAfter, retryAfter)
		})
	}
}
