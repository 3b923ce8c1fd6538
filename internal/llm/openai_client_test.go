package llm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"specpilot/internal/agent/ports"
	sperrors "specpilot/internal/shared/errors"
	"specpilot/internal/shared/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, usage UsageCallback) ports.LLMClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewOpenAIClient(Config{
		Provider: ProviderOpenRouter,
		Model:    "test-model",
		APIKey:   "test-key",
		BaseURL:  server.URL + "/",
		Headers:  map[string]string{"X-Custom": "value"},
		Usage:    usage,
		Logger:   logging.Nop(),
	})
	require.NoError(t, err)
	return client
}

func TestOpenAIClientCompleteSuccess(t *testing.T) {
	var usageCalls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "value", r.Header.Get("X-Custom"))
		require.Equal(t, "req-1", r.Header.Get("X-Request-ID"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "test-model", payload["model"])
		require.Len(t, payload["messages"], 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`))
	}, func(usage ports.TokenUsage, model, provider string) {
		atomic.AddInt32(&usageCalls, 1)
		require.Equal(t, 7, usage.TotalTokens)
		require.Equal(t, "test-model", model)
		require.Equal(t, ProviderOpenRouter, provider)
	})

	resp, err := client.Complete(context.Background(), ports.CompletionRequest{
		Messages: []ports.Message{{Role: ports.RoleSystem, Content: "sys"}, {Role: ports.RoleUser, Content: "hi"}},
		Metadata: map[string]any{"request_id": "req-1"},
	})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Content)
	require.Equal(t, "stop", resp.StopReason)
	require.Equal(t, ports.TokenUsage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}, resp.Usage)
	require.Equal(t, int32(1), atomic.LoadInt32(&usageCalls))
	require.Equal(t, "test-model", client.Model())
}

func TestOpenAIClientMapsStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		body       string
		wantClass  sperrors.RetryClass
		check      func(t *testing.T, err error)
	}{
		{
			name:      "unauthorized",
			status:    http.StatusUnauthorized,
			body:      `{"error":{"type":"auth","message":"bad key"}}`,
			wantClass: sperrors.ClassNonRetryable,
			check: func(t *testing.T, err error) {
				var authErr *sperrors.AuthError
				require.True(t, stderrors.As(err, &authErr))
				require.Contains(t, err.Error(), "auth: bad key")
			},
		},
		{
			name:       "throttled",
			status:     http.StatusTooManyRequests,
			retryAfter: "3",
			wantClass:  sperrors.ClassThrottled,
			check: func(t *testing.T, err error) {
				require.Equal(t, 3*time.Second, sperrors.RetryAfterHint(err))
			},
		},
		{
			name:      "server error",
			status:    http.StatusBadGateway,
			wantClass: sperrors.ClassRetryable,
			check: func(t *testing.T, err error) {
				var transient *sperrors.TransientError
				require.True(t, stderrors.As(err, &transient))
				require.Equal(t, http.StatusBadGateway, transient.StatusCode)
			},
		},
		{
			name:      "bad request",
			status:    http.StatusBadRequest,
			body:      "context too long",
			wantClass: sperrors.ClassNonRetryable,
			check: func(t *testing.T, err error) {
				var httpErr *sperrors.HTTPError
				require.True(t, stderrors.As(err, &httpErr))
				require.Equal(t, "context too long", httpErr.Body)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, nil)
			_, err := client.Complete(context.Background(), ports.CompletionRequest{})
			require.Error(t, err)
			require.Equal(t, tt.wantClass, sperrors.Classify(err))
			tt.check(t, err)
		})
	}
}

func TestOpenAIClientEmptyChoicesIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}, nil)
	_, err := client.Complete(context.Background(), ports.CompletionRequest{})
	require.Error(t, err)
	require.Equal(t, sperrors.ClassRetryable, sperrors.Classify(err))
}

func TestOpenAIClientCancellationPassesThrough(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Complete(ctx, ports.CompletionRequest{})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, sperrors.ClassNonRetryable, sperrors.Classify(err))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, time.Duration(0), parseRetryAfter("", now))
	require.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	require.Equal(t, 1500*time.Millisecond, parseRetryAfter("1.5", now))
	require.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	require.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
}

func TestNewClientProviders(t *testing.T) {
	client, err := NewClient(Config{Provider: "mock"})
	require.NoError(t, err)
	require.Equal(t, "offline", client.Model())

	_, err = NewClient(Config{Provider: "openai"})
	require.Error(t, err, "model is required")

	_, err = NewClient(Config{Provider: "nowhere", Model: "m"})
	require.Error(t, err)

	client, err = NewClient(Config{Provider: "gateway", Model: "m", BaseURL: "http://localhost:9999"})
	require.NoError(t, err)
	require.Equal(t, "m", client.Model())
}
