package errors

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type schemaErr struct{}

func (schemaErr) Error() string                { return "schema mismatch" }
func (schemaErr) ValidationFailures() []string { return []string{"name: required"} }

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected RetryClass
	}{
		{name: "nil error", err: nil, expected: ClassNonRetryable},
		{name: "unknown error", err: errors.New("something odd"), expected: ClassNonRetryable},
		{name: "explicit transient", err: NewTransientError(errors.New("x"), "transient"), expected: ClassRetryable},
		{name: "explicit permanent", err: NewPermanentError(errors.New("x"), "permanent"), expected: ClassNonRetryable},
		{name: "timeout error", err: &TimeoutError{After: time.Second}, expected: ClassRetryable},
		{name: "wrapped timeout", err: fmt.Errorf("agent extractor: %w", &TimeoutError{After: time.Second}), expected: ClassRetryable},
		{name: "ETIMEDOUT message", err: errors.New("read tcp: ETIMEDOUT"), expected: ClassRetryable},
		{name: "ETIMEDOUT errno", err: fmt.Errorf("dial: %w", syscall.ETIMEDOUT), expected: ClassRetryable},
		{name: "connection reset", err: errors.New("read: connection reset by peer"), expected: ClassRetryable},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), expected: ClassRetryable},
		{name: "deadline exceeded", err: context.DeadlineExceeded, expected: ClassRetryable},
		{name: "server error 500", err: errors.New("HTTP 500: internal server error"), expected: ClassRetryable},
		{name: "server error 503", err: errors.New("503 service unavailable"), expected: ClassRetryable},
		{name: "rate limit 429", err: errors.New("429 too many requests"), expected: ClassThrottled},
		{name: "quota message", err: errors.New("monthly quota exhausted"), expected: ClassThrottled},
		{name: "rate limit message", err: errors.New("Rate limit reached for requests"), expected: ClassThrottled},
		{name: "throttle error", err: &ThrottleError{Err: errors.New("slow down")}, expected: ClassThrottled},
		{name: "http error 429", err: &HTTPError{StatusCode: 429}, expected: ClassThrottled},
		{name: "http error 502", err: &HTTPError{StatusCode: 502}, expected: ClassRetryable},
		{name: "http error 404", err: &HTTPError{StatusCode: 404}, expected: ClassNonRetryable},
		{name: "unauthorized 401", err: errors.New("HTTP 401: unauthorized"), expected: ClassNonRetryable},
		{name: "forbidden 403", err: errors.New("HTTP 403: forbidden"), expected: ClassNonRetryable},
		{name: "bad request 400", err: errors.New("HTTP 400: bad request"), expected: ClassNonRetryable},
		{name: "auth error", err: &AuthError{Err: errors.New("bad key"), StatusCode: 401}, expected: ClassNonRetryable},
		{name: "circuit open", err: &CircuitOpenError{Name: "llm"}, expected: ClassNonRetryable},
		{name: "queue full", err: &QueueFullError{Capacity: 10}, expected: ClassNonRetryable},
		{name: "validation", err: fmt.Errorf("parse: %w", schemaErr{}), expected: ClassNonRetryable},
		{name: "cancellation", err: fmt.Errorf("turn: %w", context.Canceled), expected: ClassNonRetryable},
		{name: "port number is not a status", err: errors.New("listen on :8080 failed"), expected: ClassNonRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryAfterHint(t *testing.T) {
	require.Equal(t, 2*time.Second, RetryAfterHint(fmt.Errorf("x: %w", &ThrottleError{RetryAfter: 2 * time.Second})))
	require.Equal(t, time.Second, RetryAfterHint(&HTTPError{StatusCode: 503, RetryAfter: time.Second}))
	require.Zero(t, RetryAfterHint(errors.New("plain")))
}

func TestCountsAsFailure(t *testing.T) {
	require.False(t, CountsAsFailure(nil))
	require.False(t, CountsAsFailure(context.Canceled))
	require.False(t, CountsAsFailure(schemaErr{}))
	require.False(t, CountsAsFailure(NewInputError("message", "empty")))
	require.True(t, CountsAsFailure(&TimeoutError{}))
	require.True(t, CountsAsFailure(errors.New("HTTP 500")))
	require.True(t, CountsAsFailure(&AuthError{Err: errors.New("denied")}))
}

func TestFormatForUser(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{name: "nil error", err: nil, contains: ""},
		{name: "circuit open", err: &CircuitOpenError{Name: "llm"}, contains: "temporarily degraded"},
		{name: "queue full", err: &QueueFullError{Capacity: 1}, contains: "temporarily degraded"},
		{name: "throttle with hint", err: &ThrottleError{RetryAfter: 1500 * time.Millisecond}, contains: "retry in 2 seconds"},
		{name: "auth", err: &AuthError{Err: errors.New("bad key")}, contains: "configuration problem"},
		{name: "validation", err: schemaErr{}, contains: "could not be understood"},
		{name: "custom transient message", err: NewTransientError(errors.New("x"), "Custom transient message"), contains: "Custom transient message"},
		{name: "timeout", err: &TimeoutError{After: time.Second}, contains: "unavailable"},
		{name: "unknown", err: errors.New("odd failure"), contains: "odd failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Contains(t, FormatForUser(tt.err), tt.contains)
		})
	}
}
