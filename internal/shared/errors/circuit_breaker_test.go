package errors

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"specpilot/internal/shared/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errDependency = errors.New("HTTP 503: service unavailable")

func newTestBreaker(clock *fakeClock, transitions *[]string) *CircuitBreaker {
	return NewCircuitBreaker("llm", CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Minute,
		Now:              clock.Now,
		Logger:           logging.Nop(),
		OnStateChange: func(name string, from, to CircuitState) {
			if transitions != nil {
				*transitions = append(*transitions, from.String()+"->"+to.String())
			}
		},
	})
}

func TestCircuitBreakerTransitions(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()
	fail := func(context.Context) error { return errDependency }
	succeed := func(context.Context) error { return nil }

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(ctx, fail), errDependency)
	}
	require.Equal(t, StateOpen, cb.State())

	// Before the cool-down elapses the wrapped function is never invoked.
	called := false
	clock.Advance(30 * time.Second)
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	require.Equal(t, "llm", openErr.Name)
	require.Equal(t, 30*time.Second, openErr.RetryIn)
	require.False(t, called)

	// The next call after the cool-down probes in half-open.
	clock.Advance(30 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	require.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	require.Equal(t, StateClosed, cb.State())

	require.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return errDependency })
	}
	clock.Advance(time.Minute)

	require.Error(t, cb.Execute(ctx, func(context.Context) error { return errDependency }))
	require.Equal(t, StateOpen, cb.State())

	// A fresh cool-down starts from the reopen.
	clock.Advance(59 * time.Second)
	require.Error(t, cb.Allow())
	clock.Advance(time.Second)
	require.NoError(t, cb.Allow())
}

func TestCircuitBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), nil)
	cb.Mark(errDependency)
	cb.Mark(errDependency)
	cb.Mark(nil)
	cb.Mark(errDependency)
	cb.Mark(errDependency)
	require.Equal(t, StateClosed, cb.State())
	require.Equal(t, 2, cb.Metrics().FailureCount)
}

func TestCircuitBreakerIgnoresCallerErrors(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), nil)
	for i := 0; i < 5; i++ {
		cb.Mark(context.Canceled)
		cb.Mark(NewInputError("message", "empty"))
	}
	require.Equal(t, StateClosed, cb.State())
	require.Zero(t, cb.Metrics().FailureCount)
}

func TestExecuteFuncReturnsValue(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), nil)
	got, err := ExecuteFunc(cb, context.Background(), func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
}

func TestBreakerRegistrySharesInstances(t *testing.T) {
	reg := NewBreakerRegistry(CircuitBreakerConfig{Logger: logging.Nop()})
	a := reg.Get("openai")
	require.Same(t, a, reg.Get("openai"))
	reg.Get("anthropic")

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "anthropic", snap[0].Name)
	require.Equal(t, StateClosed, snap[1].State)

	for i := 0; i < 5; i++ {
		a.Mark(errDependency)
	}
	require.Equal(t, StateOpen, a.State())
	reg.ResetAll()
	require.Equal(t, StateClosed, a.State())

	reg.Remove("openai")
	require.NotSame(t, a, reg.Get("openai"))
}
