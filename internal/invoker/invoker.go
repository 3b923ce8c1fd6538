// Package invoker runs LLM calls under bounded concurrency with circuit
// breaking, adaptive retry and per-attempt timeouts.
package invoker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"specpilot/internal/shared/async"
	"specpilot/internal/shared/errors"
	"specpilot/internal/shared/logging"
)

const (
	defaultBreakerName = "llm"
	defaultTimeout     = 60 * time.Second
)

// Options tune one Do call.
type Options struct {
	Priority Priority
	// Timeout bounds each attempt; zero uses the invoker default.
	Timeout time.Duration
	// Breaker names the downstream dependency; empty uses the invoker default.
	Breaker string
	// Op labels logs and errors.
	Op string
}

// Observer receives per-attempt outcomes, typically for metrics.
type Observer interface {
	ObserveAttempt(breaker string, outcome string, duration time.Duration)
	ObserveRetry(breaker string, class errors.RetryClass, delay time.Duration)
}

// Config configures an Invoker.
type Config struct {
	Retry          errors.RetryPolicy
	DefaultTimeout time.Duration
	DefaultBreaker string
	Logger         logging.Logger
	Observer       Observer

	// RequestsPerSecond paces attempts towards the provider; zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	// Sleep waits between attempts; tests replace it to record delays.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand feeds backoff jitter; nil uses math/rand.
	Rand func() float64
}

// Stats counts invoker activity since construction.
type Stats struct {
	Calls     uint64            `json:"calls"`
	Attempts  uint64            `json:"attempts"`
	Successes uint64            `json:"successes"`
	Failures  uint64            `json:"failures"`
	Retries   uint64            `json:"retries"`
	Timeouts  uint64            `json:"timeouts"`
	ByClass   map[string]uint64 `json:"by_class"`
}

// Invoker is the single entry point for resilient LLM calls. One Invoker is
// built at startup and shared by every agent.
type Invoker struct {
	pool     *Pool
	breakers *errors.BreakerRegistry
	backoff  errors.Backoff
	policy   errors.RetryPolicy
	timeout  time.Duration
	breaker  string
	logger   logging.Logger
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
	pacer    *rate.Limiter

	mu    sync.Mutex
	stats Stats
}

// New creates an invoker over a shared pool and breaker registry.
func New(pool *Pool, breakers *errors.BreakerRegistry, cfg Config) *Invoker {
	if pool == nil {
		pool = NewPool(PoolConfig{})
	}
	if breakers == nil {
		breakers = errors.NewBreakerRegistry(errors.DefaultCircuitBreakerConfig())
	}
	policy := cfg.Retry
	defaults := errors.DefaultRetryPolicy()
	if policy == (errors.RetryPolicy{}) {
		policy = defaults
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaults.BaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaults.MaxDelay
	}
	if policy.MaxAttempts < 0 {
		policy.MaxAttempts = 0
	}
	if policy.JitterFactor < 0 {
		policy.JitterFactor = 0
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	breaker := cfg.DefaultBreaker
	if breaker == "" {
		breaker = defaultBreakerName
	}
	logger := cfg.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("invoker")
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	var pacer *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Invoker{
		pacer:    pacer,
		pool:     pool,
		breakers: breakers,
		backoff:  errors.Backoff{Policy: policy, Rand: cfg.Rand},
		policy:   policy,
		timeout:  timeout,
		breaker:  breaker,
		logger:   logger,
		observer: cfg.Observer,
		sleep:    sleep,
		stats:    Stats{ByClass: map[string]uint64{}},
	}
}

// Pool exposes the shared pool for health reporting.
func (inv *Invoker) Pool() *Pool { return inv.pool }

// Breakers exposes the shared breaker registry for health reporting.
func (inv *Invoker) Breakers() *errors.BreakerRegistry { return inv.breakers }

// Do runs fn under the invoker. Each attempt checks the breaker (failing fast
// without a pool slot while it is open), waits for a pool slot by priority,
// and races fn against the attempt timeout. Failed attempts are classified:
// non-retryable errors return immediately, retryable ones back off as
// base*2^n and throttled ones as base*3^n, up to Retry.MaxAttempts retries.
func Do[T any](ctx context.Context, inv *Invoker, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	breakerName := opts.Breaker
	if breakerName == "" {
		breakerName = inv.breaker
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = inv.timeout
	}
	op := opts.Op
	if op == "" {
		op = breakerName
	}
	breaker := inv.breakers.Get(breakerName)
	inv.count(func(s *Stats) { s.Calls++ })

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		if err := breaker.Allow(); err != nil {
			inv.record(breakerName, "circuit_open", 0)
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		if inv.pacer != nil {
			if err := inv.pacer.Wait(ctx); err != nil {
				return zero, fmt.Errorf("%s: %w", op, err)
			}
		}
		release, err := inv.pool.Acquire(ctx, opts.Priority)
		if err != nil {
			inv.record(breakerName, "rejected", 0)
			return zero, fmt.Errorf("%s: %w", op, err)
		}

		started := time.Now()
		result, err := runAttempt(ctx, inv.logger, op, timeout, release, fn)
		elapsed := time.Since(started)

		if ctx.Err() != nil {
			// The caller gave up; this says nothing about the dependency.
			return zero, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		breaker.Mark(err)

		if err == nil {
			inv.record(breakerName, "success", elapsed)
			inv.count(func(s *Stats) { s.Successes++ })
			if attempt > 0 {
				inv.logger.Info("%s succeeded after %d attempts", op, attempt+1)
			}
			return result, nil
		}

		class := errors.Classify(err)
		inv.record(breakerName, class.String(), elapsed)
		inv.count(func(s *Stats) {
			s.Failures++
			s.ByClass[class.String()]++
			var timeoutErr *errors.TimeoutError
			if stderrors.As(err, &timeoutErr) {
				s.Timeouts++
			}
		})

		if class == errors.ClassNonRetryable {
			inv.logger.Debug("%s attempt %d failed (%s): %v", op, attempt+1, class, err)
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		if attempt >= inv.policy.MaxAttempts {
			inv.logger.Warn("%s: max retries (%d) exhausted: %v", op, inv.policy.MaxAttempts, err)
			return zero, fmt.Errorf("%s: max retries exceeded after %d attempts: %w", op, attempt+1, err)
		}

		delay := inv.backoff.Delay(class, attempt, errors.RetryAfterHint(err))
		inv.logger.Debug("%s attempt %d failed (%s), retrying in %v: %v", op, attempt+1, class, delay, err)
		inv.count(func(s *Stats) { s.Retries++ })
		if inv.observer != nil {
			inv.observer.ObserveRetry(breakerName, class, delay)
		}
		if err := inv.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: cancelled during backoff: %w", op, err)
		}
	}
}

type attemptResult[T any] struct {
	value T
	err   error
}

// runAttempt races fn against timeout. On timeout the attempt context is
// cancelled and the buffered result channel absorbs any late response, which
// is discarded. release runs when fn returns, so a slot stays held for as
// long as the call is actually in flight.
func runAttempt[T any](ctx context.Context, logger logging.Logger, op string, timeout time.Duration, release func(), fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		var value T
		err := async.Run(logger, op, func() error {
			var callErr error
			value, callErr = fn(attemptCtx)
			return callErr
		})
		release()
		done <- attemptResult[T]{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.value, res.err
	case <-timer.C:
		return zero, &errors.TimeoutError{Op: op, After: timeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (inv *Invoker) record(breaker, outcome string, d time.Duration) {
	if inv.observer != nil {
		inv.observer.ObserveAttempt(breaker, outcome, d)
	}
	if outcome != "circuit_open" && outcome != "rejected" {
		inv.count(func(s *Stats) { s.Attempts++ })
	}
}

func (inv *Invoker) count(update func(*Stats)) {
	inv.mu.Lock()
	update(&inv.stats)
	inv.mu.Unlock()
}

// Stats returns a copy of the invoker counters.
func (inv *Invoker) Stats() Stats {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := inv.stats
	out.ByClass = make(map[string]uint64, len(inv.stats.ByClass))
	for k, v := range inv.stats.ByClass {
		out.ByClass[k] = v
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
