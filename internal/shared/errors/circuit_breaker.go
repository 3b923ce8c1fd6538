package errors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"specpilot/internal/shared/logging"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	// StateClosed - normal operation, requests allowed
	StateClosed CircuitState = iota
	// StateOpen - failing, requests blocked
	StateOpen
	// StateHalfOpen - testing if service recovered
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit (default: 5)
	SuccessThreshold int           // consecutive half-open successes that close it (default: 3)
	Timeout          time.Duration // cool-down before the next call may probe (default: 60s)

	// OnStateChange is called synchronously after the breaker lock is released.
	OnStateChange func(name string, from, to CircuitState)
	// Now overrides the clock; tests use it to step past the cool-down.
	Now    func() time.Time
	Logger logging.Logger
}

// DefaultCircuitBreakerConfig returns sensible defaults
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          60 * time.Second,
	}
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	defaults := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = defaults.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// CircuitBreaker implements the circuit breaker pattern. The OPEN to HALF_OPEN
// transition happens lazily on the first call after the cool-down; there is
// no background timer.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastStateChange time.Time
}

type transition struct {
	from, to CircuitState
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	config = config.withDefaults()
	logger := config.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("circuit-breaker")
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		state:           StateClosed,
		lastStateChange: config.Now(),
	}
}

// Name returns the dependency name the breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs a function with circuit breaker protection
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.Mark(err)
	return err
}

// ExecuteFunc is a helper to execute a function that returns a value
// This avoids the need for method generics
func ExecuteFunc[T any](cb *CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zeroValue T
	if err := cb.Allow(); err != nil {
		return zeroValue, err
	}
	result, err := fn(ctx)
	cb.Mark(err)
	return result, err
}

// Allow checks whether a request can proceed under the circuit breaker.
// It returns a *CircuitOpenError while the circuit is open and cooling down.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	var changed *transition
	var err error
	switch cb.state {
	case StateOpen:
		elapsed := cb.config.Now().Sub(cb.lastStateChange)
		if elapsed >= cb.config.Timeout {
			changed = cb.setState(StateHalfOpen)
			cb.successCount = 0
			cb.logger.Info("[%s] Circuit breaker transitioning to half-open (testing recovery)", cb.name)
			break
		}
		err = &CircuitOpenError{Name: cb.name, RetryIn: cb.config.Timeout - elapsed}
	}
	cb.mu.Unlock()
	cb.notify(changed)
	return err
}

// Mark records a request outcome for the circuit breaker.
// Pass nil to mark success. Errors for which CountsAsFailure is false are ignored.
func (cb *CircuitBreaker) Mark(err error) {
	if err != nil && !CountsAsFailure(err) {
		return
	}
	cb.mu.Lock()
	var changed *transition
	if err == nil {
		changed = cb.onSuccess()
	} else {
		changed = cb.onFailure()
	}
	cb.mu.Unlock()
	cb.notify(changed)
}

func (cb *CircuitBreaker) onSuccess() *transition {
	switch cb.state {
	case StateClosed:
		if cb.failureCount > 0 {
			cb.logger.Debug("[%s] Success, resetting failure count", cb.name)
			cb.failureCount = 0
		}
	case StateHalfOpen:
		cb.successCount++
		cb.logger.Debug("[%s] Success in half-open state (%d/%d)",
			cb.name, cb.successCount, cb.config.SuccessThreshold)
		if cb.successCount >= cb.config.SuccessThreshold {
			changed := cb.setState(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
			cb.logger.Info("[%s] Circuit breaker closed (service recovered)", cb.name)
			return changed
		}
	case StateOpen:
		// A call admitted before the circuit opened finished late.
		cb.logger.Debug("[%s] Late success while open", cb.name)
	}
	return nil
}

func (cb *CircuitBreaker) onFailure() *transition {
	cb.lastFailureTime = cb.config.Now()
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		cb.logger.Debug("[%s] Failure in closed state (%d/%d)",
			cb.name, cb.failureCount, cb.config.FailureThreshold)
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.logger.Warn("[%s] Circuit breaker opened (too many failures)", cb.name)
			return cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.successCount = 0
		cb.logger.Warn("[%s] Circuit breaker reopened (test failed)", cb.name)
		return cb.setState(StateOpen)
	case StateOpen:
		cb.logger.Debug("[%s] Failure while circuit open", cb.name)
	}
	return nil
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(newState CircuitState) *transition {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.config.Now()
	return &transition{from: oldState, to: newState}
}

func (cb *CircuitBreaker) notify(changed *transition) {
	if changed == nil || cb.config.OnStateChange == nil {
		return
	}
	cb.config.OnStateChange(cb.name, changed.from, changed.to)
}

// State returns the current state without triggering the lazy half-open transition.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Metrics returns current circuit breaker metrics
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		Name:            cb.name,
		State:           cb.state,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailureTime,
		LastStateChange: cb.lastStateChange,
	}
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	oldState := cb.state
	var changed *transition
	if oldState != StateClosed {
		changed = cb.setState(StateClosed)
	}
	cb.failureCount = 0
	cb.successCount = 0
	cb.mu.Unlock()

	cb.logger.Info("[%s] Circuit breaker manually reset from %s to closed", cb.name, oldState)
	cb.notify(changed)
}

// CircuitBreakerMetrics contains circuit breaker statistics
type CircuitBreakerMetrics struct {
	Name            string       `json:"name"`
	State           CircuitState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	SuccessCount    int          `json:"success_count"`
	LastFailureTime time.Time    `json:"last_failure_time"`
	LastStateChange time.Time    `json:"last_state_change"`
}

func (m CircuitBreakerMetrics) String() string {
	return fmt.Sprintf("%s=%s failures=%d successes=%d", m.Name, m.State, m.FailureCount, m.SuccessCount)
}
