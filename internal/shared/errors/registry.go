package errors

import (
	"sort"
	"sync"

	"specpilot/internal/shared/logging"
)

// BreakerRegistry owns one circuit breaker per downstream dependency. It is
// constructed once in the composition root and injected wherever calls need
// protection.
type BreakerRegistry struct {
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	mu       sync.RWMutex
	logger   logging.Logger
}

// NewBreakerRegistry creates a registry whose breakers share config.
func NewBreakerRegistry(config CircuitBreakerConfig) *BreakerRegistry {
	logger := config.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("circuit-breaker-registry")
	}
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		logger:   logger,
	}
}

// Get returns a circuit breaker for the given name (creates if not exists)
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	if breaker, ok := r.breakers[name]; ok {
		r.mu.RUnlock()
		return breaker
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, ok := r.breakers[name]; ok {
		return breaker
	}

	breaker := NewCircuitBreaker(name, r.config)
	r.breakers[name] = breaker
	r.logger.Debug("Created circuit breaker for: %s", name)
	return breaker
}

// Snapshot returns metrics for all breakers ordered by name.
func (r *BreakerRegistry) Snapshot() []CircuitBreakerMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metrics := make([]CircuitBreakerMetrics, 0, len(r.breakers))
	for _, breaker := range r.breakers {
		metrics = append(metrics, breaker.Metrics())
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })
	return metrics
}

// ResetAll resets all circuit breakers
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, breaker := range r.breakers {
		breaker.Reset()
	}
	r.logger.Info("Reset all circuit breakers")
}

// Remove removes a circuit breaker
func (r *BreakerRegistry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.breakers, name)
	r.logger.Debug("Removed circuit breaker: %s", name)
}
