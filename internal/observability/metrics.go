package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/otlptranslator"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"specpilot/internal/agent/ports"
	"specpilot/internal/shared/errors"
)

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// MetricsCollector records orchestration metrics through an OpenTelemetry
// meter exported to a Prometheus registry. A nil or disabled collector
// accepts every call and records nothing.
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider
	gatherer promclient.Gatherer

	cacheLookups    metric.Int64Counter
	cacheEvictions  metric.Int64Counter
	attempts        metric.Int64Counter
	attemptDuration metric.Float64Histogram
	retries         metric.Int64Counter
	retryDelay      metric.Float64Histogram
	turns           metric.Int64Counter
	turnDuration    metric.Float64Histogram
	llmTokensInput  metric.Int64Counter
	llmTokensOutput metric.Int64Counter

	poolRunning atomic.Int64
	poolQueued  atomic.Int64
	breakers    atomic.Pointer[errors.BreakerRegistry]
}

// NewMetricsCollector registers the collector's instruments on reg.
func NewMetricsCollector(config MetricsConfig, reg *promclient.Registry) (*MetricsCollector, error) {
	if !config.Enabled || reg == nil {
		return &MetricsCollector{}, nil
	}

	// Dotted instrument names are exported as classic specpilot_* families.
	exporter, err := prometheus.New(
		prometheus.WithRegisterer(reg),
		prometheus.WithTranslationStrategy(otlptranslator.UnderscoreEscapingWithSuffixes),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("specpilot")

	m := &MetricsCollector{provider: provider, gatherer: reg}
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
		unit   string
	}{
		{&m.cacheLookups, "specpilot.cache.lookups", "Response cache lookups by agent and result", "{lookup}"},
		{&m.cacheEvictions, "specpilot.cache.evictions", "Response cache entries evicted", "{entry}"},
		{&m.attempts, "specpilot.invoker.attempts", "LLM call attempts by breaker and outcome", "{attempt}"},
		{&m.retries, "specpilot.invoker.retries", "LLM call retries by breaker and error class", "{retry}"},
		{&m.turns, "specpilot.router.turns", "Conversation turns by stage and outcome", "{turn}"},
		{&m.llmTokensInput, "specpilot.llm.tokens.input", "Prompt tokens sent to the model", "{token}"},
		{&m.llmTokensOutput, "specpilot.llm.tokens.output", "Completion tokens returned by the model", "{token}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}

	histograms := []struct {
		target *metric.Float64Histogram
		name   string
		desc   string
	}{
		{&m.attemptDuration, "specpilot.invoker.attempt.duration", "LLM attempt latency in seconds"},
		{&m.retryDelay, "specpilot.invoker.retry.delay", "Backoff delay before a retry in seconds"},
		{&m.turnDuration, "specpilot.router.turn.duration", "Turn latency in seconds"},
	}
	for _, h := range histograms {
		histogram, err := meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s"))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
		*h.target = histogram
	}

	if _, err := meter.Int64ObservableGauge("specpilot.pool.running",
		metric.WithDescription("LLM attempts currently holding a pool slot"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.poolRunning.Load())
			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("failed to create pool running gauge: %w", err)
	}
	if _, err := meter.Int64ObservableGauge("specpilot.pool.queued",
		metric.WithDescription("LLM attempts waiting for a pool slot"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.poolQueued.Load())
			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("failed to create pool queued gauge: %w", err)
	}
	if _, err := meter.Int64ObservableGauge("specpilot.breaker.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 open, 2 half-open"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			registry := m.breakers.Load()
			if registry == nil {
				return nil
			}
			for _, snap := range registry.Snapshot() {
				o.Observe(int64(snap.State), metric.WithAttributes(attribute.String("breaker", snap.Name)))
			}
			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("failed to create breaker state gauge: %w", err)
	}

	return m, nil
}

func (m *MetricsCollector) enabled() bool {
	return m != nil && m.provider != nil
}

// Handler serves the registry in the Prometheus text format.
func (m *MetricsCollector) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// WatchBreakers exports the state of every breaker in registry.
func (m *MetricsCollector) WatchBreakers(registry *errors.BreakerRegistry) {
	if m.enabled() {
		m.breakers.Store(registry)
	}
}

// Shutdown flushes and stops the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if !m.enabled() {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// ObserveCacheLookup implements cache.Observer.
func (m *MetricsCollector) ObserveCacheLookup(agentType string, hit bool) {
	if !m.enabled() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("agent", agentType),
		attribute.String("result", result),
	))
}

// ObserveCacheEviction implements cache.Observer.
func (m *MetricsCollector) ObserveCacheEviction(count int) {
	if !m.enabled() || count <= 0 {
		return
	}
	m.cacheEvictions.Add(context.Background(), int64(count))
}

// ObservePool implements invoker.PoolObserver.
func (m *MetricsCollector) ObservePool(running, queued int) {
	if !m.enabled() {
		return
	}
	m.poolRunning.Store(int64(running))
	m.poolQueued.Store(int64(queued))
}

// ObserveAttempt implements invoker.Observer.
func (m *MetricsCollector) ObserveAttempt(breaker string, outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("outcome", outcome),
	)
	m.attempts.Add(context.Background(), 1, attrs)
	m.attemptDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// ObserveRetry implements invoker.Observer.
func (m *MetricsCollector) ObserveRetry(breaker string, class errors.RetryClass, delay time.Duration) {
	if !m.enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("class", class.String()),
	)
	m.retries.Add(context.Background(), 1, attrs)
	m.retryDelay.Record(context.Background(), delay.Seconds(), attrs)
}

// ObserveTurn implements router.TurnObserver.
func (m *MetricsCollector) ObserveTurn(stage string, outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	)
	m.turns.Add(context.Background(), 1, attrs)
	m.turnDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// RecordUsage has the llm.UsageCallback signature.
func (m *MetricsCollector) RecordUsage(usage ports.TokenUsage, model string, provider string) {
	if !m.enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("provider", provider),
	)
	m.llmTokensInput.Add(context.Background(), int64(usage.PromptTokens), attrs)
	m.llmTokensOutput.Add(context.Background(), int64(usage.CompletionTokens), attrs)
}
