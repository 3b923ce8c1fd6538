package di

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"specpilot/internal/agent"
	"specpilot/internal/agent/ports"
	"specpilot/internal/cache"
	"specpilot/internal/config"
	ctxmgr "specpilot/internal/context"
	"specpilot/internal/invoker"
	"specpilot/internal/llm"
	"specpilot/internal/observability"
	"specpilot/internal/prompts"
	"specpilot/internal/router"
	"specpilot/internal/shared/errors"
	"specpilot/internal/shared/logging"
	tokenutil "specpilot/internal/shared/token"
)

// Option customises BuildContainer.
type Option func(*containerBuilder)

// WithLLMClient replaces the provider client built from config, typically
// with a scripted client in tests.
func WithLLMClient(client ports.LLMClient) Option {
	return func(b *containerBuilder) {
		b.llmClient = client
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(b *containerBuilder) {
		b.registry = reg
	}
}

// WithLogger replaces the DI component logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *containerBuilder) {
		if !logging.IsNil(logger) {
			b.logger = logger
		}
	}
}

type containerBuilder struct {
	config    config.Config
	logger    logging.Logger
	llmClient ports.LLMClient
	registry  *prometheus.Registry
}

// BuildContainer builds the dependency injection container with the given
// configuration. The caller owns Shutdown.
func BuildContainer(cfg config.Config, opts ...Option) (*Container, error) {
	b := &containerBuilder{
		config: cfg,
		logger: logging.NewComponentLogger("DI"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b.Build()
}

func (b *containerBuilder) Build() (*Container, error) {
	b.logger.Debug("Building container with provider=%s, model=%s, store=%s",
		b.config.LLM.Provider, b.config.LLM.Model, b.config.Session.Kind)

	c := &Container{Config: b.config, logger: b.logger}
	ok := false
	defer func() {
		if !ok {
			_ = c.shutdown(context.Background(), false)
		}
	}()

	if err := b.buildTelemetry(c); err != nil {
		return nil, err
	}
	if err := b.buildInvoker(c); err != nil {
		return nil, err
	}
	if err := b.buildLLM(c); err != nil {
		return nil, err
	}
	if err := b.buildCache(c); err != nil {
		return nil, err
	}
	store, err := b.buildSessionStore()
	if err != nil {
		return nil, err
	}
	c.Store = store

	loader, err := b.buildPrompts()
	if err != nil {
		return nil, err
	}

	c.Context = ctxmgr.NewManager(
		ctxmgr.WithEstimator(tokenutil.New(b.config.Context.Tokenizer)),
		ctxmgr.WithExamplesShare(b.config.Context.ExamplesShare),
		ctxmgr.WithPinRecent(b.config.Context.PinRecent),
		ctxmgr.WithSimilarityThreshold(b.config.Context.Similarity),
		ctxmgr.WithDefaultStrategy(ctxmgr.Strategy(b.config.Context.Strategy)),
	)

	c.Keys = cache.KeyBuilder{PrefixLength: b.config.Cache.PrefixLength}
	c.Runtime = agent.NewRuntime(agent.Deps{
		LLM:     c.LLM,
		Invoker: c.Invoker,
		Cache:   c.Cache,
		Context: c.Context,
		Prompts: loader,
		Keys:    c.Keys,
		Tracer:  c.Tracing.Tracer(),
	}, agent.RuntimeConfig{
		ContextWindow:     b.config.LLM.ContextWindow,
		ReserveTokens:     b.config.LLM.ReserveTokens,
		Temperature:       b.config.LLM.Temperature,
		MaxTokens:         b.config.LLM.MaxTokens,
		ValidationRetries: b.config.LLM.ValidationRetries,
		CacheTTL:          b.config.Cache.TTL,
		Strategy:          ctxmgr.Strategy(b.config.Context.Strategy),
	})

	c.Router, err = router.New(c.Store, b.buildNodes(c.Runtime), router.Config{
		MaxClarifyingTurns: b.config.Router.MaxClarifyingTurns,
		Summarizer:         c.Context,
		Observer:           c.Metrics,
		Tracer:             c.Tracing.Tracer(),
	})
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	ok = true
	b.logger.Info("Container ready (provider=%s, store=%s, cache=%t)",
		b.config.LLM.Provider, b.config.Session.Kind, c.Cache != nil)
	return c, nil
}

func (b *containerBuilder) buildTelemetry(c *Container) error {
	reg := b.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c.Registry = reg

	metrics, err := observability.NewMetricsCollector(b.config.Observability.Metrics, reg)
	if err != nil {
		return fmt.Errorf("build metrics: %w", err)
	}
	c.Metrics = metrics

	tracing, err := observability.NewTracerProvider(b.config.Observability.Tracing)
	if err != nil {
		return fmt.Errorf("build tracing: %w", err)
	}
	c.Tracing = tracing
	return nil
}

func (b *containerBuilder) buildInvoker(c *Container) error {
	c.Breakers = errors.NewBreakerRegistry(errors.CircuitBreakerConfig{
		FailureThreshold: b.config.Breaker.FailureThreshold,
		SuccessThreshold: b.config.Breaker.SuccessThreshold,
		Timeout:          b.config.Breaker.Cooldown,
		OnStateChange: func(name string, from, to errors.CircuitState) {
			b.logger.Warn("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	c.Metrics.WatchBreakers(c.Breakers)

	pool := invoker.NewPool(invoker.PoolConfig{
		MaxConcurrent: b.config.Invoker.MaxConcurrent,
		QueueCapacity: b.config.Invoker.QueueCapacity,
		Observer:      c.Metrics,
	})
	c.Invoker = invoker.New(pool, c.Breakers, invoker.Config{
		Retry: errors.RetryPolicy{
			MaxAttempts:  b.config.Invoker.MaxAttempts,
			BaseDelay:    b.config.Invoker.BaseDelay,
			MaxDelay:     b.config.Invoker.MaxDelay,
			JitterFactor: b.config.Invoker.Jitter,
		},
		DefaultTimeout:    b.config.Invoker.Timeout,
		Observer:          c.Metrics,
		RequestsPerSecond: b.config.Invoker.RequestsPerSecond,
		Burst:             b.config.Invoker.Burst,
	})
	return nil
}

func (b *containerBuilder) buildLLM(c *Container) error {
	if b.llmClient != nil {
		c.LLM = b.llmClient
		return nil
	}
	client, err := llm.NewClient(llm.Config{
		Provider: b.config.LLM.Provider,
		Model:    b.config.LLM.Model,
		APIKey:   b.config.LLM.APIKey,
		BaseURL:  b.config.LLM.BaseURL,
		Timeout:  b.config.LLM.Timeout,
		Usage:    c.Metrics.RecordUsage,
	})
	if err != nil {
		return fmt.Errorf("build llm client: %w", err)
	}
	c.LLM = client
	return nil
}

func (b *containerBuilder) buildCache(c *Container) error {
	if !b.config.Cache.Enabled {
		return nil
	}
	responses, err := cache.New[string](cache.Config{
		Capacity:   b.config.Cache.Capacity,
		DefaultTTL: b.config.Cache.TTL,
		Observer:   c.Metrics,
	})
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}
	c.Cache = responses

	if path := b.config.Cache.Snapshot; path != "" {
		n, err := cache.LoadSnapshot(responses, path)
		if err != nil {
			// A damaged snapshot only costs warm entries.
			b.logger.Warn("Failed to load cache snapshot %s: %v", path, err)
		} else if n > 0 {
			b.logger.Info("Loaded %d cache entries from %s", n, path)
		}
	}
	return nil
}

func (b *containerBuilder) buildPrompts() (*prompts.PromptLoader, error) {
	path := strings.TrimSpace(b.config.Prompts)
	if path == "" {
		return prompts.NewPromptLoader()
	}
	loader, err := prompts.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load prompt pack %s: %w", path, err)
	}
	return loader, nil
}

func (b *containerBuilder) buildNodes(rt *agent.Runtime) router.Nodes {
	checklist := agent.DefaultChecklist()
	if len(b.config.Router.Checklist) > 0 {
		checklist = make(agent.Checklist, 0, len(b.config.Router.Checklist))
		for _, item := range b.config.Router.Checklist {
			checklist = append(checklist, agent.ChecklistItem{
				Field:    item.Field,
				Weight:   item.Weight,
				Required: item.Required,
			})
		}
	}

	stages := make(map[ports.Stage]agent.Node)
	for stage, node := range agent.NewStageAgents(rt) {
		stages[stage] = node
	}
	return router.Nodes{
		Extractor: agent.NewExtractor(rt, checklist.Fields()),
		Planner:   agent.NewPlanner(checklist),
		Asker:     agent.NewAsker(rt),
		Stages:    stages,
		Spec:      agent.NewSpecWriter(rt),
	}
}
