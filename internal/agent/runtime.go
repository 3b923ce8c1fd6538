// Package agent implements the pipeline's agent nodes and the shared runtime
// that turns a prompt into a validated, cached LLM result.
package agent

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"specpilot/internal/agent/ports"
	"specpilot/internal/cache"
	ctxmgr "specpilot/internal/context"
	"specpilot/internal/invoker"
	"specpilot/internal/prompts"
	"specpilot/internal/shared/logging"
)

// RuntimeConfig tunes agent calls.
type RuntimeConfig struct {
	// ContextWindow is the model's context size in tokens.
	ContextWindow int
	// ReserveTokens is kept free for the response.
	ReserveTokens int
	Temperature   float64
	MaxTokens     int
	// ValidationRetries bounds re-invocations on schema mismatch.
	ValidationRetries int
	// CacheTTL applies to cached agent results; zero uses the cache default.
	CacheTTL time.Duration
	Breaker  string
	Strategy ctxmgr.Strategy
}

// DefaultRuntimeConfig returns the defaults used when fields are zero.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		ContextWindow:     8192,
		ReserveTokens:     1024,
		Temperature:       0.2,
		MaxTokens:         1024,
		ValidationRetries: 2,
		Breaker:           "llm",
	}
}

// Deps are the collaborators every agent call goes through.
type Deps struct {
	LLM     ports.LLMClient
	Invoker *invoker.Invoker
	Cache   *cache.Cache[string]
	Context *ctxmgr.Manager
	Prompts prompts.Renderer
	Keys    cache.KeyBuilder
	Logger  logging.Logger
	Tracer  trace.Tracer
}

// Runtime bundles Deps with RuntimeConfig. It is shared by all nodes and
// safe for concurrent use.
type Runtime struct {
	llm     ports.LLMClient
	invoker *invoker.Invoker
	cache   *cache.Cache[string]
	context *ctxmgr.Manager
	prompts prompts.Renderer
	keys    cache.KeyBuilder
	logger  logging.Logger
	tracer  trace.Tracer
	config  RuntimeConfig
}

// NewRuntime fills defaults for nil collaborators except LLM and Prompts,
// which are required.
func NewRuntime(deps Deps, cfg RuntimeConfig) *Runtime {
	defaults := DefaultRuntimeConfig()
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = defaults.ContextWindow
	}
	if cfg.ReserveTokens <= 0 {
		cfg.ReserveTokens = defaults.ReserveTokens
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.ValidationRetries < 0 {
		cfg.ValidationRetries = 0
	}
	if cfg.Breaker == "" {
		cfg.Breaker = defaults.Breaker
	}

	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("agent")
	}
	inv := deps.Invoker
	if inv == nil {
		inv = invoker.New(nil, nil, invoker.Config{Logger: logger})
	}
	manager := deps.Context
	if manager == nil {
		manager = ctxmgr.NewManager(ctxmgr.WithLogger(logger))
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("specpilot")
	}
	return &Runtime{
		llm:     deps.LLM,
		invoker: inv,
		cache:   deps.Cache,
		context: manager,
		prompts: deps.Prompts,
		keys:    deps.Keys,
		logger:  logger,
		tracer:  tracer,
		config:  cfg,
	}
}

// Context exposes the context manager for callers that summarise history.
func (rt *Runtime) Context() *ctxmgr.Manager { return rt.context }

// Cache exposes the response cache; nil when caching is disabled.
func (rt *Runtime) Cache() *cache.Cache[string] { return rt.cache }
