package config

import (
	"time"

	"specpilot/internal/observability"
)

const (
	DefaultLLMProvider = "openai"
	DefaultLLMModel    = "gpt-4o-mini"
	DefaultServerAddr  = ":8080"
)

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:          DefaultLLMProvider,
			Model:             DefaultLLMModel,
			Timeout:           60 * time.Second,
			Temperature:       0.2,
			MaxTokens:         1024,
			ContextWindow:     8192,
			ReserveTokens:     1024,
			ValidationRetries: 2,
		},
		Invoker: InvokerConfig{
			MaxConcurrent: 5,
			QueueCapacity: 100,
			Timeout:       60 * time.Second,
			MaxAttempts:   3,
			BaseDelay:     time.Second,
			MaxDelay:      30 * time.Second,
			Jitter:        0.3,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 3,
			Cooldown:         60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      true,
			Capacity:     1000,
			TTL:          24 * time.Hour,
			PrefixLength: 512,
		},
		Context: ContextConfig{
			Strategy:      "hybrid",
			PinRecent:     4,
			ExamplesShare: 0.3,
			Similarity:    0.9,
			Tokenizer:     "heuristic",
		},
		Router: RouterConfig{
			MaxClarifyingTurns: 5,
		},
		Session: SessionConfig{
			Kind: StoreMemory,
		},
		Server: ServerConfig{
			Addr:            DefaultServerAddr,
			CORSOrigins:     []string{"*"},
			RateLimit:       60,
			RateWindow:      time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:        "info",
			AccessFormat: "json",
		},
		Observability: observability.DefaultConfig(),
	}
}
