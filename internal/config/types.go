package config

import (
	"time"

	"specpilot/internal/observability"
)

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Store kinds accepted by session.kind.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config is the fully resolved application configuration.
type Config struct {
	LLM           LLMConfig            `mapstructure:"llm"`
	Invoker       InvokerConfig        `mapstructure:"invoker"`
	Breaker       BreakerConfig        `mapstructure:"breaker"`
	Cache         CacheConfig          `mapstructure:"cache"`
	Context       ContextConfig        `mapstructure:"context"`
	Router        RouterConfig         `mapstructure:"router"`
	Session       SessionConfig        `mapstructure:"session"`
	Server        ServerConfig         `mapstructure:"server"`
	Logging       LoggingConfig        `mapstructure:"logging"`
	Observability observability.Config `mapstructure:"observability"`
	// Prompts points at a prompt pack overriding the embedded one.
	Prompts string `mapstructure:"prompts"`
}

// LLMConfig selects the model provider and per-call generation settings.
type LLMConfig struct {
	Provider      string        `mapstructure:"provider" validate:"required"`
	Model         string        `mapstructure:"model" validate:"required"`
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Temperature   float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens     int           `mapstructure:"max_tokens" validate:"gte=1"`
	ContextWindow int           `mapstructure:"context_window" validate:"gte=512"`
	ReserveTokens int           `mapstructure:"reserve_tokens" validate:"gte=0,ltfield=ContextWindow"`
	// ValidationRetries bounds re-invocations after a schema mismatch.
	ValidationRetries int `mapstructure:"validation_retries" validate:"gte=0,lte=5"`
}

// InvokerConfig tunes the shared worker pool and retry policy.
type InvokerConfig struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent" validate:"gte=1"`
	QueueCapacity     int           `mapstructure:"queue_capacity" validate:"gte=1"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxAttempts       int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay         time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay          time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	Jitter            float64       `mapstructure:"jitter" validate:"gte=0,lt=1"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=0"`
}

// BreakerConfig configures every circuit breaker in the registry.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"gte=1"`
	SuccessThreshold int           `mapstructure:"success_threshold" validate:"gte=1"`
	Cooldown         time.Duration `mapstructure:"cooldown" validate:"gt=0"`
}

// CacheConfig configures the agent response cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Capacity int           `mapstructure:"capacity" validate:"gte=1"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
	// PrefixLength truncates the user input folded into cache keys.
	PrefixLength int `mapstructure:"prefix_length" validate:"gte=16"`
	// Snapshot is loaded at startup and written on shutdown when set.
	Snapshot string `mapstructure:"snapshot"`
}

// ContextConfig tunes history compression and token estimation.
type ContextConfig struct {
	Strategy      string  `mapstructure:"strategy" validate:"oneof=summarization importance dedup hybrid"`
	PinRecent     int     `mapstructure:"pin_recent" validate:"gte=0"`
	ExamplesShare float64 `mapstructure:"examples_share" validate:"gte=0,lte=0.5"`
	Similarity    float64 `mapstructure:"similarity" validate:"gt=0,lte=1"`
	Tokenizer     string  `mapstructure:"tokenizer" validate:"oneof=heuristic tiktoken"`
}

// ChecklistItem is one weighted profile field the planner scores.
type ChecklistItem struct {
	Field    string `mapstructure:"field" validate:"required"`
	Weight   int    `mapstructure:"weight" validate:"gte=1"`
	Required bool   `mapstructure:"required"`
}

// RouterConfig tunes stage progression.
type RouterConfig struct {
	MaxClarifyingTurns int `mapstructure:"max_clarifying_turns" validate:"gte=1"`
	// Checklist replaces the default planner checklist when non-empty.
	Checklist []ChecklistItem `mapstructure:"checklist" validate:"omitempty,dive"`
}

// SessionConfig selects the session store.
type SessionConfig struct {
	Kind string `mapstructure:"kind" validate:"oneof=memory file sqlite"`
	// Path is the directory for file stores or the database file for sqlite.
	Path string `mapstructure:"path" validate:"required_unless=Kind memory"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimit       int           `mapstructure:"rate_limit" validate:"gte=0"`
	RateWindow      time.Duration `mapstructure:"rate_window" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig configures the file loggers and the HTTP access log.
type LoggingConfig struct {
	Level        string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Dir          string `mapstructure:"dir"`
	AccessFormat string `mapstructure:"access_format" validate:"oneof=json text"`
}

// Metadata reports where each configuration key came from.
type Metadata struct {
	sources    map[string]ValueSource
	configFile string
	loadedAt   time.Time
}

// Sources returns a copy of the per-key provenance map.
func (m Metadata) Sources() map[string]ValueSource {
	out := make(map[string]ValueSource, len(m.sources))
	for key, value := range m.sources {
		out[key] = value
	}
	return out
}

// Source reports where key was resolved from.
func (m Metadata) Source(key string) ValueSource {
	if source, ok := m.sources[key]; ok {
		return source
	}
	return SourceDefault
}

// ConfigFile is the file that was read, empty when none was found.
func (m Metadata) ConfigFile() string {
	return m.configFile
}

// LoadedAt returns when the configuration was resolved.
func (m Metadata) LoadedAt() time.Time {
	return m.loadedAt
}
