// Package llm adapts LLM providers to ports.LLMClient.
package llm

import (
	"time"

	"specpilot/internal/agent/ports"
	"specpilot/internal/shared/logging"
)

// Provider names accepted by NewClient.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderDeepSeek   = "deepseek"
	ProviderOllama     = "ollama"
	ProviderMock       = "mock"
)

var defaultBaseURLs = map[string]string{
	ProviderOpenAI:     "https://api.openai.com/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
	ProviderDeepSeek:   "https://api.deepseek.com/v1",
	ProviderOllama:     "http://localhost:11434/v1",
}

// UsageCallback receives token usage after each successful completion.
type UsageCallback func(usage ports.TokenUsage, model string, provider string)

// Config describes one provider connection.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	Headers  map[string]string
	// ResponseLimit caps the response body size; zero uses the default.
	ResponseLimit int64

	Usage  UsageCallback
	Logger logging.Logger
}
