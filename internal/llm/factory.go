package llm

import (
	"fmt"
	"strings"

	"specpilot/internal/agent/ports"
)

// NewClient builds the client for cfg.Provider.
func NewClient(cfg Config) (ports.LLMClient, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case ProviderMock:
		return NewOfflineClient(), nil
	case "", ProviderOpenAI, ProviderOpenRouter, ProviderDeepSeek, ProviderOllama:
		cfg.Provider = provider
		if cfg.Provider == "" {
			cfg.Provider = ProviderOpenAI
		}
		return NewOpenAIClient(cfg)
	default:
		if cfg.BaseURL != "" {
			// Any other OpenAI-compatible gateway.
			return NewOpenAIClient(cfg)
		}
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
