// Package context keeps conversation context inside a model's token budget.
//
// Token costs come from a tokenutil.Estimator, which by default is a
// heuristic approximation rather than a tokenizer-exact count.
package context

import (
	"specpilot/internal/agent/ports"
	"specpilot/internal/shared/logging"
	tokenutil "specpilot/internal/shared/token"
)

const (
	defaultExamplesShare       = 0.3
	defaultPinRecent           = 4
	defaultSimilarityThreshold = 0.9
	defaultSnippetLength       = 140
)

// TokenAllocation splits a context window. The fields always sum to Total,
// and Total never exceeds the window passed to Allocate.
type TokenAllocation struct {
	SystemPrompt     int `json:"system_prompt"`
	Examples         int `json:"examples"`
	Conversation     int `json:"conversation"`
	ReservedResponse int `json:"reserved_response"`
	Total            int `json:"total"`
}

// Manager budgets and compresses conversation context. It holds no
// per-session state and is safe for concurrent use.
type Manager struct {
	estimator           tokenutil.Estimator
	logger              logging.Logger
	examplesShare       float64
	pinRecent           int
	similarityThreshold float64
	snippetLength       int
	defaultStrategy     Strategy
}

// Option configures the context manager.
type Option func(*Manager)

// WithEstimator swaps the token estimator.
func WithEstimator(est tokenutil.Estimator) Option {
	return func(m *Manager) {
		if est != nil {
			m.estimator = est
		}
	}
}

// WithLogger injects a custom logger (used by tests).
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		if !logging.IsNil(logger) {
			m.logger = logger
		}
	}
}

// WithExamplesShare caps the examples slice at share of the post-prompt budget.
func WithExamplesShare(share float64) Option {
	return func(m *Manager) {
		if share >= 0 && share <= 1 {
			m.examplesShare = share
		}
	}
}

// WithPinRecent sets how many most-recent messages are exempt from eviction.
func WithPinRecent(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.pinRecent = n
		}
	}
}

// WithSimilarityThreshold sets the near-duplicate similarity ratio.
func WithSimilarityThreshold(ratio float64) Option {
	return func(m *Manager) {
		if ratio > 0 && ratio <= 1 {
			m.similarityThreshold = ratio
		}
	}
}

// WithDefaultStrategy sets the strategy used when CompressOptions leaves it empty.
func WithDefaultStrategy(strategy Strategy) Option {
	return func(m *Manager) {
		if strategy.Valid() {
			m.defaultStrategy = strategy
		}
	}
}

// NewManager constructs a context manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		estimator:           tokenutil.Heuristic{},
		logger:              logging.NewComponentLogger("context"),
		examplesShare:       defaultExamplesShare,
		pinRecent:           defaultPinRecent,
		similarityThreshold: defaultSimilarityThreshold,
		snippetLength:       defaultSnippetLength,
		defaultStrategy:     StrategyHybrid,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Estimate returns the approximate token cost of text.
func (m *Manager) Estimate(text string) int {
	return m.estimator.Estimate(text)
}

// EstimateMessage returns the cost of one message including role framing.
func (m *Manager) EstimateMessage(msg ports.Message) int {
	return m.estimator.Estimate(msg.Content) + tokenutil.MessageOverhead
}

// EstimateMessages returns the cost of msgs including role framing.
func (m *Manager) EstimateMessages(msgs []ports.Message) int {
	total := 0
	for _, msg := range msgs {
		total += m.EstimateMessage(msg)
	}
	return total
}

// Allocate splits maxTokens across the system prompt, examples, history and
// the response reserve. The reserve is honoured first, the system prompt is
// clamped to what remains, examples get at most examplesShare of the rest and
// the conversation receives the remainder, capped at its actual cost.
func (m *Manager) Allocate(maxTokens int, systemPrompt string, examples []string, history []ports.Message, reserveForResponse int) TokenAllocation {
	if maxTokens <= 0 {
		return TokenAllocation{}
	}
	reserve := clamp(reserveForResponse, 0, maxTokens)
	remaining := maxTokens - reserve

	system := clamp(m.Estimate(systemPrompt), 0, remaining)
	remaining -= system

	exampleCost := 0
	for _, example := range examples {
		exampleCost += m.Estimate(example)
	}
	exampleCap := int(float64(remaining) * m.examplesShare)
	exampleBudget := clamp(exampleCost, 0, exampleCap)
	remaining -= exampleBudget

	conversation := clamp(m.EstimateMessages(history), 0, remaining)

	alloc := TokenAllocation{
		SystemPrompt:     system,
		Examples:         exampleBudget,
		Conversation:     conversation,
		ReservedResponse: reserve,
	}
	alloc.Total = alloc.SystemPrompt + alloc.Examples + alloc.Conversation + alloc.ReservedResponse
	return alloc
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
