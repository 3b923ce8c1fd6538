package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"specpilot/internal/agent/ports"
	"specpilot/internal/httpclient"
	sperrors "specpilot/internal/shared/errors"
	jsonx "specpilot/internal/shared/json"
	"specpilot/internal/shared/logging"
	"specpilot/internal/shared/utils/id"
)

// openaiClient speaks the OpenAI-compatible chat completions API.
type openaiClient struct {
	provider      string
	model         string
	apiKey        string
	baseURL       string
	headers       map[string]string
	responseLimit int64
	httpClient    *http.Client
	logger        logging.Logger
	usage         UsageCallback
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenAIClient constructs an LLM client for any OpenAI-compatible
// chat completions endpoint.
func NewOpenAIClient(cfg Config) (ports.LLMClient, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("llm: model is required")
	}
	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURLs[provider]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("llm: base URL is required for provider %q", provider)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	limit := cfg.ResponseLimit
	if limit <= 0 {
		limit = httpclient.DefaultResponseLimit
	}
	logger := cfg.Logger
	if logging.IsNil(logger) {
		logger = logging.NewLLMLogger(provider)
	}

	return &openaiClient{
		provider:      provider,
		model:         cfg.Model,
		apiKey:        cfg.APIKey,
		baseURL:       strings.TrimRight(baseURL, "/"),
		headers:       cfg.Headers,
		responseLimit: limit,
		httpClient:    httpclient.New(timeout, logger),
		logger:        logger,
		usage:         cfg.Usage,
	}, nil
}

func (c *openaiClient) Model() string { return c.model }

func (c *openaiClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	requestID := extractRequestID(req.Metadata)
	if requestID == "" {
		requestID = id.NewRequestIDWithLogID(id.LogIDFromContext(ctx))
	}
	prefix := fmt.Sprintf("[req:%s] ", requestID)

	payload := chatRequest{
		Model:       c.model,
		Messages:    convertMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	body, err := jsonx.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	c.logger.Debug("%sPOST %s model=%s messages=%d", prefix, endpoint, c.model, len(payload.Messages))
	started := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("%sLLM request transport failed: provider=%s model=%s error=%v", prefix, c.provider, c.model, err)
		return nil, wrapRequestError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, c.responseLimit)
	if err != nil {
		if httpclient.IsResponseTooLarge(err) {
			return nil, sperrors.NewPermanentError(err, "LLM response exceeded the size limit.")
		}
		return nil, wrapRequestError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		mapped := mapHTTPError(resp.StatusCode, respBody, resp.Header)
		c.logger.Warn("%sLLM request rejected: provider=%s model=%s status=%d retry_after=%q error=%v",
			prefix, c.provider, c.model, resp.StatusCode, headerValue(resp.Header, "Retry-After"), mapped)
		return nil, mapped
	}

	var decoded chatResponse
	if err := jsonx.Unmarshal(respBody, &decoded); err != nil {
		return nil, sperrors.NewTransientError(fmt.Errorf("decode response: %w", err), "LLM returned an unreadable response. Please retry.")
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, mapHTTPError(resp.StatusCode, respBody, resp.Header)
	}
	if len(decoded.Choices) == 0 {
		return nil, sperrors.NewTransientError(errors.New("no choices in response"), "LLM returned an empty response. Please retry.")
	}

	result := &ports.CompletionResponse{
		Content:    decoded.Choices[0].Message.Content,
		StopReason: decoded.Choices[0].FinishReason,
		Usage: ports.TokenUsage{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
			TotalTokens:      decoded.Usage.TotalTokens,
		},
	}
	if c.usage != nil {
		c.usage(result.Usage, c.model, c.provider)
	}

	c.logger.Debug("%sstop=%s content=%d chars usage=%d+%d=%d tokens in %v",
		prefix,
		result.StopReason,
		len(result.Content),
		result.Usage.PromptTokens,
		result.Usage.CompletionTokens,
		result.Usage.TotalTokens,
		time.Since(started))
	return result, nil
}

func convertMessages(msgs []ports.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, chatMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}

func extractRequestID(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	if value, ok := metadata["request_id"]; ok {
		switch v := value.(type) {
		case string:
			return strings.TrimSpace(v)
		case fmt.Stringer:
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}
