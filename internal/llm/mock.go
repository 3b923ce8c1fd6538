package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"specpilot/internal/agent/ports"
)

// ErrScriptExhausted is returned when a ScriptedClient has no steps left.
var ErrScriptExhausted = errors.New("mock llm: script exhausted")

// Step is one scripted reply. Exactly one of Content, Err or Respond is used,
// in that order of precedence: Respond, Err, Content.
type Step struct {
	Content string
	Err     error
	// Delay is waited before replying; the wait honours cancellation.
	Delay   time.Duration
	Respond func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error)
}

// ScriptedClient replays steps in order. It records every request and is
// safe for concurrent use.
type ScriptedClient struct {
	model string

	mu       sync.Mutex
	steps    []Step
	fallback *Step
	requests []ports.CompletionRequest
}

// NewScriptedClient creates a client that replies with steps in order.
func NewScriptedClient(model string, steps ...Step) *ScriptedClient {
	if model == "" {
		model = "mock-model"
	}
	return &ScriptedClient{model: model, steps: steps}
}

// Then appends steps to the script.
func (c *ScriptedClient) Then(steps ...Step) *ScriptedClient {
	c.mu.Lock()
	c.steps = append(c.steps, steps...)
	c.mu.Unlock()
	return c
}

// Otherwise sets the reply used once the script is exhausted.
func (c *ScriptedClient) Otherwise(step Step) *ScriptedClient {
	c.mu.Lock()
	c.fallback = &step
	c.mu.Unlock()
	return c
}

func (c *ScriptedClient) Model() string { return c.model }

func (c *ScriptedClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	var step Step
	switch {
	case len(c.steps) > 0:
		step = c.steps[0]
		c.steps = c.steps[1:]
	case c.fallback != nil:
		step = *c.fallback
	default:
		c.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	c.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	if step.Respond != nil {
		return step.Respond(ctx, req)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return textResponse(step.Content, req), nil
}

// Requests returns the requests received so far.
func (c *ScriptedClient) Requests() []ports.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ports.CompletionRequest(nil), c.requests...)
}

// Calls returns how many requests were received.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Remaining returns how many scripted steps are left.
func (c *ScriptedClient) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.steps)
}

func textResponse(content string, req ports.CompletionRequest) *ports.CompletionResponse {
	prompt := 0
	for _, msg := range req.Messages {
		prompt += len(msg.Content) / 4
	}
	completion := len(content) / 4
	return &ports.CompletionResponse{
		Content:    content,
		StopReason: "stop",
		Usage: ports.TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}
}

// NewOfflineClient returns a client that answers every agent with canned
// JSON so the pipeline can be exercised without a provider. The agent is
// read from the request metadata key "agent".
func NewOfflineClient() *ScriptedClient {
	return NewScriptedClient("offline").Otherwise(Step{Respond: offlineReply})
}

func offlineReply(_ context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	agent, _ := req.Metadata["agent"].(string)
	var content string
	switch agent {
	case "extractor":
		content = offlineExtraction(req)
	case "asker":
		content = `{"question": "Could you describe the product in a bit more detail?", "options": []}`
	case "risk", "tech", "mvp", "diagram":
		content = fmt.Sprintf(`{"summary": "Offline %s analysis.", "details": "Generated without a model.", "options": [{"label": "Option A", "value": "first choice"}, {"label": "Option B", "value": "second choice"}]}`, agent)
	case "spec":
		content = `{"title": "Product specification", "document": "# Product specification\n\nGenerated offline."}`
	default:
		content = "{}"
	}
	return textResponse(content, req), nil
}

// offlineExtraction records the latest user message as the project goal so
// an offline session can make progress.
func offlineExtraction(req ports.CompletionRequest) string {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ports.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	marker := "User message:"
	if idx := strings.LastIndex(last, marker); idx >= 0 {
		last = last[idx+len(marker):]
	}
	last = strings.TrimSpace(last)
	if last == "" {
		return `{"profile": {}}`
	}
	quoted := strings.ReplaceAll(strings.ReplaceAll(last, `\`, `\\`), `"`, `\"`)
	quoted = strings.ReplaceAll(quoted, "\n", `\n`)
	return fmt.Sprintf(`{"profile": {"projectGoal": "%s"}, "summary": "recorded goal"}`, quoted)
}
