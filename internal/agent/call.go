package agent

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"specpilot/internal/agent/ports"
	"specpilot/internal/cache"
	ctxmgr "specpilot/internal/context"
	"specpilot/internal/invoker"
	"specpilot/internal/observability"
	"specpilot/internal/prompts"
	jsonx "specpilot/internal/shared/json"
	"specpilot/internal/shared/utils/id"
	"specpilot/internal/structured"
)

// CallSpec describes one structured agent call.
type CallSpec struct {
	// Agent names the caller; it prefixes cache keys and labels spans.
	Agent    string
	Template string
	Data     any
	History  []ports.Message
	// Query is the current user request, used to rank history by relevance.
	Query     string
	Priority  invoker.Priority
	Cacheable bool
	Tags      []string
}

// Call renders the prompt, fits history into the remaining budget, consults
// the cache and otherwise runs the model through the invoker. The response
// is validated into T, re-invoking with schema feedback when it does not
// match. Only validated results are cached.
func Call[T any](ctx context.Context, rt *Runtime, spec CallSpec) (T, error) {
	var zero T
	if rt == nil || rt.llm == nil || rt.prompts == nil {
		return zero, fmt.Errorf("agent %s: runtime is not configured", spec.Agent)
	}
	template := spec.Template
	if template == "" {
		template = spec.Agent
	}

	ctx, span := observability.StartSpan(ctx, rt.tracer, observability.SpanAgentPrefix+spec.Agent,
		attribute.String(observability.AttrAgent, spec.Agent))
	defer span.End()

	rendered, err := rt.prompts.Render(template, spec.Data)
	if err != nil {
		return zero, failSpan(span, fmt.Errorf("agent %s: %w", spec.Agent, err))
	}

	history := rt.fitHistory(rendered, spec)
	messages := make([]ports.Message, 0, len(history)+2)
	if rendered.System != "" {
		messages = append(messages, ports.Message{Role: ports.RoleSystem, Content: rendered.System})
	}
	messages = append(messages, history...)
	if rendered.User != "" {
		messages = append(messages, ports.Message{Role: ports.RoleUser, Content: rendered.User})
	}

	if !spec.Cacheable || rt.cache == nil {
		value, err := generate[T](ctx, rt, spec, messages)
		if err != nil {
			return zero, failSpan(span, fmt.Errorf("agent %s: %w", spec.Agent, err))
		}
		return value, nil
	}

	key := rt.keys.Key(cache.KeyInput{
		AgentType:          spec.Agent,
		SystemPrompt:       rendered.System,
		UserMessage:        rendered.User,
		HistoryFingerprint: cache.HistoryFingerprint(history),
	})
	raw, hit, err := rt.cache.GetOrSet(ctx, key, cache.SetOptions{
		AgentType: spec.Agent,
		Tags:      spec.Tags,
		TTL:       rt.config.CacheTTL,
	}, func(ctx context.Context) (string, error) {
		value, err := generate[T](ctx, rt, spec, messages)
		if err != nil {
			return "", err
		}
		data, err := jsonx.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("encode result: %w", err)
		}
		return string(data), nil
	})
	if err != nil {
		return zero, failSpan(span, fmt.Errorf("agent %s: %w", spec.Agent, err))
	}
	span.SetAttributes(attribute.Bool(observability.AttrCacheHit, hit))

	value, err := structured.Validate[T](raw).Unwrap()
	if err != nil {
		// A cached payload that no longer matches the schema is dropped and
		// regenerated once.
		rt.logger.Warn("agent %s: cached result no longer validates, regenerating: %v", spec.Agent, err)
		rt.cache.Delete(key)
		value, err = generate[T](ctx, rt, spec, messages)
		if err != nil {
			return zero, failSpan(span, fmt.Errorf("agent %s: %w", spec.Agent, err))
		}
		return value, nil
	}
	if hit {
		rt.logger.Debug("agent %s: cache hit", spec.Agent)
	}
	return value, nil
}

// generate runs the model through the invoker and validates the result,
// re-invoking with field-level feedback on schema mismatch.
func generate[T any](ctx context.Context, rt *Runtime, spec CallSpec, messages []ports.Message) (T, error) {
	conversation := ports.CloneMessages(messages)
	content, err := rt.complete(ctx, spec, conversation)
	if err != nil {
		var zero T
		return zero, err
	}

	retries := rt.config.ValidationRetries
	return structured.ParseAndValidate[T](ctx, content, structured.Options{
		Retry:      retries > 0,
		MaxRetries: retries,
		Logger:     rt.logger,
		Reinvoke: func(ctx context.Context, feedback string) (string, error) {
			conversation = append(conversation,
				ports.Message{Role: ports.RoleAssistant, Content: content},
				ports.Message{Role: ports.RoleUser, Content: feedback},
			)
			next, err := rt.complete(ctx, spec, conversation)
			if err != nil {
				return "", err
			}
			content = next
			return next, nil
		},
	})
}

// complete performs one resilient model call.
func (rt *Runtime) complete(ctx context.Context, spec CallSpec, messages []ports.Message) (string, error) {
	req := ports.CompletionRequest{
		Messages:    messages,
		Temperature: rt.config.Temperature,
		MaxTokens:   rt.config.MaxTokens,
		Metadata: map[string]any{
			"agent":      spec.Agent,
			"request_id": id.NewRequestIDWithLogID(id.LogIDFromContext(ctx)),
		},
	}
	return invoker.Do(ctx, rt.invoker, invoker.Options{
		Priority: spec.Priority,
		Breaker:  rt.config.Breaker,
		Op:       "agent." + spec.Agent,
	}, func(ctx context.Context) (string, error) {
		resp, err := rt.llm.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	})
}

// fitHistory compresses spec.History into whatever the prompt leaves of the
// context window.
func (rt *Runtime) fitHistory(rendered prompts.Rendered, spec CallSpec) []ports.Message {
	if len(spec.History) == 0 {
		return nil
	}
	prompt := rendered.System + "\n" + rendered.User
	alloc := rt.context.Allocate(rt.config.ContextWindow, prompt, nil, spec.History, rt.config.ReserveTokens)
	return rt.context.Compress(spec.History, alloc.Conversation, ctxmgr.CompressOptions{
		Strategy: rt.config.Strategy,
		Query:    spec.Query,
	})
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
