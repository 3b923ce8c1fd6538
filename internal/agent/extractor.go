package agent

import (
	"context"
	"strings"

	"specpilot/internal/agent/ports"
	"specpilot/internal/invoker"
)

type extraction struct {
	Profile map[string]any `json:"profile"`
	Summary string         `json:"summary"`
}

// Extractor merges facts stated by the user into the profile.
type Extractor struct {
	rt     *Runtime
	fields []string
}

// NewExtractor creates an extractor that knows the given profile fields.
func NewExtractor(rt *Runtime, fields []string) *Extractor {
	return &Extractor{rt: rt, fields: append([]string(nil), fields...)}
}

func (e *Extractor) Name() string { return "extractor" }

func (e *Extractor) Run(ctx context.Context, in Input) (ports.Patch, error) {
	userInput := in.UserInput
	// A bare option reference is expanded so the model sees the answer text.
	if in.State != nil && len(in.State.PendingOptions) > 0 {
		if opt, ok := ResolveSelection(userInput, in.State.PendingOptions); ok {
			userInput = opt.Value
			if !strings.EqualFold(opt.Value, opt.Label) {
				userInput = opt.Label + ": " + opt.Value
			}
		}
	}

	out, err := Call[extraction](ctx, e.rt, CallSpec{
		Agent:    e.Name(),
		Data:     promptData(in.State, userInput, e.fields),
		History:  in.History,
		Query:    userInput,
		Priority: invoker.PriorityHigh,
	})
	if err != nil {
		return ports.Patch{}, err
	}
	return ports.Patch{Profile: normalizeProfile(out.Profile), Response: out.Summary}, nil
}

// normalizeProfile trims strings and drops empty values so a model echoing
// blank fields never erases known facts.
func normalizeProfile(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		switch typed := v.(type) {
		case nil:
			continue
		case string:
			typed = strings.TrimSpace(typed)
			if typed == "" {
				continue
			}
			out[key] = typed
		case []any:
			items := make([]any, 0, len(typed))
			for _, item := range typed {
				if s, ok := item.(string); ok {
					s = strings.TrimSpace(s)
					if s == "" {
						continue
					}
					item = s
				}
				if item != nil {
					items = append(items, item)
				}
			}
			if len(items) > 0 {
				out[key] = items
			}
		default:
			out[key] = v
		}
	}
	return out
}
