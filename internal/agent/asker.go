package agent

import (
	"context"
	"strings"

	"specpilot/internal/agent/ports"
	"specpilot/internal/invoker"
	"specpilot/internal/structured"
)

type question struct {
	Question string         `json:"question" validate:"required"`
	Options  []optionOutput `json:"options" validate:"max=6,dive"`
}

func (q *question) ValidateSchema() []structured.FieldError {
	text := strings.TrimSpace(q.Question)
	if text == "" || strings.HasSuffix(text, "?") || strings.HasSuffix(text, "？") {
		return nil
	}
	return []structured.FieldError{{Field: "question", Message: "must be phrased as a question"}}
}

// Asker produces the next clarifying question for the missing fields.
type Asker struct {
	rt *Runtime
}

// NewAsker creates an asker.
func NewAsker(rt *Runtime) *Asker {
	return &Asker{rt: rt}
}

func (a *Asker) Name() string { return "asker" }

func (a *Asker) Run(ctx context.Context, in Input) (ports.Patch, error) {
	out, err := Call[question](ctx, a.rt, CallSpec{
		Agent:    a.Name(),
		Data:     promptData(in.State, in.UserInput, nil),
		History:  in.History,
		Query:    in.UserInput,
		Priority: invoker.PriorityHigh,
	})
	if err != nil {
		return ports.Patch{}, err
	}
	q := strings.TrimSpace(out.Question)
	options := toOptions(out.Options)
	response := q
	if list := FormatOptions(options); list != "" {
		response += "\n" + list
	}
	return ports.Patch{
		NextQuestion: ports.StringPtr(q),
		Options:      options,
		Response:     response,
	}, nil
}
