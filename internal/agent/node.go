package agent

import (
	"context"
	"strconv"
	"strings"

	"specpilot/internal/agent/ports"
	"specpilot/internal/prompts"
)

// Input is what the router hands a node for one turn. State is a working
// copy; nodes read it and describe changes through the returned Patch.
type Input struct {
	State     *ports.SessionState
	UserInput string
	History   []ports.Message
}

// Node is one step of the pipeline.
type Node interface {
	Name() string
	Run(ctx context.Context, in Input) (ports.Patch, error)
}

// optionOutput is the wire shape of an option in model responses.
type optionOutput struct {
	Label string `json:"label" validate:"required"`
	Value string `json:"value"`
}

func toOptions(in []optionOutput) []ports.Option {
	out := make([]ports.Option, 0, len(in))
	for i, opt := range in {
		value := strings.TrimSpace(opt.Value)
		if value == "" {
			value = opt.Label
		}
		out = append(out, ports.Option{ID: strconv.Itoa(i + 1), Label: strings.TrimSpace(opt.Label), Value: value})
	}
	return out
}

// ResolveSelection maps a reply onto one of options: a 1-based index, an
// option id, or the option label compared case-insensitively. Anything else
// is returned as a custom choice with ok false.
func ResolveSelection(reply string, options []ports.Option) (ports.Option, bool) {
	text := strings.TrimSpace(reply)
	text = strings.TrimSuffix(text, ".")
	if text == "" {
		return ports.Option{}, false
	}
	if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], true
	}
	for _, opt := range options {
		if strings.EqualFold(text, opt.ID) || strings.EqualFold(text, opt.Label) || (opt.Value != "" && strings.EqualFold(text, opt.Value)) {
			return opt, true
		}
	}
	return ports.Option{Label: strings.TrimSpace(reply), Value: strings.TrimSpace(reply)}, false
}

// promptData projects session state into the prompt view.
func promptData(state *ports.SessionState, userInput string, fields []string) prompts.Data {
	data := prompts.Data{
		Fields:    fields,
		UserInput: userInput,
	}
	if state == nil {
		return data
	}
	data.Stage = state.Stage.String()
	data.Profile = state.Profile
	data.PendingQuestion = state.NextQuestion
	data.PendingOptions = state.PendingOptions
	data.MissingFields = state.MissingFields
	data.AskedQuestions = state.AskedQuestions
	data.StageSummaries = state.StageSummaries
	data.Selections = state.Selections
	data.Summary = state.Summary
	return data
}

// FormatOptions renders options as a numbered list for chat replies.
func FormatOptions(options []ports.Option) string {
	if len(options) == 0 {
		return ""
	}
	var b strings.Builder
	for i, opt := range options {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(opt.Label)
		if opt.Value != "" && opt.Value != opt.Label {
			b.WriteString(": ")
			b.WriteString(opt.Value)
		}
	}
	return b.String()
}
