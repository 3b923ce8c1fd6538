package agent

import (
	"context"
	"strings"

	"specpilot/internal/agent/ports"
	"specpilot/internal/invoker"
)

type document struct {
	Title    string `json:"title" validate:"required"`
	Document string `json:"document" validate:"required"`
}

// SpecWriter produces the final Markdown specification.
type SpecWriter struct {
	rt *Runtime
}

// NewSpecWriter creates a spec writer.
func NewSpecWriter(rt *Runtime) *SpecWriter {
	return &SpecWriter{rt: rt}
}

func (w *SpecWriter) Name() string { return "spec" }

func (w *SpecWriter) Run(ctx context.Context, in Input) (ports.Patch, error) {
	data := promptData(in.State, in.UserInput, nil)
	data.Stage = ports.StageDocumentGeneration.String()
	out, err := Call[document](ctx, w.rt, CallSpec{
		Agent:     w.Name(),
		Data:      data,
		Priority:  invoker.PriorityLow,
		Cacheable: true,
		Tags:      []string{"stage:document_generation"},
	})
	if err != nil {
		return ports.Patch{}, err
	}
	body := strings.TrimSpace(out.Document)
	title := strings.TrimSpace(out.Title)
	if !strings.HasPrefix(body, "#") {
		body = "# " + title + "\n\n" + body
	}
	return ports.Patch{FinalSpec: ports.StringPtr(body), Response: body}, nil
}
