package agent

import (
	"context"
	"fmt"
	"strings"

	"specpilot/internal/agent/ports"
	"specpilot/internal/invoker"
)

type stageOutput struct {
	Summary string         `json:"summary" validate:"required"`
	Details string         `json:"details"`
	Options []optionOutput `json:"options" validate:"min=1,max=6,dive"`
}

var stageTemplates = map[ports.Stage]string{
	ports.StageRiskAnalysis:  "risk",
	ports.StageTechStack:     "tech",
	ports.StageMVPBoundary:   "mvp",
	ports.StageDiagramDesign: "diagram",
}

// StageAgent presents one option stage: a summary of the analysis and the
// choices the user picks from. Results are cached per profile and history.
type StageAgent struct {
	rt    *Runtime
	stage ports.Stage
	name  string
}

// NewStageAgent creates the agent for an option stage.
func NewStageAgent(rt *Runtime, stage ports.Stage) (*StageAgent, error) {
	name, ok := stageTemplates[stage]
	if !ok {
		return nil, fmt.Errorf("stage %s has no agent", stage)
	}
	return &StageAgent{rt: rt, stage: stage, name: name}, nil
}

// NewStageAgents creates agents for every option stage.
func NewStageAgents(rt *Runtime) map[ports.Stage]*StageAgent {
	out := make(map[ports.Stage]*StageAgent, len(stageTemplates))
	for stage, name := range stageTemplates {
		out[stage] = &StageAgent{rt: rt, stage: stage, name: name}
	}
	return out
}

func (s *StageAgent) Name() string { return s.name }

// Stage returns the stage this agent presents.
func (s *StageAgent) Stage() ports.Stage { return s.stage }

func (s *StageAgent) Run(ctx context.Context, in Input) (ports.Patch, error) {
	data := promptData(in.State, in.UserInput, nil)
	data.Stage = s.stage.String()
	out, err := Call[stageOutput](ctx, s.rt, CallSpec{
		Agent:     s.name,
		Data:      data,
		History:   in.History,
		Query:     in.UserInput,
		Priority:  invoker.PriorityNormal,
		Cacheable: true,
		Tags:      []string{"stage:" + strings.ToLower(s.stage.String())},
	})
	if err != nil {
		return ports.Patch{}, err
	}
	summary := strings.TrimSpace(out.Summary)
	options := toOptions(out.Options)

	var b strings.Builder
	b.WriteString(summary)
	if details := strings.TrimSpace(out.Details); details != "" {
		b.WriteString("\n\n")
		b.WriteString(details)
	}
	b.WriteString("\n\n")
	b.WriteString(FormatOptions(options))
	return ports.Patch{
		StageSummary: ports.StringPtr(summary),
		Options:      options,
		Response:     b.String(),
	}, nil
}
