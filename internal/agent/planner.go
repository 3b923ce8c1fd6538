package agent

import (
	"context"
	"math"
	"strings"

	"specpilot/internal/agent/ports"
)

// ChecklistItem is one weighted profile field the planner scores.
type ChecklistItem struct {
	Field    string `mapstructure:"field" yaml:"field" json:"field"`
	Weight   int    `mapstructure:"weight" yaml:"weight" json:"weight"`
	Required bool   `mapstructure:"required" yaml:"required" json:"required"`
}

// Checklist is the ordered set of fields that make a profile complete.
type Checklist []ChecklistItem

// DefaultChecklist returns the built-in requirement checklist.
func DefaultChecklist() Checklist {
	return Checklist{
		{Field: "projectName", Weight: 15, Required: true},
		{Field: "projectGoal", Weight: 20, Required: true},
		{Field: "targetUsers", Weight: 15, Required: true},
		{Field: "coreFeatures", Weight: 20, Required: true},
		{Field: "platform", Weight: 10, Required: true},
		{Field: "constraints", Weight: 10},
		{Field: "timeline", Weight: 5},
		{Field: "budget", Weight: 5},
	}
}

// Fields lists the checklist's field names in order.
func (c Checklist) Fields() []string {
	out := make([]string, 0, len(c))
	for _, item := range c {
		out = append(out, item.Field)
	}
	return out
}

// Evaluation is the planner's verdict on a profile.
type Evaluation struct {
	Completeness int
	CanProceed   bool
	// Missing lists unsatisfied fields, required ones first.
	Missing []string
}

// Evaluate scores profile. Completeness is the satisfied share of the total
// weight, rounded to a whole percent; CanProceed requires every required
// field. An empty checklist is always complete.
func (c Checklist) Evaluate(profile map[string]any) Evaluation {
	total, satisfied := 0, 0
	canProceed := true
	var missingRequired, missingOptional []string
	for _, item := range c {
		weight := item.Weight
		if weight < 0 {
			weight = 0
		}
		total += weight
		if hasValue(profile[item.Field]) {
			satisfied += weight
			continue
		}
		if item.Required {
			canProceed = false
			missingRequired = append(missingRequired, item.Field)
		} else {
			missingOptional = append(missingOptional, item.Field)
		}
	}
	completeness := 100
	if total > 0 {
		completeness = int(math.Round(float64(satisfied) * 100 / float64(total)))
	}
	return Evaluation{
		Completeness: completeness,
		CanProceed:   canProceed,
		Missing:      append(missingRequired, missingOptional...),
	}
}

func hasValue(v any) bool {
	switch typed := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(typed) != ""
	case []any:
		return len(typed) > 0
	case []string:
		return len(typed) > 0
	case map[string]any:
		return len(typed) > 0
	default:
		return true
	}
}

// Planner computes completeness from the checklist. It never calls a model.
type Planner struct {
	checklist Checklist
}

// NewPlanner creates a planner; an empty checklist selects the default.
func NewPlanner(checklist Checklist) *Planner {
	if len(checklist) == 0 {
		checklist = DefaultChecklist()
	}
	return &Planner{checklist: checklist}
}

func (p *Planner) Name() string { return "planner" }

// Checklist returns the planner's checklist.
func (p *Planner) Checklist() Checklist { return p.checklist }

func (p *Planner) Run(_ context.Context, in Input) (ports.Patch, error) {
	var profile map[string]any
	if in.State != nil {
		profile = in.State.Profile
	}
	eval := p.checklist.Evaluate(profile)
	missing := eval.Missing
	if missing == nil {
		missing = []string{}
	}
	return ports.Patch{
		Completeness:  ports.IntPtr(eval.Completeness),
		CanProceed:    ports.BoolPtr(eval.CanProceed),
		MissingFields: missing,
	}, nil
}
