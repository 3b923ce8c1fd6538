package ports

// Patch is the partial state an agent node returns. Nil fields are left
// unchanged when applied.
type Patch struct {
	Profile       map[string]any `json:"profile,omitempty"`
	Completeness  *int           `json:"completeness,omitempty"`
	CanProceed    *bool          `json:"can_proceed,omitempty"`
	MissingFields []string       `json:"missing_fields,omitempty"`
	NextQuestion  *string        `json:"next_question,omitempty"`
	Options       []Option       `json:"options,omitempty"`
	StageSummary  *string        `json:"stage_summary,omitempty"`
	Response      string         `json:"response,omitempty"`
	FinalSpec     *string        `json:"final_spec,omitempty"`
}

// Apply merges p into s. Profile keys are merged, never removed.
func (p Patch) Apply(s *SessionState) {
	if s == nil {
		return
	}
	if len(p.Profile) > 0 {
		if s.Profile == nil {
			s.Profile = map[string]any{}
		}
		for k, v := range p.Profile {
			if isEmptyValue(v) {
				continue
			}
			s.Profile[k] = v
		}
	}
	if p.Completeness != nil {
		s.Completeness = clampPercent(*p.Completeness)
	}
	if p.MissingFields != nil {
		s.MissingFields = append([]string(nil), p.MissingFields...)
	}
	if p.NextQuestion != nil {
		s.NextQuestion = *p.NextQuestion
	}
	if p.FinalSpec != nil {
		s.FinalSpec = *p.FinalSpec
	}
}

// Proceed reports the planner's gate, false when unset.
func (p Patch) Proceed() bool {
	return p.CanProceed != nil && *p.CanProceed
}

func isEmptyValue(v any) bool {
	switch typed := v.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	case []any:
		return len(typed) == 0
	case []string:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	}
	return false
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// IntPtr, BoolPtr and StringPtr build optional patch fields.
func IntPtr(v int) *int          { return &v }
func BoolPtr(v bool) *bool       { return &v }
func StringPtr(v string) *string { return &v }
