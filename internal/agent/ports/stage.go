package ports

import (
	"fmt"
	"strings"
)

// Stage is one step of the requirement-to-spec pipeline. Stages are ordered
// and a session's stage never decreases.
type Stage int

const (
	StageInit Stage = iota
	StageRequirementCollection
	StageRiskAnalysis
	StageTechStack
	StageMVPBoundary
	StageDiagramDesign
	StageDocumentGeneration
	StageCompleted
)

var stageNames = [...]string{
	StageInit:                  "INIT",
	StageRequirementCollection: "REQUIREMENT_COLLECTION",
	StageRiskAnalysis:          "RISK_ANALYSIS",
	StageTechStack:             "TECH_STACK",
	StageMVPBoundary:           "MVP_BOUNDARY",
	StageDiagramDesign:         "DIAGRAM_DESIGN",
	StageDocumentGeneration:    "DOCUMENT_GENERATION",
	StageCompleted:             "COMPLETED",
}

func (s Stage) String() string {
	if s < StageInit || s > StageCompleted {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s >= StageInit && s <= StageCompleted
}

// Next returns the following stage; COMPLETED is its own successor.
func (s Stage) Next() Stage {
	if s >= StageCompleted {
		return StageCompleted
	}
	return s + 1
}

// IsOptionStage reports whether the stage presents options and waits for a selection.
func (s Stage) IsOptionStage() bool {
	return s >= StageRiskAnalysis && s <= StageDiagramDesign
}

// ParseStage maps an upper-case stage name back to a Stage.
func ParseStage(name string) (Stage, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, candidate := range stageNames {
		if candidate == name {
			return Stage(i), nil
		}
	}
	return StageInit, fmt.Errorf("unknown stage %q", name)
}

// MarshalText renders the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a stage name.
func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
