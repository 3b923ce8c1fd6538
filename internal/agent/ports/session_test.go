package ports

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStageOrderingAndNames(t *testing.T) {
	require.Less(t, StageInit, StageRequirementCollection)
	require.Less(t, StageDocumentGeneration, StageCompleted)
	require.Equal(t, StageCompleted, StageCompleted.Next())
	require.Equal(t, StageTechStack, StageRiskAnalysis.Next())
	require.True(t, StageDiagramDesign.IsOptionStage())
	require.False(t, StageDocumentGeneration.IsOptionStage())

	raw, err := json.Marshal(map[string]Stage{"stage": StageMVPBoundary})
	require.NoError(t, err)
	require.JSONEq(t, `{"stage":"MVP_BOUNDARY"}`, string(raw))

	var decoded map[string]Stage
	require.NoError(t, json.Unmarshal([]byte(`{"stage":"risk_analysis"}`), &decoded))
	require.Equal(t, StageRiskAnalysis, decoded["stage"])

	_, err = ParseStage("LAUNCH")
	require.Error(t, err)
}

func TestSessionStateCloneIsDeep(t *testing.T) {
	state := NewSessionState("s1", time.Now())
	state.Profile["features"] = []any{"login"}
	state.Selections["RISK_ANALYSIS"] = "accept"

	clone := state.Clone()
	clone.Profile["features"].([]any)[0] = "signup"
	clone.Selections["RISK_ANALYSIS"] = "mitigate"
	clone.AskedQuestions = append(clone.AskedQuestions, "who?")

	require.Equal(t, "login", state.Profile["features"].([]any)[0])
	require.Equal(t, "accept", state.Selections["RISK_ANALYSIS"])
	require.Empty(t, state.AskedQuestions)
}

func TestPatchApplyMergesProfile(t *testing.T) {
	state := NewSessionState("s1", time.Now())
	state.Profile["projectName"] = "X"

	Patch{
		Profile:      map[string]any{"targetUsers": "students", "projectName": ""},
		Completeness: IntPtr(140),
		NextQuestion: StringPtr("What platform?"),
	}.Apply(state)

	require.Equal(t, "X", state.Profile["projectName"])
	require.Equal(t, "students", state.Profile["targetUsers"])
	require.Equal(t, 100, state.Completeness)
	require.Equal(t, "What platform?", state.NextQuestion)
}
