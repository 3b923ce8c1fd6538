package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"specpilot/internal/agent/ports"
)

func TestEmbeddedPackParses(t *testing.T) {
	loader, err := NewPromptLoader()
	require.NoError(t, err)
	require.Equal(t, []string{"asker", "diagram", "extractor", "mvp", "risk", "spec", "tech"}, loader.ListPrompts())
}

func TestRenderExtractorWithPendingOptions(t *testing.T) {
	loader, err := NewPromptLoader()
	require.NoError(t, err)

	out, err := loader.Render("extractor", Data{
		Fields:          []string{"projectName", "platform"},
		Profile:         map[string]any{"projectName": "Atlas"},
		UserInput:       "2",
		PendingQuestion: "Which platform?",
		PendingOptions:  []ports.Option{{Label: "Web"}, {Label: "Mobile"}},
	})
	require.NoError(t, err)
	require.Contains(t, out.System, "projectName, platform")
	require.Contains(t, out.User, `"projectName": "Atlas"`)
	require.Contains(t, out.User, "Which platform?")
	require.Contains(t, out.User, "2. Mobile")
	require.True(t, strings.HasSuffix(out.User, "2"))

	msgs := out.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, ports.RoleSystem, msgs[0].Role)
	require.Equal(t, ports.RoleUser, msgs[1].Role)
}

func TestRenderStagePromptUsesPartials(t *testing.T) {
	loader, err := NewPromptLoader()
	require.NoError(t, err)

	out, err := loader.Render("tech", Data{
		Stage:          "TECH_STACK",
		Profile:        map[string]any{"platform": "web"},
		StageSummaries: map[string]string{"RISK_ANALYSIS": "market risk is high"},
		Selections:     map[string]string{"RISK_ANALYSIS": "Run a pilot"},
	})
	require.NoError(t, err)
	require.Contains(t, out.System, `"options"`)
	require.Contains(t, out.User, "Stage: TECH_STACK")
	require.Contains(t, out.User, "- RISK_ANALYSIS: market risk is high")
	require.Contains(t, out.User, "- RISK_ANALYSIS: Run a pilot")
}

func TestRenderUnknownPrompt(t *testing.T) {
	loader, err := NewPromptLoader()
	require.NoError(t, err)
	_, err = loader.Render("missing", Data{})
	require.Error(t, err)
}

func TestParseRejectsBrokenTemplates(t *testing.T) {
	_, err := Parse(strings.NewReader("prompts:\n  broken:\n    system: \"{{ .Stage \"\n"))
	require.Error(t, err)

	_, err = Parse(strings.NewReader("version: 1\n"))
	require.Error(t, err)
}

func TestParseCustomPack(t *testing.T) {
	loader, err := Parse(strings.NewReader(`
prompts:
  greet:
    system: "{{ default \"friend\" .UserInput }}"
    user: ""
`))
	require.NoError(t, err)
	out, err := loader.Render("greet", Data{})
	require.NoError(t, err)
	require.Equal(t, "friend", out.System)
	require.Len(t, out.Messages(), 1)
}
