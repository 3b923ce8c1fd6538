package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specpilot/internal/agent/ports"
	"specpilot/internal/app/di"
	"specpilot/internal/config"
	"specpilot/internal/llm"
	"specpilot/internal/router"
	"specpilot/internal/shared/logging"
)

type scriptedReader struct {
	lines []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) Close() error { return nil }

func newTestCLI(t *testing.T) (*CLI, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true
	t.Setenv("SPECPILOT_LOG_DIR", "-")
	dir := t.TempDir()
	out := &bytes.Buffer{}
	cli := &CLI{
		out:    out,
		errOut: io.Discard,
		loadOptions: []config.Option{
			config.WithEnv(func(string) (string, bool) { return "", false }),
			config.WithHomeDir(func() (string, error) { return dir, nil }),
			config.WithWorkDir(func() (string, error) { return dir, nil }),
			config.WithOverrides(config.Overrides{
				"llm.provider": "mock",
				"logging.dir":  "-",
			}),
		},
		containerOptions: []di.Option{
			di.WithLLMClient(llm.NewOfflineClient()),
			di.WithLogger(&logging.Recorder{}),
		},
	}
	return cli, out
}

func run(t *testing.T, cli *CLI, args ...string) error {
	t.Helper()
	root := cli.rootCommand()
	root.SetArgs(args)
	return root.Execute()
}

func newChatContainer(t *testing.T) *di.Container {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.Provider = "mock"
	cfg.Router.Checklist = []config.ChecklistItem{{Field: "projectGoal", Weight: 100, Required: true}}
	container, err := di.BuildContainer(cfg, di.WithLLMClient(llm.NewOfflineClient()), di.WithLogger(&logging.Recorder{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Shutdown(context.Background()) })
	return container
}

func TestRunChatDrivesSession(t *testing.T) {
	color.NoColor = true
	container := newChatContainer(t)
	out := &bytes.Buffer{}
	in := &scriptedReader{lines: []string{"", "A habit tracker for students", "/status", "1", "exit", "ignored"}}

	require.NoError(t, runChat(context.Background(), container.Router, "", in, out))

	text := out.String()
	assert.Contains(t, text, "stage INIT")
	assert.Contains(t, text, "Choose an option")
	assert.Contains(t, text, "Stage: RISK_ANALYSIS")
	assert.Contains(t, text, "[TECH_STACK")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(text), "Goodbye!"))
	assert.Equal(t, []string{"ignored"}, in.lines)
}

func TestRunChatResumesSession(t *testing.T) {
	color.NoColor = true
	container := newChatContainer(t)
	ctx := context.Background()
	state, err := container.Router.Create(ctx)
	require.NoError(t, err)
	_, err = container.Router.Advance(ctx, state.SessionID, "A recipe sharing app")
	require.NoError(t, err)

	out := &bytes.Buffer{}
	require.NoError(t, runChat(ctx, container.Router, state.SessionID, &scriptedReader{}, out))
	assert.Contains(t, out.String(), "stage "+ports.StageRiskAnalysis.String())
	assert.Contains(t, out.String(), "Choose an option")

	err = runChat(ctx, container.Router, "missing", &scriptedReader{}, out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrSessionNotFound)
}

func TestRunChatReportsTurnErrors(t *testing.T) {
	color.NoColor = true
	container := newChatContainer(t)
	out := &bytes.Buffer{}
	// The session vanishes between open and the first turn.
	r := &deletingRouter{StageRouter: container.Router}
	require.NoError(t, runChat(context.Background(), r, "", &scriptedReader{lines: []string{"hello"}}, out))
	assert.Contains(t, out.String(), "Error: ")
}

type deletingRouter struct {
	*router.StageRouter
}

func (d *deletingRouter) Create(ctx context.Context) (*ports.SessionState, error) {
	state, err := d.StageRouter.Create(ctx)
	if err != nil {
		return nil, err
	}
	return state, d.StageRouter.Delete(ctx, state.SessionID)
}

func TestCacheWarmThenInspect(t *testing.T) {
	cli, out := newTestCLI(t)
	dir := t.TempDir()
	seeds := filepath.Join(dir, "seeds.yaml")
	snapshot := filepath.Join(dir, "cache", "snapshot.zst")
	require.NoError(t, os.WriteFile(seeds, []byte(`
seeds:
  - agent: extractor
    user: "I want a todo app"
    ttl: 1h
    tags: [demo]
    value: '{"profile": {"projectName": "Todo"}}'
  - key: fixed
    agent: risk
    value: "low risk"
`), 0o644))

	require.NoError(t, run(t, cli, "cache", "warm", seeds, snapshot))
	assert.Contains(t, out.String(), "Warmed 2 seeds")
	assert.FileExists(t, snapshot)

	out.Reset()
	require.NoError(t, run(t, cli, "cache", "inspect", snapshot))
	assert.Contains(t, out.String(), "extractor")
	assert.Contains(t, out.String(), "[demo]")
	assert.Contains(t, out.String(), "2 entries")

	// Warming again merges rather than duplicating.
	out.Reset()
	require.NoError(t, run(t, cli, "cache", "warm", seeds, snapshot))
	assert.Contains(t, out.String(), "(2 existing, 2 total)")
}

func TestCacheInspectMissingSnapshot(t *testing.T) {
	cli, _ := newTestCLI(t)
	err := run(t, cli, "cache", "inspect", filepath.Join(t.TempDir(), "nope.zst"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open snapshot")
}

func TestVersionCommand(t *testing.T) {
	cli, out := newTestCLI(t)
	require.NoError(t, run(t, cli, "version"))
	assert.Contains(t, out.String(), "specpilot ")
}

func TestConfigFlagMustExist(t *testing.T) {
	cli, _ := newTestCLI(t)
	err := run(t, cli, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "cache", "warm", "a", "b")
	require.Error(t, err)
}

func TestLogsCommand(t *testing.T) {
	cli, out := newTestCLI(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "specpilot-service.log"),
		[]byte("2026-10-18 10:00:00 [INFO] [SERVICE] [Router] [session=s-1] router.go:1 - turn done\n"), 0o644))

	require.NoError(t, run(t, cli, "logs", "s-1", "--dir", dir))
	assert.Contains(t, out.String(), "turn done")

	out.Reset()
	require.NoError(t, run(t, cli, "logs", "s-2", "--dir", dir))
	assert.Contains(t, out.String(), "No log lines for session s-2.")
}
