package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func isolated(t *testing.T, extra ...Option) []Option {
	t.Helper()
	dir := t.TempDir()
	opts := []Option{
		WithEnv(envMap(nil)),
		WithHomeDir(func() (string, error) { return dir, nil }),
		WithWorkDir(func() (string, error) { return dir, nil }),
	}
	return append(opts, extra...)
}

func TestLoadDefaults(t *testing.T) {
	cfg, meta, err := Load(isolated(t)...)
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Empty(t, meta.ConfigFile())
	assert.Equal(t, SourceDefault, meta.Source("llm.model"))
	assert.False(t, meta.LoadedAt().IsZero())
}

func TestLoadFileThenEnvThenOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "specpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: OpenRouter
  model: file-model
  timeout: 15s
invoker:
  max_concurrent: 2
cache:
  ttl: 1h
router:
  max_clarifying_turns: 3
  checklist:
    - field: projectName
      weight: 60
      required: true
    - field: budget
      weight: 40
session:
  kind: file
  path: ~/sessions
`), 0o644))

	env := envMap(map[string]string{
		"SPECPILOT_LLM_MODEL":            "env-model",
		"SPECPILOT_INVOKER_MAX_ATTEMPTS": "5",
		"SPECPILOT_SERVER_CORS_ORIGINS":  "http://a.test,http://b.test",
	})
	cfg, meta, err := Load(
		WithConfigPath(path),
		WithEnv(env),
		WithHomeDir(func() (string, error) { return "/home/tester", nil }),
		WithOverrides(Overrides{"invoker.max_concurrent": 7}),
	)
	require.NoError(t, err)

	assert.Equal(t, path, meta.ConfigFile())
	assert.Equal(t, "openrouter", cfg.LLM.Provider)
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 5, cfg.Invoker.MaxAttempts)
	assert.Equal(t, 7, cfg.Invoker.MaxConcurrent)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, filepath.Join("/home/tester", "sessions"), cfg.Session.Path)
	require.Len(t, cfg.Router.Checklist, 2)
	assert.Equal(t, ChecklistItem{Field: "projectName", Weight: 60, Required: true}, cfg.Router.Checklist[0])

	assert.Equal(t, SourceFile, meta.Source("llm.provider"))
	assert.Equal(t, SourceEnv, meta.Source("llm.model"))
	assert.Equal(t, SourceOverride, meta.Source("invoker.max_concurrent"))
	assert.Equal(t, SourceFile, meta.Source("router.checklist"))
	assert.Equal(t, SourceDefault, meta.Source("breaker.cooldown"))
}

func TestLoadSearchesWorkDirThenHome(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".specpilot"), 0o755))
	homeFile := filepath.Join(home, ".specpilot", "config.yaml")
	require.NoError(t, os.WriteFile(homeFile, []byte("llm:\n  model: home-model\n"), 0o644))

	cfg, meta, err := Load(isolated(t, WithHomeDir(func() (string, error) { return home, nil }))...)
	require.NoError(t, err)
	assert.Equal(t, "home-model", cfg.LLM.Model)
	assert.Equal(t, homeFile, meta.ConfigFile())

	work := t.TempDir()
	workFile := filepath.Join(work, "specpilot.yaml")
	require.NoError(t, os.WriteFile(workFile, []byte("llm:\n  model: work-model\n"), 0o644))

	cfg, meta, err = Load(isolated(t,
		WithHomeDir(func() (string, error) { return home, nil }),
		WithWorkDir(func() (string, error) { return work, nil }),
	)...)
	require.NoError(t, err)
	assert.Equal(t, "work-model", cfg.LLM.Model)
	assert.Equal(t, workFile, meta.ConfigFile())
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, _, err := Load(isolated(t, WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")))...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unterminated"), 0o644))

	_, _, err := Load(isolated(t, WithConfigPath(path))...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestOpenAIKeyFallback(t *testing.T) {
	cfg, meta, err := Load(isolated(t, WithEnv(envMap(map[string]string{"OPENAI_API_KEY": "sk-fallback"})))...)
	require.NoError(t, err)
	assert.Equal(t, "sk-fallback", cfg.LLM.APIKey)
	assert.Equal(t, SourceEnv, meta.Source("llm.api_key"))

	cfg, _, err = Load(isolated(t, WithEnv(envMap(map[string]string{
		"OPENAI_API_KEY":        "sk-fallback",
		"SPECPILOT_LLM_API_KEY": "sk-primary",
	})))...)
	require.NoError(t, err)
	assert.Equal(t, "sk-primary", cfg.LLM.APIKey)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "SPECPILOT_ROUTER_MAX_CLARIFYING_TURNS", EnvName("router.max_clarifying_turns"))
}

func TestValidateReportsFieldLevelProblems(t *testing.T) {
	cfg := Default()
	cfg.Invoker.MaxConcurrent = 0
	cfg.Context.Strategy = "magic"
	cfg.LLM.ReserveTokens = cfg.LLM.ContextWindow
	cfg.Session.Kind = StoreSQLite
	cfg.Router.Checklist = []ChecklistItem{{Field: "budget", Weight: 10}}

	err := cfg.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	joined := verr.Error()
	assert.Contains(t, joined, "invoker.max_concurrent: must be at least 1")
	assert.Contains(t, joined, "context.strategy: must be one of: summarization, importance, dedup, hybrid")
	assert.Contains(t, joined, "llm.reserve_tokens: must be less than llm.context_window")
	assert.Contains(t, joined, "session.path: is required")
	assert.Contains(t, joined, "router.checklist: must contain at least one required field")
	assert.Len(t, verr.ValidationFailures(), 5)
}

func TestValidateIncludesObservability(t *testing.T) {
	cfg := Default()
	cfg.Observability.Tracing.Enabled = true
	cfg.Observability.Tracing.Exporter = "jaeger"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "observability.tracing.exporter")
}

func TestLoadRejectsInvalidEnvValue(t *testing.T) {
	_, _, err := Load(isolated(t, WithEnv(envMap(map[string]string{"SPECPILOT_SESSION_KIND": "redis"})))...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.kind")
}
