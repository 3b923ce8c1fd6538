package di

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specpilot/internal/agent/ports"
	"specpilot/internal/config"
	"specpilot/internal/llm"
	"specpilot/internal/shared/logging"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.LLM.Provider = "mock"
	cfg.Invoker.BaseDelay = 1
	cfg.Invoker.MaxDelay = 1
	cfg.Session.Kind = config.StoreSQLite
	cfg.Session.Path = filepath.Join(dir, "sessions.db")
	cfg.Cache.Snapshot = filepath.Join(dir, "cache.snap")
	cfg.Router.Checklist = []config.ChecklistItem{{Field: "projectGoal", Weight: 100, Required: true}}
	return cfg
}

func TestContainerRunsTurnAndPersistsCache(t *testing.T) {
	cfg := testConfig(t)
	c, err := BuildContainer(cfg, WithLLMClient(llm.NewOfflineClient()), WithLogger(&logging.Recorder{}))
	require.NoError(t, err)

	ctx := context.Background()
	state, err := c.Router.Create(ctx)
	require.NoError(t, err)

	result, err := c.Router.Advance(ctx, state.SessionID, "A shared grocery list for roommates")
	require.NoError(t, err)
	assert.Equal(t, ports.StageRiskAnalysis, result.Session.Stage)
	assert.NotEmpty(t, result.Options)
	assert.Equal(t, 1, c.Cache.Len())

	rec := httptest.NewRecorder()
	c.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "specpilot_router_turns")
	assert.Contains(t, string(body), "specpilot_cache_lookups")

	require.NoError(t, c.Shutdown(ctx))
	require.NoError(t, c.Shutdown(ctx))
	assert.FileExists(t, cfg.Cache.Snapshot)

	reopened, err := BuildContainer(cfg, WithLLMClient(llm.NewOfflineClient()), WithLogger(&logging.Recorder{}))
	require.NoError(t, err)
	defer reopened.Shutdown(ctx)

	assert.Equal(t, 1, reopened.Cache.Len())
	session, err := reopened.Router.Get(ctx, state.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ports.StageRiskAnalysis, session.State.Stage)
}

func TestContainerWithoutCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Enabled = false
	cfg.Session.Kind = config.StoreMemory

	c, err := BuildContainer(cfg, WithLLMClient(llm.NewOfflineClient()), WithLogger(&logging.Recorder{}))
	require.NoError(t, err)
	defer c.Shutdown(context.Background())

	assert.Nil(t, c.Cache)
	assert.Equal(t, uint64(0), c.CacheStats().Hits)
}

func TestBuildContainerFailsOnMissingPromptPack(t *testing.T) {
	cfg := testConfig(t)
	cfg.Prompts = filepath.Join(t.TempDir(), "absent.yaml")

	_, err := BuildContainer(cfg, WithLLMClient(llm.NewOfflineClient()), WithLogger(&logging.Recorder{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load prompt pack")
}

func TestBuildContainerUsesMockProviderFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Kind = config.StoreMemory

	c, err := BuildContainer(cfg, WithLogger(&logging.Recorder{}))
	require.NoError(t, err)
	defer c.Shutdown(context.Background())

	assert.Equal(t, "offline", c.LLM.Model())
}
