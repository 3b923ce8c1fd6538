package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"specpilot/internal/agent/ports"
	"specpilot/internal/session/storetest"
	"specpilot/internal/shared/logging"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(path, &logging.Recorder{})
	require.NoError(t, err)
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.SessionStore {
		return openTestStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	})
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store := openTestStore(t, path)
	state := storetest.SampleState("s-reopen")
	require.NoError(t, store.CommitTurn(ctx, state, ports.NewMessage(ports.RoleUser, "hello")))
	require.NoError(t, store.Close())

	reopened := openTestStore(t, path)
	defer reopened.Close()
	got, err := reopened.GetState(ctx, "s-reopen")
	require.NoError(t, err)
	require.Equal(t, state.Profile, got.Profile)
	require.Equal(t, ports.StageTechStack, got.Stage)

	var stage string
	require.NoError(t, reopened.db.QueryRow(`SELECT stage FROM sessions WHERE id = ?`, "s-reopen").Scan(&stage))
	require.Equal(t, "TECH_STACK", stage)
}

func TestDeleteCascadesMessages(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.CommitTurn(ctx, storetest.SampleState("s-cascade"),
		ports.NewMessage(ports.RoleUser, "a"), ports.NewMessage(ports.RoleAssistant, "b")))
	require.NoError(t, store.DeleteSession(ctx, "s-cascade"))

	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(1) FROM messages WHERE session_id = ?`, "s-cascade").Scan(&n))
	require.Zero(t, n)
}

func TestCommitTurnRollsBackOnCancelledContext(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.CommitTurn(ctx, storetest.SampleState("s-cancel"), ports.NewMessage(ports.RoleUser, "x"))
	require.Error(t, err)

	exists, err := store.SessionExists(context.Background(), "s-cancel")
	require.NoError(t, err)
	require.False(t, exists)
}
