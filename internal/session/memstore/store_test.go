package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"specpilot/internal/agent/ports"
	"specpilot/internal/session/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.SessionStore { return New() })
}

func TestAddMessageCreatesSessionWithoutState(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.AddMessage(ctx, "s1", ports.NewMessage(ports.RoleUser, "hi")))

	exists, err := store.SessionExists(ctx, "s1")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, store.SetState(ctx, ports.NewSessionState("s1", time.Now())))
	session, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, session.Messages, 1)
	require.Equal(t, 1, store.Len())
}
