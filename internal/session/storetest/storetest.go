// Package storetest holds the behaviour every ports.SessionStore must share.
// Store packages call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"specpilot/internal/agent/ports"
)

// Factory returns a fresh, empty store. Run closes it when the subtest ends.
type Factory func(t *testing.T) ports.SessionStore

// Run exercises store against the SessionStore contract.
func Run(t *testing.T, factory Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, store ports.SessionStore)
	}{
		{"UnknownSessionIsNotFound", testUnknownSession},
		{"CommitTurnRoundTrip", testCommitTurnRoundTrip},
		{"CommitTurnAppends", testCommitTurnAppends},
		{"ReturnedStateIsACopy", testReturnedStateIsCopy},
		{"MessagesAndSummary", testMessagesAndSummary},
		{"DeleteSession", testDeleteSession},
		{"RejectsInvalidState", testRejectsInvalidState},
		{"ConcurrentCommits", testConcurrentCommits},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := factory(t)
			t.Cleanup(func() { _ = store.Close() })
			tc.fn(t, store)
		})
	}
}

// SampleState returns a populated state with stable timestamps.
func SampleState(sessionID string) *ports.SessionState {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	state := ports.NewSessionState(sessionID, created)
	state.Stage = ports.StageTechStack
	state.Completeness = 85
	state.Profile["projectName"] = "Acme"
	state.Profile["coreFeatures"] = []any{"boards", "sharing"}
	state.Profile["platform"] = map[string]any{"primary": "web"}
	state.AskedQuestions = []string{"Who are your users?"}
	state.MissingFields = []string{"timeline"}
	state.StageSummaries["RISK_ANALYSIS"] = "Scope creep."
	state.Selections["RISK_ANALYSIS"] = "Cut scope"
	state.PendingOptions = []ports.Option{{ID: "1", Label: "Go + Postgres", Value: "go"}}
	state.Summary = "User: wants a planning tool"
	state.Metadata.UpdatedAt = created.Add(time.Minute)
	return state
}

func message(role, content string) ports.Message {
	return ports.Message{Role: role, Content: content, Timestamp: time.Date(2026, 3, 1, 9, 31, 0, 0, time.UTC)}
}

func testUnknownSession(t *testing.T, store ports.SessionStore) {
	ctx := context.Background()
	_, err := store.GetState(ctx, "missing")
	require.ErrorIs(t, err, ports.ErrSessionNotFound)
	_, err = store.GetSession(ctx, "missing")
	require.ErrorIs(t, err, ports.ErrSessionNotFound)
	_, err = store.GetMessages(ctx, "missing")
	require.ErrorIs(t, err, ports.ErrSessionNotFound)
	require.ErrorIs(t, store.DeleteSession(ctx, "missing"), ports.ErrSessionNotFound)

	exists, err := store.SessionExists(ctx, "missing")
	require.NoError(t, err)
	require.False(t, exists)
}

func testCommitTurnRoundTrip(t *testing.T, store ports.SessionStore) {
	ctx := context.Background()
	state := SampleState("s-roundtrip")
	require.NoError(t, store.CommitTurn(ctx, state,
		message(ports.RoleUser, "hello"),
		message(ports.RoleAssistant, "hi there"),
	))

	got, err := store.GetState(ctx, "s-roundtrip")
	require.NoError(t, err)
	require.Equal(t, ports.StageTechStack, got.Stage)
	require.Equal(t, 85, got.Completeness)
	require.Equal(t, state.Profile, got.Profile)
	require.Equal(t, state.AskedQuestions, got.AskedQuestions)
	require.Equal(t, state.MissingFields, got.MissingFields)
	require.Equal(t, state.StageSummaries, got.StageSummaries)
	require.Equal(t, state.Selections, got.Selections)
	require.Equal(t, state.PendingOptions, got.PendingOptions)
	require.True(t, state.Metadata.CreatedAt.Equal(got.Metadata.CreatedAt))
	require.True(t, state.Metadata.UpdatedAt.Equal(got.Metadata.UpdatedAt))

	session, err := store.GetSession(ctx, "s-roundtrip")
	require.NoError(t, err)
	require.Equal(t, state.Summary, session.Summary)
	require.Len(t, session.Messages, 2)
	require.Equal(t, "hello", session.Messages[0].Content)
	require.Equal(t, ports.RoleAssistant, session.Messages[1].Role)

	exists, err := store.SessionExists(ctx, "s-roundtrip")
	require.NoError(t, err)
	require.True(t, exists)
}

func testCommitTurnAppends(t *testing.T, store ports.SessionStore) {
	ctx := context.Background()
	state := SampleState("s-append")
	require.NoError(t, store.CommitTurn(ctx, state, message(ports.RoleUser, "one")))

	state.Stage = ports.StageMVPBoundary
	state.Summary = "updated"
	require.NoError(t, store.CommitTurn(ctx, state, message(ports.RoleUser, "two"), message(ports.RoleAssistant, "three")))

	msgs, err := store.GetMessages(ctx, "s-append")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, []string{"one", "two", "three"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})

	summary, err := store.GetSummary(ctx, "s-append")
	require.NoError(t, err)
	require.Equal(t, "updated", summary)

	got, err := store.GetState(ctx, "s-append")
	require.NoError(t, err)
	require.Equal(t, ports.StageMVPBoundary, got.Stage)
}

func testReturnedStateIsCopy(t *testing.T, store ports.SessionStore) {
	ctx := context.Background()
	state := SampleState("s-copy")
	require.NoError(t, store.SetState(ctx, state))
	state.Profile["projectName"] = "changed after save"

	got, err := store.GetState(ctx, "s-copy")
	require.NoError(t, err)
	require.Equal(t, "Acme", got.Profile["projectName"])

	got.Profile["projectName"] = "changed after load"
	again, err := store.GetState(ctx, "s-copy")
	require.NoError(t, err)
	require.Equal(t, "Acme", again.Profile["projectName"])
}

func testMessagesAndSummary(t *testing.T, store ports.SessionStore) {
	ctx := context.Background()
	require.NoError(t, store.SetState(ctx, SampleState("s-msgs")))
	require.NoError(t, store.AddMessage(ctx, "s-msgs", message(ports.RoleUser, "first")))
	require.NoError(t, store.AddMessage(ctx, "s-msgs", message(ports.RoleAssistant, "second")))
	require.NoError(t, store.UpdateSummary(ctx, "s-msgs", "two messages"))

	msgs, err := store.GetMessages(ctx, "s-msgs")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	summary, err := store.GetSummary(ctx, "s-msgs")
	require.NoError(t, err)
	require.Equal(t, "two messages", summary)

	require.NoError(t, store.ClearMessages(ctx, "s-msgs"))
	msgs, err = store.GetMessages(ctx, "s-msgs")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func testDeleteSession(t *testing.T, store ports.SessionStore) {
	ctx := context.Background()
	require.NoError(t, store.CommitTurn(ctx, SampleState("s-delete"), message(ports.RoleUser, "bye")))
	require.NoError(t, store.DeleteSession(ctx, "s-delete"))

	exists, err := store.SessionExists(ctx, "s-delete")
	require.NoError(t, err)
	require.False(t, exists)
	_, err = store.GetState(ctx, "s-delete")
	require.ErrorIs(t, err, ports.ErrSessionNotFound)
}

func testRejectsInvalidState(t *testing.T, store ports.SessionStore) {
	ctx := context.Background()
	require.ErrorIs(t, store.CommitTurn(ctx, nil), ports.ErrInvalidState)
	require.ErrorIs(t, store.SetState(ctx, &ports.SessionState{}), ports.ErrInvalidState)
}

func testConcurrentCommits(t *testing.T, store ports.SessionStore) {
	ctx := context.Background()
	const sessions = 4
	const turns = 5
	var wg sync.WaitGroup
	errs := make(chan error, sessions*turns)
	for i := 0; i < sessions; i++ {
		sessionID := "s-concurrent-" + string(rune('a'+i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			state := SampleState(sessionID)
			for j := 0; j < turns; j++ {
				errs <- store.CommitTurn(ctx, state, message(ports.RoleUser, "turn"))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	for i := 0; i < sessions; i++ {
		msgs, err := store.GetMessages(ctx, "s-concurrent-"+string(rune('a'+i)))
		require.NoError(t, err)
		require.Len(t, msgs, turns)
	}
}
