package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"ponder/internal/chat"
	"ponder/internal/journal"
	"ponder/internal/store"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "ponder.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenUsesWriteAheadLog(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	var mode string
	require.NoError(t, s.db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)
}

func TestSessionAndMessagesRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	id, err := s.CreateSession(ctx, chat.Session{
		DecisionIDs: []journal.DecisionID{"d1", "d2"},
		CreatedAt:   created,
		UpdatedAt:   created,
		Trigger:     chat.TriggerAuto,
	})
	require.NoError(t, err)
	require.False(t, id.Provisional())

	got, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []journal.DecisionID{"d1", "d2"}, got.DecisionIDs)
	require.Equal(t, chat.TriggerAuto, got.Trigger)
	require.Empty(t, got.Title)
	require.True(t, got.CreatedAt.Equal(created))

	result := json.RawMessage(`{"risks":["scope creep"]}`)
	msgs := []chat.Message{
		{ID: "m1", SessionID: id, Role: chat.RoleUser, Content: "Should I move?", CreatedAt: created},
		{ID: "m2", SessionID: id, Role: chat.RoleToolResult, Content: "Pre-mortem done", CreatedAt: created.Add(time.Second),
			Tool: &chat.ToolExecution{ToolID: "pre-mortem", ToolName: "Pre-mortem", Result: result}},
		{ID: "m3", SessionID: id, Role: chat.RoleAssistant, Content: "What worries you most?", CreatedAt: created.Add(2 * time.Second)},
	}
	for _, msg := range msgs {
		require.NoError(t, s.CreateMessage(ctx, msg))
	}

	loaded, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i := range msgs {
		require.Equal(t, msgs[i].ID, loaded[i].ID)
		require.Equal(t, msgs[i].Role, loaded[i].Role)
		require.Equal(t, msgs[i].Content, loaded[i].Content)
		require.True(t, msgs[i].CreatedAt.Equal(loaded[i].CreatedAt))
	}
	require.NotNil(t, loaded[1].Tool)
	require.Equal(t, "pre-mortem", loaded[1].Tool.ToolID)
	require.JSONEq(t, string(result), string(loaded[1].Tool.Result))

	summaries, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, 3, summaries[0].MessageCount)
	require.Equal(t, "What worries you most?", summaries[0].Preview)
}

func TestCreateMessageRejectsEphemeralRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.CreateSession(ctx, chat.Session{CreatedAt: time.Now(), UpdatedAt: time.Now()})
	require.NoError(t, err)

	err = s.CreateMessage(ctx, chat.Message{
		ID: "i1", SessionID: id, Role: chat.RoleToolInput,
		Input: &chat.ToolInput{ToolID: "weigh", Status: chat.InputPending},
	})
	require.ErrorIs(t, err, store.ErrNotDurable)

	err = s.CreateMessage(ctx, chat.Message{
		ID: "u1", SessionID: chat.NewProvisionalID(), Role: chat.RoleUser, Content: "hi",
	})
	require.ErrorIs(t, err, store.ErrProvisionalSession)

	loaded, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestUpdateRenameAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	now := time.Now()
	id, err := s.CreateSession(ctx, chat.Session{CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	require.NoError(t, s.CreateMessage(ctx, chat.Message{ID: "m1", SessionID: id, Role: chat.RoleUser, Content: "x", CreatedAt: now}))

	title := "Job offer"
	later := now.Add(time.Minute)
	require.NoError(t, s.UpdateSession(ctx, id, store.SessionPatch{Title: &title, UpdatedAt: &later}))

	got, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Job offer", got.Title)
	require.True(t, got.UpdatedAt.Equal(later))

	require.NoError(t, s.DeleteSession(ctx, id))
	_, err = s.GetSession(ctx, id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.DeleteSession(ctx, id), store.ErrNotFound)

	msgs, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestDecisionsProfileAndEmbeddings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	decisions := []journal.Decision{
		{ID: "old", Problem: "Buy a car?", Confidence: 6, CreatedAt: base},
		{ID: "archived", Problem: "Learn Rust?", Confidence: 4, CreatedAt: base.Add(time.Hour), Archived: true},
		{ID: "new", Problem: "Accept offer?", Confidence: 8, CreatedAt: base.Add(2 * time.Hour),
			Alternatives: []journal.Alternative{{Text: "Accept", Chosen: true}, {Text: "Decline"}},
			Review:       &journal.Review{Outcome: "Went well", Rating: 4, ReviewedAt: base.Add(48 * time.Hour)}},
	}
	for _, d := range decisions {
		require.NoError(t, s.SaveDecision(ctx, d))
	}

	active, err := s.ListDecisions(ctx, journal.Filter{})
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, journal.DecisionID("new"), active[0].ID)
	require.True(t, active[0].Reviewed())

	all, err := s.ListDecisions(ctx, journal.Filter{IncludeArchived: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = s.GetDecision(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	profile, err := s.Profile(ctx)
	require.NoError(t, err)
	require.True(t, profile.Empty())
	require.NoError(t, s.SaveProfile(ctx, journal.Profile{Name: "Ana"}))
	profile, err = s.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, "Ana", profile.Name)

	require.NoError(t, s.PutEmbedding(ctx, store.Embedding{DecisionID: "new", Model: "nomic", Vector: []float32{0.1, 0.2}}))
	require.NoError(t, s.PutEmbedding(ctx, store.Embedding{DecisionID: "new", Model: "nomic", Vector: []float32{0.3, 0.4}}))
	vectors, err := s.ListEmbeddings(ctx, "nomic")
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.Equal(t, []float32{0.3, 0.4}, vectors[0].Vector)
}
