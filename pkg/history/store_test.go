package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(zerolog.Nop(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, rec := range []Record{
		{CallID: "call-1", Tool: "read_text_file", State: "completed", Success: true, DurationMS: 12},
		{CallID: "call-2", Tool: "launch_application", State: "denied", Error: "blocked executable", DurationMS: 1},
		{CallID: "call-3", Tool: "echo", Extension: "demo", State: "completed", Success: true, DurationMS: 40},
	} {
		rec.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Record(ctx, rec))
	}

	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Newest first.
	assert.Equal(t, "call-3", records[0].CallID)
	assert.Equal(t, "demo", records[0].Extension)
	assert.Equal(t, "call-1", records[2].CallID)
	assert.True(t, records[2].Success)
	assert.Equal(t, "blocked executable", records[1].Error)
}

func TestRecentHonorsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, Record{
			CallID:    string(rune('a' + i)),
			Tool:      "t",
			State:     "completed",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	records, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRecordRequiresCallID(t *testing.T) {
	store := newTestStore(t)

	assert.Error(t, store.Record(context.Background(), Record{Tool: "t", State: "completed"}))
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, Record{
		CallID: "old", Tool: "t", State: "completed",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, store.Record(ctx, Record{
		CallID: "fresh", Tool: "t", State: "completed",
		CreatedAt: time.Now(),
	}))

	pruned, err := store.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "fresh", records[0].CallID)
}

func TestPruneZeroRetentionIsNoop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, Record{
		CallID: "kept", Tool: "t", State: "completed",
		CreatedAt: time.Now().Add(-240 * time.Hour),
	}))

	pruned, err := store.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, pruned)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	ctx := context.Background()

	first, err := New(zerolog.Nop(), path)
	require.NoError(t, err)
	require.NoError(t, first.Record(ctx, Record{CallID: "c1", Tool: "t", State: "completed"}))
	require.NoError(t, first.Close())

	second, err := New(zerolog.Nop(), path)
	require.NoError(t, err)
	defer second.Close()

	records, err := second.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c1", records[0].CallID)
}
