package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchside/teamsync"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "store.db")
	s, err := New(&Config{DataSourceName: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	record := teamsync.Record{
		"id":         "g1",
		"opponent":   "Rivals",
		"updated_at": "2026-01-10T09:00:00Z",
	}
	require.NoError(t, s.Upsert(ctx, "games", record))

	got, err := s.Get(ctx, "games", "g1")
	require.NoError(t, err)
	assert.Equal(t, "Rivals", got["opponent"])

	// Second upsert replaces the document.
	record["opponent"] = "United"
	require.NoError(t, s.Upsert(ctx, "games", record))

	got, err = s.Get(ctx, "games", "g1")
	require.NoError(t, err)
	assert.Equal(t, "United", got["opponent"])
}

func TestUpsertRequiresID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Upsert(ctx, "games", teamsync.Record{"opponent": "Rivals"})
	assert.Error(t, err)
}

func TestGetMissingRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, "games", "nope")
	assert.ErrorIs(t, err, teamsync.ErrRecordNotFound)
}

func TestPatchMergesFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, "games", teamsync.Record{
		"id":         "g1",
		"opponent":   "Rivals",
		"score_home": float64(0),
		"updated_at": "2026-01-10T09:00:00Z",
	}))

	require.NoError(t, s.Patch(ctx, "games", "g1", teamsync.Record{
		"score_home": float64(2),
		"updated_at": "2026-01-10T11:00:00Z",
	}))

	got, err := s.Get(ctx, "games", "g1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got["score_home"])
	assert.Equal(t, "Rivals", got["opponent"])
	assert.Equal(t, "2026-01-10T11:00:00Z", got["updated_at"])
}

func TestPatchMissingRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Patch(ctx, "games", "nope", teamsync.Record{"x": 1})
	assert.ErrorIs(t, err, teamsync.ErrRecordNotFound)
}

func TestSoftDeleteThroughPatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, "teams", teamsync.Record{"id": "t1", "name": "U16"}))
	require.NoError(t, s.Patch(ctx, "teams", "t1", teamsync.Record{"deleted_at": "2026-02-01T00:00:00Z"}))

	got, err := s.Get(ctx, "teams", "t1")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01T00:00:00Z", got["deleted_at"])

	// Restore clears the marker to an explicit null.
	require.NoError(t, s.Patch(ctx, "teams", "t1", teamsync.Record{"deleted_at": nil}))
	got, err = s.Get(ctx, "teams", "t1")
	require.NoError(t, err)
	assert.Nil(t, got["deleted_at"])
}

func TestListIsCollectionScoped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, "games", teamsync.Record{"id": "g1"}))
	require.NoError(t, s.Upsert(ctx, "games", teamsync.Record{"id": "g2"}))
	require.NoError(t, s.Upsert(ctx, "teams", teamsync.Record{"id": "t1"}))

	games, err := s.List(ctx, "games")
	require.NoError(t, err)
	assert.Len(t, games, 2)

	teams, err := s.List(ctx, "teams")
	require.NoError(t, err)
	assert.Len(t, teams, 1)

	empty, err := s.List(ctx, "players")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFindByField(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, "training_attendance", teamsync.Record{
		"id": "a1", "session_id": "s1", "player": "Ana",
	}))
	require.NoError(t, s.Upsert(ctx, "training_attendance", teamsync.Record{
		"id": "a2", "session_id": "s1", "player": "Ben",
	}))
	require.NoError(t, s.Upsert(ctx, "training_attendance", teamsync.Record{
		"id": "a3", "session_id": "s2", "player": "Cal",
	}))

	matches, err := s.FindByField(ctx, "training_attendance", "session_id", "s1")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a1", matches[0]["id"])
	assert.Equal(t, "a2", matches[1]["id"])
}

func TestDeleteRemovesRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, "games", teamsync.Record{"id": "g1"}))
	require.NoError(t, s.Delete(ctx, "games", "g1"))

	_, err := s.Get(ctx, "games", "g1")
	assert.ErrorIs(t, err, teamsync.ErrRecordNotFound)

	// Deleting a missing record is not an error.
	require.NoError(t, s.Delete(ctx, "games", "g1"))
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "store.db")

	s, err := New(&Config{DataSourceName: dsn})
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "games", teamsync.Record{"id": "g1", "opponent": "Rivals"}))
	require.NoError(t, s.Close())

	reopened, err := New(&Config{DataSourceName: dsn})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "games", "g1")
	require.NoError(t, err)
	assert.Equal(t, "Rivals", got["opponent"])
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Upsert(ctx, "games", teamsync.Record{"id": "g1"}), ErrStoreClosed)
	_, err := s.Get(ctx, "games", "g1")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.List(ctx, "games")
	assert.ErrorIs(t, err, ErrStoreClosed)
}
