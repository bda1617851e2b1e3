package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// insertRaw bypasses Upsert so duplicates can be planted under arbitrary keys.
func insertRaw(t *testing.T, store *Store, key string, r *WorkoutRecord) {
	t.Helper()
	songs, err := encodeSongs(r.Songs)
	require.NoError(t, err)
	_, err = store.db.Exec(`
		INSERT INTO workout_cache (identity_key, canonical_url, original_url, title, trainer, duration, genre, songs_json, needs_update, last_fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, nullable(r.CanonicalURL), nullable(r.OriginalURL), nullable(r.Title), nullable(r.Trainer),
		nullable(r.Duration), nullable(r.Genre), songs, r.NeedsUpdate, formatTime(r.LastFetchedAt))
	require.NoError(t, err)
}

func TestCompleteness(t *testing.T) {
	full := completeRecord("core", "1")
	assert.Equal(t, 11, Completeness(full))

	stub := &WorkoutRecord{OriginalURL: "https://fitness.apple.com/us/workout/core/1"}
	assert.Zero(t, Completeness(stub))

	stub.Title = "Core"
	stub.Songs = []Song{{Title: "x"}}
	assert.Equal(t, 2, Completeness(stub))
}

func TestDeleteDuplicates_KeepsMostComplete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := "https://fitness.apple.com/us/workout/core/1"
	insertRaw(t, store, "a", &WorkoutRecord{OriginalURL: "https://fitness.apple.com/gb/workout/core/1", Title: "Core", NeedsUpdate: true})
	insertRaw(t, store, "b", &WorkoutRecord{CanonicalURL: base, OriginalURL: base, Title: "Core", Trainer: "Kim", Duration: "10min", Genre: "Pop"})
	insertRaw(t, store, "c", &WorkoutRecord{OriginalURL: base + "/", Title: "Core", Trainer: "Kim", NeedsUpdate: true})
	insertRaw(t, store, "d", completeRecord("other", "2"))

	report, err := store.DeleteDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Before)
	assert.Equal(t, 2, report.After)
	assert.Equal(t, 1, report.Groups)
	assert.ElementsMatch(t, []string{"a", "c"}, report.DeletedKeys)

	_, err = store.Get(ctx, "b")
	require.NoError(t, err)
	_, err = store.Get(ctx, "d")
	require.NoError(t, err)
}

func TestDeleteDuplicates_TieBreaks(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	u := "https://fitness.apple.com/us/workout/yoga/9"
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	insertRaw(t, store, "old", &WorkoutRecord{OriginalURL: u, Title: "Yoga", LastFetchedAt: older})
	insertRaw(t, store, "new", &WorkoutRecord{OriginalURL: u, Title: "Yoga", LastFetchedAt: newer})
	insertRaw(t, store, "first", &WorkoutRecord{OriginalURL: u + "?x=1", Title: "Yoga 2"})
	insertRaw(t, store, "second", &WorkoutRecord{OriginalURL: u + "?x=2", Title: "Yoga 3"})

	report, err := store.DeleteDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Deleted)

	recs, err := Collect(store.List(ctx, Filter{}))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].IdentityKey, "equal scores keep the most recent fetch")

	// Without fetch times the lowest rowid survives.
	store2 := setupTestStore(t)
	insertRaw(t, store2, "first", &WorkoutRecord{OriginalURL: u, Title: "Yoga"})
	insertRaw(t, store2, "second", &WorkoutRecord{OriginalURL: u, Title: "Yoga"})
	_, err = store2.DeleteDuplicates(ctx)
	require.NoError(t, err)
	_, err = store2.Get(ctx, "first")
	require.NoError(t, err)
	_, err = store2.Get(ctx, "second")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDuplicates_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	u := "https://fitness.apple.com/us/workout/run/5"
	insertRaw(t, store, "x", &WorkoutRecord{OriginalURL: u, Title: "Run"})
	insertRaw(t, store, "y", &WorkoutRecord{OriginalURL: u})
	insertRaw(t, store, "orphan", &WorkoutRecord{Title: "No URL"})

	first, err := store.DeleteDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Deleted)

	second, err := store.DeleteDuplicates(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Deleted)
	assert.Zero(t, second.Groups)
	assert.Equal(t, first.After, second.Before)
	assert.Equal(t, 2, second.After, "rows without a URL are never grouped")
}
