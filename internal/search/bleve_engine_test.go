//go:build bleve

package search

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/fitlist/internal/storage"
)

func TestBleveEngineIndexesAndSearches(t *testing.T) {
	store := setupLibrary(t)
	ctx := context.Background()

	idxPath := filepath.Join(t.TempDir(), "index.bleve")
	eng, err := NewBleveEngine(ctx, store, idxPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	// three workouts plus three songs
	n, err := eng.DocCount()
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	res, err := eng.Search(ctx, "Jessica", 10)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "Yoga with Jessica", res[0].Workout.Title)
	assert.False(t, res[0].IsSong)

	res, err = eng.Search(ctx, "levit", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.True(t, res[0].IsSong)
	assert.Equal(t, "Dua Lipa", res[0].Song.Artist)

	fi, err := os.Stat(idxPath)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestBleveEngineFollowsCacheWrites(t *testing.T) {
	store := setupLibrary(t)
	ctx := context.Background()

	eng, err := NewBleveEngine(ctx, store, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	rec, err := store.FindByURL(ctx, "https://fitness.apple.com/us/workout/hiit-with-sam/2")
	require.NoError(t, err)

	rec.Songs = []storage.Song{{Artist: "Robyn", Title: "Dancing On My Own"}}
	require.NoError(t, store.Upsert(ctx, rec))
	eng.RecordUpdated(ctx, rec)

	res, err := eng.Search(ctx, "levitating", 10)
	require.NoError(t, err)
	assert.Empty(t, res, "replaced song is gone")

	res, err = eng.Search(ctx, "robyn", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)

	eng.RecordRemoved(ctx, rec.IdentityKey)
	res, err = eng.Search(ctx, "sam", 10)
	require.NoError(t, err)
	assert.Empty(t, res)

	n, err := eng.DocCount()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestBleveEngineReopensExistingIndex(t *testing.T) {
	store := setupLibrary(t)
	ctx := context.Background()
	idxPath := filepath.Join(t.TempDir(), "index.bleve")

	eng, err := NewBleveEngine(ctx, store, idxPath)
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	eng, err = NewBleveEngine(ctx, store, idxPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	n, err := eng.DocCount()
	require.NoError(t, err)
	assert.Equal(t, 6, n, "reindex does not duplicate documents")
}
