package tui

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/pders01/fitlist/internal/config"
	"github.com/pders01/fitlist/internal/refresh"
	"github.com/pders01/fitlist/internal/storage"
)

const workoutBase = "https://fitness.apple.com/us/workout/"

func newTestApp(t *testing.T) (*App, *storage.Store) {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "tui.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.TestConfig()
	app := NewApp(store, refresh.NewCoordinator(store, nil, cfg), nil, cfg)
	app.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return app, store
}

// seedLibrary stores a fresh workout, a favorite and a stale stub.
func seedLibrary(t *testing.T, store *storage.Store) []*storage.WorkoutRecord {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	records := []*storage.WorkoutRecord{
		{
			OriginalURL:   workoutBase + "core-with-kim/1",
			CanonicalURL:  workoutBase + "core-with-kim/1",
			Title:         "Core with Kim",
			Trainer:       "Kim",
			Duration:      "10min",
			Genre:         "Latin Grooves",
			Category:      "Core",
			Songs:         []storage.Song{{Artist: "Shakira", Title: "Hips Don't Lie"}, {Artist: "Bad Bunny", Title: "Tití Me Preguntó", Link: "https://music.apple.com/us/song/1"}},
			LastFetchedAt: now.Add(-time.Hour),
		},
		{
			OriginalURL:   workoutBase + "yoga-with-jessica/2",
			CanonicalURL:  workoutBase + "yoga-with-jessica/2",
			Title:         "Yoga with Jessica",
			Trainer:       "Jessica",
			Duration:      "20min",
			Genre:         "Chill Vibes",
			Category:      "Yoga",
			Songs:         []storage.Song{{Artist: "Bon Iver", Title: "Holocene"}},
			LastFetchedAt: now.Add(-2 * time.Hour),
			IsFavorite:    true,
		},
		{
			OriginalURL: workoutBase + "hiit-with-sam/3",
			NeedsUpdate: true,
		},
	}
	for _, r := range records {
		require.NoError(t, store.Upsert(ctx, r))
	}
	return records
}

// load runs the library command and feeds the result back into the app.
func load(t *testing.T, app *App) {
	t.Helper()
	msg := app.loadLibrary()()
	_, ok := msg.(libraryLoadedMsg)
	require.True(t, ok, "unexpected message %T: %v", msg, msg)
	app.Update(msg)
}

func selectByTitle(t *testing.T, app *App, title string) {
	t.Helper()
	for i, item := range app.libraryList.Items() {
		if w, ok := item.(workoutItem); ok && w.record.Title == title {
			app.libraryList.Select(i)
			return
		}
	}
	t.Fatalf("workout %q not in library", title)
}
