package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/fitlist/internal/storage"
)

// captureStdout runs fn with os.Stdout redirected and returns what it wrote.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()

	fn()

	w.Close()
	os.Stdout = old
	return <-outC
}

// setupHome points HOME at a temp dir so config and data paths stay local.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FITLIST_LOG_LEVEL", "off")
	return home
}

// execute runs the root command with fresh flag values.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	configPath, dbPath, logLevel, quiet = "", "", "", false
	scrapeFormat, scrapeForce = "list", false
	migrateVerify, healthJSON = false, false
	serveAddress = ""

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err = rootCmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestVersionCommand(t *testing.T) {
	out := captureStdout(t, func() { versionCmd.Run(nil, nil) })

	// Version is "dev" by default in tests
	assert.Contains(t, out, "fitlist dev")
	assert.Contains(t, out, "playlist library")
	assert.Contains(t, out, "github.com/pders01/fitlist")
}

func TestGenerateConfigCommand(t *testing.T) {
	home := setupHome(t)
	configFile := filepath.Join(home, ".config", "fitlist", "config.toml")

	out := captureStdout(t, func() { configGenCmd.Run(nil, nil) })

	assert.FileExists(t, configFile)
	assert.Contains(t, out, "Generated default configuration at:")
	assert.Contains(t, out, configFile)
}

func TestMaintenanceCommandsOnFreshDatabase(t *testing.T) {
	home := setupHome(t)
	db := filepath.Join(home, "data", "workouts.db")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"migrate creates table", []string{"migrate", "--verify"}, "Schema created"},
		{"migrate again is a no-op", []string{"migrate"}, "Schema unchanged"},
		{"health", []string{"health"}, "Health score: 5/5"},
		{"cleanup", []string{"cleanup"}, "No duplicates among 0 workouts"},
		{"invalidate", []string{"invalidate"}, "Marked 0 workouts for refresh"},
		{"reparse empty archive", []string{"reparse"}, "Reparsed 0 archived pages"},
		{"archive stats", []string{"archive", "stats"}, "0 pages archived"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, append([]string{"--db", db}, tt.args...)...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestHealthJSON(t *testing.T) {
	home := setupHome(t)
	db := filepath.Join(home, "workouts.db")

	store, err := storage.NewStore(db)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(context.Background(), &storage.WorkoutRecord{
		CanonicalURL: "https://fitness.apple.com/us/workout/core-with-kim/1",
		Title:        "Core with Kim",
		Trainer:      "Kim",
		Duration:     "10min",
		Genre:        "Pop",
		Songs:        []storage.Song{{Title: "Song", Artist: "Artist"}},
	}))
	require.NoError(t, store.Close())

	out, _, err := execute(t, "--db", db, "health", "--json")
	require.NoError(t, err)

	var got struct {
		Rows    int  `json:"rows"`
		Score   int  `json:"score"`
		Healthy bool `json:"healthy"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 1, got.Rows)
	assert.Equal(t, 5, got.Score)
	assert.True(t, got.Healthy)
}

func TestScrapeRejectsInvalidURL(t *testing.T) {
	home := setupHome(t)
	db := filepath.Join(home, "workouts.db")

	out, _, err := execute(t, "--db", db, "scrape", "--format", "json", "not a workout")
	require.Error(t, err)

	var got scrapeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Empty(t, got.Workouts)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "not a workout", got.Errors[0].URL)
	assert.Contains(t, got.Errors[0].Error, "invalid workout URL")
}

func TestScrapeServesCachedWorkout(t *testing.T) {
	home := setupHome(t)
	db := filepath.Join(home, "workouts.db")
	url := "https://fitness.apple.com/us/workout/core-with-kim/1"

	store, err := storage.NewStore(db)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(context.Background(), &storage.WorkoutRecord{
		CanonicalURL: url,
		Title:        "Core with Kim",
		Trainer:      "Kim",
		Duration:     "10min",
		Genre:        "Pop",
		Songs:        []storage.Song{{Title: "Levitating", Artist: "Dua Lipa"}},
	}))
	require.NoError(t, store.Close())

	out, errOut, err := execute(t, "--db", db, "scrape", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Core with Kim")
	assert.Contains(t, out, "Kim • 10min • Pop")
	assert.Contains(t, out, " 1. Levitating by Dua Lipa")
	assert.Contains(t, errOut, "0 queued, 1 cached")
}

func TestScrapeUnknownFormat(t *testing.T) {
	setupHome(t)
	_, _, err := execute(t, "scrape", "--format", "xml", "https://fitness.apple.com/us/workout/x/1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestArchiveExportMissingPage(t *testing.T) {
	home := setupHome(t)
	db := filepath.Join(home, "workouts.db")

	_, _, err := execute(t, "--db", db, "archive", "export",
		"https://fitness.apple.com/us/workout/core-with-kim/1", filepath.Join(home, "out.html"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not been archived")
	assert.NoFileExists(t, filepath.Join(home, "out.html"))
}

func TestPrepareDataPath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"nested path", filepath.Join(dir, "a", "b", "workouts.db"), filepath.Join(dir, "a", "b", "workouts.db"), false},
		{"memory database", ":memory:", ":memory:", false},
		{"empty path", "", "", false},
		{"traversal", dir + "/a/../../etc/workouts.db", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := prepareDataPath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if filepath.IsAbs(got) {
				assert.DirExists(t, filepath.Dir(got))
			}
		})
	}
}

func TestArchiveExportRejectsOutsideDestination(t *testing.T) {
	home := setupHome(t)
	db := filepath.Join(home, "workouts.db")

	_, _, err := execute(t, "--db", db, "archive", "export",
		"https://fitness.apple.com/us/workout/core-with-kim/1", "/proc/fitlist-export.html")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export destination")
}
