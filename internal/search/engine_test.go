package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/fitlist/internal/storage"
)

func setupLibrary(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	base := "https://fitness.apple.com/us/workout/"
	records := []*storage.WorkoutRecord{
		{
			CanonicalURL: base + "core-with-kim/1",
			Title:        "Core with Kim",
			Trainer:      "Kim",
			Duration:     "10min",
			Genre:        "Latin Grooves",
			Category:     "Core",
			Songs: []storage.Song{
				{Artist: "Shakira", Title: "Hips Don't Lie"},
				{Artist: "Bad Bunny", Title: "Titi Me Pregunto"},
			},
		},
		{
			CanonicalURL: base + "hiit-with-sam/2",
			Title:        "HIIT with Sam",
			Trainer:      "Sam",
			Duration:     "20min",
			Genre:        "Pop",
			Category:     "HIIT",
			Songs: []storage.Song{
				{Artist: "Dua Lipa", Title: "Levitating"},
			},
		},
		{
			CanonicalURL: base + "yoga-with-jessica/3",
			Title:        "Yoga with Jessica",
			Trainer:      "Jessica",
			Duration:     "30min",
			Genre:        "Chill",
			Category:     "Yoga",
			IsFavorite:   true,
		},
	}
	for _, r := range records {
		r.LastFetchedAt = time.Now().UTC()
		require.NoError(t, store.Upsert(ctx, r))
	}
	return store
}

func TestNewEngine(t *testing.T) {
	store := &storage.Store{}
	engine := NewEngine(store)
	assert.NotNil(t, engine)
	assert.Equal(t, store, engine.store)
}

func TestSearchMinLength(t *testing.T) {
	engine := NewEngine(&storage.Store{})

	tests := []struct {
		name  string
		query string
	}{
		{name: "Empty query", query: ""},
		{name: "Single character query", query: "a"},
		{name: "Whitespace only", query: "   "},
		{name: "Only single-char terms", query: "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := engine.Search(context.Background(), tt.query, 10)
			assert.NoError(t, err)
			assert.NotNil(t, results)
			assert.Empty(t, results, "short queries should return empty results")
		})
	}
}

func TestEngine_Search(t *testing.T) {
	engine := NewEngine(setupLibrary(t))
	ctx := context.Background()

	t.Run("workout metadata", func(t *testing.T) {
		results, err := engine.Search(ctx, "kim", 10)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, "Core with Kim", results[0].Workout.Title)
		assert.False(t, results[0].IsSong)
		assert.Nil(t, results[0].Song)
	})

	t.Run("song artist", func(t *testing.T) {
		results, err := engine.Search(ctx, "shakira", 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].IsSong)
		assert.Equal(t, "Hips Don't Lie", results[0].Song.Title)
		assert.Equal(t, "Core with Kim", results[0].Workout.Title)
		assert.Equal(t, "artist", results[0].Matches[0].Field)
	})

	t.Run("prefix match", func(t *testing.T) {
		results, err := engine.Search(ctx, "levit", 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Levitating", results[0].Song.Title)
	})

	t.Run("limit", func(t *testing.T) {
		results, err := engine.Search(ctx, "with", 2)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("no match", func(t *testing.T) {
		results, err := engine.Search(ctx, "zumba", 10)
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	})

	t.Run("sorted by score", func(t *testing.T) {
		results, err := engine.Search(ctx, "with", 0)
		require.NoError(t, err)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		}
		// equal titles otherwise, the favourite wins
		assert.Equal(t, "Yoga with Jessica", results[0].Workout.Title)
	})
}

func TestSearchInWorkout(t *testing.T) {
	engine := NewEngine(&storage.Store{})
	rec := &storage.WorkoutRecord{
		Title:   "Dance with Jhon",
		Trainer: "Jhon",
		Songs: []storage.Song{
			{Artist: "Beyoncé", Title: "Crazy in Love"},
			{Artist: "Lizzo", Title: "Juice"},
			{Artist: "Beyoncé", Title: "Love On Top"},
		},
	}

	results, err := engine.SearchInWorkout(rec, "love")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.IsSong)
		assert.Same(t, rec, r.Workout)
	}

	results, err = engine.SearchInWorkout(rec, "jhon")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].IsSong)

	results, err = engine.SearchInWorkout(nil, "love")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "simple words", input: "hello world", expected: []string{"hello", "world"}},
		{name: "with punctuation", input: "Hips Don't Lie!", expected: []string{"hips", "don", "lie"}},
		{name: "with numbers", input: "HIIT 20min", expected: []string{"hiit", "20min"}},
		{name: "single characters filtered", input: "a b core c", expected: []string{"core"}},
		{name: "empty string", input: "", expected: nil},
		{name: "unicode", input: "Beyoncé Café", expected: []string{"beyoncé", "café"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tokenize(tt.input))
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxLen   int
		expected string
	}{
		{name: "text shorter than limit", text: "short", maxLen: 10, expected: "short"},
		{name: "text exactly at limit", text: "exactlyten", maxLen: 10, expected: "exactlyten"},
		{name: "text longer than limit", text: "this is a very long text", maxLen: 10, expected: "this is a…"},
		{name: "multibyte", text: "ééééé", maxLen: 3, expected: "éé…"},
		{name: "empty text", text: "", maxLen: 10, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, truncate(tt.text, tt.maxLen))
		})
	}
}

func TestScoreField(t *testing.T) {
	engine := NewEngine(&storage.Store{})

	tests := []struct {
		name     string
		text     string
		terms    []string
		weight   float64
		minScore float64
		maxScore float64
	}{
		{name: "exact match", text: "Latin Grooves", terms: []string{"latin"}, weight: 1.0, minScore: 2.0, maxScore: 100},
		{name: "partial match", text: "Latin Grooves", terms: []string{"gro"}, weight: 1.0, minScore: 1.0, maxScore: 100},
		{name: "no match", text: "Latin Grooves", terms: []string{"xyz"}, weight: 1.0},
		{name: "empty text", text: "", terms: []string{"latin"}, weight: 1.0},
		{name: "multiple terms", text: "Core with Kim", terms: []string{"core", "kim"}, weight: 1.0, minScore: 4.0, maxScore: 100},
		{name: "case insensitive", text: "CORE", terms: []string{"core"}, weight: 1.0, minScore: 2.0, maxScore: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := engine.scoreField(tt.text, tt.terms, tt.weight)
			assert.GreaterOrEqual(t, score, tt.minScore)
			assert.LessOrEqual(t, score, tt.maxScore)
		})
	}
}
