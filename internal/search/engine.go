package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/pders01/fitlist/internal/storage"
)

// Result is a search match with relevance scoring. Song is set when the hit
// came from a playlist entry rather than the workout's own metadata.
type Result struct {
	Workout *storage.WorkoutRecord `json:"workout"`
	Song    *storage.Song          `json:"song,omitempty"`
	IsSong  bool                   `json:"is_song"`
	Score   float64                `json:"score"`
	Matches []Match                `json:"matches,omitempty"`
}

// Match represents where text was found
type Match struct {
	Field  string  `json:"field"` // "title", "trainer", "genre", "artist", ...
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

// Engine scores the cached library in memory without an index
type Engine struct {
	store *storage.Store
}

// NewEngine creates a new search engine
func NewEngine(store *storage.Store) *Engine {
	return &Engine{store: store}
}

// Search scores every cached workout and each of its songs against query.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	var results []*Result
	for rec, err := range e.store.List(ctx, storage.Filter{}) {
		if err != nil {
			return nil, err
		}
		if result := e.searchWorkout(rec, terms); result != nil {
			results = append(results, result)
		}
		results = append(results, e.searchSongs(rec, terms)...)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []*Result{}
	}
	return results, nil
}

// SearchInWorkout searches one workout's metadata and playlist
func (e *Engine) SearchInWorkout(rec *storage.WorkoutRecord, query string) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 || rec == nil {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	results := []*Result{}
	if result := e.searchWorkout(rec, terms); result != nil {
		results = append(results, result)
	}
	songs := e.searchSongs(rec, terms)
	sort.SliceStable(songs, func(i, j int) bool { return songs[i].Score > songs[j].Score })
	return append(results, songs...), nil
}

type weightedField struct {
	name   string
	text   string
	weight float64
}

func (e *Engine) score(fields []weightedField, terms []string) (float64, []Match) {
	var matches []Match
	var total float64
	for _, f := range fields {
		if s := e.scoreField(f.text, terms, f.weight); s > 0 {
			matches = append(matches, Match{Field: f.name, Text: truncate(f.text, 120), Weight: s})
			total += s
		}
	}
	return total, matches
}

func (e *Engine) searchWorkout(rec *storage.WorkoutRecord, terms []string) *Result {
	total, matches := e.score([]weightedField{
		{"title", rec.Title, 4.0},
		{"trainer", rec.Trainer, 3.0},
		{"genre", rec.Genre, 2.0},
		{"category", rec.Category, 2.0},
		{"workout_type", rec.WorkoutType, 1.5},
		{"url", rec.URL(), 0.5},
	}, terms)
	if total <= 0 {
		return nil
	}
	if rec.IsFavorite {
		total *= 1.0 + favoriteBoost
	}
	return &Result{Workout: rec, Score: total, Matches: matches}
}

func (e *Engine) searchSongs(rec *storage.WorkoutRecord, terms []string) []*Result {
	var out []*Result
	for i := range rec.Songs {
		song := &rec.Songs[i]
		total, matches := e.score([]weightedField{
			{"song", song.Title, 3.0},
			{"artist", song.Artist, 2.5},
		}, terms)
		if total <= 0 {
			continue
		}
		out = append(out, &Result{Workout: rec, Song: song, IsSong: true, Score: total, Matches: matches})
	}
	return out
}

// scoreField calculates relevance score for a field
func (e *Engine) scoreField(text string, terms []string, weight float64) float64 {
	if text == "" {
		return 0
	}

	lower := strings.ToLower(text)
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	var score float64
	matchedTerms := 0

	for _, term := range terms {
		// Substring anywhere in the field
		if strings.Contains(lower, term) {
			score += 2.0
			matchedTerms++
		}

		// Word boundary matches
		for _, word := range words {
			switch {
			case word == term:
				score += 1.5
				matchedTerms++
			case strings.HasPrefix(word, term) || strings.HasSuffix(word, term):
				score += 1.0
				matchedTerms++
			case strings.Contains(word, term):
				score += 0.5
				matchedTerms++
			}
		}
	}

	if len(terms) > 1 && matchedTerms > 1 {
		score *= 1.0 + float64(matchedTerms)/float64(len(terms))
	}

	tf := float64(matchedTerms) / float64(len(words))
	score *= 1.0 + math.Log(1.0+tf)

	return score * weight
}

// favoriteBoost nudges favourited workouts ahead of equal matches
const favoriteBoost = 0.1

// tokenize breaks text into lower-case searchable terms
func tokenize(text string) []string {
	var terms []string
	current := strings.Builder{}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(unicode.ToLower(r))
		} else if current.Len() > 0 {
			if term := current.String(); len(term) > 1 { // Skip single chars
				terms = append(terms, term)
			}
			current.Reset()
		}
	}

	if current.Len() > 1 {
		terms = append(terms, current.String())
	}

	return terms
}

// truncate limits text length with ellipsis
func truncate(text string, maxLen int) string {
	r := []rune(text)
	if len(r) <= maxLen {
		return text
	}
	return string(r[:maxLen-1]) + "…"
}
