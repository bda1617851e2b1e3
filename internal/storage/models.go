package storage

import (
	"regexp"
	"strconv"
	"time"
)

// Song is one entry of a workout playlist.
type Song struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
	Link   string `json:"link,omitempty"`
}

// WorkoutRecord is one cached workout page.
type WorkoutRecord struct {
	IdentityKey     string    `json:"identity_key"`
	OriginalURL     string    `json:"original_url,omitempty"`
	CanonicalURL    string    `json:"canonical_url,omitempty"`
	Title           string    `json:"title,omitempty"`
	Trainer         string    `json:"trainer,omitempty"`
	Duration        string    `json:"duration,omitempty"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Genre           string    `json:"genre,omitempty"`
	Category        string    `json:"workout_category,omitempty"`
	Episode         string    `json:"episode,omitempty"`
	WorkoutType     string    `json:"workout_type,omitempty"`
	Date            string    `json:"date,omitempty"`
	DateTime        string    `json:"datetime,omitempty"`
	Songs           []Song    `json:"songs"`
	NeedsUpdate     bool      `json:"needs_update"`
	LastFetchedAt   time.Time `json:"last_fetched_at,omitzero"`
	IsFavorite      bool      `json:"is_favorite"`
}

// IsConsistent reports whether the record can be served without a refetch:
// the canonical URL is known and the record is not marked stale.
func (r *WorkoutRecord) IsConsistent() bool {
	return r != nil && r.CanonicalURL != "" && !r.NeedsUpdate
}

// URL returns the best locator for fetching the record again.
func (r *WorkoutRecord) URL() string {
	if r.CanonicalURL != "" {
		return r.CanonicalURL
	}
	return r.OriginalURL
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Category      string
	Trainer       string
	Genre         string
	MinDuration   int // minutes, inclusive
	MaxDuration   int // minutes, inclusive
	TitleContains string
	StaleOnly     bool
	FavoritesOnly bool
	Limit         int
}

// FilterOptions lists the distinct values available for filtering.
type FilterOptions struct {
	Trainers   []string `json:"trainers"`
	Genres     []string `json:"genres"`
	Categories []string `json:"categories"`
	Durations  []int    `json:"durations"`
}

// PendingEntry is a stale row that can be refetched.
type PendingEntry struct {
	IdentityKey string `json:"identity_key"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
}

var leadingDigits = regexp.MustCompile(`\d+`)

// ParseDurationMinutes extracts the minute count from text such as "45min"
// or "10 min". It returns 0 when no number is present.
func ParseDurationMinutes(duration string) int {
	m := leadingDigits.FindString(duration)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// DurationBucket maps a minute count onto the 5/10/20/30/45 buckets offered
// as filter choices. Non-positive input maps to 0.
func DurationBucket(minutes int) int {
	switch {
	case minutes <= 0:
		return 0
	case minutes <= 7:
		return 5
	case minutes <= 15:
		return 10
	case minutes <= 25:
		return 20
	case minutes <= 37:
		return 30
	default:
		return 45
	}
}
