package storage

import (
	"context"
	"fmt"
	"strings"
)

// HealthReport describes the state of the cache table.
type HealthReport struct {
	Rows          int      `json:"rows"`
	Stale         int      `json:"stale"`
	WithCanonical int      `json:"with_canonical"`
	WithOriginal  int      `json:"with_original"`
	WithSongs     int      `json:"with_songs"`
	Orphaned      int      `json:"orphaned"`   // neither canonical nor original URL
	Normalized    int      `json:"normalized"` // original differs from canonical
	Favorites     int      `json:"favorites"`
	SchemaMatches bool     `json:"schema_matches"`
	Fingerprint   string   `json:"fingerprint"`
	Integrity     []string `json:"integrity,omitempty"` // nil when quick_check passes
}

// Score rates the cache from 0 to 5: schema, integrity, canonical
// coverage, playlist coverage and no orphans.
func (h *HealthReport) Score() int {
	score := 0
	if h.SchemaMatches {
		score++
	}
	if len(h.Integrity) == 0 {
		score++
	}
	if h.Rows == 0 || h.WithCanonical*2 >= h.Rows {
		score++
	}
	if h.Rows == 0 || h.WithSongs*2 >= h.Rows {
		score++
	}
	if h.Orphaned == 0 {
		score++
	}
	return score
}

// Healthy reports whether the schema matches and quick_check passed.
func (h *HealthReport) Healthy() bool {
	return h.SchemaMatches && len(h.Integrity) == 0
}

// Health gathers row statistics, compares the table against the expected
// shape and runs PRAGMA quick_check.
func (s *Store) Health(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{Fingerprint: Fingerprint(ExpectedShape())}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(needs_update = 1), 0),
			COALESCE(SUM(canonical_url IS NOT NULL AND canonical_url != ''), 0),
			COALESCE(SUM(original_url IS NOT NULL AND original_url != ''), 0),
			COALESCE(SUM(songs_json IS NOT NULL AND songs_json NOT IN ('', '[]')), 0),
			COALESCE(SUM(COALESCE(canonical_url, '') = '' AND COALESCE(original_url, '') = ''), 0),
			COALESCE(SUM(canonical_url IS NOT NULL AND original_url IS NOT NULL AND canonical_url != original_url), 0),
			COALESCE(SUM(is_favorite = 1), 0)
		FROM workout_cache`).Scan(
		&report.Rows, &report.Stale, &report.WithCanonical, &report.WithOriginal,
		&report.WithSongs, &report.Orphaned, &report.Normalized, &report.Favorites,
	)
	if err != nil {
		return nil, &StorageError{Op: "health", Err: err}
	}

	if report.SchemaMatches, err = s.reconciler.Matches(ctx); err != nil {
		return nil, &StorageError{Op: "health", Err: err}
	}

	if report.Integrity, err = s.VerifyIntegrity(ctx, "quick"); err != nil {
		return nil, err
	}
	return report, nil
}

// VerifyIntegrity runs PRAGMA quick_check ("quick") or integrity_check
// ("full") and returns the diagnostic rows, or nil when the database is
// healthy.
func (s *Store) VerifyIntegrity(ctx context.Context, mode string) ([]string, error) {
	pragma := "PRAGMA quick_check"
	if mode == "full" {
		pragma = "PRAGMA integrity_check"
	}

	rows, err := s.db.QueryContext(ctx, pragma)
	if err != nil {
		return nil, &StorageError{Op: "integrity check", Err: fmt.Errorf("%s: %w", pragma, err)}
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var res string
		if err := rows.Scan(&res); err != nil {
			return nil, &StorageError{Op: "integrity check", Err: err}
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "integrity check", Err: err}
	}

	if len(results) == 1 && strings.EqualFold(results[0], "ok") {
		return nil, nil
	}
	if len(results) == 0 {
		return []string{"no results returned from integrity check"}, nil
	}
	return results, nil
}
