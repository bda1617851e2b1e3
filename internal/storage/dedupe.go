package storage

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/pders01/fitlist/internal/validation"
)

// DedupeReport summarises a DeleteDuplicates run.
type DedupeReport struct {
	Before      int      `json:"before"`
	After       int      `json:"after"`
	Groups      int      `json:"groups"`
	Deleted     int      `json:"deleted"`
	DeletedKeys []string `json:"deleted_keys,omitempty"`
}

// Completeness scores a row for duplicate resolution: one point per
// non-empty metadata field, one for a non-empty playlist and two for a
// known canonical URL.
func Completeness(r *WorkoutRecord) int {
	score := 0
	for _, v := range []string{r.Title, r.Trainer, r.Duration, r.Genre, r.Category, r.Episode, r.WorkoutType, r.Date} {
		if strings.TrimSpace(v) != "" {
			score++
		}
	}
	if len(r.Songs) > 0 {
		score++
	}
	if r.CanonicalURL != "" {
		score += 2
	}
	return score
}

type rowidScanner struct {
	rows  *sql.Rows
	rowid *int64
}

func (s rowidScanner) Scan(dest ...any) error {
	return s.rows.Scan(append([]any{s.rowid}, dest...)...)
}

type dedupeCandidate struct {
	rowid  int64
	record *WorkoutRecord
	score  int
}

// DeleteDuplicates collapses rows that point at the same page, grouping on
// the normalized canonical URL (original URL when no canonical is known).
// Each group keeps its most complete row; ties go to the most recent fetch,
// then the lowest rowid. Runs in one transaction and is idempotent.
func (s *Store) DeleteDuplicates(ctx context.Context) (report *DedupeReport, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StorageError{Op: "delete duplicates", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `SELECT rowid, `+recordColumns+` FROM workout_cache ORDER BY rowid`)
	if err != nil {
		return nil, &StorageError{Op: "delete duplicates", Err: err}
	}

	report = &DedupeReport{}
	groups := make(map[string][]dedupeCandidate)
	var order []string
	for rows.Next() {
		var rowid int64
		rec, scanErr := scanRecord(rowidScanner{rows: rows, rowid: &rowid})
		if scanErr != nil {
			rows.Close()
			return nil, &StorageError{Op: "delete duplicates", Err: scanErr}
		}
		report.Before++

		u := rec.URL()
		if u == "" {
			continue
		}
		key := strings.ToLower(validation.Normalize(u))
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], dedupeCandidate{rowid: rowid, record: rec, score: Completeness(rec)})
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, &StorageError{Op: "delete duplicates", Err: err}
	}
	rows.Close()

	for _, key := range order {
		members := groups[key]
		if len(members) < 2 {
			continue
		}
		report.Groups++

		sort.SliceStable(members, func(i, j int) bool {
			a, b := members[i], members[j]
			if a.score != b.score {
				return a.score > b.score
			}
			if !a.record.LastFetchedAt.Equal(b.record.LastFetchedAt) {
				return a.record.LastFetchedAt.After(b.record.LastFetchedAt)
			}
			return a.rowid < b.rowid
		})

		for _, loser := range members[1:] {
			if _, err = tx.ExecContext(ctx, `DELETE FROM workout_cache WHERE rowid = ?`, loser.rowid); err != nil {
				return nil, &StorageError{Op: "delete duplicates", Err: err}
			}
			report.Deleted++
			report.DeletedKeys = append(report.DeletedKeys, loser.record.IdentityKey)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, &StorageError{Op: "delete duplicates", Err: err}
	}
	report.After = report.Before - report.Deleted

	if report.Deleted > 0 {
		s.log.Info().Int("groups", report.Groups).Int("deleted", report.Deleted).Msg("removed duplicate workouts")
	}
	return report, nil
}
