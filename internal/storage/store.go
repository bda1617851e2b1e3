package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pders01/fitlist/internal/debuglog"
	"github.com/pders01/fitlist/internal/validation"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure Go driver
)

const recordColumns = `identity_key, canonical_url, original_url, title, trainer, duration,
	duration_minutes, genre, episode, workout_type, workout_category, date, datetime,
	songs_json, needs_update, last_fetched_at, is_favorite`

// Config defines SQLite operational parameters.
type Config struct {
	BusyTimeout    time.Duration
	MaxOpenConns   int
	RequiredFields []string // passed to NewEvaluator
	UpsertTries    uint
}

// DefaultConfig returns the settings used by NewStore.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 8,
		UpsertTries:  3,
	}
}

// Store is the SQLite-backed workout cache. Writes are serialised by a
// store-wide mutex; reads run concurrently against the WAL.
type Store struct {
	db         *sql.DB
	evaluator  *Evaluator
	reconciler *Reconciler
	reconciled *ReconcileResult
	tries      uint
	writeMu    sync.Mutex
	log        zerolog.Logger
}

// NewStore opens dbPath with DefaultConfig.
func NewStore(dbPath string) (*Store, error) {
	return Open(dbPath, DefaultConfig())
}

// Open initialises the connection pool, reconciles the table shape and
// repairs rows that violate the canonical URL invariant. A failed
// reconcile is returned as *MigrationError.
func Open(dbPath string, cfg Config) (*Store, error) {
	evaluator, err := NewEvaluator(cfg.RequiredFields)
	if err != nil {
		return nil, fmt.Errorf("configuring freshness evaluator: %w", err)
	}

	db, err := openDB(dbPath, cfg)
	if err != nil {
		return nil, err
	}

	tries := cfg.UpsertTries
	if tries == 0 {
		tries = 3
	}

	s := &Store{
		db:         db,
		evaluator:  evaluator,
		reconciler: NewReconciler(db, evaluator),
		tries:      tries,
		log:        debuglog.WithComponent("storage"),
	}

	ctx := context.Background()
	res, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.reconciled = res
	if repaired, err := s.reconciler.RepairCanonicalInvariant(ctx); err != nil {
		_ = db.Close()
		return nil, err
	} else if repaired > 0 {
		s.log.Warn().Int64("rows", repaired).Msg("marked rows without canonical URL as stale")
	}

	return s, nil
}

func openDB(dbPath string, cfg Config) (*sql.DB, error) {
	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 1
	}
	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		maxConns = 1
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening database: ping: %w", err)
	}
	return db, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Evaluator returns the freshness evaluator used by Upsert.
func (s *Store) Evaluator() *Evaluator { return s.evaluator }

// Reconciler returns the schema reconciler bound to this database.
func (s *Store) Reconciler() *Reconciler { return s.reconciler }

// OpenResult reports what the reconcile run during Open did.
func (s *Store) OpenResult() *ReconcileResult { return s.reconciled }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*WorkoutRecord, error) {
	var (
		r                                        WorkoutRecord
		canonical, original, title, trainer      sql.NullString
		duration, genre, episode, workoutType    sql.NullString
		category, date, dateTime, songs, fetched sql.NullString
		minutes                                  sql.NullInt64
	)
	if err := row.Scan(&r.IdentityKey, &canonical, &original, &title, &trainer, &duration,
		&minutes, &genre, &episode, &workoutType, &category, &date, &dateTime,
		&songs, &r.NeedsUpdate, &fetched, &r.IsFavorite); err != nil {
		return nil, err
	}

	r.CanonicalURL = canonical.String
	r.OriginalURL = original.String
	r.Title = title.String
	r.Trainer = trainer.String
	r.Duration = duration.String
	r.DurationMinutes = int(minutes.Int64)
	r.Genre = genre.String
	r.Episode = episode.String
	r.WorkoutType = workoutType.String
	r.Category = category.String
	r.Date = date.String
	r.DateTime = dateTime.String
	r.LastFetchedAt = parseTime(fetched.String)

	decoded, err := decodeSongs(songs.String)
	if err != nil {
		return nil, fmt.Errorf("row %s: %w", r.IdentityKey, err)
	}
	r.Songs = decoded
	return &r, nil
}

func decodeSongs(raw string) ([]Song, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return []Song{}, nil
	}
	var songs []Song
	if err := json.Unmarshal([]byte(raw), &songs); err != nil {
		return nil, fmt.Errorf("decoding songs: %w", err)
	}
	if songs == nil {
		songs = []Song{}
	}
	return songs, nil
}

func encodeSongs(songs []Song) (string, error) {
	if len(songs) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(songs)
	if err != nil {
		return "", fmt.Errorf("encoding songs: %w", err)
	}
	return string(data), nil
}

// storedTimeLayout is fixed width so text order in SQLite matches time order.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var timeLayouts = []string{
	storedTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(storedTimeLayout)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Upsert inserts or fully replaces the row for r.IdentityKey. The key is
// derived from the record's URL when empty and needs_update is recomputed,
// so a record without a canonical URL is always stored as stale. The
// derived key, minutes and staleness are written back into r.
//
// Rows that share r's canonical or original URL under a different key are
// deleted in the same transaction: a stub keyed on its original URL is
// replaced once the canonical page is known. This is the only deletion
// outside DeleteDuplicates; use Supersede to learn which keys went away.
func (s *Store) Upsert(ctx context.Context, r *WorkoutRecord) error {
	_, err := s.Supersede(ctx, r)
	return err
}

// Supersede is Upsert that also returns the keys of the rows it deleted.
func (s *Store) Supersede(ctx context.Context, r *WorkoutRecord) ([]string, error) {
	if r == nil {
		return nil, &StorageError{Op: "upsert", Err: errors.New("nil record")}
	}
	if r.IdentityKey == "" {
		u := r.URL()
		if u == "" {
			return nil, &StorageError{Op: "upsert", Err: errors.New("record has neither canonical nor original URL")}
		}
		r.IdentityKey = validation.IdentityKey(u)
	}
	if r.DurationMinutes == 0 {
		r.DurationMinutes = ParseDurationMinutes(r.Duration)
	}
	r.NeedsUpdate = r.NeedsUpdate || s.evaluator.Evaluate(r)

	songs, err := encodeSongs(r.Songs)
	if err != nil {
		return nil, &StorageError{Op: "upsert", Err: err}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	removed, err := backoff.Retry(ctx, func() ([]string, error) {
		removed, err := s.upsertTx(ctx, r, songs)
		if err == nil || isBusy(err) {
			return removed, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.tries))
	if err != nil {
		return nil, &StorageError{Op: "upsert", Err: err}
	}
	if len(removed) > 0 {
		s.log.Info().Str("key", r.IdentityKey).Strs("removed", removed).Msg("superseded rows sharing the workout URL")
	}
	return removed, nil
}

const supersededWhere = `
		WHERE identity_key != ?
		  AND ((canonical_url IS NOT NULL AND canonical_url IN (?, ?))
		    OR (original_url IS NOT NULL AND original_url IN (?, ?)))`

func (s *Store) upsertTx(ctx context.Context, r *WorkoutRecord, songs string) (removed []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	args := []any{
		r.IdentityKey,
		r.CanonicalURL, r.OriginalURL,
		r.CanonicalURL, r.OriginalURL,
	}
	rows, err := tx.QueryContext(ctx, `DELETE FROM workout_cache`+supersededWhere+` RETURNING identity_key`, args...)
	if err != nil {
		return nil, fmt.Errorf("removing superseded rows: %w", err)
	}
	for rows.Next() {
		var key string
		if err = rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("removing superseded rows: %w", err)
		}
		removed = append(removed, key)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("removing superseded rows: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO workout_cache (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity_key) DO UPDATE SET
			canonical_url = excluded.canonical_url,
			original_url = excluded.original_url,
			title = excluded.title,
			trainer = excluded.trainer,
			duration = excluded.duration,
			duration_minutes = excluded.duration_minutes,
			genre = excluded.genre,
			episode = excluded.episode,
			workout_type = excluded.workout_type,
			workout_category = excluded.workout_category,
			date = excluded.date,
			datetime = excluded.datetime,
			songs_json = excluded.songs_json,
			needs_update = excluded.needs_update,
			last_fetched_at = excluded.last_fetched_at,
			is_favorite = excluded.is_favorite`,
		r.IdentityKey,
		nullable(r.CanonicalURL),
		nullable(r.OriginalURL),
		nullable(r.Title),
		nullable(r.Trainer),
		nullable(r.Duration),
		r.DurationMinutes,
		nullable(r.Genre),
		nullable(r.Episode),
		nullable(r.WorkoutType),
		nullable(r.Category),
		nullable(r.Date),
		nullable(r.DateTime),
		songs,
		r.NeedsUpdate,
		formatTime(r.LastFetchedAt),
		r.IsFavorite,
	); err != nil {
		return nil, fmt.Errorf("writing row: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return removed, nil
}

// Get returns the row for key or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (*WorkoutRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM workout_cache WHERE identity_key = ?`, key)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return r, nil
}

// FindByURL looks a locator up by canonical URL, original URL or derived
// identity key, preferring fresh rows.
func (s *Store) FindByURL(ctx context.Context, rawURL string) (*WorkoutRecord, error) {
	stripped := validation.StripQuery(rawURL)
	normalized := validation.Normalize(rawURL)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM workout_cache
		WHERE identity_key = ?
		   OR canonical_url IN (?, ?)
		   OR original_url IN (?, ?)
		ORDER BY needs_update ASC, last_fetched_at DESC
		LIMIT 1`,
		validation.IdentityKey(rawURL), stripped, normalized, stripped, normalized)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "find by url", Err: err}
	}
	return r, nil
}

func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Category != "" {
		clauses = append(clauses, "workout_category = ? COLLATE NOCASE")
		args = append(args, f.Category)
	}
	if f.Trainer != "" {
		clauses = append(clauses, "trainer = ? COLLATE NOCASE")
		args = append(args, f.Trainer)
	}
	if f.Genre != "" {
		clauses = append(clauses, "genre = ? COLLATE NOCASE")
		args = append(args, f.Genre)
	}
	if f.MinDuration > 0 {
		clauses = append(clauses, "duration_minutes >= ?")
		args = append(args, f.MinDuration)
	}
	if f.MaxDuration > 0 {
		clauses = append(clauses, "duration_minutes <= ?")
		args = append(args, f.MaxDuration)
	}
	if f.TitleContains != "" {
		clauses = append(clauses, `title LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(f.TitleContains)+"%")
	}
	if f.StaleOnly {
		clauses = append(clauses, "needs_update = 1")
	}
	if f.FavoritesOnly {
		clauses = append(clauses, "is_favorite = 1")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// List streams rows matching f, newest fetch first. Each range over the
// returned sequence runs the query anew. Callers must not write to the
// store from inside the loop when the pool holds a single connection.
func (s *Store) List(ctx context.Context, f Filter) iter.Seq2[*WorkoutRecord, error] {
	return func(yield func(*WorkoutRecord, error) bool) {
		where, args := f.where()
		query := `SELECT ` + recordColumns + ` FROM workout_cache` + where +
			` ORDER BY last_fetched_at IS NULL, last_fetched_at DESC, rowid ASC`
		if f.Limit > 0 {
			query += " LIMIT ?"
			args = append(args, f.Limit)
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, &StorageError{Op: "list", Err: err})
			return
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				yield(nil, &StorageError{Op: "list", Err: err})
				return
			}
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, &StorageError{Op: "list", Err: err})
		}
	}
}

// Collect drains a List sequence into a slice.
func Collect(seq iter.Seq2[*WorkoutRecord, error]) ([]*WorkoutRecord, error) {
	var out []*WorkoutRecord
	for r, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// FilterOptions returns the distinct trainers, genres and categories and
// the duration buckets present in the cache.
func (s *Store) FilterOptions(ctx context.Context) (*FilterOptions, error) {
	opts := &FilterOptions{}
	var err error
	if opts.Trainers, err = s.distinct(ctx, "trainer"); err != nil {
		return nil, err
	}
	if opts.Genres, err = s.distinct(ctx, "genre"); err != nil {
		return nil, err
	}
	if opts.Categories, err = s.distinct(ctx, "workout_category"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT duration_minutes FROM workout_cache WHERE duration_minutes > 0`)
	if err != nil {
		return nil, &StorageError{Op: "filter options", Err: err}
	}
	defer rows.Close()

	buckets := make(map[int]bool)
	for rows.Next() {
		var m int
		if err := rows.Scan(&m); err != nil {
			return nil, &StorageError{Op: "filter options", Err: err}
		}
		buckets[DurationBucket(m)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "filter options", Err: err}
	}
	for _, b := range []int{5, 10, 20, 30, 45} {
		if buckets[b] {
			opts.Durations = append(opts.Durations, b)
		}
	}
	return opts, nil
}

// column is one of the fixed names above, never user input.
func (s *Store) distinct(ctx context.Context, column string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT %[1]s FROM workout_cache WHERE %[1]s IS NOT NULL AND %[1]s != '' ORDER BY %[1]s COLLATE NOCASE`, column))
	if err != nil {
		return nil, &StorageError{Op: "filter options", Err: err}
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, &StorageError{Op: "filter options", Err: err}
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "filter options", Err: err}
	}
	return values, nil
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &StorageError{Op: op, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: op, Err: err}
	}
	return n, nil
}

// MarkStale flags key for refetch, leaving its data intact.
func (s *Store) MarkStale(ctx context.Context, key string) error {
	n, err := s.exec(ctx, "mark stale", `UPDATE workout_cache SET needs_update = 1 WHERE identity_key = ?`, key)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// InvalidateAll marks every row stale and returns how many were changed.
func (s *Store) InvalidateAll(ctx context.Context) (int64, error) {
	return s.exec(ctx, "invalidate", `UPDATE workout_cache SET needs_update = 1 WHERE needs_update = 0`)
}

// SetFavorite toggles the favorite flag of key.
func (s *Store) SetFavorite(ctx context.Context, key string, favorite bool) error {
	n, err := s.exec(ctx, "set favorite", `UPDATE workout_cache SET is_favorite = ? WHERE identity_key = ?`, favorite, key)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingUpdates lists stale rows that have a URL to refetch from.
func (s *Store) PendingUpdates(ctx context.Context) ([]PendingEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity_key, COALESCE(NULLIF(canonical_url, ''), original_url), COALESCE(title, '')
		FROM workout_cache
		WHERE needs_update = 1
		  AND COALESCE(NULLIF(canonical_url, ''), NULLIF(original_url, '')) IS NOT NULL
		ORDER BY last_fetched_at IS NULL DESC, last_fetched_at ASC, rowid ASC`)
	if err != nil {
		return nil, &StorageError{Op: "pending updates", Err: err}
	}
	defer rows.Close()

	pending := []PendingEntry{}
	for rows.Next() {
		var p PendingEntry
		if err := rows.Scan(&p.IdentityKey, &p.URL, &p.Title); err != nil {
			return nil, &StorageError{Op: "pending updates", Err: err}
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "pending updates", Err: err}
	}
	return pending, nil
}

// Count returns the number of cached rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workout_cache`).Scan(&n); err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return n, nil
}
