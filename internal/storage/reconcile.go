package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pders01/fitlist/internal/debuglog"
	"github.com/pders01/fitlist/internal/validation"
	"github.com/rs/zerolog"
)

const stagingTable = "workout_cache_new"

// ReconcileAction describes what Reconcile did.
type ReconcileAction string

const (
	ActionCreated   ReconcileAction = "created"
	ActionUnchanged ReconcileAction = "unchanged"
	ActionMigrated  ReconcileAction = "migrated"
)

// ReconcileResult summarises a Reconcile run.
type ReconcileResult struct {
	Action      ReconcileAction
	Fingerprint string
	Plan        *MigrationPlan
	RowsCopied  int
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Reconciler brings the on-disk table in line with ExpectedShape.
type Reconciler struct {
	db        *sql.DB
	evaluator *Evaluator
	expected  []Column
	log       zerolog.Logger
}

func NewReconciler(db *sql.DB, evaluator *Evaluator) *Reconciler {
	if evaluator == nil {
		evaluator = DefaultEvaluator()
	}
	return &Reconciler{
		db:        db,
		evaluator: evaluator,
		expected:  ExpectedShape(),
		log:       debuglog.WithComponent("reconcile"),
	}
}

// CurrentShape reads the live column list; it is empty when the table does
// not exist.
func (r *Reconciler) CurrentShape(ctx context.Context) ([]Column, error) {
	return currentShape(ctx, r.db)
}

func currentShape(ctx context.Context, q querier) ([]Column, error) {
	rows, err := q.QueryContext(ctx, `PRAGMA table_info(`+tableName+`)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shape []Column
	for rows.Next() {
		var (
			cid     int
			c       Column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &c.Name, &c.Type, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		c.NotNull = notNull != 0
		c.Default = dflt.String
		c.PrimaryKey = pk != 0
		shape = append(shape, c)
	}
	return shape, rows.Err()
}

// Matches reports whether the live table already has the expected shape.
func (r *Reconciler) Matches(ctx context.Context) (bool, error) {
	current, err := r.CurrentShape(ctx)
	if err != nil {
		return false, err
	}
	return ShapesEqual(current, r.expected), nil
}

// Reconcile creates the table when missing, does nothing to row data when
// the shape already matches, and otherwise rebuilds the table inside one
// transaction: copy the intersecting columns, fill added columns with their
// defaults, recompute original_url and identity_key from the legacy URL
// column, leave canonical_url empty, then re-evaluate needs_update. Any
// failure rolls everything back and is returned as *MigrationError.
func (r *Reconciler) Reconcile(ctx context.Context) (res *ReconcileResult, err error) {
	res = &ReconcileResult{Fingerprint: Fingerprint(r.expected)}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &MigrationError{Step: "begin", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := currentShape(ctx, tx)
	if err != nil {
		return nil, &MigrationError{Step: "read shape", Err: err}
	}

	switch {
	case len(current) == 0:
		if _, err = tx.ExecContext(ctx, createTableSQL(tableName, r.expected)); err != nil {
			return nil, &MigrationError{Step: "create table", Err: err}
		}
		if err = createIndexes(ctx, tx); err != nil {
			return nil, err
		}
		res.Action = ActionCreated

	case ShapesEqual(current, r.expected):
		if err = createIndexes(ctx, tx); err != nil {
			return nil, err
		}
		res.Action = ActionUnchanged

	default:
		plan := Plan(current, r.expected)
		res.Plan = &plan
		r.log.Info().
			Str("fingerprint", res.Fingerprint).
			Int("copy", len(plan.Copy)).
			Int("added", len(plan.Added)).
			Strs("dropped", plan.Dropped).
			Str("url_source", plan.URLSource).
			Msg("schema drift detected, rebuilding workout_cache")

		if res.RowsCopied, err = r.rebuild(ctx, tx, plan); err != nil {
			return nil, err
		}
		if err = r.recomputeStaleness(ctx, tx); err != nil {
			return nil, err
		}
		res.Action = ActionMigrated
	}

	if err = tx.Commit(); err != nil {
		return nil, &MigrationError{Step: "commit", Err: err}
	}

	if res.Action != ActionUnchanged {
		r.log.Info().Str("action", string(res.Action)).Int("rows", res.RowsCopied).Str("fingerprint", res.Fingerprint).Msg("schema reconciled")
	}
	return res, nil
}

func createIndexes(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range createIndexStatements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &MigrationError{Step: "create indexes", Err: err}
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (r *Reconciler) rebuild(ctx context.Context, tx *sql.Tx, plan MigrationPlan) (int, error) {
	readCols := make([]string, 0, len(plan.Copy)+1)
	for _, c := range plan.Copy {
		readCols = append(readCols, quoteIdent(c.From))
	}
	if plan.URLSource != "" {
		readCols = append(readCols, quoteIdent(plan.URLSource))
	}
	query := "SELECT rowid"
	if len(readCols) > 0 {
		query += ", " + strings.Join(readCols, ", ")
	}
	query += " FROM " + tableName + " ORDER BY rowid"

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return 0, &MigrationError{Step: "read rows", Err: err}
	}
	var legacy [][]any
	for rows.Next() {
		vals := make([]any, len(readCols)+1)
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			rows.Close()
			return 0, &MigrationError{Step: "read rows", Err: err}
		}
		legacy = append(legacy, vals)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, &MigrationError{Step: "read rows", Err: err}
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+stagingTable); err != nil {
		return 0, &MigrationError{Step: "create table", Err: err}
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(stagingTable, r.expected)); err != nil {
		return 0, &MigrationError{Step: "create table", Err: err}
	}

	byName := make(map[string]Column, len(r.expected))
	for _, c := range r.expected {
		byName[c.Name] = c
	}

	insertCols := []string{"identity_key", "original_url", "needs_update"}
	for _, c := range plan.Copy {
		insertCols = append(insertCols, c.To)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(insertCols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		stagingTable, strings.Join(insertCols, ", "), placeholders))
	if err != nil {
		return 0, &MigrationError{Step: "copy rows", Err: err}
	}

	usedKeys := make(map[string]bool, len(legacy))
	for _, vals := range legacy {
		rowid := toInt64(vals[0])

		var original string
		if plan.URLSource != "" {
			original = validation.StripQuery(toString(vals[len(vals)-1]))
		}
		key := migratedKey(original, rowid, usedKeys)

		args := []any{key, nullable(original), true}
		for i, c := range plan.Copy {
			args = append(args, migrateValue(byName[c.To], vals[i+1]))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = stmt.Close()
			return 0, &MigrationError{Step: "copy rows", Err: fmt.Errorf("legacy row %d: %w", rowid, err)}
		}
	}
	if err := stmt.Close(); err != nil {
		return 0, &MigrationError{Step: "copy rows", Err: err}
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE "+tableName); err != nil {
		return 0, &MigrationError{Step: "drop table", Err: err}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", stagingTable, tableName)); err != nil {
		return 0, &MigrationError{Step: "rename table", Err: err}
	}
	if err := createIndexes(ctx, tx); err != nil {
		return 0, err
	}
	return len(legacy), nil
}

// migratedKey derives the identity of a legacy row. Rows without any URL get
// a placeholder key; duplicate keys are disambiguated with the rowid so no
// legacy row is lost before DeleteDuplicates runs.
func migratedKey(original string, rowid int64, used map[string]bool) string {
	key := "orphan:" + strconv.FormatInt(rowid, 10)
	if original != "" {
		key = validation.IdentityKey(original)
	}
	if used[key] {
		key = key + "~" + strconv.FormatInt(rowid, 10)
	}
	used[key] = true
	return key
}

// migrateValue coerces a legacy value into the target column, replacing
// NULL in NOT NULL columns with the declared default and repairing
// malformed playlists.
func migrateValue(col Column, v any) any {
	switch t := v.(type) {
	case []byte:
		v = string(t)
	case time.Time:
		v = t.UTC().Format(time.RFC3339Nano)
	}

	if col.Name == "songs_json" {
		songs, err := decodeSongs(toString(v))
		if err != nil {
			return "[]"
		}
		encoded, _ := encodeSongs(songs)
		return encoded
	}

	if v == nil && col.NotNull {
		return defaultValue(col)
	}
	return v
}

func defaultValue(col Column) any {
	d := strings.TrimSpace(col.Default)
	if strings.HasPrefix(d, "'") && strings.HasSuffix(d, "'") && len(d) >= 2 {
		return strings.ReplaceAll(d[1:len(d)-1], "''", "'")
	}
	if n, err := strconv.ParseInt(d, 10, 64); err == nil {
		return n
	}
	if d == "" {
		return ""
	}
	return d
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	default:
		n, _ := strconv.ParseInt(toString(v), 10, 64)
		return n
	}
}

// recomputeStaleness re-runs the evaluator over every row and fills
// duration_minutes from the raw duration text.
func (r *Reconciler) recomputeStaleness(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `SELECT `+recordColumns+` FROM `+tableName)
	if err != nil {
		return &MigrationError{Step: "recompute staleness", Err: err}
	}
	var records []*WorkoutRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return &MigrationError{Step: "recompute staleness", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return &MigrationError{Step: "recompute staleness", Err: err}
	}
	rows.Close()

	for _, rec := range records {
		minutes := rec.DurationMinutes
		if minutes == 0 {
			minutes = ParseDurationMinutes(rec.Duration)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE `+tableName+` SET needs_update = ?, duration_minutes = ? WHERE identity_key = ?`,
			r.evaluator.Evaluate(rec), minutes, rec.IdentityKey); err != nil {
			return &MigrationError{Step: "recompute staleness", Err: err}
		}
	}
	return nil
}

// RepairCanonicalInvariant marks rows stale that have no canonical URL but
// claim to be fresh. It returns the number of repaired rows.
func (r *Reconciler) RepairCanonicalInvariant(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE `+tableName+` SET needs_update = 1
		WHERE (canonical_url IS NULL OR canonical_url = '') AND needs_update = 0`)
	if err != nil {
		return 0, &StorageError{Op: "repair canonical invariant", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "repair canonical invariant", Err: err}
	}
	return n, nil
}
