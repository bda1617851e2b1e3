package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const tableName = "workout_cache"

// Column describes one column of the cache table as reported by
// PRAGMA table_info. Default holds the SQL literal, empty for none.
type Column struct {
	Name       string
	Type       string
	Default    string
	NotNull    bool
	PrimaryKey bool
}

func (c Column) equal(o Column) bool {
	return c.Name == o.Name &&
		strings.EqualFold(c.Type, o.Type) &&
		strings.TrimSpace(c.Default) == strings.TrimSpace(o.Default) &&
		c.NotNull == o.NotNull &&
		c.PrimaryKey == o.PrimaryKey
}

func (c Column) definition() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte(' ')
	b.WriteString(c.Type)
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	return b.String()
}

var expectedShape = []Column{
	{Name: "identity_key", Type: "TEXT", NotNull: true, PrimaryKey: true},
	{Name: "canonical_url", Type: "TEXT"},
	{Name: "original_url", Type: "TEXT"},
	{Name: "title", Type: "TEXT"},
	{Name: "trainer", Type: "TEXT"},
	{Name: "duration", Type: "TEXT"},
	{Name: "duration_minutes", Type: "INTEGER", NotNull: true, Default: "0"},
	{Name: "genre", Type: "TEXT"},
	{Name: "episode", Type: "TEXT"},
	{Name: "workout_type", Type: "TEXT"},
	{Name: "workout_category", Type: "TEXT"},
	{Name: "date", Type: "TEXT"},
	{Name: "datetime", Type: "TEXT"},
	{Name: "songs_json", Type: "TEXT", NotNull: true, Default: "'[]'"},
	{Name: "needs_update", Type: "BOOLEAN", NotNull: true, Default: "1"},
	{Name: "last_fetched_at", Type: "TEXT"},
	{Name: "is_favorite", Type: "BOOLEAN", NotNull: true, Default: "0"},
}

var tableIndexes = []struct{ name, column string }{
	{"idx_workout_cache_category", "workout_category"},
	{"idx_workout_cache_trainer", "trainer"},
	{"idx_workout_cache_genre", "genre"},
	{"idx_workout_cache_needs_update", "needs_update"},
}

// migrationDenylist names columns never copied verbatim during a rebuild:
// URLs are recomputed from the legacy locator, needs_update is re-evaluated
// and identity_key is derived.
var migrationDenylist = map[string]bool{
	"identity_key":  true,
	"canonical_url": true,
	"original_url":  true,
	"needs_update":  true,
}

// legacyRenames carries values of columns that changed name.
var legacyRenames = map[string]string{
	"cached_at": "last_fetched_at",
}

// ExpectedShape returns the declared column list of the cache table.
func ExpectedShape() []Column {
	out := make([]Column, len(expectedShape))
	copy(out, expectedShape)
	return out
}

// Fingerprint identifies a shape by content.
func Fingerprint(shape []Column) string {
	h := sha256.New()
	for _, c := range shape {
		fmt.Fprintf(h, "%s|%s|%s|%t|%t\n", c.Name, strings.ToUpper(c.Type), c.Default, c.NotNull, c.PrimaryKey)
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// ShapesEqual compares two shapes column by column, in order.
func ShapesEqual(a, b []Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].equal(b[i]) {
			return false
		}
	}
	return true
}

func createTableSQL(name string, shape []Column) string {
	defs := make([]string, len(shape))
	for i, c := range shape {
		defs[i] = c.definition()
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", name, strings.Join(defs, ",\n\t"))
}

func createIndexStatements() []string {
	stmts := make([]string, 0, len(tableIndexes))
	for _, idx := range tableIndexes {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", idx.name, tableName, idx.column))
	}
	return stmts
}

// CopyColumn moves a legacy value into a target column.
type CopyColumn struct {
	From string
	To   string
}

// MigrationPlan is the diff between the current and expected shapes.
type MigrationPlan struct {
	Copy      []CopyColumn // carried over unchanged
	Added     []Column     // filled with their declared default
	Dropped   []string     // present only in the legacy table
	Denylist  []string     // recomputed rather than copied
	URLSource string       // first legacy column whose name contains "url"; empty if none
}

// Plan diffs current against expected. It performs no I/O.
func Plan(current, expected []Column) MigrationPlan {
	var plan MigrationPlan

	have := make(map[string]bool, len(current))
	for _, c := range current {
		have[c.Name] = true
		if plan.URLSource == "" && strings.Contains(strings.ToLower(c.Name), "url") {
			plan.URLSource = c.Name
		}
	}

	want := make(map[string]bool, len(expected))
	for _, c := range expected {
		want[c.Name] = true
	}

	renamedInto := make(map[string]bool)
	for _, c := range current {
		if to, ok := legacyRenames[c.Name]; ok && want[to] && !have[to] && !migrationDenylist[to] {
			plan.Copy = append(plan.Copy, CopyColumn{From: c.Name, To: to})
			renamedInto[to] = true
		}
	}

	for _, c := range expected {
		switch {
		case migrationDenylist[c.Name]:
			plan.Denylist = append(plan.Denylist, c.Name)
		case have[c.Name]:
			plan.Copy = append(plan.Copy, CopyColumn{From: c.Name, To: c.Name})
		case renamedInto[c.Name]:
		default:
			plan.Added = append(plan.Added, c)
		}
	}

	for _, c := range current {
		if want[c.Name] {
			continue
		}
		if to, ok := legacyRenames[c.Name]; ok && renamedInto[to] {
			continue
		}
		plan.Dropped = append(plan.Dropped, c.Name)
	}

	return plan
}
