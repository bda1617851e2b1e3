package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/fitlist/internal/archive"
	"github.com/pders01/fitlist/internal/storage"
)

var (
	migrateVerify bool
	healthJSON    bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Reconcile the database schema",
	Long: `Open the database and bring the workout table to the current shape.
Columns are carried over by name, new columns take their defaults and every
migrated row is marked for refresh. A failed migration leaves the database
untouched and exits non-zero.`,
	RunE: runMigrate,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove duplicate workout rows",
	Long: `Collapse rows that point at the same workout page, keeping the most
complete row of each group. Safe to run repeatedly.`,
	RunE: runCleanup,
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Mark every cached workout for refresh",
	RunE:  runInvalidate,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report database health",
	Long: `Report row statistics, schema conformance and the result of an SQLite
quick_check, scored from 0 to 5. Exits non-zero when the schema drifted or
the integrity check failed.`,
	RunE: runHealth,
}

var reparseCmd = &cobra.Command{
	Use:   "reparse",
	Short: "Re-run the parser over archived pages",
	Long: `Parse every page in the page archive again and store the results, without
touching the network. Useful after a parser fix. Favorites are kept.`,
	RunE: runReparse,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateVerify, "verify", false, "Run a full integrity check afterwards")
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(migrateCmd, cleanupCmd, invalidateCmd, healthCmd, reparseCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, runtimeOptions{logTarget: logToConsole})
	if err != nil {
		return err
	}
	defer rt.Close()

	w := cmd.OutOrStdout()
	res := rt.store.OpenResult()
	fmt.Fprintf(w, "Schema %s (fingerprint %s)\n", res.Action, shortFingerprint(res.Fingerprint))
	if res.Plan != nil {
		printPlan(w, res.Plan)
		fmt.Fprintf(w, "Rows copied: %d (all marked for refresh)\n", res.RowsCopied)
	}

	if !migrateVerify {
		return nil
	}
	problems, err := rt.store.VerifyIntegrity(ctx, "full")
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(cmd.ErrOrStderr(), "integrity: %s\n", p)
		}
		return fmt.Errorf("integrity check reported %d problems", len(problems))
	}
	fmt.Fprintln(w, "Integrity check: ok")
	return nil
}

func printPlan(w io.Writer, plan *storage.MigrationPlan) {
	names := func(cols []storage.Column) string {
		out := make([]string, len(cols))
		for i, c := range cols {
			out[i] = c.Name
		}
		return strings.Join(out, ", ")
	}
	fmt.Fprintf(w, "Columns copied: %d\n", len(plan.Copy))
	if len(plan.Added) > 0 {
		fmt.Fprintf(w, "Columns added: %s\n", names(plan.Added))
	}
	if len(plan.Dropped) > 0 {
		fmt.Fprintf(w, "Columns dropped: %s\n", strings.Join(plan.Dropped, ", "))
	}
	if len(plan.Denylist) > 0 {
		fmt.Fprintf(w, "Columns recomputed: %s\n", strings.Join(plan.Denylist, ", "))
	}
	if plan.URLSource != "" {
		fmt.Fprintf(w, "URL source: %s\n", plan.URLSource)
	}
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, runtimeOptions{logTarget: logToConsole})
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.store.DeleteDuplicates(ctx)
	if err != nil {
		return fmt.Errorf("removing duplicates: %w", err)
	}
	w := cmd.OutOrStdout()
	if report.Deleted == 0 {
		fmt.Fprintf(w, "No duplicates among %d workouts\n", report.Before)
		return nil
	}
	fmt.Fprintf(w, "Removed %d duplicates in %d groups (%d → %d workouts)\n",
		report.Deleted, report.Groups, report.Before, report.After)
	return nil
}

func runInvalidate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, runtimeOptions{logTarget: logToConsole})
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.store.InvalidateAll(ctx)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Marked %d workouts for refresh\n", n)
	return nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, runtimeOptions{logTarget: logToConsole})
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.store.Health(ctx)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if healthJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		payload := struct {
			*storage.HealthReport
			Score   int  `json:"score"`
			Healthy bool `json:"healthy"`
		}{report, report.Score(), report.Healthy()}
		if err := enc.Encode(payload); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "Health score: %d/5\n", report.Score())
		fmt.Fprintf(w, "  Workouts:        %d\n", report.Rows)
		fmt.Fprintf(w, "  Stale:           %d\n", report.Stale)
		fmt.Fprintf(w, "  Canonical URL:   %d\n", report.WithCanonical)
		fmt.Fprintf(w, "  Original URL:    %d\n", report.WithOriginal)
		fmt.Fprintf(w, "  With playlist:   %d\n", report.WithSongs)
		fmt.Fprintf(w, "  Normalized:      %d\n", report.Normalized)
		fmt.Fprintf(w, "  Orphaned:        %d\n", report.Orphaned)
		fmt.Fprintf(w, "  Favorites:       %d\n", report.Favorites)
		fmt.Fprintf(w, "  Schema:          %s\n", matchLabel(report.SchemaMatches))
		if len(report.Integrity) == 0 {
			fmt.Fprintln(w, "  Integrity:       ok")
		} else {
			fmt.Fprintf(w, "  Integrity:       %s\n", strings.Join(report.Integrity, "; "))
		}
	}

	if !report.Healthy() {
		return errors.New("database is unhealthy")
	}
	return nil
}

func matchLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "drifted (run fitlist migrate)"
}

func runReparse(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, runtimeOptions{logTarget: logToConsole, requireArchive: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	var parsed, failed int
	err = rt.archive.ForEach(func(e *archive.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		partial, err := rt.scraper.ParseArchived(e.Meta.OriginalURL, e.Page())
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s: %v\n", e.Meta.OriginalURL, err)
			return nil
		}
		partial.FetchedAt = e.Meta.FetchedAt

		rec := partial.ToRecord()
		existing, err := rt.store.FindByURL(ctx, rec.CanonicalURL)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if existing != nil {
			rec.IsFavorite = existing.IsFavorite
			if existing.OriginalURL != "" {
				rec.OriginalURL = existing.OriginalURL
			}
		}
		if err := rt.store.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("storing %s: %w", rec.CanonicalURL, err)
		}
		parsed++
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Reparsed %d archived pages", parsed)
	if failed > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), ", %d failed\n", failed)
		return fmt.Errorf("%d archived pages failed to parse", failed)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
