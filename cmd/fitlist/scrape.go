package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/fitlist/internal/refresh"
	"github.com/pders01/fitlist/internal/storage"
)

var (
	scrapeFormat string
	scrapeForce  bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url>...",
	Short: "Scrape workout pages into the library",
	Long: `Scrape one or more Apple Fitness+ workout pages and store their metadata
and playlists. URLs already cached with a playlist are served from the
library unless --force is given.

Requests are spaced by scraper.min_request_delay. The command exits
non-zero if any URL is invalid or fails to scrape.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().StringVarP(&scrapeFormat, "format", "f", "list", "Output format: list or json")
	scrapeCmd.Flags().BoolVar(&scrapeForce, "force", false, "Fetch even when the workout is cached")
	rootCmd.AddCommand(scrapeCmd)
}

type scrapeOutput struct {
	Workouts []*storage.WorkoutRecord `json:"workouts"`
	Errors   []refresh.BatchError     `json:"errors"`
}

func runScrape(cmd *cobra.Command, args []string) error {
	if scrapeFormat != "list" && scrapeFormat != "json" {
		return fmt.Errorf("unknown format %q (want list or json)", scrapeFormat)
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, runtimeOptions{logTarget: logToConsole, archive: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.coord.Start(ctx)
	defer rt.coord.Stop()

	res, err := rt.coord.Submit(ctx, args, scrapeForce)
	if err != nil {
		return fmt.Errorf("submitting workouts: %w", err)
	}
	if err := rt.coord.WaitIdle(ctx); err != nil {
		return err
	}
	status := rt.coord.Status()

	out := scrapeOutput{Errors: status.Errors}
	seen := make(map[string]bool)
	for _, u := range args {
		rec, err := rt.store.FindByURL(ctx, u)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", u, err)
		}
		if seen[rec.IdentityKey] {
			continue
		}
		seen[rec.IdentityKey] = true
		out.Workouts = append(out.Workouts, rec)
	}

	w := cmd.OutOrStdout()
	if scrapeFormat == "json" {
		if out.Workouts == nil {
			out.Workouts = []*storage.WorkoutRecord{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		for _, rec := range out.Workouts {
			printWorkout(w, rec)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d queued, %d cached, %d already queued, %d invalid\n",
			res.Queued, res.Cached, res.Coalesced, res.Invalid)
		for _, e := range out.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s: %s\n", e.URL, e.Error)
		}
	}

	if len(out.Errors) > 0 {
		return fmt.Errorf("%d of %d URLs failed", len(out.Errors), len(args))
	}
	return nil
}

func printWorkout(w io.Writer, rec *storage.WorkoutRecord) {
	title := rec.Title
	if title == "" {
		title = rec.URL()
	}
	fmt.Fprintln(w, title)

	var meta []string
	for _, s := range []string{rec.Trainer, rec.Duration, rec.Genre, rec.Category} {
		if s != "" {
			meta = append(meta, s)
		}
	}
	if len(meta) > 0 {
		fmt.Fprintf(w, "  %s\n", strings.Join(meta, " • "))
	}
	if link := rec.URL(); link != "" && link != title {
		fmt.Fprintf(w, "  %s\n", link)
	}
	if rec.NeedsUpdate {
		fmt.Fprintln(w, "  (marked for refresh)")
	}
	for i, s := range rec.Songs {
		fmt.Fprintf(w, "  %2d. %s by %s\n", i+1, s.Title, s.Artist)
	}
	fmt.Fprintln(w)
}
