package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/fitlist/internal/refresh"
	"github.com/pders01/fitlist/internal/search"
	"github.com/pders01/fitlist/internal/storage"
)

const (
	opTimeout   = 10 * time.Second
	searchLimit = 25
)

type libraryLoadedMsg struct {
	records []*storage.WorkoutRecord
}

type workoutRenderedMsg struct {
	key     string
	content string
}

type workoutsSubmittedMsg struct {
	result *refresh.SubmitResult
	err    error
}

// refreshQueuedMsg reports a queued refresh. count is -1 for a single
// workout and the number of queued rows for a pending sweep.
type refreshQueuedMsg struct {
	title string
	count int
	err   error
}

type favoriteToggledMsg struct {
	key      string
	favorite bool
	err      error
}

type batchStatusMsg struct {
	status refresh.BatchStatus
}

type searchDebounceFireMsg struct {
	seq int
}

type searchResultsMsg struct {
	seq     int
	results []searchResultItem
}

type errorMsg struct {
	err error
}

func (a *App) loadLibrary() tea.Cmd {
	filter := storage.Filter{StaleOnly: a.staleOnly}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		records, err := storage.Collect(a.store.List(ctx, filter))
		if err != nil {
			return errorMsg{err: wrapErr("loading library", err)}
		}
		return libraryLoadedMsg{records: records}
	}
}

// workoutMarkdown lays out a record for the glamour renderer.
func workoutMarkdown(rec *storage.WorkoutRecord, refreshKey string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", workoutLabel(rec))

	var meta []string
	for _, s := range []string{rec.Trainer, rec.Duration, rec.Genre, rec.Category} {
		if s != "" {
			meta = append(meta, s)
		}
	}
	if len(meta) > 0 {
		fmt.Fprintf(&b, "*%s*\n\n", strings.Join(meta, " · "))
	}
	if rec.Episode != "" || rec.Date != "" {
		fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(strings.Join([]string{rec.Episode, rec.Date}, "  ")))
	}
	if rec.IsFavorite {
		b.WriteString("★ Favorite\n\n")
	}
	if link := rec.URL(); link != "" {
		fmt.Fprintf(&b, "[Open in Fitness](%s)\n\n", link)
	}
	if rec.NeedsUpdate {
		fmt.Fprintf(&b, "> Marked for refresh. Press %s to fetch it again.\n\n", refreshKey)
	}

	b.WriteString("---\n\n")

	if len(rec.Songs) == 0 {
		b.WriteString("_No playlist yet._\n")
		return b.String()
	}

	fmt.Fprintf(&b, "## Playlist (%d songs)\n\n", len(rec.Songs))
	for i, s := range rec.Songs {
		fmt.Fprintf(&b, "%d. **%s** by %s\n", i+1, s.Title, s.Artist)
	}
	if !rec.LastFetchedAt.IsZero() {
		fmt.Fprintf(&b, "\n*Fetched %s*\n", rec.LastFetchedAt.Local().Format(time.RFC1123))
	}
	return b.String()
}

func (a *App) renderWorkout(rec *storage.WorkoutRecord) tea.Cmd {
	key := rec.IdentityKey
	markdown := workoutMarkdown(rec, a.keys.Refresh.Help().Key)
	return func() tea.Msg {
		r, err := a.getRenderer()
		if err != nil {
			return workoutRenderedMsg{key: key, content: "Error initializing renderer: " + err.Error()}
		}
		rendered, err := r.Render(markdown)
		if err != nil {
			return workoutRenderedMsg{key: key, content: markdown}
		}
		return workoutRenderedMsg{key: key, content: rendered}
	}
}

// parseURLList splits pasted input on whitespace and commas.
func parseURLList(input string) []string {
	return strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
}

func (a *App) submitWorkouts(urls []string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		res, err := a.coord.Submit(ctx, urls, false)
		if err != nil {
			return workoutsSubmittedMsg{result: res, err: wrapErr("submitting workouts", err)}
		}
		return workoutsSubmittedMsg{result: res}
	}
}

func (a *App) refreshWorkout(rec *storage.WorkoutRecord) tea.Cmd {
	key, title := rec.IdentityKey, workoutLabel(rec)
	return func() tea.Msg {
		if err := a.coord.Enqueue(key); err != nil {
			return refreshQueuedMsg{err: wrapErr("queueing refresh", err)}
		}
		return refreshQueuedMsg{title: title, count: -1}
	}
}

func (a *App) updatePending() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		n, err := a.coord.UpdatePending(ctx)
		if err != nil {
			return refreshQueuedMsg{count: n, err: wrapErr("queueing stale workouts", err)}
		}
		return refreshQueuedMsg{count: n}
	}
}

func (a *App) toggleFavorite(rec *storage.WorkoutRecord) tea.Cmd {
	key, favorite := rec.IdentityKey, !rec.IsFavorite
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		err := retryOperation(ctx, func() error { return a.store.SetFavorite(ctx, key, favorite) })
		return favoriteToggledMsg{key: key, favorite: favorite, err: wrapErr("updating favorite", err)}
	}
}

func (a *App) pollBatch() tea.Cmd {
	return tea.Tick(batchPollInterval, func(time.Time) tea.Msg {
		return batchStatusMsg{status: a.coord.Status()}
	})
}

func (a *App) performSearch(seq int, query string) tea.Cmd {
	inWorkout := a.previousView == ViewWorkout && a.current != nil
	current := a.current
	return func() tea.Msg {
		var (
			results []*search.Result
			err     error
		)
		if inWorkout {
			results, err = a.searcher.SearchInWorkout(current, query)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			results, err = a.searcher.Search(ctx, query, searchLimit)
		}
		if err != nil {
			return errorMsg{err: wrapErr("search", err)}
		}

		items := make([]searchResultItem, 0, len(results))
		for _, r := range results {
			if r.Workout == nil {
				continue
			}
			items = append(items, searchResultItem{result: r})
		}
		return searchResultsMsg{seq: seq, results: items}
	}
}

// retryOperation retries a store write with exponential backoff. Missing
// rows are not retried.
func retryOperation(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := operation()
		if errors.Is(err, storage.ErrNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(3))
	return err
}
