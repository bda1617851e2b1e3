package tui

import (
	"fmt"
	"strings"

	"github.com/pders01/fitlist/internal/refresh"
)

// StatusKind picks the status bar style.
type StatusKind int

const (
	StatusInfo StatusKind = iota
	StatusSuccess
	StatusWarn
	StatusError
)

// wrapErr prefixes err with the operation that failed; nil stays nil.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Short status messages used across the app.
const (
	MsgSubmitting      = "Submitting…"
	MsgLoadingWorkout  = "Loading workout…"
	MsgNoResults       = "No results"
	MsgNothingPending  = "No stale workouts to refresh"
	MsgFavoriteAdded   = "Added to favorites"
	MsgFavoriteRemoved = "Removed from favorites"
	MsgStaleOnlyOn     = "Showing stale workouts only"
	MsgStaleOnlyOff    = "Showing all workouts"
	MsgNoPlaylist      = "No playlist to open"
)

func MsgResultsCount(n int) string {
	if n == 1 {
		return "1 result"
	}
	return fmt.Sprintf("%d results", n)
}

func MsgRefreshQueued(title string) string {
	return fmt.Sprintf("Queued refresh of '%s'", strings.TrimSpace(title))
}

func MsgPendingQueued(n int) string {
	if n == 1 {
		return "Queued 1 stale workout"
	}
	return fmt.Sprintf("Queued %d stale workouts", n)
}

// MsgSubmitSummary condenses a submit result into one status line.
func MsgSubmitSummary(res *refresh.SubmitResult) string {
	if res == nil {
		return ""
	}
	parts := []string{fmt.Sprintf("Queued %d", res.Queued)}
	if res.Cached > 0 {
		parts = append(parts, fmt.Sprintf("%d cached", res.Cached))
	}
	if res.Coalesced > 0 {
		parts = append(parts, fmt.Sprintf("%d already queued", res.Coalesced))
	}
	if res.Invalid > 0 {
		parts = append(parts, fmt.Sprintf("%d invalid", res.Invalid))
	}
	return strings.Join(parts, " • ")
}

// MsgBatchProgress describes a batch that is still running.
func MsgBatchProgress(st refresh.BatchStatus) string {
	base := fmt.Sprintf("Scraping %d/%d", st.Completed, st.Total)
	if st.CurrentURL != "" {
		base += " • " + truncateMiddle(st.CurrentURL, 60)
	}
	return base
}

// MsgBatchSummary describes a finished batch.
func MsgBatchSummary(st refresh.BatchStatus) string {
	base := fmt.Sprintf("Done: %d updated", len(st.Results))
	if n := len(st.Errors); n > 0 {
		base += fmt.Sprintf(" • %d failed", n)
	}
	return base
}
