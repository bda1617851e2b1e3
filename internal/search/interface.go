package search

import (
	"context"

	"github.com/pders01/fitlist/internal/storage"
)

// Searcher defines the minimal search API used by the TUI and the HTTP API.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]*Result, error)
	SearchInWorkout(rec *storage.WorkoutRecord, query string) ([]*Result, error)
}

// Indexer is implemented by engines that maintain an external index and
// want to hear about cache writes. The refresh coordinator accepts it as a
// listener.
type Indexer interface {
	RecordUpdated(ctx context.Context, rec *storage.WorkoutRecord)
	RecordRemoved(ctx context.Context, key string)
}

// DebugStatser provides lightweight stats for visibility/debugging.
// Implemented by engines that can report index doc counts, etc.
type DebugStatser interface {
	DocCount() (int, error)
}
