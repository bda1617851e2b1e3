package refresh

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	StatusSuccess = "success"
	StatusCached  = "cached"
)

// Result is the outcome of one URL in a batch.
type Result struct {
	URL          string    `json:"url"`
	Key          string    `json:"key,omitempty"`
	Status       string    `json:"status"`
	Songs        int       `json:"songs"`
	Message      string    `json:"message"`
	DispatchedAt time.Time `json:"dispatched_at,omitzero"`
}

type BatchError struct {
	URL   string `json:"url"`
	Key   string `json:"key,omitempty"`
	Error string `json:"error"`
}

// BatchStatus describes the current (or most recent) batch. Work submitted
// while a batch is processing joins it; the next submission after it
// finishes opens a new batch with a fresh ID.
type BatchStatus struct {
	ID         string       `json:"id"`
	Processing bool         `json:"is_processing"`
	CurrentURL string       `json:"current_url"`
	Completed  int          `json:"completed"`
	Total      int          `json:"total"`
	Results    []Result     `json:"results"`
	Errors     []BatchError `json:"errors"`
	StartedAt  time.Time    `json:"started_at,omitzero"`
	FinishedAt time.Time    `json:"finished_at,omitzero"`
}

// Status returns a snapshot of the current batch.
func (c *Coordinator) Status() BatchStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := *c.batch
	s.Results = slices.Clone(c.batch.Results)
	s.Errors = slices.Clone(c.batch.Errors)
	if s.Results == nil {
		s.Results = []Result{}
	}
	if s.Errors == nil {
		s.Errors = []BatchError{}
	}
	return s
}

func (c *Coordinator) batchForNewWorkLocked() {
	if c.batch.Processing {
		return
	}
	c.batch = &BatchStatus{
		ID:         uuid.NewString(),
		Processing: true,
		StartedAt:  time.Now(),
	}
}

func (c *Coordinator) recordLocked(url, key string, res *Result, err error) {
	c.batch.Completed++
	if err != nil {
		c.batch.Errors = append(c.batch.Errors, BatchError{URL: url, Key: key, Error: err.Error()})
		return
	}
	if res == nil {
		return
	}
	r := *res
	r.URL = url
	if r.Key == "" {
		r.Key = key
	}
	c.batch.Results = append(c.batch.Results, r)
}
