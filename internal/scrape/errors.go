package scrape

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a scrape failure.
type Kind int

const (
	KindNetwork Kind = iota
	KindParse
	KindNotFound
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindParse:
		return "parse"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is returned by every Scraper and Fetcher operation. All kinds are
// recoverable: callers keep existing data and mark the entry stale.
type Error struct {
	Kind       Kind
	URL        string
	Status     int
	RetryAfter time.Duration // set for KindRateLimited
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("scrape %s: %s", e.URL, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of err, or false when err is not a scrape error.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}

// RetryAfter returns the server-requested backoff of a rate-limited error.
func RetryAfter(err error) (time.Duration, bool) {
	var se *Error
	if errors.As(err, &se) && se.Kind == KindRateLimited {
		return se.RetryAfter, true
	}
	return 0, false
}
