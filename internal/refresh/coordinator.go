// Package refresh serialises workout re-fetches through a single worker that
// never dispatches to the scraper faster than the configured floor.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pders01/fitlist/internal/config"
	"github.com/pders01/fitlist/internal/debuglog"
	"github.com/pders01/fitlist/internal/metrics"
	"github.com/pders01/fitlist/internal/scrape"
	"github.com/pders01/fitlist/internal/storage"
	"github.com/pders01/fitlist/internal/validation"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrQueueFull is returned when the bounded queue cannot take another key.
var ErrQueueFull = errors.New("refresh queue is full")

// maxRetryPause caps how long a Retry-After header can stall the worker.
const maxRetryPause = 5 * time.Minute

// State is the refresh state of one identity key.
type State int

const (
	Idle State = iota
	Queued
	Fetching
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Fetching:
		return "fetching"
	default:
		return "idle"
	}
}

// Scraper fetches one workout page.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*scrape.PartialRecord, error)
}

// Store is the part of the cache the coordinator writes to.
type Store interface {
	Get(ctx context.Context, key string) (*storage.WorkoutRecord, error)
	FindByURL(ctx context.Context, url string) (*storage.WorkoutRecord, error)
	Upsert(ctx context.Context, r *storage.WorkoutRecord) error
	Supersede(ctx context.Context, r *storage.WorkoutRecord) ([]string, error)
	MarkStale(ctx context.Context, key string) error
	PendingUpdates(ctx context.Context) ([]storage.PendingEntry, error)
}

// Listener is notified after every successful refresh. RecordRemoved is
// called for each row the store deleted because the refreshed record
// superseded it.
type Listener interface {
	RecordUpdated(ctx context.Context, rec *storage.WorkoutRecord)
	RecordRemoved(ctx context.Context, key string)
}

type job struct {
	key   string
	url   string
	force bool
}

type Coordinator struct {
	store        Store
	scraper      Scraper
	limiter      *rate.Limiter
	minDelay     time.Duration
	fetchTimeout time.Duration
	urlValidator *validation.WorkoutURLValidator
	queue        chan job
	log          zerolog.Logger

	mu        sync.Mutex
	states    map[string]State
	pending   int
	idle      chan struct{}
	batch     *BatchStatus
	listeners []Listener

	// worker-owned
	lastDispatch time.Time
	pauseUntil   time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCoordinator(store Store, scraper Scraper, cfg *config.Config) *Coordinator {
	minDelay := cfg.Scraper.MinRequestDelay
	limit := rate.Inf
	if minDelay > 0 {
		limit = rate.Every(minDelay)
	}
	idle := make(chan struct{})
	close(idle)

	return &Coordinator{
		store:        store,
		scraper:      scraper,
		limiter:      rate.NewLimiter(limit, 1),
		minDelay:     minDelay,
		fetchTimeout: cfg.Scraper.FetchTimeout,
		urlValidator: validation.NewWorkoutURLValidator(),
		queue:        make(chan job, cfg.Scraper.QueueSize),
		log:          debuglog.WithComponent("refresh"),
		states:       make(map[string]State),
		idle:         idle,
		batch:        &BatchStatus{},
	}
}

// SetPermissiveValidation accepts any host, including local test servers.
func (c *Coordinator) SetPermissiveValidation(permissive bool) {
	if permissive {
		c.urlValidator = validation.NewPermissiveWorkoutURLValidator()
	} else {
		c.urlValidator = validation.NewWorkoutURLValidator()
	}
}

func (c *Coordinator) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// State reports the refresh state of key.
func (c *Coordinator) State(key string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[key]
}

// Enqueue schedules a forced refresh of an existing record. It never blocks:
// a key already queued or fetching is coalesced, and a full queue returns
// ErrQueueFull.
func (c *Coordinator) Enqueue(key string) error {
	_, err := c.enqueue(job{key: key, force: true})
	return err
}

// enqueue reports whether the job was added (false when coalesced).
func (c *Coordinator) enqueue(j job) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.states[j.key] != Idle {
		metrics.IncRefresh("coalesced")
		return false, nil
	}

	select {
	case c.queue <- j:
	default:
		metrics.IncRefresh("rejected")
		return false, ErrQueueFull
	}

	c.states[j.key] = Queued
	if c.pending == 0 {
		c.idle = make(chan struct{})
	}
	c.pending++
	c.batchForNewWorkLocked()
	c.batch.Total++
	metrics.SetQueueDepth(len(c.queue))
	return true, nil
}

// SubmitResult counts what Submit did with each URL.
type SubmitResult struct {
	BatchID   string `json:"batch_id"`
	Queued    int    `json:"queued"`
	Cached    int    `json:"cached"`
	Coalesced int    `json:"coalesced"`
	Invalid   int    `json:"invalid"`
}

// Submit validates urls and queues the ones that need fetching. Without
// force, a URL whose record is consistent and has a playlist is reported as
// cached and never reaches the scraper. Invalid URLs are recorded as batch
// errors. If the queue fills up, the remaining URLs are dropped and
// ErrQueueFull is returned alongside the partial result.
func (c *Coordinator) Submit(ctx context.Context, urls []string, force bool) (*SubmitResult, error) {
	res := &SubmitResult{}

	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		normalized, err := c.urlValidator.ValidateAndNormalize(raw)
		if err != nil {
			res.Invalid++
			c.recordImmediate(raw, "", nil, fmt.Errorf("invalid workout URL: %w", err))
			continue
		}
		url := validation.StripQuery(raw)
		if !strings.Contains(url, "://") {
			url = normalized
		}

		existing, err := c.store.FindByURL(ctx, url)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return res, fmt.Errorf("looking up %s: %w", url, err)
		}

		if !force && existing.IsConsistent() && len(existing.Songs) > 0 {
			res.Cached++
			metrics.IncRefresh("cached")
			c.recordImmediate(url, existing.IdentityKey, &Result{
				Status:  StatusCached,
				Songs:   len(existing.Songs),
				Message: "Found in cache",
			}, nil)
			continue
		}

		key := validation.IdentityKey(url)
		if existing != nil {
			key = existing.IdentityKey
		}

		added, err := c.enqueue(job{key: key, url: url, force: force})
		if err != nil {
			return res, err
		}
		if added {
			res.Queued++
		} else {
			res.Coalesced++
		}
	}

	res.BatchID = c.Status().ID
	return res, nil
}

// UpdatePending queues every stale record that has a URL.
func (c *Coordinator) UpdatePending(ctx context.Context) (int, error) {
	entries, err := c.store.PendingUpdates(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending updates: %w", err)
	}
	queued := 0
	for _, e := range entries {
		added, err := c.enqueue(job{key: e.IdentityKey, url: e.URL, force: true})
		if err != nil {
			return queued, err
		}
		if added {
			queued++
		}
	}
	return queued, nil
}

// Start runs the worker in the background until Stop or ctx cancellation.
func (c *Coordinator) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.done != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = c.Run(ctx)
	}(c.done)
}

// Stop cancels the worker and waits for it to exit. An in-flight fetch is
// cancelled through its context.
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run drains the queue until ctx is cancelled. Only one Run may be active.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Debug().Dur("min_delay", c.minDelay).Int("queue_size", cap(c.queue)).Msg("refresh worker started")
	defer c.log.Debug().Msg("refresh worker stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-c.queue:
			metrics.SetQueueDepth(len(c.queue))
			c.process(ctx, j)
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
}

// WaitIdle blocks until nothing is queued or fetching.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitTurn enforces the dispatch floor and returns the dispatch time. The
// limiter schedules on its own reservation clock, so the gap is re-checked
// against the previous dispatch, and a server-requested pause is honoured on
// top. Callers must invoke the scraper immediately afterwards.
func (c *Coordinator) waitTurn(ctx context.Context) (time.Time, error) {
	start := time.Now()
	defer func() { metrics.ObserveRefreshWait(time.Since(start)) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return time.Time{}, err
	}

	wait := time.Until(c.pauseUntil)
	if !c.lastDispatch.IsZero() {
		if gap := c.minDelay - time.Since(c.lastDispatch); gap > wait {
			wait = gap
		}
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		}
	}
	c.lastDispatch = time.Now()
	return c.lastDispatch, nil
}

// process resolves the job against the store, waits for its turn and
// scrapes. Store reads happen before the wait so their latency never eats
// into the gap between scraper calls.
func (c *Coordinator) process(ctx context.Context, j job) {
	existing, err := c.store.Get(ctx, j.key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.finish(j, nil, fmt.Errorf("loading %s: %w", j.key, err))
		return
	}
	url := j.url
	if url == "" && existing != nil {
		url = existing.URL()
	}
	if url == "" {
		c.finish(j, nil, fmt.Errorf("no URL known for %s", j.key))
		return
	}
	j.url = url

	dispatchedAt, err := c.waitTurn(ctx)
	if err != nil {
		c.finish(j, nil, err)
		return
	}

	c.mu.Lock()
	c.states[j.key] = Fetching
	c.batch.CurrentURL = url
	c.mu.Unlock()
	metrics.IncRefresh("dispatched")

	fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	partial, scrapeErr := c.scraper.Scrape(fctx, url)
	cancel()

	if scrapeErr != nil {
		c.handleFailure(ctx, j, existing, scrapeErr)
		c.finish(j, &Result{DispatchedAt: dispatchedAt}, scrapeErr)
		return
	}

	rec := partial.ToRecord()
	if existing != nil {
		if existing.OriginalURL != "" {
			rec.OriginalURL = existing.OriginalURL
		}
		rec.IsFavorite = existing.IsFavorite
	}
	removed, err := c.store.Supersede(ctx, rec)
	if err != nil {
		metrics.IncStorageError("upsert")
		c.finish(j, &Result{DispatchedAt: dispatchedAt}, err)
		return
	}

	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l.RecordUpdated(ctx, rec)
		for _, key := range removed {
			l.RecordRemoved(ctx, key)
		}
	}

	verb := "Scraped"
	if j.force {
		verb = "Refreshed"
	}
	c.log.Info().Str("url", url).Str("key", rec.IdentityKey).Int("songs", len(rec.Songs)).Bool("stale", rec.NeedsUpdate).Msg("workout refreshed")
	c.finish(j, &Result{
		Key:          rec.IdentityKey,
		Status:       StatusSuccess,
		Songs:        len(rec.Songs),
		Message:      fmt.Sprintf("%s %d songs", verb, len(rec.Songs)),
		DispatchedAt: dispatchedAt,
	}, nil)
}

// handleFailure keeps existing data and marks it stale. A URL that has
// never been scraped gets a stub row so it shows up as pending.
func (c *Coordinator) handleFailure(ctx context.Context, j job, existing *storage.WorkoutRecord, scrapeErr error) {
	if retry, ok := scrape.RetryAfter(scrapeErr); ok {
		c.pauseUntil = time.Now().Add(min(retry, maxRetryPause))
		c.log.Warn().Dur("retry_after", retry).Msg("rate limited, pausing dispatch")
	}

	if existing != nil {
		if err := c.store.MarkStale(ctx, existing.IdentityKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			c.log.Error().Err(err).Str("key", existing.IdentityKey).Msg("failed to mark record stale")
		}
		return
	}

	stub := &storage.WorkoutRecord{OriginalURL: j.url, NeedsUpdate: true}
	if err := c.store.Upsert(ctx, stub); err != nil {
		metrics.IncStorageError("upsert")
		c.log.Error().Err(err).Str("url", j.url).Msg("failed to store stub record")
	}
}

// finish returns the key to Idle and records the outcome in the batch.
func (c *Coordinator) finish(j job, res *Result, err error) {
	if err != nil {
		c.log.Warn().Err(err).Str("url", j.url).Str("key", j.key).Msg("refresh failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.states, j.key)
	c.recordLocked(j.url, j.key, res, err)
	c.batch.CurrentURL = ""

	c.pending--
	if c.pending == 0 {
		c.batch.Processing = false
		c.batch.FinishedAt = time.Now()
		close(c.idle)
	}
}

// recordImmediate records an outcome decided without touching the queue.
func (c *Coordinator) recordImmediate(url, key string, res *Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.batchForNewWorkLocked()
	c.batch.Total++
	c.recordLocked(url, key, res, err)
	if c.pending == 0 {
		c.batch.Processing = false
		c.batch.FinishedAt = time.Now()
	}
}
