// Package api exposes the workout cache and the refresh coordinator over a
// small JSON HTTP interface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/pders01/fitlist/internal/config"
	"github.com/pders01/fitlist/internal/debuglog"
	"github.com/pders01/fitlist/internal/metrics"
	"github.com/pders01/fitlist/internal/refresh"
	"github.com/pders01/fitlist/internal/search"
	"github.com/pders01/fitlist/internal/storage"
	"github.com/rs/zerolog"
)

type Server struct {
	store    *storage.Store
	coord    *refresh.Coordinator
	searcher search.Searcher
	cfg      config.ServerConfig
	log      zerolog.Logger
}

// NewServer wires the handlers. searcher may be nil, in which case the
// in-memory engine is used.
func NewServer(store *storage.Store, coord *refresh.Coordinator, searcher search.Searcher, cfg config.ServerConfig) *Server {
	if searcher == nil {
		searcher = search.NewEngine(store)
	}
	return &Server{
		store:    store,
		coord:    coord,
		searcher: searcher,
		cfg:      cfg,
		log:      debuglog.WithComponent("api"),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/workouts", s.handleListWorkouts)
		r.Get("/workouts/{key}", s.handleGetWorkout)
		r.Get("/filter-options", s.handleFilterOptions)
		r.Get("/search", s.handleSearch)
		r.Get("/pending-updates", s.handlePendingUpdates)
		r.Get("/status", s.handleStatus)

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(s.cfg.RefreshRateLimit, time.Minute))
			r.Post("/process", s.handleProcess)
			r.Post("/update-pending", s.handleUpdatePending)
			r.Post("/workouts/{key}/refresh", s.handleRefreshWorkout)
			r.Put("/workouts/{key}/favorite", s.handleSetFavorite)
		})
	})

	return r
}

// rateLimit limits mutating requests per client IP. A non-positive limit
// disables it.
func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
		}),
	)
}

// ListenAndServe serves the router until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Address).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Info().Msg("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
