package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pders01/fitlist/internal/metrics"
	"github.com/pders01/fitlist/internal/refresh"
	"github.com/pders01/fitlist/internal/storage"
)

const (
	defaultSearchLimit = 25
	maxBodyBytes       = 1 << 20
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// storageFailure logs err and answers 404 for a missing row, 500 otherwise.
func (s *Server) storageFailure(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "workout not found")
		return
	}
	s.log.Error().Err(err).Str("op", op).Msg("storage request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parseFilter(r *http.Request) (storage.Filter, error) {
	q := r.URL.Query()
	f := storage.Filter{
		Category:      q.Get("category"),
		Trainer:       q.Get("trainer"),
		Genre:         q.Get("genre"),
		TitleContains: q.Get("q"),
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"min_duration", &f.MinDuration},
		{"max_duration", &f.MaxDuration},
		{"limit", &f.Limit},
	}
	for _, p := range ints {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, errors.New(p.name + " must be a non-negative integer")
		}
		*p.dst = n
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"stale", &f.StaleOnly},
		{"favorites", &f.FavoritesOnly},
	}
	for _, p := range bools {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return f, errors.New(p.name + " must be a boolean")
		}
		*p.dst = b
	}
	return f, nil
}

type workoutsResponse struct {
	Workouts []*storage.WorkoutRecord `json:"workouts"`
	Count    int                      `json:"count"`
}

func (s *Server) handleListWorkouts(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := storage.Collect(s.store.List(r.Context(), f))
	if err != nil {
		s.storageFailure(w, err, "list")
		return
	}
	if recs == nil {
		recs = []*storage.WorkoutRecord{}
	}
	writeJSON(w, http.StatusOK, workoutsResponse{Workouts: recs, Count: len(recs)})
}

func (s *Server) handleGetWorkout(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.storageFailure(w, err, "get")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleFilterOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := s.store.FilterOptions(r.Context())
	if err != nil {
		s.storageFailure(w, err, "filter options")
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	results, err := s.searcher.Search(r.Context(), query, limit)
	if err != nil {
		s.log.Error().Err(err).Str("query", query).Msg("search failed")
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

type processRequest struct {
	URLs         []string `json:"urls"`
	ForceRefresh bool     `json:"force_refresh"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls must not be empty")
		return
	}

	res, err := s.coord.Submit(r.Context(), req.URLs, req.ForceRefresh)
	switch {
	case errors.Is(err, refresh.ErrQueueFull):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error(), "result": res})
	case err != nil:
		s.storageFailure(w, err, "submit")
	default:
		writeJSON(w, http.StatusAccepted, res)
	}
}

func (s *Server) handleRefreshWorkout(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, err := s.store.Get(r.Context(), key); err != nil {
		s.storageFailure(w, err, "get")
		return
	}
	if err := s.coord.Enqueue(key); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"key": key, "state": s.coord.State(key).String()})
}

type favoriteRequest struct {
	Favorite bool `json:"favorite"`
}

func (s *Server) handleSetFavorite(w http.ResponseWriter, r *http.Request) {
	var req favoriteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	key := chi.URLParam(r, "key")
	if err := s.store.SetFavorite(r.Context(), key, req.Favorite); err != nil {
		s.storageFailure(w, err, "set favorite")
		return
	}
	rec, err := s.store.Get(r.Context(), key)
	if err != nil {
		s.storageFailure(w, err, "get")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePendingUpdates(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.PendingUpdates(r.Context())
	if err != nil {
		s.storageFailure(w, err, "pending updates")
		return
	}
	if pending == nil {
		pending = []storage.PendingEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending, "count": len(pending)})
}

func (s *Server) handleUpdatePending(w http.ResponseWriter, r *http.Request) {
	queued, err := s.coord.UpdatePending(r.Context())
	switch {
	case errors.Is(err, refresh.ErrQueueFull):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error(), "queued": queued})
	case err != nil:
		s.storageFailure(w, err, "update pending")
	default:
		writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Status())
}

type healthResponse struct {
	Status string `json:"status"`
	Score  int    `json:"score"`
	*storage.HealthReport
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.Health(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	metrics.RecordCacheRows(report.Rows, report.Stale)

	resp := healthResponse{Status: "ok", Score: report.Score(), HealthReport: report}
	status := http.StatusOK
	if !report.Healthy() {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
