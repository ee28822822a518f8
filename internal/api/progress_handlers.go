package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-scraper/internal/progress/sinks"
	"github.com/JakeFAU/directory-scraper/internal/storage"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
	historyTimeout  = 3 * time.Second
)

// RunHistory reads persisted run snapshots. GetRun returns an error matching
// storage.ErrNotFound for unknown runs.
type RunHistory interface {
	GetRun(ctx context.Context, id uuid.UUID) (sinks.Snapshot, error)
	ListRuns(ctx context.Context, limit, offset int) ([]sinks.Snapshot, error)
}

// ProgressHandler exposes read-only run progress endpoints.
type ProgressHandler struct {
	tracker *sinks.Tracker
	history RunHistory
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the live tracker and the optional history store.
func NewProgressHandler(tracker *sinks.Tracker, history RunHistory, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		tracker: tracker,
		history: history,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// ListLive handles GET /v1/progress and returns {"runs": [...]}, newest
// first.
func (h *ProgressHandler) ListLive(w http.ResponseWriter, _ *http.Request) {
	if h.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracker unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": h.tracker.List()})
}

// GetLive handles GET /v1/progress/{run_id}.
func (h *ProgressHandler) GetLive(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracker unavailable")
		return
	}
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, ok := h.tracker.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": snap})
}

// ListRuns handles GET /v1/runs?limit=&offset=. It returns 400 for invalid
// paging, 503 without a history store, and 500 when the store fails.
func (h *ProgressHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.history.ListRuns(ctx, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []sinks.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun handles GET /v1/runs/{run_id}.
func (h *ProgressHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	snap, err := h.history.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": snap})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
