package lock

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/af-corp/wall-e/internal/httputil"
	"github.com/af-corp/wall-e/internal/telemetry"
)

// Status is the body of GET /{owner}/{repo}/{issue}.
type Status struct {
	Running bool `json:"running"`
}

// Handler serves the lock actor API. Mount it under /locks.
type Handler struct {
	store   Store
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

func NewHandler(store Store, metrics *telemetry.Metrics, logger *slog.Logger) *Handler {
	return &Handler{store: store, metrics: metrics, logger: logger.With("component", "lock-actor")}
}

// Routes returns the chi router for the actor API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, w.Header().Get("X-Request-ID"), "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteMethodNotAllowedError(w, w.Header().Get("X-Request-ID"), "Method Not Allowed")
	})
	r.Get("/{owner}/{repo}/{issue}", h.status)
	r.Post("/{owner}/{repo}/{issue}/start", h.start)
	r.Post("/{owner}/{repo}/{issue}/finish", h.finish)
	return r
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	id, ok := lockID(r)
	if !ok {
		httputil.WriteNotFoundError(w, w.Header().Get("X-Request-ID"), "Not Found")
		return
	}
	acquired, err := h.store.Acquire(r.Context(), id)
	if err != nil {
		h.logger.Error("acquire failed", "lock_id", id, "error", err)
		httputil.WriteInternalError(w, w.Header().Get("X-Request-ID"), "lock store unavailable")
		return
	}
	if !acquired {
		h.metrics.RecordLockConflict("actor")
		httputil.WriteConflictError(w, w.Header().Get("X-Request-ID"), "Already running")
		return
	}
	h.logger.Debug("lock acquired", "lock_id", id)
	httputil.WriteJSON(w, http.StatusOK, Status{Running: true})
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request) {
	id, ok := lockID(r)
	if !ok {
		httputil.WriteNotFoundError(w, w.Header().Get("X-Request-ID"), "Not Found")
		return
	}
	if err := h.store.Release(r.Context(), id); err != nil {
		h.logger.Error("release failed", "lock_id", id, "error", err)
		httputil.WriteInternalError(w, w.Header().Get("X-Request-ID"), "lock store unavailable")
		return
	}
	h.logger.Debug("lock released", "lock_id", id)
	httputil.WriteJSON(w, http.StatusOK, Status{Running: false})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id, ok := lockID(r)
	if !ok {
		httputil.WriteNotFoundError(w, w.Header().Get("X-Request-ID"), "Not Found")
		return
	}
	running, err := h.store.Held(r.Context(), id)
	if err != nil {
		h.logger.Error("status failed", "lock_id", id, "error", err)
		httputil.WriteInternalError(w, w.Header().Get("X-Request-ID"), "lock store unavailable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, Status{Running: running})
}

// lockID rebuilds "owner/repo/issue" from the route. The issue must be a
// positive integer.
func lockID(r *http.Request) (string, bool) {
	owner, err1 := url.PathUnescape(chi.URLParam(r, "owner"))
	repo, err2 := url.PathUnescape(chi.URLParam(r, "repo"))
	if err1 != nil || err2 != nil || owner == "" || repo == "" {
		return "", false
	}
	issue, err := strconv.Atoi(chi.URLParam(r, "issue"))
	if err != nil || issue <= 0 {
		return "", false
	}
	return fmt.Sprintf("%s/%s/%d", owner, repo, issue), true
}
