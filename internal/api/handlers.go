package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Harvey-AU/archive-crawler/internal/db"
	"github.com/Harvey-AU/archive-crawler/internal/jobs"
)

// Version is the current API version (can be set via ldflags at build time)
var Version = "0.1.0"

const (
	defaultFailedLimit = 50
	maxFailedLimit     = 500
	healthPingTimeout  = 3 * time.Second
)

// QueueInspector exposes read-only queue views
type QueueInspector interface {
	Stats(ctx context.Context) (*db.QueueStats, error)
	ListFailed(ctx context.Context, limit int) ([]*db.QueueItem, error)
}

// PageCounter reports the size of the archive
type PageCounter interface {
	CountPages(ctx context.Context) (int64, error)
}

// Pinger checks database connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunStater reports the worker pool's lifecycle state
type RunStater interface {
	State() jobs.RunState
}

// Handler holds dependencies for the admin API
type Handler struct {
	Queue QueueInspector
	Pages PageCounter
	DB    Pinger
	Pool  RunStater
}

// NewHandler creates an admin API handler
func NewHandler(queue QueueInspector, pages PageCounter, database Pinger, pool RunStater) *Handler {
	return &Handler{
		Queue: queue,
		Pages: pages,
		DB:    database,
		Pool:  pool,
	}
}

// SetupRoutes registers the admin routes on mux
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/health/db", h.DatabaseHealthCheck)
	mux.HandleFunc("/v1/queue/stats", h.QueueStats)
	mux.HandleFunc("/v1/queue/failed", h.FailedItems)
}

// Router returns the admin routes wrapped in the request ID, logging and rate limit middleware
func (h *Handler) Router(limiter *RateLimiter) http.Handler {
	mux := http.NewServeMux()
	h.SetupRoutes(mux)

	var handler http.Handler = mux
	if limiter != nil {
		handler = limiter.Middleware(handler)
	}
	handler = LoggingMiddleware(handler)
	return RequestIDMiddleware(handler)
}

// HealthCheck reports process liveness and the current run state
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	resp := HealthResponse{Service: "archive-crawler", Version: Version}
	if h.Pool != nil {
		resp.RunState = string(h.Pool.State())
	}
	WriteHealthy(w, r, resp)
}

// DatabaseHealthCheck pings the database
func (h *Handler) DatabaseHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	if h.DB == nil {
		WriteUnhealthy(w, r, "postgresql", errors.New("database connection not configured"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	if err := h.DB.Ping(ctx); err != nil {
		logger := loggerWithRequest(r)
		logger.Warn().Err(err).Msg("Database health check failed")
		WriteUnhealthy(w, r, "postgresql", err)
		return
	}

	WriteHealthy(w, r, HealthResponse{Service: "postgresql"})
}

// QueueStatsResponse is the body of GET /v1/queue/stats
type QueueStatsResponse struct {
	Queue *db.QueueStats `json:"queue"`
	Pages *int64         `json:"pages,omitempty"`
}

// QueueStats returns item counts by status and the archived page count
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}
	if h.Queue == nil {
		ServiceUnavailable(w, r, "Queue not configured")
		return
	}

	stats, err := h.Queue.Stats(r.Context())
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	resp := QueueStatsResponse{Queue: stats}
	if h.Pages != nil {
		count, err := h.Pages.CountPages(r.Context())
		if err != nil {
			DatabaseError(w, r, err)
			return
		}
		resp.Pages = &count
	}

	WriteSuccess(w, r, resp)
}

// FailedItems lists permanently failed queue items with their last error
func (h *Handler) FailedItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}
	if h.Queue == nil {
		ServiceUnavailable(w, r, "Queue not configured")
		return
	}

	limit := defaultFailedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			BadRequest(w, r, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxFailedLimit)
	}

	items, err := h.Queue.ListFailed(r.Context(), limit)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]any{
		"items": items,
		"count": len(items),
		"limit": limit,
	})
}
