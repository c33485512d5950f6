package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mcoot/tilerush/internal/api/response"
)

// Pinger checks the backing store
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter reports live sessions
type SessionCounter interface {
	Count() int
}

// HealthHandler reports store connectivity and session load
type HealthHandler struct {
	store    Pinger
	sessions SessionCounter
	logger   *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store Pinger, sessions SessionCounter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, sessions: sessions, logger: logger}
}

// Get handles GET /api/v1/health
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := response.Health{Status: "ok", Store: "ok", Sessions: h.sessions.Count()}
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check: store ping failed", slog.String("error", err.Error()))
		resp.Status = "degraded"
		resp.Store = "unreachable"
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, resp)
}
