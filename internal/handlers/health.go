package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/pairchat/internal/middleware"
)

// HealthChecker is implemented by the stores.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SessionCounter reports live chat sessions.
type SessionCounter interface {
	Active() int
}

// HealthHandler serves /health.
type HealthHandler struct {
	store    HealthChecker
	sessions SessionCounter
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(store HealthChecker, sessions SessionCounter) *HealthHandler {
	return &HealthHandler{store: store, sessions: sessions}
}

// Check pings the store. An unreachable store makes the service unhealthy.
func (h *HealthHandler) Check(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Store: "ok"}
	if h.sessions != nil {
		resp.Sessions = h.sessions.Active()
	}
	if err := h.store.HealthCheck(ctx); err != nil {
		middleware.FromContext(ctx).Warn("Health check failed", "error", err)
		resp.Status = "unavailable"
		resp.Store = err.Error()
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
