package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/pairchat/internal/presence"
)

// PresenceReader is the read side of the presence service.
type PresenceReader interface {
	OnlineUsers() []int64
	GetPresence(userID int64) (presence.Presence, bool)
}

// PresenceHandler handles presence-related HTTP requests
type PresenceHandler struct {
	presenceService PresenceReader
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(presenceService PresenceReader) *PresenceHandler {
	return &PresenceHandler{presenceService: presenceService}
}

// GetPresence returns the ids of users with at least one live session.
func (h *PresenceHandler) GetPresence(c echo.Context) error {
	if h.presenceService == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "presence service not available")
	}

	onlineUsers := h.presenceService.OnlineUsers()
	return c.JSON(http.StatusOK, map[string]any{
		"online_users": onlineUsers,
		"count":        len(onlineUsers),
	})
}

// GetUserPresence returns the presence status for a specific user
func (h *PresenceHandler) GetUserPresence(c echo.Context) error {
	if h.presenceService == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "presence service not available")
	}

	var req UserRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	p, exists := h.presenceService.GetPresence(req.UserID)
	if !exists {
		return c.JSON(http.StatusOK, presence.Presence{UserID: req.UserID, Status: presence.StatusOffline})
	}
	return c.JSON(http.StatusOK, p)
}
