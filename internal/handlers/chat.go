package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/pairchat/internal/chat"
	"github.com/nfrund/pairchat/internal/domain"
	"github.com/nfrund/pairchat/internal/middleware"
	"github.com/nfrund/pairchat/internal/websocket"
)

// Connector admits a user into a chat room.
type Connector interface {
	Connect(ctx context.Context, user *domain.User, roomName string, accept func() (chat.Transport, error)) (*chat.Session, error)
}

// ChatHandler upgrades /ws/chat/:room to a chat session.
type ChatHandler struct {
	engine Connector
	opts   websocket.Options
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(engine Connector, opts websocket.Options) *ChatHandler {
	return &ChatHandler{engine: engine, opts: opts}
}

// ServeWS authorizes the room before completing the WebSocket handshake and
// then holds the request until the session ends.
func (h *ChatHandler) ServeWS(c echo.Context) error {
	user := middleware.CurrentUser(c)
	roomName := c.Param("room")
	logger := middleware.FromContext(c.Request().Context())

	handshake := false
	sess, err := h.engine.Connect(c.Request().Context(), user, roomName, func() (chat.Transport, error) {
		handshake = true
		conn, err := websocket.Accept(c.Response(), c.Request(), h.opts)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		switch {
		case handshake:
			// The upgrade already wrote its own response.
			logger.Debug("WebSocket handshake failed", "room", roomName, "error", err)
			return nil
		case errors.Is(err, domain.ErrUnauthenticated):
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		case errors.Is(err, domain.ErrInvalidRoom):
			logger.Info("Rejected chat room", "room", roomName, "error", err)
			return echo.NewHTTPError(http.StatusForbidden, "room not available")
		default:
			return internalError(c, "Failed to admit chat session", err)
		}
	}

	<-sess.Done()
	return nil
}
