package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/pairchat/internal/domain"
	"github.com/nfrund/pairchat/internal/middleware"
	"github.com/nfrund/pairchat/internal/room"
)

// DefaultConversationLimit is used when the limit query parameter is absent.
const DefaultConversationLimit = 50

// DirectoryHandler serves the user directory and conversation history.
type DirectoryHandler struct {
	users    domain.UserDirectory
	messages domain.MessageStore
}

// NewDirectoryHandler creates a new DirectoryHandler.
func NewDirectoryHandler(users domain.UserDirectory, messages domain.MessageStore) *DirectoryHandler {
	return &DirectoryHandler{users: users, messages: messages}
}

// bind binds path and query parameters into req and validates it.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid parameters").SetInternal(err)
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid parameters").SetInternal(err)
	}
	return nil
}

func internalError(c echo.Context, msg string, err error) error {
	middleware.FromContext(c.Request().Context()).Error(msg, "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
}

// ListUsers returns every other user with the number of unread messages
// they sent to the caller (GET /api/users).
func (h *DirectoryHandler) ListUsers(c echo.Context) error {
	me := middleware.CurrentUser(c)
	ctx := c.Request().Context()

	users, err := h.users.ListUsers(ctx)
	if err != nil {
		return internalError(c, "Failed to list users", err)
	}

	result := make([]UserSummary, 0, len(users))
	for _, u := range users {
		if u.ID == me.ID {
			continue
		}
		unread, err := h.messages.UnreadCount(ctx, u.ID, me.ID)
		if err != nil {
			return internalError(c, "Failed to count unread messages", err)
		}
		result = append(result, UserSummary{User: u, UnreadCount: unread})
	}
	return c.JSON(http.StatusOK, result)
}

// Conversation returns the partner, the room to connect to and the latest
// messages of the pair (GET /api/conversations/:userID?limit=N). Opening a
// conversation marks everything the partner sent to the caller as read.
func (h *DirectoryHandler) Conversation(c echo.Context) error {
	var req ConversationRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	me := middleware.CurrentUser(c)
	if req.UserID == me.ID {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot open a conversation with yourself")
	}
	if req.Limit == 0 {
		req.Limit = DefaultConversationLimit
	}
	ctx := c.Request().Context()

	partner, err := h.users.GetUser(ctx, req.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	if err != nil {
		return internalError(c, "Failed to load conversation partner", err)
	}

	marked, err := h.messages.MarkConversationRead(ctx, partner.ID, me.ID)
	if err != nil {
		return internalError(c, "Failed to mark conversation read", err)
	}

	msgs, err := h.messages.Conversation(ctx, me.ID, partner.ID, req.Limit)
	if err != nil {
		return internalError(c, "Failed to load conversation", err)
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}

	middleware.FromContext(ctx).Debug("Conversation opened",
		"user", me.ID, "partner", partner.ID, "marked_read", marked, "messages", len(msgs))

	return c.JSON(http.StatusOK, ConversationResponse{
		Partner:  partner,
		RoomName: room.Key(me.ID, partner.ID),
		Messages: msgs,
	})
}

// Unread returns how many messages from senderID the caller has not read
// (GET /api/unread/:senderID).
func (h *DirectoryHandler) Unread(c echo.Context) error {
	var req UnreadRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	me := middleware.CurrentUser(c)

	n, err := h.messages.UnreadCount(c.Request().Context(), req.SenderID, me.ID)
	if err != nil {
		return internalError(c, "Failed to count unread messages", err)
	}
	return c.JSON(http.StatusOK, UnreadResponse{SenderID: req.SenderID, UnreadCount: n})
}
