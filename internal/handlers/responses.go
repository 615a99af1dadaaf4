package handlers

import (
	"github.com/nfrund/pairchat/internal/domain"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UserSummary is a directory entry as seen by the caller.
type UserSummary struct {
	*domain.User
	UnreadCount int64 `json:"unread_count"`
}

// ConversationResponse is the DTO for a conversation view. RoomName is the
// name clients connect to at /ws/chat/:room.
type ConversationResponse struct {
	Partner  *domain.User      `json:"partner"`
	RoomName string            `json:"room_name"`
	Messages []*domain.Message `json:"messages"`
}

// UnreadResponse reports unread messages from one sender to the caller.
type UnreadResponse struct {
	SenderID    int64 `json:"sender_id"`
	UnreadCount int64 `json:"unread_count"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Sessions int    `json:"sessions"`
}
