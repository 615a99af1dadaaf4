package domain

import (
	"context"
	"time"
)

// Message is a single private chat message between two users.
// IsRead only ever moves from false to true, and only the receiver moves it.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	IsRead     bool      `json:"is_read"`
}

// MessageStore is the durable message contract consumed by the chat engine.
// Implementations must create messages atomically with strictly increasing ids
// and apply MarkRead atomically across the whole id list.
type MessageStore interface {
	CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*Message, error)

	// MarkRead sets is_read for every id in ids whose receiver is receiverID and
	// returns how many rows changed. Ids owned by other receivers are skipped.
	MarkRead(ctx context.Context, ids []int64, receiverID int64) (int64, error)

	// FilterReceived returns the subset of ids whose receiver is receiverID, in
	// ascending order and without duplicates.
	FilterReceived(ctx context.Context, ids []int64, receiverID int64) ([]int64, error)

	UnreadCount(ctx context.Context, senderID, receiverID int64) (int64, error)

	// Conversation returns the most recent messages exchanged between a and b,
	// oldest first.
	Conversation(ctx context.Context, a, b int64, limit int) ([]*Message, error)

	// MarkConversationRead marks every unread message from senderID to
	// receiverID as read.
	MarkConversationRead(ctx context.Context, senderID, receiverID int64) (int64, error)
}
