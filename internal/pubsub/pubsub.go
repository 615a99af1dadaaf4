package pubsub

import (
	"context"
)

// Message is the envelope carried on the internal event bus. Chat fan-out
// mirroring and session lifecycle notifications both travel as Messages.
type Message struct {
	// Topic names the bus channel (e.g. "chat.session.connected").
	Topic string
	// UserID is the acting user, encoded as a decimal string. Empty for
	// system-originated messages.
	UserID string
	// Payload holds the encoded body, usually JSON.
	Payload []byte
	// Metadata carries routing hints such as the target group or origin node.
	Metadata map[string]string
}

// Handler processes one received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages onto the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber receives messages from the bus.
type Subscriber interface {
	// Subscribe registers handler for topic. It returns once the subscription
	// is active; delivery runs until ctx is canceled or the bus is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Bus is both ends of the event bus.
type Bus interface {
	Publisher
	Subscriber
}
