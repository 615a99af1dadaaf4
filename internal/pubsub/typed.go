package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Event binds a topic name to its payload type so publishers and
// subscribers cannot disagree on the body.
type Event[T any] struct {
	name string
}

// NewEvent declares a typed topic.
func NewEvent[T any](name string) Event[T] {
	return Event[T]{name: name}
}

// Name returns the topic name.
func (e Event[T]) Name() string {
	return e.name
}

// Publish sends a typed event on behalf of userID (0 for system events).
func Publish[T any](ctx context.Context, p Publisher, event Event[T], userID int64, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.name, err)
	}
	msg := Message{Topic: event.name, Payload: data}
	if userID != 0 {
		msg.UserID = strconv.FormatInt(userID, 10)
	}
	return p.Publish(ctx, msg)
}

// Subscribe registers fn for a typed topic. Payloads that do not decode as T
// are reported as handler errors.
func Subscribe[T any](ctx context.Context, s Subscriber, event Event[T], fn func(context.Context, T) error) error {
	return s.Subscribe(ctx, event.name, func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", event.name, err)
		}
		return fn(ctx, payload)
	})
}
