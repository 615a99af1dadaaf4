package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/nfrund/pairchat/internal/broker"
	"github.com/nfrund/pairchat/internal/domain"
	"github.com/nfrund/pairchat/internal/room"
	"github.com/nfrund/pairchat/internal/store"
	"golang.org/x/text/unicode/norm"
)

// Fanout is the broker surface used by the chat engine.
type Fanout interface {
	Join(group string, sub broker.Subscriber[Outbound]) error
	Leave(group string, sub broker.Subscriber[Outbound])
	Publish(ctx context.Context, group string, event Outbound) int
}

// Membership is what a session knows about itself when handling events.
type Membership struct {
	User          *domain.User
	RoomGroup     string
	PersonalGroup string
	// PartnerID is the other participant when the room was verified, or 0
	// when the room name was taken from the request as-is.
	PartnerID int64
}

// Limits bounds inbound event payloads. Zero disables a limit.
type Limits struct {
	// MaxMessageLen caps message text in runes.
	MaxMessageLen int
	// MaxReadIDs caps how many distinct ids one read event marks. Ids past
	// the cap are ignored.
	MaxReadIDs int
}

// Dispatcher applies inbound events: it validates them, performs the store
// writes they need and publishes the resulting events.
type Dispatcher struct {
	messages domain.MessageStore
	users    domain.UserDirectory
	fanout   Fanout
	limits   Limits
	logger   *slog.Logger
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(messages domain.MessageStore, users domain.UserDirectory, fanout Fanout, limits Limits, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		messages: messages,
		users:    users,
		fanout:   fanout,
		limits:   limits,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Handle runs one inbound event to completion. A returned error means the
// event was dropped; it is never reported to the client.
func (d *Dispatcher) Handle(ctx context.Context, m Membership, ev Inbound) error {
	switch e := ev.(type) {
	case Typing:
		d.fanout.Publish(ctx, m.RoomGroup, TypingEvent{User: m.User.Username})
		return nil
	case StopTyping:
		d.fanout.Publish(ctx, m.RoomGroup, StopTypingEvent{User: m.User.Username})
		return nil
	case SendMessage:
		return d.sendMessage(ctx, m, e)
	case Read:
		return d.markRead(ctx, m, e)
	case Unknown:
		d.logger.Debug("Ignoring unknown event", "type", e.Type, "user", m.User.ID)
		return nil
	default:
		return fmt.Errorf("unhandled inbound event %T", ev)
	}
}

func (d *Dispatcher) sendMessage(ctx context.Context, m Membership, e SendMessage) error {
	text := norm.NFC.String(strings.TrimSpace(e.Text))
	if text == "" {
		return fmt.Errorf("%w: empty message", domain.ErrValidation)
	}
	if d.limits.MaxMessageLen > 0 && utf8.RuneCountInString(text) > d.limits.MaxMessageLen {
		return fmt.Errorf("%w: message longer than %d characters", domain.ErrValidation, d.limits.MaxMessageLen)
	}
	if m.PartnerID != 0 && e.ReceiverID != m.PartnerID {
		return fmt.Errorf("%w: receiver %d is not in room %s", domain.ErrInvalidRoom, e.ReceiverID, m.RoomGroup)
	}

	receiver, err := d.users.GetUser(ctx, e.ReceiverID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: unknown receiver %d", domain.ErrValidation, e.ReceiverID)
		}
		return fmt.Errorf("resolve receiver: %w", err)
	}

	msg, err := d.messages.CreateMessage(ctx, m.User.ID, receiver.ID, text)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	d.fanout.Publish(ctx, m.RoomGroup, MessageEvent{
		Message:   msg.Content,
		Sender:    m.User.Username,
		SenderID:  m.User.ID,
		MessageID: msg.ID,
	})
	d.fanout.Publish(ctx, room.PersonalGroup(receiver.ID), UnreadUpdateEvent{SenderID: m.User.ID})
	return nil
}

// markRead excludes ids that cannot name a message the reader received
// instead of rejecting the whole event.
func (d *Dispatcher) markRead(ctx context.Context, m Membership, e Read) error {
	ids := store.UniqueIDs(e.MessageIDs)
	if d.limits.MaxReadIDs > 0 && len(ids) > d.limits.MaxReadIDs {
		d.logger.Debug("Truncating read event", "user", m.User.ID, "ids", len(ids), "max", d.limits.MaxReadIDs)
		ids = ids[:d.limits.MaxReadIDs]
	}
	if len(ids) == 0 {
		return nil
	}

	owned, err := d.messages.FilterReceived(ctx, ids, m.User.ID)
	if err != nil {
		return fmt.Errorf("filter received: %w", err)
	}
	if len(owned) == 0 {
		d.logger.Debug("Read receipt names no owned messages", "user", m.User.ID, "ids", len(e.MessageIDs))
		return nil
	}

	if _, err := d.messages.MarkRead(ctx, owned, m.User.ID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	d.fanout.Publish(ctx, m.RoomGroup, ReadReceiptEvent{MessageIDs: owned, ReaderID: m.User.ID})
	return nil
}
