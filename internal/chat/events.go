package chat

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrMalformed marks inbound frames that cannot be decoded or fail validation.
var ErrMalformed = errors.New("malformed frame")

// Wire type tags.
const (
	TypeTyping       = "typing"
	TypeStopTyping   = "stop_typing"
	TypeMessage      = "message"
	TypeRead         = "read"
	TypeReadReceipt  = "read_receipt"
	TypeUnreadUpdate = "unread_update"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Inbound is a decoded client frame.
type Inbound interface {
	inbound()
}

// Typing signals the sender started typing.
type Typing struct{}

// StopTyping signals the sender stopped typing.
type StopTyping struct{}

// SendMessage asks to persist and broadcast a message.
type SendMessage struct {
	Text       string `json:"message" validate:"required"`
	ReceiverID int64  `json:"receiver_id" validate:"required,gt=0"`
}

// Read marks messages as read by the sender of the frame.
type Read struct {
	MessageIDs []int64 `json:"message_ids" validate:"required,min=1"`
}

// Unknown is any frame whose type tag is not recognized. It is ignored.
type Unknown struct {
	Type string
}

func (Typing) inbound()      {}
func (StopTyping) inbound()  {}
func (SendMessage) inbound() {}
func (Read) inbound()        {}
func (Unknown) inbound()     {}

type envelope struct {
	Type string `json:"type"`
}

// DecodeInbound parses one client frame. Unrecognized tags decode to Unknown;
// unparseable frames and invalid message or read payloads return ErrMalformed.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeTyping:
		return Typing{}, nil
	case TypeStopTyping:
		return StopTyping{}, nil
	case TypeMessage:
		var m SendMessage
		if err := decodeValid(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeRead:
		var r Read
		if err := decodeValid(raw, &r); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}

func decodeValid(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Outbound is an event delivered to sessions through the broker.
type Outbound interface {
	Type() string
}

// TypingEvent tells the room that User is typing.
type TypingEvent struct {
	User string
}

// StopTypingEvent tells the room that User stopped typing.
type StopTypingEvent struct {
	User string
}

// MessageEvent carries a persisted message into the room.
type MessageEvent struct {
	Message   string
	Sender    string
	SenderID  int64
	MessageID int64
}

// ReadReceiptEvent reports which messages ReaderID has read.
type ReadReceiptEvent struct {
	MessageIDs []int64
	ReaderID   int64
}

// UnreadUpdateEvent tells a user that SenderID sent them something new.
type UnreadUpdateEvent struct {
	SenderID int64
}

func (TypingEvent) Type() string       { return TypeTyping }
func (StopTypingEvent) Type() string   { return TypeStopTyping }
func (MessageEvent) Type() string      { return TypeMessage }
func (ReadReceiptEvent) Type() string  { return TypeReadReceipt }
func (UnreadUpdateEvent) Type() string { return TypeUnreadUpdate }

type userFrame struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type messageFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	SenderID  int64  `json:"sender_id"`
	MessageID int64  `json:"message_id"`
}

type readReceiptFrame struct {
	Type       string  `json:"type"`
	MessageIDs []int64 `json:"message_ids"`
	ReaderID   int64   `json:"reader_id"`
}

type unreadFrame struct {
	Type     string `json:"type"`
	SenderID int64  `json:"sender_id"`
}

// Encode serializes an outbound event to its wire frame.
func Encode(e Outbound) ([]byte, error) {
	switch ev := e.(type) {
	case TypingEvent:
		return json.Marshal(userFrame{Type: TypeTyping, User: ev.User})
	case StopTypingEvent:
		return json.Marshal(userFrame{Type: TypeStopTyping, User: ev.User})
	case MessageEvent:
		return json.Marshal(messageFrame{
			Type:      TypeMessage,
			Message:   ev.Message,
			Sender:    ev.Sender,
			SenderID:  ev.SenderID,
			MessageID: ev.MessageID,
		})
	case ReadReceiptEvent:
		ids := ev.MessageIDs
		if ids == nil {
			ids = []int64{}
		}
		return json.Marshal(readReceiptFrame{Type: TypeReadReceipt, MessageIDs: ids, ReaderID: ev.ReaderID})
	case UnreadUpdateEvent:
		return json.Marshal(unreadFrame{Type: TypeUnreadUpdate, SenderID: ev.SenderID})
	default:
		return nil, fmt.Errorf("unknown outbound event %T", e)
	}
}

// DecodeOutbound parses a frame produced by Encode. Brokers use it to
// rebuild events mirrored from other nodes.
func DecodeOutbound(raw []byte) (Outbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Type {
	case TypeTyping, TypeStopTyping:
		var f userFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if env.Type == TypeTyping {
			return TypingEvent{User: f.User}, nil
		}
		return StopTypingEvent{User: f.User}, nil
	case TypeMessage:
		var f messageFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return MessageEvent{Message: f.Message, Sender: f.Sender, SenderID: f.SenderID, MessageID: f.MessageID}, nil
	case TypeReadReceipt:
		var f readReceiptFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return ReadReceiptEvent{MessageIDs: f.MessageIDs, ReaderID: f.ReaderID}, nil
	case TypeUnreadUpdate:
		var f unreadFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return UnreadUpdateEvent{SenderID: f.SenderID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown outbound type %q", ErrMalformed, env.Type)
	}
}
