package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Inbound
	}{
		{"typing", `{"type":"typing"}`, Typing{}},
		{"stop typing", `{"type":"stop_typing"}`, StopTyping{}},
		{"message", `{"type":"message","message":"hi","receiver_id":2}`, SendMessage{Text: "hi", ReceiverID: 2}},
		{"read", `{"type":"read","message_ids":[3,4]}`, Read{MessageIDs: []int64{3, 4}}},
		{"read with invalid ids", `{"type":"read","message_ids":[3,0,-1]}`, Read{MessageIDs: []int64{3, 0, -1}}},
		{"unknown tag", `{"type":"wave"}`, Unknown{Type: "wave"}},
		{"missing tag", `{}`, Unknown{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeInbound_Malformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type":"message","receiver_id":2}`,
		`{"type":"message","message":"hi"}`,
		`{"type":"message","message":"hi","receiver_id":0}`,
		`{"type":"message","message":"hi","receiver_id":"2"}`,
		`{"type":"read"}`,
		`{"type":"read","message_ids":[]}`,
		`{"type":"read","message_ids":["1"]}`,
	} {
		_, err := DecodeInbound([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestEncode_WireShapes(t *testing.T) {
	tests := []struct {
		event Outbound
		want  string
	}{
		{TypingEvent{User: "alice"}, `{"type":"typing","user":"alice"}`},
		{StopTypingEvent{User: "alice"}, `{"type":"stop_typing","user":"alice"}`},
		{MessageEvent{Message: "hi", Sender: "alice", SenderID: 1, MessageID: 7},
			`{"type":"message","message":"hi","sender":"alice","sender_id":1,"message_id":7}`},
		{ReadReceiptEvent{MessageIDs: []int64{7, 8}, ReaderID: 2}, `{"type":"read_receipt","message_ids":[7,8],"reader_id":2}`},
		{UnreadUpdateEvent{SenderID: 1}, `{"type":"unread_update","sender_id":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.event.Type(), func(t *testing.T) {
			got, err := Encode(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))

			back, err := DecodeOutbound(got)
			require.NoError(t, err)
			assert.Equal(t, tt.event, back)
		})
	}
}

func TestDecodeOutbound_RejectsUnknown(t *testing.T) {
	_, err := DecodeOutbound([]byte(`{"type":"typing_event"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}
