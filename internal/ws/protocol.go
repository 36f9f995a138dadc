package ws

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/models"
)

// EventType names one variant of the wire protocol. The set is closed:
// a frame whose type isn't listed here is rejected at the boundary, not
// interpreted structurally.
type EventType string

const (
	// Client → server.
	EventJoinConversation  EventType = "join_conversation"
	EventLeaveConversation EventType = "leave_conversation"
	EventSendMessage       EventType = "send_message"
	EventTypingStart       EventType = "typing_start"
	EventTypingStop        EventType = "typing_stop"
	EventMarkRead          EventType = "mark_read"
	EventEditMessage       EventType = "edit_message"
	EventPing              EventType = "ping"
	EventAway              EventType = "away"
	EventBack              EventType = "back"

	// Server → client.
	EventConnectionEstablished EventType = "connection_established"
	EventAuthError             EventType = "auth_error"
	EventNewMessage            EventType = "new_message"
	EventMessageEdited         EventType = "message_edited"
	EventUserStatusChanged     EventType = "user_status_changed"
	EventMessageRead           EventType = "message_read"
	EventPong                  EventType = "pong"
	EventError                 EventType = "error"
)

// clientEvents is the set the server accepts on its read loop. Note that
// typing_start/typing_stop appear in both directions: a client emits
// them bare, the server rebroadcasts them with the userId filled in.
var clientEvents = map[EventType]bool{
	EventJoinConversation:  true,
	EventLeaveConversation: true,
	EventSendMessage:       true,
	EventTypingStart:       true,
	EventTypingStop:        true,
	EventMarkRead:          true,
	EventEditMessage:       true,
	EventPing:              true,
	EventAway:              true,
	EventBack:              true,
}

// Frame is the JSON envelope every event travels in. Payload stays raw
// until the type tag has been checked, so a bogus frame never gets
// halfway through decoding.
type Frame struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseClientFrame decodes and gates an inbound frame. Unknown or
// server-only event types are errors — clients don't get to speak the
// server's half of the protocol.
func ParseClientFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	if !clientEvents[f.Type] {
		return nil, fmt.Errorf("unsupported client event %q", f.Type)
	}
	return &f, nil
}

// NewFrame marshals a payload into its envelope. A nil payload produces
// a bare frame (pong has no body).
func NewFrame(t EventType, payload any) ([]byte, error) {
	f := Frame{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		f.Payload = raw
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", t, err)
	}
	return data, nil
}

// mustFrame is for server-built frames whose payloads are our own
// structs — a marshal failure there is a programming error.
func mustFrame(t EventType, payload any) []byte {
	data, err := NewFrame(t, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// ---------------------------------------------------------------
// Client → server payloads.
// ---------------------------------------------------------------

type JoinConversationPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type SendMessagePayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Content        string    `json:"content"`
	Attachments    []string  `json:"attachments,omitempty"`
}

type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type MarkReadPayload struct {
	MessageID int64 `json:"messageId"`
}

type EditMessagePayload struct {
	MessageID int64  `json:"messageId"`
	Content   string `json:"content"`
}

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// ---------------------------------------------------------------
// Server → client payloads.
// ---------------------------------------------------------------

type ConnectionEstablishedPayload struct {
	User UserInfo `json:"user"`
}

type UserInfo struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Email    string    `json:"email"`
}

type AuthErrorPayload struct {
	Reason string `json:"reason"`
}

// TypingEventPayload is the rebroadcast form — the server stamps the
// originating user so receivers know who is typing.
type TypingEventPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
}

type UserStatusPayload struct {
	UserID uuid.UUID             `json:"userId"`
	Status models.PresenceStatus `json:"status"`
}

type MessageReadPayload struct {
	MessageID int64     `json:"messageId"`
	UserID    uuid.UUID `json:"userId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
