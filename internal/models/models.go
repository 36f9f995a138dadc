package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the top-level isolation boundary (like a Slack workspace).
// Every user, conversation, and message belongs to exactly one tenant.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a person within a tenant.
//
// Why TenantID here?
//   - So every query can be scoped: "give me users WHERE tenant_id = X".
//   - Prevents cross-tenant data leaks at the query level.
type User struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Conversation is a chat room within a tenant — a direct thread or a group.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	IsPrivate bool      `json:"is_private"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationMember is the join table between conversations and users.
// It is the source of truth for fan-out targets: a message in a
// conversation is delivered to exactly this set of users.
type ConversationMember struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Role           string    `json:"role"`
}

// DeliveryState is the lifecycle of a message after persistence.
// Transitions only move forward: pending → delivered → read.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
)

// Message is a single chat message in a conversation.
//
// Why int64 for ID (not UUID)?
//   - Messages are the highest-volume table. bigserial is smaller,
//     index-friendly, and naturally ordered — higher ID = newer message.
//   - That ordering is load-bearing: fan-out delivers messages to each
//     connection in ID order, which is persistence order. The ID doubles
//     as the pagination cursor.
//
// Body is immutable after creation. An edit does not rewrite history
// silently — it sets a new EditedAt revision timestamp, and clients
// re-render from the authoritative record.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	Body           string    `json:"body"`
	// Attachments are opaque references produced by the upload
	// collaborator. The core records them, it never resolves content.
	Attachments   []string      `json:"attachments,omitempty"`
	DeliveryState DeliveryState `json:"delivery_state"`
	CreatedAt     time.Time     `json:"created_at"`
	EditedAt      *time.Time    `json:"edited_at,omitempty"`
}

// PendingDelivery is a durable marker that a message still owes delivery
// to a participant who had zero live connections when fan-out ran.
//
// A row exists for a (message, user) pair if and only if that user was
// fully offline at fan-out time. The retry processor deletes the row on
// successful push, or drops it after the bounded attempt limit — at
// which point the message is still reachable through the ordinary
// history fetch.
type PendingDelivery struct {
	MessageID   int64     `json:"message_id"`
	UserID      uuid.UUID `json:"user_id"`
	Attempts    int       `json:"attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	NextAttempt time.Time `json:"next_attempt"`
}

// MessageRead records that a user has read a message. Persisted so unread
// counts survive a restart; the hot-path counter lives in Redis.
type MessageRead struct {
	MessageID int64     `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// PresenceStatus is a user's derived online/away/offline state. It is
// never independently persisted — it is recomputed from live registry
// membership plus an explicit away signal.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)
