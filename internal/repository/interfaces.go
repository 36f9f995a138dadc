package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/models"
)

// Why context.Context as the first parameter on every method?
//
//   - It's idiomatic Go for anything that does I/O (DB, Redis, HTTP).
//   - It carries deadlines: if the caller goes away, the query stops.
//
// Why tenantID appears in most signatures?
//
//   - Multi-tenancy safety. Even if someone guesses a conversation UUID,
//     they can't touch it unless their tenantID matches. The handler
//     extracts tenantID from the JWT and passes it down; the repository
//     never trusts the caller.

// TenantRepository handles workspace records.
type TenantRepository interface {
	Create(ctx context.Context, name string) (*models.Tenant, error)
}

// UserRepository handles user data.
type UserRepository interface {
	Create(ctx context.Context, tenantID uuid.UUID, email, displayName, passwordHash string) (*models.User, error)

	// GetByID returns a user by their ID, scoped to the tenant.
	// Returns nil, nil if not found.
	GetByID(ctx context.Context, tenantID uuid.UUID, userID uuid.UUID) (*models.User, error)

	// GetByEmail looks up a user globally — this is the login path.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// ConversationRepository defines the contract for conversation records.
type ConversationRepository interface {
	Create(ctx context.Context, tenantID uuid.UUID, name string, isPrivate bool) (*models.Conversation, error)

	// GetByID returns a single conversation. Returns nil, nil if not found.
	GetByID(ctx context.Context, tenantID uuid.UUID, conversationID uuid.UUID) (*models.Conversation, error)

	// ListByTenant returns all conversations the tenant has, newest first.
	// Returns empty slice (not nil) so JSON serializes to [] not null.
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Conversation, error)
}

// MembershipRepository is the source of truth for fan-out targets.
// The realtime hub keeps a read-mostly cache in front of it; these
// methods are the cache-miss and invalidation path.
type MembershipRepository interface {
	// AddMember is idempotent — joining twice is a no-op, not an error.
	AddMember(ctx context.Context, conversationID uuid.UUID, userID uuid.UUID, role string) error

	// RemoveMember is idempotent — leaving twice deletes zero rows.
	RemoveMember(ctx context.Context, conversationID uuid.UUID, userID uuid.UUID) error

	ListMembers(ctx context.Context, conversationID uuid.UUID) ([]models.ConversationMember, error)

	// ListMemberIDs returns just the user ids — the shape fan-out wants.
	ListMemberIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)

	// IsMember is the hot-path check before every send and subscribe.
	IsMember(ctx context.Context, conversationID uuid.UUID, userID uuid.UUID) (bool, error)

	// ListPeerIDs returns every user who shares at least one conversation
	// with the given user. This is the presence broadcast audience —
	// presence changes are never broadcast globally.
	ListPeerIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// MessageRepository handles chat message persistence. Create is the
// single source of truth for a message's durable identifier and
// timestamp — fan-out only ever ships what Create returned.
type MessageRepository interface {
	Create(ctx context.Context, conversationID uuid.UUID, senderID uuid.UUID, body string, attachments []string) (*models.Message, error)

	// GetByID returns a message regardless of conversation. Returns
	// nil, nil if not found. Used by the retry processor and edit path.
	GetByID(ctx context.Context, messageID int64) (*models.Message, error)

	// ListByConversation returns messages newest first, cursor-paginated.
	// before=0 means "from the top" (latest).
	ListByConversation(ctx context.Context, conversationID uuid.UUID, before int64, limit int) ([]models.Message, error)

	// Edit replaces the body and stamps a new revision timestamp.
	// Only the original sender may edit; returns nil, nil when the
	// message doesn't exist or belongs to someone else.
	Edit(ctx context.Context, messageID int64, senderID uuid.UUID, body string) (*models.Message, error)

	// MarkDelivered advances pending → delivered. Later states win:
	// a message already marked read stays read.
	MarkDelivered(ctx context.Context, messageID int64) error

	// MarkRead records the per-user read receipt and advances the
	// message's delivery state. Idempotent per (message, user).
	MarkRead(ctx context.Context, messageID int64, userID uuid.UUID) (*models.MessageRead, error)
}

// PendingDeliveryRepository backs the push-retry queue. Claim is the
// linchpin: delivery and deletion of a record are one atomic step, so
// two concurrent processor ticks can never double-deliver a row.
type PendingDeliveryRepository interface {
	// Enqueue records that messageID still owes delivery to userID.
	// Idempotent per (message, user) pair.
	Enqueue(ctx context.Context, messageID int64, userID uuid.UUID, nextAttempt time.Time) error

	// Due returns records whose next-attempt time has passed, oldest
	// message first so redelivery preserves conversation order.
	Due(ctx context.Context, now time.Time, limit int) ([]models.PendingDelivery, error)

	// Claim atomically removes a record and reports whether this caller
	// won it. A false return means another tick already delivered it.
	Claim(ctx context.Context, messageID int64, userID uuid.UUID) (bool, error)

	// Bump increments the attempt count and schedules the next try,
	// returning the new count so the caller can enforce the cap.
	Bump(ctx context.Context, messageID int64, userID uuid.UUID, nextAttempt time.Time) (int, error)

	// ListForUser returns every record still owed to a user — the fast
	// path when that user reconnects.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.PendingDelivery, error)
}
