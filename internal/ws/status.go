package ws

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/models"
)

// StatusSink is the outward-facing status surface the core feeds:
// presence snapshots and unread counters that dashboard widgets query
// without touching the hub's internals. Implementations are best-effort
// — a failed counter update must never fail a message send — so the
// methods return nothing and log their own trouble.
type StatusSink interface {
	SetPresence(ctx context.Context, userID uuid.UUID, status models.PresenceStatus)
	IncrUnread(ctx context.Context, userID, conversationID uuid.UUID)
	ClearUnread(ctx context.Context, userID, conversationID uuid.UUID)
}

// NopStatus satisfies StatusSink for tests and for deployments that
// run without Redis.
type NopStatus struct{}

func (NopStatus) SetPresence(context.Context, uuid.UUID, models.PresenceStatus) {}
func (NopStatus) IncrUnread(context.Context, uuid.UUID, uuid.UUID)              {}
func (NopStatus) ClearUnread(context.Context, uuid.UUID, uuid.UUID)             {}
