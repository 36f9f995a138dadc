package ws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/models"
	"github.com/lalith-99/ripple/internal/repository"
	"go.uber.org/zap"
)

// AttachmentResolver is the narrow interface to the upload collaborator.
// The core only checks that a reference it is asked to record actually
// exists — it never touches content.
type AttachmentResolver interface {
	Resolve(ctx context.Context, ref string) error
}

// NopResolver accepts any non-empty reference. The default until a real
// attachment store is wired in.
type NopResolver struct{}

func (NopResolver) Resolve(_ context.Context, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("empty attachment reference")
	}
	return nil
}

// Router is the server-side send path: validate, persist, fan out,
// hand off to the delivery queue for absent members.
type Router struct {
	registry    *Registry
	members     *MembershipCache
	messages    repository.MessageRepository
	pending     repository.PendingDeliveryRepository
	attachments AttachmentResolver
	status      StatusSink

	// firstRetry is how long after enqueue the delivery processor first
	// considers a pending record due.
	firstRetry time.Duration

	logger *zap.Logger
}

func NewRouter(
	registry *Registry,
	members *MembershipCache,
	messages repository.MessageRepository,
	pending repository.PendingDeliveryRepository,
	attachments AttachmentResolver,
	status StatusSink,
	firstRetry time.Duration,
	logger *zap.Logger,
) *Router {
	return &Router{
		registry:    registry,
		members:     members,
		messages:    messages,
		pending:     pending,
		attachments: attachments,
		status:      status,
		firstRetry:  firstRetry,
		logger:      logger,
	}
}

// Send is the sendMessage contract:
//
//  1. Reject an empty send (no body, no attachments).
//  2. Resolve membership (cache, collaborator on miss).
//  3. Reject a non-member sender.
//  4. Persist — the only source of truth. On failure, abort with no
//     partial fan-out; the error goes to the sender alone.
//  5. Fan out to every live connection of every member, sender
//     included: the sender's own devices reconcile their optimistic
//     copy against the canonical record by id and timestamp.
//  6. Members with zero live connections get a PendingDelivery record;
//     redelivery belongs to the processor, never retried inline.
func (r *Router) Send(ctx context.Context, senderID uuid.UUID, req SendMessagePayload) (*models.Message, error) {
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return nil, fmt.Errorf("%w: message needs a body or attachments", ErrValidation)
	}
	for _, ref := range req.Attachments {
		if err := r.attachments.Resolve(ctx, ref); err != nil {
			return nil, fmt.Errorf("%w: attachment %q: %v", ErrValidation, ref, err)
		}
	}

	memberIDs, err := r.members.Members(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve membership: %v", ErrTransientDelivery, err)
	}
	if !contains(memberIDs, senderID) {
		return nil, fmt.Errorf("%w: user %s in conversation %s", ErrForbidden, senderID, req.ConversationID)
	}

	msg, err := r.messages.Create(ctx, req.ConversationID, senderID, req.Content, req.Attachments)
	if err != nil {
		r.logger.Error("message persist failed",
			zap.String("conversation_id", req.ConversationID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: persist: %v", ErrTransientDelivery, err)
	}

	r.fanOut(ctx, msg, memberIDs)
	return msg, nil
}

// fanOut delivers the canonical record to each member's live
// connections — at most once per connection — and enqueues a pending
// record for fully offline members.
func (r *Router) fanOut(ctx context.Context, msg *models.Message, memberIDs []uuid.UUID) {
	frame := mustFrame(EventNewMessage, msg)

	deliveredAny := false
	for _, memberID := range memberIDs {
		conns := r.registry.ConnectionsFor(memberID)
		if len(conns) == 0 {
			if err := r.pending.Enqueue(ctx, msg.ID, memberID, time.Now().Add(r.firstRetry)); err != nil {
				// Never silently dropped: the failure is loud, and the
				// message stays reachable through the fetch path.
				r.logger.Error("pending delivery enqueue failed",
					zap.Int64("message_id", msg.ID),
					zap.String("user_id", memberID.String()),
					zap.Error(err))
			}
		} else {
			for _, conn := range conns {
				if conn.Send(frame) {
					deliveredAny = true
				}
			}
		}

		if memberID != msg.SenderID {
			r.status.IncrUnread(ctx, memberID, msg.ConversationID)
		}
	}

	if deliveredAny {
		if err := r.messages.MarkDelivered(ctx, msg.ID); err != nil {
			r.logger.Error("mark delivered failed", zap.Int64("message_id", msg.ID), zap.Error(err))
		}
	}
}

// Edit replaces a message body with a new immutable revision timestamp
// and fans the updated record out to live members. No pending records
// for edits — offline members pick the revision up from the fetch path.
func (r *Router) Edit(ctx context.Context, senderID uuid.UUID, req EditMessagePayload) (*models.Message, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: edited body must not be empty", ErrValidation)
	}

	msg, err := r.messages.Edit(ctx, req.MessageID, senderID, req.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: edit: %v", ErrTransientDelivery, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: message %d is not editable by %s", ErrForbidden, req.MessageID, senderID)
	}

	memberIDs, err := r.members.Members(ctx, msg.ConversationID)
	if err != nil {
		return msg, fmt.Errorf("%w: resolve membership: %v", ErrTransientDelivery, err)
	}

	frame := mustFrame(EventMessageEdited, msg)
	r.sendToUsers(memberIDs, frame)
	return msg, nil
}

// MarkRead records a read receipt and propagates it to the other live
// members of the conversation.
func (r *Router) MarkRead(ctx context.Context, userID uuid.UUID, req MarkReadPayload) error {
	msg, err := r.messages.GetByID(ctx, req.MessageID)
	if err != nil {
		return fmt.Errorf("%w: load message: %v", ErrTransientDelivery, err)
	}
	if msg == nil {
		return fmt.Errorf("%w: unknown message %d", ErrValidation, req.MessageID)
	}

	ok, err := r.members.IsMember(ctx, msg.ConversationID, userID)
	if err != nil {
		return fmt.Errorf("%w: resolve membership: %v", ErrTransientDelivery, err)
	}
	if !ok {
		return fmt.Errorf("%w: user %s in conversation %s", ErrForbidden, userID, msg.ConversationID)
	}

	if _, err := r.messages.MarkRead(ctx, req.MessageID, userID); err != nil {
		return fmt.Errorf("%w: mark read: %v", ErrTransientDelivery, err)
	}
	r.status.ClearUnread(ctx, userID, msg.ConversationID)

	memberIDs, err := r.members.Members(ctx, msg.ConversationID)
	if err != nil {
		return nil // receipt persisted; propagation is best-effort
	}
	frame := mustFrame(EventMessageRead, MessageReadPayload{MessageID: req.MessageID, UserID: userID})
	for _, memberID := range memberIDs {
		if memberID == userID {
			continue
		}
		for _, conn := range r.registry.ConnectionsFor(memberID) {
			conn.Send(frame)
		}
	}
	return nil
}

// sendToUsers ships one frame to every live connection of each user.
// Shared by the presence tracker and typing coordinator via the hub.
func (r *Router) sendToUsers(userIDs []uuid.UUID, frame []byte) {
	for _, userID := range userIDs {
		for _, conn := range r.registry.ConnectionsFor(userID) {
			conn.Send(frame)
		}
	}
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
