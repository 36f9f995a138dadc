package ws

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/repository"
	"go.uber.org/zap"
)

// batchSize caps how many pending records one tick examines. A backlog
// larger than this simply spills into the next tick.
const batchSize = 256

// DeliveryProcessor is the push-side retry loop for participants who
// were offline at fan-out time. It is best-effort by design: after the
// bounded attempt limit a record is dropped and the message remains
// reachable through the ordinary history fetch — the queue is never the
// sole source of truth.
type DeliveryProcessor struct {
	pending  repository.PendingDeliveryRepository
	messages repository.MessageRepository
	registry *Registry

	interval    time.Duration
	maxAttempts int

	logger *zap.Logger
}

func NewDeliveryProcessor(
	pending repository.PendingDeliveryRepository,
	messages repository.MessageRepository,
	registry *Registry,
	interval time.Duration,
	maxAttempts int,
	logger *zap.Logger,
) *DeliveryProcessor {
	return &DeliveryProcessor{
		pending:     pending,
		messages:    messages,
		registry:    registry,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Run ticks until ctx is cancelled.
func (d *DeliveryProcessor) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.Tick(ctx, now)
		}
	}
}

// Tick processes one batch of due records. Safe to invoke concurrently
// with fan-out insertions and with itself: Claim is atomic, so a record
// is delivered by whichever caller wins it and nobody else.
func (d *DeliveryProcessor) Tick(ctx context.Context, now time.Time) {
	due, err := d.pending.Due(ctx, now, batchSize)
	if err != nil {
		d.logger.Error("pending delivery scan failed", zap.Error(err))
		return
	}

	for _, pd := range due {
		conns := d.registry.ConnectionsFor(pd.UserID)
		if len(conns) == 0 {
			d.miss(ctx, pd.MessageID, pd.UserID, pd.Attempts, now)
			continue
		}

		// Claim before delivering: delivery and deletion are one atomic
		// step, so a concurrent tick racing this record gets nothing.
		won, err := d.pending.Claim(ctx, pd.MessageID, pd.UserID)
		if err != nil {
			d.logger.Error("pending delivery claim failed",
				zap.Int64("message_id", pd.MessageID), zap.Error(err))
			continue
		}
		if !won {
			continue
		}

		msg, err := d.messages.GetByID(ctx, pd.MessageID)
		if err != nil || msg == nil {
			// Message vanished (or storage hiccuped) after we claimed
			// the record; the fetch path still owns the truth.
			d.logger.Warn("pending delivery without message",
				zap.Int64("message_id", pd.MessageID), zap.Error(err))
			continue
		}

		frame := mustFrame(EventNewMessage, msg)
		for _, conn := range conns {
			conn.Send(frame)
		}
		if err := d.messages.MarkDelivered(ctx, msg.ID); err != nil {
			d.logger.Error("mark delivered failed", zap.Int64("message_id", msg.ID), zap.Error(err))
		}

		d.logger.Debug("pending delivery pushed",
			zap.Int64("message_id", pd.MessageID),
			zap.String("user_id", pd.UserID.String()),
			zap.Int("attempts", pd.Attempts),
		)
	}
}

// miss handles a due record whose user is still offline: bump the
// attempt count, or drop the record once the bound is hit.
func (d *DeliveryProcessor) miss(ctx context.Context, messageID int64, userID uuid.UUID, attempts int, now time.Time) {
	if attempts+1 >= d.maxAttempts {
		if _, err := d.pending.Claim(ctx, messageID, userID); err != nil {
			d.logger.Error("pending delivery drop failed",
				zap.Int64("message_id", messageID), zap.Error(err))
			return
		}
		d.logger.Info("pending delivery exhausted, leaving to fetch path",
			zap.Int64("message_id", messageID),
			zap.String("user_id", userID.String()),
			zap.Int("attempts", attempts+1),
		)
		return
	}

	// Linear growth on the next-attempt time keeps long-offline users
	// from being rescanned every tick.
	next := now.Add(time.Duration(attempts+2) * d.interval)
	if _, err := d.pending.Bump(ctx, messageID, userID, next); err != nil {
		d.logger.Error("pending delivery bump failed",
			zap.Int64("message_id", messageID), zap.Error(err))
	}
}
