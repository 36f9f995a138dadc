package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/ripple/internal/models"
)

type PendingDeliveryStore struct {
	pool *pgxpool.Pool
}

func NewPendingDeliveryStore(pool *pgxpool.Pool) *PendingDeliveryStore {
	return &PendingDeliveryStore{pool: pool}
}

func (s *PendingDeliveryStore) Enqueue(ctx context.Context, messageID int64, userID uuid.UUID, nextAttempt time.Time) error {
	// ON CONFLICT DO NOTHING: fan-out and a concurrent processor tick may
	// both decide the user is offline; one row per (message, user) is the
	// invariant, so the second insert is a no-op.
	query := `
		INSERT INTO pending_deliveries (message_id, user_id, attempts, enqueued_at, next_attempt)
		VALUES ($1, $2, 0, now(), $3)
		ON CONFLICT (message_id, user_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, messageID, userID, nextAttempt)
	if err != nil {
		return fmt.Errorf("enqueue pending delivery: %w", err)
	}
	return nil
}

func (s *PendingDeliveryStore) Due(ctx context.Context, now time.Time, limit int) ([]models.PendingDelivery, error) {
	// Oldest message first: redelivery to a reconnecting user arrives in
	// the same order the conversation was persisted.
	query := `
		SELECT message_id, user_id, attempts, enqueued_at, next_attempt
		FROM pending_deliveries
		WHERE next_attempt <= $1
		ORDER BY message_id ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due deliveries: %w", err)
	}
	defer rows.Close()

	pending := make([]models.PendingDelivery, 0)
	for rows.Next() {
		var pd models.PendingDelivery
		if err := rows.Scan(&pd.MessageID, &pd.UserID, &pd.Attempts, &pd.EnqueuedAt, &pd.NextAttempt); err != nil {
			return nil, fmt.Errorf("scan pending delivery: %w", err)
		}
		pending = append(pending, pd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending deliveries: %w", err)
	}

	return pending, nil
}

// Claim deletes the record and reports whether this caller got it. The
// DELETE is the atomic step behind "deliver exactly once per record" —
// of two concurrent ticks, exactly one sees an affected row.
func (s *PendingDeliveryStore) Claim(ctx context.Context, messageID int64, userID uuid.UUID) (bool, error) {
	query := `
		DELETE FROM pending_deliveries
		WHERE message_id = $1 AND user_id = $2`

	tag, err := s.pool.Exec(ctx, query, messageID, userID)
	if err != nil {
		return false, fmt.Errorf("claim pending delivery: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PendingDeliveryStore) Bump(ctx context.Context, messageID int64, userID uuid.UUID, nextAttempt time.Time) (int, error) {
	query := `
		UPDATE pending_deliveries
		SET attempts = attempts + 1, next_attempt = $3
		WHERE message_id = $1 AND user_id = $2
		RETURNING attempts`

	var attempts int
	err := s.pool.QueryRow(ctx, query, messageID, userID, nextAttempt).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("bump pending delivery: %w", err)
	}
	return attempts, nil
}

func (s *PendingDeliveryStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.PendingDelivery, error) {
	query := `
		SELECT message_id, user_id, attempts, enqueued_at, next_attempt
		FROM pending_deliveries
		WHERE user_id = $1
		ORDER BY message_id ASC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list user deliveries: %w", err)
	}
	defer rows.Close()

	pending := make([]models.PendingDelivery, 0)
	for rows.Next() {
		var pd models.PendingDelivery
		if err := rows.Scan(&pd.MessageID, &pd.UserID, &pd.Attempts, &pd.EnqueuedAt, &pd.NextAttempt); err != nil {
			return nil, fmt.Errorf("scan pending delivery: %w", err)
		}
		pending = append(pending, pd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user deliveries: %w", err)
	}

	return pending, nil
}
