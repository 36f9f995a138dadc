package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/ripple/internal/models"
)

type ConversationStore struct {
	pool *pgxpool.Pool
}

func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

func (s *ConversationStore) Create(ctx context.Context, tenantID uuid.UUID, name string, isPrivate bool) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (id, tenant_id, name, is_private, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, now())
		RETURNING id, tenant_id, name, is_private, created_at`

	var conv models.Conversation
	err := s.pool.QueryRow(ctx, query, tenantID, name, isPrivate).Scan(
		&conv.ID,
		&conv.TenantID,
		&conv.Name,
		&conv.IsPrivate,
		&conv.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return &conv, nil
}

func (s *ConversationStore) GetByID(ctx context.Context, tenantID uuid.UUID, conversationID uuid.UUID) (*models.Conversation, error) {
	query := `
		SELECT id, tenant_id, name, is_private, created_at
		FROM conversations
		WHERE id = $1 AND tenant_id = $2`

	var conv models.Conversation
	err := s.pool.QueryRow(ctx, query, conversationID, tenantID).Scan(
		&conv.ID,
		&conv.TenantID,
		&conv.Name,
		&conv.IsPrivate,
		&conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

func (s *ConversationStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Conversation, error) {
	query := `
		SELECT id, tenant_id, name, is_private, created_at
		FROM conversations
		WHERE tenant_id = $1
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(
			&conv.ID,
			&conv.TenantID,
			&conv.Name,
			&conv.IsPrivate,
			&conv.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return conversations, nil
}
