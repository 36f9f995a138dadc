package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/ripple/internal/models"
)

type MembershipStore struct {
	pool *pgxpool.Pool
}

func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{pool: pool}
}

func (s *MembershipStore) AddMember(ctx context.Context, conversationID uuid.UUID, userID uuid.UUID, role string) error {
	// ON CONFLICT DO NOTHING: "join conversation" is idempotent. Calling
	// it twice succeeds silently instead of tripping the primary key.
	query := `
		INSERT INTO conversation_members (conversation_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, conversationID, userID, role)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *MembershipStore) RemoveMember(ctx context.Context, conversationID uuid.UUID, userID uuid.UUID) error {
	// DELETE is naturally idempotent: zero rows deleted is not an error.
	query := `
		DELETE FROM conversation_members
		WHERE conversation_id = $1 AND user_id = $2`

	_, err := s.pool.Exec(ctx, query, conversationID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *MembershipStore) ListMembers(ctx context.Context, conversationID uuid.UUID) ([]models.ConversationMember, error) {
	query := `
		SELECT conversation_id, user_id, role
		FROM conversation_members
		WHERE conversation_id = $1`

	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]models.ConversationMember, 0)
	for rows.Next() {
		var m models.ConversationMember
		if err := rows.Scan(&m.ConversationID, &m.UserID, &m.Role); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}

	return members, nil
}

func (s *MembershipStore) ListMemberIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT user_id
		FROM conversation_members
		WHERE conversation_id = $1`

	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member ids: %w", err)
	}

	return ids, nil
}

func (s *MembershipStore) IsMember(ctx context.Context, conversationID uuid.UUID, userID uuid.UUID) (bool, error) {
	// SELECT EXISTS stops at the first match — this runs before every
	// message send, so it has to stay cheap.
	query := `
		SELECT EXISTS (
			SELECT 1 FROM conversation_members
			WHERE conversation_id = $1 AND user_id = $2
		)`

	var exists bool
	err := s.pool.QueryRow(ctx, query, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// ListPeerIDs finds everyone who shares at least one conversation with
// the user. Presence changes fan out to exactly this audience.
func (s *MembershipStore) ListPeerIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT peer.user_id
		FROM conversation_members mine
		JOIN conversation_members peer
		  ON mine.conversation_id = peer.conversation_id
		WHERE mine.user_id = $1 AND peer.user_id <> $1`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list peer ids: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan peer id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peer ids: %w", err)
	}

	return ids, nil
}
