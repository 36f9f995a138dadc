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

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

const messageColumns = `id, conversation_id, sender_id, body, attachments, delivery_state, created_at, edited_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Body,
		&msg.Attachments,
		&msg.DeliveryState,
		&msg.CreatedAt,
		&msg.EditedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *MessageStore) Create(ctx context.Context, conversationID uuid.UUID, senderID uuid.UUID, body string, attachments []string) (*models.Message, error) {
	// Messages use bigserial, so Postgres generates the ID. RETURNING
	// gives back the one record fan-out is allowed to ship: the durable
	// identifier and timestamp come from here and nowhere else.
	query := `
		INSERT INTO messages (conversation_id, sender_id, body, attachments, delivery_state, created_at)
		VALUES ($1, $2, $3, $4, 'pending', now())
		RETURNING ` + messageColumns

	if attachments == nil {
		attachments = []string{}
	}
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, conversationID, senderID, body, attachments))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE id = $1`

	msg, err := scanMessage(s.pool.QueryRow(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *MessageStore) ListByConversation(ctx context.Context, conversationID uuid.UUID, before int64, limit int) ([]models.Message, error) {
	// Cursor-based pagination:
	//
	// before=0  → first page (newest messages).
	// before=42 → "give me messages older than ID 42".
	//
	// ORDER BY id DESC, not created_at DESC: the bigserial id is
	// monotonically increasing — same order as time, cheaper to sort on.
	var query string
	var args []any

	if before > 0 {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE conversation_id = $1 AND id < $2
			ORDER BY id DESC
			LIMIT $3`
		args = []any{conversationID, before, limit}
	} else {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE conversation_id = $1
			ORDER BY id DESC
			LIMIT $2`
		args = []any{conversationID, limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

func (s *MessageStore) Edit(ctx context.Context, messageID int64, senderID uuid.UUID, body string) (*models.Message, error) {
	// The sender check lives in the WHERE clause: editing someone else's
	// message matches zero rows, which we report as nil, nil rather than
	// leaking whether the message exists.
	query := `
		UPDATE messages
		SET body = $3, edited_at = now()
		WHERE id = $1 AND sender_id = $2
		RETURNING ` + messageColumns

	msg, err := scanMessage(s.pool.QueryRow(ctx, query, messageID, senderID, body))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("edit message: %w", err)
	}
	return msg, nil
}

func (s *MessageStore) MarkDelivered(ctx context.Context, messageID int64) error {
	// Only advance forward: a message already read must not regress.
	query := `
		UPDATE messages
		SET delivery_state = 'delivered'
		WHERE id = $1 AND delivery_state = 'pending'`

	_, err := s.pool.Exec(ctx, query, messageID)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

func (s *MessageStore) MarkRead(ctx context.Context, messageID int64, userID uuid.UUID) (*models.MessageRead, error) {
	// The receipt insert is idempotent per (message, user); the state
	// update rides along in the same transaction so a crash between the
	// two can't leave them disagreeing.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin mark read: %w", err)
	}
	defer tx.Rollback(ctx)

	receipt := `
		INSERT INTO message_reads (message_id, user_id, read_at)
		VALUES ($1, $2, now())
		ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = message_reads.read_at
		RETURNING message_id, user_id, read_at`

	var mr models.MessageRead
	if err := tx.QueryRow(ctx, receipt, messageID, userID).Scan(&mr.MessageID, &mr.UserID, &mr.ReadAt); err != nil {
		return nil, fmt.Errorf("insert read receipt: %w", err)
	}

	state := `
		UPDATE messages
		SET delivery_state = 'read'
		WHERE id = $1 AND delivery_state <> 'read'`
	if _, err := tx.Exec(ctx, state, messageID); err != nil {
		return nil, fmt.Errorf("advance delivery state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit mark read: %w", err)
	}
	return &mr, nil
}
