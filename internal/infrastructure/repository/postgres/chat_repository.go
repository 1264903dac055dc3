package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

type ChatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// AppendMessage inserts the message at the end of its chat. A zero SequenceNumber is assigned
// as max+1 within the chat.
func (r *ChatRepository) AppendMessage(ctx context.Context, message domain.ConversationMessage) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO chat_messages (id, chat_id, message_type, role, content, sequence_number, tokens_used, created_at)
SELECT $1, $2, $3, $4, $5,
	CASE WHEN $6 > 0 THEN $6 ELSE COALESCE(MAX(sequence_number), 0) + 1 END,
	$7, $8
FROM chat_messages
WHERE chat_id = $2
`, message.ID, message.ChatID, message.MessageType, message.Role, message.Content,
		message.SequenceNumber, nullableInt(message.TokensUsed), message.CreatedAt)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

// ListMessages returns the latest limit messages of a chat in sequence order.
func (r *ChatRepository) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.ConversationMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, chat_id, message_type, role, content, sequence_number, tokens_used, created_at
FROM chat_messages
WHERE chat_id = $1
ORDER BY sequence_number DESC
LIMIT $2
`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ConversationMessage, 0, limit)
	for rows.Next() {
		var msg domain.ConversationMessage
		var tokens sql.NullInt64
		if err := rows.Scan(
			&msg.ID,
			&msg.ChatID,
			&msg.MessageType,
			&msg.Role,
			&msg.Content,
			&msg.SequenceNumber,
			&tokens,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		if tokens.Valid {
			used := int(tokens.Int64)
			msg.TokensUsed = &used
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
