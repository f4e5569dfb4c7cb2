package chat

import (
	"context"
	"database/sql"
	"slices"
)

// Repository archives relayed chat messages in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Archive(ctx context.Context, msg ChatMessage) error {
	query := `INSERT INTO chat_messages (id, sender_id, sender_name, body, sent_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, msg.ID, msg.SenderID, msg.SenderName, msg.Body, msg.SentAt)
	return err
}

// RecentMessages returns up to limit messages, oldest first.
func (r *Repository) RecentMessages(ctx context.Context, limit int) ([]ChatMessage, error) {
	query := `
		SELECT id, sender_id, sender_name, body, sent_at
		FROM chat_messages
		ORDER BY sent_at DESC, id DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var msg ChatMessage
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.SenderName, &msg.Body, &msg.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}
