package danmaku

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore keeps danmaku in the danmaku table created by db.AutoMigrate.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, item Item) (Item, error) {
	query := `INSERT INTO danmaku (id, video_id, user_id, content, time_ms, type, color, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.VideoID, item.UserID, item.Content, item.TimeMs, string(item.Type), item.Color, item.CreatedAt)
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

func (s *PostgresStore) List(ctx context.Context, videoID string) ([]Item, error) {
	query := `
		SELECT id, video_id, user_id, content, time_ms, type, color, created_at
		FROM danmaku
		WHERE video_id = $1
		ORDER BY time_ms ASC, created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.VideoID, &it.UserID, &it.Content, &it.TimeMs, &it.Type, &it.Color, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (Item, error) {
	query := `
		DELETE FROM danmaku WHERE id = $1
		RETURNING id, video_id, user_id, content, time_ms, type, color, created_at
	`
	var it Item
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&it.ID, &it.VideoID, &it.UserID, &it.Content, &it.TimeMs, &it.Type, &it.Color, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	return it, nil
}
