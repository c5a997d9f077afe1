package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/easyclase/liveclass/internal/domain"
)

// ChatRepository is the persistence sink for call chat. The transcript is a
// best-effort log: a failed insert is reported, never fatal to the call.
type ChatRepository interface {
	Save(ctx context.Context, entry domain.ChatEntry) error
	ListByLesson(ctx context.Context, lessonID uuid.UUID) ([]domain.ChatEntry, error)
}

type chatRepo struct {
	db *sqlx.DB
}

func NewChatRepo(db *sqlx.DB) ChatRepository {
	return &chatRepo{db: db}
}

func (r *chatRepo) Save(ctx context.Context, entry domain.ChatEntry) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO chat_messages (id, lesson_id, sender_id, sender_role, text, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		entry.ID,
		entry.LessonID,
		entry.SenderID,
		entry.Role,
		entry.Text,
		entry.SentAt,
	)
	if err != nil {
		return fmt.Errorf("save chat message: %w", err)
	}

	return nil
}

func (r *chatRepo) ListByLesson(ctx context.Context, lessonID uuid.UUID) ([]domain.ChatEntry, error) {
	var entries []domain.ChatEntry

	query := `
		SELECT *
		FROM chat_messages
		WHERE lesson_id = $1
		ORDER BY sent_at
	`

	if err := r.db.SelectContext(ctx, &entries, query, lessonID); err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}

	return entries, nil
}
