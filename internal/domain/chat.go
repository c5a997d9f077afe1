package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatEntry is one line of the in-call chat transcript. Best-effort log, not
// a durable message store.
type ChatEntry struct {
	ID       uuid.UUID `json:"id" db:"id"`
	LessonID uuid.UUID `json:"lesson_id" db:"lesson_id"`
	SenderID uuid.UUID `json:"sender_id" db:"sender_id"`
	Role     Role      `json:"sender_role" db:"sender_role"`
	Text     string    `json:"text" db:"text"`
	SentAt   time.Time `json:"sent_at" db:"sent_at"`
}

func NewChatEntry(lessonID uuid.UUID, sender Participant, text string) ChatEntry {
	return ChatEntry{
		ID:       uuid.New(),
		LessonID: lessonID,
		SenderID: sender.UserID,
		Role:     sender.Role,
		Text:     text,
		SentAt:   time.Now(),
	}
}
