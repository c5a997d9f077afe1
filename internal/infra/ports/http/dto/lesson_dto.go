package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/easyclase/liveclass/internal/accessgate"
	"github.com/easyclase/liveclass/internal/domain"
)

type LessonResponse struct {
	ID              uuid.UUID `json:"id"`
	TeacherID       uuid.UUID `json:"teacher_id"`
	StudentID       uuid.UUID `json:"student_id"`
	ScheduledStart  time.Time `json:"scheduled_start"`
	DurationMinutes int       `json:"duration_minutes"`
}

func NewLessonResponse(lesson *domain.Lesson) LessonResponse {
	return LessonResponse{
		ID:              lesson.ID,
		TeacherID:       lesson.TeacherID,
		StudentID:       lesson.StudentID,
		ScheduledStart:  lesson.ScheduledStart,
		DurationMinutes: lesson.DurationMinutes,
	}
}

type JoinWindowResponse struct {
	LessonID uuid.UUID               `json:"lesson_id"`
	Decision accessgate.JoinDecision `json:"decision"`
}

type TurnCredentialsResponse struct {
	URLs     []string `json:"urls"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	TTL      int      `json:"ttl"`
}
