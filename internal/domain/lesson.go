package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Participant is one side of a lesson: an authenticated user plus the role
// the booking recorded for them.
type Participant struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

// Lesson is the scheduled 1:1 session between a teacher and a student. It is
// owned by the booking subsystem and read-only here.
type Lesson struct {
	ID              uuid.UUID `json:"id" db:"id"`
	TeacherID       uuid.UUID `json:"teacher_id" db:"teacher_id"`
	StudentID       uuid.UUID `json:"student_id" db:"student_id"`
	ScheduledStart  time.Time `json:"scheduled_start" db:"scheduled_start"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

func (l *Lesson) Participants() [2]Participant {
	return [2]Participant{
		{UserID: l.TeacherID, Role: RoleTeacher},
		{UserID: l.StudentID, Role: RoleStudent},
	}
}

func (l *Lesson) Duration() time.Duration {
	return time.Duration(l.DurationMinutes) * time.Minute
}

func (l *Lesson) ScheduledEnd() time.Time {
	return l.ScheduledStart.Add(l.Duration())
}

// PeerOf returns the other participant of the lesson.
func (l *Lesson) PeerOf(userID uuid.UUID) (Participant, bool) {
	switch userID {
	case l.TeacherID:
		return Participant{UserID: l.StudentID, Role: RoleStudent}, true
	case l.StudentID:
		return Participant{UserID: l.TeacherID, Role: RoleTeacher}, true
	default:
		return Participant{}, false
	}
}
