package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/easyclase/liveclass/internal/domain"
)

var ErrLessonNotFound = errors.New("lesson not found")

// LessonRepository reads the booking subsystem's lesson records. This core
// never mutates schedules; Create exists for seeding and tests.
type LessonRepository interface {
	Create(ctx context.Context, lesson *domain.Lesson) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Lesson, error)
	GetByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.Lesson, error)
}

type lessonRepo struct {
	db *sqlx.DB
}

func NewLessonRepo(db *sqlx.DB) LessonRepository {
	return &lessonRepo{db: db}
}

func (r *lessonRepo) Create(ctx context.Context, lesson *domain.Lesson) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO lessons (id, teacher_id, student_id, scheduled_start, duration_minutes)
		 VALUES ($1, $2, $3, $4, $5)`,
		lesson.ID,
		lesson.TeacherID,
		lesson.StudentID,
		lesson.ScheduledStart,
		lesson.DurationMinutes,
	)

	return err
}

func (r *lessonRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Lesson, error) {
	var lesson domain.Lesson

	err := r.db.GetContext(ctx, &lesson, "SELECT * FROM lessons WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}

	return &lesson, nil
}

func (r *lessonRepo) GetByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.Lesson, error) {
	var lessons []*domain.Lesson

	query := `
		SELECT *
		FROM lessons
		WHERE teacher_id = $1 OR student_id = $1
		ORDER BY scheduled_start
	`

	if err := r.db.SelectContext(ctx, &lessons, query, userID); err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}

	return lessons, nil
}
