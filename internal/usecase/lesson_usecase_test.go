package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyclase/liveclass/internal/accessgate"
	"github.com/easyclase/liveclass/internal/domain"
	"github.com/easyclase/liveclass/internal/infra/appctx"
)

func TestLessonUsecaseGetLesson(t *testing.T) {
	now := time.Now()
	lesson := &domain.Lesson{
		ID:              uuid.New(),
		TeacherID:       uuid.New(),
		StudentID:       uuid.New(),
		ScheduledStart:  now.Add(time.Hour),
		DurationMinutes: 60,
	}

	repo := &fakeLessonRepo{lessons: map[uuid.UUID]*domain.Lesson{lesson.ID: lesson}}
	u := NewLessonUsecase(repo).(*lessonUsecase)
	u.now = func() time.Time { return now }

	t.Run("participant sees the lesson", func(t *testing.T) {
		got, err := u.GetLesson(context.Background(), lesson.ID, appctx.Identity{
			UserID: lesson.StudentID,
			Role:   domain.RoleStudent,
		})
		require.NoError(t, err)
		assert.Equal(t, lesson.ID, got.ID)
	})

	t.Run("non participant is denied", func(t *testing.T) {
		_, err := u.GetLesson(context.Background(), lesson.ID, appctx.Identity{
			UserID: uuid.New(),
			Role:   domain.RoleStudent,
		})
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("join window reflects the clock", func(t *testing.T) {
		decision, err := u.JoinWindow(context.Background(), lesson.ID, appctx.Identity{
			UserID: lesson.TeacherID,
			Role:   domain.RoleTeacher,
		})
		require.NoError(t, err)
		assert.Equal(t, accessgate.VerdictTooEarly, decision.Verdict)
		assert.Equal(t, 50, decision.MinutesRemaining)
	})
}

func TestLessonUsecaseListForUser(t *testing.T) {
	teacherID := uuid.New()
	mine := &domain.Lesson{ID: uuid.New(), TeacherID: teacherID, StudentID: uuid.New()}
	other := &domain.Lesson{ID: uuid.New(), TeacherID: uuid.New(), StudentID: uuid.New()}

	repo := &fakeLessonRepo{lessons: map[uuid.UUID]*domain.Lesson{mine.ID: mine, other.ID: other}}
	u := NewLessonUsecase(repo)

	lessons, err := u.ListForUser(context.Background(), teacherID)
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, mine.ID, lessons[0].ID)
}
