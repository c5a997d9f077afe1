package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/easyclase/liveclass/internal/accessgate"
	"github.com/easyclase/liveclass/internal/domain"
	"github.com/easyclase/liveclass/internal/infra/adapters/postgres/repository"
	"github.com/easyclase/liveclass/internal/infra/appctx"
)

type LessonUsecase interface {
	// GetLesson returns the lesson only to its own participants.
	GetLesson(ctx context.Context, lessonID uuid.UUID, ident appctx.Identity) (*domain.Lesson, error)

	// JoinWindow evaluates the gate for a poll tick.
	JoinWindow(ctx context.Context, lessonID uuid.UUID, ident appctx.Identity) (accessgate.JoinDecision, error)

	ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Lesson, error)
}

type lessonUsecase struct {
	lessonRepo repository.LessonRepository

	now func() time.Time
}

func NewLessonUsecase(lessonRepo repository.LessonRepository) LessonUsecase {
	return &lessonUsecase{
		lessonRepo: lessonRepo,
		now:        time.Now,
	}
}

func (u *lessonUsecase) GetLesson(ctx context.Context, lessonID uuid.UUID, ident appctx.Identity) (*domain.Lesson, error) {
	lesson, err := u.lessonRepo.GetByID(ctx, lessonID)
	if err != nil {
		return nil, err
	}

	if !accessgate.CanAccess(lesson, ident.UserID, ident.Role) {
		return nil, ErrAccessDenied
	}

	return lesson, nil
}

func (u *lessonUsecase) JoinWindow(ctx context.Context, lessonID uuid.UUID, ident appctx.Identity) (accessgate.JoinDecision, error) {
	lesson, err := u.GetLesson(ctx, lessonID, ident)
	if err != nil {
		return accessgate.JoinDecision{}, err
	}

	return accessgate.CanJoinNow(lesson, u.now()), nil
}

func (u *lessonUsecase) ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Lesson, error) {
	return u.lessonRepo.GetByParticipant(ctx, userID)
}
