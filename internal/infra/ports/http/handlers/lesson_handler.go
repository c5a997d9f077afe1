package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/easyclase/liveclass/internal/infra/adapters/postgres/repository"
	"github.com/easyclase/liveclass/internal/infra/appctx"
	"github.com/easyclase/liveclass/internal/infra/ports/http/dto"
	"github.com/easyclase/liveclass/internal/usecase"
)

type LessonHandler struct {
	lessonUsecase usecase.LessonUsecase
}

func NewLessonHandler(lessonUsecase usecase.LessonUsecase) *LessonHandler {
	return &LessonHandler{lessonUsecase: lessonUsecase}
}

func (h *LessonHandler) GetLesson(c echo.Context) error {
	ident, ok := appctx.IdentityFrom(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing identity"})
	}

	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid lesson id"})
	}

	lesson, err := h.lessonUsecase.GetLesson(c.Request().Context(), lessonID, ident)
	switch {
	case errors.Is(err, repository.ErrLessonNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "lesson not found"})
	case errors.Is(err, usecase.ErrAccessDenied):
		return c.JSON(http.StatusForbidden, map[string]string{"error": "not a participant of this lesson"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not load lesson"})
	}

	return c.JSON(http.StatusOK, dto.NewLessonResponse(lesson))
}

// JoinWindow lets clients poll the gate while waiting for the early-join
// window to open.
func (h *LessonHandler) JoinWindow(c echo.Context) error {
	ident, ok := appctx.IdentityFrom(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing identity"})
	}

	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid lesson id"})
	}

	decision, err := h.lessonUsecase.JoinWindow(c.Request().Context(), lessonID, ident)
	switch {
	case errors.Is(err, repository.ErrLessonNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "lesson not found"})
	case errors.Is(err, usecase.ErrAccessDenied):
		return c.JSON(http.StatusForbidden, map[string]string{"error": "not a participant of this lesson"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not evaluate join window"})
	}

	return c.JSON(http.StatusOK, dto.JoinWindowResponse{LessonID: lessonID, Decision: decision})
}

func (h *LessonHandler) ListLessons(c echo.Context) error {
	ident, ok := appctx.IdentityFrom(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing identity"})
	}

	lessons, err := h.lessonUsecase.ListForUser(c.Request().Context(), ident.UserID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not list lessons"})
	}

	out := make([]dto.LessonResponse, 0, len(lessons))
	for _, lesson := range lessons {
		out = append(out, dto.NewLessonResponse(lesson))
	}

	return c.JSON(http.StatusOK, out)
}
