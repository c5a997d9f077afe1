package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/easyclase/liveclass/internal/application/config"
	"github.com/easyclase/liveclass/internal/application/constant"
	"github.com/easyclase/liveclass/internal/application/metric"
	"github.com/easyclase/liveclass/internal/infra/adapters/postgres/repository"
	"github.com/easyclase/liveclass/internal/infra/appctx"
	"github.com/easyclase/liveclass/internal/signaling"
	"github.com/easyclase/liveclass/internal/usecase"
)

type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	relayUsecase usecase.RelayUsecase
}

func NewWebSocketHandler(cfg *config.Config, relayUsecase usecase.RelayUsecase) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				// Native clients send no Origin header.
				origin := r.Header.Get("Origin")
				return origin == "" || origin == cfg.Domain
			},
		},
		relayUsecase: relayUsecase,
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	ident, ok := appctx.IdentityFrom(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing identity"})
	}

	lessonID, err := uuid.Parse(c.QueryParam("lesson_id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid lesson_id"})
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("WebSocket upgrade error", slog.Any(constant.Error, err))
		return err
	}
	defer ws.Close()

	metric.IncrementWSActiveConnections()
	defer metric.DecrementWSActiveConnections()

	lesson, err := h.relayUsecase.Join(c.Request().Context(), lessonID, ident, ws)
	if err != nil {
		writeJoinRejection(ws, err)
		return nil
	}
	defer h.relayUsecase.Leave(c.Request().Context(), lessonID, ident.UserID)

	err = ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	if err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-c.Request().Context().Done():
				return
			}
		}
	}()

	for {
		var msg signaling.Message
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("webSocket read error", slog.Any(constant.Error, err))
			}
			return nil
		}

		ws.SetReadDeadline(time.Now().Add(60 * time.Second))

		if err := h.relayUsecase.HandleMessage(c.Request().Context(), lesson, ident, msg); err != nil {
			slog.Error("handle signaling message",
				slog.Any(constant.Error, err),
				slog.String(constant.LessonID, lessonID.String()),
			)
		}
	}
}

func writeJoinRejection(ws *websocket.Conn, err error) {
	payload := map[string]any{"type": constant.Error}

	var denied *usecase.JoinDeniedError
	switch {
	case errors.As(err, &denied):
		payload["message"] = "lesson is not joinable"
		payload["decision"] = denied.Decision
	case errors.Is(err, usecase.ErrAccessDenied):
		payload["message"] = "not a participant of this lesson"
	case errors.Is(err, repository.ErrLessonNotFound):
		payload["message"] = "lesson not found"
	default:
		payload["message"] = "could not join lesson"
	}

	if err := ws.WriteJSON(payload); err != nil {
		slog.Warn("write join rejection", slog.Any(constant.Error, err))
	}
}
