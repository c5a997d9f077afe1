package server

import (
	"github.com/labstack/echo/v4"

	"github.com/easyclase/liveclass/internal/application/config"
	"github.com/easyclase/liveclass/internal/infra/ports/http/handlers"
	"github.com/easyclase/liveclass/internal/infra/ports/http/middleware"
)

func New(
	cfg *config.Config,
	lessonHandler *handlers.LessonHandler,
	iceHandler *handlers.IceHandler,
	wsHandler *handlers.WebSocketHandler,
) *echo.Echo {
	e := echo.New()

	e.HideBanner = true

	e.Use(middleware.SlogLogger())
	e.Use(middleware.PrometheusMiddleware())

	api := e.Group("/api")
	{
		v1 := api.Group("/v1")
		v1.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
		{
			v1.GET("/ice", iceHandler.IceServers)

			v1.GET("/ws", wsHandler.Handle)

			v1.GET("/lessons", lessonHandler.ListLessons)
			v1.GET("/lessons/:id", lessonHandler.GetLesson)
			v1.GET("/lessons/:id/window", lessonHandler.JoinWindow)
		}
	}

	return e
}
