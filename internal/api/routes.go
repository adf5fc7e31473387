package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/recall/recall-backend/internal/api/handlers"
	"github.com/recall/recall-backend/internal/api/middleware"
	"github.com/recall/recall-backend/internal/auth"
	"github.com/recall/recall-backend/internal/chat"
)

// SetupRoutes mounts the caller-facing API.
func SetupRoutes(app *fiber.App, orchestrator *chat.Orchestrator, authService *auth.Service, logger *logrus.Logger) {
	app.Use(middleware.RequestLogging(logger))
	app.Use(middleware.Metrics())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")

	authGroup := api.Group("/auth", middleware.AuthRateLimit())
	authGroup.Post("/register", handlers.Register(authService))
	authGroup.Post("/login", handlers.Login(authService))

	conversations := api.Group("/conversations", middleware.AuthRequired(authService))
	conversations.Post("/", handlers.CreateConversation(orchestrator))
	conversations.Get("/", handlers.ListConversations(orchestrator))
	conversations.Get("/:id", handlers.GetConversation(orchestrator))
	conversations.Patch("/:id", handlers.RenameConversation(orchestrator))
	conversations.Delete("/:id", handlers.DeleteConversation(orchestrator))
	conversations.Get("/:id/turns", handlers.ListTurns(orchestrator))
	conversations.Get("/:id/context", handlers.GetContextReport(orchestrator))
	conversations.Post("/:id/messages", handlers.SendMessage(orchestrator))
	conversations.Post("/:id/messages/stream", handlers.StreamMessageSSE(orchestrator))
	conversations.Post("/:id/regenerate", handlers.RegenerateLast(orchestrator))

	conversations.Use("/:id/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	conversations.Get("/:id/stream", websocket.New(handlers.StreamMessageWS(orchestrator)))
}
