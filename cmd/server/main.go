package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/recall/recall-backend/internal/api"
	"github.com/recall/recall-backend/internal/auth"
	"github.com/recall/recall-backend/internal/chat"
	"github.com/recall/recall-backend/internal/config"
	"github.com/recall/recall-backend/internal/database"
	"github.com/recall/recall-backend/internal/gateway"
	"github.com/recall/recall-backend/internal/logger"
	"github.com/recall/recall-backend/internal/repository/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	appLogger, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatal("Failed to configure logger:", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		appLogger.Fatal("Failed to connect to database: ", err)
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database); err != nil {
		appLogger.Fatal("Failed to run migrations: ", err)
	}

	conversationRepo := postgres.NewConversationRepository(db.DB)
	turnRepo := postgres.NewTurnRepository(db.DB)
	userRepo := postgres.NewUserRepository(db.DB)

	var completionGateway gateway.Gateway
	if cfg.Backend.TestMode {
		appLogger.Warn("Running with the stub completion gateway; replies are canned")
		completionGateway = &gateway.StubGateway{}
	} else {
		completionGateway, err = gateway.NewOpenAIGateway(gateway.OpenAIConfig{
			APIKey:  cfg.Backend.APIKey,
			BaseURL: cfg.Backend.BaseURL,
			Model:   cfg.Backend.Model,
			Timeout: time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			appLogger.Fatal("Failed to configure completion gateway: ", err)
		}
	}

	window := chat.NewWindowBuilder(turnRepo, cfg.Chat.WindowSize)
	limiter := chat.NewRateLimiter(cfg.Chat.DailyRequestLimit, 24*time.Hour, appLogger)
	compressor := chat.NewCompressor(conversationRepo, turnRepo, completionGateway,
		cfg.Chat.CompressThreshold, cfg.Chat.CompressBatch, appLogger)
	orchestrator := chat.NewOrchestrator(conversationRepo, turnRepo, completionGateway,
		window, limiter, compressor, appLogger)

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "change-me-in-production"
		appLogger.Warn("Using default JWT secret. Set RECALL_JWT_SECRET in production!")
	}
	authService := auth.NewService(userRepo, jwtSecret)

	app := fiber.New(fiber.Config{
		AppName:      "Recall Backend",
		ErrorHandler: fiberErrorHandler,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api.SetupRoutes(app, orchestrator, authService, appLogger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Infof("Recall backend listening on %s", addr)
	if err := app.Listen(addr); err != nil {
		appLogger.Fatal("Failed to start server: ", err)
	}
}

func fiberErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}
