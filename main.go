package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"inboxpilot/config"
	"inboxpilot/middleware"
	"inboxpilot/routes"
	"inboxpilot/utils"
	"inboxpilot/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "SERVER: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Error reporting
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	ingestLogger := logrus.New()
	ingestLogger.SetFormatter(&logrus.JSONFormatter{})

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Shared components
	provider := utils.NewGmailClient(config.AppConfig.Google, config.AppConfig.PubSubTopic,
		log.New(os.Stdout, "GMAIL: ", log.Ldate|log.Ltime|log.Lshortfile))
	analyzer := utils.NewAIClient(config.AppConfig.Gemini,
		log.New(os.Stdout, "GEMINI: ", log.Ldate|log.Ltime|log.Lshortfile))
	hub := utils.NewEventHub()
	ingestor := utils.NewIngestor(config.DB, provider, analyzer, hub, ingestLogger)

	// Background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncWorker := worker.NewSyncWorker(config.DB, provider, ingestor)
	go syncWorker.Start(ctx)

	watchWorker := worker.NewWatchWorker(config.DB, provider)
	go watchWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, &routes.Services{
		Provider: provider,
		Analyzer: analyzer,
		Queue:    syncWorker,
		Hub:      hub,
		OAuth:    provider.OAuthConfig(),
	})

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
