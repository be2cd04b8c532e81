package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	controller "inboxpilot/controllers"
	"inboxpilot/middleware"
	"inboxpilot/utils"
)

// Services bundles the shared components the route handlers depend on.
type Services struct {
	Provider utils.MailProvider
	Analyzer utils.Analyzer
	Queue    controller.SyncQueue
	Hub      *utils.EventHub
	OAuth    *oauth2.Config
}

func SetupAuthRoutes(app *fiber.App, db *gorm.DB, svc *Services) {
	authLogger := log.New(os.Stdout, "AUTH: ", log.Ldate|log.Ltime|log.Lshortfile)

	authController := controller.NewAuthController(db, svc.Provider, svc.OAuth, authLogger)

	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Google OAuth connect flow
	auth.Get("/google", authController.GoogleOAuth)
	auth.Get("/google/callback", authController.GoogleOAuthCallback)

	// Account resolution
	auth.Get("/me", middleware.ResolveUser(), authController.GetCurrentUser)

	authLogger.Println("Authentication routes initialized successfully")
}

func SetupWebhookRoutes(app *fiber.App, db *gorm.DB, svc *Services) {
	webhookLogger := log.New(os.Stdout, "WEBHOOK: ", log.Ldate|log.Ltime|log.Lshortfile)
	webhookController := controller.NewWebhookController(db, svc.Queue, webhookLogger)

	// No auth on the push endpoint: Pub/Sub authenticates at the
	// subscription level, and the handler only trusts what it can verify
	// against stored state.
	webhook := app.Group("/webhook")
	webhook.Post("/gmail", webhookController.HandleGmailNotification)
	webhook.Get("/health", webhookController.Health)

	webhookLogger.Println("Webhook routes initialized successfully")
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, svc *Services) {
	inboxLogger := log.New(os.Stdout, "INBOX: ", log.Ldate|log.Ltime|log.Lshortfile)
	aiLogger := log.New(os.Stdout, "AI: ", log.Ldate|log.Ltime|log.Lshortfile)

	inboxController := controller.NewInboxController(db, svc.Provider, inboxLogger)
	aiController := controller.NewAIController(svc.Analyzer, aiLogger)

	api := app.Group("/api", middleware.ResolveUser(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// WebSocket route for live inbox events. Registered before the
	// parameterized inbox routes so "stream" never parses as a message ID.
	app.Get("/api/inbox/stream", websocket.New(controller.HandleInboxStreamWS(svc.Hub, inboxLogger)))

	// Inbox routes. Static paths are registered before /:id so "stats"
	// never parses as a message ID either.
	inbox := api.Group("/inbox")
	inbox.Get("/", inboxController.GetEmails)
	inbox.Get("/stats/unread", inboxController.UnreadCount)
	inbox.Post("/send", middleware.SendRateLimiter(), inboxController.SendEmail)
	inbox.Get("/:id", inboxController.GetEmail)
	inbox.Post("/:id/read", inboxController.MarkRead)
	inbox.Post("/:id/unread", inboxController.MarkUnread)
	inbox.Delete("/:id", inboxController.DeleteEmail)
	inbox.Post("/reply/:id", middleware.SendRateLimiter(), inboxController.ReplyEmail)

	// AI routes
	ai := api.Group("/ai")
	ai.Post("/generate-email", aiController.GenerateEmail)

	log.Println("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, db *gorm.DB, svc *Services) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupAuthRoutes(app, db, svc)
	SetupWebhookRoutes(app, db, svc)
	SetupAPIRoutes(app, db, svc)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
