package controller

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"inboxpilot/models"
	"inboxpilot/utils"
	"inboxpilot/worker"
)

// SyncQueue is the slice of the sync worker the webhook needs.
type SyncQueue interface {
	Enqueue(job worker.SyncJob) bool
}

type WebhookController struct {
	db     *gorm.DB
	queue  SyncQueue
	logger *log.Logger
}

func NewWebhookController(db *gorm.DB, queue SyncQueue, logger *log.Logger) *WebhookController {
	return &WebhookController{
		db:     db,
		queue:  queue,
		logger: logger,
	}
}

// pubSubEnvelope is the push delivery wrapper Pub/Sub POSTs to us.
type pubSubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// gmailNotification is the decoded payload inside the envelope.
type gmailNotification struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// HandleGmailNotification receives Pub/Sub push deliveries. Everything past
// envelope validation acks with 200: a non-2xx makes Pub/Sub redeliver, and
// redelivering a notification for an unknown user or a seen cursor is useless.
func (wc *WebhookController) HandleGmailNotification(c *fiber.Ctx) error {
	var envelope pubSubEnvelope
	if err := c.BodyParser(&envelope); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, utils.CodeValidationFailed,
			"Invalid Pub/Sub envelope", err)
	}
	if envelope.Message.Data == "" || envelope.Message.MessageID == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, utils.CodeValidationFailed,
			"Pub/Sub envelope missing message data", nil)
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, utils.CodeValidationFailed,
			"Message data is not valid base64", err)
	}

	var notification gmailNotification
	if err := json.Unmarshal(decoded, &notification); err != nil || notification.EmailAddress == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, utils.CodeValidationFailed,
			"Message data is not a valid notification", err)
	}
	newHistoryID := notification.HistoryID.String()

	var user models.User
	if err := wc.db.Where("email = ?", notification.EmailAddress).First(&user).Error; err != nil {
		// Ack: notifications can arrive for mailboxes disconnected here.
		wc.logger.Printf("Notification for unknown mailbox %s, ignoring", notification.EmailAddress)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ignored"})
	}

	// Idempotency gate on the Pub/Sub message ID: redeliveries hit the
	// unique index and ack without enqueueing a second sync.
	gate := models.ProcessedNotification{
		NotificationID: envelope.Message.MessageID,
		UserID:         user.ID,
		HistoryID:      newHistoryID,
	}
	result := wc.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "notification_id"}},
		DoNothing: true,
	}).Create(&gate)
	if result.Error != nil {
		wc.logger.Printf("Failed to record notification %s: %v", envelope.Message.MessageID, result.Error)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "error"})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "duplicate"})
	}

	if user.HistoryID == newHistoryID {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "duplicate"})
	}

	if !wc.queue.Enqueue(worker.SyncJob{UserID: user.ID, NewHistoryID: newHistoryID}) {
		// Still ack; the next notification for this user retries the window.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "queue_full"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "accepted"})
}

// Health lets the push subscription's endpoint be probed.
func (wc *WebhookController) Health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
