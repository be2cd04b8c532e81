package controller

import (
	"log"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"inboxpilot/models"
	"inboxpilot/utils"
)

type InboxController struct {
	db       *gorm.DB
	provider utils.MailProvider
	logger   *log.Logger
}

func NewInboxController(db *gorm.DB, provider utils.MailProvider, logger *log.Logger) *InboxController {
	return &InboxController{
		db:       db,
		provider: provider,
		logger:   logger,
	}
}

func currentUser(c *fiber.Ctx) *models.User {
	return c.Locals("user").(*models.User)
}

// GetEmails lists the user's messages, newest first, with search, filters and
// pagination.
func (ic *InboxController) GetEmails(c *fiber.Ctx) error {
	user := currentUser(c)

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 100 {
		limit = 50
	}

	query := ic.db.Model(&models.Email{}).Where("user_id = ?", user.ID)

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where(
			"LOWER(subject) LIKE ? OR LOWER(from_address) LIKE ? OR LOWER(body) LIKE ?",
			pattern, pattern, pattern,
		)
	}

	switch c.Query("filter", "all") {
	case "unread":
		query = query.Where("is_read = ?", false)
	case "read":
		query = query.Where("is_read = ?", true)
	}

	if category := c.Query("category"); category != "" && category != "all" {
		query = query.Where("ai_category = ?", category)
	}
	if priority := c.Query("priority"); priority != "" && priority != "all" {
		query = query.Where("ai_priority = ?", priority)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, utils.CodeInternal,
			"Failed to count emails", err)
	}

	var emails []models.Email
	err := query.Order("received_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&emails).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, utils.CodeInternal,
			"Failed to fetch emails", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":     true,
		"items":       emails,
		"count":       len(emails),
		"total_count": total,
		"page":        page,
		"total_pages": utils.TotalPages(total, limit),
	})
}

func (ic *InboxController) GetEmail(c *fiber.Ctx) error {
	user := currentUser(c)

	var email models.Email
	err := ic.db.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&email).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, utils.CodeMessageNotFound,
			"Email not found", nil)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"email":   email,
	})
}

func (ic *InboxController) MarkRead(c *fiber.Ctx) error {
	return ic.setRead(c, true)
}

func (ic *InboxController) MarkUnread(c *fiber.Ctx) error {
	return ic.setRead(c, false)
}

// setRead flips the read flag. Idempotent: repeating the call is a no-op.
func (ic *InboxController) setRead(c *fiber.Ctx, read bool) error {
	user := currentUser(c)

	var email models.Email
	err := ic.db.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&email).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, utils.CodeMessageNotFound,
			"Email not found", nil)
	}

	if email.IsRead != read {
		if err := ic.db.Model(&email).Update("is_read", read).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, utils.CodeInternal,
				"Failed to update email", err)
		}
		email.IsRead = read
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"email":   email,
	})
}

func (ic *InboxController) DeleteEmail(c *fiber.Ctx) error {
	user := currentUser(c)

	var email models.Email
	err := ic.db.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&email).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, utils.CodeMessageNotFound,
			"Email not found", nil)
	}

	if err := ic.db.Delete(&email).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, utils.CodeInternal,
			"Failed to delete email", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"message": "Email deleted",
	})
}

func (ic *InboxController) UnreadCount(c *fiber.Ctx) error {
	user := currentUser(c)

	var count int64
	err := ic.db.Model(&models.Email{}).
		Where("user_id = ? AND is_read = ?", user.ID, false).
		Count(&count).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, utils.CodeInternal,
			"Failed to count unread emails", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":      true,
		"unread_count": count,
	})
}

type sendEmailRequest struct {
	To      string `json:"to" validate:"required"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

func (ic *InboxController) SendEmail(c *fiber.Ctx) error {
	user := currentUser(c)

	var req sendEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, utils.CodeValidationFailed,
			"Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, utils.CodeValidationFailed,
			err.Error(), nil)
	}
	if err := checkmail.ValidateFormat(req.To); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, utils.CodeValidationFailed,
			"Invalid recipient address", err)
	}

	creds, err := utils.CredentialsFor(user)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, utils.CodeInternal,
			"Failed to load credentials", err)
	}

	raw, err := utils.BuildRawMessage(req.To, req.Subject, req.Body, nil)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, utils.CodeInternal,
			"Failed to compose message", err)
	}

	sentID, err := ic.provider.SendRaw(c.Context(), creds, raw, "")
	if err != nil {
		ic.logger.Printf("Send failed for user %d: %v", user.ID, err)
		return utils.ErrorResponse(c, fiber.StatusBadGateway, utils.CodeSendFailed,
			"Failed to send email", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":    true,
		"message_id": sentID,
	})
}

type replyEmailRequest struct {
	ReplyText string `json:"replyText" validate:"required"`
}

// ReplyEmail sends a threaded reply to a stored message. The recipient and
// subject come from the original; In-Reply-To/References keep clients
// threading it correctly.
func (ic *InboxController) ReplyEmail(c *fiber.Ctx) error {
	user := currentUser(c)

	var email models.Email
	err := ic.db.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&email).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, utils.CodeMessageNotFound,
			"Email not found", nil)
	}

	var req replyEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, utils.CodeValidationFailed,
			"Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, utils.CodeValidationFailed,
			err.Error(), nil)
	}

	creds, err := utils.CredentialsFor(user)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, utils.CodeInternal,
			"Failed to load credentials", err)
	}

	raw, err := utils.BuildRawMessage(
		utils.ReplyAddress(email.From),
		utils.ReplySubject(email.Subject),
		req.ReplyText,
		map[string]string{
			"In-Reply-To": email.GmailID,
			"References":  email.GmailID,
		},
	)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, utils.CodeInternal,
			"Failed to compose reply", err)
	}

	sentID, err := ic.provider.SendRaw(c.Context(), creds, raw, email.ThreadID)
	if err != nil {
		ic.logger.Printf("Reply failed for user %d: %v", user.ID, err)
		return utils.ErrorResponse(c, fiber.StatusBadGateway, utils.CodeSendFailed,
			"Failed to send reply", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":    true,
		"message_id": sentID,
		"thread_id":  email.ThreadID,
	})
}
