package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"inboxpilot/utils"
)

type AIController struct {
	analyzer utils.Analyzer
	logger   *log.Logger
}

func NewAIController(analyzer utils.Analyzer, logger *log.Logger) *AIController {
	return &AIController{
		analyzer: analyzer,
		logger:   logger,
	}
}

type generateEmailRequest struct {
	Prompt  string `json:"prompt" validate:"required"`
	Tone    string `json:"tone" validate:"omitempty,oneof=professional casual brief"`
	Context string `json:"context"`
}

// GenerateEmail drafts an email body from a natural-language prompt.
func (ac *AIController) GenerateEmail(c *fiber.Ctx) error {
	var req generateEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, utils.CodeValidationFailed,
			"Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, utils.CodeValidationFailed,
			err.Error(), nil)
	}
	if req.Tone == "" {
		req.Tone = "professional"
	}

	draft, err := ac.analyzer.GenerateDraft(c.Context(), req.Prompt, req.Tone, req.Context)
	if err != nil {
		ac.logger.Printf("Draft generation failed: %v", err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, utils.CodeAnalysisFailed,
			"Failed to generate email", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":    true,
		"email_text": draft,
		"tone":       req.Tone,
	})
}
