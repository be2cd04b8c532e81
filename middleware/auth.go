package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"inboxpilot/config"
	"inboxpilot/models"
	"inboxpilot/utils"
)

// ResolveUser attaches the acting account to the request context. A Bearer
// session token selects its account; without one the first connected account
// is used, which keeps single-mailbox deployments zero-config.
func ResolveUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var user models.User

		authHeader := c.Get("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return utils.ErrorResponse(c, fiber.StatusUnauthorized, utils.CodeAuthFailed,
					"Invalid authorization format", nil)
			}

			claims, err := utils.ParseSessionToken(tokenParts[1])
			if err != nil {
				return utils.ErrorResponse(c, fiber.StatusUnauthorized, utils.CodeAuthFailed,
					"Invalid or expired token", nil)
			}

			if err := config.DB.First(&user, claims.UserID).Error; err != nil {
				return utils.ErrorResponse(c, fiber.StatusNotFound, utils.CodeUserNotFound,
					"User not found", nil)
			}
		} else {
			if err := config.DB.Order("id").First(&user).Error; err != nil {
				return utils.ErrorResponse(c, fiber.StatusNotFound, utils.CodeUserNotFound,
					"No connected account", nil)
			}
		}

		c.Locals("user", &user)
		c.Locals("userID", user.ID)
		return c.Next()
	}
}
