package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const userIDKey = "user_id"

// UserContextMiddleware extracts the user identity set by the gateway. Every
// route behind it needs a user, so a missing X-User-ID is rejected.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			Logger(c).WithField("path", c.Path()).Warn("❌ [USER_CTX] X-User-ID missing")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthenticated",
				"message": "missing X-User-ID: request must come through gateway with auth context",
			})
		}
		if len(userID) > 64 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_argument",
				"message": "X-User-ID is too long",
			})
		}

		c.Locals(userIDKey, userID)
		if entry, ok := c.Locals(loggerKey).(*logrus.Entry); ok {
			c.Locals(loggerKey, entry.WithField("user_id", userID))
		}
		return c.Next()
	}
}

// UserID returns the caller set by UserContextMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDKey).(string)
	return id
}
