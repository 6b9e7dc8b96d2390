// Package middleware holds the Fiber middleware chain of the mission service.
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// GatewayAuthMiddleware validates the Bearer token the gateway sends. Paths in
// public (health checks, metrics scrapes) skip the check.
func GatewayAuthMiddleware(expectedToken string, log *logrus.Entry, public ...string) fiber.Handler {
	if expectedToken == "" {
		log.Fatal("❌ GATEWAY_TOKEN is not set, service cannot authenticate gateway")
	}
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}

	return func(c *fiber.Ctx) error {
		if open[c.Path()] {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			log.WithField("path", c.Path()).Warn("🚫 [GATEWAY_AUTH] missing Authorization header")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}

		// Accept "Bearer <token>" or the raw token.
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token != expectedToken {
			log.WithField("path", c.Path()).Warn("❌ [GATEWAY_AUTH] invalid token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}
		return c.Next()
	}
}
