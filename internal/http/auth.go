package http

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AuthMiddleware requires "Authorization: Bearer <token>" when token is set.
// An empty token leaves the API open.
func AuthMiddleware(token string) fiber.Handler {
	token = strings.TrimSpace(token)
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}
		authz := strings.TrimSpace(c.Get("Authorization"))
		if authz == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "missing authorization",
			})
		}
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "invalid authorization header",
			})
		}
		given := strings.TrimSpace(authz[len("Bearer "):])
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "invalid access token",
			})
		}
		return c.Next()
	}
}
