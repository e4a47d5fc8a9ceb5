package middleware

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postqueue/pkg/utils"
)

type AuthMiddleware struct {
	secret       string
	allowedUsers []int64
}

// NewAuthMiddleware checks bearer tokens signed with secret. A non-empty
// allowedUsers restricts access to those operator ids.
func NewAuthMiddleware(secret string, allowedUsers []int64) *AuthMiddleware {
	return &AuthMiddleware{secret: secret, allowedUsers: allowedUsers}
}

func (m *AuthMiddleware) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !ok || tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing bearer token",
			})
		}

		claims, err := utils.ValidateToken(m.secret, tokenString)
		if err != nil {
			slog.Info("token validation failed", "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		userID, err := utils.TokenUserID(claims)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}
		if len(m.allowedUsers) > 0 && !slices.Contains(m.allowedUsers, userID) {
			slog.Warn("access denied", "user_id", userID)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Access denied",
			})
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}
