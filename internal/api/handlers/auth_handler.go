package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postqueue/pkg/utils"
)

// TokenLifetime is how long issued operator tokens stay valid.
const TokenLifetime = 30 * 24 * time.Hour

type AuthHandler struct {
	secret string
}

func NewAuthHandler(secret string) *AuthHandler {
	return &AuthHandler{secret: secret}
}

// Me reports who the token belongs to.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"user_id": GetUserID(c),
	})
}

// RefreshToken issues a fresh token for the calling operator.
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	token, err := utils.GenerateToken(h.secret, GetUserID(c), TokenLifetime)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to issue token",
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"token":      token,
		"expires_at": time.Now().Add(TokenLifetime).UTC(),
	})
}
