package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postqueue/internal/errs"
)

// GetUserID returns the operator id the auth middleware stored on c.
func GetUserID(c *fiber.Ctx) int64 {
	userID, _ := c.Locals("user_id").(int64)
	return userID
}

func statusFor(err error) int {
	var ve *errs.ValidationError
	var le *errs.LoginError
	switch {
	case errors.As(err, &ve):
		return fiber.StatusBadRequest
	case errors.As(err, &le):
		if le.Kind == errs.TooManyAttempts {
			return fiber.StatusTooManyRequests
		}
		if le.Kind == errs.MfaRequired {
			return fiber.StatusAccepted
		}
		return fiber.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrAccountNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, errs.ErrAccountInactive):
		return fiber.StatusGone
	case errors.Is(err, errs.ErrAlreadyFinal), errors.Is(err, errs.ErrPublicationBusy):
		return fiber.StatusConflict
	case errors.Is(err, errs.ErrUnauthorized):
		return fiber.StatusUnauthorized
	}
	return fiber.StatusInternalServerError
}

// sendError writes err as {"error": ...} with the status matching its kind.
// Unclassified errors are logged and hidden from the caller.
func sendError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		slog.Error(msg, "path", c.Path())
		msg = "Internal server error"
	}

	body := fiber.Map{"error": msg}
	var le *errs.LoginError
	if errors.As(err, &le) && len(le.Methods) > 0 {
		body["methods"] = le.Methods
	}
	return c.Status(status).JSON(body)
}
