package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postqueue/internal/models"
	"github.com/maheshrc27/postqueue/internal/service"
	"github.com/maheshrc27/postqueue/internal/transfer"
)

type AccountHandler struct {
	s service.AccountService
}

func NewAccountHandler(s service.AccountService) *AccountHandler {
	return &AccountHandler{s: s}
}

// AddAccount logs the account in and stores it. When a second factor is needed
// it answers 202 with the offered methods; the caller repeats the request with
// code and method.
func (h *AccountHandler) AddAccount(c *fiber.Ctx) error {
	var req transfer.AccountCreation
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request",
		})
	}

	account, err := h.s.AddAccount(c.Context(), service.AddAccountRequest{
		Handle:   req.Handle,
		Password: req.Password,
		Code:     req.Code,
		Method:   models.VerificationMethod(req.Method),
	})
	if err != nil {
		return sendError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(account)
}

func (h *AccountHandler) ListAccounts(c *fiber.Ctx) error {
	accounts, err := h.s.ListAccounts(c.Context())
	if err != nil {
		return sendError(c, err)
	}
	if accounts == nil {
		accounts = []*models.Account{}
	}
	return c.Status(fiber.StatusOK).JSON(accounts)
}

func (h *AccountHandler) GetAccount(c *fiber.Ctx) error {
	account, err := h.s.GetAccount(c.Context(), c.Params("handle"))
	if err != nil {
		return sendError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(account)
}

func (h *AccountHandler) DeactivateAccount(c *fiber.Ctx) error {
	if err := h.s.Deactivate(c.Context(), c.Params("handle")); err != nil {
		return sendError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
