package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postqueue/internal/models"
	"github.com/maheshrc27/postqueue/internal/repository"
	"github.com/maheshrc27/postqueue/internal/service"
)

type StatsHandler struct {
	s  service.PublicationService
	mr repository.MetricsRepository
}

func NewStatsHandler(s service.PublicationService, mr repository.MetricsRepository) *StatsHandler {
	return &StatsHandler{s: s, mr: mr}
}

func (h *StatsHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.s.Stats(c.Context())
	if err != nil {
		return sendError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

// Metrics lists the daily snapshots of the last ?days (default 7).
func (h *StatsHandler) Metrics(c *fiber.Ctx) error {
	days := c.QueryInt("days", 7)
	if days < 1 || days > 366 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "days must be between 1 and 366",
		})
	}

	since := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -days)
	snapshots, err := h.mr.ListSince(c.Context(), since)
	if err != nil {
		return sendError(c, err)
	}
	if snapshots == nil {
		snapshots = []*models.MetricsSnapshot{}
	}
	return c.Status(fiber.StatusOK).JSON(snapshots)
}
