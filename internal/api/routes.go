// Package api wires the HTTP front-end.
package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postqueue/internal/api/handlers"
	"github.com/maheshrc27/postqueue/internal/api/middleware"
)

type Handlers struct {
	Auth         *handlers.AuthHandler
	Accounts     *handlers.AccountHandler
	Publications *handlers.PublicationHandler
	Stats        *handlers.StatsHandler
}

// SetupRoutes mounts every endpoint under /api behind the auth middleware.
func SetupRoutes(app *fiber.App, h Handlers, auth *middleware.AuthMiddleware) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	api := app.Group("/api")
	api.Use(auth.AuthMiddleware())

	api.Get("/user/info", h.Auth.Me)
	api.Post("/token/refresh", h.Auth.RefreshToken)

	api.Get("/accounts", h.Accounts.ListAccounts)
	api.Post("/accounts", h.Accounts.AddAccount)
	api.Get("/accounts/:handle", h.Accounts.GetAccount)
	api.Delete("/accounts/:handle", h.Accounts.DeactivateAccount)

	api.Get("/publications", h.Publications.ListPublications)
	api.Post("/publications", h.Publications.CreatePublication)
	api.Get("/publications/:id", h.Publications.GetPublication)
	api.Post("/publications/:id/cancel", h.Publications.CancelPublication)

	api.Get("/stats", h.Stats.Stats)
	api.Get("/metrics", h.Stats.Metrics)
}
