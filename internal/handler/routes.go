// Package handler exposes the mail engine over HTTP.
package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

// NewApp creates a fiber app whose unhandled errors use ErrorResponse.
// Request values are copied out of the fasthttp buffers; the overlay keeps
// identifiers and folder names past the request.
func NewApp() *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               "mailsync",
		DisableStartupMessage: true,
		Immutable:             true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
		},
	})
}

// SetupRoutes registers every route on app.
func SetupRoutes(app *fiber.App, mail *MailHandler, admin *AdminHandler, logger zerolog.Logger) {
	app.Use(recover.New())
	app.Use(requestLogger(logger))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	api.Get("/folders", mail.ListFolders)
	api.Get("/folders/:folder/messages", mail.FetchMessages)
	api.Get("/folders/:folder/count", mail.CountMessages)

	api.Post("/messages/:id/soft-delete", mail.SoftDelete)
	api.Post("/messages/:id/undelete", mail.Undelete)
	api.Delete("/messages/:id", mail.Remove)
	api.Post("/messages/:id/move", mail.Move)
	api.Post("/messages/:id/favorite", mail.Favorite)
	api.Post("/messages/:id/star", mail.Star)

	api.Post("/send", mail.Send)

	adm := api.Group("/admin")
	adm.Post("/cleanup", admin.Cleanup)
	adm.Post("/clear-caches", admin.ClearCaches)
	adm.Get("/deleted", admin.Deleted)
	adm.Get("/test-connection", admin.TestConnection)
	adm.Get("/deliveries", admin.Deliveries)
}

// requestLogger logs one line per request with zerolog.
func requestLogger(logger zerolog.Logger) fiber.Handler {
	log := logger.With().Str("component", "http").Logger()
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		ev := log.Debug()
		if status >= fiber.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
		return err
	}
}
