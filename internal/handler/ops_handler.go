package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/bulkmail-engine/internal/observability"
	"github.com/kursadbilgin/bulkmail-engine/internal/service"
	"github.com/kursadbilgin/bulkmail-engine/internal/transport"
	"go.uber.org/zap"
)

const readinessTimeout = 2 * time.Second

// Pinger is satisfied by every record store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProgressSource reports the state of the current run.
type ProgressSource interface {
	Progress() service.Progress
}

// NewOpsApp builds the operational HTTP surface served next to a run.
func NewOpsApp(logger *zap.Logger, metrics *observability.Metrics, store Pinger, progress ProgressSource) *fiber.App {
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	if metrics != nil {
		app.Use(metrics.HTTPMiddleware())
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}

	RegisterHealthRoutes(app, store)
	if progress != nil {
		app.Get("/progress", ProgressHandler(progress))
	}

	return app
}

func RegisterHealthRoutes(app fiber.Router, store Pinger) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(store))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(store Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if store == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "record store is not configured")
		}

		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		storeStatus := "ok"
		status := "ready"
		statusCode := fiber.StatusOK
		if err := store.Ping(ctx); err != nil {
			storeStatus = "down"
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"store": storeStatus,
			},
		})
	}
}

func ProgressHandler(progress ProgressSource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(progress.Progress())
	}
}
