package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sutto4/ccc-sub004/internal/pkg/health"
	"github.com/sutto4/ccc-sub004/internal/pkg/metrics"
)

// HttpRouter serves the unauthenticated operational endpoints.
type HttpRouter struct {
	health *health.Monitor
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"service": "ccc-console",
			"docs":    "/docs/api/v1",
		})
	})
	app.Get("/healthz", h.handleHealth)
	app.Get("/metrics", metrics.Handler())
}

func (h HttpRouter) handleHealth(c *fiber.Ctx) error {
	if h.health == nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	}
	report := h.health.Last(c.UserContext())
	if !report.Healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "report": report})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok", "report": report})
}

func NewHttpRouter(monitor *health.Monitor) *HttpRouter {
	return &HttpRouter{health: monitor}
}
