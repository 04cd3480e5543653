package router

import (
	"github.com/ManuelReschke/OrderHook/app/controllers"
	"github.com/ManuelReschke/OrderHook/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2"
)

// HttpRouter serves the operational endpoints.
type HttpRouter struct {
	checks map[string]controllers.HealthCheck
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", controllers.HandleHealth(h.checks))
	app.Get("/metrics", metrics.Handler())
}

func NewHttpRouter(checks map[string]controllers.HealthCheck) *HttpRouter {
	return &HttpRouter{checks: checks}
}
