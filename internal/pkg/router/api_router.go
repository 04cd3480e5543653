package router

import (
	"time"

	"github.com/ManuelReschke/OrderHook/app/controllers"
	"github.com/ManuelReschke/OrderHook/internal/pkg/env"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
	webhooks *controllers.WebhookController
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetEnvInt("WEBHOOK_RATE_LIMIT_PER_MINUTE", 600),
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"ok":      false,
				"message": "rate limit exceeded",
			})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	v1.Post("/webhooks/:provider", h.webhooks.HandleWebhook)
}

func NewApiRouter(webhooks *controllers.WebhookController) *ApiRouter {
	return &ApiRouter{webhooks: webhooks}
}
