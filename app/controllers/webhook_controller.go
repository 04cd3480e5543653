package controllers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/OrderHook/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2"
)

const (
	OrgIDHeader           = "X-Org-ID"
	defaultWebhookTimeout = 15 * time.Second
)

// WebhookHandler is the pipeline a delivery is handed to.
type WebhookHandler interface {
	Handle(ctx context.Context, req *webhook.RequestContext) webhook.Result
}

// WebhookController accepts provider callbacks on /api/v1/webhooks/:provider.
type WebhookController struct {
	handler WebhookHandler
	timeout time.Duration
}

func NewWebhookController(handler WebhookHandler, timeout time.Duration) *WebhookController {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookController{handler: handler, timeout: timeout}
}

// HandleWebhook verifies, deduplicates and applies one delivery. The status
// code tells the provider whether to redeliver.
func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(k, v []byte) {
		headers[string(k)] = string(v)
	})

	req := webhook.NewRequestContext(c.Params("provider"), rawBody, headers)
	if raw := strings.TrimSpace(c.Get(OrgIDHeader)); raw != "" {
		orgID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || orgID == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(webhook.Result{
				OK:        false,
				Status:    fiber.StatusBadRequest,
				ErrorCode: webhook.CodeParseError,
				Message:   "invalid " + OrgIDHeader + " header",
			})
		}
		req.OrgID = uint(orgID)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), wc.timeout)
	defer cancel()

	res := wc.handler.Handle(ctx, req)
	return c.Status(res.Status).JSON(res)
}

// ============================================================================
// GLOBAL WEBHOOK CONTROLLER INSTANCE - Singleton Pattern
// ============================================================================

var webhookController *WebhookController

// InitializeWebhookController sets the global webhook controller
func InitializeWebhookController(handler WebhookHandler, timeout time.Duration) {
	webhookController = NewWebhookController(handler, timeout)
}

// GetWebhookController returns the global webhook controller instance
func GetWebhookController() *WebhookController {
	if webhookController == nil {
		panic("Webhook controller not initialized. Call InitializeWebhookController first.")
	}
	return webhookController
}
