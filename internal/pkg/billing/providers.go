package billing

import (
	"github.com/ManuelReschke/OrderHook/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
)

// RegisterFromEnv adds the stripe and billing providers to r. A provider
// without a configured secret is still registered; every delivery to it
// fails signature verification.
func RegisterFromEnv(r *webhook.Registry) error {
	stripe := NewStripeVerifierFromEnv()
	if stripe.Secret == "" {
		log.Warn("[Billing] STRIPE_WEBHOOK_SECRET not set, stripe webhooks will be rejected")
	}
	if err := r.Register(stripe, StripeParser{}); err != nil {
		return err
	}

	inhouse := NewInhouseVerifierFromEnv()
	if inhouse.Secret == "" {
		log.Warn("[Billing] BILLING_WEBHOOK_SECRET not set, billing webhooks will be rejected")
	}
	return r.Register(inhouse, InhouseParser{})
}
