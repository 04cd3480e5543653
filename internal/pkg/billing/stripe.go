package billing

import (
	"strings"
	"time"

	"github.com/ManuelReschke/OrderHook/app/models"
	"github.com/ManuelReschke/OrderHook/internal/pkg/env"
	"github.com/ManuelReschke/OrderHook/internal/pkg/webhook"
)

const StripeSignatureHeader = "Stripe-Signature"

// StripeVerifier checks the Stripe-Signature header:
// t=<unix>,v1=<hex>[,v1=<hex>], HMAC-SHA256 over "{t}.{body}".
type StripeVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &StripeVerifier{Secret: strings.TrimSpace(secret), Tolerance: tolerance, Now: time.Now}
}

func NewStripeVerifierFromEnv() *StripeVerifier {
	return NewStripeVerifier(
		env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		env.GetEnvSeconds("STRIPE_WEBHOOK_TOLERANCE_SECONDS", DefaultTolerance),
	)
}

func (v *StripeVerifier) Provider() string { return models.PaymentProviderStripe }

func (v *StripeVerifier) Verify(req *webhook.RequestContext) bool {
	if v.Secret == "" {
		return false
	}
	ts, sigs, ok := parseStripeHeader(req.Header(StripeSignatureHeader))
	if !ok {
		return false
	}
	t, ok := parseUnix(ts)
	if !ok || !withinTolerance(t, v.now(), v.Tolerance) {
		return false
	}

	signed := make([]byte, 0, len(ts)+1+len(req.Payload))
	signed = append(signed, ts...)
	signed = append(signed, '.')
	signed = append(signed, req.Payload...)
	for _, sig := range sigs {
		if verifyHexSHA256(signed, sig, v.Secret) {
			return true
		}
	}
	return false
}

func (v *StripeVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func parseStripeHeader(h string) (ts string, v1 []string, ok bool) {
	for _, part := range strings.Split(h, ",") {
		k, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			v1 = append(v1, val)
		}
	}
	return ts, v1, ts != "" && len(v1) > 0
}

// StripeSignatureHeaderValue builds a header value for payload signed at ts.
func StripeSignatureHeaderValue(payload []byte, secret string, ts time.Time) string {
	t := ts.Unix()
	signed := append([]byte(formatUnix(t)+"."), payload...)
	return "t=" + formatUnix(t) + ",v1=" + SignSHA256(signed, secret)
}

var stripePaymentTypes = map[string]bool{
	"payment_intent.succeeded":   true,
	"checkout.session.completed": true,
	"charge.succeeded":           true,
	"invoice.paid":               true,
}

// StripeParser maps Stripe event envelopes onto NormalizedPaymentEvent.
type StripeParser struct{}

func (StripeParser) Provider() string { return models.PaymentProviderStripe }

func (StripeParser) Parse(payload map[string]any) (*webhook.NormalizedPaymentEvent, error) {
	eventID := stringField(payload, "id")
	if eventID == "" {
		return nil, webhook.Missing("id")
	}
	typ := stringField(payload, "type")
	if typ == "" {
		return nil, webhook.Missing("type")
	}

	refund := strings.Contains(strings.ToLower(typ), "refund")
	eventType := typ
	switch {
	case refund:
	case stripePaymentTypes[typ]:
		eventType = models.EventTypePaymentSucceeded
	default:
		return nil, webhook.ErrEventIgnored
	}

	obj := objectField(objectField(payload, "data"), "object")
	if obj == nil {
		return nil, webhook.Missing("data.object")
	}
	meta := objectField(obj, "metadata")
	if meta == nil {
		meta = map[string]any{}
	}

	orderNo := stringField(meta, "order_no")
	if orderNo == "" {
		orderNo = stringField(obj, "client_reference_id")
	}
	if orderNo == "" {
		return nil, webhook.Missing("data.object.metadata.order_no")
	}

	orgID, err := uintField(meta, "org_id")
	if err != nil {
		return nil, err
	}
	paidAt, err := timeField(payload, "created")
	if err != nil {
		return nil, err
	}

	ev := &webhook.NormalizedPaymentEvent{
		ProviderEventID: eventID,
		OrderNo:         orderNo,
		OrgID:           orgID,
		EventType:       eventType,
		ExternalTradeNo: stripeTradeNo(obj),
		PaidAt:          paidAt,
		Currency:        strings.ToUpper(stringField(obj, "currency")),
		Raw:             payload,
	}

	if refund {
		amount, _, err := intField(obj, "amount_refunded", "amount")
		if err != nil {
			return nil, err
		}
		ev.RefundAmountCents = amount
		ev.RefundReason = optionalString(obj, "reason")
		return ev, nil
	}

	amount, _, err := intField(obj, "amount_received", "amount_total", "amount", "amount_paid")
	if err != nil {
		return nil, err
	}
	ev.AmountCents = amount
	return ev, nil
}

// stripeTradeNo prefers the payment intent the object belongs to.
func stripeTradeNo(obj map[string]any) *string {
	if pi := optionalString(obj, "payment_intent"); pi != nil {
		return pi
	}
	if stringField(obj, "object") == "payment_intent" {
		return optionalString(obj, "id")
	}
	return nil
}
