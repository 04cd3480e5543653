package billing

import (
	"strings"
	"time"

	"github.com/ManuelReschke/OrderHook/app/models"
	"github.com/ManuelReschke/OrderHook/internal/pkg/env"
	"github.com/ManuelReschke/OrderHook/internal/pkg/webhook"
)

const (
	BillingTimestampHeader = "X-Billing-Timestamp"
	BillingSignatureHeader = "X-Billing-Signature"
)

// InhouseVerifier checks deliveries from the internal billing service:
// HMAC-SHA256 over "{timestamp}\n{body}", sent as "sha256=<hex>".
type InhouseVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

func NewInhouseVerifier(secret string, tolerance time.Duration) *InhouseVerifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &InhouseVerifier{Secret: strings.TrimSpace(secret), Tolerance: tolerance, Now: time.Now}
}

func NewInhouseVerifierFromEnv() *InhouseVerifier {
	return NewInhouseVerifier(
		env.GetEnv("BILLING_WEBHOOK_SECRET", ""),
		env.GetEnvSeconds("BILLING_WEBHOOK_TOLERANCE_SECONDS", DefaultTolerance),
	)
}

func (v *InhouseVerifier) Provider() string { return models.PaymentProviderBilling }

func (v *InhouseVerifier) Verify(req *webhook.RequestContext) bool {
	if v.Secret == "" {
		return false
	}
	ts := req.Header(BillingTimestampHeader)
	t, ok := parseUnix(ts)
	if !ok {
		return false
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	if !withinTolerance(t, now, v.Tolerance) {
		return false
	}
	sig := strings.TrimPrefix(req.Header(BillingSignatureHeader), "sha256=")
	if sig == "" {
		return false
	}
	return verifyHexSHA256(inhouseSigned(ts, req.Payload), sig, v.Secret)
}

func inhouseSigned(ts string, body []byte) []byte {
	signed := make([]byte, 0, len(ts)+1+len(body))
	signed = append(signed, ts...)
	signed = append(signed, '\n')
	return append(signed, body...)
}

// InhouseSignatureHeaders returns the headers the billing service sends for
// payload signed at ts.
func InhouseSignatureHeaders(payload []byte, secret string, ts time.Time) map[string]string {
	t := formatUnix(ts.Unix())
	return map[string]string{
		BillingTimestampHeader: t,
		BillingSignatureHeader: "sha256=" + SignSHA256(inhouseSigned(t, payload), secret),
	}
}

// InhouseParser reads the flat event format of the billing service.
type InhouseParser struct{}

func (InhouseParser) Provider() string { return models.PaymentProviderBilling }

func (InhouseParser) Parse(payload map[string]any) (*webhook.NormalizedPaymentEvent, error) {
	eventID := stringField(payload, "provider_event_id", "event_id", "id")
	if eventID == "" {
		return nil, webhook.Missing("provider_event_id")
	}
	orderNo := stringField(payload, "order_no")
	if orderNo == "" {
		return nil, webhook.Missing("order_no")
	}
	orgID, err := uintField(payload, "org_id")
	if err != nil {
		return nil, err
	}
	paidAt, err := timeField(payload, "paid_at")
	if err != nil {
		return nil, err
	}
	amount, _, err := intField(payload, "amount_cents")
	if err != nil {
		return nil, err
	}
	refundAmount, _, err := intField(payload, "refund_amount_cents")
	if err != nil {
		return nil, err
	}

	eventType := stringField(payload, "event_type")
	if eventType == "" {
		eventType = models.EventTypePaymentSucceeded
	}

	return &webhook.NormalizedPaymentEvent{
		ProviderEventID:   eventID,
		OrderNo:           orderNo,
		OrgID:             orgID,
		EventType:         eventType,
		ExternalTradeNo:   optionalString(payload, "external_trade_no"),
		PaidAt:            paidAt,
		AmountCents:       amount,
		Currency:          strings.ToUpper(stringField(payload, "currency")),
		RefundAmountCents: refundAmount,
		RefundReason:      optionalString(payload, "refund_reason"),
		Raw:               payload,
	}, nil
}
