package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/OrderHook/app/models"
	"github.com/go-playground/validator/v10"
)

// NormalizedPaymentEvent is the provider-agnostic form of a payment
// notification. (Provider, ProviderEventID) is its identity.
type NormalizedPaymentEvent struct {
	Provider          string         `json:"provider" validate:"required"`
	ProviderEventID   string         `json:"provider_event_id" validate:"required,max=191"`
	OrderNo           string         `json:"order_no" validate:"required,max=64"`
	OrgID             uint           `json:"org_id,omitempty"`
	EventType         string         `json:"event_type" validate:"required,max=100"`
	ExternalTradeNo   *string        `json:"external_trade_no,omitempty"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
	AmountCents       int64          `json:"amount_cents" validate:"gte=0"`
	Currency          string         `json:"currency" validate:"max=8"`
	RefundAmountCents int64          `json:"refund_amount_cents" validate:"gte=0"`
	RefundReason      *string        `json:"refund_reason,omitempty"`
	Raw               map[string]any `json:"raw,omitempty"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks the invariants every parser must establish.
func (e *NormalizedPaymentEvent) Validate() error {
	validateOnce.Do(func() { validate = validator.New() })
	if err := validate.Struct(e); err != nil {
		return &ParseError{Field: firstInvalidField(err), Reason: err.Error()}
	}
	return nil
}

// Key is the lock name for this event.
func (e *NormalizedPaymentEvent) Key() string {
	return "webhook:" + e.Provider + ":" + e.ProviderEventID
}

// IsRefund reports whether the event type names a refund.
func (e *NormalizedPaymentEvent) IsRefund() bool {
	return strings.Contains(strings.ToLower(e.EventType), "refund")
}

func firstInvalidField(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return verrs[0].Field()
	}
	return ""
}

// RequestContext carries one inbound delivery through the pipeline.
type RequestContext struct {
	Provider    string
	Payload     []byte
	Headers     map[string]string
	OrgID       uint
	UserID      *uint
	AnonID      string
	SignatureOK bool
	BodyLength  int
	BodySHA256  string
	ReceivedAt  time.Time
	PayloadMeta map[string]any
}

// NewRequestContext copies body and indexes headers by lower-cased name.
func NewRequestContext(provider string, body []byte, headers map[string]string) *RequestContext {
	sum := sha256.Sum256(body)
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[strings.ToLower(k)] = v
	}
	return &RequestContext{
		Provider:    strings.ToLower(strings.TrimSpace(provider)),
		Payload:     append([]byte(nil), body...),
		Headers:     h,
		BodyLength:  len(body),
		BodySHA256:  hex.EncodeToString(sum[:]),
		ReceivedAt:  time.Now(),
		PayloadMeta: map[string]any{},
	}
}

// Header returns the value of a header, case-insensitively.
func (r *RequestContext) Header(name string) string {
	return strings.TrimSpace(r.Headers[strings.ToLower(name)])
}

// Outcome is what the order state machine reports for one event.
type Outcome struct {
	OK           bool
	HandleStatus string
	ErrorCode    ErrorCode
	Detail       string
	From         models.OrderStatus
	To           models.OrderStatus
}

// Result is the response of the pipeline for one delivery.
type Result struct {
	OK           bool      `json:"ok"`
	Status       int       `json:"status"`
	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	Message      string    `json:"message,omitempty"`
	Duplicate    bool      `json:"duplicate,omitempty"`
	Ignored      bool      `json:"ignored,omitempty"`
	HandleStatus string    `json:"handle_status,omitempty"`
	EventID      string    `json:"event_id,omitempty"`
	OrderNo      string    `json:"order_no,omitempty"`
}
