package models

import "time"

const (
	PaymentEventStatusReceived   = "received"
	PaymentEventStatusProcessing = "processing"
	PaymentEventStatusProcessed  = "processed"
	PaymentEventStatusFailed     = "failed"
)

const (
	PaymentProviderStripe  = "stripe"
	PaymentProviderBilling = "billing"

	// EventTypePaymentSucceeded is the normalized type for a settled payment.
	EventTypePaymentSucceeded = "payment_succeeded"
)

// PaymentEvent stores one row per distinct (provider, provider_event_id) and
// is the source of truth for webhook deduplication.
type PaymentEvent struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Provider          string     `gorm:"type:varchar(20);not null;index:ux_payment_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID   string     `gorm:"type:varchar(191);not null;index:ux_payment_events_provider_event,unique,priority:2" json:"provider_event_id"`
	OrderNo           string     `gorm:"type:varchar(64);not null;index" json:"order_no"`
	OrgID             uint       `gorm:"not null;default:0;index" json:"org_id"`
	EventType         string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	ExternalTradeNo   *string    `gorm:"type:varchar(191)" json:"external_trade_no,omitempty"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	AmountCents       int64      `gorm:"not null;default:0" json:"amount_cents"`
	Currency          string     `gorm:"type:varchar(8);not null;default:''" json:"currency"`
	RefundAmountCents int64      `gorm:"not null;default:0" json:"refund_amount_cents"`
	RefundReason      *string    `gorm:"type:varchar(255)" json:"refund_reason,omitempty"`
	RawJSON           string     `gorm:"type:longtext;not null" json:"raw_json"`
	BodySHA256        string     `gorm:"type:char(64);not null;default:''" json:"body_sha256"`
	Status            string     `gorm:"type:varchar(20);not null;default:'received';index" json:"status"`
	SignatureOK       bool       `gorm:"default:false" json:"signature_ok"`
	HandleStatus      string     `gorm:"type:varchar(191);not null;default:''" json:"handle_status"`
	ErrorCode         string     `gorm:"type:varchar(64);not null;default:''" json:"error_code,omitempty"`
	ProcessedAt       *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsFinal reports whether processing of this event has completed.
func (e *PaymentEvent) IsFinal() bool {
	return e.Status == PaymentEventStatusProcessed || e.Status == PaymentEventStatusFailed
}
