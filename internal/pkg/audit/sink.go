package audit

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// Record describes the handling of one webhook delivery.
type Record struct {
	ID              string    `json:"id"`
	Provider        string    `json:"provider"`
	ProviderEventID string    `json:"provider_event_id,omitempty"`
	OrderNo         string    `json:"order_no,omitempty"`
	OrgID           uint      `json:"org_id,omitempty"`
	EventType       string    `json:"event_type,omitempty"`
	OK              bool      `json:"ok"`
	HTTPStatus      int       `json:"http_status"`
	ErrorCode       string    `json:"error_code,omitempty"`
	HandleStatus    string    `json:"handle_status,omitempty"`
	Duplicate       bool      `json:"duplicate,omitempty"`
	Ignored         bool      `json:"ignored,omitempty"`
	SignatureOK     bool      `json:"signature_ok"`
	BodyLength      int       `json:"body_length"`
	BodySHA256      string    `json:"body_sha256"`
	ReceivedAt      time.Time `json:"received_at"`
	DurationMS      int64     `json:"duration_ms"`

	// Payload is the raw body. It is only handed to archiving sinks.
	Payload []byte `json:"-"`
}

// NewRecord stamps a record with a fresh id.
func NewRecord(provider string, receivedAt time.Time) Record {
	return Record{ID: uuid.NewString(), Provider: provider, ReceivedAt: receivedAt}
}

// Sink receives audit records. Implementations must not block the caller
// for long and must swallow their own errors.
type Sink interface {
	Record(ctx context.Context, rec Record)
}

// Multi fans a record out to several sinks.
type Multi []Sink

func (m Multi) Record(ctx context.Context, rec Record) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, rec)
		}
	}
}

// LogSink writes a one-line summary per record.
type LogSink struct{}

func (LogSink) Record(_ context.Context, rec Record) {
	if rec.OK {
		log.Infof("[Audit] %s event=%s order=%s status=%d handle=%q duplicate=%t ignored=%t sha256=%s",
			rec.Provider, rec.ProviderEventID, rec.OrderNo, rec.HTTPStatus, rec.HandleStatus, rec.Duplicate, rec.Ignored, rec.BodySHA256)
		return
	}
	log.Warnf("[Audit] %s event=%s order=%s status=%d code=%s handle=%q sha256=%s",
		rec.Provider, rec.ProviderEventID, rec.OrderNo, rec.HTTPStatus, rec.ErrorCode, rec.HandleStatus, rec.BodySHA256)
}
