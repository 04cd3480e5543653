package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ManuelReschke/OrderHook/app/models"
	"github.com/ManuelReschke/OrderHook/internal/pkg/audit"
	"github.com/ManuelReschke/OrderHook/internal/pkg/env"
	"github.com/ManuelReschke/OrderHook/internal/pkg/idempotency"
	"github.com/ManuelReschke/OrderHook/internal/pkg/lock"
	"github.com/ManuelReschke/OrderHook/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const DefaultLockWait = 5 * time.Second

// EventStore is the durable dedup table.
type EventStore interface {
	Begin(provider, providerEventID string, seed *models.PaymentEvent) (idempotency.BeginResult, error)
	MarkProcessing(id uint) (bool, error)
	Finish(id uint, out idempotency.Outcome) error
}

// Advancer applies a normalized event to an order.
type Advancer interface {
	Advance(orderNo string, orgID uint, ev *NormalizedPaymentEvent) Outcome
}

type Config struct {
	LockWait time.Duration
}

func ConfigFromEnv() Config {
	return Config{LockWait: env.GetEnvSeconds("WEBHOOK_LOCK_WAIT_SECONDS", DefaultLockWait)}
}

// Processor runs verify, parse, lock, dedup and transition for each delivery.
type Processor struct {
	registry *Registry
	store    EventStore
	advancer Advancer
	locker   lock.Locker
	sink     audit.Sink
	cfg      Config
}

func NewProcessor(registry *Registry, store EventStore, advancer Advancer, locker lock.Locker, sink audit.Sink, cfg Config) *Processor {
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}
	if sink == nil {
		sink = audit.LogSink{}
	}
	return &Processor{
		registry: registry,
		store:    store,
		advancer: advancer,
		locker:   locker,
		sink:     sink,
		cfg:      cfg,
	}
}

// Handle processes one delivery and never panics on bad input. A given
// (provider, provider_event_id) reaches the Advancer at most once.
func (p *Processor) Handle(ctx context.Context, req *RequestContext) Result {
	start := time.Now()
	res, ev := p.handle(ctx, req)
	metrics.ObserveWebhook(req.Provider, outcomeLabel(res), time.Since(start))
	p.emit(ctx, req, ev, res, time.Since(start))
	return res
}

func (p *Processor) handle(ctx context.Context, req *RequestContext) (Result, *NormalizedPaymentEvent) {
	verifier, parser, ok := p.registry.Lookup(req.Provider)
	if !ok {
		return reject(CodeUnknownProvider, ErrUnknownProvider.Error()), nil
	}

	// No lock and no row before the signature is proven.
	req.SignatureOK = verifier.Verify(req)
	if !req.SignatureOK {
		log.Warnf("[Webhook] %s signature rejected (sha256=%s)", req.Provider, req.BodySHA256)
		return reject(CodeSignatureInvalid, "invalid webhook signature"), nil
	}

	payload, err := decodePayload(req.Payload)
	if err != nil {
		return reject(CodeParseError, err.Error()), nil
	}
	ev, err := parser.Parse(payload)
	if errors.Is(err, ErrEventIgnored) {
		return Result{OK: true, Status: fiber.StatusOK, Ignored: true}, nil
	}
	if err != nil {
		log.Warnf("[Webhook] %s payload rejected: %v", req.Provider, err)
		return reject(CodeParseError, err.Error()), nil
	}
	ev.Provider = req.Provider
	if err := ev.Validate(); err != nil {
		return reject(CodeParseError, err.Error()), ev
	}

	var res Result
	err = lock.WithLock(ctx, p.locker, ev.Key(), p.cfg.LockWait, func(context.Context) error {
		res = p.process(req, ev)
		return nil
	})
	if err != nil {
		if !errors.Is(err, lock.ErrBusy) {
			log.Errorf("[Webhook] lock %s unavailable: %v", ev.Key(), err)
		}
		res = reject(CodeBusy, "webhook is being processed, retry later")
	}
	res.EventID = ev.ProviderEventID
	res.OrderNo = ev.OrderNo
	return res, ev
}

// process runs while holding the event lock, so no other handler of this
// event is in flight. A received row left behind by an earlier delivery is
// processed as if it were new; a processing row means an earlier Advance ran
// without its outcome being recorded, and is never acknowledged.
func (p *Processor) process(req *RequestContext, ev *NormalizedPaymentEvent) Result {
	begin, err := p.store.Begin(ev.Provider, ev.ProviderEventID, seedFor(req, ev))
	if err != nil || !begin.OK || begin.Event == nil {
		return reject(CodeStoreUnavailable, "idempotency store unavailable")
	}
	row := begin.Event
	if begin.Duplicate {
		switch row.Status {
		case models.PaymentEventStatusProcessed, models.PaymentEventStatusFailed:
			log.Infof("[Webhook] duplicate %s, replaying stored outcome %q", ev.Key(), row.HandleStatus)
			return replay(row)
		case models.PaymentEventStatusReceived:
			log.Warnf("[Webhook] %s was received but never processed, processing now", ev.Key())
		default:
			log.Errorf("[Webhook] %s is stuck in %s, outcome of an earlier delivery unknown", ev.Key(), row.Status)
			return reject(CodeStoreUnavailable, "outcome of an earlier delivery was not recorded")
		}
	}

	claimed, err := p.store.MarkProcessing(row.ID)
	if err != nil {
		log.Errorf("[Webhook] claim %s: %v", ev.Key(), err)
		return reject(CodeStoreUnavailable, "idempotency store unavailable")
	}
	if !claimed {
		return reject(CodeStoreUnavailable, "outcome of an earlier delivery was not recorded")
	}

	orgID := req.OrgID
	if orgID == 0 {
		orgID = ev.OrgID
	}
	out := p.advancer.Advance(ev.OrderNo, orgID, ev)

	record := idempotency.Outcome{
		Status:       models.PaymentEventStatusProcessed,
		HandleStatus: out.HandleStatus,
		ErrorCode:    string(out.ErrorCode),
	}
	if !out.OK {
		record.Status = models.PaymentEventStatusFailed
		if record.ErrorCode == "" {
			record.ErrorCode = string(CodeOrderTransitionFailed)
		}
	}
	if err := p.store.Finish(row.ID, record); err != nil {
		log.Errorf("[Webhook] record outcome %q of %s: %v", out.HandleStatus, ev.Key(), err)
		return reject(CodeStoreUnavailable, "outcome could not be recorded")
	}

	code := ErrorCode(record.ErrorCode)
	return Result{
		OK:           out.OK,
		Status:       code.HTTPStatus(),
		ErrorCode:    code,
		Message:      out.Detail,
		HandleStatus: out.HandleStatus,
	}
}

func (p *Processor) emit(ctx context.Context, req *RequestContext, ev *NormalizedPaymentEvent, res Result, took time.Duration) {
	rec := audit.NewRecord(req.Provider, req.ReceivedAt)
	rec.OK = res.OK
	rec.HTTPStatus = res.Status
	rec.ErrorCode = string(res.ErrorCode)
	rec.HandleStatus = res.HandleStatus
	rec.Duplicate = res.Duplicate
	rec.Ignored = res.Ignored
	rec.SignatureOK = req.SignatureOK
	rec.BodyLength = req.BodyLength
	rec.BodySHA256 = req.BodySHA256
	rec.DurationMS = took.Milliseconds()
	rec.Payload = req.Payload
	if ev != nil {
		rec.ProviderEventID = ev.ProviderEventID
		rec.OrderNo = ev.OrderNo
		rec.OrgID = ev.OrgID
		rec.EventType = ev.EventType
	}
	p.sink.Record(ctx, rec)
}

// replay rebuilds the response of a finished event from its row.
func replay(row *models.PaymentEvent) Result {
	code := ErrorCode(row.ErrorCode)
	if row.Status == models.PaymentEventStatusFailed && code == "" {
		code = CodeOrderTransitionFailed
	}
	return Result{
		OK:           code == "",
		Status:       code.HTTPStatus(),
		ErrorCode:    code,
		Duplicate:    true,
		HandleStatus: row.HandleStatus,
	}
}

func reject(code ErrorCode, msg string) Result {
	return Result{OK: false, Status: code.HTTPStatus(), ErrorCode: code, Message: msg}
}

func seedFor(req *RequestContext, ev *NormalizedPaymentEvent) *models.PaymentEvent {
	raw, err := json.Marshal(ev.Raw)
	if err != nil || ev.Raw == nil {
		raw = req.Payload
	}
	return &models.PaymentEvent{
		OrderNo:           ev.OrderNo,
		OrgID:             ev.OrgID,
		EventType:         ev.EventType,
		ExternalTradeNo:   ev.ExternalTradeNo,
		PaidAt:            ev.PaidAt,
		AmountCents:       ev.AmountCents,
		Currency:          ev.Currency,
		RefundAmountCents: ev.RefundAmountCents,
		RefundReason:      ev.RefundReason,
		RawJSON:           string(raw),
		BodySHA256:        req.BodySHA256,
		Status:            models.PaymentEventStatusReceived,
		SignatureOK:       req.SignatureOK,
	}
}

// decodePayload keeps numbers as json.Number so parsers can coerce them
// without float rounding.
func decodePayload(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ParseError{Reason: "empty body"}
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, &ParseError{Reason: "invalid JSON: " + err.Error()}
	}
	if payload == nil {
		return nil, &ParseError{Reason: "payload must be a JSON object"}
	}
	return payload, nil
}

func outcomeLabel(res Result) string {
	switch {
	case res.Ignored:
		return "ignored"
	case res.Duplicate:
		return "duplicate"
	case res.OK:
		return "processed"
	case res.ErrorCode != "":
		return strings.ToLower(string(res.ErrorCode))
	default:
		return "failed"
	}
}
