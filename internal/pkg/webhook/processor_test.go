package webhook

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuelReschke/OrderHook/app/models"
	"github.com/ManuelReschke/OrderHook/app/repository"
	"github.com/ManuelReschke/OrderHook/internal/pkg/audit"
	"github.com/ManuelReschke/OrderHook/internal/pkg/idempotency"
	"github.com/ManuelReschke/OrderHook/internal/pkg/lock"
	"github.com/ManuelReschke/OrderHook/internal/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAdvancer struct {
	calls  int32
	delay  time.Duration
	out    Outcome
	mu     sync.Mutex
	orgIDs []uint
}

func (a *countingAdvancer) Advance(orderNo string, orgID uint, ev *NormalizedPaymentEvent) Outcome {
	atomic.AddInt32(&a.calls, 1)
	a.mu.Lock()
	a.orgIDs = append(a.orgIDs, orgID)
	a.mu.Unlock()
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	return a.out
}

func (a *countingAdvancer) Calls() int { return int(atomic.LoadInt32(&a.calls)) }

type recordingSink struct {
	mu   sync.Mutex
	recs []audit.Record
}

func (s *recordingSink) Record(_ context.Context, rec audit.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
}

type busyLocker struct{ err error }

func (b busyLocker) Acquire(context.Context, string, time.Duration) (lock.Release, error) {
	return nil, b.err
}

type fixture struct {
	proc     *Processor
	events   *testutil.PaymentEvents
	advancer *countingAdvancer
	sink     *recordingSink
}

func newFixture(t *testing.T, signatureOK bool, locker lock.Locker) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, signatureOK, locker, nil)
}

// newFixtureWithRepo lets a test wrap the in-memory event table.
func newFixtureWithRepo(t *testing.T, signatureOK bool, locker lock.Locker, wrap func(*testutil.PaymentEvents) repository.PaymentEventRepository) *fixture {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister(staticVerifier{name: "billing", ok: signatureOK}, flatParser{name: "billing"})

	events := testutil.NewPaymentEvents()
	var repo repository.PaymentEventRepository = events
	if wrap != nil {
		repo = wrap(events)
	}
	adv := &countingAdvancer{out: Outcome{OK: true, HandleStatus: "fulfilled", To: models.OrderStatusFulfilled}}
	sink := &recordingSink{}
	if locker == nil {
		locker = lock.NewLocal()
	}
	proc := NewProcessor(reg, idempotency.NewStore(repo), adv, locker, sink, Config{LockWait: 2 * time.Second})
	return &fixture{proc: proc, events: events, advancer: adv, sink: sink}
}

func delivery(body string) *RequestContext {
	return NewRequestContext("billing", []byte(body), nil)
}

func TestHandle_FirstDeliveryProcesses(t *testing.T) {
	f := newFixture(t, true, nil)

	res := f.proc.Handle(context.Background(), delivery(`{"id":"evt_1","order_no":"ORD-1"}`))

	assert.True(t, res.OK)
	assert.Equal(t, 200, res.Status)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "fulfilled", res.HandleStatus)
	assert.Equal(t, "evt_1", res.EventID)
	assert.Equal(t, "ORD-1", res.OrderNo)
	assert.Equal(t, 1, f.advancer.Calls())

	row, err := f.events.GetByProviderEvent("billing", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentEventStatusProcessed, row.Status)
	assert.Equal(t, "fulfilled", row.HandleStatus)
	assert.True(t, row.SignatureOK)
	assert.NotEmpty(t, row.BodySHA256)

	require.Len(t, f.sink.recs, 1)
	assert.Equal(t, "evt_1", f.sink.recs[0].ProviderEventID)
	assert.True(t, f.sink.recs[0].OK)
}

func TestHandle_ConcurrentDuplicatesAdvanceOnce(t *testing.T) {
	f := newFixture(t, true, nil)
	f.advancer.delay = 20 * time.Millisecond

	const n = 20
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.proc.Handle(context.Background(), delivery(`{"id":"evt_dup","order_no":"ORD-1"}`))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.advancer.Calls())
	assert.Equal(t, 1, f.events.Len())

	firsts := 0
	for _, res := range results {
		assert.True(t, res.OK)
		assert.Equal(t, 200, res.Status)
		assert.Equal(t, "fulfilled", res.HandleStatus)
		if !res.Duplicate {
			firsts++
		}
	}
	assert.Equal(t, 1, firsts)
}

func TestHandle_SignatureRejectedBeforeAnySideEffect(t *testing.T) {
	f := newFixture(t, false, nil)

	res := f.proc.Handle(context.Background(), delivery(`{"id":"evt_1","order_no":"ORD-1"}`))

	assert.False(t, res.OK)
	assert.Equal(t, 401, res.Status)
	assert.Equal(t, CodeSignatureInvalid, res.ErrorCode)
	assert.Zero(t, f.events.Len())
	assert.Zero(t, f.advancer.Calls())
	require.Len(t, f.sink.recs, 1)
	assert.False(t, f.sink.recs[0].SignatureOK)
}

func TestHandle_Busy(t *testing.T) {
	f := newFixture(t, true, busyLocker{err: lock.ErrBusy})

	res := f.proc.Handle(context.Background(), delivery(`{"id":"evt_1","order_no":"ORD-1"}`))

	assert.Equal(t, Result{
		OK:        false,
		Status:    500,
		ErrorCode: CodeBusy,
		Message:   "webhook is being processed, retry later",
		EventID:   "evt_1",
		OrderNo:   "ORD-1",
	}, res)
	assert.Zero(t, f.events.Len())
	assert.Zero(t, f.advancer.Calls())
}

func TestHandle_LockBackendErrorIsBusy(t *testing.T) {
	f := newFixture(t, true, busyLocker{err: errors.New("dial tcp: connection refused")})

	res := f.proc.Handle(context.Background(), delivery(`{"id":"evt_1","order_no":"ORD-1"}`))

	assert.Equal(t, CodeBusy, res.ErrorCode)
	assert.Equal(t, 500, res.Status)
}

func TestHandle_LockHeldElsewhere(t *testing.T) {
	locker := lock.NewLocal()
	release, err := locker.Acquire(context.Background(), "webhook:billing:evt_1", time.Second)
	require.NoError(t, err)
	defer release()

	f := newFixture(t, true, locker)
	f.proc.cfg.LockWait = 50 * time.Millisecond

	res := f.proc.Handle(context.Background(), delivery(`{"id":"evt_1","order_no":"ORD-1"}`))
	assert.Equal(t, CodeBusy, res.ErrorCode)
	assert.Zero(t, f.advancer.Calls())
}

func TestHandle_StoreUnavailable(t *testing.T) {
	f := newFixture(t, true, nil)
	f.events.Err = errors.New("mysql: connection refused")

	res := f.proc.Handle(context.Background(), delivery(`{"id":"evt_1","order_no":"ORD-1"}`))

	assert.False(t, res.OK)
	assert.Equal(t, 500, res.Status)
	assert.Equal(t, CodeStoreUnavailable, res.ErrorCode)
	assert.Zero(t, f.advancer.Calls())
}

func TestHandle_UnknownProvider(t *testing.T) {
	f := newFixture(t, true, nil)

	res := f.proc.Handle(context.Background(), NewRequestContext("paypal", []byte(`{}`), nil))

	assert.Equal(t, 404, res.Status)
	assert.Equal(t, CodeUnknownProvider, res.ErrorCode)
}

func TestHandle_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ``},
		{"not json", `{nope`},
		{"array", `[1,2]`},
		{"null", `null`},
		{"missing id", `{"order_no":"ORD-1"}`},
		{"missing order", `{"id":"evt_1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true, nil)
			res := f.proc.Handle(context.Background(), delivery(tt.body))
			assert.False(t, res.OK)
			assert.Equal(t, 400, res.Status)
			assert.Equal(t, CodeParseError, res.ErrorCode)
			assert.Zero(t, f.events.Len())
		})
	}
}

func TestHandle_IgnoredEventType(t *testing.T) {
	f := newFixture(t, true, busyLocker{err: lock.ErrBusy})

	res := f.proc.Handle(context.Background(), delivery(`{"id":"evt_1","type":"ignore"}`))

	assert.True(t, res.OK)
	assert.True(t, res.Ignored)
	assert.Equal(t, 200, res.Status)
	assert.Zero(t, f.events.Len())
}

func TestHandle_TransitionFailureIsRecordedAndReplayed(t *testing.T) {
	f := newFixture(t, true, nil)
	f.advancer.out = Outcome{
		OK:           false,
		HandleStatus: "transition_failed:status_fulfilled",
		ErrorCode:    CodeOrderTransitionFailed,
		Detail:       "order ORD-1: already fulfilled",
	}

	first := f.proc.Handle(context.Background(), delivery(`{"id":"evt_1","order_no":"ORD-1"}`))
	assert.False(t, first.OK)
	assert.Equal(t, 409, first.Status)
	assert.Equal(t, CodeOrderTransitionFailed, first.ErrorCode)

	row, err := f.events.GetByProviderEvent("billing", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentEventStatusFailed, row.Status)
	assert.Equal(t, string(CodeOrderTransitionFailed), row.ErrorCode)

	second := f.proc.Handle(context.Background(), delivery(`{"id":"evt_1","order_no":"ORD-1"}`))
	assert.False(t, second.OK)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 409, second.Status)
	assert.Equal(t, first.ErrorCode, second.ErrorCode)
	assert.Equal(t, first.HandleStatus, second.HandleStatus)
	assert.Equal(t, 1, f.advancer.Calls())
}

func TestHandle_OrgIDPrecedence(t *testing.T) {
	f := newFixture(t, true, nil)

	req := delivery(`{"id":"evt_1","order_no":"ORD-1"}`)
	req.OrgID = 9
	f.proc.Handle(context.Background(), req)
	f.proc.Handle(context.Background(), delivery(`{"id":"evt_2","order_no":"ORD-2"}`))

	assert.Equal(t, []uint{9, 0}, f.advancer.orgIDs)
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "ignored", outcomeLabel(Result{OK: true, Ignored: true}))
	assert.Equal(t, "duplicate", outcomeLabel(Result{OK: true, Duplicate: true}))
	assert.Equal(t, "processed", outcomeLabel(Result{OK: true}))
	assert.Equal(t, "webhook_busy", outcomeLabel(Result{ErrorCode: CodeBusy}))
}

// flakyEvents fails selected calls once, after the underlying table has
// applied the write where that matters.
type flakyEvents struct {
	*testutil.PaymentEvents
	failReadAfterInsert int
	failFinish          int
}

func (f *flakyEvents) CreateIfNotExists(ev *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	created, row, err := f.PaymentEvents.CreateIfNotExists(ev)
	if err == nil && f.failReadAfterInsert > 0 {
		f.failReadAfterInsert--
		return false, nil, errors.New("read after insert: connection reset")
	}
	return created, row, err
}

func (f *flakyEvents) MarkFinished(id uint, status, handleStatus, errorCode string, processedAt time.Time) (bool, error) {
	if f.failFinish > 0 {
		f.failFinish--
		return false, errors.New("update payment_events: lock wait timeout")
	}
	return f.PaymentEvents.MarkFinished(id, status, handleStatus, errorCode, processedAt)
}

func TestHandle_ReceivedRowFromFailedReadIsProcessedOnRedelivery(t *testing.T) {
	f := newFixtureWithRepo(t, true, nil, func(events *testutil.PaymentEvents) repository.PaymentEventRepository {
		return &flakyEvents{PaymentEvents: events, failReadAfterInsert: 1}
	})
	body := `{"id":"evt_1","order_no":"ORD-1"}`

	first := f.proc.Handle(context.Background(), delivery(body))
	assert.False(t, first.OK)
	assert.Equal(t, 500, first.Status)
	assert.Equal(t, CodeStoreUnavailable, first.ErrorCode)
	assert.Zero(t, f.advancer.Calls())

	row, err := f.events.GetByProviderEvent("billing", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentEventStatusReceived, row.Status)

	second := f.proc.Handle(context.Background(), delivery(body))
	assert.True(t, second.OK)
	assert.Equal(t, 200, second.Status)
	assert.False(t, second.Duplicate)
	assert.Equal(t, "fulfilled", second.HandleStatus)
	assert.Equal(t, 1, f.advancer.Calls())

	row, err = f.events.GetByProviderEvent("billing", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentEventStatusProcessed, row.Status)

	third := f.proc.Handle(context.Background(), delivery(body))
	assert.True(t, third.OK)
	assert.True(t, third.Duplicate)
	assert.Equal(t, 1, f.advancer.Calls())
}

func TestHandle_UnrecordedOutcomeIsNeverAcknowledged(t *testing.T) {
	f := newFixtureWithRepo(t, true, nil, func(events *testutil.PaymentEvents) repository.PaymentEventRepository {
		return &flakyEvents{PaymentEvents: events, failFinish: 1}
	})
	f.advancer.out = Outcome{
		OK:           false,
		HandleStatus: "transition_failed:status_fulfilled",
		ErrorCode:    CodeOrderTransitionFailed,
	}
	body := `{"id":"evt_1","order_no":"ORD-1"}`

	first := f.proc.Handle(context.Background(), delivery(body))
	assert.False(t, first.OK)
	assert.Equal(t, 500, first.Status)
	assert.Equal(t, CodeStoreUnavailable, first.ErrorCode)
	assert.Equal(t, 1, f.advancer.Calls())

	row, err := f.events.GetByProviderEvent("billing", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentEventStatusProcessing, row.Status)

	for i := 0; i < 2; i++ {
		again := f.proc.Handle(context.Background(), delivery(body))
		assert.False(t, again.OK)
		assert.Equal(t, first.Status, again.Status)
		assert.Equal(t, first.ErrorCode, again.ErrorCode)
		assert.True(t, again.ErrorCode.Retryable())
	}
	assert.Equal(t, 1, f.advancer.Calls(), "Advance must not run again for an event with an unknown outcome")
}

func TestReplayOfFailedRowWithoutCode(t *testing.T) {
	res := replay(&models.PaymentEvent{Status: models.PaymentEventStatusFailed, HandleStatus: "transition_failed:error"})
	assert.False(t, res.OK)
	assert.Equal(t, 409, res.Status)
	assert.Equal(t, CodeOrderTransitionFailed, res.ErrorCode)
	assert.True(t, res.Duplicate)
}
