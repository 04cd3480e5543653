// Package testutil provides in-memory repositories with the same conditional
// semantics as the GORM implementations, for tests that exercise the webhook
// pipeline without MySQL.
package testutil

import (
	"sync"
	"time"

	"github.com/ManuelReschke/OrderHook/app/models"
	"github.com/ManuelReschke/OrderHook/app/repository"
	"gorm.io/gorm"
)

// Orders is an in-memory repository.OrderRepository.
type Orders struct {
	mu     sync.Mutex
	orders map[string]*models.Order

	// FailFulfill makes every transition to fulfilled fail with this error.
	FailFulfill error

	Fulfillments int
	Refunds      int
}

func NewOrders(orders ...models.Order) *Orders {
	o := &Orders{orders: make(map[string]*models.Order)}
	for i := range orders {
		cp := orders[i]
		if cp.Status == "" {
			cp.Status = models.OrderStatusPending
		}
		o.orders[cp.OrderNo] = &cp
	}
	return o
}

// Get returns a copy of the stored order.
func (o *Orders) Get(orderNo string) (models.Order, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord, ok := o.orders[orderNo]
	if !ok {
		return models.Order{}, false
	}
	return *ord, true
}

func (o *Orders) FindByOrderNo(orderNo string) (*models.Order, error) {
	ord, ok := o.Get(orderNo)
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return &ord, nil
}

func (o *Orders) TransitionToPaidAtomic(orderNo string, orgID uint, externalTradeNo *string, paidAt *time.Time) (*models.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord, err := o.lookup(orderNo, orgID)
	if err != nil {
		return nil, err
	}
	if ord.Status != models.OrderStatusPending {
		return nil, &repository.TransitionError{OrderNo: orderNo, From: ord.Status, To: models.OrderStatusPaid}
	}
	at := time.Now()
	if paidAt != nil {
		at = *paidAt
	}
	ord.Status = models.OrderStatusPaid
	ord.PaidAt = &at
	ord.ExternalTradeNo = externalTradeNo
	cp := *ord
	return &cp, nil
}

func (o *Orders) Transition(orderNo string, to models.OrderStatus, orgID uint) (*models.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord, err := o.lookup(orderNo, orgID)
	if err != nil {
		return nil, err
	}
	if to == models.OrderStatusFulfilled && o.FailFulfill != nil {
		return nil, o.FailFulfill
	}
	if !ord.Status.CanTransition(to) {
		return nil, &repository.TransitionError{OrderNo: orderNo, From: ord.Status, To: to}
	}
	now := time.Now()
	ord.Status = to
	switch to {
	case models.OrderStatusFulfilled:
		ord.FulfilledAt = &now
		o.Fulfillments++
	case models.OrderStatusRefunded:
		ord.RefundedAt = &now
		o.Refunds++
	case models.OrderStatusPending, models.OrderStatusPaid, models.OrderStatusFailed:
	}
	cp := *ord
	return &cp, nil
}

func (o *Orders) lookup(orderNo string, orgID uint) (*models.Order, error) {
	ord, ok := o.orders[orderNo]
	if !ok || ord.OrgID != orgID {
		return nil, repository.ErrOrderNotFound
	}
	return ord, nil
}

// PaymentEvents is an in-memory repository.PaymentEventRepository enforcing
// the (provider, provider_event_id) uniqueness.
type PaymentEvents struct {
	mu     sync.Mutex
	rows   map[string]*models.PaymentEvent
	nextID uint

	// Err, when set, is returned by every call.
	Err error
}

func NewPaymentEvents() *PaymentEvents {
	return &PaymentEvents{rows: make(map[string]*models.PaymentEvent)}
}

func (p *PaymentEvents) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rows)
}

func (p *PaymentEvents) CreateIfNotExists(ev *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return false, nil, p.Err
	}
	key := ev.Provider + "|" + ev.ProviderEventID
	if existing, ok := p.rows[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	p.nextID++
	row := *ev
	row.ID = p.nextID
	row.CreatedAt = time.Now()
	p.rows[key] = &row
	cp := row
	return true, &cp, nil
}

func (p *PaymentEvents) GetByProviderEvent(provider, providerEventID string) (*models.PaymentEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	row, ok := p.rows[provider+"|"+providerEventID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *row
	return &cp, nil
}

func (p *PaymentEvents) MarkProcessing(id uint) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return false, p.Err
	}
	row := p.byID(id)
	if row == nil || row.Status != models.PaymentEventStatusReceived {
		return false, nil
	}
	row.Status = models.PaymentEventStatusProcessing
	return true, nil
}

func (p *PaymentEvents) MarkFinished(id uint, status, handleStatus, errorCode string, processedAt time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return false, p.Err
	}
	row := p.byID(id)
	if row == nil || row.IsFinal() {
		return false, nil
	}
	row.Status = status
	row.HandleStatus = handleStatus
	row.ErrorCode = errorCode
	row.ProcessedAt = &processedAt
	return true, nil
}

func (p *PaymentEvents) byID(id uint) *models.PaymentEvent {
	for _, row := range p.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

var (
	_ repository.OrderRepository        = (*Orders)(nil)
	_ repository.PaymentEventRepository = (*PaymentEvents)(nil)
)
