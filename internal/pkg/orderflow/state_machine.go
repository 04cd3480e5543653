package orderflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/OrderHook/app/models"
	"github.com/ManuelReschke/OrderHook/app/repository"
	"github.com/ManuelReschke/OrderHook/internal/pkg/metrics"
	"github.com/ManuelReschke/OrderHook/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Orders is the order collaborator the state machine drives.
type Orders interface {
	FindByOrderNo(orderNo string) (*models.Order, error)
	TransitionToPaidAtomic(orderNo string, orgID uint, externalTradeNo *string, paidAt *time.Time) (*models.Order, error)
	Transition(orderNo string, to models.OrderStatus, orgID uint) (*models.Order, error)
}

// StateMachine moves orders through pending -> paid -> fulfilled, or to
// refunded, in response to payment events.
type StateMachine struct {
	orders Orders
}

func NewStateMachine(orders Orders) *StateMachine {
	return &StateMachine{orders: orders}
}

func NewStateMachineFromDB(db *gorm.DB) *StateMachine {
	return NewStateMachine(repository.NewOrderRepository(db))
}

// Advance applies ev to the order. Failures are reported in the Outcome and
// never retried here; the provider's redelivery is the retry channel.
func (m *StateMachine) Advance(orderNo string, orgID uint, ev *webhook.NormalizedPaymentEvent) webhook.Outcome {
	if orgID == 0 {
		order, err := m.orders.FindByOrderNo(orderNo)
		if err != nil {
			return failed(orderNo, "", models.OrderStatusPaid, err)
		}
		orgID = order.OrgID
	}

	// Refunds skip the paid precondition: a provider may refund an order
	// this system never saw paid.
	if ev.IsRefund() {
		order, err := m.orders.Transition(orderNo, models.OrderStatusRefunded, orgID)
		metrics.ObserveTransition(string(models.OrderStatusRefunded), err == nil)
		if err != nil {
			return failed(orderNo, "", models.OrderStatusRefunded, err)
		}
		log.Infof("[OrderFlow] order %s refunded (event %s)", orderNo, ev.ProviderEventID)
		return webhook.Outcome{
			OK:           true,
			HandleStatus: string(order.Status),
			To:           order.Status,
		}
	}

	if _, err := m.orders.TransitionToPaidAtomic(orderNo, orgID, ev.ExternalTradeNo, ev.PaidAt); err != nil {
		metrics.ObserveTransition(string(models.OrderStatusPaid), false)
		return failed(orderNo, "", models.OrderStatusPaid, err)
	}
	metrics.ObserveTransition(string(models.OrderStatusPaid), true)

	order, err := m.orders.Transition(orderNo, models.OrderStatusFulfilled, orgID)
	metrics.ObserveTransition(string(models.OrderStatusFulfilled), err == nil)
	if err != nil {
		log.Errorf("[OrderFlow] order %s paid but fulfillment failed: %v", orderNo, err)
		if _, ferr := m.orders.Transition(orderNo, models.OrderStatusFailed, orgID); ferr != nil {
			log.Errorf("[OrderFlow] order %s could not be marked failed: %v", orderNo, ferr)
		}
		return failed(orderNo, models.OrderStatusPaid, models.OrderStatusFulfilled, err)
	}

	log.Infof("[OrderFlow] order %s fulfilled (event %s)", orderNo, ev.ProviderEventID)
	return webhook.Outcome{
		OK:           true,
		HandleStatus: string(order.Status),
		From:         models.OrderStatusPending,
		To:           order.Status,
	}
}

func failed(orderNo string, from, to models.OrderStatus, err error) webhook.Outcome {
	reason := "error"
	var te *repository.TransitionError
	switch {
	case errors.As(err, &te):
		reason = "status_" + string(te.From)
		from = te.From
	case errors.Is(err, repository.ErrOrderNotFound):
		reason = "order_not_found"
	}
	return webhook.Outcome{
		OK:           false,
		HandleStatus: fmt.Sprintf("transition_failed:%s", reason),
		ErrorCode:    webhook.CodeOrderTransitionFailed,
		Detail:       fmt.Sprintf("order %s: %v", orderNo, err),
		From:         from,
		To:           to,
	}
}
