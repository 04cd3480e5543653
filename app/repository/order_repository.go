package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/OrderHook/app/models"
	"github.com/ManuelReschke/OrderHook/internal/pkg/entitlements"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrTransitionRejected = errors.New("order transition rejected")
)

// TransitionError describes a conditional transition whose precondition did not hold.
type TransitionError struct {
	OrderNo string
	From    models.OrderStatus
	To      models.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderNo, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrTransitionRejected }

type orderRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db, now: time.Now}
}

func (r *orderRepository) FindByOrderNo(orderNo string) (*models.Order, error) {
	var order models.Order
	if err := r.db.Where("order_no = ?", orderNo).Take(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// TransitionToPaidAtomic moves a pending order of orgID to paid in one conditional update.
func (r *orderRepository) TransitionToPaidAtomic(orderNo string, orgID uint, externalTradeNo *string, paidAt *time.Time) (*models.Order, error) {
	at := r.now()
	if paidAt != nil && !paidAt.IsZero() {
		at = *paidAt
	}
	updates := map[string]interface{}{
		"status":  models.OrderStatusPaid,
		"paid_at": at,
	}
	if externalTradeNo != nil && *externalTradeNo != "" {
		updates["external_trade_no"] = *externalTradeNo
	}

	tx := r.db.Model(&models.Order{}).
		Where("order_no = ? AND org_id = ? AND status = ?", orderNo, orgID, models.OrderStatusPending).
		Updates(updates)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, r.rejection(r.db, orderNo, orgID, models.OrderStatusPaid)
	}
	return r.load(r.db, orderNo)
}

// Transition moves the order to `to` if its current status is an allowed
// predecessor, applying fulfillment or refund side effects in the same
// database transaction.
func (r *orderRepository) Transition(orderNo string, to models.OrderStatus, orgID uint) (*models.Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("invalid target status %q", to)
	}
	from := statusStrings(models.PredecessorsOf(to))
	if len(from) == 0 {
		return nil, &TransitionError{OrderNo: orderNo, To: to}
	}

	var updated *models.Order
	err := r.db.Transaction(func(tx *gorm.DB) error {
		now := r.now()
		updates := map[string]interface{}{"status": to}
		switch to {
		case models.OrderStatusFulfilled:
			updates["fulfilled_at"] = now
		case models.OrderStatusRefunded:
			updates["refunded_at"] = now
		case models.OrderStatusPending, models.OrderStatusPaid, models.OrderStatusFailed:
		}

		res := tx.Model(&models.Order{}).
			Where("order_no = ? AND org_id = ? AND status IN ?", orderNo, orgID, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.rejection(tx, orderNo, orgID, to)
		}

		order, err := r.load(tx, orderNo)
		if err != nil {
			return err
		}
		updated = order

		switch to {
		case models.OrderStatusFulfilled:
			return entitlements.Grant(tx, order, now)
		case models.OrderStatusRefunded:
			return entitlements.Revoke(tx, order, now)
		case models.OrderStatusPending, models.OrderStatusPaid, models.OrderStatusFailed:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *orderRepository) load(db *gorm.DB, orderNo string) (*models.Order, error) {
	var order models.Order
	if err := db.Where("order_no = ?", orderNo).Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// rejection explains why a conditional update touched no rows.
func (r *orderRepository) rejection(db *gorm.DB, orderNo string, orgID uint, to models.OrderStatus) error {
	var current models.Order
	err := db.Select("status").Where("order_no = ? AND org_id = ?", orderNo, orgID).Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	return &TransitionError{OrderNo: orderNo, From: current.Status, To: to}
}

func statusStrings(in []models.OrderStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
