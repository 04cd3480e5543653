package models

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusRefunded  OrderStatus = "refunded"
	OrderStatusFailed    OrderStatus = "failed"
)

// AllOrderStatuses lists every valid status.
var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusFulfilled,
	OrderStatusRefunded,
	OrderStatusFailed,
}

// ParseOrderStatus converts a stored string into an OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFulfilled, OrderStatusRefunded, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the webhook pipeline stops advancing an order in this state.
// Refunds are still accepted from fulfilled and failed, see CanTransition.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFulfilled, OrderStatusRefunded, OrderStatusFailed:
		return true
	case OrderStatusPending, OrderStatusPaid:
		return false
	default:
		return false
	}
}

// CanTransition reports whether s -> to is an allowed edge.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	switch to {
	case OrderStatusPaid:
		return s == OrderStatusPending
	case OrderStatusFulfilled:
		return s == OrderStatusPaid
	case OrderStatusRefunded:
		return s.Valid() && s != OrderStatusRefunded
	case OrderStatusFailed:
		return s == OrderStatusPending || s == OrderStatusPaid
	case OrderStatusPending:
		return false
	default:
		return false
	}
}

// PredecessorsOf returns every status that may move to the given status.
func PredecessorsOf(to OrderStatus) []OrderStatus {
	out := make([]OrderStatus, 0, len(AllOrderStatuses))
	for _, from := range AllOrderStatuses {
		if from.CanTransition(to) {
			out = append(out, from)
		}
	}
	return out
}

// Order is a purchase placed by an org member. The webhook pipeline only moves
// its status; creation and pricing happen elsewhere.
type Order struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	OrderNo           string      `gorm:"type:varchar(64);not null;uniqueIndex:ux_orders_order_no" json:"order_no"`
	OrgID             uint        `gorm:"not null;index" json:"org_id"`
	UserID            *uint       `gorm:"index" json:"user_id,omitempty"`
	AnonID            string      `gorm:"type:varchar(64);not null;default:''" json:"anon_id,omitempty"`
	SKU               string      `gorm:"type:varchar(100);not null;default:''" json:"sku"`
	Status            OrderStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	AmountCents       int64       `gorm:"not null;default:0" json:"amount_cents"`
	Currency          string      `gorm:"type:varchar(8);not null;default:''" json:"currency"`
	WalletCreditCents int64       `gorm:"not null;default:0" json:"wallet_credit_cents"`
	ReportID          string      `gorm:"type:varchar(64);not null;default:''" json:"report_id,omitempty"`
	ExternalTradeNo   *string     `gorm:"type:varchar(191)" json:"external_trade_no,omitempty"`
	PaidAt            *time.Time  `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	FulfilledAt       *time.Time  `gorm:"type:timestamp;default:null" json:"fulfilled_at,omitempty"`
	RefundedAt        *time.Time  `gorm:"type:timestamp;default:null" json:"refunded_at,omitempty"`
	CreatedAt         time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}
