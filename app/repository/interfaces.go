package repository

import (
	"time"

	"github.com/ManuelReschke/OrderHook/app/models"
	"gorm.io/gorm"
)

// OrderRepository exposes the conditional status transitions the webhook
// pipeline drives. Every transition is a single conditional UPDATE, never a
// read-then-write.
type OrderRepository interface {
	FindByOrderNo(orderNo string) (*models.Order, error)
	TransitionToPaidAtomic(orderNo string, orgID uint, externalTradeNo *string, paidAt *time.Time) (*models.Order, error)
	Transition(orderNo string, to models.OrderStatus, orgID uint) (*models.Order, error)
}

// PaymentEventRepository defines the durable idempotency table operations.
type PaymentEventRepository interface {
	CreateIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error)
	GetByProviderEvent(provider, providerEventID string) (*models.PaymentEvent, error)
	MarkProcessing(id uint) (bool, error)
	MarkFinished(id uint, status, handleStatus, errorCode string, processedAt time.Time) (bool, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Order        OrderRepository
	PaymentEvent PaymentEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Order:        NewOrderRepository(db),
		PaymentEvent: NewPaymentEventRepository(db),
	}
}
