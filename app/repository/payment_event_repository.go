package repository

import (
	"errors"
	"time"

	"github.com/ManuelReschke/OrderHook/app/models"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const mysqlErrDuplicateEntry = 1062

type paymentEventRepository struct {
	db *gorm.DB
}

// NewPaymentEventRepository creates a payment event repository backed by GORM.
func NewPaymentEventRepository(db *gorm.DB) PaymentEventRepository {
	return &paymentEventRepository{db: db}
}

// CreateIfNotExists inserts event unless a row with the same
// (provider, provider_event_id) exists. It reports whether this call created
// the row and returns the stored row either way.
func (r *paymentEventRepository) CreateIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)

	created := tx.Error == nil && tx.RowsAffected > 0
	if tx.Error != nil && !IsDuplicateKey(tx.Error) {
		return false, nil, tx.Error
	}

	stored, err := r.GetByProviderEvent(event.Provider, event.ProviderEventID)
	if err != nil {
		return false, nil, err
	}
	return created, stored, nil
}

func (r *paymentEventRepository) GetByProviderEvent(provider, providerEventID string) (*models.PaymentEvent, error) {
	var stored models.PaymentEvent
	err := r.db.Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Take(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// MarkProcessing claims a received row. It reports false when the row was
// not in received, i.e. another handler already claimed it.
func (r *paymentEventRepository) MarkProcessing(id uint) (bool, error) {
	tx := r.db.Model(&models.PaymentEvent{}).
		Where("id = ? AND status = ?", id, models.PaymentEventStatusReceived).
		Update("status", models.PaymentEventStatusProcessing)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// MarkFinished records the outcome unless the row already holds a final one.
func (r *paymentEventRepository) MarkFinished(id uint, status, handleStatus, errorCode string, processedAt time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":        status,
		"handle_status": handleStatus,
		"error_code":    errorCode,
		"processed_at":  &processedAt,
	}
	tx := r.db.Model(&models.PaymentEvent{}).
		Where("id = ? AND status IN ?", id, []string{models.PaymentEventStatusReceived, models.PaymentEventStatusProcessing}).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry
}
