package entitlements

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/OrderHook/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Benefits describes what fulfilling an order grants.
type Benefits struct {
	Entitlements []models.Entitlement
	WalletCredit *models.WalletTransaction
}

// ForOrder computes the benefits of an order without touching the database.
func ForOrder(order *models.Order, now time.Time) Benefits {
	var b Benefits
	if sku := strings.TrimSpace(order.SKU); sku != "" {
		b.Entitlements = append(b.Entitlements, models.Entitlement{
			OrderNo:   order.OrderNo,
			Kind:      models.EntitlementKindSKU,
			OrgID:     order.OrgID,
			UserID:    order.UserID,
			AnonID:    order.AnonID,
			Ref:       sku,
			GrantedAt: now,
		})
	}
	if report := strings.TrimSpace(order.ReportID); report != "" {
		b.Entitlements = append(b.Entitlements, models.Entitlement{
			OrderNo:   order.OrderNo,
			Kind:      models.EntitlementKindReportUnlock,
			OrgID:     order.OrgID,
			UserID:    order.UserID,
			AnonID:    order.AnonID,
			Ref:       report,
			GrantedAt: now,
		})
	}
	if order.WalletCreditCents > 0 {
		b.WalletCredit = &models.WalletTransaction{
			OrgID:       order.OrgID,
			OrderNo:     order.OrderNo,
			Kind:        models.WalletKindCredit,
			AmountCents: order.WalletCreditCents,
			Currency:    order.Currency,
		}
	}
	return b
}

// Grant writes the benefits of a fulfilled order inside tx. Rows are unique
// per order, so a repeated grant is a no-op.
func Grant(tx *gorm.DB, order *models.Order, now time.Time) error {
	b := ForOrder(order, now)
	for i := range b.Entitlements {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&b.Entitlements[i]).Error; err != nil {
			return fmt.Errorf("grant %s entitlement for %s: %w", b.Entitlements[i].Kind, order.OrderNo, err)
		}
	}
	if b.WalletCredit != nil {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(b.WalletCredit).Error; err != nil {
			return fmt.Errorf("credit wallet for %s: %w", order.OrderNo, err)
		}
	}
	return nil
}

// Revoke marks the order's entitlements revoked and reverses a prior wallet credit.
func Revoke(tx *gorm.DB, order *models.Order, now time.Time) error {
	if err := tx.Model(&models.Entitlement{}).
		Where("order_no = ? AND revoked_at IS NULL", order.OrderNo).
		Update("revoked_at", now).Error; err != nil {
		return fmt.Errorf("revoke entitlements for %s: %w", order.OrderNo, err)
	}

	var credit models.WalletTransaction
	err := tx.Where("order_no = ? AND kind = ?", order.OrderNo, models.WalletKindCredit).Take(&credit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load wallet credit for %s: %w", order.OrderNo, err)
	}

	debit := &models.WalletTransaction{
		OrgID:       credit.OrgID,
		OrderNo:     credit.OrderNo,
		Kind:        models.WalletKindDebit,
		AmountCents: -credit.AmountCents,
		Currency:    credit.Currency,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(debit).Error; err != nil {
		return fmt.Errorf("debit wallet for %s: %w", order.OrderNo, err)
	}
	return nil
}
