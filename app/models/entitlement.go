package models

import "time"

const (
	EntitlementKindSKU          = "sku"
	EntitlementKindReportUnlock = "report_unlock"
)

const (
	WalletKindCredit = "credit"
	WalletKindDebit  = "debit"
)

// Entitlement is a benefit granted when an order is fulfilled.
type Entitlement struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	OrderNo   string     `gorm:"type:varchar(64);not null;index:ux_entitlements_order_kind,unique,priority:1" json:"order_no"`
	Kind      string     `gorm:"type:varchar(32);not null;index:ux_entitlements_order_kind,unique,priority:2" json:"kind"`
	OrgID     uint       `gorm:"not null;index" json:"org_id"`
	UserID    *uint      `gorm:"index" json:"user_id,omitempty"`
	AnonID    string     `gorm:"type:varchar(64);not null;default:''" json:"anon_id,omitempty"`
	Ref       string     `gorm:"type:varchar(100);not null;default:''" json:"ref"`
	GrantedAt time.Time  `gorm:"type:timestamp;not null" json:"granted_at"`
	RevokedAt *time.Time `gorm:"type:timestamp;default:null" json:"revoked_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// WalletTransaction is an append-only ledger entry for org wallet balances.
type WalletTransaction struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	OrgID       uint      `gorm:"not null;index" json:"org_id"`
	OrderNo     string    `gorm:"type:varchar(64);not null;index:ux_wallet_tx_order_kind,unique,priority:1" json:"order_no"`
	Kind        string    `gorm:"type:varchar(16);not null;index:ux_wallet_tx_order_kind,unique,priority:2" json:"kind"`
	AmountCents int64     `gorm:"not null" json:"amount_cents"`
	Currency    string    `gorm:"type:varchar(8);not null;default:''" json:"currency"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
