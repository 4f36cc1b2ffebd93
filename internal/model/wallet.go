package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the per-user, per-tenant balance record.
type Wallet struct {
	ID        string          `gorm:"primaryKey;size:36;column:id"`
	UserID    string          `gorm:"size:64;not null;uniqueIndex:idx_wallet_tenant_user,priority:2"`
	TenantID  string          `gorm:"size:36;not null;uniqueIndex:idx_wallet_tenant_user,priority:1"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'"`
	Currency  string          `gorm:"size:3;not null;default:'USD'"`
	Version   uint64          `gorm:"not null;default:0"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallet" }
