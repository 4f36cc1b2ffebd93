package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryTopUp    EntryType = "TopUp"
	EntryTransfer EntryType = "Transfer"
)

// EntryStatusCompleted is the only status written: entries are persisted after success.
const EntryStatusCompleted = "Completed"

// LedgerEntry is an immutable record of one balance-affecting event.
// Amount is signed: positive credits, negative debits.
type LedgerEntry struct {
	ID            string          `gorm:"primaryKey;size:36"`
	WalletID      string          `gorm:"size:36;not null;index:idx_entry_wallet_created,priority:1;uniqueIndex:idx_entry_wallet_reference,priority:1"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Type          EntryType       `gorm:"size:16;not null;index:idx_entry_type_reference,priority:1"`
	Status        string          `gorm:"size:16;not null"`
	Description   string          `gorm:"size:255"`
	Reference     string          `gorm:"size:128;not null;uniqueIndex:idx_entry_wallet_reference,priority:2;index:idx_entry_type_reference,priority:2;uniqueIndex:idx_entry_topup_reference,where:type = 'TopUp'"`
	CreatedAt     time.Time       `gorm:"not null;index:idx_entry_wallet_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entry" }
