package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

// LedgerEntry is an append-only line of a creator's financial history.
// Rows are never updated or deleted.
type LedgerEntry struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CreatorID        uuid.UUID             `gorm:"column:creator_id;type:uuid;not null;index"`
	TransactionID    *uuid.UUID            `gorm:"column:transaction_id;type:uuid"`
	PayoutID         *uuid.UUID            `gorm:"column:payout_id;type:uuid"`
	Type             enums.LedgerEntryType `gorm:"column:entry_type;type:ledger_entry_type;not null"`
	GrossCents       int64                 `gorm:"column:gross_cents;not null"`
	PlatformFeeCents int64                 `gorm:"column:platform_fee_cents;not null"`
	NetCents         int64                 `gorm:"column:net_cents;not null"`
	Description      *string               `gorm:"column:description"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (l *LedgerEntry) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
