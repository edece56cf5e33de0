package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

// Transaction is one attempted payment, keyed by the provider's transaction id.
type Transaction struct {
	ID                    uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PayerID               uuid.UUID               `gorm:"column:payer_id;type:uuid;not null;index"`
	CreatorID             *uuid.UUID              `gorm:"column:creator_id;type:uuid;index"`
	SubscriptionID        *uuid.UUID              `gorm:"column:subscription_id;type:uuid"`
	ContentID             *uuid.UUID              `gorm:"column:content_id;type:uuid"`
	GrossCents            int64                   `gorm:"column:gross_cents;not null"`
	Currency              enums.Currency          `gorm:"column:currency;not null;default:'usd'"`
	Type                  enums.TransactionType   `gorm:"column:type;type:transaction_type;not null"`
	Status                enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null;default:'pending'"`
	Provider              string                  `gorm:"column:provider;not null"`
	ProviderTransactionID string                  `gorm:"column:provider_transaction_id;not null;uniqueIndex:ux_transactions_provider_txn"`
	FailureReason         *string                 `gorm:"column:failure_reason"`
	RefundedAt            *time.Time              `gorm:"column:refunded_at"`
	RefundMetadata        datatypes.JSON          `gorm:"column:refund_metadata;type:jsonb"`
	CreatedAt             time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
