package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

// Subscription is a fan to creator recurring relationship.
type Subscription struct {
	ID                uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	FanID             uuid.UUID                `gorm:"column:fan_id;type:uuid;not null;index"`
	CreatorID         uuid.UUID                `gorm:"column:creator_id;type:uuid;not null;index"`
	TierName          string                   `gorm:"column:tier_name;not null"`
	PriceCents        int64                    `gorm:"column:price_cents;not null"`
	Status            enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'pending'"`
	StartedAt         *time.Time               `gorm:"column:started_at"`
	ExpiresAt         *time.Time               `gorm:"column:expires_at"`
	CanceledAt        *time.Time               `gorm:"column:canceled_at"`
	CancelReason      *string                  `gorm:"column:cancel_reason"`
	AutoRenew         bool                     `gorm:"column:auto_renew;not null"`
	LastTransactionID *uuid.UUID               `gorm:"column:last_transaction_id;type:uuid"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// IsActiveAt reports whether the subscription grants access at now. A row
// still marked active is treated as lapsed once expires_at has passed.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	if s == nil || s.Status != enums.SubscriptionStatusActive {
		return false
	}
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}
