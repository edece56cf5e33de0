package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

// Entitlement grants one user access to one creator's content. A nil
// ContentID means the grant covers everything the creator publishes.
type Entitlement struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	ContentID      *uuid.UUID            `gorm:"column:content_id;type:uuid"`
	CreatorID      uuid.UUID             `gorm:"column:creator_id;type:uuid;not null"`
	Type           enums.EntitlementType `gorm:"column:type;type:entitlement_type;not null"`
	SubscriptionID *uuid.UUID            `gorm:"column:subscription_id;type:uuid"`
	TransactionID  *uuid.UUID            `gorm:"column:transaction_id;type:uuid"`
	GrantedAt      time.Time             `gorm:"column:granted_at;not null"`
	ExpiresAt      *time.Time            `gorm:"column:expires_at"`
}

func (e *Entitlement) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// IsActiveAt reports whether the grant is unexpired at now.
func (e *Entitlement) IsActiveAt(now time.Time) bool {
	return e != nil && (e.ExpiresAt == nil || e.ExpiresAt.After(now))
}
