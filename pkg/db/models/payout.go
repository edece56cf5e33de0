package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

// Payout is a creator withdrawal request.
type Payout struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CreatorID     uuid.UUID          `gorm:"column:creator_id;type:uuid;not null;index"`
	AmountCents   int64              `gorm:"column:amount_cents;not null"`
	Status        enums.PayoutStatus `gorm:"column:status;type:payout_status;not null;default:'pending'"`
	Method        enums.PayoutMethod `gorm:"column:method;not null"`
	MethodDetails datatypes.JSON     `gorm:"column:method_details;type:jsonb"`
	AdminNotes    *string            `gorm:"column:admin_notes"`
	ProcessedBy   *uuid.UUID         `gorm:"column:processed_by;type:uuid"`
	ProcessedAt   *time.Time         `gorm:"column:processed_at"`
	FailureReason *string            `gorm:"column:failure_reason"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payout) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
