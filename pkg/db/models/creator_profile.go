package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

// CreatorProfile carries the verification state written by the KYC workflow.
type CreatorProfile struct {
	UserID    uuid.UUID       `gorm:"column:user_id;type:uuid;primaryKey"`
	KYCStatus enums.KYCStatus `gorm:"column:kyc_status;type:kyc_status;not null;default:'pending'"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
