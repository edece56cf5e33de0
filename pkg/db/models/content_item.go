package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

// ContentItem is the access-relevant slice of a post or stream. The content
// service owns the table; this package only reads it.
type ContentItem struct {
	ID         uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	CreatorID  uuid.UUID               `gorm:"column:creator_id;type:uuid;not null"`
	Visibility enums.ContentVisibility `gorm:"column:visibility;type:content_visibility;not null"`
	PriceCents int64                   `gorm:"column:price_cents;not null;default:0"`
	IsDisabled bool                    `gorm:"column:is_disabled;not null;default:false"`
	CreatedAt  time.Time               `gorm:"column:created_at;autoCreateTime"`
}
