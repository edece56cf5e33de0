package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WebhookFailure durably records a verified webhook whose processing failed,
// so it can be replayed or reconciled by hand.
type WebhookFailure struct {
	ID                    uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider              string         `gorm:"column:provider;not null;uniqueIndex:ux_webhook_failures_event"`
	EventID               string         `gorm:"column:event_id;not null;uniqueIndex:ux_webhook_failures_event"`
	EventType             string         `gorm:"column:event_type;not null"`
	ProviderTransactionID *string        `gorm:"column:provider_transaction_id"`
	Payload               datatypes.JSON `gorm:"column:payload;type:jsonb"`
	RawPayload            string         `gorm:"column:raw_payload;not null"`
	ErrorMessage          string         `gorm:"column:error_message;not null"`
	AttemptCount          int            `gorm:"column:attempt_count;not null;default:1"`
	ResolvedAt            *time.Time     `gorm:"column:resolved_at"`
	CreatedAt             time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *WebhookFailure) BeforeCreate(*gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
