package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
)

// WebhookFailure omits the raw payload, which may carry provider PII.
type WebhookFailure struct {
	ID                    uuid.UUID `json:"id"`
	Provider              string    `json:"provider"`
	EventID               string    `json:"event_id"`
	EventType             string    `json:"event_type"`
	ProviderTransactionID *string   `json:"provider_transaction_id,omitempty"`
	ErrorMessage          string    `json:"error_message"`
	AttemptCount          int       `json:"attempt_count"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func NewWebhookFailures(rows []models.WebhookFailure) []WebhookFailure {
	out := make([]WebhookFailure, 0, len(rows))
	for _, row := range rows {
		out = append(out, WebhookFailure{
			ID:                    row.ID,
			Provider:              row.Provider,
			EventID:               row.EventID,
			EventType:             row.EventType,
			ProviderTransactionID: row.ProviderTransactionID,
			ErrorMessage:          row.ErrorMessage,
			AttemptCount:          row.AttemptCount,
			CreatedAt:             row.CreatedAt,
			UpdatedAt:             row.UpdatedAt,
		})
	}
	return out
}
