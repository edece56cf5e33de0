package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
)

// OutboxDLQEntry drops the payload; operators replay from the event id.
type OutboxDLQEntry struct {
	ID            uuid.UUID `json:"id"`
	EventID       uuid.UUID `json:"event_id"`
	EventType     string    `json:"event_type"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   uuid.UUID `json:"aggregate_id"`
	ErrorReason   string    `json:"error_reason"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	AttemptCount  int       `json:"attempt_count"`
	FailedAt      time.Time `json:"failed_at"`
}

func NewOutboxDLQEntries(rows []models.OutboxDLQ) []OutboxDLQEntry {
	out := make([]OutboxDLQEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, OutboxDLQEntry{
			ID:            row.ID,
			EventID:       row.EventID,
			EventType:     string(row.EventType),
			AggregateType: string(row.AggregateType),
			AggregateID:   row.AggregateID,
			ErrorReason:   string(row.ErrorReason),
			ErrorMessage:  row.ErrorMessage,
			AttemptCount:  row.AttemptCount,
			FailedAt:      row.FailedAt,
		})
	}
	return out
}
