package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

type Payout struct {
	ID            uuid.UUID          `json:"id"`
	CreatorID     uuid.UUID          `json:"creator_id"`
	AmountCents   int64              `json:"amount_cents"`
	Status        enums.PayoutStatus `json:"status"`
	Method        enums.PayoutMethod `json:"method"`
	MethodDetails json.RawMessage    `json:"method_details,omitempty"`
	AdminNotes    *string            `json:"admin_notes,omitempty"`
	ProcessedBy   *uuid.UUID         `json:"processed_by,omitempty"`
	ProcessedAt   *time.Time         `json:"processed_at,omitempty"`
	FailureReason *string            `json:"failure_reason,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func NewPayout(p *models.Payout) Payout {
	out := Payout{
		ID:            p.ID,
		CreatorID:     p.CreatorID,
		AmountCents:   p.AmountCents,
		Status:        p.Status,
		Method:        p.Method,
		AdminNotes:    p.AdminNotes,
		ProcessedBy:   p.ProcessedBy,
		ProcessedAt:   p.ProcessedAt,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if len(p.MethodDetails) > 0 {
		out.MethodDetails = json.RawMessage(p.MethodDetails)
	}
	return out
}

func NewPayouts(rows []models.Payout) []Payout {
	out := make([]Payout, 0, len(rows))
	for i := range rows {
		out = append(out, NewPayout(&rows[i]))
	}
	return out
}
