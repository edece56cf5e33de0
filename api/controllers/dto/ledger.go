package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

type LedgerEntry struct {
	ID               uuid.UUID             `json:"id"`
	Type             enums.LedgerEntryType `json:"type"`
	TransactionID    *uuid.UUID            `json:"transaction_id,omitempty"`
	PayoutID         *uuid.UUID            `json:"payout_id,omitempty"`
	GrossCents       int64                 `json:"gross_cents"`
	PlatformFeeCents int64                 `json:"platform_fee_cents"`
	NetCents         int64                 `json:"net_cents"`
	Description      *string               `json:"description,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
}

func NewLedgerEntries(rows []models.LedgerEntry) []LedgerEntry {
	out := make([]LedgerEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, LedgerEntry{
			ID:               row.ID,
			Type:             row.Type,
			TransactionID:    row.TransactionID,
			PayoutID:         row.PayoutID,
			GrossCents:       row.GrossCents,
			PlatformFeeCents: row.PlatformFeeCents,
			NetCents:         row.NetCents,
			Description:      row.Description,
			CreatedAt:        row.CreatedAt,
		})
	}
	return out
}
