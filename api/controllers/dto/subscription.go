package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

type Subscription struct {
	ID           uuid.UUID                `json:"id"`
	FanID        uuid.UUID                `json:"fan_id"`
	CreatorID    uuid.UUID                `json:"creator_id"`
	TierName     string                   `json:"tier_name"`
	PriceCents   int64                    `json:"price_cents"`
	Status       enums.SubscriptionStatus `json:"status"`
	AutoRenew    bool                     `json:"auto_renew"`
	StartedAt    *time.Time               `json:"started_at,omitempty"`
	ExpiresAt    *time.Time               `json:"expires_at,omitempty"`
	CanceledAt   *time.Time               `json:"canceled_at,omitempty"`
	CancelReason *string                  `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

func NewSubscription(sub *models.Subscription) Subscription {
	return Subscription{
		ID:           sub.ID,
		FanID:        sub.FanID,
		CreatorID:    sub.CreatorID,
		TierName:     sub.TierName,
		PriceCents:   sub.PriceCents,
		Status:       sub.Status,
		AutoRenew:    sub.AutoRenew,
		StartedAt:    sub.StartedAt,
		ExpiresAt:    sub.ExpiresAt,
		CanceledAt:   sub.CanceledAt,
		CancelReason: sub.CancelReason,
		CreatedAt:    sub.CreatedAt,
		UpdatedAt:    sub.UpdatedAt,
	}
}

func NewSubscriptions(rows []models.Subscription) []Subscription {
	out := make([]Subscription, 0, len(rows))
	for i := range rows {
		out = append(out, NewSubscription(&rows[i]))
	}
	return out
}
