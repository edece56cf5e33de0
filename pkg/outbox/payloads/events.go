// Package payloads holds the JSON bodies carried inside outbox envelopes.
package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

// PaymentCompletedEvent is emitted once a provider payment settles.
type PaymentCompletedEvent struct {
	TransactionID         uuid.UUID             `json:"transaction_id"`
	ProviderTransactionID string                `json:"provider_transaction_id"`
	PayerID               uuid.UUID             `json:"payer_id"`
	CreatorID             *uuid.UUID            `json:"creator_id,omitempty"`
	Type                  enums.TransactionType `json:"type"`
	GrossCents            int64                 `json:"gross_cents"`
	NetCents              int64                 `json:"net_cents"`
	Currency              enums.Currency        `json:"currency"`
	SubscriptionID        *uuid.UUID            `json:"subscription_id,omitempty"`
	ContentID             *uuid.UUID            `json:"content_id,omitempty"`
}

// PaymentFailedEvent mirrors a failed provider charge.
type PaymentFailedEvent struct {
	TransactionID         uuid.UUID `json:"transaction_id"`
	ProviderTransactionID string    `json:"provider_transaction_id"`
	PayerID               uuid.UUID `json:"payer_id"`
	Reason                string    `json:"reason,omitempty"`
}

// ChargebackRecordedEvent is emitted when a settled payment is reversed.
type ChargebackRecordedEvent struct {
	TransactionID         uuid.UUID  `json:"transaction_id"`
	ProviderTransactionID string     `json:"provider_transaction_id"`
	CreatorID             *uuid.UUID `json:"creator_id,omitempty"`
	ReversedNetCents      int64      `json:"reversed_net_cents"`
	RefundedAt            time.Time  `json:"refunded_at"`
}

// SubscriptionEvent covers activation, cancellation and expiry.
type SubscriptionEvent struct {
	SubscriptionID uuid.UUID                `json:"subscription_id"`
	FanID          uuid.UUID                `json:"fan_id"`
	CreatorID      uuid.UUID                `json:"creator_id"`
	Status         enums.SubscriptionStatus `json:"status"`
	ExpiresAt      *time.Time               `json:"expires_at,omitempty"`
	Reason         string                   `json:"reason,omitempty"`
}

// PayoutEvent covers payout requests and admin decisions.
type PayoutEvent struct {
	PayoutID    uuid.UUID          `json:"payout_id"`
	CreatorID   uuid.UUID          `json:"creator_id"`
	AmountCents int64              `json:"amount_cents"`
	Status      enums.PayoutStatus `json:"status"`
	Method      enums.PayoutMethod `json:"method"`
	ProcessedBy *uuid.UUID         `json:"processed_by,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// NotificationRequestedEvent asks the delivery service to notify a user.
type NotificationRequestedEvent struct {
	UserID  uuid.UUID              `json:"user_id"`
	Type    enums.NotificationType `json:"type"`
	Title   string                 `json:"title"`
	Message string                 `json:"message"`
	Data    map[string]any         `json:"data,omitempty"`
}
