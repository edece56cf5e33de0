// Package reconciler folds normalized payment-provider events into
// transactions, subscriptions, entitlements and the ledger.
package reconciler

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/metrics"
)

// PaymentEvent is the provider-neutral shape every webhook is normalized into.
type PaymentEvent struct {
	Type                  enums.PaymentEventType `json:"type"`
	Provider              string                 `json:"provider"`
	EventID               string                 `json:"event_id"`
	ProviderTransactionID string                 `json:"provider_transaction_id,omitempty"`
	SubscriptionID        *uuid.UUID             `json:"subscription_id,omitempty"`
	GrossCents            int64                  `json:"gross_cents"`
	Currency              enums.Currency         `json:"currency,omitempty"`
	ProviderStatus        string                 `json:"provider_status,omitempty"`
	FailureReason         string                 `json:"failure_reason,omitempty"`
	Metadata              EventMetadata          `json:"metadata"`
	OccurredAt            time.Time              `json:"occurred_at"`
}

// EventMetadata carries the business identifiers attached at checkout.
type EventMetadata struct {
	UserID          uuid.UUID             `json:"user_id"`
	CreatorID       *uuid.UUID            `json:"creator_id,omitempty"`
	TransactionType enums.TransactionType `json:"transaction_type,omitempty"`
	ContentID       *uuid.UUID            `json:"content_id,omitempty"`
	TierName        string                `json:"tier_name,omitempty"`
}

// Result reports what Apply did. Duplicate and Ignored events are
// acknowledged without side effects.
type Result struct {
	EventType      enums.PaymentEventType `json:"event_type"`
	TransactionID  *uuid.UUID             `json:"transaction_id,omitempty"`
	SubscriptionID *uuid.UUID             `json:"subscription_id,omitempty"`
	Duplicate      bool                   `json:"duplicate"`
	Ignored        bool                   `json:"ignored"`
	Reason         string                 `json:"reason,omitempty"`
}

func (r *Result) outcome() string {
	switch {
	case r.Duplicate:
		return metrics.OutcomeDuplicate
	case r.Ignored:
		return metrics.OutcomeIgnored
	default:
		return metrics.OutcomeApplied
	}
}

// validate checks the fields each known event type depends on. Unknown types
// pass through and are ignored by Apply.
func (e *PaymentEvent) validate() error {
	e.Provider = strings.ToLower(strings.TrimSpace(e.Provider))
	e.ProviderTransactionID = strings.TrimSpace(e.ProviderTransactionID)
	if e.Provider == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider is required")
	}
	if e.Currency == "" {
		e.Currency = enums.CurrencyUSD
	}
	if !e.Type.IsValid() {
		return nil
	}

	switch e.Type {
	case enums.PaymentEventSubscriptionCanceled:
		if e.SubscriptionID == nil || *e.SubscriptionID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
		}
		return nil
	case enums.PaymentEventChargebackCreated:
		if e.ProviderTransactionID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "provider transaction id is required")
		}
		return nil
	}

	if e.ProviderTransactionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider transaction id is required")
	}
	if e.GrossCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "gross amount must not be negative")
	}
	if e.Type == enums.PaymentEventFailed {
		return nil
	}

	md := e.Metadata
	if md.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "metadata.user_id is required")
	}
	if !md.TransactionType.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid transaction type %q", md.TransactionType)
	}
	if md.CreatorID == nil || *md.CreatorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "metadata.creator_id is required")
	}
	if *md.CreatorID == md.UserID {
		return pkgerrors.New(pkgerrors.CodeValidation, "payer and creator must differ")
	}
	if md.TransactionType == enums.TransactionTypePPV && (md.ContentID == nil || *md.ContentID == uuid.Nil) {
		return pkgerrors.New(pkgerrors.CodeValidation, "metadata.content_id is required for ppv")
	}
	return nil
}

// canInsertTransaction reports whether the event carries enough to create the
// transaction row itself rather than only update an existing one.
func (e *PaymentEvent) canInsertTransaction() bool {
	md := e.Metadata
	return md.UserID != uuid.Nil && md.TransactionType.IsValid()
}
