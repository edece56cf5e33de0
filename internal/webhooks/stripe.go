package webhooks

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/fanvault-backend/internal/reconciler"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
)

const ProviderStripe = "stripe"

// Normalizer verifies a raw delivery and converts it into a PaymentEvent.
type Normalizer interface {
	Provider() string
	Normalize(payload []byte, signature, contentType string) (reconciler.PaymentEvent, error)
}

// MalformedError marks a delivery whose signature verified but whose body
// could not be turned into an event. The boundary records it instead of
// rejecting it.
type MalformedError struct {
	Provider string
	Err      error
}

func (e *MalformedError) Error() string {
	return e.Provider + " webhook malformed: " + e.Err.Error()
}

func (e *MalformedError) Unwrap() error { return e.Err }

func malformed(provider string, err error) error {
	return &MalformedError{Provider: provider, Err: err}
}

type StripeNormalizer struct {
	secret string
}

func NewStripeNormalizer(secret string) (*StripeNormalizer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe signing secret required")
	}
	return &StripeNormalizer{secret: secret}, nil
}

func (n *StripeNormalizer) Provider() string { return ProviderStripe }

// Normalize verifies the Stripe-Signature header and maps the event. Types
// outside the payment lifecycle keep their Stripe name and are ignored
// downstream.
func (n *StripeNormalizer) Normalize(payload []byte, signature, _ string) (reconciler.PaymentEvent, error) {
	if strings.TrimSpace(signature) == "" {
		return reconciler.PaymentEvent{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "stripe signature missing")
	}
	event, err := webhook.ConstructEvent(payload, signature, n.secret)
	if err != nil {
		if stripeSignatureFailure(err) {
			return reconciler.PaymentEvent{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid stripe signature")
		}
		return reconciler.PaymentEvent{}, malformed(ProviderStripe, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event"))
	}

	out := reconciler.PaymentEvent{
		Type:       enums.PaymentEventType(event.Type),
		Provider:   ProviderStripe,
		EventID:    event.ID,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil || event.Data.Object == nil {
		return out, nil
	}
	obj := event.Data.Object
	meta := stringMap(obj["metadata"])

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypeChargeSucceeded:
		out.Type = enums.PaymentEventCompleted
	case stripe.EventTypePaymentIntentPaymentFailed:
		out.Type = enums.PaymentEventFailed
		out.FailureReason = event.GetObjectValue("last_payment_error", "message")
	case stripe.EventTypeCustomerSubscriptionDeleted:
		out.Type = enums.PaymentEventSubscriptionCanceled
		out.ProviderStatus = stringValue(obj["status"])
		out.FailureReason = event.GetObjectValue("cancellation_details", "reason")
		out.SubscriptionID = parseUUID(meta["subscription_id"])
		return out, nil
	case stripe.EventTypeChargeDisputeCreated:
		out.Type = enums.PaymentEventChargebackCreated
		out.FailureReason = stringValue(obj["reason"])
	default:
		return out, nil
	}

	out.ProviderTransactionID = paymentReference(obj)
	out.GrossCents = int64Value(obj["amount"])
	out.Currency = enums.Currency(strings.ToLower(stringValue(obj["currency"])))
	out.ProviderStatus = stringValue(obj["status"])
	out.SubscriptionID = parseUUID(meta["subscription_id"])
	out.Metadata = metadataFrom(meta)
	return out, nil
}

// stripeSignatureFailure separates header and HMAC failures from body or API
// version problems, which ConstructEvent only reports after verification.
func stripeSignatureFailure(err error) bool {
	for _, sigErr := range []error{webhook.ErrNotSigned, webhook.ErrInvalidHeader, webhook.ErrNoValidSignature, webhook.ErrTooOld} {
		if errors.Is(err, sigErr) {
			return true
		}
	}
	return false
}

// paymentReference prefers the payment intent id so that intent and charge
// events for one payment share a provider transaction id.
func paymentReference(obj map[string]any) string {
	if pi := stringValue(obj["payment_intent"]); pi != "" {
		return pi
	}
	if nested, ok := obj["payment_intent"].(map[string]any); ok {
		if id := stringValue(nested["id"]); id != "" {
			return id
		}
	}
	if strings.HasPrefix(stringValue(obj["object"]), "payment_intent") {
		return stringValue(obj["id"])
	}
	if charge := stringValue(obj["charge"]); charge != "" && stringValue(obj["object"]) == "dispute" {
		return charge
	}
	return stringValue(obj["id"])
}

func metadataFrom(meta map[string]string) reconciler.EventMetadata {
	md := reconciler.EventMetadata{
		CreatorID:       parseUUID(meta["creator_id"]),
		ContentID:       parseUUID(meta["content_id"]),
		TransactionType: enums.TransactionType(strings.ToLower(strings.TrimSpace(meta["transaction_type"]))),
		TierName:        strings.TrimSpace(meta["tier_name"]),
	}
	if userID := parseUUID(meta["user_id"]); userID != nil {
		md.UserID = *userID
	}
	return md
}

func parseUUID(value string) *uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil || id == uuid.Nil {
		return nil
	}
	return &id
}

func stringMap(value any) map[string]string {
	out := map[string]string{}
	raw, ok := value.(map[string]any)
	if !ok {
		return out
	}
	for k, v := range raw {
		out[k] = stringValue(v)
	}
	return out
}

func stringValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	default:
		return ""
	}
}

func int64Value(value any) int64 {
	switch v := value.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
