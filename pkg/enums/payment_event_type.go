package enums

import (
	"fmt"
	"strings"
)

// PaymentEventType is the normalized kind of a provider webhook event.
type PaymentEventType string

const (
	PaymentEventCompleted            PaymentEventType = "payment.completed"
	PaymentEventFailed               PaymentEventType = "payment.failed"
	PaymentEventSubscriptionCanceled PaymentEventType = "subscription.canceled"
	PaymentEventChargebackCreated    PaymentEventType = "chargeback.created"
)

var validPaymentEventTypes = []PaymentEventType{
	PaymentEventCompleted,
	PaymentEventFailed,
	PaymentEventSubscriptionCanceled,
	PaymentEventChargebackCreated,
}

// String implements fmt.Stringer.
func (e PaymentEventType) String() string {
	return string(e)
}

// IsValid reports whether the value is known.
func (e PaymentEventType) IsValid() bool {
	for _, candidate := range validPaymentEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParsePaymentEventType converts raw input into a PaymentEventType.
func ParsePaymentEventType(value string) (PaymentEventType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPaymentEventTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment event type %q", value)
}
