package enums

import (
	"fmt"
	"strings"
)

// PayoutStatus tracks a creator withdrawal request.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

var validPayoutStatuses = []PayoutStatus{
	PayoutStatusPending,
	PayoutStatusProcessing,
	PayoutStatusCompleted,
	PayoutStatusFailed,
	PayoutStatusCancelled,
}

// String implements fmt.Stringer.
func (s PayoutStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s PayoutStatus) IsValid() bool {
	for _, candidate := range validPayoutStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsOpen reports whether the payout still reserves funds.
func (s PayoutStatus) IsOpen() bool {
	return s == PayoutStatusPending || s == PayoutStatusProcessing
}

// ParsePayoutStatus converts raw input into a PayoutStatus.
func ParsePayoutStatus(value string) (PayoutStatus, error) {
	for _, candidate := range validPayoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout status %q", value)
}

// PayoutMethod is how the creator wants to be paid.
type PayoutMethod string

const (
	PayoutMethodBankTransfer  PayoutMethod = "bank_transfer"
	PayoutMethodPayPal        PayoutMethod = "paypal"
	PayoutMethodStripeConnect PayoutMethod = "stripe_connect"
	PayoutMethodCheck         PayoutMethod = "check"
)

var validPayoutMethods = []PayoutMethod{
	PayoutMethodBankTransfer,
	PayoutMethodPayPal,
	PayoutMethodStripeConnect,
	PayoutMethodCheck,
}

// IsValid reports whether the value is known.
func (m PayoutMethod) IsValid() bool {
	for _, candidate := range validPayoutMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParsePayoutMethod converts raw input into a PayoutMethod.
func ParsePayoutMethod(value string) (PayoutMethod, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPayoutMethods {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout method %q", value)
}

// PayoutAction is an admin decision on a payout.
type PayoutAction string

const (
	PayoutActionProcess PayoutAction = "process"
	PayoutActionApprove PayoutAction = "approve"
	PayoutActionReject  PayoutAction = "reject"
	PayoutActionCancel  PayoutAction = "cancel"
)

var validPayoutActions = []PayoutAction{
	PayoutActionProcess,
	PayoutActionApprove,
	PayoutActionReject,
	PayoutActionCancel,
}

// IsValid reports whether the value is known.
func (a PayoutAction) IsValid() bool {
	for _, candidate := range validPayoutActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParsePayoutAction converts raw input into a PayoutAction.
func ParsePayoutAction(value string) (PayoutAction, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPayoutActions {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout action %q", value)
}
