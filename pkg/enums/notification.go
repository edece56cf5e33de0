package enums

import "fmt"

// NotificationType names the message a collaborator should deliver.
type NotificationType string

const (
	NotificationTypePaymentReceived      NotificationType = "payment_received"
	NotificationTypeTipReceived          NotificationType = "tip_received"
	NotificationTypeSubscriptionStarted  NotificationType = "subscription_started"
	NotificationTypeSubscriptionCanceled NotificationType = "subscription_canceled"
	NotificationTypeChargebackReceived   NotificationType = "chargeback_received"
	NotificationTypePayoutCompleted      NotificationType = "payout_completed"
	NotificationTypePayoutRejected       NotificationType = "payout_rejected"
)

var validNotificationTypes = []NotificationType{
	NotificationTypePaymentReceived,
	NotificationTypeTipReceived,
	NotificationTypeSubscriptionStarted,
	NotificationTypeSubscriptionCanceled,
	NotificationTypeChargebackReceived,
	NotificationTypePayoutCompleted,
	NotificationTypePayoutRejected,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
