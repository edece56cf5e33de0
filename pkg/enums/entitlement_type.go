package enums

import "fmt"

// EntitlementType records why a user may access content.
type EntitlementType string

const (
	EntitlementTypeSubscription EntitlementType = "subscription"
	EntitlementTypePPVPurchase  EntitlementType = "ppv_purchase"
	EntitlementTypeTip          EntitlementType = "tip"
	EntitlementTypeFree         EntitlementType = "free"
)

var validEntitlementTypes = []EntitlementType{
	EntitlementTypeSubscription,
	EntitlementTypePPVPurchase,
	EntitlementTypeTip,
	EntitlementTypeFree,
}

// IsValid reports whether the value is known.
func (e EntitlementType) IsValid() bool {
	for _, candidate := range validEntitlementTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEntitlementType converts raw input into an EntitlementType.
func ParseEntitlementType(value string) (EntitlementType, error) {
	for _, candidate := range validEntitlementTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid entitlement type %q", value)
}
