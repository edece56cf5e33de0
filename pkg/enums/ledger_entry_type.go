package enums

import "fmt"

// LedgerEntryType classifies a creator ledger line.
type LedgerEntryType string

const (
	LedgerEntryTypeEarnings   LedgerEntryType = "earnings"
	LedgerEntryTypePayout     LedgerEntryType = "payout"
	LedgerEntryTypeRefund     LedgerEntryType = "refund"
	LedgerEntryTypeAdjustment LedgerEntryType = "adjustment"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryTypeEarnings,
	LedgerEntryTypePayout,
	LedgerEntryTypeRefund,
	LedgerEntryTypeAdjustment,
}

// String implements fmt.Stringer.
func (t LedgerEntryType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into a LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
