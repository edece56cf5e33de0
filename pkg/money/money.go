// Package money holds the platform fee arithmetic. Every component that needs a
// fee or a net amount calls into here so the rate has a single definition.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// feeRate is the platform's share of every gross payment.
var feeRate = decimal.RequireFromString("0.20")

// FeeRate returns the platform fee rate for display. Fee arithmetic goes
// through PlatformFee.
func FeeRate() decimal.Decimal {
	return feeRate
}

var ErrNegativeAmount = errors.New("amount must not be negative")

// PlatformFee returns floor(gross * feeRate). Negative input yields 0.
func PlatformFee(grossCents int64) int64 {
	if grossCents <= 0 {
		return 0
	}
	return decimal.NewFromInt(grossCents).Mul(feeRate).Floor().IntPart()
}

// NetAmount returns what the creator keeps after the platform fee.
func NetAmount(grossCents int64) int64 {
	return grossCents - PlatformFee(grossCents)
}

// Split returns the fee and net parts of a gross amount.
func Split(grossCents int64) (feeCents, netCents int64, err error) {
	if grossCents < 0 {
		return 0, 0, ErrNegativeAmount
	}
	fee := PlatformFee(grossCents)
	return fee, grossCents - fee, nil
}

// FormatUSD renders cents as a dollar string, e.g. -1234 -> "-$12.34".
func FormatUSD(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + "$" + decimal.New(cents, -2).StringFixed(2)
}
