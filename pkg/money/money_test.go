package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPlatformFeeFloorsAtTwentyPercent(t *testing.T) {
	tests := []struct {
		gross int64
		fee   int64
		net   int64
	}{
		{gross: 0, fee: 0, net: 0},
		{gross: 1, fee: 0, net: 1},
		{gross: 4, fee: 0, net: 4},
		{gross: 5, fee: 1, net: 4},
		{gross: 999, fee: 199, net: 800},
		{gross: 1001, fee: 200, net: 801},
		{gross: 10000, fee: 2000, net: 8000},
		{gross: 123457, fee: 24691, net: 98766},
	}
	for _, tt := range tests {
		if got := PlatformFee(tt.gross); got != tt.fee {
			t.Fatalf("PlatformFee(%d) = %d, want %d", tt.gross, got, tt.fee)
		}
		if got := NetAmount(tt.gross); got != tt.net {
			t.Fatalf("NetAmount(%d) = %d, want %d", tt.gross, got, tt.net)
		}
	}
}

func TestFeePlusNetEqualsGross(t *testing.T) {
	for gross := int64(0); gross <= 50000; gross += 7 {
		fee := PlatformFee(gross)
		if fee+NetAmount(gross) != gross {
			t.Fatalf("fee+net != gross for %d", gross)
		}
		if fee != gross*2/10 {
			t.Fatalf("fee for %d = %d, want %d", gross, fee, gross*2/10)
		}
	}
}

func TestPlatformFeeNegativeIsZero(t *testing.T) {
	if fee := PlatformFee(-500); fee != 0 {
		t.Fatalf("expected 0 fee for negative gross, got %d", fee)
	}
}

func TestSplit(t *testing.T) {
	fee, net, err := Split(2599)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fee != 519 || net != 2080 {
		t.Fatalf("unexpected split fee=%d net=%d", fee, net)
	}
	if _, _, err := Split(-1); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestFormatUSD(t *testing.T) {
	tests := map[int64]string{
		0:      "$0.00",
		5:      "$0.05",
		10000:  "$100.00",
		-8000:  "-$80.00",
		123456: "$1234.56",
	}
	for cents, want := range tests {
		if got := FormatUSD(cents); got != want {
			t.Fatalf("FormatUSD(%d) = %q, want %q", cents, got, want)
		}
	}
}

func TestFeeRateIsReadOnly(t *testing.T) {
	rate := FeeRate()
	if !rate.Equal(decimal.RequireFromString("0.20")) {
		t.Fatalf("unexpected fee rate %s", rate)
	}
	_ = rate.Add(decimal.NewFromInt(1))
	if got := PlatformFee(100); got != 20 {
		t.Fatalf("fee changed after caller arithmetic on the rate: %d", got)
	}
	if !FeeRate().Equal(decimal.RequireFromString("0.20")) {
		t.Fatalf("fee rate changed to %s", FeeRate())
	}
}
