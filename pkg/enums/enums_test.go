package enums

import "testing"

func TestTransactionStatusForwardOnly(t *testing.T) {
	tests := []struct {
		from, to TransactionStatus
		allowed  bool
	}{
		{TransactionStatusPending, TransactionStatusCompleted, true},
		{TransactionStatusPending, TransactionStatusFailed, true},
		{TransactionStatusCompleted, TransactionStatusRefunded, true},
		{TransactionStatusCompleted, TransactionStatusPending, false},
		{TransactionStatusCompleted, TransactionStatusFailed, false},
		{TransactionStatusFailed, TransactionStatusCompleted, false},
		{TransactionStatusRefunded, TransactionStatusCompleted, false},
		{TransactionStatusPending, TransactionStatusRefunded, false},
		{TransactionStatusCompleted, TransactionStatusCompleted, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Fatalf("%s -> %s: expected %v got %v", tt.from, tt.to, tt.allowed, got)
		}
	}
}

func TestParsePaymentEventTypeNormalizes(t *testing.T) {
	got, err := ParsePaymentEventType(" Payment.Completed ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != PaymentEventCompleted {
		t.Fatalf("expected payment.completed got %s", got)
	}
	if _, err := ParsePaymentEventType("payment.exploded"); err == nil {
		t.Fatal("expected unknown event type to fail")
	}
}

func TestPayoutStatusIsOpen(t *testing.T) {
	open := []PayoutStatus{PayoutStatusPending, PayoutStatusProcessing}
	for _, s := range open {
		if !s.IsOpen() {
			t.Fatalf("%s should reserve funds", s)
		}
	}
	closed := []PayoutStatus{PayoutStatusCompleted, PayoutStatusFailed, PayoutStatusCancelled}
	for _, s := range closed {
		if s.IsOpen() {
			t.Fatalf("%s should not reserve funds", s)
		}
	}
}

func TestParsePayoutActionAndMethod(t *testing.T) {
	if a, err := ParsePayoutAction("APPROVE"); err != nil || a != PayoutActionApprove {
		t.Fatalf("expected approve, got %q err=%v", a, err)
	}
	if _, err := ParsePayoutAction("refund"); err == nil {
		t.Fatal("expected unknown action to fail")
	}
	if m, err := ParsePayoutMethod("paypal"); err != nil || m != PayoutMethodPayPal {
		t.Fatalf("expected paypal, got %q err=%v", m, err)
	}
}

func TestSubscriptionStatusTerminal(t *testing.T) {
	if SubscriptionStatusActive.IsTerminal() || SubscriptionStatusPending.IsTerminal() {
		t.Fatal("pending/active are not terminal")
	}
	if !SubscriptionStatusCanceled.IsTerminal() || !SubscriptionStatusExpired.IsTerminal() {
		t.Fatal("canceled/expired are terminal")
	}
}

func TestEnumValidity(t *testing.T) {
	if !ContentVisibilitySubscriber.IsValid() || ContentVisibility("private").IsValid() {
		t.Fatal("content visibility validity mismatch")
	}
	if !EntitlementTypePPVPurchase.IsValid() || EntitlementType("gift").IsValid() {
		t.Fatal("entitlement type validity mismatch")
	}
	if !LedgerEntryTypeRefund.IsValid() || LedgerEntryType("bonus").IsValid() {
		t.Fatal("ledger entry type validity mismatch")
	}
	if !KYCStatusApproved.IsValid() || !UserRoleCreator.IsValid() {
		t.Fatal("kyc/user role validity mismatch")
	}
	if !AggregatePayout.IsValid() || !EventPayoutProcessed.IsValid() {
		t.Fatal("outbox enum validity mismatch")
	}
}

func TestParseOutboxDLQErrorReason(t *testing.T) {
	got, err := ParseOutboxDLQErrorReason("undecodable")
	if err != nil || got != OutboxDLQReasonUndecodable {
		t.Fatalf("expected undecodable, got %q err=%v", got, err)
	}
	if _, err := ParseOutboxDLQErrorReason("timeout"); err == nil {
		t.Fatal("expected unknown reason to fail")
	}
}
