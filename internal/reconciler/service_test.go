package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/internal/creators"
	"github.com/angelmondragon/fanvault-backend/internal/entitlements"
	"github.com/angelmondragon/fanvault-backend/internal/ledger"
	"github.com/angelmondragon/fanvault-backend/internal/notifications"
	"github.com/angelmondragon/fanvault-backend/internal/subscriptions"
	dbtest "github.com/angelmondragon/fanvault-backend/internal/testutil"
	"github.com/angelmondragon/fanvault-backend/internal/transactions"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/metrics"
	"github.com/angelmondragon/fanvault-backend/pkg/money"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox"
)

var baseTime = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	sent []notifications.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notifications.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

type harness struct {
	svc    *Service
	conn   *gorm.DB
	subs   subscriptions.Service
	ledger ledger.Service
	ents   entitlements.Service
	notes  *recordingNotifier
}

// failingEmitter passes events through to the real outbox until armed, then
// fails on the named event type.
type failingEmitter struct {
	next   emitter
	failOn enums.OutboxEventType
	armed  bool
}

func (f *failingEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if f.armed && event.EventType == f.failOn {
		return pkgerrors.New(pkgerrors.CodeDependency, "outbox insert failed")
	}
	return f.next.Emit(ctx, tx, event)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithOutbox(t, nil)
}

func newHarnessWithOutbox(t *testing.T, wrap func(emitter) emitter) *harness {
	t.Helper()
	client, conn := dbtest.OpenClient(t)
	now := func() time.Time { return baseTime }

	subs, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptions.NewRepository(conn),
		Approvals:         creators.AllowAll{},
		TransactionRunner: client,
		PeriodDays:        30,
		Now:               now,
	})
	require.NoError(t, err)
	ents, err := entitlements.NewService(entitlements.ServiceParams{Repo: entitlements.NewRepository(conn), Now: now})
	require.NoError(t, err)
	led, err := ledger.NewService(ledger.ServiceParams{Repo: ledger.NewRepository(conn), Now: now})
	require.NoError(t, err)

	var out emitter = outbox.NewService(outbox.NewRepository(conn), nil)
	if wrap != nil {
		out = wrap(out)
	}
	notes := &recordingNotifier{}
	m := metrics.NewPaymentMetrics(prometheus.NewRegistry())
	svc, err := NewService(ServiceParams{
		TransactionRunner: client,
		Transactions:      transactions.NewRepository(conn),
		Subscriptions:     subs,
		Entitlements:      ents,
		Ledger:            led,
		Outbox:            out,
		Notifier:          notes,
		Metrics:           m,
		PeriodDays:        30,
		Now:               now,
	})
	require.NoError(t, err)
	return &harness{svc: svc, conn: conn, subs: subs, ledger: led, ents: ents, notes: notes}
}

func subscriptionPayment(fan, creator uuid.UUID, providerTxn string) PaymentEvent {
	return PaymentEvent{
		Type:                  enums.PaymentEventCompleted,
		Provider:              "Stripe",
		EventID:               "evt_" + providerTxn,
		ProviderTransactionID: providerTxn,
		GrossCents:            10000,
		Metadata: EventMetadata{
			UserID:          fan,
			CreatorID:       &creator,
			TransactionType: enums.TransactionTypeSubscription,
			TierName:        "gold",
		},
	}
}

func countRows(t *testing.T, conn *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(model).Count(&n).Error)
	return n
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
}

func TestSubscriptionPaymentActivatesAndCreditsCreator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fan, creator := uuid.New(), uuid.New()

	res, err := h.svc.Apply(ctx, subscriptionPayment(fan, creator, "pi_100"))
	require.NoError(t, err)
	require.NotNil(t, res.TransactionID)
	require.NotNil(t, res.SubscriptionID)
	assert.False(t, res.Duplicate)

	var txn models.Transaction
	require.NoError(t, h.conn.Where("id = ?", *res.TransactionID).Take(&txn).Error)
	assert.Equal(t, enums.TransactionStatusCompleted, txn.Status)
	assert.Equal(t, "stripe", txn.Provider)
	require.NotNil(t, txn.SubscriptionID)
	assert.Equal(t, *res.SubscriptionID, *txn.SubscriptionID)

	entry, err := h.ledger.EarningsFor(ctx, txn.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(2000), entry.PlatformFeeCents)
	assert.Equal(t, int64(8000), entry.NetCents)

	sub, err := h.subs.Get(ctx, *res.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.ExpiresAt)
	assert.True(t, sub.ExpiresAt.Equal(baseTime.AddDate(0, 0, 30)))

	assert.Equal(t, int64(2), countRows(t, h.conn, &models.OutboxEvent{}))
	require.Len(t, h.notes.sent, 1)
	assert.Equal(t, enums.NotificationTypeSubscriptionStarted, h.notes.sent[0].Type)
	assert.Equal(t, creator, h.notes.sent[0].UserID)
}

func TestReplayedPaymentIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fan, creator := uuid.New(), uuid.New()
	event := subscriptionPayment(fan, creator, "pi_replay")

	_, err := h.svc.Apply(ctx, event)
	require.NoError(t, err)
	before, err := h.ledger.Summarize(ctx, creator)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := h.svc.Apply(ctx, event)
		require.NoError(t, err)
		assert.True(t, res.Duplicate)
	}

	after, err := h.ledger.Summarize(ctx, creator)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(8000), after.PendingBalance)
	assert.Equal(t, int64(1), countRows(t, h.conn, &models.Transaction{}))
	assert.Equal(t, int64(1), countRows(t, h.conn, &models.LedgerEntry{}))
	assert.Equal(t, int64(2), countRows(t, h.conn, &models.OutboxEvent{}))
	assert.Len(t, h.notes.sent, 1)
}

func TestFailureMidReconciliationLeavesNoPartialWrites(t *testing.T) {
	fan, creator, contentID := uuid.New(), uuid.New(), uuid.New()
	ppv := PaymentEvent{
		Type:                  enums.PaymentEventCompleted,
		Provider:              "ccbill",
		EventID:               "ppv-rollback",
		ProviderTransactionID: "ccb_rollback",
		GrossCents:            500,
		Metadata: EventMetadata{
			UserID:          fan,
			CreatorID:       &creator,
			ContentID:       &contentID,
			TransactionType: enums.TransactionTypePPV,
		},
	}
	cases := map[string]struct {
		event PaymentEvent
		subs  int64
		ents  int64
	}{
		"subscription": {event: subscriptionPayment(fan, creator, "pi_rollback"), subs: 1},
		"ppv":          {event: ppv, ents: 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			failing := &failingEmitter{failOn: enums.EventPaymentCompleted, armed: true}
			h := newHarnessWithOutbox(t, func(next emitter) emitter {
				failing.next = next
				return failing
			})
			ctx := context.Background()

			_, err := h.svc.Apply(ctx, tc.event)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
			for _, model := range []any{&models.Transaction{}, &models.Subscription{}, &models.LedgerEntry{}, &models.Entitlement{}, &models.OutboxEvent{}} {
				assert.Zero(t, countRows(t, h.conn, model), "%T survived a rolled back reconciliation", model)
			}
			assert.Empty(t, h.notes.sent)

			failing.armed = false
			res, err := h.svc.Apply(ctx, tc.event)
			require.NoError(t, err)
			assert.False(t, res.Duplicate)
			res, err = h.svc.Apply(ctx, tc.event)
			require.NoError(t, err)
			assert.True(t, res.Duplicate)

			assert.Equal(t, int64(1), countRows(t, h.conn, &models.Transaction{}))
			assert.Equal(t, int64(1), countRows(t, h.conn, &models.LedgerEntry{}))
			assert.Equal(t, tc.subs, countRows(t, h.conn, &models.Subscription{}))
			assert.Equal(t, tc.ents, countRows(t, h.conn, &models.Entitlement{}))
			summary, err := h.ledger.Summarize(ctx, creator)
			require.NoError(t, err)
			assert.Equal(t, money.NetAmount(tc.event.GrossCents), summary.PendingBalance)
			assert.Len(t, h.notes.sent, 1)
		})
	}
}

func TestPaymentActivatesReferencedPendingSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fan, creator := uuid.New(), uuid.New()

	pending, err := h.subs.Create(ctx, subscriptions.CreateInput{FanID: fan, CreatorID: creator, TierName: "gold", PriceCents: 10000})
	require.NoError(t, err)

	event := subscriptionPayment(fan, creator, "pi_pending")
	event.SubscriptionID = &pending.ID
	res, err := h.svc.Apply(ctx, event)
	require.NoError(t, err)
	require.NotNil(t, res.SubscriptionID)
	assert.Equal(t, pending.ID, *res.SubscriptionID)

	sub, err := h.subs.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.LastTransactionID)
	assert.Equal(t, *res.TransactionID, *sub.LastTransactionID)
}

func TestRenewalPaymentExtendsSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fan, creator := uuid.New(), uuid.New()

	first, err := h.svc.Apply(ctx, subscriptionPayment(fan, creator, "pi_first"))
	require.NoError(t, err)
	renewal := subscriptionPayment(fan, creator, "pi_second")
	renewal.SubscriptionID = first.SubscriptionID
	second, err := h.svc.Apply(ctx, renewal)
	require.NoError(t, err)
	assert.Equal(t, *first.SubscriptionID, *second.SubscriptionID)

	sub, err := h.subs.Get(ctx, *first.SubscriptionID)
	require.NoError(t, err)
	assert.True(t, sub.ExpiresAt.Equal(baseTime.AddDate(0, 0, 60)))

	summary, err := h.ledger.Summarize(ctx, creator)
	require.NoError(t, err)
	assert.Equal(t, int64(16000), summary.PendingBalance)
}

func TestPPVPaymentGrantsEntitlement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fan, creator, contentID := uuid.New(), uuid.New(), uuid.New()

	res, err := h.svc.Apply(ctx, PaymentEvent{
		Type:                  enums.PaymentEventCompleted,
		Provider:              "ccbill",
		EventID:               "ppv-1",
		ProviderTransactionID: "ccb_1",
		GrossCents:            500,
		Metadata: EventMetadata{
			UserID:          fan,
			CreatorID:       &creator,
			ContentID:       &contentID,
			TransactionType: enums.TransactionTypePPV,
		},
	})
	require.NoError(t, err)
	assert.Nil(t, res.SubscriptionID)

	ok, err := h.ents.HasActive(ctx, fan, contentID, creator, baseTime)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, h.notes.sent, 1)
	assert.Equal(t, enums.NotificationTypePaymentReceived, h.notes.sent[0].Type)
}

func TestTipPaymentOnlyCreditsLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fan, creator := uuid.New(), uuid.New()

	_, err := h.svc.Apply(ctx, PaymentEvent{
		Type:                  enums.PaymentEventCompleted,
		Provider:              "stripe",
		EventID:               "tip-1",
		ProviderTransactionID: "pi_tip",
		GrossCents:            2500,
		Metadata:              EventMetadata{UserID: fan, CreatorID: &creator, TransactionType: enums.TransactionTypeTip},
	})
	require.NoError(t, err)

	summary, err := h.ledger.Summarize(ctx, creator)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), summary.PendingBalance)
	assert.Equal(t, int64(0), countRows(t, h.conn, &models.Subscription{}))
	assert.Equal(t, int64(0), countRows(t, h.conn, &models.Entitlement{}))
	require.Len(t, h.notes.sent, 1)
	assert.Equal(t, enums.NotificationTypeTipReceived, h.notes.sent[0].Type)
}

func TestInvalidCompletedEventIsRejected(t *testing.T) {
	h := newHarness(t)
	fan := uuid.New()

	_, err := h.svc.Apply(context.Background(), PaymentEvent{
		Type:                  enums.PaymentEventCompleted,
		Provider:              "stripe",
		ProviderTransactionID: "pi_self",
		GrossCents:            100,
		Metadata:              EventMetadata{UserID: fan, CreatorID: &fan, TransactionType: enums.TransactionTypeTip},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, int64(0), countRows(t, h.conn, &models.Transaction{}))
}

func TestFailedPaymentRecordsReason(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fan, creator := uuid.New(), uuid.New()

	event := subscriptionPayment(fan, creator, "pi_declined")
	event.Type = enums.PaymentEventFailed
	event.FailureReason = "card_declined"
	res, err := h.svc.Apply(ctx, event)
	require.NoError(t, err)

	var txn models.Transaction
	require.NoError(t, h.conn.Where("id = ?", *res.TransactionID).Take(&txn).Error)
	assert.Equal(t, enums.TransactionStatusFailed, txn.Status)
	require.NotNil(t, txn.FailureReason)
	assert.Equal(t, "card_declined", *txn.FailureReason)
	assert.Equal(t, int64(0), countRows(t, h.conn, &models.LedgerEntry{}))
	assert.Equal(t, int64(0), countRows(t, h.conn, &models.Subscription{}))
}

func TestFailureAfterCompletionIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fan, creator := uuid.New(), uuid.New()

	event := subscriptionPayment(fan, creator, "pi_late_fail")
	_, err := h.svc.Apply(ctx, event)
	require.NoError(t, err)

	event.Type = enums.PaymentEventFailed
	res, err := h.svc.Apply(ctx, event)
	require.NoError(t, err)
	assert.True(t, res.Ignored)

	txn, err := transactions.NewRepository(h.conn).FindByProviderID(ctx, "pi_late_fail")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCompleted, txn.Status)
}

func TestChargebackReversesEarningsAndCancelsSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fan, creator := uuid.New(), uuid.New()

	paid, err := h.svc.Apply(ctx, subscriptionPayment(fan, creator, "pi_cb"))
	require.NoError(t, err)
	h.notes.sent = nil

	chargeback := PaymentEvent{
		Type:                  enums.PaymentEventChargebackCreated,
		Provider:              "stripe",
		EventID:               "dp_1",
		ProviderTransactionID: "pi_cb",
		GrossCents:            10000,
		FailureReason:         "fraudulent",
	}
	res, err := h.svc.Apply(ctx, chargeback)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	var txn models.Transaction
	require.NoError(t, h.conn.Where("id = ?", *paid.TransactionID).Take(&txn).Error)
	assert.Equal(t, enums.TransactionStatusRefunded, txn.Status)
	require.NotNil(t, txn.RefundedAt)
	assert.Contains(t, string(txn.RefundMetadata), "fraudulent")

	summary, err := h.ledger.Summarize(ctx, creator)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.PendingBalance)
	assert.Equal(t, int64(8000), summary.TotalRefunds)

	sub, err := h.subs.Get(ctx, *paid.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCanceled, sub.Status)
	require.NotNil(t, sub.CancelReason)
	assert.Equal(t, "chargeback", *sub.CancelReason)

	require.Len(t, h.notes.sent, 1)
	assert.Equal(t, enums.NotificationTypeChargebackReceived, h.notes.sent[0].Type)

	again, err := h.svc.Apply(ctx, chargeback)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, int64(2), countRows(t, h.conn, &models.LedgerEntry{}))
}

func TestChargebackForUnknownTransactionFails(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Apply(context.Background(), PaymentEvent{
		Type:                  enums.PaymentEventChargebackCreated,
		Provider:              "stripe",
		ProviderTransactionID: "pi_missing",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestProviderCancellationIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fan, creator := uuid.New(), uuid.New()

	paid, err := h.svc.Apply(ctx, subscriptionPayment(fan, creator, "pi_cancel"))
	require.NoError(t, err)

	cancel := PaymentEvent{
		Type:           enums.PaymentEventSubscriptionCanceled,
		Provider:       "stripe",
		EventID:        "sub_cancel",
		SubscriptionID: paid.SubscriptionID,
	}
	res, err := h.svc.Apply(ctx, cancel)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	sub, err := h.subs.Get(ctx, *paid.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCanceled, sub.Status)

	again, err := h.svc.Apply(ctx, cancel)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
}

func TestUnknownEventTypeIsIgnored(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Apply(context.Background(), PaymentEvent{
		Type:     enums.PaymentEventType("invoice.upcoming"),
		Provider: "stripe",
		EventID:  "evt_upcoming",
	})
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Equal(t, int64(0), countRows(t, h.conn, &models.OutboxEvent{}))
}

func TestNewEventIDIsStable(t *testing.T) {
	a := NewEventID("ccbill", "tx-1", enums.PaymentEventCompleted)
	b := NewEventID("ccbill", "tx-1", enums.PaymentEventCompleted)
	c := NewEventID("ccbill", "tx-1", enums.PaymentEventFailed)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
