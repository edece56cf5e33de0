package payouts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/internal/ledger"
	"github.com/angelmondragon/fanvault-backend/internal/notifications"
	"github.com/angelmondragon/fanvault-backend/internal/testutil"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox"
	"github.com/angelmondragon/fanvault-backend/pkg/pagination"
)

var baseTime = time.Date(2026, 5, 2, 15, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	sent []notifications.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notifications.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

type fixture struct {
	svc    Service
	ledger ledger.Service
	conn   *gorm.DB
	notes  *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, conn := testutil.OpenClient(t)
	now := func() time.Time { return baseTime }
	led, err := ledger.NewService(ledger.ServiceParams{Repo: ledger.NewRepository(conn), Now: now})
	require.NoError(t, err)
	notes := &recordingNotifier{}
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(conn),
		Ledger:            led,
		TransactionRunner: client,
		Outbox:            outbox.NewService(outbox.NewRepository(conn), nil),
		Notifier:          notes,
		Now:               now,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, ledger: led, conn: conn, notes: notes}
}

// credit appends an earnings entry for gross cents.
func (f *fixture) credit(t *testing.T, creatorID uuid.UUID, gross int64) {
	t.Helper()
	txID := uuid.New()
	_, err := f.ledger.Append(context.Background(), ledger.AppendInput{
		CreatorID:     creatorID,
		GrossCents:    gross,
		Type:          enums.LedgerEntryTypeEarnings,
		TransactionID: &txID,
	})
	require.NoError(t, err)
}

func request(creatorID uuid.UUID, amount int64) RequestInput {
	return RequestInput{
		CreatorID:     creatorID,
		AmountCents:   amount,
		Method:        enums.PayoutMethodBankTransfer,
		MethodDetails: map[string]any{"last4": "4242"},
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestRequestBelowMinimumWithNoBalanceIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Request(context.Background(), request(uuid.New(), 500))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	var count int64
	require.NoError(t, f.conn.Model(&models.Payout{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRequestAboveBalanceIsRejected(t *testing.T) {
	f := newFixture(t)
	creator := uuid.New()
	f.credit(t, creator, 2000) // net 1600

	_, err := f.svc.Request(context.Background(), request(creator, 1700))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRequestRejectsUnknownMethod(t *testing.T) {
	f := newFixture(t)
	creator := uuid.New()
	f.credit(t, creator, 10000)

	input := request(creator, 1000)
	input.Method = "carrier_pigeon"
	_, err := f.svc.Request(context.Background(), input)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestOpenPayoutsReserveBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator := uuid.New()
	f.credit(t, creator, 10000)

	_, err := f.svc.Request(ctx, request(creator, 5000))
	require.NoError(t, err)

	available, err := f.svc.Available(ctx, creator)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), available)

	_, err = f.svc.Request(ctx, request(creator, 5000))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestApprovedPayoutDebitsLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, admin := uuid.New(), uuid.New()
	f.credit(t, creator, 10000)

	payout, err := f.svc.Request(ctx, request(creator, 8000))
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusPending, payout.Status)

	approved, err := f.svc.AdminProcess(ctx, ProcessInput{PayoutID: payout.ID, AdminID: admin, Action: enums.PayoutActionApprove, Notes: "ok"})
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusCompleted, approved.Status)
	require.NotNil(t, approved.ProcessedBy)
	assert.Equal(t, admin, *approved.ProcessedBy)
	require.NotNil(t, approved.ProcessedAt)

	var entry models.LedgerEntry
	require.NoError(t, f.conn.Where("payout_id = ?", payout.ID).Take(&entry).Error)
	assert.Equal(t, enums.LedgerEntryTypePayout, entry.Type)
	assert.Equal(t, int64(-8000), entry.NetCents)
	assert.Equal(t, int64(0), entry.PlatformFeeCents)

	summary, err := f.ledger.Summarize(ctx, creator)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.PendingBalance)
	assert.Equal(t, int64(8000), summary.TotalPayouts)

	require.Len(t, f.notes.sent, 1)
	assert.Equal(t, enums.NotificationTypePayoutCompleted, f.notes.sent[0].Type)

	_, err = f.svc.AdminProcess(ctx, ProcessInput{PayoutID: payout.ID, AdminID: admin, Action: enums.PayoutActionApprove})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestProcessThenApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, admin := uuid.New(), uuid.New()
	f.credit(t, creator, 5000)

	payout, err := f.svc.Request(ctx, request(creator, 4000))
	require.NoError(t, err)

	processing, err := f.svc.AdminProcess(ctx, ProcessInput{PayoutID: payout.ID, AdminID: admin, Action: enums.PayoutActionProcess})
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusProcessing, processing.Status)

	_, err = f.svc.AdminProcess(ctx, ProcessInput{PayoutID: payout.ID, AdminID: admin, Action: enums.PayoutActionProcess})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	done, err := f.svc.AdminProcess(ctx, ProcessInput{PayoutID: payout.ID, AdminID: admin, Action: enums.PayoutActionApprove})
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusCompleted, done.Status)
}

func TestRejectRequiresReasonAndLeavesLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, admin := uuid.New(), uuid.New()
	f.credit(t, creator, 5000)

	payout, err := f.svc.Request(ctx, request(creator, 2000))
	require.NoError(t, err)

	_, err = f.svc.AdminProcess(ctx, ProcessInput{PayoutID: payout.ID, AdminID: admin, Action: enums.PayoutActionReject})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	rejected, err := f.svc.AdminProcess(ctx, ProcessInput{PayoutID: payout.ID, AdminID: admin, Action: enums.PayoutActionReject, FailureReason: "bank details invalid"})
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusFailed, rejected.Status)
	require.NotNil(t, rejected.FailureReason)

	summary, err := f.ledger.Summarize(ctx, creator)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), summary.PendingBalance)
	require.Len(t, f.notes.sent, 1)
	assert.Equal(t, enums.NotificationTypePayoutRejected, f.notes.sent[0].Type)

	_, err = f.svc.AdminProcess(ctx, ProcessInput{PayoutID: payout.ID, AdminID: admin, Action: enums.PayoutActionCancel})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestAdminProcessValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AdminProcess(ctx, ProcessInput{PayoutID: uuid.New(), AdminID: uuid.New(), Action: "refund"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.AdminProcess(ctx, ProcessInput{PayoutID: uuid.New(), AdminID: uuid.New(), Action: enums.PayoutActionApprove})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCancelByCreator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator := uuid.New()
	f.credit(t, creator, 5000)

	payout, err := f.svc.Request(ctx, request(creator, 2000))
	require.NoError(t, err)

	_, err = f.svc.CancelByCreator(ctx, uuid.New(), payout.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	cancelled, err := f.svc.CancelByCreator(ctx, creator, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusCancelled, cancelled.Status)

	available, err := f.svc.Available(ctx, creator)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), available)

	_, err = f.svc.CancelByCreator(ctx, creator, payout.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, other := uuid.New(), uuid.New()
	f.credit(t, creator, 10000)
	f.credit(t, other, 10000)

	first, err := f.svc.Request(ctx, request(creator, 1000))
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, request(creator, 1500))
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, request(other, 1000))
	require.NoError(t, err)
	_, err = f.svc.AdminProcess(ctx, ProcessInput{PayoutID: first.ID, AdminID: uuid.New(), Action: enums.PayoutActionProcess})
	require.NoError(t, err)

	mine, err := f.svc.ListByCreator(ctx, creator, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	pending := enums.PayoutStatusPending
	queue, err := f.svc.ListByStatus(ctx, &pending, pagination.Params{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, queue, 2)

	all, err := f.svc.ListByStatus(ctx, nil, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	bad := enums.PayoutStatus("lost")
	_, err = f.svc.ListByStatus(ctx, &bad, pagination.Params{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
