package webhooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fanvault-backend/internal/reconciler"
	"github.com/angelmondragon/fanvault-backend/internal/testutil"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
)

type fakeReconciler struct {
	mu    sync.Mutex
	calls int
	err   error
	// panics makes the next Apply call panic once.
	panics bool
}

func (f *fakeReconciler) Apply(_ context.Context, event reconciler.PaymentEvent) (*reconciler.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics {
		f.panics = false
		panic("nil creator on ledger append")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &reconciler.Result{EventType: event.Type, Ignored: !event.Type.IsValid()}, nil
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
	fail bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (s *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false, errors.New("redis down")
	}
	_, ok := s.data[key]
	return ok, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("redis down")
	}
	s.data[key] = fmt.Sprint(value)
	return nil
}

func (s *memoryStore) WebhookEventKey(provider, eventID string) string {
	return "fv:webhook:" + provider + ":" + eventID
}

func completedEvent(id string) reconciler.PaymentEvent {
	return reconciler.PaymentEvent{
		Type:                  enums.PaymentEventCompleted,
		Provider:              "stripe",
		EventID:               id,
		ProviderTransactionID: "pi_" + id,
		GrossCents:            100,
	}
}

func newProcessor(t *testing.T, rec *fakeReconciler, store *memoryStore) (*Processor, FailureRepository) {
	t.Helper()
	conn := testutil.OpenSQLite(t)
	failures := NewFailureRepository(conn)
	guard, err := NewGuard(store, time.Hour)
	require.NoError(t, err)
	p, err := NewProcessor(ProcessorParams{Reconciler: rec, Failures: failures, Guard: guard})
	require.NoError(t, err)
	return p, failures
}

func TestProcessShortCircuitsRedelivery(t *testing.T) {
	rec := &fakeReconciler{}
	p, _ := newProcessor(t, rec, newMemoryStore())
	ctx := context.Background()

	first, err := p.Process(ctx, completedEvent("evt_1"), nil)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := p.Process(ctx, completedEvent("evt_1"), nil)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, rec.calls)
}

func TestProcessRecoversPanicAndAppliesRetry(t *testing.T) {
	rec := &fakeReconciler{panics: true}
	store := newMemoryStore()
	p, failures := newProcessor(t, rec, store)
	ctx := context.Background()

	first, err := p.Process(ctx, completedEvent("evt_p"), []byte(`{"id":"evt_p"}`))
	require.NoError(t, err)
	assert.True(t, first.Recorded)
	assert.Empty(t, store.data, "a delivery that never committed must not be marked")

	rows, err := failures.ListUnresolved(ctx, 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].ErrorMessage, "panic")

	retry, err := p.Process(ctx, completedEvent("evt_p"), []byte(`{"id":"evt_p"}`))
	require.NoError(t, err)
	assert.False(t, retry.Duplicate)
	assert.False(t, retry.Recorded)
	assert.Equal(t, 2, rec.calls)
	assert.Len(t, store.data, 1)
}

func TestProcessFallsThroughWhenGuardUnavailable(t *testing.T) {
	rec := &fakeReconciler{}
	store := newMemoryStore()
	store.fail = true
	p, _ := newProcessor(t, rec, store)

	_, err := p.Process(context.Background(), completedEvent("evt_2"), nil)
	require.NoError(t, err)
	_, err = p.Process(context.Background(), completedEvent("evt_2"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.calls)
}

func TestProcessRecordsFailureWithoutMarkingGuard(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("db exploded")}
	store := newMemoryStore()
	p, failures := newProcessor(t, rec, store)
	ctx := context.Background()

	out, err := p.Process(ctx, completedEvent("evt_3"), []byte(`{"raw":true}`))
	require.NoError(t, err)
	assert.True(t, out.Recorded)
	require.NotNil(t, out.FailureID)
	assert.Empty(t, store.data)

	_, err = p.Process(ctx, completedEvent("evt_3"), []byte(`{"raw":true}`))
	require.NoError(t, err)

	rows, err := failures.ListUnresolved(ctx, 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].AttemptCount)
	assert.Equal(t, "db exploded", rows[0].ErrorMessage)
	assert.Equal(t, `{"raw":true}`, rows[0].RawPayload)
}

func TestUnknownEventIsAcknowledged(t *testing.T) {
	rec := &fakeReconciler{}
	p, _ := newProcessor(t, rec, newMemoryStore())

	event := completedEvent("evt_4")
	event.Type = "invoice.upcoming"
	out, err := p.Process(context.Background(), event, nil)
	require.NoError(t, err)
	assert.True(t, out.Ignored)
}

func TestReplayFailuresResolvesRecoveredEvents(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("transient")}
	p, failures := newProcessor(t, rec, newMemoryStore())
	ctx := context.Background()

	_, err := p.Process(ctx, completedEvent("evt_5"), nil)
	require.NoError(t, err)
	_, err = p.Process(ctx, completedEvent("evt_6"), nil)
	require.NoError(t, err)

	stats, err := p.ReplayFailures(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Scanned: 2, Failed: 2}, stats)

	rec.err = nil
	stats, err = p.ReplayFailures(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Scanned: 2, Resolved: 2}, stats)

	rows, err := failures.ListUnresolved(ctx, 0, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReplaySkipsExhaustedFailures(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("permanent")}
	p, failures := newProcessor(t, rec, newMemoryStore())
	ctx := context.Background()

	_, err := p.Process(ctx, completedEvent("evt_7"), nil)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = p.ReplayFailures(ctx, 3, 10)
		require.NoError(t, err)
	}

	rows, err := failures.ListUnresolved(ctx, 3, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	all, err := failures.ListUnresolved(ctx, 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 3, all[0].AttemptCount)
}

func TestDecodeEventRoundTripsStoredPayload(t *testing.T) {
	conn := testutil.OpenSQLite(t)
	failures := NewFailureRepository(conn)
	event := completedEvent("evt_8")

	row, err := failures.Record(context.Background(), event, nil, errors.New("x"))
	require.NoError(t, err)

	var stored models.WebhookFailure
	require.NoError(t, conn.Where("id = ?", row.ID).Take(&stored).Error)
	decoded, err := DecodeEvent(stored)
	require.NoError(t, err)
	assert.Equal(t, event.ProviderTransactionID, decoded.ProviderTransactionID)
	assert.Equal(t, event.Type, decoded.Type)
}

func TestNewGuardValidation(t *testing.T) {
	_, err := NewGuard(nil, time.Minute)
	require.Error(t, err)
	_, err = NewGuard(newMemoryStore(), -time.Second)
	require.Error(t, err)
}

func TestReplayCountsPermanentFailures(t *testing.T) {
	rec := &fakeReconciler{err: pkgerrors.New(pkgerrors.CodeValidation, "amount mismatch")}
	p, _ := newProcessor(t, rec, newMemoryStore())
	ctx := context.Background()

	_, err := p.Process(ctx, completedEvent("evt_8"), nil)
	require.NoError(t, err)

	stats, err := p.ReplayFailures(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Scanned: 1, Failed: 1, Permanent: 1}, stats)
}

func TestRecordMalformedKeysRowsByBody(t *testing.T) {
	rec := &fakeReconciler{}
	p, failures := newProcessor(t, rec, newMemoryStore())
	ctx := context.Background()
	cause := pkgerrors.New(pkgerrors.CodeValidation, "invalid amount")

	first := []byte(`{"event_id":"evt_m","gross_cents":"12.50"}`)
	second := []byte(`{"event_id":"evt_n","gross_cents":"x"}`)
	for _, body := range [][]byte{first, first, second} {
		out, err := p.RecordMalformed(ctx, "ccbill", body, cause)
		require.NoError(t, err)
		assert.True(t, out.Recorded)
	}
	assert.Equal(t, 0, rec.calls)

	rows, err := failures.ListUnresolved(ctx, 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	attempts := map[string]int{}
	for _, row := range rows {
		assert.Equal(t, "ccbill", row.Provider)
		attempts[row.RawPayload] = row.AttemptCount
	}
	assert.Equal(t, 2, attempts[string(first)])
	assert.Equal(t, 1, attempts[string(second)])

	stats, err := p.ReplayFailures(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Scanned: 2, Failed: 2, Permanent: 2}, stats)
	assert.Equal(t, 0, rec.calls)
}
