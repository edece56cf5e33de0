package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/config"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	"github.com/angelmondragon/fanvault-backend/pkg/metrics"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox/registry"
)

func paymentEvent(t *testing.T, id string) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   uuid.New(),
		Payload:       datatypes.JSON(mustEnvelopePayload(t, id)),
	}
}

func paymentsResolved() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "payments-topic",
			AggregateType: enums.AggregateTransaction,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    uuid.NewString(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.PaymentCompletedEvent{},
	}
}

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			paymentEvent(t, "event-one"),
			paymentEvent(t, "event-two"),
		},
	}
	broker := &fakeTransport{errs: []error{errors.New("transient"), nil}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, broker, &fakeRegistry{resolved: paymentsResolved()}, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.failedAttempts[0] != 1 {
		t.Fatalf("expected first attempt to be recorded, got %d", repo.failedAttempts[0])
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestPublishResolvedSendsAttributes(t *testing.T) {
	event := paymentEvent(t, "attrs")
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	broker := &fakeTransport{}
	service := newTestService(t, repo, broker, &fakeRegistry{resolved: paymentsResolved()}, &fakeDLQRepo{}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(broker.sent) != 1 {
		t.Fatalf("expected one publish, got %d", len(broker.sent))
	}
	sent := broker.sent[0]
	if sent.topic != "payments-topic" {
		t.Fatalf("unexpected topic %q", sent.topic)
	}
	if sent.attributes["event_id"] != event.ID.String() {
		t.Fatalf("event_id attribute mismatch: %q", sent.attributes["event_id"])
	}
	if sent.attributes["event_type"] != string(enums.EventPaymentCompleted) {
		t.Fatalf("event_type attribute mismatch: %q", sent.attributes["event_type"])
	}
	if !bytes.Equal(sent.data, event.Payload) {
		t.Fatalf("payload should be forwarded unchanged")
	}
}

func TestServiceProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := paymentEvent(t, "nonretryable")
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	eventRegistry := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, &fakeTransport{}, eventRegistry, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.Payload == nil || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonUndecodable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected row parked as terminal")
	}
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := paymentEvent(t, "max-attempts")
	event.AttemptCount = 1
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	broker := &fakeTransport{errs: []error{errors.New("transient")}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, broker, &fakeRegistry{resolved: paymentsResolved()}, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func TestServiceProcessBatchEmpty(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakeTransport{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if processed {
		t.Fatalf("empty batch should not report processed")
	}
}

func TestServiceProcessBatchRecordsMetrics(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{paymentEvent(t, "m-1"), paymentEvent(t, "m-2")}}
	broker := &fakeTransport{errs: []error{errors.New("broker down"), nil}}
	service := newTestService(t, repo, broker, &fakeRegistry{resolved: paymentsResolved()}, &fakeDLQRepo{}, nil)
	reg := prometheus.NewRegistry()
	service.metrics = metrics.NewOutboxMetrics(reg)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	// one published series and one retried series
	if n, err := testutil.GatherAndCount(reg, "fanvault_outbox_events_total"); err != nil || n != 2 {
		t.Fatalf("expected 2 outcome series, got %d err=%v", n, err)
	}
	if n, err := testutil.GatherAndCount(reg, "fanvault_outbox_batch_rows"); err != nil || n != 1 {
		t.Fatalf("expected batch histogram, got %d err=%v", n, err)
	}
}

func TestWithJitterStaysInWindow(t *testing.T) {
	for i := 0; i < 100; i++ {
		got := withJitter(time.Second)
		if got < time.Second || got >= time.Second+jitterWindow {
			t.Fatalf("jitter out of window: %v", got)
		}
	}
	if withJitter(0) != 0 {
		t.Fatalf("zero duration should stay zero")
	}
}

func TestNextBackoffCaps(t *testing.T) {
	if got := nextBackoff(time.Second, time.Second, 3*time.Second); got != 2*time.Second {
		t.Fatalf("expected doubling, got %v", got)
	}
	if got := nextBackoff(2*time.Second, time.Second, 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected cap, got %v", got)
	}
}

func newTestService(t *testing.T, repo outboxRepository, broker transport, eventRegistry registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	outboxCfg := config.OutboxConfig{
		Transport:      config.OutboxTransportPubSub,
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            &fakeDB{},
		Transport:     broker,
		Repository:    repo,
		Registry:      eventRegistry,
		DLQRepository: dlq,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events         []models.OutboxEvent
	published      []uuid.UUID
	failed         []uuid.UUID
	failedAttempts []int
	terminal       []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, attempt int, err error) error {
	f.failed = append(f.failed, id)
	f.failedAttempts = append(f.failedAttempts, attempt)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type sentMessage struct {
	topic      string
	data       []byte
	attributes map[string]string
}

type fakeTransport struct {
	errs []error
	sent []sentMessage
}

func (f *fakeTransport) Ping(context.Context) error {
	return nil
}

func (f *fakeTransport) Publish(_ context.Context, topic string, data []byte, attributes map[string]string) (string, error) {
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err != nil {
		return "", err
	}
	f.sent = append(f.sent, sentMessage{topic: topic, data: data, attributes: attributes})
	return attributes["event_id"], nil
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
