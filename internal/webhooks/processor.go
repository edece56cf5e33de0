// Package webhooks verifies, normalizes and durably processes payment
// provider deliveries.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/fanvault-backend/internal/reconciler"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	"github.com/angelmondragon/fanvault-backend/pkg/metrics"
)

const (
	DefaultProcessingTimeout = 15 * time.Second
	recordTimeout            = 5 * time.Second
)

type deliveryGuard interface {
	Seen(ctx context.Context, provider, eventID string) (bool, error)
	Mark(ctx context.Context, provider, eventID string) error
}

type ProcessorParams struct {
	Reconciler reconciler.Reconciler
	Failures   FailureRepository
	Guard      deliveryGuard
	Logger     *logger.Logger
	Metrics    *metrics.PaymentMetrics
	Timeout    time.Duration
	Now        func() time.Time
}

type Processor struct {
	reconciler reconciler.Reconciler
	failures   FailureRepository
	guard      deliveryGuard
	logg       *logger.Logger
	metrics    *metrics.PaymentMetrics
	timeout    time.Duration
	now        func() time.Time
}

// Outcome is what the HTTP boundary acknowledges.
type Outcome struct {
	Duplicate bool               `json:"duplicate"`
	Ignored   bool               `json:"ignored"`
	Recorded  bool               `json:"recorded"`
	FailureID *uuid.UUID         `json:"failure_id,omitempty"`
	Result    *reconciler.Result `json:"result,omitempty"`
}

func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	if params.Failures == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "failure repository required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{
		reconciler: params.Reconciler,
		failures:   params.Failures,
		guard:      params.Guard,
		logg:       params.Logger,
		metrics:    params.Metrics,
		timeout:    timeout,
		now:        now,
	}, nil
}

// Process applies a verified event. A processing error is recorded as a
// webhook failure and reported as handled; only a failure to record it is
// returned, so the provider retries the delivery.
func (p *Processor) Process(ctx context.Context, event reconciler.PaymentEvent, raw []byte) (*Outcome, error) {
	if p.logg != nil {
		ctx = p.logg.WithEventID(ctx, event.Provider, event.EventID)
	}

	guarded := p.guard != nil && event.EventID != ""
	if guarded {
		seen, err := p.guard.Seen(ctx, event.Provider, event.EventID)
		switch {
		case err != nil:
			p.warn(ctx, "webhook guard unavailable; relying on reconciler idempotency", err)
		case seen:
			p.metrics.IncWebhook(event.Provider, metrics.OutcomeDuplicate)
			return &Outcome{Duplicate: true}, nil
		}
	}

	result, err := p.apply(ctx, event)
	if err == nil {
		if guarded {
			if markErr := p.guard.Mark(context.WithoutCancel(ctx), event.Provider, event.EventID); markErr != nil {
				p.warn(ctx, "failed to mark webhook guard", markErr)
			}
		}
		outcome := &Outcome{Result: result, Duplicate: result.Duplicate, Ignored: result.Ignored}
		p.metrics.IncWebhook(event.Provider, webhookOutcome(outcome))
		return outcome, nil
	}

	return p.record(ctx, event, raw, err)
}

// RecordMalformed stores a delivery that passed signature verification but
// could not be normalized. Replay will keep failing on it; the row exists so
// an operator can see what the provider sent.
func (p *Processor) RecordMalformed(ctx context.Context, provider string, raw []byte, cause error) (*Outcome, error) {
	if p.logg != nil {
		ctx = p.logg.WithField(ctx, "provider", provider)
	}
	event := reconciler.PaymentEvent{Provider: provider, EventID: malformedEventID(raw)}
	return p.record(ctx, event, raw, cause)
}

func (p *Processor) record(ctx context.Context, event reconciler.PaymentEvent, raw []byte, err error) (*Outcome, error) {
	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancelRecord()
	row, recErr := p.failures.Record(recordCtx, event, raw, err)
	if recErr != nil {
		p.metrics.IncWebhook(event.Provider, metrics.OutcomeFailed)
		if p.logg != nil {
			p.logg.Error(ctx, "webhook failure could not be recorded", multierr.Append(err, recErr))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, recErr, "record webhook failure")
	}

	p.metrics.IncWebhook(event.Provider, metrics.OutcomeRejected)
	if p.logg != nil {
		logCtx := p.logg.WithFields(ctx, map[string]any{
			"failure_id": row.ID.String(),
			"retryable":  pkgerrors.Retryable(err),
		})
		p.logg.Error(logCtx, "webhook processing failed; recorded for replay", err)
	}
	id := row.ID
	return &Outcome{Recorded: true, FailureID: &id}, nil
}

// apply runs one reconciliation under the processing deadline. A panic is
// turned into an error so the failure is still recorded.
func (p *Processor) apply(ctx context.Context, event reconciler.PaymentEvent) (result *reconciler.Result, err error) {
	applyCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("reconciler panic: %v", r))
		}
	}()
	return p.reconciler.Apply(applyCtx, event)
}

// ReplayStats summarizes one replay sweep. Permanent counts the subset of
// Failed whose error will not clear on its own (validation, constraint
// violations); those rows still burn attempts until they are exhausted.
type ReplayStats struct {
	Scanned   int
	Resolved  int
	Failed    int
	Permanent int
}

// ReplayFailures re-applies unresolved failures. Rows that succeed are
// resolved; the rest have their attempt count bumped.
func (p *Processor) ReplayFailures(ctx context.Context, maxAttempts, limit int) (ReplayStats, error) {
	var stats ReplayStats
	rows, err := p.failures.ListUnresolved(ctx, maxAttempts, limit, 0)
	if err != nil {
		return stats, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list webhook failures")
	}

	var errs error
	for _, row := range rows {
		stats.Scanned++
		event, decodeErr := DecodeEvent(row)
		applyErr := decodeErr
		if applyErr == nil {
			_, applyErr = p.apply(ctx, event)
		}
		if applyErr == nil {
			stats.Resolved++
			errs = multierr.Append(errs, p.failures.MarkResolved(ctx, row.ID, p.now()))
			continue
		}
		stats.Failed++
		if !pkgerrors.Retryable(applyErr) {
			stats.Permanent++
		}
		if errors.Is(applyErr, context.Canceled) {
			return stats, multierr.Append(errs, applyErr)
		}
		errs = multierr.Append(errs, p.failures.MarkAttempted(ctx, row.ID, applyErr))
	}
	return stats, errs
}

func webhookOutcome(o *Outcome) string {
	switch {
	case o.Duplicate:
		return metrics.OutcomeDuplicate
	case o.Ignored:
		return metrics.OutcomeIgnored
	default:
		return metrics.OutcomeApplied
	}
}

func (p *Processor) warn(ctx context.Context, msg string, err error) {
	if p.logg == nil {
		return
	}
	p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), msg)
}
