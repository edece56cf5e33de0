package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/internal/entitlements"
	"github.com/angelmondragon/fanvault-backend/internal/ledger"
	"github.com/angelmondragon/fanvault-backend/internal/notifications"
	"github.com/angelmondragon/fanvault-backend/internal/subscriptions"
	"github.com/angelmondragon/fanvault-backend/internal/transactions"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	"github.com/angelmondragon/fanvault-backend/pkg/metrics"
	"github.com/angelmondragon/fanvault-backend/pkg/money"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox/payloads"
)

const (
	defaultTierName        = "standard"
	chargebackCancelReason = "chargeback"
	providerCancelReason   = "provider_canceled"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Reconciler applies one normalized payment event atomically.
type Reconciler interface {
	Apply(ctx context.Context, event PaymentEvent) (*Result, error)
}

type ServiceParams struct {
	TransactionRunner txRunner
	Transactions      transactions.Repository
	Subscriptions     subscriptions.Service
	Entitlements      entitlements.Service
	Ledger            ledger.Service
	Outbox            emitter
	Notifier          notifications.Notifier
	Logger            *logger.Logger
	Metrics           *metrics.PaymentMetrics
	PeriodDays        int
	Now               func() time.Time
}

type Service struct {
	tx            txRunner
	transactions  transactions.Repository
	subscriptions subscriptions.Service
	entitlements  entitlements.Service
	ledger        ledger.Service
	outbox        emitter
	notifier      notifications.Notifier
	logg          *logger.Logger
	metrics       *metrics.PaymentMetrics
	periodDays    int
	now           func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Transactions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repository required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service required")
	}
	if params.Entitlements == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = notifications.Noop{}
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		tx:            params.TransactionRunner,
		transactions:  params.Transactions,
		subscriptions: params.Subscriptions,
		entitlements:  params.Entitlements,
		ledger:        params.Ledger,
		outbox:        params.Outbox,
		notifier:      notifier,
		logg:          params.Logger,
		metrics:       params.Metrics,
		periodDays:    params.PeriodDays,
		now:           now,
	}, nil
}

// unit collects the tx-bound collaborators and the notifications to send once
// the transaction commits.
type unit struct {
	tx            *gorm.DB
	transactions  transactions.Repository
	subscriptions subscriptions.Service
	entitlements  entitlements.Service
	ledger        ledger.Service
	notes         []notifications.Notification
}

// Apply reconciles event inside one database transaction. Replaying the
// same event any number of times leaves state as after the first apply.
func (s *Service) Apply(ctx context.Context, event PaymentEvent) (*Result, error) {
	start := time.Now()
	if err := event.validate(); err != nil {
		s.metrics.IncReconciled(string(event.Type), metrics.OutcomeRejected)
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithEventID(ctx, event.Provider, event.EventID)
		ctx = s.logg.WithField(ctx, "event_type", string(event.Type))
	}

	if !event.Type.IsValid() {
		s.info(ctx, "ignoring unknown payment event type")
		s.metrics.IncReconciled("unknown", metrics.OutcomeIgnored)
		return &Result{EventType: event.Type, Ignored: true, Reason: "unknown_event_type"}, nil
	}

	var (
		result *Result
		notes  []notifications.Notification
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		u := &unit{
			tx:            tx,
			transactions:  s.transactions.WithTx(tx),
			subscriptions: s.subscriptions.WithTx(tx),
			entitlements:  s.entitlements.WithTx(tx),
			ledger:        s.ledger.WithTx(tx),
		}
		var err error
		switch event.Type {
		case enums.PaymentEventCompleted:
			result, err = s.applyCompleted(ctx, u, event)
		case enums.PaymentEventFailed:
			result, err = s.applyFailed(ctx, u, event)
		case enums.PaymentEventSubscriptionCanceled:
			result, err = s.applySubscriptionCanceled(ctx, u, event)
		case enums.PaymentEventChargebackCreated:
			result, err = s.applyChargeback(ctx, u, event)
		}
		notes = u.notes
		return err
	})
	s.metrics.ObserveApply(string(event.Type), time.Since(start))
	if err != nil {
		s.metrics.IncReconciled(string(event.Type), metrics.OutcomeFailed)
		return nil, err
	}

	result.EventType = event.Type
	s.metrics.IncReconciled(string(event.Type), result.outcome())
	if result.Duplicate || result.Ignored {
		s.info(s.withResult(ctx, result), "payment event acknowledged without changes")
		return result, nil
	}
	for _, note := range notes {
		notifications.Send(ctx, s.notifier, s.logg, note)
	}
	s.info(s.withResult(ctx, result), "payment event applied")
	return result, nil
}

// lockTransaction inserts the row when the event can describe it, then locks
// whichever row owns the provider transaction id.
func (s *Service) lockTransaction(ctx context.Context, u *unit, event PaymentEvent, status enums.TransactionStatus) (*models.Transaction, bool, error) {
	created := false
	if event.canInsertTransaction() {
		txn := &models.Transaction{
			PayerID:               event.Metadata.UserID,
			CreatorID:             event.Metadata.CreatorID,
			SubscriptionID:        event.SubscriptionID,
			ContentID:             event.Metadata.ContentID,
			GrossCents:            event.GrossCents,
			Currency:              event.Currency,
			Type:                  event.Metadata.TransactionType,
			Status:                status,
			Provider:              event.Provider,
			ProviderTransactionID: event.ProviderTransactionID,
			FailureReason:         optionalString(event.FailureReason),
		}
		var err error
		created, err = u.transactions.InsertIfAbsent(ctx, txn)
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert transaction")
		}
	}

	txn, err := u.transactions.FindByProviderIDForUpdate(ctx, event.ProviderTransactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found for provider transaction id").
			WithDetails(map[string]any{"provider_transaction_id": event.ProviderTransactionID})
	}
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction")
	}
	return txn, created, nil
}

// transition moves txn to next when allowed. It returns a terminal Result when
// the event is a replay or would move the transaction backwards.
func (s *Service) transition(ctx context.Context, u *unit, txn *models.Transaction, created bool, next enums.TransactionStatus) (*Result, error) {
	if created {
		return nil, nil
	}
	txnID := txn.ID
	if txn.Status == next {
		return &Result{TransactionID: &txnID, Duplicate: true}, nil
	}
	if !txn.Status.CanTransitionTo(next) {
		return &Result{
			TransactionID: &txnID,
			Ignored:       true,
			Reason:        fmt.Sprintf("transaction is %s; refusing %s", txn.Status, next),
		}, nil
	}
	txn.Status = next
	txn.UpdatedAt = s.now()
	if err := u.transactions.Save(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update transaction status")
	}
	return nil, nil
}

func (s *Service) applyCompleted(ctx context.Context, u *unit, event PaymentEvent) (*Result, error) {
	txn, created, err := s.lockTransaction(ctx, u, event, enums.TransactionStatusCompleted)
	if err != nil {
		return nil, err
	}
	if done, err := s.transition(ctx, u, txn, created, enums.TransactionStatusCompleted); done != nil || err != nil {
		return done, err
	}

	if txn.CreatorID == nil || (txn.Type == enums.TransactionTypePPV && txn.ContentID == nil) {
		txn.CreatorID = event.Metadata.CreatorID
		txn.ContentID = event.Metadata.ContentID
		if err := u.transactions.Save(ctx, txn); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "backfill transaction metadata")
		}
	}

	txnID := txn.ID
	result := &Result{TransactionID: &txnID}
	creatorID := *txn.CreatorID
	now := s.now()

	switch txn.Type {
	case enums.TransactionTypeSubscription:
		sub, err := s.activateSubscription(ctx, u, event, txn, now)
		if err != nil {
			return nil, err
		}
		result.SubscriptionID = &sub.ID
		if txn.SubscriptionID == nil || *txn.SubscriptionID != sub.ID {
			txn.SubscriptionID = &sub.ID
			if err := u.transactions.Save(ctx, txn); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link subscription to transaction")
			}
		}
		u.notes = append(u.notes, notifications.Notification{
			UserID:  creatorID,
			Type:    enums.NotificationTypeSubscriptionStarted,
			Title:   "New subscriber",
			Message: fmt.Sprintf("A fan subscribed for %s", money.FormatUSD(txn.GrossCents)),
			Data:    map[string]any{"subscription_id": sub.ID.String()},
		})
	case enums.TransactionTypePPV:
		_, _, err := u.entitlements.Grant(ctx, entitlements.GrantInput{
			UserID:        txn.PayerID,
			ContentID:     txn.ContentID,
			CreatorID:     creatorID,
			Type:          enums.EntitlementTypePPVPurchase,
			TransactionID: &txnID,
		})
		if err != nil {
			return nil, err
		}
		u.notes = append(u.notes, notifications.Notification{
			UserID:  creatorID,
			Type:    enums.NotificationTypePaymentReceived,
			Title:   "Content unlocked",
			Message: fmt.Sprintf("A fan unlocked your post for %s", money.FormatUSD(txn.GrossCents)),
			Data:    map[string]any{"content_id": txn.ContentID.String()},
		})
	case enums.TransactionTypeTip:
		u.notes = append(u.notes, notifications.Notification{
			UserID:  creatorID,
			Type:    enums.NotificationTypeTipReceived,
			Title:   "New tip",
			Message: fmt.Sprintf("You received a %s tip", money.FormatUSD(txn.GrossCents)),
		})
	}

	entry, err := u.ledger.Append(ctx, ledger.AppendInput{
		CreatorID:     creatorID,
		GrossCents:    txn.GrossCents,
		Type:          enums.LedgerEntryTypeEarnings,
		TransactionID: &txnID,
		Description:   fmt.Sprintf("%s payment %s", txn.Type, txn.ProviderTransactionID),
	})
	if err != nil {
		return nil, err
	}

	err = s.outbox.Emit(ctx, u.tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		Actor:         &outbox.ActorRef{UserID: txn.PayerID, Role: string(enums.UserRoleFan)},
		OccurredAt:    eventTime(event, now),
		Data: payloads.PaymentCompletedEvent{
			TransactionID:         txn.ID,
			ProviderTransactionID: txn.ProviderTransactionID,
			PayerID:               txn.PayerID,
			CreatorID:             txn.CreatorID,
			Type:                  txn.Type,
			GrossCents:            txn.GrossCents,
			NetCents:              entry.NetCents,
			Currency:              txn.Currency,
			SubscriptionID:        txn.SubscriptionID,
			ContentID:             txn.ContentID,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue payment event")
	}
	return result, nil
}

// activateSubscription applies a subscription payment. A known subscription
// is activated or renewed; otherwise, or when the referenced row can no
// longer be activated, one is created from the payment metadata.
func (s *Service) activateSubscription(ctx context.Context, u *unit, event PaymentEvent, txn *models.Transaction, now time.Time) (*models.Subscription, error) {
	txnID := txn.ID
	activation := subscriptions.ActivateInput{PeriodDays: s.periodDays, TransactionID: &txnID, Now: now}

	var res *subscriptions.ActivateResult
	var err error
	if event.SubscriptionID != nil {
		activation.SubscriptionID = *event.SubscriptionID
		res, err = u.subscriptions.Activate(ctx, activation)
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) || pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			s.warn(ctx, "subscription from payment metadata cannot be activated; starting a new one", err)
			res, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
	}
	if res == nil {
		tier := event.Metadata.TierName
		if tier == "" {
			tier = defaultTierName
		}
		res, err = u.subscriptions.CreateActive(ctx, subscriptions.CreateInput{
			FanID:      txn.PayerID,
			CreatorID:  *txn.CreatorID,
			TierName:   tier,
			PriceCents: txn.GrossCents,
		}, activation)
		if err != nil {
			return nil, err
		}
	}

	sub := res.Subscription
	if res.Changed {
		err := s.outbox.Emit(ctx, u.tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionActivated,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			OccurredAt:    now,
			Data: payloads.SubscriptionEvent{
				SubscriptionID: sub.ID,
				FanID:          sub.FanID,
				CreatorID:      sub.CreatorID,
				Status:         sub.Status,
				ExpiresAt:      sub.ExpiresAt,
			},
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue subscription event")
		}
	}
	return sub, nil
}

func (s *Service) applyFailed(ctx context.Context, u *unit, event PaymentEvent) (*Result, error) {
	txn, created, err := s.lockTransaction(ctx, u, event, enums.TransactionStatusFailed)
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return &Result{Ignored: true, Reason: "failure for unknown transaction"}, nil
	}
	if err != nil {
		return nil, err
	}
	if done, err := s.transition(ctx, u, txn, created, enums.TransactionStatusFailed); done != nil || err != nil {
		return done, err
	}
	if !created && event.FailureReason != "" {
		txn.FailureReason = optionalString(event.FailureReason)
		if err := u.transactions.Save(ctx, txn); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record failure reason")
		}
	}

	err = s.outbox.Emit(ctx, u.tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		OccurredAt:    eventTime(event, s.now()),
		Data: payloads.PaymentFailedEvent{
			TransactionID:         txn.ID,
			ProviderTransactionID: txn.ProviderTransactionID,
			PayerID:               txn.PayerID,
			Reason:                event.FailureReason,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue payment failure")
	}
	txnID := txn.ID
	return &Result{TransactionID: &txnID}, nil
}

func (s *Service) applySubscriptionCanceled(ctx context.Context, u *unit, event PaymentEvent) (*Result, error) {
	reason := event.FailureReason
	if reason == "" {
		reason = providerCancelReason
	}
	res, err := u.subscriptions.Cancel(ctx, subscriptions.CancelInput{
		SubscriptionID: *event.SubscriptionID,
		Reason:         reason,
		Now:            s.now(),
	})
	if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		return &Result{SubscriptionID: event.SubscriptionID, Ignored: true, Reason: "subscription already expired"}, nil
	}
	if err != nil {
		return nil, err
	}
	sub := res.Subscription
	result := &Result{SubscriptionID: &sub.ID}
	if !res.Changed {
		result.Duplicate = true
		return result, nil
	}

	if err := s.emitSubscriptionCanceled(ctx, u, sub, reason); err != nil {
		return nil, err
	}
	u.notes = append(u.notes, notifications.Notification{
		UserID:  sub.FanID,
		Type:    enums.NotificationTypeSubscriptionCanceled,
		Title:   "Subscription canceled",
		Message: "Your subscription was canceled and will not renew.",
		Data:    map[string]any{"subscription_id": sub.ID.String()},
	})
	return result, nil
}

func (s *Service) applyChargeback(ctx context.Context, u *unit, event PaymentEvent) (*Result, error) {
	txn, err := u.transactions.FindByProviderIDForUpdate(ctx, event.ProviderTransactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// The completion may still be in flight; the failure log replays this.
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "chargeback for unknown transaction").
			WithDetails(map[string]any{"provider_transaction_id": event.ProviderTransactionID})
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction")
	}
	if done, err := s.transition(ctx, u, txn, false, enums.TransactionStatusRefunded); done != nil || err != nil {
		return done, err
	}

	now := s.now()
	meta, err := json.Marshal(map[string]any{
		"event_id":        event.EventID,
		"provider":        event.Provider,
		"provider_status": event.ProviderStatus,
		"reason":          event.FailureReason,
		"amount_cents":    event.GrossCents,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode refund metadata")
	}
	txn.RefundedAt = &now
	txn.RefundMetadata = datatypes.JSON(meta)
	if err := u.transactions.Save(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
	}

	txnID := txn.ID
	result := &Result{TransactionID: &txnID, SubscriptionID: txn.SubscriptionID}
	var reversedNet int64
	if txn.CreatorID != nil {
		earnings, err := u.ledger.EarningsFor(ctx, txn.ID)
		if err != nil {
			return nil, err
		}
		if earnings == nil {
			s.warn(ctx, "chargeback on transaction without earnings entry; no reversal written", nil)
		} else {
			entry, err := u.ledger.AppendReversal(ctx, ledger.ReversalInput{
				CreatorID:     earnings.CreatorID,
				TransactionID: txn.ID,
				GrossCents:    earnings.GrossCents,
				Description:   "chargeback " + event.EventID,
			})
			if err != nil {
				return nil, err
			}
			reversedNet = -entry.NetCents
		}
		u.notes = append(u.notes, notifications.Notification{
			UserID:  *txn.CreatorID,
			Type:    enums.NotificationTypeChargebackReceived,
			Title:   "Chargeback received",
			Message: fmt.Sprintf("A %s payment was charged back", money.FormatUSD(txn.GrossCents)),
			Data:    map[string]any{"transaction_id": txn.ID.String()},
		})
	}

	if txn.SubscriptionID != nil {
		res, err := u.subscriptions.Cancel(ctx, subscriptions.CancelInput{
			SubscriptionID: *txn.SubscriptionID,
			Reason:         chargebackCancelReason,
			Now:            now,
		})
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
			s.warn(ctx, "funded subscription not canceled after chargeback", err)
		case err != nil:
			return nil, err
		case res.Changed:
			if err := s.emitSubscriptionCanceled(ctx, u, res.Subscription, chargebackCancelReason); err != nil {
				return nil, err
			}
		}
	}

	err = s.outbox.Emit(ctx, u.tx, outbox.DomainEvent{
		EventType:     enums.EventChargebackRecorded,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		OccurredAt:    eventTime(event, now),
		Data: payloads.ChargebackRecordedEvent{
			TransactionID:         txn.ID,
			ProviderTransactionID: txn.ProviderTransactionID,
			CreatorID:             txn.CreatorID,
			ReversedNetCents:      reversedNet,
			RefundedAt:            now,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue chargeback event")
	}
	return result, nil
}

func (s *Service) emitSubscriptionCanceled(ctx context.Context, u *unit, sub *models.Subscription, reason string) error {
	err := s.outbox.Emit(ctx, u.tx, outbox.DomainEvent{
		EventType:     enums.EventSubscriptionCanceled,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Data: payloads.SubscriptionEvent{
			SubscriptionID: sub.ID,
			FanID:          sub.FanID,
			CreatorID:      sub.CreatorID,
			Status:         sub.Status,
			ExpiresAt:      sub.ExpiresAt,
			Reason:         reason,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue subscription cancellation")
	}
	return nil
}

func (s *Service) withResult(ctx context.Context, r *Result) context.Context {
	if s.logg == nil {
		return ctx
	}
	fields := map[string]any{"outcome": r.outcome()}
	if r.TransactionID != nil {
		fields["transaction_id"] = r.TransactionID.String()
	}
	if r.SubscriptionID != nil {
		fields["subscription_id"] = r.SubscriptionID.String()
	}
	if r.Reason != "" {
		fields["reason"] = r.Reason
	}
	return s.logg.WithFields(ctx, fields)
}

func (s *Service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func (s *Service) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	if err != nil {
		ctx = s.logg.WithField(ctx, "error", err.Error())
	}
	s.logg.Warn(ctx, msg)
}

func eventTime(event PaymentEvent, fallback time.Time) time.Time {
	if event.OccurredAt.IsZero() {
		return fallback
	}
	return event.OccurredAt.UTC()
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

var _ Reconciler = (*Service)(nil)

// NewEventID derives a stable id for events that arrive without one.
func NewEventID(provider, providerTransactionID string, eventType enums.PaymentEventType) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(provider+"|"+providerTransactionID+"|"+string(eventType))).String()
}
