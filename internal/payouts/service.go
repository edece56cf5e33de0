package payouts

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/internal/ledger"
	"github.com/angelmondragon/fanvault-backend/internal/notifications"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	"github.com/angelmondragon/fanvault-backend/pkg/metrics"
	"github.com/angelmondragon/fanvault-backend/pkg/money"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/fanvault-backend/pkg/pagination"
)

const DefaultMinimumCents int64 = 1000

type Service interface {
	Request(ctx context.Context, input RequestInput) (*models.Payout, error)
	AdminProcess(ctx context.Context, input ProcessInput) (*models.Payout, error)
	CancelByCreator(ctx context.Context, creatorID, payoutID uuid.UUID) (*models.Payout, error)
	Available(ctx context.Context, creatorID uuid.UUID) (int64, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID, params pagination.Params) ([]models.Payout, error)
	ListByStatus(ctx context.Context, status *enums.PayoutStatus, params pagination.Params) ([]models.Payout, error)
}

type RequestInput struct {
	CreatorID     uuid.UUID
	AmountCents   int64
	Method        enums.PayoutMethod
	MethodDetails map[string]any
}

type ProcessInput struct {
	PayoutID      uuid.UUID
	AdminID       uuid.UUID
	Action        enums.PayoutAction
	Notes         string
	FailureReason string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	Repo              Repository
	Ledger            ledger.Service
	TransactionRunner txRunner
	Outbox            emitter
	Notifier          notifications.Notifier
	Logger            *logger.Logger
	Metrics           *metrics.PaymentMetrics
	MinimumCents      int64
	Now               func() time.Time
}

type service struct {
	repo     Repository
	ledger   ledger.Service
	tx       txRunner
	outbox   emitter
	notifier notifications.Notifier
	logg     *logger.Logger
	metrics  *metrics.PaymentMetrics
	minimum  int64
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout repository required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = notifications.Noop{}
	}
	minimum := params.MinimumCents
	if minimum <= 0 {
		minimum = DefaultMinimumCents
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:     params.Repo,
		ledger:   params.Ledger,
		tx:       params.TransactionRunner,
		outbox:   params.Outbox,
		notifier: notifier,
		logg:     params.Logger,
		metrics:  params.Metrics,
		minimum:  minimum,
		now:      now,
	}, nil
}

// Request creates a pending payout. Requests for one creator are serialized
// so two concurrent requests cannot both spend the same balance.
func (s *service) Request(ctx context.Context, input RequestInput) (*models.Payout, error) {
	if input.CreatorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "creator id is required")
	}
	method, err := enums.ParsePayoutMethod(string(input.Method))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payout method")
	}
	if input.AmountCents < s.minimum {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "minimum payout is %s", money.FormatUSD(s.minimum)).
			WithDetails(map[string]any{"minimum_cents": s.minimum, "amount_cents": input.AmountCents})
	}

	var details datatypes.JSON
	if len(input.MethodDetails) > 0 {
		raw, err := json.Marshal(input.MethodDetails)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid method details")
		}
		details = datatypes.JSON(raw)
	}

	var payout *models.Payout
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.LockCreator(ctx, input.CreatorID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock creator payouts")
		}
		available, err := s.available(ctx, repo, s.ledger.WithTx(tx), input.CreatorID)
		if err != nil {
			return err
		}
		if input.AmountCents > available {
			return pkgerrors.New(pkgerrors.CodeValidation, "payout exceeds available balance").
				WithDetails(map[string]any{"available_cents": available, "amount_cents": input.AmountCents})
		}

		payout = &models.Payout{
			CreatorID:     input.CreatorID,
			AmountCents:   input.AmountCents,
			Status:        enums.PayoutStatusPending,
			Method:        method,
			MethodDetails: details,
			CreatedAt:     s.now(),
			UpdatedAt:     s.now(),
		}
		if err := repo.Create(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout")
		}
		return s.emit(ctx, tx, enums.EventPayoutRequested, payout, "")
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncPayout(string(payout.Status))
	return payout, nil
}

func (s *service) Available(ctx context.Context, creatorID uuid.UUID) (int64, error) {
	if creatorID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "creator id is required")
	}
	return s.available(ctx, s.repo, s.ledger, creatorID)
}

func (s *service) available(ctx context.Context, repo Repository, led ledger.Service, creatorID uuid.UUID) (int64, error) {
	summary, err := led.Summarize(ctx, creatorID)
	if err != nil {
		return 0, err
	}
	reserved, err := repo.SumOpen(ctx, creatorID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum open payouts")
	}
	return summary.PendingBalance - reserved, nil
}

func (s *service) AdminProcess(ctx context.Context, input ProcessInput) (*models.Payout, error) {
	if input.PayoutID == uuid.Nil || input.AdminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout id and admin id are required")
	}
	action, err := enums.ParsePayoutAction(string(input.Action))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payout action")
	}
	reason := strings.TrimSpace(input.FailureReason)
	if action == enums.PayoutActionReject && reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "failure reason is required to reject a payout")
	}

	var payout *models.Payout
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		payout, err = s.lockPayout(ctx, s.repo.WithTx(tx), input.PayoutID)
		if err != nil {
			return err
		}
		next, err := nextStatus(payout.Status, action)
		if err != nil {
			return err
		}

		now := s.now()
		adminID := input.AdminID
		payout.Status = next
		payout.UpdatedAt = now
		if notes := strings.TrimSpace(input.Notes); notes != "" {
			payout.AdminNotes = &notes
		}
		switch action {
		case enums.PayoutActionApprove:
			payout.ProcessedBy = &adminID
			payout.ProcessedAt = &now
			payoutID := payout.ID
			_, err := s.ledger.WithTx(tx).Append(ctx, ledger.AppendInput{
				CreatorID:   payout.CreatorID,
				GrossCents:  -payout.AmountCents,
				Type:        enums.LedgerEntryTypePayout,
				PayoutID:    &payoutID,
				Description: "payout via " + string(payout.Method),
			})
			if err != nil {
				return err
			}
		case enums.PayoutActionReject:
			payout.ProcessedBy = &adminID
			payout.ProcessedAt = &now
			payout.FailureReason = &reason
		case enums.PayoutActionCancel:
			payout.ProcessedBy = &adminID
			payout.ProcessedAt = &now
		}

		if err := s.repo.WithTx(tx).Save(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout")
		}
		return s.emit(ctx, tx, enums.EventPayoutProcessed, payout, reason)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncPayout(string(payout.Status))
	s.notify(ctx, payout)
	return payout, nil
}

// CancelByCreator lets a creator withdraw their own request while it is still pending.
func (s *service) CancelByCreator(ctx context.Context, creatorID, payoutID uuid.UUID) (*models.Payout, error) {
	if creatorID == uuid.Nil || payoutID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "creator id and payout id are required")
	}
	var payout *models.Payout
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		payout, err = s.lockPayout(ctx, repo, payoutID)
		if err != nil {
			return err
		}
		if payout.CreatorID != creatorID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		if payout.Status != enums.PayoutStatusPending {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "payout is %s and can no longer be cancelled", payout.Status)
		}
		payout.Status = enums.PayoutStatusCancelled
		payout.UpdatedAt = s.now()
		if err := repo.Save(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel payout")
		}
		return s.emit(ctx, tx, enums.EventPayoutProcessed, payout, "cancelled by creator")
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncPayout(string(payout.Status))
	return payout, nil
}

func (s *service) ListByCreator(ctx context.Context, creatorID uuid.UUID, params pagination.Params) ([]models.Payout, error) {
	if creatorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "creator id is required")
	}
	params = params.Normalize()
	rows, err := s.repo.ListByCreator(ctx, creatorID, params.Limit, params.Offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payouts")
	}
	return rows, nil
}

func (s *service) ListByStatus(ctx context.Context, status *enums.PayoutStatus, params pagination.Params) ([]models.Payout, error) {
	if status != nil && !status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid payout status %q", *status)
	}
	params = params.Normalize()
	rows, err := s.repo.ListByStatus(ctx, status, params.Limit, params.Offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payouts")
	}
	return rows, nil
}

func (s *service) lockPayout(ctx context.Context, repo Repository, id uuid.UUID) (*models.Payout, error) {
	payout, err := repo.FindByIDForUpdate(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
	}
	return payout, nil
}

// nextStatus encodes pending -> processing -> completed with failed and
// cancelled reachable from either open state.
func nextStatus(current enums.PayoutStatus, action enums.PayoutAction) (enums.PayoutStatus, error) {
	var next enums.PayoutStatus
	allowed := false
	switch action {
	case enums.PayoutActionProcess:
		next, allowed = enums.PayoutStatusProcessing, current == enums.PayoutStatusPending
	case enums.PayoutActionApprove:
		next, allowed = enums.PayoutStatusCompleted, current.IsOpen()
	case enums.PayoutActionReject:
		next, allowed = enums.PayoutStatusFailed, current.IsOpen()
	case enums.PayoutActionCancel:
		next, allowed = enums.PayoutStatusCancelled, current.IsOpen()
	}
	if !allowed {
		return "", pkgerrors.Newf(pkgerrors.CodeStateConflict, "cannot %s a %s payout", action, current).
			WithDetails(map[string]any{"status": current, "action": action})
	}
	return next, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payout *models.Payout, reason string) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayout,
		AggregateID:   payout.ID,
		Data: payloads.PayoutEvent{
			PayoutID:    payout.ID,
			CreatorID:   payout.CreatorID,
			AmountCents: payout.AmountCents,
			Status:      payout.Status,
			Method:      payout.Method,
			ProcessedBy: payout.ProcessedBy,
			Reason:      reason,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue payout event")
	}
	return nil
}

func (s *service) notify(ctx context.Context, payout *models.Payout) {
	var note notifications.Notification
	switch payout.Status {
	case enums.PayoutStatusCompleted:
		note = notifications.Notification{
			UserID:  payout.CreatorID,
			Type:    enums.NotificationTypePayoutCompleted,
			Title:   "Payout sent",
			Message: "Your payout of " + money.FormatUSD(payout.AmountCents) + " has been approved.",
		}
	case enums.PayoutStatusFailed:
		note = notifications.Notification{
			UserID:  payout.CreatorID,
			Type:    enums.NotificationTypePayoutRejected,
			Title:   "Payout rejected",
			Message: "Your payout of " + money.FormatUSD(payout.AmountCents) + " was rejected.",
		}
		if payout.FailureReason != nil {
			note.Data = map[string]any{"reason": *payout.FailureReason}
		}
	default:
		return
	}
	if note.Data == nil {
		note.Data = map[string]any{}
	}
	note.Data["payout_id"] = payout.ID.String()
	notifications.Send(ctx, s.notifier, s.logg, note)
}
