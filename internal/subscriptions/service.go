package subscriptions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/internal/creators"
	"github.com/angelmondragon/fanvault-backend/pkg/db"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/pagination"
)

// DefaultPeriodDays is used when neither the caller nor config sets a period.
const DefaultPeriodDays = 30

const reasonSuperseded = "superseded_by_active_subscription"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service drives the pending -> active -> canceled/expired lifecycle.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Create(ctx context.Context, input CreateInput) (*models.Subscription, error)
	CreateActive(ctx context.Context, input CreateInput, activation ActivateInput) (*ActivateResult, error)
	Activate(ctx context.Context, input ActivateInput) (*ActivateResult, error)
	Cancel(ctx context.Context, input CancelInput) (*CancelResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindActive(ctx context.Context, fanID, creatorID uuid.UUID, now time.Time) (*models.Subscription, error)
	ListForFan(ctx context.Context, fanID uuid.UUID, params pagination.Params) ([]models.Subscription, error)
	ExpireStale(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo              Repository
	Approvals         creators.Approvals
	TransactionRunner txRunner
	PeriodDays        int
	Now               func() time.Time
}

type CreateInput struct {
	FanID      uuid.UUID
	CreatorID  uuid.UUID
	TierName   string
	PriceCents int64
	// AutoRenew defaults to true when nil.
	AutoRenew *bool
}

type ActivateInput struct {
	SubscriptionID uuid.UUID
	PeriodDays     int
	// TransactionID makes activation idempotent per provider payment.
	TransactionID *uuid.UUID
	Now           time.Time
}

// ActivateResult reports the row that now holds the active slot.
type ActivateResult struct {
	Subscription *models.Subscription
	// Changed is false when the payment was already applied.
	Changed bool
	Renewed bool
}

type CancelInput struct {
	SubscriptionID uuid.UUID
	Reason         string
	// FanID, when set, restricts cancellation to the subscriber's own row.
	FanID *uuid.UUID
	Now   time.Time
}

type CancelResult struct {
	Subscription *models.Subscription
	Changed      bool
}

type service struct {
	repo       Repository
	approvals  creators.Approvals
	txRunner   txRunner
	bound      bool
	periodDays int
	now        func() time.Time
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repository required")
	}
	if params.Approvals == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "creator approvals required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	period := params.PeriodDays
	if period <= 0 {
		period = DefaultPeriodDays
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:       params.Repo,
		approvals:  params.Approvals,
		txRunner:   params.TransactionRunner,
		periodDays: period,
		now:        now,
	}, nil
}

// WithTx binds the service to an outer transaction; nested units run inline.
func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.repo = s.repo.WithTx(tx)
	clone.bound = true
	return &clone
}

func (s *service) inTx(ctx context.Context, fn func(repo Repository) error) error {
	if s.bound {
		return fn(s.repo)
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		return fn(s.repo.WithTx(tx))
	})
}

func (s *service) validateCreate(input CreateInput) error {
	if input.FanID == uuid.Nil || input.CreatorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "fan id and creator id are required")
	}
	if input.FanID == input.CreatorID {
		return pkgerrors.New(pkgerrors.CodeValidation, "creators cannot subscribe to themselves")
	}
	if input.PriceCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	if strings.TrimSpace(input.TierName) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "tier name is required")
	}
	return nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Subscription, error) {
	if err := s.validateCreate(input); err != nil {
		return nil, err
	}

	approved, err := s.approvals.IsCreatorApproved(ctx, input.CreatorID)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "creator is not verified for subscriptions")
	}

	now := s.now()
	var created *models.Subscription
	err = s.inTx(ctx, func(repo Repository) error {
		active, err := findActive(ctx, repo, input.FanID, input.CreatorID, now)
		if err != nil {
			return err
		}
		if active != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "an active subscription to this creator already exists").
				WithDetails(map[string]any{"subscription_id": active.ID})
		}
		sub := newPending(input, now)
		if err := repo.Create(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
		}
		created = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateActive records a subscription that settled with its first payment.
// When the pair already holds an active row, that row is renewed instead.
// The KYC gate is not consulted: the money has already moved.
func (s *service) CreateActive(ctx context.Context, input CreateInput, activation ActivateInput) (*ActivateResult, error) {
	if err := s.validateCreate(input); err != nil {
		return nil, err
	}
	now := activation.Now
	if now.IsZero() {
		now = s.now()
	}

	var result *ActivateResult
	err := s.inTx(ctx, func(repo Repository) error {
		if err := expireLapsedForPair(ctx, repo, input.FanID, input.CreatorID, now); err != nil {
			return err
		}
		current, err := lockActiveForPair(ctx, repo, input.FanID, input.CreatorID)
		if err != nil {
			return err
		}
		if current != nil {
			result, err = s.extend(ctx, repo, current, activation.TransactionID, s.period(activation.PeriodDays), now)
			return err
		}

		sub := newPending(input, now)
		if err := repo.Create(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
		}
		result, err = s.start(ctx, repo, sub, activation.TransactionID, s.period(activation.PeriodDays), now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Activate(ctx context.Context, input ActivateInput) (*ActivateResult, error) {
	if input.SubscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	now := input.Now
	if now.IsZero() {
		now = s.now()
	}
	period := s.period(input.PeriodDays)

	var result *ActivateResult
	err := s.inTx(ctx, func(repo Repository) error {
		sub, err := repo.FindByIDForUpdate(ctx, input.SubscriptionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}

		if input.TransactionID != nil && sub.LastTransactionID != nil && *sub.LastTransactionID == *input.TransactionID {
			result = &ActivateResult{Subscription: sub}
			return nil
		}

		switch sub.Status {
		case enums.SubscriptionStatusActive:
			result, err = s.extend(ctx, repo, sub, input.TransactionID, period, now)
			return err
		case enums.SubscriptionStatusPending:
			if err := expireLapsedForPair(ctx, repo, sub.FanID, sub.CreatorID, now); err != nil {
				return err
			}
			current, err := lockActiveForPair(ctx, repo, sub.FanID, sub.CreatorID)
			if err != nil {
				return err
			}
			if current != nil {
				// The pair already pays for access; roll this payment into
				// the active row and retire the pending duplicate.
				result, err = s.extend(ctx, repo, current, input.TransactionID, period, now)
				if err != nil {
					return err
				}
				reason := reasonSuperseded
				sub.Status = enums.SubscriptionStatusCanceled
				sub.CanceledAt = &now
				sub.CancelReason = &reason
				sub.AutoRenew = false
				sub.UpdatedAt = now
				if err := repo.Save(ctx, sub); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retire pending subscription")
				}
				return nil
			}
			result, err = s.start(ctx, repo, sub, input.TransactionID, period, now)
			return err
		default:
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "cannot activate a %s subscription", sub.Status).
				WithDetails(map[string]any{"subscription_id": sub.ID, "status": sub.Status})
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) start(ctx context.Context, repo Repository, sub *models.Subscription, txID *uuid.UUID, period time.Duration, now time.Time) (*ActivateResult, error) {
	expires := now.Add(period)
	started := now
	sub.Status = enums.SubscriptionStatusActive
	sub.StartedAt = &started
	sub.ExpiresAt = &expires
	sub.LastTransactionID = txID
	sub.UpdatedAt = now
	if err := repo.Save(ctx, sub); err != nil {
		return nil, mapSaveError(err)
	}
	return &ActivateResult{Subscription: sub, Changed: true}, nil
}

// extend applies a renewal payment to an active row. The new period runs from
// the later of now and the current expiry, so early renewals keep paid time.
func (s *service) extend(ctx context.Context, repo Repository, sub *models.Subscription, txID *uuid.UUID, period time.Duration, now time.Time) (*ActivateResult, error) {
	if txID != nil && sub.LastTransactionID != nil && *sub.LastTransactionID == *txID {
		return &ActivateResult{Subscription: sub}, nil
	}
	base := now
	if sub.ExpiresAt != nil && sub.ExpiresAt.After(now) {
		base = *sub.ExpiresAt
	}
	expires := base.Add(period)
	sub.ExpiresAt = &expires
	if sub.StartedAt == nil {
		started := now
		sub.StartedAt = &started
	}
	sub.LastTransactionID = txID
	sub.UpdatedAt = now
	if err := repo.Save(ctx, sub); err != nil {
		return nil, mapSaveError(err)
	}
	return &ActivateResult{Subscription: sub, Changed: true, Renewed: true}, nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*CancelResult, error) {
	if input.SubscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	now := input.Now
	if now.IsZero() {
		now = s.now()
	}

	var result *CancelResult
	err := s.inTx(ctx, func(repo Repository) error {
		sub, err := repo.FindByIDForUpdate(ctx, input.SubscriptionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if input.FanID != nil && sub.FanID != *input.FanID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}

		switch sub.Status {
		case enums.SubscriptionStatusCanceled:
			result = &CancelResult{Subscription: sub}
			return nil
		case enums.SubscriptionStatusExpired:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cannot cancel an expired subscription").
				WithDetails(map[string]any{"subscription_id": sub.ID})
		}

		sub.Status = enums.SubscriptionStatusCanceled
		sub.CanceledAt = &now
		sub.AutoRenew = false
		if reason := strings.TrimSpace(input.Reason); reason != "" {
			sub.CancelReason = &reason
		}
		sub.UpdatedAt = now
		if err := repo.Save(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
		}
		result = &CancelResult{Subscription: sub, Changed: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	return sub, nil
}

// FindActive returns the pair's subscription if it grants access at now, or nil.
func (s *service) FindActive(ctx context.Context, fanID, creatorID uuid.UUID, now time.Time) (*models.Subscription, error) {
	return findActive(ctx, s.repo, fanID, creatorID, now)
}

func (s *service) ListForFan(ctx context.Context, fanID uuid.UUID, params pagination.Params) ([]models.Subscription, error) {
	params = params.Normalize()
	subs, err := s.repo.ListByFan(ctx, fanID, params.Limit, params.Offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}
	return subs, nil
}

// ExpireStale marks lapsed active rows expired and returns the rows it changed.
func (s *service) ExpireStale(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	var expired []models.Subscription
	err := s.inTx(ctx, func(repo Repository) error {
		lapsed, err := repo.ListLapsedActive(ctx, now, limit)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list lapsed subscriptions")
		}
		if len(lapsed) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(lapsed))
		for _, sub := range lapsed {
			ids = append(ids, sub.ID)
		}
		if _, err := repo.MarkExpired(ctx, ids, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire subscriptions")
		}
		for i := range lapsed {
			lapsed[i].Status = enums.SubscriptionStatusExpired
		}
		expired = lapsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// IsActiveAt is the single rule every reader applies.
func IsActiveAt(sub *models.Subscription, now time.Time) bool {
	return sub.IsActiveAt(now)
}

func (s *service) period(days int) time.Duration {
	if days <= 0 {
		days = s.periodDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func newPending(input CreateInput, now time.Time) *models.Subscription {
	autoRenew := true
	if input.AutoRenew != nil {
		autoRenew = *input.AutoRenew
	}
	return &models.Subscription{
		FanID:      input.FanID,
		CreatorID:  input.CreatorID,
		TierName:   strings.TrimSpace(input.TierName),
		PriceCents: input.PriceCents,
		Status:     enums.SubscriptionStatusPending,
		AutoRenew:  autoRenew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func findActive(ctx context.Context, repo Repository, fanID, creatorID uuid.UUID, now time.Time) (*models.Subscription, error) {
	sub, err := repo.FindActiveForPair(ctx, fanID, creatorID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active subscription")
	}
	if !sub.IsActiveAt(now) {
		return nil, nil
	}
	return sub, nil
}

func lockActiveForPair(ctx context.Context, repo Repository, fanID, creatorID uuid.UUID) (*models.Subscription, error) {
	sub, err := repo.FindActiveForPairForUpdate(ctx, fanID, creatorID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock active subscription")
	}
	return sub, nil
}

// expireLapsedForPair frees the active slot when the row holding it has lapsed,
// so the partial unique index admits the new activation.
func expireLapsedForPair(ctx context.Context, repo Repository, fanID, creatorID uuid.UUID, now time.Time) error {
	current, err := lockActiveForPair(ctx, repo, fanID, creatorID)
	if err != nil || current == nil || current.IsActiveAt(now) {
		return err
	}
	if _, err := repo.MarkExpired(ctx, []uuid.UUID{current.ID}, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire lapsed subscription")
	}
	return nil
}

func mapSaveError(err error) error {
	if db.IsUniqueViolation(err, "ux_subscriptions_active_pair") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "another active subscription exists for this pair")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save subscription")
}
