package entitlements

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/pagination"
)

// Service grants and answers questions about content entitlements.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Grant(ctx context.Context, input GrantInput) (*models.Entitlement, bool, error)
	HasActive(ctx context.Context, userID, contentID, creatorID uuid.UUID, now time.Time) (bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Entitlement, error)
}

// GrantInput describes a grant. A nil ContentID covers all of the creator's content.
type GrantInput struct {
	UserID         uuid.UUID
	ContentID      *uuid.UUID
	CreatorID      uuid.UUID
	Type           enums.EntitlementType
	SubscriptionID *uuid.UUID
	TransactionID  *uuid.UUID
	ExpiresAt      *time.Time
}

type ServiceParams struct {
	Repo Repository
	Now  func() time.Time
}

type service struct {
	repo Repository
	now  func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlements repository required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{repo: params.Repo, now: now}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), now: s.now}
}

// Grant inserts the entitlement unless one already exists for the same
// (user, content, type). The existing row is returned unchanged with created=false.
func (s *service) Grant(ctx context.Context, input GrantInput) (*models.Entitlement, bool, error) {
	if input.UserID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.CreatorID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "creator id is required")
	}
	if !input.Type.IsValid() {
		return nil, false, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid entitlement type %q", input.Type)
	}
	if input.Type == enums.EntitlementTypePPVPurchase && input.ContentID == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "ppv entitlements require a content id")
	}

	grant := &models.Entitlement{
		UserID:         input.UserID,
		ContentID:      input.ContentID,
		CreatorID:      input.CreatorID,
		Type:           input.Type,
		SubscriptionID: input.SubscriptionID,
		TransactionID:  input.TransactionID,
		GrantedAt:      s.now(),
		ExpiresAt:      input.ExpiresAt,
	}

	created, err := s.repo.InsertIfAbsent(ctx, grant)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert entitlement")
	}
	if created {
		return grant, true, nil
	}

	existing, err := s.repo.FindExisting(ctx, input.UserID, input.ContentID, input.Type)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing entitlement")
	}
	return existing, false, nil
}

func (s *service) HasActive(ctx context.Context, userID, contentID, creatorID uuid.UUID, now time.Time) (bool, error) {
	ok, err := s.repo.HasActive(ctx, userID, contentID, creatorID, now)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check entitlement")
	}
	return ok, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Entitlement, error) {
	params = params.Normalize()
	grants, err := s.repo.ListForUser(ctx, userID, params.Limit, params.Offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list entitlements")
	}
	return grants, nil
}
