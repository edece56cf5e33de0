// Package access decides whether a viewer may see a content item.
package access

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/internal/content"
	"github.com/angelmondragon/fanvault-backend/internal/entitlements"
	"github.com/angelmondragon/fanvault-backend/internal/subscriptions"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
)

// Reason explains an access decision.
type Reason string

const (
	ReasonContentDisabled Reason = "content_disabled"
	ReasonFree            Reason = "free"
	ReasonOwner           Reason = "owner"
	ReasonEntitlement     Reason = "entitlement"
	ReasonSubscription    Reason = "subscription"
	ReasonNoEntitlement   Reason = "no_entitlement"
)

// Decision is the outcome of an access check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    Reason    `json:"reason"`
	ContentID uuid.UUID `json:"content_id"`
	CreatorID uuid.UUID `json:"creator_id"`
}

type Service interface {
	WithTx(tx *gorm.DB) Service
	Decide(ctx context.Context, userID *uuid.UUID, contentID uuid.UUID) (*Decision, error)
	HasAccess(ctx context.Context, userID *uuid.UUID, contentID uuid.UUID) (bool, error)
}

type ServiceParams struct {
	Content       content.Lookup
	Entitlements  entitlements.Service
	Subscriptions subscriptions.Service
	Now           func() time.Time
}

type service struct {
	content       content.Lookup
	entitlements  entitlements.Service
	subscriptions subscriptions.Service
	now           func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Content == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "content lookup required")
	}
	if params.Entitlements == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		content:       params.Content,
		entitlements:  params.Entitlements,
		subscriptions: params.Subscriptions,
		now:           now,
	}, nil
}

// WithTx reads through tx so a decision observes uncommitted grants.
func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{
		content:       s.content.WithTx(tx),
		entitlements:  s.entitlements.WithTx(tx),
		subscriptions: s.subscriptions.WithTx(tx),
		now:           s.now,
	}
}

// Decide evaluates the rules in order; the first match wins. A nil userID is
// an anonymous viewer and only ever sees free content.
func (s *service) Decide(ctx context.Context, userID *uuid.UUID, contentID uuid.UUID) (*Decision, error) {
	vis, err := s.content.GetContentVisibility(ctx, contentID)
	if err != nil {
		return nil, err
	}
	decision := func(allowed bool, reason Reason) *Decision {
		return &Decision{Allowed: allowed, Reason: reason, ContentID: vis.ContentID, CreatorID: vis.CreatorID}
	}

	if vis.IsDisabled {
		return decision(false, ReasonContentDisabled), nil
	}
	if vis.Kind == enums.ContentVisibilityFree {
		return decision(true, ReasonFree), nil
	}
	if userID == nil || *userID == uuid.Nil {
		return decision(false, ReasonNoEntitlement), nil
	}
	if *userID == vis.CreatorID {
		return decision(true, ReasonOwner), nil
	}

	now := s.now()
	entitled, err := s.entitlements.HasActive(ctx, *userID, contentID, vis.CreatorID, now)
	if err != nil {
		return nil, err
	}
	if entitled {
		return decision(true, ReasonEntitlement), nil
	}

	if vis.Kind == enums.ContentVisibilitySubscriber {
		sub, err := s.subscriptions.FindActive(ctx, *userID, vis.CreatorID, now)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			return decision(true, ReasonSubscription), nil
		}
	}
	return decision(false, ReasonNoEntitlement), nil
}

func (s *service) HasAccess(ctx context.Context, userID *uuid.UUID, contentID uuid.UUID) (bool, error) {
	d, err := s.Decide(ctx, userID, contentID)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}
