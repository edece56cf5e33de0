package subscriptions

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/fanvault-backend/api/controllers/dto"
	"github.com/angelmondragon/fanvault-backend/api/middleware"
	"github.com/angelmondragon/fanvault-backend/api/responses"
	"github.com/angelmondragon/fanvault-backend/api/validators"
	subsvc "github.com/angelmondragon/fanvault-backend/internal/subscriptions"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	"github.com/angelmondragon/fanvault-backend/pkg/pagination"
)

// FanService is the slice of the subscription service the fan routes need.
type FanService interface {
	Create(ctx context.Context, input subsvc.CreateInput) (*models.Subscription, error)
	Cancel(ctx context.Context, input subsvc.CancelInput) (*subsvc.CancelResult, error)
	ListForFan(ctx context.Context, fanID uuid.UUID, params pagination.Params) ([]models.Subscription, error)
}

type createSubscriptionRequest struct {
	CreatorID  string `json:"creator_id" validate:"required,uuid"`
	TierName   string `json:"tier_name" validate:"required,max=100"`
	PriceCents int64  `json:"price_cents" validate:"gt=0"`
	AutoRenew  *bool  `json:"auto_renew,omitempty"`
}

type cancelSubscriptionRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

func Create(svc FanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		fanID, err := middleware.AuthenticatedUserID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		creatorID, err := uuid.Parse(payload.CreatorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid creator_id"))
			return
		}

		sub, err := svc.Create(r.Context(), subsvc.CreateInput{
			FanID:      fanID,
			CreatorID:  creatorID,
			TierName:   validators.SanitizeString(payload.TierName, 100),
			PriceCents: payload.PriceCents,
			AutoRenew:  payload.AutoRenew,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewSubscription(sub))
	}
}

// Cancel stops auto renewal on the caller's own subscription. Repeating it is a no-op.
func Cancel(svc FanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		fanID, err := middleware.AuthenticatedUserID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		subscriptionID, err := validators.ParseUUIDParam(r, "subscriptionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelSubscriptionRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		reason := strings.TrimSpace(payload.Reason)
		if reason == "" {
			reason = "user_requested"
		}

		result, err := svc.Cancel(r.Context(), subsvc.CancelInput{
			SubscriptionID: subscriptionID,
			Reason:         reason,
			FanID:          &fanID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewSubscription(result.Subscription))
	}
}

func List(svc FanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		fanID, err := middleware.AuthenticatedUserID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListForFan(r.Context(), fanID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pagination.NewPage(dto.NewSubscriptions(rows), params))
	}
}
