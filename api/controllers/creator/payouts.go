package creator

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fanvault-backend/api/controllers/dto"
	"github.com/angelmondragon/fanvault-backend/api/middleware"
	"github.com/angelmondragon/fanvault-backend/api/responses"
	"github.com/angelmondragon/fanvault-backend/api/validators"
	"github.com/angelmondragon/fanvault-backend/internal/payouts"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	"github.com/angelmondragon/fanvault-backend/pkg/pagination"
)

// PayoutService is the creator side of the payout workflow.
type PayoutService interface {
	Request(ctx context.Context, input payouts.RequestInput) (*models.Payout, error)
	CancelByCreator(ctx context.Context, creatorID, payoutID uuid.UUID) (*models.Payout, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID, params pagination.Params) ([]models.Payout, error)
}

type payoutRequest struct {
	AmountCents   int64          `json:"amount_cents" validate:"gt=0"`
	Method        string         `json:"method" validate:"required,payout_method"`
	MethodDetails map[string]any `json:"method_details,omitempty"`
}

// RequestPayout reserves available balance for a withdrawal. The route is
// guarded by the Idempotency-Key middleware.
func RequestPayout(svc PayoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		creatorID, err := middleware.AuthenticatedUserID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload payoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePayoutMethod(payload.Method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payout method").
				WithDetails(map[string]any{"field": "method"}))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithCreatorID(ctx, creatorID.String())
		}
		payout, err := svc.Request(ctx, payouts.RequestInput{
			CreatorID:     creatorID,
			AmountCents:   payload.AmountCents,
			Method:        method,
			MethodDetails: payload.MethodDetails,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewPayout(payout))
	}
}

func ListPayouts(svc PayoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		creatorID, err := middleware.AuthenticatedUserID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListByCreator(r.Context(), creatorID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pagination.NewPage(dto.NewPayouts(rows), params))
	}
}

// CancelPayout withdraws a pending request and releases its reserved funds.
func CancelPayout(svc PayoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		creatorID, err := middleware.AuthenticatedUserID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payoutID, err := validators.ParseUUIDParam(r, "payoutId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payout, err := svc.CancelByCreator(r.Context(), creatorID, payoutID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewPayout(payout))
	}
}
