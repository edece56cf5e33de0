package admin

import (
	"context"
	"net/http"
	"strings"

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

type PayoutService interface {
	AdminProcess(ctx context.Context, input payouts.ProcessInput) (*models.Payout, error)
	ListByStatus(ctx context.Context, status *enums.PayoutStatus, params pagination.Params) ([]models.Payout, error)
}

type processPayoutRequest struct {
	Action        string `json:"action" validate:"required,payout_action"`
	Notes         string `json:"notes,omitempty" validate:"max=1000"`
	FailureReason string `json:"failure_reason,omitempty" validate:"max=500"`
}

// ListPayouts returns payouts across creators, optionally filtered by ?status.
func ListPayouts(svc PayoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var status *enums.PayoutStatus
		if raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))); raw != "" {
			parsed, err := enums.ParsePayoutStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter").
					WithDetails(map[string]any{"field": "status"}))
				return
			}
			status = &parsed
		}

		rows, err := svc.ListByStatus(r.Context(), status, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pagination.NewPage(dto.NewPayouts(rows), params))
	}
}

// ProcessPayout applies an admin action (process, approve, reject, cancel).
func ProcessPayout(svc PayoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		adminID, err := middleware.AuthenticatedUserID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payoutID, err := validators.ParseUUIDParam(r, "payoutId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload processPayoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		action, err := enums.ParsePayoutAction(payload.Action)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payout action").
				WithDetails(map[string]any{"field": "action"}))
			return
		}

		payout, err := svc.AdminProcess(r.Context(), payouts.ProcessInput{
			PayoutID:      payoutID,
			AdminID:       adminID,
			Action:        action,
			Notes:         validators.SanitizeString(payload.Notes, 1000),
			FailureReason: validators.SanitizeString(payload.FailureReason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewPayout(payout))
	}
}
