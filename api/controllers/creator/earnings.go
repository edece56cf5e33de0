package creator

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fanvault-backend/api/controllers/dto"
	"github.com/angelmondragon/fanvault-backend/api/middleware"
	"github.com/angelmondragon/fanvault-backend/api/responses"
	"github.com/angelmondragon/fanvault-backend/api/validators"
	"github.com/angelmondragon/fanvault-backend/internal/ledger"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	"github.com/angelmondragon/fanvault-backend/pkg/pagination"
)

// LedgerReader exposes the creator-facing ledger queries.
type LedgerReader interface {
	Summarize(ctx context.Context, creatorID uuid.UUID) (*ledger.Summary, error)
	List(ctx context.Context, creatorID uuid.UUID, params pagination.Params) ([]models.LedgerEntry, error)
}

// Earnings returns the caller's balance summary derived from the ledger.
func Earnings(svc LedgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		creatorID, err := middleware.AuthenticatedUserID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.Summarize(r.Context(), creatorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

func Ledger(svc LedgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
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
		rows, err := svc.List(r.Context(), creatorID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pagination.NewPage(dto.NewLedgerEntries(rows), params))
	}
}
