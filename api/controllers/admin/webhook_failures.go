package admin

import (
	"context"
	"net/http"

	"github.com/angelmondragon/fanvault-backend/api/controllers/dto"
	"github.com/angelmondragon/fanvault-backend/api/responses"
	"github.com/angelmondragon/fanvault-backend/api/validators"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	"github.com/angelmondragon/fanvault-backend/pkg/pagination"
)

type FailureLister interface {
	ListUnresolved(ctx context.Context, maxAttempts, limit, offset int) ([]models.WebhookFailure, error)
}

// ListWebhookFailures returns the unresolved failure queue, including rows
// the replay job has given up on.
func ListWebhookFailures(repo FailureLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook failure store unavailable"))
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := repo.ListUnresolved(r.Context(), 0, params.Limit, params.Offset)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list webhook failures"))
			return
		}
		responses.WriteSuccess(w, pagination.NewPage(dto.NewWebhookFailures(rows), params))
	}
}
