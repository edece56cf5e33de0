package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/fanvault-backend/api/controllers/dto"
	"github.com/angelmondragon/fanvault-backend/api/responses"
	"github.com/angelmondragon/fanvault-backend/api/validators"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox"
	"github.com/angelmondragon/fanvault-backend/pkg/pagination"
)

type DLQLister interface {
	List(ctx context.Context, filter outbox.DLQFilter, limit, offset int) ([]models.OutboxDLQ, error)
}

// ListOutboxDLQ pages events the outbox publisher parked. Optional filters:
// ?reason=max_attempts|non_retryable|undecodable and ?aggregate_id=<uuid>.
func ListOutboxDLQ(repo DLQLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox dlq store unavailable"))
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var filter outbox.DLQFilter
		if raw := strings.TrimSpace(r.URL.Query().Get("reason")); raw != "" {
			reason, err := enums.ParseOutboxDLQErrorReason(strings.ToLower(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid reason filter"))
				return
			}
			filter.Reason = &reason
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("aggregate_id")); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid aggregate_id filter"))
				return
			}
			filter.AggregateID = &id
		}

		rows, err := repo.List(r.Context(), filter, params.Limit, params.Offset)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list outbox dlq"))
			return
		}
		responses.WriteSuccess(w, pagination.NewPage(dto.NewOutboxDLQEntries(rows), params))
	}
}
