package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fanvault-backend/api/middleware"
	"github.com/angelmondragon/fanvault-backend/api/responses"
	"github.com/angelmondragon/fanvault-backend/api/validators"
	"github.com/angelmondragon/fanvault-backend/internal/access"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
)

type accessDecider interface {
	Decide(ctx context.Context, userID *uuid.UUID, contentID uuid.UUID) (*access.Decision, error)
}

type contentAccessResponse struct {
	Allowed bool          `json:"allowed"`
	Reason  access.Reason `json:"reason"`
}

// ContentAccess answers whether the caller, possibly anonymous, may view a content item.
func ContentAccess(svc accessDecider, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "access service unavailable"))
			return
		}

		contentID, err := validators.ParseUUIDParam(r, "contentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var viewer *uuid.UUID
		if raw := middleware.UserIDFromContext(r.Context()); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id"))
				return
			}
			viewer = &id
		}

		decision, err := svc.Decide(r.Context(), viewer, contentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, contentAccessResponse{Allowed: decision.Allowed, Reason: decision.Reason})
	}
}
