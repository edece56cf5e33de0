package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/fanvault-backend/api/responses"
	"github.com/angelmondragon/fanvault-backend/internal/reconciler"
	whsvc "github.com/angelmondragon/fanvault-backend/internal/webhooks"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
)

const (
	maxPayloadBytes       = 1 << 20
	stripeSignatureHeader = "Stripe-Signature"
)

type EventProcessor interface {
	Process(ctx context.Context, event reconciler.PaymentEvent, raw []byte) (*whsvc.Outcome, error)
	RecordMalformed(ctx context.Context, provider string, raw []byte, cause error) (*whsvc.Outcome, error)
}

type ackResponse struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
	Ignored   bool `json:"ignored,omitempty"`
	Recorded  bool `json:"recorded,omitempty"`
}

// Stripe receives deliveries verified against the Stripe signing secret.
func Stripe(normalizer whsvc.Normalizer, proc EventProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if normalizer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhooks not configured"))
			return
		}
		receive(w, r, normalizer, proc, logg)
	}
}

// Provider receives deliveries for the signed provider named in the path.
func Provider(normalizers map[string]whsvc.Normalizer, proc EventProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
		normalizer, ok := normalizers[name]
		if !ok || normalizer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown webhook provider").
				WithDetails(map[string]any{"provider": name}))
			return
		}
		receive(w, r, normalizer, proc, logg)
	}
}

// receive verifies, normalizes and processes one delivery. Once the event is
// verified, the provider only sees a non-2xx when the failure could not be
// recorded for replay.
func receive(w http.ResponseWriter, r *http.Request, normalizer whsvc.Normalizer, proc EventProcessor, logg *logger.Logger) {
	ctx := r.Context()
	if proc == nil {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor unavailable"))
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payload too large"))
			return
		}
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
		return
	}

	var outcome *whsvc.Outcome
	event, err := normalizer.Normalize(payload, signature(r, normalizer.Provider()), r.Header.Get("Content-Type"))
	var bad *whsvc.MalformedError
	switch {
	case errors.As(err, &bad):
		outcome, err = proc.RecordMalformed(ctx, bad.Provider, payload, bad.Err)
	case err != nil:
		responses.WriteError(ctx, logg, w, err)
		return
	default:
		if logg != nil {
			ctx = logg.WithEventID(ctx, event.Provider, event.EventID)
			ctx = logg.WithField(ctx, "event_type", string(event.Type))
		}
		outcome, err = proc.Process(ctx, event, payload)
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "webhook could not be recorded"))
		return
	}

	if logg != nil {
		logg.Info(ctx, "webhook.received")
	}
	responses.WriteSuccess(w, ackResponse{
		Received:  true,
		Duplicate: outcome.Duplicate,
		Ignored:   outcome.Ignored,
		Recorded:  outcome.Recorded,
	})
}

func signature(r *http.Request, provider string) string {
	if provider == whsvc.ProviderStripe {
		return r.Header.Get(stripeSignatureHeader)
	}
	return r.Header.Get(whsvc.SignatureHeader)
}
