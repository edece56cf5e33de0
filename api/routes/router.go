package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/fanvault-backend/api/controllers"
	admincontrollers "github.com/angelmondragon/fanvault-backend/api/controllers/admin"
	creatorcontrollers "github.com/angelmondragon/fanvault-backend/api/controllers/creator"
	subscriptioncontrollers "github.com/angelmondragon/fanvault-backend/api/controllers/subscriptions"
	webhookcontrollers "github.com/angelmondragon/fanvault-backend/api/controllers/webhooks"
	"github.com/angelmondragon/fanvault-backend/api/middleware"
	"github.com/angelmondragon/fanvault-backend/internal/access"
	"github.com/angelmondragon/fanvault-backend/internal/ledger"
	"github.com/angelmondragon/fanvault-backend/internal/payouts"
	"github.com/angelmondragon/fanvault-backend/internal/subscriptions"
	"github.com/angelmondragon/fanvault-backend/internal/webhooks"
	"github.com/angelmondragon/fanvault-backend/pkg/config"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/fanvault-backend/pkg/redis"
)

// Dependencies carries everything the HTTP surface is wired to.
type Dependencies struct {
	Config *config.Config
	Logger *logger.Logger

	// Pingers are checked by /health/ready, keyed by dependency name.
	Pingers          map[string]controllers.Pinger
	IdempotencyStore pkgredis.IdempotencyStore
	RateLimiter      middleware.RateLimiterStore
	// Metrics defaults to the Prometheus default gatherer.
	Metrics http.Handler

	Access        access.Service
	Subscriptions subscriptions.Service
	Ledger        ledger.Service
	Payouts       payouts.Service

	WebhookFailures     webhooks.FailureRepository
	OutboxDLQ           admincontrollers.DLQLister
	WebhookProcessor    webhookcontrollers.EventProcessor
	StripeNormalizer    webhooks.Normalizer
	ProviderNormalizers map[string]webhooks.Normalizer
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	metricsHandler := deps.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	webhookPolicy := middleware.NewRateLimitPolicy("webhooks", middleware.RateLimitByIP, cfg.RateLimit.Window, cfg.RateLimit.WebhookLimit)
	userPolicy := middleware.NewRateLimitPolicy("api", middleware.RateLimitByUser, cfg.RateLimit.Window, cfg.RateLimit.UserLimit)

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.Pingers, logg))
	})
	r.Handle("/metrics", metricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/webhooks", func(r chi.Router) {
			r.Use(middleware.RateLimit(webhookPolicy, deps.RateLimiter, logg))
			r.Post("/stripe", webhookcontrollers.Stripe(deps.StripeNormalizer, deps.WebhookProcessor, logg))
			r.Post("/{provider}", webhookcontrollers.Provider(deps.ProviderNormalizers, deps.WebhookProcessor, logg))
		})

		r.With(middleware.OptionalAuth(cfg.JWT, logg)).
			Get("/content/{contentId}/access", controllers.ContentAccess(deps.Access, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RateLimit(userPolicy, deps.RateLimiter, logg))
			r.Use(middleware.Idempotency(deps.IdempotencyStore, logg))

			r.Route("/subscriptions", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.UserRoleFan))
				r.Post("/", subscriptioncontrollers.Create(deps.Subscriptions, logg))
				r.Get("/", subscriptioncontrollers.List(deps.Subscriptions, logg))
				r.Post("/{subscriptionId}/cancel", subscriptioncontrollers.Cancel(deps.Subscriptions, logg))
			})

			r.Route("/creator", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.UserRoleCreator))
				r.Get("/earnings", creatorcontrollers.Earnings(deps.Ledger, logg))
				r.Get("/ledger", creatorcontrollers.Ledger(deps.Ledger, logg))
				r.Route("/payouts", func(r chi.Router) {
					r.Post("/", creatorcontrollers.RequestPayout(deps.Payouts, logg))
					r.Get("/", creatorcontrollers.ListPayouts(deps.Payouts, logg))
					r.Post("/{payoutId}/cancel", creatorcontrollers.CancelPayout(deps.Payouts, logg))
				})
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
		r.Use(middleware.RateLimit(userPolicy, deps.RateLimiter, logg))
		r.Use(middleware.Idempotency(deps.IdempotencyStore, logg))

		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", admincontrollers.ListPayouts(deps.Payouts, logg))
			r.Post("/{payoutId}/process", admincontrollers.ProcessPayout(deps.Payouts, logg))
		})
		r.Get("/webhook-failures", admincontrollers.ListWebhookFailures(deps.WebhookFailures, logg))
		r.Get("/outbox-dlq", admincontrollers.ListOutboxDLQ(deps.OutboxDLQ, logg))
	})

	return r
}
