package config

const EnvPrefix = "FANVAULT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	OutboxTransportPubSub   = "pubsub"
	OutboxTransportRabbitMQ = "rabbitmq"
)

const (
	EnvAppEnv            = "FANVAULT_APP_ENV"
	EnvPort              = "FANVAULT_APP_PORT"
	EnvDBDSN             = "FANVAULT_DB_DSN"
	EnvDBHost            = "FANVAULT_DB_HOST"
	EnvDBUser            = "FANVAULT_DB_USER"
	EnvDBPassword        = "FANVAULT_DB_PASSWORD"
	EnvDBName            = "FANVAULT_DB_NAME"
	EnvRedisURL          = "FANVAULT_REDIS_URL"
	EnvJWTSecret         = "FANVAULT_JWT_SECRET"
	EnvJWTIssuer         = "FANVAULT_JWT_ISSUER"
	EnvJWTExpMins        = "FANVAULT_JWT_EXPIRATION_MINUTES"
	EnvWebhookProviders  = "FANVAULT_WEBHOOK_PROVIDERS"
	EnvBillingPeriodDays = "FANVAULT_BILLING_PERIOD_DAYS"
	EnvPayoutMinimum     = "FANVAULT_PAYOUT_MINIMUM_CENTS"
	EnvOutboxTransport   = "FANVAULT_OUTBOX_TRANSPORT"
	EnvStripeSecret      = "FANVAULT_STRIPE_SECRET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
