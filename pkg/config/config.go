package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Billing      BillingConfig
	Payouts      PayoutsConfig
	Webhooks     WebhooksConfig
	Stripe       StripeConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	RabbitMQ     RabbitMQConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"FANVAULT_APP_ENV" required:"true"`
	Port         string   `envconfig:"FANVAULT_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"FANVAULT_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"FANVAULT_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"FANVAULT_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"FANVAULT_CORS_ORIGINS"`
	// MetricsAddr is the /metrics listener for worker binaries; the API
	// serves metrics on its own router.
	MetricsAddr string `envconfig:"FANVAULT_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FANVAULT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FANVAULT_DB_DSN"`
	Driver string `envconfig:"FANVAULT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FANVAULT_DB_HOST"`
	LegacyPort     int    `envconfig:"FANVAULT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FANVAULT_DB_USER"`
	LegacyPassword string `envconfig:"FANVAULT_DB_PASSWORD"`
	LegacyName     string `envconfig:"FANVAULT_DB_NAME"`
	LegacySSLMode  string `envconfig:"FANVAULT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FANVAULT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FANVAULT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FANVAULT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FANVAULT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold routes statements slower than this to the warn log. Zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"FANVAULT_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FANVAULT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FANVAULT_REDIS_ADDR"`
	Password     string        `envconfig:"FANVAULT_REDIS_PASSWORD"`
	DB           int           `envconfig:"FANVAULT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FANVAULT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FANVAULT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FANVAULT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FANVAULT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FANVAULT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string        `envconfig:"FANVAULT_JWT_SECRET" required:"true"`
	Issuer            string        `envconfig:"FANVAULT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int           `envconfig:"FANVAULT_JWT_EXPIRATION_MINUTES" required:"true"`
	Leeway            time.Duration `envconfig:"FANVAULT_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate       bool `envconfig:"FANVAULT_AUTO_MIGRATE" default:"false"`
	RequireCreatorKYC bool `envconfig:"FANVAULT_REQUIRE_CREATOR_KYC" default:"true"`
}

// BillingConfig covers subscription periods. The platform fee rate is fixed in pkg/money.
type BillingConfig struct {
	PeriodDays int `envconfig:"FANVAULT_BILLING_PERIOD_DAYS" default:"30"`
}

type PayoutsConfig struct {
	MinimumCents int64 `envconfig:"FANVAULT_PAYOUT_MINIMUM_CENTS" default:"1000"`
}

type WebhooksConfig struct {
	// Providers maps a signed provider name to its shared secret, e.g. "ccbill:abc,segpay:def".
	Providers         map[string]string `envconfig:"FANVAULT_WEBHOOK_PROVIDERS"`
	ProcessingTimeout time.Duration     `envconfig:"FANVAULT_WEBHOOK_PROCESSING_TIMEOUT" default:"15s"`
	IdempotencyTTL    time.Duration     `envconfig:"FANVAULT_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	ReplayBatchSize   int               `envconfig:"FANVAULT_WEBHOOK_REPLAY_BATCH_SIZE" default:"50"`
	ReplayMaxAttempts int               `envconfig:"FANVAULT_WEBHOOK_REPLAY_MAX_ATTEMPTS" default:"5"`
}

// ProviderSecret returns the shared secret for the normalized provider name.
func (w WebhooksConfig) ProviderSecret(provider string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(provider))
	for name, secret := range w.Providers {
		if strings.ToLower(strings.TrimSpace(name)) == key && strings.TrimSpace(secret) != "" {
			return strings.TrimSpace(secret), true
		}
	}
	return "", false
}

type StripeConfig struct {
	Secret string `envconfig:"FANVAULT_STRIPE_SECRET"`
	Env    string `envconfig:"FANVAULT_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type GCPConfig struct {
	ProjectID       string `envconfig:"FANVAULT_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"FANVAULT_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	PaymentsTopic     string `envconfig:"FANVAULT_PUBSUB_PAYMENTS_TOPIC" default:"fv-payment-events"`
	PayoutsTopic      string `envconfig:"FANVAULT_PUBSUB_PAYOUTS_TOPIC" default:"fv-payout-events"`
	NotificationTopic string `envconfig:"FANVAULT_PUBSUB_NOTIFICATION_TOPIC" default:"fv-notification-events"`
}

type RabbitMQConfig struct {
	URL      string `envconfig:"FANVAULT_RABBITMQ_URL"`
	Exchange string `envconfig:"FANVAULT_RABBITMQ_EXCHANGE" default:"fanvault.events"`
}

type OutboxConfig struct {
	Transport      string `envconfig:"FANVAULT_OUTBOX_TRANSPORT" default:"pubsub"`
	BatchSize      int    `envconfig:"FANVAULT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"FANVAULT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"FANVAULT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int    `envconfig:"FANVAULT_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (o OutboxConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(o.Transport)) {
	case OutboxTransportPubSub, OutboxTransportRabbitMQ:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvOutboxTransport, OutboxTransportPubSub, OutboxTransportRabbitMQ)
	}
}

// TransportName returns the normalized outbox transport.
func (o OutboxConfig) TransportName() string {
	return strings.ToLower(strings.TrimSpace(o.Transport))
}

type CronConfig struct {
	Schedule string        `envconfig:"FANVAULT_CRON_SCHEDULE" default:"*/15 * * * *"`
	LockKey  string        `envconfig:"FANVAULT_CRON_LOCK_KEY" default:"fv:cron:lock"`
	LockTTL  time.Duration `envconfig:"FANVAULT_CRON_LOCK_TTL" default:"14m"`
	// Jobs limits the worker to the named jobs; empty runs all of them.
	Jobs []string `envconfig:"FANVAULT_CRON_JOBS"`
}

// RateLimitConfig bounds request volume per client IP on the webhook routes
// and per authenticated user on the API routes. A zero limit disables that scope.
type RateLimitConfig struct {
	Window       time.Duration `envconfig:"FANVAULT_RATE_LIMIT_WINDOW" default:"1m"`
	WebhookLimit int           `envconfig:"FANVAULT_RATE_LIMIT_WEBHOOK_PER_IP" default:"600"`
	UserLimit    int           `envconfig:"FANVAULT_RATE_LIMIT_PER_USER" default:"120"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
