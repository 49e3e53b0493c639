package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App            AppConfig
	Service        ServiceConfig
	DB             DBConfig
	Redis          RedisConfig
	JWT            JWTConfig
	FeatureFlags   FeatureFlagsConfig
	Fees           FeesConfig
	Payments       PaymentsConfig
	Stripe         StripeConfig
	Square         SquareConfig
	Webhooks       WebhooksConfig
	Reconciliation ReconciliationConfig
	GCP            GCPConfig
	PubSub         PubSubConfig
	Outbox         OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Fees.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARKETPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"MARKETPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MARKETPAY_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"MARKETPAY_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"MARKETPAY_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"MARKETPAY_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	// MetricsAddr is where background workers expose /metrics. Empty disables it.
	MetricsAddr string `envconfig:"MARKETPAY_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKETPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETPAY_DB_DSN"`
	Driver string `envconfig:"MARKETPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETPAY_DB_USER"`
	LegacyPassword string `envconfig:"MARKETPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"MARKETPAY_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARKETPAY_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MARKETPAY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MARKETPAY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MARKETPAY_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MARKETPAY_AUTO_MIGRATE" default:"false"`
}

// FeesConfig holds the marketplace fee schedule shared by order creation and
// payment intent creation.
type FeesConfig struct {
	CommissionBps      int64  `envconfig:"MARKETPAY_FEES_COMMISSION_BPS" default:"500"`
	ProcessingFeeCents int64  `envconfig:"MARKETPAY_FEES_PROCESSING_FEE_CENTS" default:"25"`
	Currency           string `envconfig:"MARKETPAY_FEES_CURRENCY" default:"usd"`
}

func (f FeesConfig) validate() error {
	if f.CommissionBps < 0 || f.CommissionBps > 10000 {
		return fmt.Errorf("%s must be between 0 and 10000", EnvFeesCommissionBps)
	}
	if f.ProcessingFeeCents < 0 {
		return fmt.Errorf("%s must not be negative", EnvFeesProcessingFeeCents)
	}
	return nil
}

type PaymentsConfig struct {
	DefaultProvider string        `envconfig:"MARKETPAY_PAYMENTS_DEFAULT_PROVIDER" default:"stripe"`
	ProviderTimeout time.Duration `envconfig:"MARKETPAY_PROVIDER_TIMEOUT" default:"15s"`
}

type StripeConfig struct {
	APIKey string `envconfig:"MARKETPAY_STRIPE_API_KEY"`
	Secret string `envconfig:"MARKETPAY_STRIPE_SECRET"`
	Env    string `envconfig:"MARKETPAY_STRIPE_ENV" default:"test"`
}

// Enabled reports whether enough Stripe settings exist to build a provider.
func (s StripeConfig) Enabled() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SquareConfig struct {
	AccessToken     string `envconfig:"MARKETPAY_SQUARE_ACCESS_TOKEN"`
	WebhookSecret   string `envconfig:"MARKETPAY_SQUARE_WEBHOOK_SECRET"`
	NotificationURL string `envconfig:"MARKETPAY_SQUARE_NOTIFICATION_URL"`
	LocationID      string `envconfig:"MARKETPAY_SQUARE_LOCATION_ID"`
	Env             string `envconfig:"MARKETPAY_SQUARE_ENV" default:"sandbox"`
}

// Enabled reports whether enough Square settings exist to build a provider.
func (s SquareConfig) Enabled() bool {
	return strings.TrimSpace(s.AccessToken) != ""
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type WebhooksConfig struct {
	MaxBodyBytes int64 `envconfig:"MARKETPAY_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
}

type ReconciliationConfig struct {
	SweepInterval   time.Duration `envconfig:"MARKETPAY_RECONCILE_SWEEP_INTERVAL" default:"15m"`
	StaleAfter      time.Duration `envconfig:"MARKETPAY_RECONCILE_STALE_AFTER" default:"30m"`
	PendingOrderTTL time.Duration `envconfig:"MARKETPAY_RECONCILE_PENDING_ORDER_TTL" default:"72h"`
	BatchSize       int           `envconfig:"MARKETPAY_RECONCILE_BATCH_SIZE" default:"100"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"MARKETPAY_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrderEventsTopic string `envconfig:"MARKETPAY_PUBSUB_ORDER_EVENTS_TOPIC" default:"marketpay-order-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MARKETPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MARKETPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MARKETPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"MARKETPAY_OUTBOX_RETENTION_DAYS" default:"30"`
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
