package config

// EnvPrefix is passed to envconfig; every field carries an explicit name so the
// prefix only matters for untagged fields.
const EnvPrefix = "MARKETPAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv = "MARKETPAY_APP_ENV"
	EnvPort   = "MARKETPAY_APP_PORT"

	EnvDBDSN  = "MARKETPAY_DB_DSN"
	EnvDBHost = "MARKETPAY_DB_HOST"
	EnvDBUser = "MARKETPAY_DB_USER"
	EnvDBName = "MARKETPAY_DB_NAME"

	EnvRedisURL = "MARKETPAY_REDIS_URL"

	EnvJWTSecret  = "MARKETPAY_JWT_SECRET"
	EnvJWTIssuer  = "MARKETPAY_JWT_ISSUER"
	EnvJWTExpMins = "MARKETPAY_JWT_EXPIRATION_MINUTES"

	EnvFeesCommissionBps      = "MARKETPAY_FEES_COMMISSION_BPS"
	EnvFeesProcessingFeeCents = "MARKETPAY_FEES_PROCESSING_FEE_CENTS"

	EnvProviderTimeout = "MARKETPAY_PROVIDER_TIMEOUT"

	EnvStripeAPIKey = "MARKETPAY_STRIPE_API_KEY"
	EnvStripeSecret = "MARKETPAY_STRIPE_SECRET"

	EnvPubSubOrderEventsTopic = "MARKETPAY_PUBSUB_ORDER_EVENTS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
