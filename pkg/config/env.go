package config

const (
	EnvPrefix = "PAYLIFECYCLE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "PAYLIFECYCLE_APP_ENV"
	EnvPort     = "PAYLIFECYCLE_APP_PORT"
	EnvLogLevel = "PAYLIFECYCLE_LOG_LEVEL"

	EnvDBDSN    = "PAYLIFECYCLE_DB_DSN"
	EnvDBDriver = "PAYLIFECYCLE_DB_DRIVER"
	EnvDBHost   = "PAYLIFECYCLE_DB_HOST"
	EnvDBUser   = "PAYLIFECYCLE_DB_USER"
	EnvDBName   = "PAYLIFECYCLE_DB_NAME"

	EnvRedisURL  = "PAYLIFECYCLE_REDIS_URL"
	EnvUseSQLite = "PAYLIFECYCLE_USE_SQLITE"

	EnvPollInterval    = "PAYLIFECYCLE_POLL_INTERVAL"
	EnvPollMaxAttempts = "PAYLIFECYCLE_POLL_MAX_ATTEMPTS"
	EnvIntentCardTTL   = "PAYLIFECYCLE_INTENT_CARD_TTL"
	EnvSquareEnv       = "PAYLIFECYCLE_SQUARE_ENV"
	EnvPubSubTopic     = "PAYLIFECYCLE_PUBSUB_INTENTS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
