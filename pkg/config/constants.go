package config

const (
	EnvPrefix = "SHOPBOT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "SHOPBOT_APP_ENV"
	EnvPort     = "SHOPBOT_APP_PORT"
	EnvLogLevel = "SHOPBOT_LOG_LEVEL"

	EnvDBDSN  = "SHOPBOT_DB_DSN"
	EnvDBHost = "SHOPBOT_DB_HOST"
	EnvDBPort = "SHOPBOT_DB_PORT"
	EnvDBUser = "SHOPBOT_DB_USER"
	EnvDBPass = "SHOPBOT_DB_PASSWORD"
	EnvDBName = "SHOPBOT_DB_NAME"

	EnvRedisURL = "SHOPBOT_REDIS_URL"

	EnvTelegramBotToken = "SHOPBOT_TELEGRAM_BOT_TOKEN"

	EnvRetryMaxRetries   = "SHOPBOT_RETRY_MAX_RETRIES"
	EnvRetryInitialDelay = "SHOPBOT_RETRY_INITIAL_DELAY"

	EnvPurchaseMaxQuantity = "SHOPBOT_PURCHASE_MAX_QUANTITY"
	EnvChannelGateEnabled  = "SHOPBOT_CHANNEL_GATE_ENABLED"

	EnvDeliveryConcurrency = "SHOPBOT_DELIVERY_CONCURRENCY"
	EnvAdminToken          = "SHOPBOT_ADMIN_TOKEN"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
