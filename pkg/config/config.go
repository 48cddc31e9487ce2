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
	FeatureFlags FeatureFlagsConfig
	Telegram     TelegramConfig
	Resilience   ResilienceConfig
	Purchases    PurchasesConfig
	Delivery     DeliveryConfig
	Admin        AdminConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Purchases.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SHOPBOT_APP_ENV" required:"true"`
	Port         string `envconfig:"SHOPBOT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SHOPBOT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOPBOT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SHOPBOT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHOPBOT_DB_DSN"`
	Driver string `envconfig:"SHOPBOT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOPBOT_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPBOT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPBOT_DB_USER"`
	LegacyPassword string `envconfig:"SHOPBOT_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPBOT_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPBOT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPBOT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPBOT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPBOT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPBOT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"SHOPBOT_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPBOT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHOPBOT_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPBOT_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPBOT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPBOT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPBOT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPBOT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPBOT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPBOT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SHOPBOT_AUTO_MIGRATE" default:"false"`
}

type TelegramConfig struct {
	BotToken    string        `envconfig:"SHOPBOT_TELEGRAM_BOT_TOKEN" required:"true"`
	APIEndpoint string        `envconfig:"SHOPBOT_TELEGRAM_API_ENDPOINT"`
	HTTPTimeout time.Duration `envconfig:"SHOPBOT_TELEGRAM_HTTP_TIMEOUT" default:"15s"`
}

// ResilienceConfig bounds every outbound call to the messaging platform.
type ResilienceConfig struct {
	MaxRetries     int           `envconfig:"SHOPBOT_RETRY_MAX_RETRIES" default:"3"`
	InitialDelay   time.Duration `envconfig:"SHOPBOT_RETRY_INITIAL_DELAY" default:"1s"`
	MaxDelay       time.Duration `envconfig:"SHOPBOT_RETRY_MAX_DELAY" default:"30s"`
	BackoffFactor  float64       `envconfig:"SHOPBOT_RETRY_BACKOFF_FACTOR" default:"2"`
	AttemptTimeout time.Duration `envconfig:"SHOPBOT_RETRY_ATTEMPT_TIMEOUT" default:"10s"`
}

// PurchasesConfig holds the defaults used when the settings table has no override.
type PurchasesConfig struct {
	Enabled            bool `envconfig:"SHOPBOT_PURCHASES_ENABLED" default:"true"`
	ChannelGateEnabled bool `envconfig:"SHOPBOT_CHANNEL_GATE_ENABLED" default:"true"`
	MaxQuantity        int  `envconfig:"SHOPBOT_PURCHASE_MAX_QUANTITY" default:"100"`
	GateConcurrency    int  `envconfig:"SHOPBOT_GATE_CONCURRENCY" default:"4"`
	RateLimitPerMinute int  `envconfig:"SHOPBOT_PURCHASE_RATE_LIMIT" default:"30"`
}

func (p PurchasesConfig) validate() error {
	if p.MaxQuantity <= 0 {
		return fmt.Errorf("%s must be positive", EnvPurchaseMaxQuantity)
	}
	return nil
}

type DeliveryConfig struct {
	Concurrency   int           `envconfig:"SHOPBOT_DELIVERY_CONCURRENCY" default:"8"`
	Timeout       time.Duration `envconfig:"SHOPBOT_DELIVERY_TIMEOUT" default:"2m"`
	MaxAttempts   int           `envconfig:"SHOPBOT_DELIVERY_MAX_ATTEMPTS" default:"5"`
	PendingGrace  time.Duration `envconfig:"SHOPBOT_DELIVERY_PENDING_GRACE" default:"5m"`
	SweepBatch    int           `envconfig:"SHOPBOT_DELIVERY_SWEEP_BATCH" default:"50"`
	ShutdownGrace time.Duration `envconfig:"SHOPBOT_DELIVERY_SHUTDOWN_GRACE" default:"30s"`
}

type AdminConfig struct {
	Token       string   `envconfig:"SHOPBOT_ADMIN_TOKEN"`
	CORSOrigins []string `envconfig:"SHOPBOT_ADMIN_CORS_ORIGINS"`
}

type EventingConfig struct {
	PurchaseIdempotencyTTL time.Duration `envconfig:"SHOPBOT_PURCHASE_IDEMPOTENCY_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SHOPBOT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SHOPBOT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SHOPBOT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	PurchasesTopic string `envconfig:"SHOPBOT_PUBSUB_PURCHASES_TOPIC" default:"shopbot-purchase-events"`
	DeliveryTopic  string `envconfig:"SHOPBOT_PUBSUB_DELIVERY_TOPIC" default:"shopbot-delivery-events"`
}

type OutboxConfig struct {
	BatchSize       int           `envconfig:"SHOPBOT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS  int           `envconfig:"SHOPBOT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts     int           `envconfig:"SHOPBOT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionPeriod time.Duration `envconfig:"SHOPBOT_OUTBOX_RETENTION" default:"720h"`
	DLQRetention    time.Duration `envconfig:"SHOPBOT_OUTBOX_DLQ_RETENTION" default:"2160h"`
}

type CronConfig struct {
	Interval   time.Duration `envconfig:"SHOPBOT_CRON_INTERVAL" default:"1m"`
	LockTTL    time.Duration `envconfig:"SHOPBOT_CRON_LOCK_TTL" default:"5m"`
	JobTimeout time.Duration `envconfig:"SHOPBOT_CRON_JOB_TIMEOUT" default:"2m"`
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
