package config

import (
	"fmt"
	"net/url"
	"slices"
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
	Poller       PollerConfig
	Intent       IntentConfig
	Cron         CronConfig
	MercadoPago  MercadoPagoConfig
	Square       SquareConfig
	Webhook      WebhookConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PAYLIFECYCLE_APP_ENV" required:"true"`
	Port         string `envconfig:"PAYLIFECYCLE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PAYLIFECYCLE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PAYLIFECYCLE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"PAYLIFECYCLE_LOG_FORMAT" default:"json"`
	MetricsAddr  string `envconfig:"PAYLIFECYCLE_METRICS_ADDR"`

	AllowedOrigins []string `envconfig:"PAYLIFECYCLE_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PAYLIFECYCLE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PAYLIFECYCLE_DB_DSN"`
	Driver string `envconfig:"PAYLIFECYCLE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PAYLIFECYCLE_DB_HOST"`
	LegacyPort     int    `envconfig:"PAYLIFECYCLE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAYLIFECYCLE_DB_USER"`
	LegacyPassword string `envconfig:"PAYLIFECYCLE_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAYLIFECYCLE_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAYLIFECYCLE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYLIFECYCLE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYLIFECYCLE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYLIFECYCLE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYLIFECYCLE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQuery logs statements slower than this at warn; zero disables it.
	SlowQuery time.Duration `envconfig:"PAYLIFECYCLE_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PAYLIFECYCLE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PAYLIFECYCLE_REDIS_ADDR"`
	Password     string        `envconfig:"PAYLIFECYCLE_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYLIFECYCLE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYLIFECYCLE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYLIFECYCLE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYLIFECYCLE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYLIFECYCLE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYLIFECYCLE_REDIS_WRITE_TIMEOUT" default:"5s"`
	Namespace    string        `envconfig:"PAYLIFECYCLE_REDIS_NAMESPACE" default:"pl"`
}

type FeatureFlagsConfig struct {
	UseSQLite         bool `envconfig:"PAYLIFECYCLE_USE_SQLITE" default:"false"`
	AutoMigrate       bool `envconfig:"PAYLIFECYCLE_AUTO_MIGRATE" default:"false"`
	AllowBankTransfer bool `envconfig:"PAYLIFECYCLE_FEATURE_ALLOW_BANK_TRANSFER" default:"true"`
	PollOnIssue       bool `envconfig:"PAYLIFECYCLE_FEATURE_POLL_ON_ISSUE" default:"true"`
	WebhookStatusPush bool `envconfig:"PAYLIFECYCLE_FEATURE_WEBHOOK_STATUS_PUSH" default:"true"`
}

// PollerConfig drives the status polling schedule and the dispatcher.
type PollerConfig struct {
	Interval    time.Duration `envconfig:"PAYLIFECYCLE_POLL_INTERVAL" default:"5s"`
	MaxInterval time.Duration `envconfig:"PAYLIFECYCLE_POLL_MAX_INTERVAL" default:"30s"`
	Multiplier  float64       `envconfig:"PAYLIFECYCLE_POLL_MULTIPLIER" default:"1.5"`
	Jitter      float64       `envconfig:"PAYLIFECYCLE_POLL_JITTER" default:"0.2"`
	MaxAttempts int           `envconfig:"PAYLIFECYCLE_POLL_MAX_ATTEMPTS" default:"120"`
	MaxDuration time.Duration `envconfig:"PAYLIFECYCLE_POLL_MAX_DURATION" default:"15m"`
	Concurrency int64         `envconfig:"PAYLIFECYCLE_POLL_CONCURRENCY" default:"16"`
	StaleAfter  time.Duration `envconfig:"PAYLIFECYCLE_POLL_STALE_AFTER" default:"1m"`
	LeaseTTL    time.Duration `envconfig:"PAYLIFECYCLE_POLL_LEASE_TTL" default:"20m"`
}

type IntentConfig struct {
	DefaultTTL      time.Duration `envconfig:"PAYLIFECYCLE_INTENT_DEFAULT_TTL" default:"10m"`
	CardTTL         time.Duration `envconfig:"PAYLIFECYCLE_INTENT_CARD_TTL"`
	BankTransferTTL time.Duration `envconfig:"PAYLIFECYCLE_INTENT_BANK_TRANSFER_TTL"`
	DefaultCurrency string        `envconfig:"PAYLIFECYCLE_INTENT_DEFAULT_CURRENCY" default:"ARS"`
}

// TTLFor returns the configured time limit for a payment method, falling back to DefaultTTL.
func (i IntentConfig) TTLFor(method string) time.Duration {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "card":
		if i.CardTTL > 0 {
			return i.CardTTL
		}
	case "bank_transfer":
		if i.BankTransferTTL > 0 {
			return i.BankTransferTTL
		}
	}
	return i.DefaultTTL
}

type CronConfig struct {
	Interval    time.Duration `envconfig:"PAYLIFECYCLE_CRON_INTERVAL" default:"1m"`
	LockTTL     time.Duration `envconfig:"PAYLIFECYCLE_CRON_LOCK_TTL" default:"5m"`
	JobTimeout  time.Duration `envconfig:"PAYLIFECYCLE_CRON_JOB_TIMEOUT" default:"2m"`
	ExpiryBatch int           `envconfig:"PAYLIFECYCLE_CRON_EXPIRY_BATCH" default:"200"`
	PollBatch   int           `envconfig:"PAYLIFECYCLE_CRON_POLL_BATCH" default:"100"`
}

type MercadoPagoConfig struct {
	BaseURL         string        `envconfig:"PAYLIFECYCLE_MERCADOPAGO_BASE_URL" default:"https://api.mercadopago.com"`
	AccessToken     string        `envconfig:"PAYLIFECYCLE_MERCADOPAGO_ACCESS_TOKEN"`
	Sandbox         bool          `envconfig:"PAYLIFECYCLE_MERCADOPAGO_SANDBOX" default:"true"`
	NotificationURL string        `envconfig:"PAYLIFECYCLE_MERCADOPAGO_NOTIFICATION_URL"`
	Timeout         time.Duration `envconfig:"PAYLIFECYCLE_MERCADOPAGO_TIMEOUT" default:"10s"`
}

type SquareConfig struct {
	Env           string `envconfig:"PAYLIFECYCLE_SQUARE_ENV" default:"sandbox"`
	AccessToken   string `envconfig:"PAYLIFECYCLE_SQUARE_ACCESS_TOKEN"`
	LocationID    string `envconfig:"PAYLIFECYCLE_SQUARE_LOCATION_ID"`
	WebhookSecret string `envconfig:"PAYLIFECYCLE_SQUARE_WEBHOOK_SECRET"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type WebhookConfig struct {
	SigningSecret  string        `envconfig:"PAYLIFECYCLE_WEBHOOK_SIGNING_SECRET"`
	IdempotencyTTL time.Duration `envconfig:"PAYLIFECYCLE_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PAYLIFECYCLE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PAYLIFECYCLE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PAYLIFECYCLE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	IntentsTopic string `envconfig:"PAYLIFECYCLE_PUBSUB_INTENTS_TOPIC" default:"payment-intent-events"`
	// ApprovalsTopic receives approval events; blank keeps them on IntentsTopic.
	ApprovalsTopic string `envconfig:"PAYLIFECYCLE_PUBSUB_APPROVALS_TOPIC"`
	// Ordered publishes with the intent id as ordering key.
	Ordered bool `envconfig:"PAYLIFECYCLE_PUBSUB_ORDERED" default:"true"`
}

// Topics lists each distinct configured topic, intents first.
func (c PubSubConfig) Topics() []string {
	topics := []string{}
	for _, t := range []string{c.IntentsTopic, c.ApprovalsTopic} {
		t = strings.TrimSpace(t)
		if t != "" && !slices.Contains(topics, t) {
			topics = append(topics, t)
		}
	}
	return topics
}

// ApprovalsTopicOrDefault resolves where approval events go.
func (c PubSubConfig) ApprovalsTopicOrDefault() string {
	if t := strings.TrimSpace(c.ApprovalsTopic); t != "" {
		return t
	}
	return strings.TrimSpace(c.IntentsTopic)
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"PAYLIFECYCLE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"PAYLIFECYCLE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"PAYLIFECYCLE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"PAYLIFECYCLE_OUTBOX_RETENTION" default:"720h"`
	DLQRetention   time.Duration `envconfig:"PAYLIFECYCLE_OUTBOX_DLQ_RETENTION" default:"2160h"`
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
