package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Bidding      BiddingConfig
	Settlement   SettlementConfig
	Webhooks     WebhookConfig
	Cache        CacheConfig
	HTTP         HTTPConfig
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
	if _, err := cfg.Settlement.FeeRate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"AUCTIONHOUSE_APP_ENV" required:"true"`
	Port         string `envconfig:"AUCTIONHOUSE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"AUCTIONHOUSE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"AUCTIONHOUSE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"AUCTIONHOUSE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"AUCTIONHOUSE_DB_DSN"`
	Driver string `envconfig:"AUCTIONHOUSE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"AUCTIONHOUSE_DB_HOST"`
	LegacyPort     int    `envconfig:"AUCTIONHOUSE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"AUCTIONHOUSE_DB_USER"`
	LegacyPassword string `envconfig:"AUCTIONHOUSE_DB_PASSWORD"`
	LegacyName     string `envconfig:"AUCTIONHOUSE_DB_NAME"`
	LegacySSLMode  string `envconfig:"AUCTIONHOUSE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"AUCTIONHOUSE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"AUCTIONHOUSE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"AUCTIONHOUSE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"AUCTIONHOUSE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"AUCTIONHOUSE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"AUCTIONHOUSE_REDIS_ADDR"`
	Password     string        `envconfig:"AUCTIONHOUSE_REDIS_PASSWORD"`
	DB           int           `envconfig:"AUCTIONHOUSE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"AUCTIONHOUSE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"AUCTIONHOUSE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"AUCTIONHOUSE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"AUCTIONHOUSE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"AUCTIONHOUSE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"AUCTIONHOUSE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"AUCTIONHOUSE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"AUCTIONHOUSE_JWT_EXPIRATION_MINUTES" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate          bool `envconfig:"AUCTIONHOUSE_AUTO_MIGRATE" default:"false"`
	NotificationsEnabled bool `envconfig:"AUCTIONHOUSE_NOTIFICATIONS_ENABLED" default:"true"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"AUCTIONHOUSE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic string        `envconfig:"AUCTIONHOUSE_PUBSUB_NOTIFICATION_TOPIC" default:"ah-notification-events"`
	PublishTimeout    time.Duration `envconfig:"AUCTIONHOUSE_PUBSUB_PUBLISH_TIMEOUT" default:"10s"`
}

type StripeConfig struct {
	APIKey string `envconfig:"AUCTIONHOUSE_STRIPE_API_KEY"`
	Secret string `envconfig:"AUCTIONHOUSE_STRIPE_WEBHOOK_SECRET"`
	Env    string `envconfig:"AUCTIONHOUSE_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type BiddingConfig struct {
	AntiSnipeWindow    time.Duration `envconfig:"AUCTIONHOUSE_BIDDING_ANTI_SNIPE_WINDOW" default:"2m"`
	AntiSnipeExtension time.Duration `envconfig:"AUCTIONHOUSE_BIDDING_ANTI_SNIPE_EXTENSION" default:"2m"`
}

type SettlementConfig struct {
	PlatformFeeRate      string        `envconfig:"AUCTIONHOUSE_SETTLEMENT_PLATFORM_FEE_RATE" default:"0.05"`
	Currency             string        `envconfig:"AUCTIONHOUSE_SETTLEMENT_CURRENCY" default:"usd"`
	FinalizerInterval    time.Duration `envconfig:"AUCTIONHOUSE_SETTLEMENT_FINALIZER_INTERVAL" default:"1m"`
	FinalizerBatchSize   int           `envconfig:"AUCTIONHOUSE_SETTLEMENT_FINALIZER_BATCH_SIZE" default:"100"`
	FinalizerConcurrency int           `envconfig:"AUCTIONHOUSE_SETTLEMENT_FINALIZER_CONCURRENCY" default:"4"`
}

// FeeRate parses the configured platform fee rate, which must lie in [0, 1).
func (s SettlementConfig) FeeRate() (decimal.Decimal, error) {
	raw := strings.TrimSpace(s.PlatformFeeRate)
	if raw == "" {
		raw = "0.05"
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", EnvSettlementFeeRate, raw, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%s must be within [0, 1), got %s", EnvSettlementFeeRate, raw)
	}
	return rate, nil
}

type WebhookConfig struct {
	MaxEventAge        time.Duration `envconfig:"AUCTIONHOUSE_WEBHOOK_MAX_EVENT_AGE" default:"1h"`
	FutureSkew         time.Duration `envconfig:"AUCTIONHOUSE_WEBHOOK_FUTURE_SKEW" default:"5m"`
	LockTTL            time.Duration `envconfig:"AUCTIONHOUSE_WEBHOOK_LOCK_TTL" default:"30s"`
	LockTimeout        time.Duration `envconfig:"AUCTIONHOUSE_WEBHOOK_LOCK_TIMEOUT" default:"2s"`
	ProviderTimeout    time.Duration `envconfig:"AUCTIONHOUSE_WEBHOOK_PROVIDER_TIMEOUT" default:"10s"`
	VerifyWithProvider bool          `envconfig:"AUCTIONHOUSE_WEBHOOK_VERIFY_WITH_PROVIDER" default:"false"`
	StaleAfter         time.Duration `envconfig:"AUCTIONHOUSE_WEBHOOK_STALE_AFTER" default:"2m"`
}

type CacheConfig struct {
	OrderTTL time.Duration `envconfig:"AUCTIONHOUSE_CACHE_ORDER_TTL" default:"5m"`
}

type HTTPConfig struct {
	CORSOrigins     []string      `envconfig:"AUCTIONHOUSE_HTTP_CORS_ORIGINS"`
	ReadTimeout     time.Duration `envconfig:"AUCTIONHOUSE_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"AUCTIONHOUSE_HTTP_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"AUCTIONHOUSE_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

type RateLimitConfig struct {
	BidWindow    time.Duration `envconfig:"AUCTIONHOUSE_RATE_LIMIT_BID_WINDOW" default:"1m"`
	BidUserLimit int           `envconfig:"AUCTIONHOUSE_RATE_LIMIT_BID_USER_LIMIT" default:"30"`
	BidIPLimit   int           `envconfig:"AUCTIONHOUSE_RATE_LIMIT_BID_IP_LIMIT" default:"120"`
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
