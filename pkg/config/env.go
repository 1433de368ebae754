package config

const EnvPrefix = "AUCTIONHOUSE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "AUCTIONHOUSE_APP_ENV"
	EnvPort     = "AUCTIONHOUSE_APP_PORT"
	EnvDBDSN    = "AUCTIONHOUSE_DB_DSN"
	EnvDBHost   = "AUCTIONHOUSE_DB_HOST"
	EnvDBUser   = "AUCTIONHOUSE_DB_USER"
	EnvDBName   = "AUCTIONHOUSE_DB_NAME"
	EnvRedisURL = "AUCTIONHOUSE_REDIS_URL"

	EnvJWTSecret  = "AUCTIONHOUSE_JWT_SECRET"
	EnvJWTIssuer  = "AUCTIONHOUSE_JWT_ISSUER"
	EnvJWTExpMins = "AUCTIONHOUSE_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID        = "AUCTIONHOUSE_GCP_PROJECT_ID"
	EnvPubSubNotifyTopic   = "AUCTIONHOUSE_PUBSUB_NOTIFICATION_TOPIC"
	EnvStripeAPIKey        = "AUCTIONHOUSE_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "AUCTIONHOUSE_STRIPE_WEBHOOK_SECRET"
	EnvSettlementFeeRate   = "AUCTIONHOUSE_SETTLEMENT_PLATFORM_FEE_RATE"
	EnvWebhookMaxEventAge  = "AUCTIONHOUSE_WEBHOOK_MAX_EVENT_AGE"
	EnvBiddingAntiSnipeWin = "AUCTIONHOUSE_BIDDING_ANTI_SNIPE_WINDOW"
	EnvHTTPCORSOrigins     = "AUCTIONHOUSE_HTTP_CORS_ORIGINS"
	EnvRateLimitBidUser    = "AUCTIONHOUSE_RATE_LIMIT_BID_USER_LIMIT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
