package config

// EnvPrefix is passed to envconfig; individual fields carry explicit
// COVERCHECK_ keys so the prefix stays informational.
const EnvPrefix = "covercheck"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

// Environment variable names referenced outside struct tags (tests, DSN
// assembly error messages).
const (
	EnvAppEnv                 = "COVERCHECK_APP_ENV"
	EnvPort                   = "COVERCHECK_APP_PORT"
	EnvDBDSN                  = "COVERCHECK_DB_DSN"
	EnvDBHost                 = "COVERCHECK_DB_HOST"
	EnvDBUser                 = "COVERCHECK_DB_USER"
	EnvDBName                 = "COVERCHECK_DB_NAME"
	EnvRedisURL               = "COVERCHECK_REDIS_URL"
	EnvJWTSecret              = "COVERCHECK_JWT_SECRET"
	EnvJWTIssuer              = "COVERCHECK_JWT_ISSUER"
	EnvJWTExpMins             = "COVERCHECK_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes = "COVERCHECK_REFRESH_TOKEN_TTL_MINUTES"
	EnvGCPProjectID           = "COVERCHECK_GCP_PROJECT_ID"
	EnvPubSubBillingTopic     = "COVERCHECK_PUBSUB_BILLING_TOPIC"
	EnvPubSubBillingSub       = "COVERCHECK_PUBSUB_BILLING_SUBSCRIPTION"
	EnvPubSubNotificationSub  = "COVERCHECK_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvCronTriggerToken       = "COVERCHECK_CRON_TRIGGER_TOKEN"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
