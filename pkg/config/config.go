package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Square        SquareConfig
	Billing       BillingConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"COVERCHECK_APP_ENV" required:"true"`
	Port         string `envconfig:"COVERCHECK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"COVERCHECK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"COVERCHECK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"COVERCHECK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"COVERCHECK_DB_DSN"`
	Driver string `envconfig:"COVERCHECK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"COVERCHECK_DB_HOST"`
	LegacyPort     int    `envconfig:"COVERCHECK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"COVERCHECK_DB_USER"`
	LegacyPassword string `envconfig:"COVERCHECK_DB_PASSWORD"`
	LegacyName     string `envconfig:"COVERCHECK_DB_NAME"`
	LegacySSLMode  string `envconfig:"COVERCHECK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COVERCHECK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COVERCHECK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COVERCHECK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COVERCHECK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"COVERCHECK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"COVERCHECK_REDIS_ADDR"`
	Password     string        `envconfig:"COVERCHECK_REDIS_PASSWORD"`
	DB           int           `envconfig:"COVERCHECK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COVERCHECK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COVERCHECK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COVERCHECK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COVERCHECK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COVERCHECK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"COVERCHECK_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"COVERCHECK_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"COVERCHECK_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"COVERCHECK_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"COVERCHECK_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"COVERCHECK_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"COVERCHECK_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"COVERCHECK_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"COVERCHECK_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"COVERCHECK_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"COVERCHECK_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"COVERCHECK_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"COVERCHECK_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"COVERCHECK_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"COVERCHECK_ARGON_KEY_LEN" default:"32"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"COVERCHECK_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"COVERCHECK_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"COVERCHECK_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"COVERCHECK_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"COVERCHECK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"COVERCHECK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	BillingTopic             string `envconfig:"COVERCHECK_PUBSUB_BILLING_TOPIC" required:"true"`
	BillingSubscription      string `envconfig:"COVERCHECK_PUBSUB_BILLING_SUBSCRIPTION" required:"true"`
	NotificationTopic        string `envconfig:"COVERCHECK_PUBSUB_NOTIFICATION_TOPIC" default:"cc-notification-events"`
	NotificationSubscription string `envconfig:"COVERCHECK_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"COVERCHECK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"COVERCHECK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"COVERCHECK_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type SquareConfig struct {
	AccessToken string `envconfig:"COVERCHECK_SQUARE_ACCESS_TOKEN"`
	LocationID  string `envconfig:"COVERCHECK_SQUARE_LOCATION_ID"`
	Env         string `envconfig:"COVERCHECK_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type BillingConfig struct {
	Currency       string `envconfig:"COVERCHECK_BILLING_CURRENCY" default:"usd"`
	InvoiceDueDays int    `envconfig:"COVERCHECK_BILLING_INVOICE_DUE_DAYS" default:"7"`
	RenewalBatch   int    `envconfig:"COVERCHECK_BILLING_RENEWAL_BATCH" default:"200"`
}

type CronConfig struct {
	TriggerToken string `envconfig:"COVERCHECK_CRON_TRIGGER_TOKEN"`
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
