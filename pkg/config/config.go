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
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Paystack     PaystackConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"BILLFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"BILLFLOW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BILLFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BILLFLOW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BILLFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BILLFLOW_DB_DSN"`
	Driver string `envconfig:"BILLFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BILLFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"BILLFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BILLFLOW_DB_USER"`
	LegacyPassword string `envconfig:"BILLFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"BILLFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"BILLFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BILLFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BILLFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BILLFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BILLFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BILLFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BILLFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"BILLFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"BILLFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BILLFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BILLFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BILLFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BILLFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BILLFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BILLFLOW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BILLFLOW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BILLFLOW_JWT_EXPIRATION_MINUTES" default:"60"`
}

type RateLimitConfig struct {
	Window         time.Duration `envconfig:"BILLFLOW_RATE_LIMIT_WINDOW" default:"1m"`
	IPLimit        int           `envconfig:"BILLFLOW_RATE_LIMIT_IP_LIMIT" default:"120"`
	CustomerLimit  int           `envconfig:"BILLFLOW_RATE_LIMIT_CUSTOMER_LIMIT" default:"60"`
	WebhookIPLimit int           `envconfig:"BILLFLOW_RATE_LIMIT_WEBHOOK_IP_LIMIT" default:"600"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"BILLFLOW_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

type PaystackConfig struct {
	SecretKey     string        `envconfig:"BILLFLOW_PAYSTACK_SECRET_KEY" required:"true"`
	WebhookSecret string        `envconfig:"BILLFLOW_PAYSTACK_WEBHOOK_SECRET"`
	BaseURL       string        `envconfig:"BILLFLOW_PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	Currency      string        `envconfig:"BILLFLOW_PAYSTACK_CURRENCY" default:"NGN"`
	HTTPTimeout   time.Duration `envconfig:"BILLFLOW_PAYSTACK_HTTP_TIMEOUT" default:"30s"`
	PlanCacheTTL  time.Duration `envconfig:"BILLFLOW_PAYSTACK_PLAN_CACHE_TTL" default:"10m"`
}

// SigningSecret returns the webhook signing secret. Paystack signs webhooks
// with the account secret key unless a dedicated secret is configured.
func (p PaystackConfig) SigningSecret() string {
	if s := strings.TrimSpace(p.WebhookSecret); s != "" {
		return s
	}
	return strings.TrimSpace(p.SecretKey)
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"BILLFLOW_CRON_INTERVAL" default:"24h"`
	ReconcileLimit    int           `envconfig:"BILLFLOW_CRON_RECONCILE_LIMIT" default:"250"`
	ReconcileLookback time.Duration `envconfig:"BILLFLOW_CRON_RECONCILE_LOOKBACK" default:"168h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BILLFLOW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BILLFLOW_AUTO_MIGRATE" default:"false"`
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
