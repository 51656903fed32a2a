package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App      AppConfig
	Backend  BackendConfig
	Provider ProviderConfig
	Checkout CheckoutConfig
	Redis    RedisConfig
	DB       DBConfig
	JWT      JWTConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"REPURPOSE_APP_ENV" required:"true"`
	Port         string `envconfig:"REPURPOSE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"REPURPOSE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"REPURPOSE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// BackendConfig points at the storefront REST backend that owns carts,
// checkouts, and payment verification.
type BackendConfig struct {
	BaseURL      string        `envconfig:"REPURPOSE_BACKEND_BASE_URL" required:"true"`
	RefreshToken string        `envconfig:"REPURPOSE_BACKEND_REFRESH_TOKEN" required:"true"`
	Timeout      time.Duration `envconfig:"REPURPOSE_BACKEND_TIMEOUT" default:"15s"`
}

// ProviderConfig describes the third-party payment gateway.
type ProviderConfig struct {
	KeyID       string        `envconfig:"REPURPOSE_PROVIDER_KEY_ID" required:"true"`
	CheckoutURL string        `envconfig:"REPURPOSE_PROVIDER_CHECKOUT_URL" default:"https://checkout.razorpay.com/v1/checkout.js"`
	Currency    string        `envconfig:"REPURPOSE_PROVIDER_CURRENCY" default:"INR"`
	ThemeColor  string        `envconfig:"REPURPOSE_PROVIDER_THEME_COLOR" default:"#10b981"`
	LoadTimeout time.Duration `envconfig:"REPURPOSE_PROVIDER_LOAD_TIMEOUT" default:"10s"`
}

// CheckoutConfig tunes the orchestrator itself.
type CheckoutConfig struct {
	PendingMaxAge    time.Duration `envconfig:"REPURPOSE_CHECKOUT_PENDING_MAX_AGE" default:"30m"`
	PendingTTL       time.Duration `envconfig:"REPURPOSE_CHECKOUT_PENDING_TTL" default:"45m"`
	SuccessCountdown time.Duration `envconfig:"REPURPOSE_CHECKOUT_SUCCESS_COUNTDOWN" default:"5s"`
	SuccessRedirect  string        `envconfig:"REPURPOSE_CHECKOUT_SUCCESS_REDIRECT" default:"/home"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REPURPOSE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"REPURPOSE_REDIS_ADDR"`
	Password     string        `envconfig:"REPURPOSE_REDIS_PASSWORD"`
	DB           int           `envconfig:"REPURPOSE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REPURPOSE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REPURPOSE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REPURPOSE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REPURPOSE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REPURPOSE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type DBConfig struct {
	Driver string `envconfig:"REPURPOSE_DB_DRIVER" default:"postgres"`
	DSN    string `envconfig:"REPURPOSE_DB_DSN"`

	AutoMigrate bool `envconfig:"REPURPOSE_DB_AUTO_MIGRATE" default:"false"`

	MaxOpenConns    int           `envconfig:"REPURPOSE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"REPURPOSE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REPURPOSE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"REPURPOSE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d DBConfig) validate() error {
	switch d.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("db driver must be %q or %q", "postgres", "sqlite")
	}
	if d.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	return nil
}

type JWTConfig struct {
	Secret              string        `envconfig:"REPURPOSE_JWT_SECRET" required:"true"`
	Issuer              string        `envconfig:"REPURPOSE_JWT_ISSUER" required:"true"`
	RefreshLeeway       time.Duration `envconfig:"REPURPOSE_JWT_REFRESH_LEEWAY" default:"2m"`
	RefreshPollInterval time.Duration `envconfig:"REPURPOSE_JWT_REFRESH_POLL_INTERVAL" default:"30s"`
}
