package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-cart/pkg/enums"
)

const (
	EnvPrefix = "CARTD"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv             = "CARTD_APP_ENV"
	EnvPort               = "CARTD_APP_PORT"
	EnvLogLevel           = "CARTD_LOG_LEVEL"
	EnvRemoteBaseURL      = "CARTD_REMOTE_BASE_URL"
	EnvRemoteTimeout      = "CARTD_REMOTE_TIMEOUT"
	EnvPersistenceDriver  = "CARTD_PERSISTENCE_DRIVER"
	EnvPersistenceDir     = "CARTD_PERSISTENCE_DIR"
	EnvPersistenceKey     = "CARTD_PERSISTENCE_KEY"
	EnvPersistenceDSN     = "CARTD_PERSISTENCE_DSN"
	EnvRedisURL           = "CARTD_REDIS_URL"
	EnvFreeShippingMin    = "CARTD_PRICING_FREE_SHIPPING_THRESHOLD"
	EnvBaseShippingCost   = "CARTD_PRICING_BASE_SHIPPING_COST"
	EnvTaxRate            = "CARTD_PRICING_TAX_RATE"
	EnvJWTSecret          = "CARTD_JWT_SECRET"
	EnvJWTIssuer          = "CARTD_JWT_ISSUER"
	EnvBreakerMaxFailures = "CARTD_REMOTE_BREAKER_MAX_FAILURES"
)

type Config struct {
	App         AppConfig
	Remote      RemoteConfig
	Persistence PersistenceConfig
	Redis       RedisConfig
	Pricing     PricingConfig
	JWT         JWTConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Remote.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Persistence.validate(cfg.Redis); err != nil {
		return nil, err
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"CARTD_APP_ENV" default:"dev"`
	Port         string   `envconfig:"CARTD_APP_PORT" default:"8787"`
	LogLevel     string   `envconfig:"CARTD_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"CARTD_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"CARTD_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"CARTD_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// RemoteConfig points the gateway at the cart/coupon API.
type RemoteConfig struct {
	BaseURL            string        `envconfig:"CARTD_REMOTE_BASE_URL" required:"true"`
	Timeout            time.Duration `envconfig:"CARTD_REMOTE_TIMEOUT" default:"10s"`
	BreakerMaxFailures uint32        `envconfig:"CARTD_REMOTE_BREAKER_MAX_FAILURES" default:"5"`
	BreakerOpenTimeout time.Duration `envconfig:"CARTD_REMOTE_BREAKER_OPEN_TIMEOUT" default:"30s"`
}

func (r RemoteConfig) validate() error {
	u, err := url.Parse(r.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", EnvRemoteBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) url", EnvRemoteBaseURL)
	}
	return nil
}

// PersistenceConfig selects where the anonymous cart is stored.
type PersistenceConfig struct {
	Driver string `envconfig:"CARTD_PERSISTENCE_DRIVER" default:"file"`
	Dir    string `envconfig:"CARTD_PERSISTENCE_DIR" default:".cartd"`
	Key    string `envconfig:"CARTD_PERSISTENCE_KEY" default:"cart"`
	DSN    string `envconfig:"CARTD_PERSISTENCE_DSN"`
}

// DriverKind returns the parsed persistence driver.
func (p PersistenceConfig) DriverKind() enums.PersistenceDriver {
	driver, err := enums.ParsePersistenceDriver(strings.ToLower(strings.TrimSpace(p.Driver)))
	if err != nil {
		return enums.PersistenceDriverFile
	}
	return driver
}

func (p *PersistenceConfig) validate(redis RedisConfig) error {
	driver, err := enums.ParsePersistenceDriver(strings.ToLower(strings.TrimSpace(p.Driver)))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvPersistenceDriver, err)
	}
	if strings.TrimSpace(p.Key) == "" {
		return fmt.Errorf("%s must not be empty", EnvPersistenceKey)
	}
	switch driver {
	case enums.PersistenceDriverSQLite:
		if p.DSN == "" {
			p.DSN = strings.TrimRight(p.Dir, "/") + "/cart.db"
		}
	case enums.PersistenceDriverPostgres:
		if p.DSN == "" {
			return fmt.Errorf("%s is required for the postgres driver", EnvPersistenceDSN)
		}
	case enums.PersistenceDriverRedis:
		if redis.URL == "" && redis.Address == "" {
			return fmt.Errorf("%s is required for the redis driver", EnvRedisURL)
		}
	}
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"CARTD_REDIS_URL"`
	Address      string        `envconfig:"CARTD_REDIS_ADDR"`
	Password     string        `envconfig:"CARTD_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARTD_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARTD_REDIS_POOL_SIZE" default:"4"`
	MinIdleConns int           `envconfig:"CARTD_REDIS_MIN_IDLE_CONNS" default:"1"`
	DialTimeout  time.Duration `envconfig:"CARTD_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARTD_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARTD_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// PricingConfig carries the flat shipping and VAT rules in currency units.
type PricingConfig struct {
	FreeShippingThreshold decimal.Decimal `envconfig:"CARTD_PRICING_FREE_SHIPPING_THRESHOLD" default:"5000"`
	BaseShippingCost      decimal.Decimal `envconfig:"CARTD_PRICING_BASE_SHIPPING_COST" default:"300"`
	TaxRate               decimal.Decimal `envconfig:"CARTD_PRICING_TAX_RATE" default:"0.10"`
}

func (p PricingConfig) validate() error {
	if p.FreeShippingThreshold.IsNegative() || p.BaseShippingCost.IsNegative() {
		return fmt.Errorf("shipping amounts must be non-negative")
	}
	if p.TaxRate.IsNegative() {
		return fmt.Errorf("%s must be non-negative", EnvTaxRate)
	}
	return nil
}

// JWTConfig optionally enables signature verification of bearer tokens.
// With an empty secret tokens are only checked for expiry.
type JWTConfig struct {
	Secret string `envconfig:"CARTD_JWT_SECRET"`
	Issuer string `envconfig:"CARTD_JWT_ISSUER"`
}

// VerifySignature reports whether tokens must carry a valid HS256 signature.
func (j JWTConfig) VerifySignature() bool {
	return strings.TrimSpace(j.Secret) != ""
}
