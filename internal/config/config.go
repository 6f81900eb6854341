package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // LEDGER_TIMEZONE must resolve on minimal images

	"github.com/spf13/viper"

	"github.com/boddenberg/retail-ledger-go/internal/domain"
)

// Storage and lock backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port      int
	LogLevel  string
	RateLimit string // ulule/limiter format, e.g. "100-M"

	// Storage
	StoreBackend string
	DatabaseURL  string
	DBMaxConns   int32

	// Locking
	LockBackend string
	RedisAddr   string
	LockExpiry  time.Duration

	// Ledger rules
	DailyWithdrawalLimit domain.Money
	MaxWithdrawalsPerDay int
	Timezone             *time.Location

	// HTTP client (webhook notifications)
	HTTPTimeout      time.Duration
	NotifyWebhookURL string

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	IdempotencyTTL time.Duration

	// Observability
	OTLPEndpoint string

	// JWT / Auth
	JWTSecret    string
	JWTAccessTTL time.Duration
	BcryptCost   int
	LoginLockout time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RATE_LIMIT", "300-M")

	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_CONNS", 10)

	v.SetDefault("LOCK_BACKEND", BackendMemory)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("LOCK_EXPIRY", "10s")

	v.SetDefault("DAILY_WITHDRAWAL_LIMIT", "3000.00")
	v.SetDefault("MAX_WITHDRAWALS_PER_DAY", 5)
	v.SetDefault("LEDGER_TIMEZONE", "America/Sao_Paulo")

	v.SetDefault("HTTP_TIMEOUT", "10s")
	v.SetDefault("NOTIFY_WEBHOOK_URL", "")

	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("INITIAL_BACKOFF", "50ms")
	v.SetDefault("MAX_CONCURRENCY", 50)

	v.SetDefault("IDEMPOTENCY_TTL", "24h")

	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	v.SetDefault("JWT_SECRET", "ledger-default-dev-secret-change-me")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOGIN_LOCKOUT", "30m")
}

// Load reads configuration from the environment on top of the defaults.
// Call LoadDotEnv first to pick up a .env file.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Port:      v.GetInt("PORT"),
		LogLevel:  v.GetString("LOG_LEVEL"),
		RateLimit: v.GetString("RATE_LIMIT"),

		StoreBackend: strings.ToLower(v.GetString("STORE_BACKEND")),
		DatabaseURL:  v.GetString("DATABASE_URL"),
		DBMaxConns:   v.GetInt32("DB_MAX_CONNS"),

		LockBackend: strings.ToLower(v.GetString("LOCK_BACKEND")),
		RedisAddr:   v.GetString("REDIS_ADDR"),
		LockExpiry:  v.GetDuration("LOCK_EXPIRY"),

		MaxWithdrawalsPerDay: v.GetInt("MAX_WITHDRAWALS_PER_DAY"),

		HTTPTimeout:      v.GetDuration("HTTP_TIMEOUT"),
		NotifyWebhookURL: v.GetString("NOTIFY_WEBHOOK_URL"),

		MaxRetries:     v.GetInt("MAX_RETRIES"),
		InitialBackoff: v.GetDuration("INITIAL_BACKOFF"),
		MaxConcurrency: v.GetInt("MAX_CONCURRENCY"),

		IdempotencyTTL: v.GetDuration("IDEMPOTENCY_TTL"),

		OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),

		JWTSecret:    v.GetString("JWT_SECRET"),
		JWTAccessTTL: v.GetDuration("JWT_ACCESS_TTL"),
		BcryptCost:   v.GetInt("BCRYPT_COST"),
		LoginLockout: v.GetDuration("LOGIN_LOCKOUT"),
	}

	var errs []error

	limit, err := domain.ParseMoney(v.GetString("DAILY_WITHDRAWAL_LIMIT"))
	if err != nil {
		errs = append(errs, fmt.Errorf("DAILY_WITHDRAWAL_LIMIT: %w", err))
	} else {
		cfg.DailyWithdrawalLimit = limit
		if err := cfg.WithdrawalPolicy().Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	loc, err := time.LoadLocation(v.GetString("LEDGER_TIMEZONE"))
	if err != nil {
		errs = append(errs, fmt.Errorf("LEDGER_TIMEZONE: %w", err))
	}
	cfg.Timezone = loc

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND: unknown backend %q", c.StoreBackend))
	}

	switch c.LockBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when LOCK_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("LOCK_BACKEND: unknown backend %q", c.LockBackend))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}
	return errors.Join(errs...)
}

// WithdrawalPolicy returns the daily limits applied to new accounts.
func (c *Config) WithdrawalPolicy() domain.WithdrawalPolicy {
	return domain.WithdrawalPolicy{
		DailyLimit: c.DailyWithdrawalLimit,
		MaxPerDay:  c.MaxWithdrawalsPerDay,
	}
}
