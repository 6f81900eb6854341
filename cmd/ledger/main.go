package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredislib "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger-go/internal/config"
	"github.com/boddenberg/retail-ledger-go/internal/domain"
	"github.com/boddenberg/retail-ledger-go/internal/handler"
	"github.com/boddenberg/retail-ledger-go/internal/infra/cache"
	"github.com/boddenberg/retail-ledger-go/internal/infra/memory"
	"github.com/boddenberg/retail-ledger-go/internal/infra/notify"
	"github.com/boddenberg/retail-ledger-go/internal/infra/observability"
	"github.com/boddenberg/retail-ledger-go/internal/infra/postgres"
	"github.com/boddenberg/retail-ledger-go/internal/infra/redislock"
	"github.com/boddenberg/retail-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/retail-ledger-go/internal/port"
	"github.com/boddenberg/retail-ledger-go/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("lock_backend", cfg.LockBackend),
		zap.String("daily_withdrawal_limit", cfg.DailyWithdrawalLimit.String()),
		zap.Int("max_withdrawals_per_day", cfg.MaxWithdrawalsPerDay),
		zap.String("timezone", cfg.Timezone.String()),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("idempotency_ttl", cfg.IdempotencyTTL),
		zap.Duration("jwt_access_ttl", cfg.JWTAccessTTL),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, observability.ServiceName)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	var checks []handler.DependencyCheck

	// --- Store ---
	var (
		accounts  port.AccountRepository
		customers port.CustomerRepository
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if err := postgres.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.PoolConfig{MaxConns: cfg.DBMaxConns})
		cancel()
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()

		accounts = postgres.NewAccountRepository(pool)
		customers = postgres.NewCustomerRepository(pool, cfg.BcryptCost)
		checks = append(checks, handler.DependencyCheck{Name: "postgres", Check: pool.Ping})
		logger.Info("using postgres store", zap.Int32("max_conns", cfg.DBMaxConns))
	default:
		accounts = memory.NewAccountRepository()
		customers = memory.NewCustomerRepository(cfg.BcryptCost)
		logger.Warn("using in-memory store, data is lost on restart")
	}

	// --- Account locks ---
	var locker port.AccountLocker
	switch cfg.LockBackend {
	case config.BackendRedis:
		rdb := goredislib.NewClient(&goredislib.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		opts := redislock.DefaultOptions()
		opts.Expiry = cfg.LockExpiry
		locker = redislock.New(rdb, opts, logger)
		checks = append(checks, handler.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		logger.Info("using redis account locks", zap.String("redis_addr", cfg.RedisAddr))
	default:
		locker = memory.NewLocker()
		logger.Info("using in-process account locks")
	}

	// --- Notifications ---
	notifiers := notify.Fanout{notify.NewLogNotifier(logger)}
	var webhook *notify.Async
	if cfg.NotifyWebhookURL != "" {
		cb := resilience.NewCircuitBreaker("notify-webhook", func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		})
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		webhook = notify.NewAsync(
			notify.NewWebhookNotifier(httpClient, cfg.NotifyWebhookURL, cb, resilienceCfg),
			"webhook", cfg.MaxConcurrency, cfg.HTTPTimeout*time.Duration(cfg.MaxRetries+1),
			logger, metrics,
		)
		notifiers = append(notifiers, webhook)
		logger.Info("webhook notifications enabled")
	}

	// --- Caches ---
	idempotency := cache.New[*domain.TransferResult](cfg.IdempotencyTTL)
	defer idempotency.Close()
	loginAttempts := cache.NewCounter(cfg.LoginLockout)
	defer loginAttempts.Close()

	// --- Services ---
	ledgerSvc := service.NewLedgerService(
		service.LedgerDeps{
			Accounts:    accounts,
			Customers:   customers,
			Locker:      locker,
			Notifier:    notifiers,
			Idempotency: idempotency,
		},
		service.LedgerConfig{
			Policy:   cfg.WithdrawalPolicy(),
			Location: cfg.Timezone,
			Retry:    resilienceCfg,
		},
		metrics,
		logger,
	)
	authSvc := service.NewAuthService(customers, accounts, loginAttempts, cfg.JWTSecret, cfg.JWTAccessTTL, logger)

	// --- Router ---
	router, err := handler.NewRouter(ledgerSvc, authSvc, handler.RouterOptions{
		RateLimit: cfg.RateLimit,
		Checks:    checks,
	}, metrics, logger)
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	if webhook != nil {
		if err := webhook.Wait(ctx); err != nil {
			logger.Warn("pending notifications dropped", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}
