package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	limiterhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger-go/internal/infra/observability"
	"github.com/boddenberg/retail-ledger-go/internal/service"
)

var tracer = otel.Tracer("handler")

// DependencyCheck probes one backing service for /healthz and /readyz.
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RouterOptions carries the optional parts of the router.
type RouterOptions struct {
	// RateLimit is a ulule formatted rate such as "300-M". Empty disables
	// rate limiting.
	RateLimit string
	Checks    []DependencyCheck
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(ledgerSvc *service.LedgerService, authSvc *service.AuthService, opts RouterOptions, metrics *observability.Metrics, logger *zap.Logger) (http.Handler, error) {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(opts.Checks, logger))
	r.Get("/readyz", readyzHandler(opts.Checks, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	rateLimited, err := rateLimitMiddleware(opts.RateLimit)
	if err != nil {
		return nil, err
	}

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(rateLimited)

		// =============================================
		// Public
		// POST /v1/accounts
		// POST /v1/auth/login
		// =============================================
		r.Post("/accounts", openAccountHandler(ledgerSvc, logger))
		r.Post("/auth/login", loginHandler(authSvc, logger))

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(authSvc, logger))

			// =============================================
			// Lookup by national id, used to find a transfer target
			// GET /v1/lookup/{nationalId}
			// =============================================
			r.Get("/lookup/{nationalId}", lookupHandler(ledgerSvc, logger))

			// =============================================
			// Owner-only account operations
			// =============================================
			r.Route("/accounts/{accountId}", func(r chi.Router) {
				r.Use(AccountOwnerMiddleware(logger))

				r.Get("/", getAccountHandler(ledgerSvc, logger))
				r.Get("/statement", statementHandler(ledgerSvc, logger))
				r.Post("/deposits", depositHandler(ledgerSvc, logger))
				r.Post("/withdrawals", withdrawHandler(ledgerSvc, logger))
				r.Post("/transfers", transferHandler(ledgerSvc, logger))
			})
		})
	})

	return r, nil
}

// rateLimitMiddleware limits requests per client IP. The IP comes from
// RemoteAddr, which middleware.RealIP has already rewritten.
func rateLimitMiddleware(formatted string) (func(http.Handler) http.Handler, error) {
	if formatted == "" {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	instance := limiter.New(memory.NewStore(), rate)
	mw := limiterhttp.NewMiddleware(instance,
		limiterhttp.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			writeCodedError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		}),
	)
	return mw.Handler, nil
}

// ============================================================
// Health
// ============================================================

type healthResponse struct {
	Status   string          `json:"status"` // healthy, degraded
	Services []serviceHealth `json:"services"`
}

type serviceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latency_ms"`
	Error       string `json:"error,omitempty"`
	LastChecked string `json:"last_checked"`
}

func runChecks(ctx context.Context, checks []DependencyCheck, logger *zap.Logger) healthResponse {
	now := time.Now().Format(time.RFC3339)
	resp := healthResponse{
		Status:   "healthy",
		Services: []serviceHealth{{Name: observability.ServiceName, Status: "healthy", LastChecked: now}},
	}

	for _, c := range checks {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		start := time.Now()
		err := c.Check(ctx)
		cancel()

		sh := serviceHealth{
			Name:        c.Name,
			Status:      "healthy",
			LatencyMs:   time.Since(start).Milliseconds(),
			LastChecked: now,
		}
		if err != nil {
			logger.Warn("dependency check failed", zap.String("dependency", c.Name), zap.Error(err))
			sh.Status = "degraded"
			sh.Error = err.Error()
			resp.Status = "degraded"
		}
		resp.Services = append(resp.Services, sh)
	}
	return resp
}

func healthzHandler(checks []DependencyCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, runChecks(r.Context(), checks, logger))
	}
}

func readyzHandler(checks []DependencyCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := runChecks(r.Context(), checks, logger)
		if resp.Status != "healthy" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
