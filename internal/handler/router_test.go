package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/boddenberg/retail-ledger-go/internal/domain"
	"github.com/boddenberg/retail-ledger-go/internal/handler"
	"github.com/boddenberg/retail-ledger-go/internal/infra/cache"
	"github.com/boddenberg/retail-ledger-go/internal/infra/memory"
	"github.com/boddenberg/retail-ledger-go/internal/infra/notify"
	"github.com/boddenberg/retail-ledger-go/internal/infra/observability"
	"github.com/boddenberg/retail-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/retail-ledger-go/internal/service"
)

const (
	cpfAna   = "52998224725"
	cpfBruno = "11144477735"
)

func newTestRouter(t *testing.T, opts handler.RouterOptions) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	accounts := memory.NewAccountRepository()
	customers := memory.NewCustomerRepository(bcrypt.MinCost)
	idem := cache.New[*domain.TransferResult](time.Minute)
	attempts := cache.NewCounter(time.Minute)
	t.Cleanup(idem.Close)
	t.Cleanup(attempts.Close)

	ledger := service.NewLedgerService(
		service.LedgerDeps{
			Accounts:    accounts,
			Customers:   customers,
			Locker:      memory.NewLocker(),
			Notifier:    notify.NewLogNotifier(logger),
			Idempotency: idem,
		},
		service.LedgerConfig{
			Policy: domain.DefaultWithdrawalPolicy(),
			Retry:  resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxConcurrency: 8},
		},
		metrics, logger,
	)
	auth := service.NewAuthService(customers, accounts, attempts, "test-secret", 15*time.Minute, logger)

	router, err := handler.NewRouter(ledger, auth, opts, metrics, logger)
	require.NoError(t, err)
	return router
}

func do(t *testing.T, router http.Handler, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type session struct {
	accountID string
	token     string
}

func openAndLogin(t *testing.T, router http.Handler, name, cpf string) session {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/v1/accounts", "", map[string]string{
		"name": name, "email": "x@example.com", "national_id": cpf, "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	accountID := decode(t, rec)["id"].(string)

	rec = do(t, router, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"national_id": cpf, "password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, accountID, body["account_id"])
	assert.Equal(t, "Bearer", body["token_type"])
	return session{accountID: accountID, token: body["access_token"].(string)}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, handler.RouterOptions{})

	rec := do(t, router, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestReadyz(t *testing.T) {
	router := newTestRouter(t, handler.RouterOptions{})

	rec := do(t, router, http.MethodGet, "/readyz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz_FailingDependency(t *testing.T) {
	router := newTestRouter(t, handler.RouterOptions{Checks: []handler.DependencyCheck{{
		Name:  "postgres",
		Check: func(context.Context) error { return errors.New("connection refused") },
	}}})

	rec := do(t, router, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, router, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestMetrics(t *testing.T) {
	router := newTestRouter(t, handler.RouterOptions{})
	openAndLogin(t, router, "Ana", cpfAna)

	rec := do(t, router, http.MethodGet, "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_operations_total")
}

func TestNewRouter_InvalidRateLimit(t *testing.T) {
	_, err := handler.NewRouter(nil, nil, handler.RouterOptions{RateLimit: "lots"}, observability.NewMetrics(), zap.NewNop())
	assert.Error(t, err)
}

func TestRateLimit(t *testing.T) {
	router := newTestRouter(t, handler.RouterOptions{RateLimit: "2-M"})

	for i := 0; i < 2; i++ {
		rec := do(t, router, http.MethodPost, "/v1/auth/login", "", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec := do(t, router, http.MethodPost, "/v1/auth/login", "", map[string]string{})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLedgerFlow(t *testing.T) {
	router := newTestRouter(t, handler.RouterOptions{})
	ana := openAndLogin(t, router, "Ana", cpfAna)
	bruno := openAndLogin(t, router, "Bruno", cpfBruno)
	base := "/v1/accounts/" + ana.accountID

	rec := do(t, router, http.MethodPost, base+"/deposits", ana.token, map[string]string{"amount": "150.00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "150.00", decode(t, rec)["balance"])

	// Numeric amounts are accepted as well.
	rec = do(t, router, http.MethodPost, base+"/withdrawals", ana.token, map[string]any{"amount": 20})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "130.00", decode(t, rec)["balance"])

	rec = do(t, router, http.MethodGet, "/v1/lookup/"+cpfBruno, ana.token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, bruno.accountID, decode(t, rec)["account_id"])

	transfer := map[string]string{"target_account_id": bruno.accountID, "amount": "100.00"}
	rec = do(t, router, http.MethodPost, base+"/transfers", ana.token, transfer, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode(t, rec)

	// Replaying the same key does not move money twice.
	rec = do(t, router, http.MethodPost, base+"/transfers", ana.token, transfer, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, first, decode(t, rec))

	rec = do(t, router, http.MethodGet, base, ana.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acc := decode(t, rec)
	assert.Equal(t, "30.00", acc["balance"])
	assert.Equal(t, "529.***.***-25", acc["national_id"])

	rec = do(t, router, http.MethodGet, base+"/statement", ana.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode(t, rec)
	txs := st["transactions"].([]any)
	require.Len(t, txs, 3)
	assert.Equal(t, "deposit", txs[0].(map[string]any)["type"])
	assert.Equal(t, "withdrawal", txs[1].(map[string]any)["type"])
	assert.Equal(t, "transfer_out", txs[2].(map[string]any)["type"])

	rec = do(t, router, http.MethodGet, "/v1/accounts/"+bruno.accountID+"/statement", bruno.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100.00", decode(t, rec)["balance"])
}

func TestErrorMapping(t *testing.T) {
	router := newTestRouter(t, handler.RouterOptions{})
	ana := openAndLogin(t, router, "Ana", cpfAna)
	bruno := openAndLogin(t, router, "Bruno", cpfBruno)
	base := "/v1/accounts/" + ana.accountID

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{"missing token", http.MethodGet, base, "", nil, http.StatusUnauthorized, "unauthorized"},
		{"garbage token", http.MethodGet, base, "not-a-jwt", nil, http.StatusUnauthorized, "unauthorized"},
		{"other owner", http.MethodGet, "/v1/accounts/" + bruno.accountID, ana.token, nil, http.StatusForbidden, "forbidden"},
		{"invalid amount", http.MethodPost, base + "/deposits", ana.token, map[string]string{"amount": "-5"}, http.StatusBadRequest, "invalid_amount"},
		{"too many decimals", http.MethodPost, base + "/deposits", ana.token, map[string]string{"amount": "1.001"}, http.StatusBadRequest, "invalid_amount"},
		{"missing amount", http.MethodPost, base + "/deposits", ana.token, map[string]string{}, http.StatusBadRequest, "validation"},
		{"insufficient funds", http.MethodPost, base + "/withdrawals", ana.token, map[string]string{"amount": "10.00"}, http.StatusUnprocessableEntity, "insufficient_funds"},
		{"self transfer", http.MethodPost, base + "/transfers", ana.token, map[string]string{"target_account_id": ana.accountID, "amount": "1"}, http.StatusBadRequest, "invalid_transaction"},
		{"unknown target", http.MethodPost, base + "/transfers", ana.token, map[string]string{"target_account_id": "nope", "amount": "1"}, http.StatusBadRequest, "invalid_transaction"},
		{"invalid cpf lookup", http.MethodGet, "/v1/lookup/12345678900", ana.token, nil, http.StatusBadRequest, "invalid_identity"},
		{"unknown cpf lookup", http.MethodGet, "/v1/lookup/39053344705", ana.token, nil, http.StatusNotFound, "not_found"},
		{"duplicate account", http.MethodPost, "/v1/accounts", "", map[string]string{"name": "Ana", "national_id": cpfAna, "password": "other-pass"}, http.StatusConflict, "duplicate_identity"},
		{"short password", http.MethodPost, "/v1/accounts", "", map[string]string{"name": "Caio", "national_id": "39053344705", "password": "123"}, http.StatusBadRequest, "invalid_credential"},
		{"bad email", http.MethodPost, "/v1/accounts", "", map[string]string{"name": "Caio", "email": "nope", "national_id": "39053344705", "password": "secret123"}, http.StatusBadRequest, "validation"},
		{"wrong password", http.MethodPost, "/v1/auth/login", "", map[string]string{"national_id": cpfAna, "password": "wrong-pass"}, http.StatusUnauthorized, "unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode(t, rec)["code"])
		})
	}
}

func TestDailyLimitOverHTTP(t *testing.T) {
	router := newTestRouter(t, handler.RouterOptions{})
	ana := openAndLogin(t, router, "Ana", cpfAna)
	base := "/v1/accounts/" + ana.accountID

	rec := do(t, router, http.MethodPost, base+"/deposits", ana.token, map[string]string{"amount": "5000.00"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, base+"/withdrawals", ana.token, map[string]string{"amount": "2500.00"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, base+"/withdrawals", ana.token, map[string]string{"amount": "600.00"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "daily_amount_exceeded", decode(t, rec)["code"])
}
