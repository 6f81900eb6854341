package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger-go/internal/domain"
	"github.com/boddenberg/retail-ledger-go/internal/port"
)

var authTracer = otel.Tracer("service/auth")

const (
	maxFailedAttempts = 5
	tokenIssuer       = "retail-ledger"
	tokenTypeAccess   = "access"
)

// AuthService authenticates customers by national id and password and
// issues short-lived access tokens bound to their account.
type AuthService struct {
	customers port.CustomerRepository
	accounts  port.AccountRepository
	attempts  port.AttemptCounter
	jwtSecret []byte
	accessTTL time.Duration
	logger    *zap.Logger
}

// NewAuthService creates a new auth service. attempts counts failed logins
// per national id; its TTL is how long a customer stays locked out after
// too many failures.
func NewAuthService(customers port.CustomerRepository, accounts port.AccountRepository, attempts port.AttemptCounter, jwtSecret string, accessTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		customers: customers,
		accounts:  accounts,
		attempts:  attempts,
		jwtSecret: []byte(jwtSecret),
		accessTTL: accessTTL,
		logger:    logger,
	}
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	AccessToken  string
	ExpiresIn    int
	CustomerID   string
	CustomerName string
	AccountID    string
}

// JWTClaims represents the custom claims in access tokens.
type JWTClaims struct {
	Sub     string `json:"sub"`
	Account string `json:"acc"`
	Type    string `json:"type"`
	jwt.RegisteredClaims
}

// ============================================================
// Login (POST /v1/auth/login)
// ============================================================

// Login verifies the password of the customer holding rawNationalID.
// Unknown ids and wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, rawNationalID, password string) (*LoginResult, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	nid, err := domain.NewNationalID(rawNationalID)
	if err != nil {
		return nil, err
	}
	key := nid.Digits()

	// Attempts are counted before the password check; a successful login
	// resets the count.
	attempt := s.attempts.Incr(key)
	if attempt > maxFailedAttempts {
		s.logger.Warn("login: customer temporarily locked", zap.String("national_id", nid.Masked()))
		return nil, &domain.ErrUnauthorized{Message: "too many failed attempts, try again later"}
	}

	customer, err := s.customers.GetByIdentity(ctx, nid)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if customer == nil || !customer.VerifyPassword(password) {
		return nil, s.loginFailure(attempt, nid)
	}

	acc, err := s.accounts.GetByOwnerIdentity(ctx, nid)
	if err != nil {
		if isNotFound(err) {
			return nil, &domain.ErrUnauthorized{Message: "customer has no account"}
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	s.attempts.Reset(key)

	token, err := s.signAccessToken(customer.ID(), acc.ID())
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	s.logger.Info("customer logged in",
		zap.String("customer_id", customer.ID()),
		zap.String("account_id", acc.ID()),
	)
	return &LoginResult{
		AccessToken:  token,
		ExpiresIn:    int(s.accessTTL.Seconds()),
		CustomerID:   customer.ID(),
		CustomerName: customer.Name(),
		AccountID:    acc.ID(),
	}, nil
}

func (s *AuthService) loginFailure(failed int, nid domain.NationalID) error {
	s.logger.Warn("login: failed attempt",
		zap.String("national_id", nid.Masked()),
		zap.Int("attempts", failed),
		zap.Int("max", maxFailedAttempts),
	)
	if failed >= maxFailedAttempts {
		return &domain.ErrUnauthorized{Message: "too many failed attempts, try again later"}
	}
	return &domain.ErrUnauthorized{Message: "invalid credentials"}
}

// ============================================================
// ValidateAccessToken, used by middleware
// ============================================================

// ValidateAccessToken parses and verifies an access token.
func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != tokenTypeAccess || claims.Account == "" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	return claims, nil
}

func (s *AuthService) signAccessToken(customerID, accountID string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Sub:     customerID,
		Account: accountID,
		Type:    tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
