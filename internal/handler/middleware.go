package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger-go/internal/service"
)

type contextKey string

const (
	customerIDKey contextKey = "customerID"
	accountIDKey  contextKey = "accountID"
)

// JWTAuthMiddleware validates Bearer tokens and injects the customer and
// account ids into the context.
func JWTAuthMiddleware(authSvc *service.AuthService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeCodedError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeCodedError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization header")
				return
			}

			claims, err := authSvc.ValidateAccessToken(parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				handleServiceError(w, err, logger)
				return
			}

			ctx := context.WithValue(r.Context(), customerIDKey, claims.Sub)
			ctx = context.WithValue(ctx, accountIDKey, claims.Account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccountOwnerMiddleware rejects requests whose {accountId} is not the
// account bound to the caller's token.
func AccountOwnerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requested := chi.URLParam(r, "accountId")
			if owned := AccountIDFromContext(r.Context()); owned == "" || owned != requested {
				logger.Warn("auth: account access denied",
					zap.String("customer_id", CustomerIDFromContext(r.Context())),
					zap.String("account_id", requested),
				)
				writeCodedError(w, http.StatusForbidden, "forbidden", "account does not belong to the authenticated customer")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CustomerIDFromContext extracts the authenticated customer ID from context.
func CustomerIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(customerIDKey).(string)
	return v
}

// AccountIDFromContext extracts the account bound to the access token.
func AccountIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(accountIDKey).(string)
	return v
}
