package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger-go/internal/service"
)

// ============================================================
// Authentication
// ============================================================

func loginHandler(authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/login")
		defer span.End()

		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		res, err := authSvc.Login(ctx, req.NationalID, req.Password)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, loginResponse{
			AccessToken:  res.AccessToken,
			TokenType:    "Bearer",
			ExpiresIn:    res.ExpiresIn,
			CustomerID:   res.CustomerID,
			CustomerName: res.CustomerName,
			AccountID:    res.AccountID,
		})
	}
}
