package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger-go/internal/domain"
)

// ============================================================
// Shared helper functions
// ============================================================

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeCodedError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a JSON body into dst and validates its tags.
func decodeJSON(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &domain.ErrValidation{Field: "body", Message: "request body is required"}
		}
		var amountErr *domain.ErrInvalidAmount
		if errors.As(err, &amountErr) {
			return amountErr
		}
		return &domain.ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &domain.ErrValidation{Field: fe.Field(), Message: validationMessage(fe)}
		}
		return &domain.ErrValidation{Field: "body", Message: err.Error()}
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must have at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must have at least %s characters", fe.Param())
	}
	return "failed " + fe.Tag() + " validation"
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var (
		invalidAmount *domain.ErrInvalidAmount
		invalidID     *domain.ErrInvalidIdentity
		invalidCred   *domain.ErrInvalidCredential
		invalidTx     *domain.ErrInvalidTransaction
		validation    *domain.ErrValidation
		notFound      *domain.ErrNotFound
		duplicate     *domain.ErrDuplicateIdentity
		conflict      *domain.ErrConcurrentModification
		insufficient  *domain.ErrInsufficientFunds
		limit         *domain.ErrDailyLimitExceeded
		unauthorized  *domain.ErrUnauthorized
		forbidden     *domain.ErrForbidden
		circuitOpen   *domain.ErrCircuitOpen
	)

	switch {
	case errors.As(err, &invalidAmount):
		logger.Debug("invalid amount", zap.String("error", err.Error()))
		writeCodedError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.As(err, &invalidID):
		logger.Debug("invalid identity", zap.String("error", err.Error()))
		writeCodedError(w, http.StatusBadRequest, "invalid_identity", err.Error())
	case errors.As(err, &invalidCred):
		logger.Debug("invalid credential", zap.String("error", err.Error()))
		writeCodedError(w, http.StatusBadRequest, "invalid_credential", err.Error())
	case errors.As(err, &invalidTx):
		logger.Debug("invalid transaction", zap.String("error", err.Error()))
		writeCodedError(w, http.StatusBadRequest, "invalid_transaction", err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeCodedError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeCodedError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &duplicate):
		logger.Debug("duplicate identity", zap.String("error", err.Error()))
		writeCodedError(w, http.StatusConflict, "duplicate_identity", err.Error())
	case errors.As(err, &conflict):
		logger.Warn("concurrent modification", zap.String("account_id", conflict.AccountID))
		writeCodedError(w, http.StatusConflict, "concurrent_modification", err.Error())
	case errors.As(err, &insufficient):
		logger.Warn("insufficient funds",
			zap.String("available", insufficient.Available.String()),
			zap.String("required", insufficient.Required.String()),
		)
		writeCodedError(w, http.StatusUnprocessableEntity, "insufficient_funds", err.Error())
	case errors.As(err, &limit):
		logger.Warn("daily limit exceeded", zap.String("limit_type", limit.LimitType))
		writeCodedError(w, http.StatusUnprocessableEntity, limit.LimitType+"_exceeded", err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeCodedError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeCodedError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeCodedError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
