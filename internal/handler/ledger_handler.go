package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger-go/internal/service"
)

// ============================================================
// Accounts
// ============================================================

func openAccountHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts")
		defer span.End()

		var req openAccountRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		acc, err := svc.OpenAccount(ctx, service.OpenAccountInput{
			Name:       req.Name,
			Email:      req.Email,
			NationalID: req.NationalID,
			Password:   req.Password,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		w.Header().Set("Location", "/v1/accounts/"+acc.ID())
		writeJSON(w, http.StatusCreated, newAccountResponse(acc))
	}
}

func getAccountHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}")
		defer span.End()

		acc, err := svc.GetAccount(ctx, chi.URLParam(r, "accountId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, newAccountResponse(acc))
	}
}

func lookupHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/lookup/{nationalId}")
		defer span.End()

		acc, err := svc.GetAccountByIdentity(ctx, chi.URLParam(r, "nationalId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, lookupResponse{AccountID: acc.ID(), OwnerName: acc.Owner().Name()})
	}
}

func statementHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/statement")
		defer span.End()

		st, err := svc.Statement(ctx, chi.URLParam(r, "accountId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("statement.entries", len(st.Records)))
		writeJSON(w, http.StatusOK, statementResponse{
			AccountID:    st.AccountID,
			OwnerName:    st.Owner,
			Balance:      st.Balance,
			Transactions: st.Records,
		})
	}
}

// ============================================================
// Deposit / Withdraw / Transfer
// ============================================================

func depositHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return amountHandler("POST /v1/accounts/{accountId}/deposits", svc.Deposit, logger)
}

func withdrawHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return amountHandler("POST /v1/accounts/{accountId}/withdrawals", svc.Withdraw, logger)
}

type amountOperation func(ctx context.Context, accountID, amount string) (*service.Receipt, error)

func amountHandler(spanName string, op amountOperation, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), spanName)
		defer span.End()

		var req amountRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		receipt, err := op(ctx, chi.URLParam(r, "accountId"), string(req.Amount))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
	}
}

func transferHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts/{accountId}/transfers")
		defer span.End()

		var req transferRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		key := r.Header.Get("Idempotency-Key")
		span.SetAttributes(attribute.Bool("transfer.idempotent", key != ""))

		res, err := svc.Transfer(ctx, service.TransferInput{
			SourceID:       chi.URLParam(r, "accountId"),
			TargetID:       req.TargetAccountID,
			Amount:         string(req.Amount),
			IdempotencyKey: key,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
