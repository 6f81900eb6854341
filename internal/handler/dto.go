package handler

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/boddenberg/retail-ledger-go/internal/domain"
	"github.com/boddenberg/retail-ledger-go/internal/service"
)

// amountField accepts "150.00" as well as a bare JSON number. The raw text
// is kept so parsing stays exact.
type amountField string

func (a *amountField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = amountField(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return &domain.ErrInvalidAmount{Input: string(data), Reason: "amount must be a string or number"}
	}
	*a = amountField(n.String())
	return nil
}

// --- requests ---

type openAccountRequest struct {
	Name       string `json:"name" validate:"required,max=120"`
	Email      string `json:"email" validate:"omitempty,email"`
	NationalID string `json:"national_id" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type loginRequest struct {
	NationalID string `json:"national_id" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type amountRequest struct {
	Amount amountField `json:"amount" validate:"required"`
}

type transferRequest struct {
	TargetAccountID string      `json:"target_account_id" validate:"required"`
	Amount          amountField `json:"amount" validate:"required"`
}

// --- responses ---

type accountResponse struct {
	ID         string                  `json:"id"`
	OwnerName  string                  `json:"owner_name"`
	NationalID string                  `json:"national_id"`
	Balance    domain.Money            `json:"balance"`
	Policy     domain.WithdrawalPolicy `json:"withdrawal_policy"`
	Daily      domain.DailyWithdrawals `json:"daily_withdrawals"`
	CreatedAt  time.Time               `json:"created_at"`
}

func newAccountResponse(a *domain.Account) accountResponse {
	return accountResponse{
		ID:         a.ID(),
		OwnerName:  a.Owner().Name(),
		NationalID: a.Owner().NationalID().Masked(),
		Balance:    a.Balance(),
		Policy:     a.Policy(),
		Daily:      a.DailyWithdrawals(),
		CreatedAt:  a.CreatedAt(),
	}
}

type lookupResponse struct {
	AccountID string `json:"account_id"`
	OwnerName string `json:"owner_name"`
}

type receiptResponse struct {
	AccountID   string                   `json:"account_id"`
	Transaction domain.TransactionRecord `json:"transaction"`
	Balance     domain.Money             `json:"balance"`
}

func newReceiptResponse(r *service.Receipt) receiptResponse {
	return receiptResponse{AccountID: r.AccountID, Transaction: r.Record, Balance: r.Balance}
}

type statementResponse struct {
	AccountID    string                     `json:"account_id"`
	OwnerName    string                     `json:"owner_name"`
	Balance      domain.Money               `json:"balance"`
	Transactions []domain.TransactionRecord `json:"transactions"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	CustomerID   string `json:"customer_id"`
	CustomerName string `json:"customer_name"`
	AccountID    string `json:"account_id"`
}
