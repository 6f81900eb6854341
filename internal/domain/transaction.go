package domain

import "time"

// ============================================================
// Transactions (ledger entries)
// ============================================================

// TransactionKind identifies what a ledger entry records.
type TransactionKind string

const (
	KindDeposit     TransactionKind = "deposit"
	KindWithdrawal  TransactionKind = "withdrawal"
	KindTransferOut TransactionKind = "transfer_out"
	KindTransferIn  TransactionKind = "transfer_in"
)

// IsCredit reports whether entries of this kind increase the balance.
func (k TransactionKind) IsCredit() bool {
	return k == KindDeposit || k == KindTransferIn
}

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindTransferOut, KindTransferIn:
		return true
	}
	return false
}

// TransactionRecord is an immutable fact describing one ledger event.
// Amount is always positive; the sign is implied by Kind.
type TransactionRecord struct {
	Kind         TransactionKind `json:"type"`
	Amount       Money           `json:"amount"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Counterparty string          `json:"counterparty,omitempty"`
	BalanceAfter Money           `json:"balance_after"`
}

// Signed returns the amount with the sign it contributes to the balance.
func (t TransactionRecord) Signed() Money {
	if t.Kind.IsCredit() {
		return t.Amount
	}
	return t.Amount.Neg()
}
