package domain

import "time"

// ============================================================
// Transfers
// ============================================================

// TransferResult holds the two entries produced by a successful transfer.
type TransferResult struct {
	SourceID string            `json:"source_account_id"`
	TargetID string            `json:"target_account_id"`
	Amount   Money             `json:"amount"`
	Debit    TransactionRecord `json:"debit"`
	Credit   TransactionRecord `json:"credit"`
}

// Transfer moves amount from source to target. The source is debited first
// (subject to the daily withdrawal limits); the target is credited only if
// the debit succeeded. If the credit fails the source is restored to its
// state before the debit, so either both accounts change or neither does.
//
// Transfer does not persist anything; callers save both aggregates after it
// returns successfully.
func Transfer(source, target *Account, amount Money, occurredAt time.Time) (*TransferResult, error) {
	if source == nil || target == nil {
		return nil, &ErrInvalidTransaction{Reason: "source and target accounts are required"}
	}
	if source == target || source.id == target.id {
		return nil, &ErrInvalidTransaction{Reason: "cannot transfer to the same account"}
	}
	if !amount.IsPositive() {
		return nil, &ErrInvalidAmount{Input: amount.String(), Reason: "amount must be greater than zero"}
	}

	before := source.checkpoint()
	debit, err := source.debit(KindTransferOut, amount, occurredAt, target.id)
	if err != nil {
		return nil, err
	}

	credit, err := target.credit(KindTransferIn, amount, occurredAt, source.id)
	if err != nil {
		source.rollback(before)
		return nil, err
	}

	return &TransferResult{
		SourceID: source.id,
		TargetID: target.id,
		Amount:   amount,
		Debit:    debit,
		Credit:   credit,
	}, nil
}
