package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ============================================================
// Accounts
// ============================================================

// WithdrawalPolicy caps withdrawals per calendar day, both in cumulative
// amount and in number of operations.
type WithdrawalPolicy struct {
	DailyLimit Money `json:"daily_limit"`
	MaxPerDay  int   `json:"max_per_day"`
}

// DefaultWithdrawalPolicy returns the reference limits: 3000.00 and five
// withdrawals per day.
func DefaultWithdrawalPolicy() WithdrawalPolicy {
	return WithdrawalPolicy{DailyLimit: NewMoneyFromMinor(300000), MaxPerDay: 5}
}

// Validate checks that both caps are positive.
func (p WithdrawalPolicy) Validate() error {
	if !p.DailyLimit.IsPositive() {
		return &ErrValidation{Field: "daily_limit", Message: "must be greater than zero"}
	}
	if p.MaxPerDay < 1 {
		return &ErrValidation{Field: "max_per_day", Message: "must be at least 1"}
	}
	return nil
}

// DailyWithdrawals is the limiter state. Date is the calendar day the
// counters refer to, as midnight UTC; the zero time means no withdrawal yet.
type DailyWithdrawals struct {
	Date   time.Time `json:"date"`
	Amount Money     `json:"amount"`
	Count  int       `json:"count"`
}

// on returns the state as seen by an attempt at t: counters are zeroed when
// t falls on a different calendar day than Date.
func (d DailyWithdrawals) on(t time.Time) DailyWithdrawals {
	day := calendarDay(t)
	if !d.Date.Equal(day) {
		return DailyWithdrawals{Date: day}
	}
	return d
}

// calendarDay truncates t to its calendar date in t's own location.
func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Account is the aggregate root of the ledger. All mutations go through
// Deposit, Withdraw and Transfer, and each one either applies completely or
// leaves the account untouched.
//
// An Account is not safe for concurrent use; callers serialize access per
// account id (see port.AccountLocker).
type Account struct {
	id        string
	owner     *Customer
	balance   Money
	history   []TransactionRecord
	policy    WithdrawalPolicy
	daily     DailyWithdrawals
	version   int64
	createdAt time.Time
}

// OpenAccount creates an account with a fresh id and zero balance.
func OpenAccount(owner *Customer, policy WithdrawalPolicy) (*Account, error) {
	if owner == nil {
		return nil, &ErrValidation{Field: "owner", Message: "owner is required"}
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Account{
		id:        uuid.NewString(),
		owner:     owner,
		policy:    policy,
		createdAt: time.Now().UTC(),
	}, nil
}

// AccountSnapshot carries the persisted state of an Account.
type AccountSnapshot struct {
	ID        string
	Owner     *Customer
	Balance   Money
	History   []TransactionRecord
	Policy    WithdrawalPolicy
	Daily     DailyWithdrawals
	Version   int64
	CreatedAt time.Time
}

// RestoreAccount rebuilds an Account from persisted state and checks that
// the history reconciles with the balance.
func RestoreAccount(s AccountSnapshot) (*Account, error) {
	if s.ID == "" {
		return nil, &ErrValidation{Field: "id", Message: "account id is required"}
	}
	if s.Owner == nil {
		return nil, &ErrValidation{Field: "owner", Message: "owner is required"}
	}
	if err := s.Policy.Validate(); err != nil {
		return nil, err
	}
	a := &Account{
		id:        s.ID,
		owner:     s.Owner,
		balance:   s.Balance,
		history:   append([]TransactionRecord(nil), s.History...),
		policy:    s.Policy,
		daily:     s.Daily,
		version:   s.Version,
		createdAt: s.CreatedAt,
	}
	if err := a.Reconcile(); err != nil {
		return nil, err
	}
	return a, nil
}

// Snapshot returns the persistable state of a. The history is copied.
func (a *Account) Snapshot() AccountSnapshot {
	return AccountSnapshot{
		ID:        a.id,
		Owner:     a.owner,
		Balance:   a.balance,
		History:   a.Statement(),
		Policy:    a.policy,
		Daily:     a.daily,
		Version:   a.version,
		CreatedAt: a.createdAt,
	}
}

func (a *Account) ID() string                         { return a.id }
func (a *Account) Owner() *Customer                   { return a.owner }
func (a *Account) Balance() Money                     { return a.balance }
func (a *Account) Policy() WithdrawalPolicy           { return a.policy }
func (a *Account) DailyWithdrawals() DailyWithdrawals { return a.daily }
func (a *Account) CreatedAt() time.Time               { return a.createdAt }
func (a *Account) Len() int                           { return len(a.history) }

// Version is the persisted version the aggregate was loaded at. Repositories
// use it for optimistic concurrency control.
func (a *Account) Version() int64 { return a.version }

// SetVersion records the version assigned by the repository after a save.
func (a *Account) SetVersion(v int64) { a.version = v }

// Statement returns a copy of the transaction history in chronological order.
func (a *Account) Statement() []TransactionRecord {
	out := make([]TransactionRecord, len(a.history))
	copy(out, a.history)
	return out
}

// Deposit credits amount to the account. Deposits are not rate limited.
func (a *Account) Deposit(amount Money, occurredAt time.Time) (TransactionRecord, error) {
	return a.credit(KindDeposit, amount, occurredAt, "")
}

// Withdraw debits amount from the account. Checks run in a fixed order and
// the first failure wins: invalid amount, insufficient funds, daily amount,
// daily count.
func (a *Account) Withdraw(amount Money, occurredAt time.Time) (TransactionRecord, error) {
	return a.debit(KindWithdrawal, amount, occurredAt, "")
}

func (a *Account) credit(kind TransactionKind, amount Money, at time.Time, counterparty string) (TransactionRecord, error) {
	if !amount.IsPositive() {
		return TransactionRecord{}, &ErrInvalidAmount{Input: amount.String(), Reason: "amount must be greater than zero"}
	}
	balance, ok := a.balance.checkedAdd(amount)
	if !ok {
		return TransactionRecord{}, &ErrInvalidAmount{Input: amount.String(), Reason: "balance would overflow"}
	}

	a.balance = balance
	return a.append(kind, amount, at, counterparty), nil
}

func (a *Account) debit(kind TransactionKind, amount Money, at time.Time, counterparty string) (TransactionRecord, error) {
	if !amount.IsPositive() {
		return TransactionRecord{}, &ErrInvalidAmount{Input: amount.String(), Reason: "amount must be greater than zero"}
	}
	if a.balance.LessThan(amount) {
		return TransactionRecord{}, &ErrInsufficientFunds{Available: a.balance, Required: amount}
	}

	// The reset is computed on a copy so a rejected attempt leaves the
	// stored limiter state as it was.
	daily := a.daily.on(at)
	withdrawn := daily.Amount.Add(amount)
	if a.policy.DailyLimit.LessThan(withdrawn) {
		return TransactionRecord{}, &ErrDailyLimitExceeded{
			LimitType: LimitDailyAmount,
			Limit:     a.policy.DailyLimit.String(),
			Current:   daily.Amount.String(),
		}
	}
	if daily.Count >= a.policy.MaxPerDay {
		return TransactionRecord{}, &ErrDailyLimitExceeded{
			LimitType: LimitDailyCount,
			Limit:     strconv.Itoa(a.policy.MaxPerDay),
			Current:   strconv.Itoa(daily.Count),
		}
	}

	daily.Amount = withdrawn
	daily.Count++
	a.daily = daily
	a.balance = a.balance.Sub(amount)
	return a.append(kind, amount, at, counterparty), nil
}

func (a *Account) append(kind TransactionKind, amount Money, at time.Time, counterparty string) TransactionRecord {
	rec := TransactionRecord{
		Kind:         kind,
		Amount:       amount,
		OccurredAt:   at,
		Counterparty: counterparty,
		BalanceAfter: a.balance,
	}
	a.history = append(a.history, rec)
	return rec
}

// Reconcile verifies the aggregate invariants: a non-negative balance equal
// to the signed sum of the history, and daily counters within the policy.
func (a *Account) Reconcile() error {
	if a.balance.IsNegative() {
		return fmt.Errorf("account %s: negative balance %s", a.id, a.balance)
	}
	sum := Zero
	for i, rec := range a.history {
		if !rec.Kind.Valid() || !rec.Amount.IsPositive() {
			return fmt.Errorf("account %s: malformed entry %d", a.id, i)
		}
		sum = sum.Add(rec.Signed())
	}
	if !sum.Equal(a.balance) {
		return fmt.Errorf("account %s: history sums to %s but balance is %s", a.id, sum, a.balance)
	}
	if a.policy.DailyLimit.LessThan(a.daily.Amount) || a.daily.Count > a.policy.MaxPerDay {
		return fmt.Errorf("account %s: daily withdrawals over policy", a.id)
	}
	return nil
}

// checkpoint captures the mutable state so a failed multi-step operation can
// be undone.
type checkpoint struct {
	balance    Money
	historyLen int
	daily      DailyWithdrawals
}

func (a *Account) checkpoint() checkpoint {
	return checkpoint{balance: a.balance, historyLen: len(a.history), daily: a.daily}
}

func (a *Account) rollback(c checkpoint) {
	a.balance = c.balance
	a.history = a.history[:c.historyLen:c.historyLen]
	a.daily = c.daily
}
