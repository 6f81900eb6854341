package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/retail-ledger-go/internal/domain"
)

// AccountRepository implements port.AccountRepository.
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates an AccountRepository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const selectAccount = `
	SELECT a.id, a.balance_minor, a.daily_limit_minor, a.max_withdrawals_per_day,
	       a.daily_date, a.daily_amount_minor, a.daily_count, a.version, a.created_at,
	       c.id, c.name, c.email, c.national_id, c.password_hash, c.created_at
	FROM accounts a
	JOIN customers c ON c.id = a.customer_id`

// GetByID loads an account with its full history.
func (r *AccountRepository) GetByID(ctx context.Context, accountID string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "AccountRepository.GetByID")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	return r.load(ctx, selectAccount+` WHERE a.id = $1`, accountID, accountID)
}

// GetByOwnerIdentity loads the account owned by the holder of nationalID.
func (r *AccountRepository) GetByOwnerIdentity(ctx context.Context, nationalID domain.NationalID) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "AccountRepository.GetByOwnerIdentity")
	defer span.End()

	return r.load(ctx, selectAccount+` WHERE c.national_id = $1`, nationalID.Masked(), nationalID.Digits())
}

func (r *AccountRepository) load(ctx context.Context, query, label string, arg any) (*domain.Account, error) {
	var (
		row  accountRow
		cust customerRow
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&row.ID, &row.BalanceMinor, &row.DailyLimitMinor, &row.MaxPerDay,
		&row.DailyDate, &row.DailyAmountMinor, &row.DailyCount, &row.Version, &row.CreatedAt,
		&cust.ID, &cust.Name, &cust.Email, &cust.NationalID, &cust.PasswordHash, &cust.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "account", ID: label}
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}

	owner, err := cust.toCustomer()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT kind, amount_minor, balance_after_minor, counterparty, occurred_at
		FROM account_transactions
		WHERE account_id = $1
		ORDER BY seq`,
		row.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	history, err := pgx.CollectRows(rows, func(rw pgx.CollectableRow) (domain.TransactionRecord, error) {
		var rec recordRow
		if err := rw.Scan(&rec.Kind, &rec.AmountMinor, &rec.BalanceAfterMinor, &rec.Counterparty, &rec.OccurredAt); err != nil {
			return domain.TransactionRecord{}, err
		}
		return rec.toRecord()
	})
	if err != nil {
		return nil, fmt.Errorf("reading history of %s: %w", row.ID, err)
	}

	return domain.RestoreAccount(row.toSnapshot(owner, history))
}

// Save writes every account in one database transaction. New accounts
// (version 0) are inserted; existing ones are updated only if the stored
// version still matches, and their new history records are appended.
func (r *AccountRepository) Save(ctx context.Context, accounts ...*domain.Account) (err error) {
	ctx, span := tracer.Start(ctx, "AccountRepository.Save")
	defer span.End()

	if len(accounts) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		if a == nil {
			return &domain.ErrValidation{Field: "account", Message: "nil account"}
		}
		if _, dup := seen[a.ID()]; dup {
			return &domain.ErrValidation{Field: "account", Message: "account " + a.ID() + " passed twice"}
		}
		seen[a.ID()] = struct{}{}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, a := range writeOrder(accounts) {
		if a.Version() == 0 {
			err = insertAccount(ctx, tx, a)
		} else {
			err = updateAccount(ctx, tx, a)
		}
		if err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	for _, a := range accounts {
		a.SetVersion(a.Version() + 1)
	}
	return nil
}

// writeOrder returns accounts sorted by id, the same order in which account
// locks are taken, so concurrent transactions touching the same rows
// acquire their row locks in one global order.
func writeOrder(accounts []*domain.Account) []*domain.Account {
	ordered := slices.Clone(accounts)
	slices.SortFunc(ordered, func(a, b *domain.Account) int {
		return strings.Compare(a.ID(), b.ID())
	})
	return ordered
}

func insertAccount(ctx context.Context, tx pgx.Tx, a *domain.Account) error {
	s := a.Snapshot()
	if s.Owner == nil {
		return &domain.ErrValidation{Field: "owner", Message: "account has no owner"}
	}
	row := newAccountRow(s)

	_, err := tx.Exec(ctx, `
		INSERT INTO accounts (id, customer_id, balance_minor, daily_limit_minor, max_withdrawals_per_day,
		                      daily_date, daily_amount_minor, daily_count, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		row.ID, s.Owner.ID(), row.BalanceMinor, row.DailyLimitMinor, row.MaxPerDay,
		row.DailyDate, row.DailyAmountMinor, row.DailyCount, s.Version+1, row.CreatedAt,
	)
	switch {
	case uniqueViolationOn(err, constraintAccountCustomer):
		return &domain.ErrDuplicateIdentity{Identity: s.Owner.NationalID().Masked()}
	case uniqueViolationOn(err, constraintAccountPK):
		return &domain.ErrConcurrentModification{AccountID: s.ID, Expected: 0}
	case err != nil:
		return fmt.Errorf("inserting account %s: %w", s.ID, err)
	}

	return appendHistory(ctx, tx, s.ID, s.History, 0)
}

func updateAccount(ctx context.Context, tx pgx.Tx, a *domain.Account) error {
	s := a.Snapshot()
	row := newAccountRow(s)

	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance_minor = $3, daily_date = $4, daily_amount_minor = $5, daily_count = $6, version = $2 + 1
		WHERE id = $1 AND version = $2`,
		row.ID, s.Version, row.BalanceMinor, row.DailyDate, row.DailyAmountMinor, row.DailyCount,
	)
	if err != nil {
		return fmt.Errorf("updating account %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
			return fmt.Errorf("checking account %s: %w", s.ID, err)
		}
		if !exists {
			return &domain.ErrNotFound{Resource: "account", ID: s.ID}
		}
		return &domain.ErrConcurrentModification{AccountID: s.ID, Expected: s.Version}
	}

	// The row is locked by the UPDATE above, so the persisted length is stable.
	var persisted int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM account_transactions WHERE account_id = $1`, s.ID,
	).Scan(&persisted); err != nil {
		return fmt.Errorf("reading history length of %s: %w", s.ID, err)
	}
	if persisted > len(s.History) {
		return &domain.ErrConcurrentModification{AccountID: s.ID, Expected: s.Version}
	}

	return appendHistory(ctx, tx, s.ID, s.History, persisted)
}

// appendHistory copies history[from:] with sequence numbers from+1 onwards.
func appendHistory(ctx context.Context, tx pgx.Tx, accountID string, history []domain.TransactionRecord, from int) error {
	if from >= len(history) {
		return nil
	}
	rows := historyRows(accountID, history, from)

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"account_transactions"},
		[]string{"account_id", "seq", "kind", "amount_minor", "balance_after_minor", "counterparty", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("appending history of %s: %w", accountID, err)
	}
	return nil
}

func historyRows(accountID string, history []domain.TransactionRecord, from int) [][]any {
	rows := make([][]any, 0, len(history)-from)
	for i := from; i < len(history); i++ {
		rec := history[i]
		var counterparty *string
		if rec.Counterparty != "" {
			cp := rec.Counterparty
			counterparty = &cp
		}
		rows = append(rows, []any{
			accountID,
			int32(i + 1),
			string(rec.Kind),
			rec.Amount.MinorUnits(),
			rec.BalanceAfter.MinorUnits(),
			counterparty,
			rec.OccurredAt,
		})
	}
	return rows
}

type accountRow struct {
	ID               string
	BalanceMinor     int64
	DailyLimitMinor  int64
	MaxPerDay        int32
	DailyDate        *time.Time
	DailyAmountMinor int64
	DailyCount       int32
	Version          int64
	CreatedAt        time.Time
}

func newAccountRow(s domain.AccountSnapshot) accountRow {
	row := accountRow{
		ID:               s.ID,
		BalanceMinor:     s.Balance.MinorUnits(),
		DailyLimitMinor:  s.Policy.DailyLimit.MinorUnits(),
		MaxPerDay:        int32(s.Policy.MaxPerDay),
		DailyAmountMinor: s.Daily.Amount.MinorUnits(),
		DailyCount:       int32(s.Daily.Count),
		Version:          s.Version,
		CreatedAt:        s.CreatedAt,
	}
	if !s.Daily.Date.IsZero() {
		d := s.Daily.Date
		row.DailyDate = &d
	}
	return row
}

func (r accountRow) toSnapshot(owner *domain.Customer, history []domain.TransactionRecord) domain.AccountSnapshot {
	s := domain.AccountSnapshot{
		ID:      r.ID,
		Owner:   owner,
		Balance: domain.NewMoneyFromMinor(r.BalanceMinor),
		History: history,
		Policy: domain.WithdrawalPolicy{
			DailyLimit: domain.NewMoneyFromMinor(r.DailyLimitMinor),
			MaxPerDay:  int(r.MaxPerDay),
		},
		Daily: domain.DailyWithdrawals{
			Amount: domain.NewMoneyFromMinor(r.DailyAmountMinor),
			Count:  int(r.DailyCount),
		},
		Version:   r.Version,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.DailyDate != nil {
		y, m, d := r.DailyDate.Date()
		s.Daily.Date = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return s
}

type recordRow struct {
	Kind              string
	AmountMinor       int64
	BalanceAfterMinor int64
	Counterparty      *string
	OccurredAt        time.Time
}

func (r recordRow) toRecord() (domain.TransactionRecord, error) {
	kind := domain.TransactionKind(r.Kind)
	if !kind.Valid() {
		return domain.TransactionRecord{}, fmt.Errorf("unknown transaction kind %q", r.Kind)
	}
	rec := domain.TransactionRecord{
		Kind:         kind,
		Amount:       domain.NewMoneyFromMinor(r.AmountMinor),
		OccurredAt:   r.OccurredAt.UTC(),
		BalanceAfter: domain.NewMoneyFromMinor(r.BalanceAfterMinor),
	}
	if r.Counterparty != nil {
		rec.Counterparty = *r.Counterparty
	}
	return rec, nil
}
