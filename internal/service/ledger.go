// Package service provides the business logic layer (use cases).
// LedgerService opens accounts and moves money between them; AuthService
// issues and validates access tokens.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/retail-ledger-go/internal/domain"
	"github.com/boddenberg/retail-ledger-go/internal/infra/observability"
	"github.com/boddenberg/retail-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/retail-ledger-go/internal/port"
)

var ledgerTracer = otel.Tracer("service/ledger")

// LedgerConfig holds the tunables of the ledger use cases.
type LedgerConfig struct {
	// Policy is applied to every newly opened account.
	Policy domain.WithdrawalPolicy
	// Location decides which calendar day a withdrawal counts against.
	Location *time.Location
	// Retry governs retries after optimistic concurrency conflicts.
	Retry resilience.Config
	// Clock returns the current time; time.Now when nil.
	Clock func() time.Time
}

// LedgerDeps are the ports LedgerService depends on.
type LedgerDeps struct {
	Accounts    port.AccountRepository
	Customers   port.CustomerRepository
	Locker      port.AccountLocker
	Notifier    port.Notifier
	Idempotency port.Cache[*domain.TransferResult]
}

// LedgerService orchestrates account use cases: it serializes access per
// account, loads aggregates, applies domain operations and persists the
// outcome atomically.
type LedgerService struct {
	accounts    port.AccountRepository
	customers   port.CustomerRepository
	locker      port.AccountLocker
	notifier    port.Notifier
	idempotency port.Cache[*domain.TransferResult]
	bulkhead    *resilience.Bulkhead
	cfg         LedgerConfig
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(deps LedgerDeps, cfg LedgerConfig, metrics *observability.Metrics, logger *zap.Logger) *LedgerService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &LedgerService{
		accounts:    deps.Accounts,
		customers:   deps.Customers,
		locker:      deps.Locker,
		notifier:    deps.Notifier,
		idempotency: deps.Idempotency,
		bulkhead:    resilience.NewBulkhead(cfg.Retry.MaxConcurrency),
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
	}
}

// Receipt is the outcome of a deposit or withdrawal.
type Receipt struct {
	AccountID string
	Record    domain.TransactionRecord
	Balance   domain.Money
}

// Statement is an account's history together with its current balance.
type Statement struct {
	AccountID string
	Owner     string
	Balance   domain.Money
	Records   []domain.TransactionRecord
}

// OpenAccountInput carries the data needed to open an account.
type OpenAccountInput struct {
	Name       string
	Email      string
	NationalID string
	Password   string
}

// TransferInput describes a transfer. IdempotencyKey is optional.
type TransferInput struct {
	SourceID       string
	TargetID       string
	Amount         string
	IdempotencyKey string
}

// ============================================================
// Open account (POST /v1/accounts)
// ============================================================

// OpenAccount registers the customer and opens their account. A national
// id may hold a single account.
func (s *LedgerService) OpenAccount(ctx context.Context, in OpenAccountInput) (acc *domain.Account, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.OpenAccount")
	defer span.End()
	defer s.observe("open_account", time.Now(), &err)

	nid, err := domain.NewNationalID(in.NationalID)
	if err != nil {
		return nil, err
	}

	customer, err := s.customers.GetByIdentity(ctx, nid)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if customer != nil {
		// A customer without an account is left behind by an earlier
		// attempt that failed after registration; its owner may finish it.
		_, err := s.accounts.GetByOwnerIdentity(ctx, nid)
		if err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("get account by owner: %w", err)
		}
		if err == nil || !customer.VerifyPassword(in.Password) {
			return nil, &domain.ErrDuplicateIdentity{Identity: nid.Masked()}
		}
		s.logger.Warn("resuming account opening for registered customer", zap.String("customer_id", customer.ID()))
	} else {
		customer, err = s.customers.Create(ctx, in.Name, in.Email, nid, in.Password)
		if err != nil {
			return nil, err
		}
	}

	acc, err = domain.OpenAccount(customer, s.cfg.Policy)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.Save(ctx, acc); err != nil {
		return nil, fmt.Errorf("save account: %w", err)
	}

	span.SetAttributes(attribute.String("account.id", acc.ID()))
	s.logger.Info("account opened",
		zap.String("account_id", acc.ID()),
		zap.String("customer_id", customer.ID()),
		zap.String("national_id", nid.Masked()),
	)
	s.notify(ctx, fmt.Sprintf("account %s opened for %s", shortID(acc.ID()), customer.Name()))
	return acc, nil
}

// ============================================================
// Deposit / Withdraw
// ============================================================

// Deposit credits amount to the account.
func (s *LedgerService) Deposit(ctx context.Context, accountID, amount string) (*Receipt, error) {
	return s.applySingle(ctx, "deposit", accountID, amount, (*domain.Account).Deposit)
}

// Withdraw debits amount from the account, subject to its daily limits.
func (s *LedgerService) Withdraw(ctx context.Context, accountID, amount string) (*Receipt, error) {
	return s.applySingle(ctx, "withdraw", accountID, amount, (*domain.Account).Withdraw)
}

func (s *LedgerService) applySingle(
	ctx context.Context,
	operation, accountID, rawAmount string,
	apply func(*domain.Account, domain.Money, time.Time) (domain.TransactionRecord, error),
) (receipt *Receipt, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService."+operation)
	defer span.End()
	defer s.observe(operation, time.Now(), &err)
	span.SetAttributes(attribute.String("account.id", accountID))

	amount, err := domain.ParseMoney(rawAmount)
	if err != nil {
		return nil, err
	}

	err = s.mutate(ctx, []string{accountID}, func(accounts []*domain.Account, now time.Time) error {
		rec, err := apply(accounts[0], amount, now)
		if err != nil {
			return err
		}
		receipt = &Receipt{AccountID: accountID, Record: rec, Balance: accounts[0].Balance()}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info("ledger operation applied",
		zap.String("operation", operation),
		zap.String("account_id", accountID),
		zap.String("amount", amount.String()),
		zap.String("balance", receipt.Balance.String()),
	)
	s.notify(ctx, fmt.Sprintf("%s of %s on account %s, balance %s",
		receipt.Record.Kind, amount.BRL(), shortID(accountID), receipt.Balance.BRL()))
	return receipt, nil
}

// ============================================================
// Transfer (POST /v1/accounts/{accountId}/transfers)
// ============================================================

// Transfer moves money between two accounts. Both are saved atomically or
// not at all. With an idempotency key, a repeated request returns the
// first result instead of moving money again.
func (s *LedgerService) Transfer(ctx context.Context, in TransferInput) (result *domain.TransferResult, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.Transfer")
	defer span.End()
	defer s.observe("transfer", time.Now(), &err)
	span.SetAttributes(
		attribute.String("account.source", in.SourceID),
		attribute.String("account.target", in.TargetID),
	)

	if in.SourceID == in.TargetID {
		return nil, &domain.ErrInvalidTransaction{Reason: "source and target must be different accounts"}
	}
	amount, err := domain.ParseMoney(in.Amount)
	if err != nil {
		return nil, err
	}

	cacheKey := ""
	if in.IdempotencyKey != "" && s.idempotency != nil {
		cacheKey = in.SourceID + ":" + in.IdempotencyKey
	}

	// Cached before the account locks are released.
	var onSaved func()
	if cacheKey != "" {
		onSaved = func() { s.idempotency.Set(cacheKey, result) }
	}

	err = s.mutate(ctx, []string{in.SourceID, in.TargetID}, func(accounts []*domain.Account, now time.Time) error {
		if cacheKey != "" {
			if prev, ok := s.idempotency.Get(cacheKey); ok {
				if prev.TargetID != in.TargetID || !prev.Amount.Equal(amount) {
					return &domain.ErrValidation{Field: "Idempotency-Key", Message: "key already used for a different transfer"}
				}
				result = prev
				return errReplay
			}
		}
		res, err := domain.Transfer(accounts[0], accounts[1], amount, now)
		if err != nil {
			return err
		}
		result = res
		return nil
	}, onSaved)
	if errors.Is(err, errReplay) {
		s.metrics.IncrIdempotentReplay()
		s.logger.Info("transfer replayed from idempotency key", zap.String("source_id", in.SourceID))
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("transfer completed",
		zap.String("source_id", in.SourceID),
		zap.String("target_id", in.TargetID),
		zap.String("amount", amount.String()),
	)
	s.notify(ctx, fmt.Sprintf("transfer of %s from account %s to account %s",
		amount.BRL(), shortID(in.SourceID), shortID(in.TargetID)))
	return result, nil
}

// errReplay short-circuits mutate without saving when a cached result is
// returned.
var errReplay = errors.New("idempotent replay")

// ============================================================
// Queries
// ============================================================

// GetAccount returns the account with the given id.
func (s *LedgerService) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetAccount")
	defer span.End()

	return s.accounts.GetByID(ctx, accountID)
}

// GetAccountByIdentity returns the account owned by the holder of rawID.
func (s *LedgerService) GetAccountByIdentity(ctx context.Context, rawID string) (*domain.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetAccountByIdentity")
	defer span.End()

	nid, err := domain.NewNationalID(rawID)
	if err != nil {
		return nil, err
	}
	return s.accounts.GetByOwnerIdentity(ctx, nid)
}

// Statement returns the account history in chronological order.
func (s *LedgerService) Statement(ctx context.Context, accountID string) (*Statement, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.Statement")
	defer span.End()

	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &Statement{
		AccountID: acc.ID(),
		Owner:     acc.Owner().Name(),
		Balance:   acc.Balance(),
		Records:   acc.Statement(),
	}, nil
}

// ============================================================
// Internal helpers
// ============================================================

// mutate runs fn on freshly loaded accounts while holding their locks and
// saves them afterwards. The load-apply-save cycle is retried when another
// writer saved first. onSaved, when set, runs after a successful save and
// before the locks are released.
func (s *LedgerService) mutate(ctx context.Context, ids []string, fn func([]*domain.Account, time.Time) error, onSaved func()) error {
	if err := s.bulkhead.Acquire(ctx); err != nil {
		return err
	}
	defer s.bulkhead.Release()

	waitStart := time.Now()
	unlock, err := s.locker.Lock(ctx, ids...)
	if err != nil {
		return fmt.Errorf("lock accounts: %w", err)
	}
	defer unlock()
	s.metrics.ObserveLockWait(time.Since(waitStart))

	return resilience.RetryIf(ctx, s.cfg.Retry, isConflict, func() error {
		accounts, err := s.load(ctx, ids)
		if err != nil {
			return err
		}
		if err := fn(accounts, s.now()); err != nil {
			return err
		}
		if err := s.accounts.Save(ctx, accounts...); err != nil {
			return err
		}
		if onSaved != nil {
			onSaved()
		}
		return nil
	})
}

// load fetches every id concurrently. The first id is the operation's
// subject; a missing second id (a transfer target) is an invalid
// transaction rather than a missing resource.
func (s *LedgerService) load(ctx context.Context, ids []string) ([]*domain.Account, error) {
	accounts := make([]*domain.Account, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			acc, err := s.accounts.GetByID(gctx, id)
			if err != nil {
				if i > 0 && isNotFound(err) {
					return &domain.ErrInvalidTransaction{Reason: fmt.Sprintf("target account %s does not exist", id)}
				}
				return err
			}
			accounts[i] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *LedgerService) now() time.Time {
	return s.cfg.Clock().In(s.cfg.Location)
}

// notify delivers a message; failures never affect the operation.
func (s *LedgerService) notify(ctx context.Context, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, message); err != nil {
		s.logger.Warn("notification failed", zap.Error(err))
		s.metrics.IncrNotifyFailure("ledger")
	}
}

// observe records duration and outcome of an operation.
func (s *LedgerService) observe(operation string, start time.Time, errp *error) {
	status := observability.StatusSuccess
	if err := *errp; err != nil {
		if reason, ok := RejectionReason(err); ok {
			status = observability.StatusRejected
			s.metrics.IncrRejection(reason)
		} else {
			status = observability.StatusError
			s.logger.Error("ledger operation failed", zap.String("operation", operation), zap.Error(err))
		}
	}
	s.metrics.RecordOperation(operation, status, time.Since(start))
}

// RejectionReason classifies business rule violations. It reports false
// for infrastructure failures.
func RejectionReason(err error) (string, bool) {
	var (
		invalidAmount *domain.ErrInvalidAmount
		insufficient  *domain.ErrInsufficientFunds
		limit         *domain.ErrDailyLimitExceeded
		invalidID     *domain.ErrInvalidIdentity
		invalidCred   *domain.ErrInvalidCredential
		duplicate     *domain.ErrDuplicateIdentity
		invalidTx     *domain.ErrInvalidTransaction
		notFound      *domain.ErrNotFound
		validation    *domain.ErrValidation
	)
	switch {
	case errors.As(err, &invalidAmount):
		return "invalid_amount", true
	case errors.As(err, &insufficient):
		return "insufficient_funds", true
	case errors.As(err, &limit):
		return limit.LimitType, true
	case errors.As(err, &invalidID):
		return "invalid_identity", true
	case errors.As(err, &invalidCred):
		return "invalid_credential", true
	case errors.As(err, &duplicate):
		return "duplicate_identity", true
	case errors.As(err, &invalidTx):
		return "invalid_transaction", true
	case errors.As(err, &notFound):
		return "not_found", true
	case errors.As(err, &validation):
		return "validation", true
	}
	return "", false
}

func isConflict(err error) bool {
	var conflict *domain.ErrConcurrentModification
	return errors.As(err, &conflict)
}

func isNotFound(err error) bool {
	var notFound *domain.ErrNotFound
	return errors.As(err, &notFound)
}

// shortID returns the first eight characters of an id for messages.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
