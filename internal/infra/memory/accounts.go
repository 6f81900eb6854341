// Package memory provides in-process implementations of the ledger ports.
// They back local runs and tests; state is lost when the process exits.
package memory

import (
	"context"
	"sync"

	"github.com/boddenberg/retail-ledger-go/internal/domain"
)

// AccountRepository keeps account snapshots in a map. Aggregates handed out
// by GetByID are fresh copies, so callers never share mutable state.
type AccountRepository struct {
	mu         sync.RWMutex
	accounts   map[string]domain.AccountSnapshot
	byIdentity map[string]string // national id digits -> account id
}

// NewAccountRepository creates an empty repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts:   make(map[string]domain.AccountSnapshot),
		byIdentity: make(map[string]string),
	}
}

// GetByID returns a copy of the stored account.
func (r *AccountRepository) GetByID(_ context.Context, accountID string) (*domain.Account, error) {
	r.mu.RLock()
	snap, ok := r.accounts[accountID]
	r.mu.RUnlock()

	if !ok {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	return domain.RestoreAccount(snap)
}

// GetByOwnerIdentity returns the account owned by the holder of nationalID.
func (r *AccountRepository) GetByOwnerIdentity(ctx context.Context, nationalID domain.NationalID) (*domain.Account, error) {
	r.mu.RLock()
	id, ok := r.byIdentity[nationalID.Digits()]
	r.mu.RUnlock()

	if !ok {
		return nil, &domain.ErrNotFound{Resource: "account", ID: nationalID.Masked()}
	}
	return r.GetByID(ctx, id)
}

// Save validates every account first and only then writes them all, so a
// failed call leaves the repository untouched.
func (r *AccountRepository) Save(ctx context.Context, accounts ...*domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		if a == nil {
			return &domain.ErrValidation{Field: "account", Message: "nil account"}
		}
		if _, dup := seen[a.ID()]; dup {
			return &domain.ErrValidation{Field: "account", Message: "account " + a.ID() + " passed twice"}
		}
		seen[a.ID()] = struct{}{}

		stored, exists := r.accounts[a.ID()]
		switch {
		case exists && stored.Version != a.Version():
			return &domain.ErrConcurrentModification{AccountID: a.ID(), Expected: a.Version()}
		case !exists && a.Version() != 0:
			return &domain.ErrNotFound{Resource: "account", ID: a.ID()}
		case !exists:
			if a.Owner() == nil {
				return &domain.ErrValidation{Field: "owner", Message: "account has no owner"}
			}
			if owner, taken := r.byIdentity[a.Owner().NationalID().Digits()]; taken && owner != a.ID() {
				return &domain.ErrDuplicateIdentity{Identity: a.Owner().NationalID().Masked()}
			}
		}
	}

	for _, a := range accounts {
		a.SetVersion(a.Version() + 1)
		r.accounts[a.ID()] = a.Snapshot()
		if a.Owner() != nil {
			r.byIdentity[a.Owner().NationalID().Digits()] = a.ID()
		}
	}
	return nil
}

// Len reports how many accounts are stored.
func (r *AccountRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}
