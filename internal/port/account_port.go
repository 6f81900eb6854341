package port

import (
	"context"

	"github.com/boddenberg/retail-ledger-go/internal/domain"
)

// AccountRepository loads and persists Account aggregates.
//
// GetByID and GetByOwnerIdentity return *domain.ErrNotFound when nothing
// matches. Save is atomic across all the accounts passed in one call and
// bumps each aggregate's version; it fails with
// *domain.ErrConcurrentModification when an account was saved by someone
// else after it was loaded, and with *domain.ErrDuplicateIdentity when a
// new account's owner already holds one.
type AccountRepository interface {
	GetByID(ctx context.Context, accountID string) (*domain.Account, error)
	GetByOwnerIdentity(ctx context.Context, nationalID domain.NationalID) (*domain.Account, error)
	Save(ctx context.Context, accounts ...*domain.Account) error
}

// CustomerRepository creates and looks up customers.
//
// GetByIdentity returns (nil, nil) when no customer holds the id. Create
// fails with *domain.ErrDuplicateIdentity when one already does.
type CustomerRepository interface {
	Create(ctx context.Context, name, email string, nationalID domain.NationalID, plainPassword string) (*domain.Customer, error)
	GetByIdentity(ctx context.Context, nationalID domain.NationalID) (*domain.Customer, error)
}
