package memory

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/boddenberg/retail-ledger-go/internal/domain"
)

// CustomerRepository stores customers keyed by national id.
type CustomerRepository struct {
	mu        sync.RWMutex
	customers map[string]domain.CustomerSnapshot
	cost      int
}

// NewCustomerRepository creates an empty repository hashing passwords with
// the given bcrypt cost. A cost of zero means bcrypt.DefaultCost.
func NewCustomerRepository(bcryptCost int) *CustomerRepository {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &CustomerRepository{
		customers: make(map[string]domain.CustomerSnapshot),
		cost:      bcryptCost,
	}
}

// Create registers a new customer. Hashing happens outside the lock.
func (r *CustomerRepository) Create(_ context.Context, name, email string, nationalID domain.NationalID, plainPassword string) (*domain.Customer, error) {
	c, err := domain.NewCustomer(name, email, nationalID, plainPassword, r.cost)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.customers[nationalID.Digits()]; exists {
		return nil, &domain.ErrDuplicateIdentity{Identity: nationalID.Masked()}
	}
	r.customers[nationalID.Digits()] = c.Snapshot()
	return c, nil
}

// GetByIdentity returns (nil, nil) when nobody holds nationalID.
func (r *CustomerRepository) GetByIdentity(_ context.Context, nationalID domain.NationalID) (*domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.customers[nationalID.Digits()]
	if !ok {
		return nil, nil
	}
	return domain.RestoreCustomer(snap), nil
}
