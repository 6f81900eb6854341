package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/boddenberg/retail-ledger-go/internal/domain"
)

// CustomerRepository implements port.CustomerRepository.
type CustomerRepository struct {
	db   DB
	cost int
}

// NewCustomerRepository creates a repository hashing passwords with the
// given bcrypt cost (zero means bcrypt.DefaultCost).
func NewCustomerRepository(db DB, bcryptCost int) *CustomerRepository {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &CustomerRepository{db: db, cost: bcryptCost}
}

// Create inserts a new customer. The unique national_id constraint turns a
// concurrent duplicate into *domain.ErrDuplicateIdentity.
func (r *CustomerRepository) Create(ctx context.Context, name, email string, nationalID domain.NationalID, plainPassword string) (*domain.Customer, error) {
	ctx, span := tracer.Start(ctx, "CustomerRepository.Create")
	defer span.End()

	c, err := domain.NewCustomer(name, email, nationalID, plainPassword, r.cost)
	if err != nil {
		return nil, err
	}

	s := c.Snapshot()
	_, err = r.db.Exec(ctx, `
		INSERT INTO customers (id, name, email, national_id, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.Name, s.Email, s.NationalID.Digits(), s.PasswordHash, s.CreatedAt,
	)
	if err != nil {
		if uniqueViolationOn(err, constraintCustomerNationalID) {
			return nil, &domain.ErrDuplicateIdentity{Identity: nationalID.Masked()}
		}
		span.RecordError(err)
		return nil, fmt.Errorf("inserting customer: %w", err)
	}
	return c, nil
}

// GetByIdentity returns (nil, nil) when no customer holds nationalID.
func (r *CustomerRepository) GetByIdentity(ctx context.Context, nationalID domain.NationalID) (*domain.Customer, error) {
	ctx, span := tracer.Start(ctx, "CustomerRepository.GetByIdentity")
	defer span.End()

	var row customerRow
	err := r.db.QueryRow(ctx, `
		SELECT id, name, email, national_id, password_hash, created_at
		FROM customers
		WHERE national_id = $1`,
		nationalID.Digits(),
	).Scan(&row.ID, &row.Name, &row.Email, &row.NationalID, &row.PasswordHash, &row.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying customer: %w", err)
	}
	return row.toCustomer()
}

type customerRow struct {
	ID           string
	Name         string
	Email        string
	NationalID   string
	PasswordHash string
	CreatedAt    time.Time
}

func (r customerRow) toCustomer() (*domain.Customer, error) {
	nid, err := domain.NewNationalID(r.NationalID)
	if err != nil {
		return nil, fmt.Errorf("stored customer %s: %w", r.ID, err)
	}
	return domain.RestoreCustomer(domain.CustomerSnapshot{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		NationalID:   nid,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
	}), nil
}
