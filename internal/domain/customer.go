package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ============================================================
// Customer
// ============================================================

const (
	// MinPasswordLength is the minimum accepted password length.
	MinPasswordLength = 6

	// bcrypt ignores everything past 72 bytes; longer inputs are truncated
	// before hashing and verifying.
	maxBcryptBytes = 72
)

// Customer is an account holder. It is immutable once constructed and the
// password is only ever kept as a bcrypt hash.
type Customer struct {
	id           string
	name         string
	email        string
	nationalID   NationalID
	passwordHash string
	createdAt    time.Time
}

// NewCustomer validates the password policy, hashes the password and assigns
// a fresh id. cost is the bcrypt cost factor.
func NewCustomer(name, email string, nationalID NationalID, plainPassword string, cost int) (*Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ErrValidation{Field: "name", Message: "name is required"}
	}
	if nationalID.IsZero() {
		return nil, &ErrInvalidIdentity{Reason: "national id is required"}
	}
	if len([]rune(plainPassword)) < MinPasswordLength {
		return nil, &ErrInvalidCredential{Reason: "password must have at least 6 characters"}
	}

	hash, err := bcrypt.GenerateFromPassword(truncatePassword(plainPassword), cost)
	if err != nil {
		return nil, &ErrInvalidCredential{Reason: err.Error()}
	}

	return &Customer{
		id:           uuid.NewString(),
		name:         name,
		email:        strings.TrimSpace(email),
		nationalID:   nationalID,
		passwordHash: string(hash),
		createdAt:    time.Now().UTC(),
	}, nil
}

// CustomerSnapshot carries the persisted state of a Customer.
type CustomerSnapshot struct {
	ID           string
	Name         string
	Email        string
	NationalID   NationalID
	PasswordHash string
	CreatedAt    time.Time
}

// RestoreCustomer rebuilds a Customer from persisted state.
func RestoreCustomer(s CustomerSnapshot) *Customer {
	return &Customer{
		id:           s.ID,
		name:         s.Name,
		email:        s.Email,
		nationalID:   s.NationalID,
		passwordHash: s.PasswordHash,
		createdAt:    s.CreatedAt,
	}
}

// Snapshot returns the persistable state of c.
func (c *Customer) Snapshot() CustomerSnapshot {
	return CustomerSnapshot{
		ID:           c.id,
		Name:         c.name,
		Email:        c.email,
		NationalID:   c.nationalID,
		PasswordHash: c.passwordHash,
		CreatedAt:    c.createdAt,
	}
}

func (c *Customer) ID() string             { return c.id }
func (c *Customer) Name() string           { return c.name }
func (c *Customer) Email() string          { return c.email }
func (c *Customer) NationalID() NationalID { return c.nationalID }
func (c *Customer) CreatedAt() time.Time   { return c.createdAt }

// VerifyPassword compares candidate with the stored hash. It returns false
// when no credential is set.
func (c *Customer) VerifyPassword(candidate string) bool {
	if c == nil || c.passwordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.passwordHash), truncatePassword(candidate)) == nil
}

func truncatePassword(plain string) []byte {
	b := []byte(plain)
	if len(b) > maxBcryptBytes {
		b = b[:maxBcryptBytes]
	}
	return b
}
