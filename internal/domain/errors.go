package domain

import "fmt"

// Error types for consistent error handling across the ledger.
// Domain errors are recoverable by the caller; the handler layer decides
// how each one is represented on the wire.

// ErrInvalidAmount indicates a non-positive or malformed monetary input.
type ErrInvalidAmount struct {
	Input  string
	Reason string
}

func (e *ErrInvalidAmount) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("invalid amount: %s", e.Reason)
	}
	return fmt.Sprintf("invalid amount %q: %s", e.Input, e.Reason)
}

// ErrInsufficientFunds indicates not enough balance for the operation.
type ErrInsufficientFunds struct {
	Available Money
	Required  Money
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: available=%s required=%s", e.Available, e.Required)
}

// Limit types reported by ErrDailyLimitExceeded.
const (
	LimitDailyAmount = "daily_amount"
	LimitDailyCount  = "daily_count"
)

// ErrDailyLimitExceeded indicates that a withdrawal would exceed either the
// cumulative daily amount or the number of withdrawals allowed per day.
type ErrDailyLimitExceeded struct {
	LimitType string
	Limit     string
	Current   string
}

func (e *ErrDailyLimitExceeded) Error() string {
	return fmt.Sprintf("daily limit exceeded [%s]: limit=%s current=%s", e.LimitType, e.Limit, e.Current)
}

// ErrInvalidIdentity indicates a malformed or checksum-failing national id.
type ErrInvalidIdentity struct {
	Reason string
}

func (e *ErrInvalidIdentity) Error() string {
	return fmt.Sprintf("invalid national id: %s", e.Reason)
}

// ErrInvalidCredential indicates a password policy violation.
type ErrInvalidCredential struct {
	Reason string
}

func (e *ErrInvalidCredential) Error() string {
	return fmt.Sprintf("invalid credential: %s", e.Reason)
}

// ErrDuplicateIdentity indicates an account or customer already exists for
// the given national id.
type ErrDuplicateIdentity struct {
	Identity string
}

func (e *ErrDuplicateIdentity) Error() string {
	return fmt.Sprintf("an account already exists for national id %s", e.Identity)
}

// ErrInvalidTransaction indicates a structurally invalid operation, such as
// a transfer to the same account or to an unknown account.
type ErrInvalidTransaction struct {
	Reason string
}

func (e *ErrInvalidTransaction) Error() string {
	return fmt.Sprintf("invalid transaction: %s", e.Reason)
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrConcurrentModification indicates that an aggregate was changed by
// someone else between load and save.
type ErrConcurrentModification struct {
	AccountID string
	Expected  int64
}

func (e *ErrConcurrentModification) Error() string {
	return fmt.Sprintf("account %s was modified concurrently (expected version %d)", e.AccountID, e.Expected)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrForbidden indicates the caller lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}
