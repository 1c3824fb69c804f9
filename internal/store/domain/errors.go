package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by conditional operations targeting an
	// absent record. Plain Get reports absence as a nil record instead.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when PutIfAbsent hits an existing key.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrVersionConflict is returned when a guarded write observes a
	// version other than the expected one.
	ErrVersionConflict = errors.New("version conflict")

	// ErrStoreUnavailable wraps transient backend failures. Callers of
	// TransactWrite must treat the outcome as unknown and re-read.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// TransactionConflictError reports an aborted multi-item transaction,
// naming the operation that failed its condition.
type TransactionConflictError struct {
	FailedIndex int
	Key         Key
	Reason      error
}

func (e *TransactionConflictError) Error() string {
	return fmt.Sprintf("transaction conflict at op %d (%s): %v", e.FailedIndex, e.Key, e.Reason)
}

func (e *TransactionConflictError) Unwrap() error { return e.Reason }

// IsConflict reports whether err aborted a transaction on a condition
// failure rather than a backend fault.
func IsConflict(err error) bool {
	var tce *TransactionConflictError
	return errors.As(err, &tce)
}
