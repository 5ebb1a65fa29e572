package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidDestination = errors.New("invalid destination account")
	ErrBusy               = errors.New("account busy, retry later")
	ErrNotFound           = errors.New("account not found")

	// ErrStoreFailure marks a persistence error. The outcome of the operation
	// may be unknown; it is never retried by the engine.
	ErrStoreFailure = errors.New("ledger store failure")
)

// StoreFailure wraps err so it matches both ErrStoreFailure and the cause.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreFailure) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}

// IsBusinessError reports whether err is an ordinary, reportable ledger outcome
// rather than a system fault.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidDestination) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBusy)
}

var (
	ErrAccountExists      = errors.New("user already has an account")
	ErrAccountNumberTaken = errors.New("account number already taken")
)
