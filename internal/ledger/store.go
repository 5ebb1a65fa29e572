// Package ledger is the ledger engine: it mutates balances and appends
// transaction records so that money is never created or destroyed, concurrent
// operations on one account are serialised, and transfers are all-or-nothing.
package ledger

import (
	"context"

	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/google/uuid"
)

// BalanceFunc computes a new balance from the current one. Returning an error
// aborts the update with nothing persisted.
type BalanceFunc func(current domain.Money) (domain.Money, error)

// Credit returns a BalanceFunc adding amount. A sum beyond the int64 range
// fails with domain.ErrInvalidAmount.
func Credit(amount domain.Money) BalanceFunc {
	return func(current domain.Money) (domain.Money, error) {
		return domain.Add(current, amount)
	}
}

// Debit returns a BalanceFunc subtracting amount, failing with
// domain.ErrInsufficientFunds when the balance is too low.
func Debit(amount domain.Money) BalanceFunc {
	return func(current domain.Money) (domain.Money, error) {
		return domain.Subtract(current, amount)
	}
}

// TransferCommit is one transfer as the store persists it: both balance
// changes and both records in a single durable unit.
type TransferCommit struct {
	FromID uuid.UUID
	ToID   uuid.UUID
	Debit  BalanceFunc
	Credit BalanceFunc
	Out    *models.Transaction
	In     *models.Transaction
}

// Store is the transactional contract the engine requires from persistence.
//
// Implementations fill Seq, CreatedAt and BalanceAfter on the records they
// append. CreatedAt must be non-decreasing per account in Seq order, and a
// negative balance must never be persisted regardless of what fn returns.
type Store interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ReadBalance(ctx context.Context, id uuid.UUID) (domain.Money, error)

	// AtomicUpdateBalance applies fn to the current balance and appends rec in
	// the same commit.
	AtomicUpdateBalance(ctx context.Context, id uuid.UUID, fn BalanceFunc, rec *models.Transaction) (domain.Money, error)

	// AtomicTransfer applies the debit and credit and appends the record pair
	// in one commit. It returns the resulting balances of both accounts.
	AtomicTransfer(ctx context.Context, c TransferCommit) (from, to domain.Money, err error)

	// ListTransactions returns records newest first.
	ListTransactions(ctx context.Context, id uuid.UUID, q models.HistoryQuery) ([]models.Transaction, error)
}

// ApplyBalance runs fn and enforces the non-negativity invariant. Stores call
// it inside their commit unit.
func ApplyBalance(fn BalanceFunc, current domain.Money) (domain.Money, error) {
	next, err := fn(current)
	if err != nil {
		return current, err
	}
	if next.IsNegative() {
		return current, domain.ErrInsufficientFunds
	}
	return next, nil
}
