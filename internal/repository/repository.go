package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/personal-ledger/internal/audit"
	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateAccount inserts acc with a zero balance and journals the opening in
// the same transaction.
func (s *Store) CreateAccount(ctx context.Context, acc *models.Account) error {
	err := s.RunInTx(ctx, func(q *Queries) error {
		createdAt, err := q.CreateAccount(ctx, CreateAccountParams{
			ID:            acc.ID,
			UserID:        acc.UserID,
			HolderName:    acc.HolderName,
			AccountNumber: acc.AccountNumber,
			Agency:        acc.Agency,
		})
		if err != nil {
			return err
		}
		acc.CreatedAt = createdAt
		acc.Balance = domain.Zero

		ev, err := audit.AccountOpened(*acc)
		if err != nil {
			return err
		}
		return insertEvent(ctx, q, ev)
	})
	if err != nil {
		if mapped := mapPgError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	row, err := s.queries.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return toAccount(row), nil
}

func (s *Store) GetAccountByUserID(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	row, err := s.queries.GetAccountByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account by user: %w", err)
	}
	return toAccount(row), nil
}

func (s *Store) ReadBalance(ctx context.Context, id uuid.UUID) (domain.Money, error) {
	balance, err := s.queries.GetAccountBalance(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Zero, domain.ErrNotFound
		}
		return domain.Zero, fmt.Errorf("failed to read balance: %w", err)
	}
	return domain.NewMoney(balance), nil
}

func (s *Store) ListTransactions(ctx context.Context, id uuid.UUID, q models.HistoryQuery) ([]models.Transaction, error) {
	limit := q.Limit
	if limit <= 0 {
		// The engine always passes a bound; this only guards direct callers.
		limit = 1000
	}
	rows, err := s.queries.ListTransactions(ctx, ListTransactionsParams{
		AccountID: id,
		BeforeSeq: max(q.BeforeSeq, 0),
		Limit:     int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	out := make([]models.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, toTransaction(r))
	}
	return out, nil
}

// Totals aggregates balances and records for reconciliation. Both queries
// run in one repeatable-read snapshot so concurrent commits cannot skew them.
func (s *Store) Totals(ctx context.Context) (models.LedgerTotals, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return models.LedgerTotals{}, fmt.Errorf("begin totals snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	q := s.queries.WithTx(tx)
	row, err := q.LedgerTotals(ctx)
	if err != nil {
		return models.LedgerTotals{}, fmt.Errorf("ledger totals: %w", err)
	}
	unpaired, err := q.CountUnpairedTransfers(ctx)
	if err != nil {
		return models.LedgerTotals{}, fmt.Errorf("count unpaired transfers: %w", err)
	}

	return models.LedgerTotals{
		Accounts:          row.Accounts,
		BalanceSum:        row.BalanceSum,
		DepositSum:        row.DepositSum,
		WithdrawalSum:     row.WithdrawalSum,
		TransferOutSum:    row.TransferOutSum,
		TransferInSum:     row.TransferInSum,
		UnpairedTransfers: unpaired,
		NegativeBalances:  row.NegativeBalances,
	}, nil
}

// Events returns the journal entries recorded against aggregateID.
func (s *Store) Events(ctx context.Context, aggregateID uuid.UUID) ([]audit.Event, error) {
	rows, err := s.queries.ListEvents(ctx, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	out := make([]audit.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, audit.Event{
			ID:          r.ID,
			Type:        r.EventType,
			AggregateID: r.AggregateID,
			Payload:     r.Payload,
			Canonical:   r.Canonical,
			Digest:      r.Digest,
		})
	}
	return out, nil
}
