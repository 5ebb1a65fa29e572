package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/personal-ledger/internal/audit"
	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/ledger"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgCheckViolation  = "23514"
	pgUniqueViolation = "23505"
)

var _ ledger.Store = (*Store)(nil)

// Store is the Postgres ledger store. Every mutation runs in one database
// transaction holding row locks on the accounts it touches.
type Store struct {
	db      *pgxpool.Pool
	queries *Queries
	now     func() time.Time
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:      db,
		queries: New(db),
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() *Queries {
	return s.queries
}

// Ping reports whether the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// RunInTx executes fn within a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) AtomicUpdateBalance(ctx context.Context, id uuid.UUID, fn ledger.BalanceFunc, rec *models.Transaction) (domain.Money, error) {
	var balance domain.Money
	err := s.RunInTx(ctx, func(q *Queries) error {
		acc, err := lockAccount(ctx, q, id)
		if err != nil {
			return err
		}
		next, err := ledger.ApplyBalance(fn, domain.NewMoney(acc.Balance))
		if err != nil {
			return err
		}
		if err := s.post(ctx, q, acc, rec, next); err != nil {
			return err
		}

		ev, err := audit.Posted(*rec)
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, q, ev); err != nil {
			return err
		}
		balance = next
		return nil
	})
	if err != nil {
		return domain.Zero, mapPgError(err)
	}
	return balance, nil
}

func (s *Store) AtomicTransfer(ctx context.Context, c ledger.TransferCommit) (domain.Money, domain.Money, error) {
	var fromBalance, toBalance domain.Money
	err := s.RunInTx(ctx, func(q *Queries) error {
		// Row locks follow the same order as the in-process guards.
		locked := make(map[uuid.UUID]AccountRow, 2)
		for _, id := range ledger.LockOrder(c.FromID, c.ToID) {
			acc, err := lockAccount(ctx, q, id)
			if err != nil {
				return err
			}
			locked[id] = acc
		}
		from, to := locked[c.FromID], locked[c.ToID]

		fromNext, err := ledger.ApplyBalance(c.Debit, domain.NewMoney(from.Balance))
		if err != nil {
			return err
		}
		toNext, err := ledger.ApplyBalance(c.Credit, domain.NewMoney(to.Balance))
		if err != nil {
			return err
		}

		if err := s.post(ctx, q, from, c.Out, fromNext); err != nil {
			return err
		}
		if err := s.post(ctx, q, to, c.In, toNext); err != nil {
			return err
		}

		ev, err := audit.TransferPosted(*c.Out, *c.In)
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, q, ev); err != nil {
			return err
		}
		fromBalance, toBalance = fromNext, toNext
		return nil
	})
	if err != nil {
		return domain.Zero, domain.Zero, mapPgError(err)
	}
	return fromBalance, toBalance, nil
}

// post stamps rec with the account's next sequence, appends it and moves the
// account's balance. The caller holds the account row lock.
func (s *Store) post(ctx context.Context, q *Queries, acc AccountRow, rec *models.Transaction, balanceAfter domain.Money) error {
	at := s.now()
	if acc.LastEntryAt != nil && at.Before(*acc.LastEntryAt) {
		at = *acc.LastEntryAt
	}
	rec.Seq = acc.LastSeq + 1
	rec.CreatedAt = at
	rec.BalanceAfter = balanceAfter

	if err := q.UpdateAccountPosting(ctx, UpdateAccountPostingParams{
		ID:          acc.ID,
		Balance:     balanceAfter.Amount,
		LastSeq:     rec.Seq,
		LastEntryAt: at,
	}); err != nil {
		return fmt.Errorf("update account %s: %w", acc.ID, err)
	}
	if err := q.InsertTransaction(ctx, toTransactionRow(*rec)); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func lockAccount(ctx context.Context, q *Queries, id uuid.UUID) (AccountRow, error) {
	acc, err := q.GetAccountForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountRow{}, domain.ErrNotFound
		}
		return AccountRow{}, fmt.Errorf("lock account %s: %w", id, err)
	}
	return acc, nil
}

func insertEvent(ctx context.Context, q *Queries, ev audit.Event) error {
	if err := q.InsertEvent(ctx, EventRow{
		ID:          ev.ID,
		EventType:   ev.Type,
		AggregateID: ev.AggregateID,
		Payload:     ev.Payload,
		Canonical:   ev.Canonical,
		Digest:      ev.Digest,
	}); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// mapPgError translates constraint violations into ledger errors. The balance
// check constraint is the last line of defence against overdrafts.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgCheckViolation:
		if pgErr.ConstraintName == "accounts_balance_non_negative" || pgErr.ConstraintName == "transactions_balance_after_non_negative" {
			return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, pgErr.ConstraintName)
		}
	case pgUniqueViolation:
		switch pgErr.ConstraintName {
		case "accounts_user_id_key":
			return domain.ErrAccountExists
		case "accounts_account_number_key":
			return domain.ErrAccountNumberTaken
		}
	}
	return err
}

func toTransactionRow(t models.Transaction) TransactionRow {
	return TransactionRow{
		ID:                    t.ID,
		OperationID:           t.OperationID,
		AccountID:             t.AccountID,
		Type:                  t.Type,
		Amount:                t.Amount.Amount,
		CounterpartyAccountID: t.CounterpartyAccountID,
		BalanceAfter:          t.BalanceAfter.Amount,
		Seq:                   t.Seq,
		Description:           t.Description,
		CreatedAt:             t.CreatedAt,
	}
}

func toTransaction(r TransactionRow) models.Transaction {
	return models.Transaction{
		ID:                    r.ID,
		OperationID:           r.OperationID,
		AccountID:             r.AccountID,
		Type:                  r.Type,
		Amount:                domain.NewMoney(r.Amount),
		CounterpartyAccountID: r.CounterpartyAccountID,
		BalanceAfter:          domain.NewMoney(r.BalanceAfter),
		Seq:                   r.Seq,
		Description:           r.Description,
		CreatedAt:             r.CreatedAt,
	}
}

func toAccount(r AccountRow) *models.Account {
	return &models.Account{
		ID:            r.ID,
		UserID:        r.UserID,
		HolderName:    r.HolderName,
		AccountNumber: r.AccountNumber,
		Agency:        r.Agency,
		Balance:       domain.NewMoney(r.Balance),
		CreatedAt:     r.CreatedAt,
	}
}
