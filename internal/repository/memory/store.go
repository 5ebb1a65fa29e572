// Package memory is an in-process ledger store. One RWMutex is the commit
// unit, so readers never observe half of a transfer.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/personal-ledger/internal/audit"
	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/ledger"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/google/uuid"
)

var _ ledger.Store = (*Store)(nil)

type Store struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*accountState
	byUser   map[uuid.UUID]uuid.UUID
	numbers  map[string]uuid.UUID
	events   []audit.Event
	now      func() time.Time
}

type accountState struct {
	account models.Account
	txs     []models.Transaction // ascending Seq
	lastAt  time.Time
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]*accountState),
		byUser:   make(map[uuid.UUID]uuid.UUID),
		numbers:  make(map[string]uuid.UUID),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used to stamp records.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// CreateAccount inserts acc. The balance is always opened at zero; funds
// arrive through deposits.
func (s *Store) CreateAccount(ctx context.Context, acc *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.ID]; ok {
		return fmt.Errorf("account %s already exists", acc.ID)
	}
	if _, ok := s.byUser[acc.UserID]; ok {
		return domain.ErrAccountExists
	}
	if _, ok := s.numbers[acc.AccountNumber]; ok {
		return domain.ErrAccountNumberTaken
	}

	acc.Balance = domain.Zero
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = s.now()
	}
	ev, err := audit.AccountOpened(*acc)
	if err != nil {
		return err
	}

	s.accounts[acc.ID] = &accountState{account: *acc}
	s.byUser[acc.UserID] = acc.ID
	s.numbers[acc.AccountNumber] = acc.ID
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	acc := st.account
	return &acc, nil
}

func (s *Store) GetAccountByUserID(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	s.mu.RLock()
	id, ok := s.byUser[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.GetAccount(ctx, id)
}

func (s *Store) ReadBalance(ctx context.Context, id uuid.UUID) (domain.Money, error) {
	acc, err := s.GetAccount(ctx, id)
	if err != nil {
		return domain.Zero, err
	}
	return acc.Balance, nil
}

func (s *Store) AtomicUpdateBalance(ctx context.Context, id uuid.UUID, fn ledger.BalanceFunc, rec *models.Transaction) (domain.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.accounts[id]
	if !ok {
		return domain.Zero, domain.ErrNotFound
	}
	next, err := ledger.ApplyBalance(fn, st.account.Balance)
	if err != nil {
		return st.account.Balance, err
	}

	s.stamp(st, rec, next)
	ev, err := audit.Posted(*rec)
	if err != nil {
		return st.account.Balance, err
	}

	st.account.Balance = next
	st.txs = append(st.txs, *rec)
	s.events = append(s.events, ev)
	return next, nil
}

func (s *Store) AtomicTransfer(ctx context.Context, c ledger.TransferCommit) (domain.Money, domain.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.accounts[c.FromID]
	if !ok {
		return domain.Zero, domain.Zero, domain.ErrNotFound
	}
	to, ok := s.accounts[c.ToID]
	if !ok {
		return domain.Zero, domain.Zero, domain.ErrNotFound
	}

	fromNext, err := ledger.ApplyBalance(c.Debit, from.account.Balance)
	if err != nil {
		return from.account.Balance, to.account.Balance, err
	}
	toNext, err := ledger.ApplyBalance(c.Credit, to.account.Balance)
	if err != nil {
		return from.account.Balance, to.account.Balance, err
	}

	s.stamp(from, c.Out, fromNext)
	s.stamp(to, c.In, toNext)
	ev, err := audit.TransferPosted(*c.Out, *c.In)
	if err != nil {
		return from.account.Balance, to.account.Balance, err
	}

	from.account.Balance = fromNext
	to.account.Balance = toNext
	from.txs = append(from.txs, *c.Out)
	to.txs = append(to.txs, *c.In)
	s.events = append(s.events, ev)
	return fromNext, toNext, nil
}

// stamp assigns the next per-account sequence and a creation time that never
// goes backwards for the account. Callers hold s.mu.
func (s *Store) stamp(st *accountState, rec *models.Transaction, balanceAfter domain.Money) {
	at := s.now()
	if at.Before(st.lastAt) {
		at = st.lastAt
	}
	st.lastAt = at
	rec.Seq = int64(len(st.txs)) + 1
	rec.CreatedAt = at
	rec.BalanceAfter = balanceAfter
}

func (s *Store) ListTransactions(ctx context.Context, id uuid.UUID, q models.HistoryQuery) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	out := make([]models.Transaction, 0, min(len(st.txs), max(q.Limit, 0)))
	for i := len(st.txs) - 1; i >= 0; i-- {
		tx := st.txs[i]
		if q.BeforeSeq > 0 && tx.Seq >= q.BeforeSeq {
			continue
		}
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
		out = append(out, tx)
	}
	return out, nil
}

// Totals aggregates balances and records for reconciliation.
func (s *Store) Totals(ctx context.Context) (models.LedgerTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t models.LedgerTotals
	outs := make(map[uuid.UUID]models.Transaction)
	ins := make(map[uuid.UUID][]models.Transaction)

	for _, st := range s.accounts {
		t.Accounts++
		t.BalanceSum += st.account.Balance.Amount
		if st.account.Balance.IsNegative() {
			t.NegativeBalances++
		}
		for _, tx := range st.txs {
			switch tx.Type {
			case domain.TxTypeDeposit:
				t.DepositSum += tx.Amount.Amount
			case domain.TxTypeWithdrawal:
				t.WithdrawalSum += tx.Amount.Amount
			case domain.TxTypeTransferOut:
				t.TransferOutSum += tx.Amount.Amount
				outs[tx.OperationID] = tx
			case domain.TxTypeTransferIn:
				t.TransferInSum += tx.Amount.Amount
				ins[tx.OperationID] = append(ins[tx.OperationID], tx)
			}
		}
	}

	for opID, out := range outs {
		if !paired(out, ins[opID]) {
			t.UnpairedTransfers++
		}
		delete(ins, opID)
	}
	// transfer-in records without any transfer-out
	t.UnpairedTransfers += int64(len(ins))
	return t, nil
}

func paired(out models.Transaction, ins []models.Transaction) bool {
	if len(ins) != 1 || out.CounterpartyAccountID == nil || ins[0].CounterpartyAccountID == nil {
		return false
	}
	in := ins[0]
	return in.Amount == out.Amount &&
		*out.CounterpartyAccountID == in.AccountID &&
		*in.CounterpartyAccountID == out.AccountID
}

// Events returns a copy of the audit journal in commit order.
func (s *Store) Events() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}
