package ledger_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/personal-ledger/internal/audit"
	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/ledger"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/ayo6706/personal-ledger/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cents(n int64) domain.Money { return domain.NewMoney(n) }

func openAccount(t *testing.T, store *memory.Store, number string) uuid.UUID {
	t.Helper()
	acc := &models.Account{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		HolderName:    "holder " + number,
		AccountNumber: number,
		Agency:        domain.DefaultAgency,
	}
	require.NoError(t, store.CreateAccount(context.Background(), acc))
	return acc.ID
}

func fund(t *testing.T, p *ledger.Processor, id uuid.UUID, amount int64) {
	t.Helper()
	if amount == 0 {
		return
	}
	_, err := p.Deposit(context.Background(), id, cents(amount))
	require.NoError(t, err)
}

func balanceOf(t *testing.T, store ledger.Store, id uuid.UUID) int64 {
	t.Helper()
	b, err := store.ReadBalance(context.Background(), id)
	require.NoError(t, err)
	return b.Amount
}

func history(t *testing.T, store ledger.Store, id uuid.UUID) []models.Transaction {
	t.Helper()
	txs, err := store.ListTransactions(context.Background(), id, models.HistoryQuery{})
	require.NoError(t, err)
	return txs
}

func newProcessor(store ledger.Store, opts ...ledger.Option) *ledger.Processor {
	return ledger.NewProcessor(store, ledger.NewLocalGuard(), opts...)
}

func TestDeposit_CreditsAndRecords(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	id := openAccount(t, store, "10000-1")
	fund(t, p, id, 10000)

	balance, err := p.Deposit(context.Background(), id, cents(5000))
	require.NoError(t, err)
	assert.Equal(t, int64(15000), balance.Amount)
	assert.Equal(t, int64(15000), balanceOf(t, store, id))

	txs := history(t, store, id)
	require.Len(t, txs, 2)
	latest := txs[0]
	assert.Equal(t, domain.TxTypeDeposit, latest.Type)
	assert.Equal(t, int64(5000), latest.Amount.Amount)
	assert.Equal(t, int64(15000), latest.BalanceAfter.Amount)
	assert.Equal(t, int64(2), latest.Seq)
	assert.Equal(t, "Deposit", latest.Description)
	assert.Nil(t, latest.CounterpartyAccountID)
}

func TestWithdraw_InsufficientFundsLeavesBalance(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	id := openAccount(t, store, "10000-1")
	fund(t, p, id, 3000)

	_, err := p.Withdraw(context.Background(), id, cents(5000))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(3000), balanceOf(t, store, id))
	assert.Len(t, history(t, store, id), 1)
}

func TestDeposit_BalanceOverflowIsInvalidAmount(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	id := openAccount(t, store, "10000-1")
	fund(t, p, id, 100)

	_, err := p.Deposit(context.Background(), id, cents(math.MaxInt64))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.NotErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.NotErrorIs(t, err, domain.ErrStoreFailure)
	assert.Equal(t, int64(100), balanceOf(t, store, id))
	assert.Len(t, history(t, store, id), 1)
}

func TestTransfer_CreditOverflowTouchesNeither(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	from := openAccount(t, store, "10000-1")
	to := openAccount(t, store, "20000-2")
	fund(t, p, from, 500)
	fund(t, p, to, math.MaxInt64-100)

	_, err := p.Transfer(context.Background(), from, to, cents(500))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, int64(500), balanceOf(t, store, from))
	assert.Equal(t, int64(math.MaxInt64-100), balanceOf(t, store, to))
}

func TestWithdraw_ExactBalanceReachesZero(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	id := openAccount(t, store, "10000-1")
	fund(t, p, id, 3000)

	balance, err := p.Withdraw(context.Background(), id, cents(3000))
	require.NoError(t, err)
	assert.True(t, balance.Amount == 0)

	txs := history(t, store, id)
	require.Len(t, txs, 2)
	assert.Equal(t, domain.TxTypeWithdrawal, txs[0].Type)
}

func TestOperations_RejectNonPositiveAmounts(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	x := openAccount(t, store, "10000-1")
	y := openAccount(t, store, "20000-2")
	ctx := context.Background()

	for _, amount := range []int64{0, -100} {
		_, err := p.Deposit(ctx, x, cents(amount))
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		_, err = p.Withdraw(ctx, x, cents(amount))
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		_, err = p.Transfer(ctx, x, y, cents(amount))
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	}
	assert.Empty(t, history(t, store, x))
	assert.Empty(t, history(t, store, y))
}

func TestOperations_UnknownAccountIsNotFound(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	ctx := context.Background()
	y := openAccount(t, store, "20000-2")

	_, err := p.Deposit(ctx, uuid.New(), cents(100))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = p.Withdraw(ctx, uuid.New(), cents(100))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = p.Transfer(ctx, uuid.New(), y, cents(100))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransfer_MovesFundsAndPairsRecords(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	x := openAccount(t, store, "10000-1")
	y := openAccount(t, store, "20000-2")
	fund(t, p, x, 10000)

	balance, err := p.Transfer(context.Background(), x, y, cents(4000))
	require.NoError(t, err)
	assert.Equal(t, int64(6000), balance.Amount)
	assert.Equal(t, int64(6000), balanceOf(t, store, x))
	assert.Equal(t, int64(4000), balanceOf(t, store, y))

	out := history(t, store, x)[0]
	in := history(t, store, y)[0]

	assert.Equal(t, domain.TxTypeTransferOut, out.Type)
	assert.Equal(t, domain.TxTypeTransferIn, in.Type)
	assert.Equal(t, int64(4000), out.Amount.Amount)
	assert.Equal(t, int64(4000), in.Amount.Amount)
	require.NotNil(t, out.CounterpartyAccountID)
	require.NotNil(t, in.CounterpartyAccountID)
	assert.Equal(t, y, *out.CounterpartyAccountID)
	assert.Equal(t, x, *in.CounterpartyAccountID)
	assert.Equal(t, out.OperationID, in.OperationID)
	assert.NotEqual(t, out.ID, in.ID)
	assert.Equal(t, int64(6000), out.BalanceAfter.Amount)
	assert.Equal(t, int64(4000), in.BalanceAfter.Amount)
}

func TestTransfer_UnknownDestinationIsInvalid(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	x := openAccount(t, store, "10000-1")
	fund(t, p, x, 10000)

	_, err := p.Transfer(context.Background(), x, uuid.New(), cents(4000))
	require.ErrorIs(t, err, domain.ErrInvalidDestination)
	assert.Equal(t, int64(10000), balanceOf(t, store, x))
	assert.Len(t, history(t, store, x), 1)
}

func TestTransfer_SameAccountIsInvalid(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	x := openAccount(t, store, "10000-1")
	fund(t, p, x, 10000)

	_, err := p.Transfer(context.Background(), x, x, cents(100))
	require.ErrorIs(t, err, domain.ErrInvalidDestination)
	assert.Equal(t, int64(10000), balanceOf(t, store, x))
}

func TestTransfer_InsufficientFundsTouchesNeither(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	x := openAccount(t, store, "10000-1")
	y := openAccount(t, store, "20000-2")
	fund(t, p, x, 1000)

	_, err := p.Transfer(context.Background(), x, y, cents(1001))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(1000), balanceOf(t, store, x))
	assert.Zero(t, balanceOf(t, store, y))
	assert.Empty(t, history(t, store, y))
}

func TestTransfer_OppositeDirectionsConcurrently(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	x := openAccount(t, store, "10000-1")
	y := openAccount(t, store, "20000-2")
	fund(t, p, x, 10000)
	fund(t, p, y, 10000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = p.Transfer(context.Background(), x, y, cents(6000))
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = p.Transfer(context.Background(), y, x, cents(6000))
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int64(10000), balanceOf(t, store, x))
	assert.Equal(t, int64(10000), balanceOf(t, store, y))
}

func TestWithdraw_ConcurrentNeverOverdraws(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	id := openAccount(t, store, "10000-1")
	fund(t, p, id, 1000)

	const workers = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Withdraw(context.Background(), id, cents(300))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	// floor(1000 / 300)
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, int64(100), balanceOf(t, store, id))
}

func TestProcessor_ConservesFundsUnderLoad(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	ids := []uuid.UUID{
		openAccount(t, store, "10000-1"),
		openAccount(t, store, "20000-2"),
		openAccount(t, store, "30000-3"),
		openAccount(t, store, "40000-4"),
	}
	for _, id := range ids {
		fund(t, p, id, 5000)
	}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := ids[i%len(ids)]
			to := ids[(i*7+1)%len(ids)]
			if from == to {
				to = ids[(i+1)%len(ids)]
			}
			_, err := p.Transfer(context.Background(), from, to, cents(int64(100+i%900)))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
			}
		}(i)
	}
	wg.Wait()

	var total int64
	for _, id := range ids {
		b := balanceOf(t, store, id)
		assert.GreaterOrEqual(t, b, int64(0))
		total += b
	}
	assert.Equal(t, int64(20000), total)

	totals, err := store.Totals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, totals.UnpairedTransfers)
	assert.Equal(t, totals.TransferOutSum, totals.TransferInSum)
	assert.Equal(t, totals.DepositSum-totals.WithdrawalSum, totals.BalanceSum)
}

func TestProcessor_SequencesAreDenseAndDescending(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	id := openAccount(t, store, "10000-1")

	for i := 0; i < 10; i++ {
		fund(t, p, id, 100)
	}
	txs := history(t, store, id)
	require.Len(t, txs, 10)
	for i, tx := range txs {
		assert.Equal(t, int64(10-i), tx.Seq)
		if i > 0 {
			assert.False(t, tx.CreatedAt.After(txs[i-1].CreatedAt))
		}
	}
}

func TestProcessor_BusyWhenGuardHeld(t *testing.T) {
	store := memory.NewStore()
	guard := ledger.NewLocalGuard()
	p := ledger.NewProcessor(store, guard, ledger.WithLockTimeout(30*time.Millisecond))
	id := openAccount(t, store, "10000-1")

	release, err := guard.Acquire(context.Background(), id)
	require.NoError(t, err)
	defer release()

	_, err = p.Deposit(context.Background(), id, cents(100))
	require.ErrorIs(t, err, domain.ErrBusy)
	assert.Zero(t, balanceOf(t, store, id))
	assert.Empty(t, history(t, store, id))
}

type failingStore struct {
	*memory.Store
	err error
}

func (f *failingStore) AtomicUpdateBalance(ctx context.Context, id uuid.UUID, fn ledger.BalanceFunc, rec *models.Transaction) (domain.Money, error) {
	return domain.Zero, f.err
}

func (f *failingStore) AtomicTransfer(ctx context.Context, c ledger.TransferCommit) (domain.Money, domain.Money, error) {
	return domain.Zero, domain.Zero, f.err
}

func TestProcessor_StoreFailureLeavesNoPartialState(t *testing.T) {
	mem := memory.NewStore()
	x := openAccount(t, mem, "10000-1")
	y := openAccount(t, mem, "20000-2")
	fund(t, newProcessor(mem), x, 10000)

	store := &failingStore{Store: mem, err: errors.New("connection reset")}
	p := newProcessor(store)

	_, err := p.Transfer(context.Background(), x, y, cents(4000))
	require.ErrorIs(t, err, domain.ErrStoreFailure)
	assert.False(t, domain.IsBusinessError(err))

	_, err = p.Deposit(context.Background(), y, cents(4000))
	require.ErrorIs(t, err, domain.ErrStoreFailure)

	assert.Equal(t, int64(10000), balanceOf(t, mem, x))
	assert.Zero(t, balanceOf(t, mem, y))
	assert.Len(t, history(t, mem, x), 1)
	assert.Empty(t, history(t, mem, y))
}

func TestProcessor_CommitSurvivesCallerCancel(t *testing.T) {
	mem := memory.NewStore()
	id := openAccount(t, mem, "10000-1")
	ctx, cancel := context.WithCancel(context.Background())

	store := &cancelOnCommit{Store: mem, cancel: cancel}
	p := newProcessor(store)

	balance, err := p.Deposit(ctx, id, cents(700))
	require.NoError(t, err)
	assert.Equal(t, int64(700), balance.Amount)
	assert.Equal(t, int64(700), balanceOf(t, mem, id))
}

// cancelOnCommit cancels the caller's context right before committing.
type cancelOnCommit struct {
	*memory.Store
	cancel context.CancelFunc
}

func (c *cancelOnCommit) AtomicUpdateBalance(ctx context.Context, id uuid.UUID, fn ledger.BalanceFunc, rec *models.Transaction) (domain.Money, error) {
	c.cancel()
	if err := ctx.Err(); err != nil {
		return domain.Zero, err
	}
	return c.Store.AtomicUpdateBalance(ctx, id, fn, rec)
}

func TestProcessor_AuditJournalFollowsCommits(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	x := openAccount(t, store, "10000-1")
	y := openAccount(t, store, "20000-2")
	fund(t, p, x, 1000)

	_, err := p.Transfer(context.Background(), x, y, cents(400))
	require.NoError(t, err)
	_, err = p.Withdraw(context.Background(), y, cents(10000))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	events := store.Events()
	// two openings, one deposit, one transfer
	require.Len(t, events, 4)
	assert.Equal(t, audit.EventTransferPosted, events[3].Type)
}
