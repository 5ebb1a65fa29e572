package repository

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/ayo6706/personal-ledger/internal/audit"
	"github.com/ayo6706/personal-ledger/internal/db"
	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/idempotency"
	"github.com/ayo6706/personal-ledger/internal/ledger"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/ayo6706/personal-ledger/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	_ = godotenv.Load("../../.env") // Load from root
}

// setupStore migrates and truncates the database named by DATABASE_URL.
func setupStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	release := dblock.Acquire()
	t.Cleanup(release)

	require.NoError(t, db.Migrate(dbURL, zap.NewNop()))
	pool, err := db.Connect(context.Background(), dbURL, db.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), "TRUNCATE TABLE event_log, transactions, idempotency_keys, accounts CASCADE")
	require.NoError(t, err)
	return NewStore(pool)
}

func createAccount(t *testing.T, s *Store, number string) *models.Account {
	t.Helper()
	acc := &models.Account{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		HolderName:    "holder " + number,
		AccountNumber: number,
		Agency:        domain.DefaultAgency,
	}
	require.NoError(t, s.CreateAccount(context.Background(), acc))
	return acc
}

func TestCreateAccount(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	acc := createAccount(t, s, "12345-6")
	assert.False(t, acc.CreatedAt.IsZero())

	got, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, acc.AccountNumber, got.AccountNumber)
	assert.Zero(t, got.Balance.Amount)

	byUser, err := s.GetAccountByUserID(ctx, acc.UserID)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, byUser.ID)

	dup := &models.Account{ID: uuid.New(), UserID: uuid.New(), HolderName: "x", AccountNumber: "12345-6", Agency: "0001"}
	assert.ErrorIs(t, s.CreateAccount(ctx, dup), domain.ErrAccountNumberTaken)

	dup = &models.Account{ID: uuid.New(), UserID: acc.UserID, HolderName: "x", AccountNumber: "65432-1", Agency: "0001"}
	assert.ErrorIs(t, s.CreateAccount(ctx, dup), domain.ErrAccountExists)

	_, err = s.GetAccount(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	events, err := s.Events(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventAccountOpened, events[0].Type)
	assert.NoError(t, audit.Verify(events[0]))
}

func TestPostgresLedger_TransferAndHistory(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	p := ledger.NewProcessor(s, ledger.NewLocalGuard())

	x := createAccount(t, s, "10000-1")
	y := createAccount(t, s, "20000-2")

	_, err := p.Deposit(ctx, x.ID, domain.NewMoney(10000))
	require.NoError(t, err)

	balance, err := p.Transfer(ctx, x.ID, y.ID, domain.NewMoney(4000))
	require.NoError(t, err)
	assert.Equal(t, int64(6000), balance.Amount)

	yBalance, err := s.ReadBalance(ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), yBalance.Amount)

	_, err = p.Withdraw(ctx, y.ID, domain.NewMoney(4001))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	page, err := ledger.NewHistoryReader(s).GetHistory(ctx, x.ID, models.HistoryQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	out := page.Items[0]
	assert.Equal(t, domain.TxTypeTransferOut, out.Type)
	assert.Equal(t, int64(2), out.Seq)
	require.NotNil(t, out.CounterpartyAccountID)
	assert.Equal(t, y.ID, *out.CounterpartyAccountID)
	require.NotNil(t, page.NextBeforeSeq)

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), totals.BalanceSum)
	assert.Equal(t, totals.DepositSum-totals.WithdrawalSum, totals.BalanceSum)
	assert.Zero(t, totals.UnpairedTransfers)
}

func TestPostgresLedger_ConcurrentWithdrawals(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	p := ledger.NewProcessor(s, ledger.NewLocalGuard())
	acc := createAccount(t, s, "10000-1")

	_, err := p.Deposit(ctx, acc.ID, domain.NewMoney(1000))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Withdraw(ctx, acc.ID, domain.NewMoney(300)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	balance, err := s.ReadBalance(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.Amount)
}

// Without any in-process guard the row lock and check constraint still keep
// the balance non-negative.
func TestPostgresLedger_RowLocksWithoutGuard(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	acc := createAccount(t, s, "10000-1")

	rec := func(txType string) *models.Transaction {
		id := uuid.New()
		return &models.Transaction{ID: id, OperationID: id, AccountID: acc.ID, Type: txType, Amount: domain.NewMoney(500), Description: domain.Description(txType)}
	}
	_, err := s.AtomicUpdateBalance(ctx, acc.ID, ledger.Credit(domain.NewMoney(500)), rec(domain.TxTypeDeposit))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.AtomicUpdateBalance(ctx, acc.ID, ledger.Debit(domain.NewMoney(500)), rec(domain.TxTypeWithdrawal))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	}
	assert.Equal(t, 1, ok)
}

func TestMapPgError(t *testing.T) {
	err := mapPgError(&pgconn.PgError{Code: pgCheckViolation, ConstraintName: "accounts_balance_non_negative"})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	err = mapPgError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "accounts_account_number_key"})
	assert.ErrorIs(t, err, domain.ErrAccountNumberTaken)

	other := &pgconn.PgError{Code: "40001"}
	assert.Equal(t, error(other), mapPgError(other))
}

func TestIdempotencyBackend(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	b := NewIdempotencyBackend(s.db)

	ok, err := b.Reserve(ctx, "user:key", "hash", "POST", "/v1/transactions/deposit")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Reserve(ctx, "user:key", "hash", "POST", "/v1/transactions/deposit")
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := b.Get(ctx, "user:key")
	require.NoError(t, err)
	assert.True(t, rec.InProgress)

	rec, err = b.Finalize(ctx, "user:key", "hash", 200, []byte(`{"status":"OK"}`), "application/json")
	require.NoError(t, err)
	assert.False(t, rec.InProgress)
	assert.Equal(t, 200, rec.Status)

	_, err = b.Finalize(ctx, "user:key", "other", 200, nil, "application/json")
	assert.ErrorIs(t, err, idempotency.ErrNotFound)
}
