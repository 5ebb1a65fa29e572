package service

import (
	"context"
	"errors"
	"testing"

	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/ledger"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/ayo6706/personal-ledger/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTotals struct {
	totals models.LedgerTotals
	err    error
}

func (s staticTotals) Totals(context.Context) (models.LedgerTotals, error) {
	return s.totals, s.err
}

func TestReconciliationRun_BalancedLedger(t *testing.T) {
	store := memory.NewStore()
	accounts := NewAccountService(store, "")
	p := ledger.NewProcessor(store, ledger.NewLocalGuard())
	ctx := context.Background()

	a, err := accounts.OpenAccount(ctx, uuid.New(), "Holder A")
	require.NoError(t, err)
	b, err := accounts.OpenAccount(ctx, uuid.New(), "Holder B")
	require.NoError(t, err)

	_, err = p.Deposit(ctx, a.ID, domain.NewMoney(100000))
	require.NoError(t, err)
	_, err = p.Transfer(ctx, a.ID, b.ID, domain.NewMoney(25000))
	require.NoError(t, err)
	_, err = p.Withdraw(ctx, b.ID, domain.NewMoney(5000))
	require.NoError(t, err)

	report, err := NewReconciliationService(store).Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Balanced())
	assert.Equal(t, int64(95000), report.Totals.BalanceSum)
	assert.Equal(t, int64(2), report.Totals.Accounts)
}

func TestReconciliationRun_ReportsEveryFailedCheck(t *testing.T) {
	svc := NewReconciliationService(staticTotals{totals: models.LedgerTotals{
		BalanceSum:        900,
		DepositSum:        1000,
		TransferOutSum:    50,
		TransferInSum:     40,
		UnpairedTransfers: 1,
		NegativeBalances:  1,
	}})

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Balanced())
	assert.ElementsMatch(t, []string{CheckConservation, CheckTransferSums, CheckPairing, CheckNonNegative}, report.Failed)
}

func TestReconciliationRun_StoreError(t *testing.T) {
	svc := NewReconciliationService(staticTotals{err: errors.New("db down")})
	_, err := svc.Run(context.Background())
	assert.ErrorContains(t, err, "db down")
}
