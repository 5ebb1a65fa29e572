package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/ayo6706/personal-ledger/internal/observability"
	"go.uber.org/zap"
)

const (
	CheckConservation = "conservation"
	CheckTransferSums = "transfer_sums"
	CheckPairing      = "pairing"
	CheckNonNegative  = "non_negative"
)

type TotalsReader interface {
	Totals(ctx context.Context) (models.LedgerTotals, error)
}

type ReconciliationReport struct {
	Totals models.LedgerTotals
	Failed []string
}

func (r ReconciliationReport) Balanced() bool {
	return len(r.Failed) == 0
}

// ReconciliationService verifies ledger integrity invariants. It reports
// imbalances and never repairs them.
type ReconciliationService struct {
	store TotalsReader
}

func NewReconciliationService(store TotalsReader) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// Run checks conservation of funds, transfer pairing and non-negative
// balances over a consistent snapshot of totals.
func (s *ReconciliationService) Run(ctx context.Context) (ReconciliationReport, error) {
	t, err := s.store.Totals(ctx)
	if err != nil {
		return ReconciliationReport{}, fmt.Errorf("load ledger totals: %w", err)
	}

	report := ReconciliationReport{Totals: t}
	fail := func(check string, fields ...zap.Field) {
		report.Failed = append(report.Failed, check)
		observability.IncrementLedgerImbalance(check)
		zap.L().Error("CRITICAL: ledger imbalance detected", append([]zap.Field{zap.String("check", check)}, fields...)...)
	}

	if net := t.DepositSum - t.WithdrawalSum; net != t.BalanceSum {
		fail(CheckConservation,
			zap.Int64("balance_sum", t.BalanceSum),
			zap.Int64("deposits_minus_withdrawals", net),
		)
	}
	if t.TransferOutSum != t.TransferInSum {
		fail(CheckTransferSums,
			zap.Int64("transfer_out_sum", t.TransferOutSum),
			zap.Int64("transfer_in_sum", t.TransferInSum),
		)
	}
	if t.UnpairedTransfers != 0 {
		fail(CheckPairing, zap.Int64("unpaired_operations", t.UnpairedTransfers))
	}
	if t.NegativeBalances != 0 {
		fail(CheckNonNegative, zap.Int64("negative_accounts", t.NegativeBalances))
	}

	if report.Balanced() {
		zap.L().Info("Ledger Balanced", zap.Int64("accounts", t.Accounts), zap.Int64("balance_sum", t.BalanceSum))
	}
	return report, nil
}
