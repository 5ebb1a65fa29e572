package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/ayo6706/personal-ledger/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultLockTimeout = 5 * time.Second

const (
	OpDeposit  = "deposit"
	OpWithdraw = "withdraw"
	OpTransfer = "transfer"
)

// Processor validates ledger operations and commits them under the account
// guards. It is the only writer of balances.
type Processor struct {
	store       Store
	guard       Guard
	lockTimeout time.Duration
	logger      *zap.Logger
	newID       func() uuid.UUID
}

type Option func(*Processor)

// WithLockTimeout bounds guard acquisition. Non-positive values are ignored.
func WithLockTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.lockTimeout = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(p *Processor) {
		if fn != nil {
			p.newID = fn
		}
	}
}

func NewProcessor(store Store, guard Guard, opts ...Option) *Processor {
	p := &Processor{
		store:       store,
		guard:       guard,
		lockTimeout: DefaultLockTimeout,
		logger:      zap.NewNop(),
		newID:       uuid.New,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Deposit credits amount to accountID and records a deposit.
func (p *Processor) Deposit(ctx context.Context, accountID uuid.UUID, amount domain.Money) (domain.Money, error) {
	balance, err := p.single(ctx, OpDeposit, accountID, amount, domain.TxTypeDeposit, Credit(amount))
	return balance, p.finish(OpDeposit, accountID, err)
}

// Withdraw debits amount from accountID. The funds check runs inside the
// store's atomic update.
func (p *Processor) Withdraw(ctx context.Context, accountID uuid.UUID, amount domain.Money) (domain.Money, error) {
	balance, err := p.single(ctx, OpWithdraw, accountID, amount, domain.TxTypeWithdrawal, Debit(amount))
	return balance, p.finish(OpWithdraw, accountID, err)
}

func (p *Processor) single(ctx context.Context, op string, accountID uuid.UUID, amount domain.Money, txType string, fn BalanceFunc) (domain.Money, error) {
	if !amount.IsPositive() {
		return domain.Zero, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	if _, err := p.account(ctx, accountID); err != nil {
		return domain.Zero, err
	}

	release, err := p.acquire(ctx, accountID)
	if err != nil {
		return domain.Zero, err
	}
	defer release()

	opID := p.newID()
	rec := &models.Transaction{
		ID:          opID,
		OperationID: opID,
		AccountID:   accountID,
		Type:        txType,
		Amount:      amount,
		Description: domain.Description(txType),
	}

	// Guards are held: the commit must run to completion even if the caller
	// goes away.
	balance, err := p.store.AtomicUpdateBalance(context.WithoutCancel(ctx), accountID, fn, rec)
	if err != nil {
		return domain.Zero, p.commitError(op, err)
	}
	return balance, nil
}

// Transfer moves amount from fromID to toID and records the transfer-out /
// transfer-in pair under one operation id. Both sides commit or neither does.
func (p *Processor) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount domain.Money) (domain.Money, error) {
	balance, err := p.transfer(ctx, fromID, toID, amount)
	return balance, p.finish(OpTransfer, fromID, err)
}

func (p *Processor) transfer(ctx context.Context, fromID, toID uuid.UUID, amount domain.Money) (domain.Money, error) {
	if !amount.IsPositive() {
		return domain.Zero, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	if fromID == toID {
		return domain.Zero, fmt.Errorf("%w: cannot transfer to the same account", domain.ErrInvalidDestination)
	}
	if _, err := p.account(ctx, fromID); err != nil {
		return domain.Zero, err
	}
	if _, err := p.account(ctx, toID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Zero, fmt.Errorf("%w: %s", domain.ErrInvalidDestination, toID)
		}
		return domain.Zero, err
	}

	release, err := p.acquire(ctx, fromID, toID)
	if err != nil {
		return domain.Zero, err
	}
	defer release()

	opID := p.newID()
	from, to := fromID, toID
	commit := TransferCommit{
		FromID: fromID,
		ToID:   toID,
		Debit:  Debit(amount),
		Credit: Credit(amount),
		Out: &models.Transaction{
			ID:                    p.newID(),
			OperationID:           opID,
			AccountID:             fromID,
			Type:                  domain.TxTypeTransferOut,
			Amount:                amount,
			CounterpartyAccountID: &to,
			Description:           domain.Description(domain.TxTypeTransferOut),
		},
		In: &models.Transaction{
			ID:                    p.newID(),
			OperationID:           opID,
			AccountID:             toID,
			Type:                  domain.TxTypeTransferIn,
			Amount:                amount,
			CounterpartyAccountID: &from,
			Description:           domain.Description(domain.TxTypeTransferIn),
		},
	}

	fromBalance, _, err := p.store.AtomicTransfer(context.WithoutCancel(ctx), commit)
	if err != nil {
		return domain.Zero, p.commitError(OpTransfer, err)
	}
	return fromBalance, nil
}

func (p *Processor) account(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	acc, err := p.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, domain.StoreFailure("get account", err)
	}
	return acc, nil
}

func (p *Processor) acquire(ctx context.Context, ids ...uuid.UUID) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.lockTimeout)
	defer cancel()

	start := time.Now()
	release, err := p.guard.Acquire(waitCtx, ids...)
	if err != nil {
		observability.ObserveGuardWait("failed", time.Since(start))
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrBusy) {
			err = fmt.Errorf("%w: %w", domain.ErrBusy, err)
		}
		return nil, err
	}
	observability.ObserveGuardWait("acquired", time.Since(start))
	return release, nil
}

// commitError keeps business outcomes as they are and marks everything else
// as a store failure.
func (p *Processor) commitError(op string, err error) error {
	if errors.Is(err, domain.ErrInsufficientFunds) ||
		errors.Is(err, domain.ErrInvalidAmount) ||
		errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return domain.StoreFailure("commit "+op, err)
}

func (p *Processor) finish(op string, accountID uuid.UUID, err error) error {
	switch {
	case err == nil:
		observability.IncrementLedgerOperation(op, "ok")
	case errors.Is(err, context.Canceled):
		observability.IncrementLedgerOperation(op, "canceled")
	case domain.IsBusinessError(err):
		observability.IncrementLedgerOperation(op, outcome(err))
		p.logger.Debug("ledger operation rejected",
			zap.String("operation", op),
			zap.String("account_id", accountID.String()),
			zap.Error(err),
		)
	default:
		observability.IncrementLedgerOperation(op, "store_failure")
		p.logger.Error("ledger operation failed",
			zap.String("operation", op),
			zap.String("account_id", accountID.String()),
			zap.Error(err),
		)
	}
	return err
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrInvalidDestination):
		return "invalid_destination"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrBusy):
		return "busy"
	default:
		return "error"
	}
}
