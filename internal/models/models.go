package models

import (
	"time"

	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/google/uuid"
)

type Account struct {
	ID            uuid.UUID    `json:"id"`
	UserID        uuid.UUID    `json:"user_id"`
	HolderName    string       `json:"holder_name"`
	AccountNumber string       `json:"account_number"`
	Agency        string       `json:"agency"`
	Balance       domain.Money `json:"balance"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Transaction is an immutable ledger record owned by AccountID.
type Transaction struct {
	ID                    uuid.UUID    `json:"id"`
	OperationID           uuid.UUID    `json:"operation_id"`
	AccountID             uuid.UUID    `json:"account_id"`
	Type                  string       `json:"type"` // deposit, withdrawal, transfer-out, transfer-in
	Amount                domain.Money `json:"amount"`
	CounterpartyAccountID *uuid.UUID   `json:"counterparty_account_id,omitempty"`
	BalanceAfter          domain.Money `json:"balance_after"`
	Seq                   int64        `json:"seq"`
	Description           string       `json:"description"`
	CreatedAt             time.Time    `json:"created_at"`
}

// HistoryQuery pages through an account's history newest first.
// BeforeSeq == 0 starts at the newest record.
type HistoryQuery struct {
	Limit     int
	BeforeSeq int64
}

type HistoryPage struct {
	Items         []Transaction `json:"items"`
	NextBeforeSeq *int64        `json:"next_before_seq,omitempty"`
}

// LedgerTotals is the aggregate view the reconciliation job checks.
type LedgerTotals struct {
	Accounts          int64
	BalanceSum        int64
	DepositSum        int64
	WithdrawalSum     int64
	TransferOutSum    int64
	TransferInSum     int64
	UnpairedTransfers int64
	NegativeBalances  int64
}
