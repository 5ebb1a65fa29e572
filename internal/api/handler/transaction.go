package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const statusOK = "OK"

// Ledger is the mutating side of the engine. *ledger.Processor implements it.
type Ledger interface {
	Deposit(ctx context.Context, accountID uuid.UUID, amount domain.Money) (domain.Money, error)
	Withdraw(ctx context.Context, accountID uuid.UUID, amount domain.Money) (domain.Money, error)
	Transfer(ctx context.Context, fromID, toID uuid.UUID, amount domain.Money) (domain.Money, error)
}

// History is the read side. *ledger.HistoryReader implements it.
type History interface {
	GetHistory(ctx context.Context, accountID uuid.UUID, q models.HistoryQuery) (models.HistoryPage, error)
}

type TransactionHandler struct {
	accounts Accounts
	ledger   Ledger
	history  History
}

func NewTransactionHandler(accounts Accounts, ledger Ledger, history History) *TransactionHandler {
	return &TransactionHandler{accounts: accounts, ledger: ledger, history: history}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required,gt=0"`
}

type transferRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required,gt=0"`
	// DestinationAccount is the receiving account id, or the user id of its holder.
	DestinationAccount string `json:"destination_account" validate:"required,max=64"`
}

type balanceResponse struct {
	Status    string       `json:"status"`
	AccountID uuid.UUID    `json:"account_id"`
	Balance   domain.Money `json:"balance"`
}

type historyResponse struct {
	Status        string               `json:"status"`
	AccountID     uuid.UUID            `json:"account_id"`
	Items         []models.Transaction `json:"items"`
	NextBeforeSeq *int64               `json:"next_before_seq,omitempty"`
}

// Deposit handles POST /v1/transactions/deposit.
func (h *TransactionHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, "deposit", h.ledger.Deposit)
}

// Withdraw handles POST /v1/transactions/withdraw.
func (h *TransactionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, "withdraw", h.ledger.Withdraw)
}

func (h *TransactionHandler) single(w http.ResponseWriter, r *http.Request, op string, apply func(context.Context, uuid.UUID, domain.Money) (domain.Money, error)) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := domain.MoneyFromDecimal(req.Amount)
	if err != nil {
		writeLedgerError(w, r, op, err)
		return
	}
	acc, ok := holderAccount(w, r, h.accounts)
	if !ok {
		return
	}

	balance, err := apply(r.Context(), acc.ID, amount)
	if err != nil {
		writeLedgerError(w, r, op, err)
		return
	}
	RespondJSON(w, http.StatusOK, balanceResponse{Status: statusOK, AccountID: acc.ID, Balance: balance})
}

// Transfer handles POST /v1/transactions/transfer.
func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := domain.MoneyFromDecimal(req.Amount)
	if err != nil {
		writeLedgerError(w, r, "transfer", err)
		return
	}
	acc, ok := holderAccount(w, r, h.accounts)
	if !ok {
		return
	}
	toID, err := h.resolveDestination(r.Context(), req.DestinationAccount)
	if err != nil {
		writeLedgerError(w, r, "transfer", err)
		return
	}

	balance, err := h.ledger.Transfer(r.Context(), acc.ID, toID, amount)
	if err != nil {
		writeLedgerError(w, r, "transfer", err)
		return
	}
	RespondJSON(w, http.StatusOK, balanceResponse{Status: statusOK, AccountID: acc.ID, Balance: balance})
}

// resolveDestination accepts an account id or a holder's user id. Anything
// that resolves to neither is an invalid destination.
func (h *TransactionHandler) resolveDestination(ctx context.Context, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, domain.ErrInvalidDestination
	}
	acc, err := h.accounts.GetAccount(ctx, id)
	if err == nil {
		return acc.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return uuid.Nil, domain.StoreFailure("resolve destination", err)
	}
	acc, err = h.accounts.GetAccountByUser(ctx, id)
	if err == nil {
		return acc.ID, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return uuid.Nil, domain.ErrInvalidDestination
	}
	return uuid.Nil, domain.StoreFailure("resolve destination", err)
}

// History handles GET /v1/transactions/history?limit=&before_seq=.
func (h *TransactionHandler) History(w http.ResponseWriter, r *http.Request) {
	q, ok := parseHistoryQuery(w, r)
	if !ok {
		return
	}
	acc, ok := holderAccount(w, r, h.accounts)
	if !ok {
		return
	}

	page, err := h.history.GetHistory(r.Context(), acc.ID, q)
	if err != nil {
		writeLedgerError(w, r, "history", err)
		return
	}
	RespondJSON(w, http.StatusOK, historyResponse{
		Status:        statusOK,
		AccountID:     acc.ID,
		Items:         page.Items,
		NextBeforeSeq: page.NextBeforeSeq,
	})
}

func parseHistoryQuery(w http.ResponseWriter, r *http.Request) (models.HistoryQuery, bool) {
	var q models.HistoryQuery
	values := r.URL.Query()
	if s := values.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a non-negative integer")
			return q, false
		}
		q.Limit = n
	}
	if s := values.Get("before_seq"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-cursor", "before_seq must be a non-negative integer")
			return q, false
		}
		q.BeforeSeq = n
	}
	return q, true
}
