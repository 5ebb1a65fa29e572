package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ayo6706/personal-ledger/internal/api/middleware"
	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/ayo6706/personal-ledger/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Accounts is the account directory the handlers need. *service.AccountService
// implements it.
type Accounts interface {
	OpenAccount(ctx context.Context, userID uuid.UUID, holderName string) (*models.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetAccountByUser(ctx context.Context, userID uuid.UUID) (*models.Account, error)
}

type AccountHandler struct {
	accounts Accounts
}

func NewAccountHandler(accounts Accounts) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

type openAccountRequest struct {
	HolderName string `json:"holder_name" validate:"required,min=3,max=120"`
}

type accountDetails struct {
	AccountID     uuid.UUID `json:"account_id"`
	UserID        uuid.UUID `json:"user_id"`
	HolderName    string    `json:"holder_name"`
	AccountNumber string    `json:"account_number"`
	Agency        string    `json:"agency"`
	CreatedAt     time.Time `json:"created_at"`
}

func detailsOf(acc *models.Account) accountDetails {
	return accountDetails{
		AccountID:     acc.ID,
		UserID:        acc.UserID,
		HolderName:    acc.HolderName,
		AccountNumber: acc.AccountNumber,
		Agency:        acc.Agency,
		CreatedAt:     acc.CreatedAt,
	}
}

// OpenAccount handles POST /v1/accounts. It creates a new holder identity with
// a zero-balance account and returns a token for it.
func (h *AccountHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	acc, err := h.accounts.OpenAccount(r.Context(), uuid.New(), req.HolderName)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidHolderName):
			RespondError(w, r, http.StatusBadRequest, "account/invalid-holder-name", err.Error())
		case errors.Is(err, domain.ErrAccountExists):
			RespondError(w, r, http.StatusConflict, "account/already-exists", err.Error())
		case errors.Is(err, domain.ErrAccountNumberTaken):
			w.Header().Set("Retry-After", retryAfter)
			RespondError(w, r, http.StatusServiceUnavailable, "account/number-unavailable", "no free account number, retry later")
		default:
			zap.L().Error("open account failed", zap.Error(err))
			RespondError(w, r, http.StatusInternalServerError, "account/create-failed", "Failed to open account")
		}
		return
	}

	token, expires, err := middleware.IssueToken(acc.UserID, time.Now())
	if err != nil {
		zap.L().Error("issue token failed", zap.Error(err), zap.String("account_id", acc.ID.String()))
		RespondError(w, r, http.StatusInternalServerError, "auth/token-failed", "Failed to sign token")
		return
	}

	RespondJSON(w, http.StatusCreated, map[string]interface{}{
		"status":     statusOK,
		"account":    detailsOf(acc),
		"balance":    acc.Balance,
		"token":      token,
		"expires_at": expires,
	})
}

// Details handles GET /v1/account/details.
func (h *AccountHandler) Details(w http.ResponseWriter, r *http.Request) {
	acc, ok := holderAccount(w, r, h.accounts)
	if !ok {
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  statusOK,
		"account": detailsOf(acc),
	})
}

// Balance handles GET /v1/account/balance.
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	acc, ok := holderAccount(w, r, h.accounts)
	if !ok {
		return
	}
	RespondJSON(w, http.StatusOK, balanceResponse{
		Status:    statusOK,
		AccountID: acc.ID,
		Balance:   acc.Balance,
	})
}

// holderAccount resolves the authenticated user's account, writing the error
// response itself when it cannot.
func holderAccount(w http.ResponseWriter, r *http.Request, accounts Accounts) (*models.Account, bool) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return nil, false
	}
	acc, err := accounts.GetAccountByUser(r.Context(), actorID)
	if err != nil {
		writeLedgerError(w, r, "resolve account", err)
		return nil, false
	}
	return acc, true
}
