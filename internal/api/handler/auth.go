package handler

import (
	"net/http"
	"time"

	"github.com/ayo6706/personal-ledger/internal/api/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuthHandler mints tokens for existing account holders. There is no
// credential check; identity is the holder's user id.
type AuthHandler struct {
	accounts Accounts
	now      func() time.Time
}

func NewAuthHandler(accounts Accounts) *AuthHandler {
	return &AuthHandler{accounts: accounts, now: time.Now}
}

type loginRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	uid := uuid.MustParse(req.UserID)

	acc, err := h.accounts.GetAccountByUser(r.Context(), uid)
	if err != nil {
		writeLedgerError(w, r, "login", err)
		return
	}

	token, expires, err := middleware.IssueToken(acc.UserID, h.now())
	if err != nil {
		zap.L().Error("issue token failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "auth/token-failed", "Failed to sign token")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expires,
		"account_id": acc.ID,
	})
}
