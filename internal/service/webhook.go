package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/idempotency"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrInvalidWebhookPayload  = errors.New("invalid webhook payload")
	ErrDepositInProgress      = errors.New("deposit is still processing")
	ErrDepositPayloadMismatch = errors.New("deposit payload does not match existing reference")
)

const (
	DepositStatusCompleted = "COMPLETED"
	webhookKeyPrefix       = "webhook-deposit:"
)

// Depositor credits an account. *ledger.Processor implements it.
type Depositor interface {
	Deposit(ctx context.Context, accountID uuid.UUID, amount domain.Money) (domain.Money, error)
}

// ReferenceStore deduplicates webhook references. *idempotency.Store
// implements it.
type ReferenceStore interface {
	Lookup(ctx context.Context, key, requestHash string) (*idempotency.Record, error)
	Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error)
	Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*idempotency.Record, error)
	Release(ctx context.Context, key, requestHash string) error
}

// WebhookService handles funding notifications from an external payment rail.
type WebhookService struct {
	ledger  Depositor
	refs    ReferenceStore
	hmacKey []byte
	skipSig bool
	logger  *zap.Logger
}

func NewWebhookService(ledger Depositor, refs ReferenceStore, hmacKey string, skipSignature bool, logger *zap.Logger) *WebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{
		ledger:  ledger,
		refs:    refs,
		hmacKey: []byte(hmacKey),
		skipSig: skipSignature,
		logger:  logger,
	}
}

// DepositWebhookPayload represents the incoming deposit webhook payload.
type DepositWebhookPayload struct {
	AccountID string       `json:"account_id"`
	Amount    domain.Money `json:"amount"`
	Reference string       `json:"reference"` // Unique reference from external system
}

type DepositWebhookResponse struct {
	AccountID string       `json:"account_id"`
	Reference string       `json:"reference"`
	Balance   domain.Money `json:"balance"`
	Status    string       `json:"status"`
	Message   string       `json:"message"`
}

// HandleDepositWebhook verifies the HMAC signature and credits the account
// exactly once per external reference.
func (s *WebhookService) HandleDepositWebhook(ctx context.Context, payload []byte, signature string) (*DepositWebhookResponse, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var deposit DepositWebhookPayload
	if err := json.Unmarshal(payload, &deposit); err != nil {
		if errors.Is(err, domain.ErrInvalidAmount) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidWebhookPayload, err)
	}
	deposit.Reference = strings.TrimSpace(deposit.Reference)
	deposit.AccountID = strings.TrimSpace(deposit.AccountID)

	if deposit.Reference == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrInvalidWebhookPayload)
	}
	accountID, err := uuid.Parse(deposit.AccountID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid account_id", ErrInvalidWebhookPayload)
	}
	if !deposit.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, deposit.Amount)
	}

	key := webhookKeyPrefix + deposit.Reference
	hash := depositHash(accountID, deposit.Amount)

	rec, err := s.refs.Lookup(ctx, key, hash)
	switch {
	case err == nil:
		return replayDeposit(rec)
	case errors.Is(err, idempotency.ErrHashMismatch):
		return nil, ErrDepositPayloadMismatch
	case errors.Is(err, idempotency.ErrInProgress):
		return nil, ErrDepositInProgress
	case !errors.Is(err, idempotency.ErrNotFound):
		return nil, err
	}

	reserved, err := s.refs.Reserve(ctx, key, hash, http.MethodPost, "/v1/webhooks/deposits")
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, ErrDepositInProgress
	}

	balance, err := s.ledger.Deposit(ctx, accountID, deposit.Amount)
	if err != nil {
		if relErr := s.refs.Release(context.WithoutCancel(ctx), key, hash); relErr != nil {
			s.logger.Warn("release webhook reference failed", zap.String("reference", deposit.Reference), zap.Error(relErr))
		}
		return nil, err
	}

	resp := &DepositWebhookResponse{
		AccountID: accountID.String(),
		Reference: deposit.Reference,
		Balance:   balance,
		Status:    DepositStatusCompleted,
		Message:   "Deposit processed successfully",
	}
	body, err := json.Marshal(resp)
	if err == nil {
		_, err = s.refs.Finalize(context.WithoutCancel(ctx), key, hash, http.StatusOK, body, "application/json")
	}
	if err != nil {
		// The deposit is committed; a retry of this reference will now wait
		// on the unfinished reservation instead of crediting twice.
		s.logger.Error("finalize webhook reference failed", zap.String("reference", deposit.Reference), zap.Error(err))
	}
	return resp, nil
}

func replayDeposit(rec *idempotency.Record) (*DepositWebhookResponse, error) {
	var resp DepositWebhookResponse
	if err := json.Unmarshal(rec.Body, &resp); err != nil {
		return nil, fmt.Errorf("decode stored deposit response: %w", err)
	}
	resp.Message = "Deposit already processed"
	return &resp, nil
}

func depositHash(accountID uuid.UUID, amount domain.Money) string {
	sum := sha256.Sum256([]byte(accountID.String() + "|" + amount.String()))
	return hex.EncodeToString(sum[:])
}

// verifyHMAC verifies the HMAC signature of the payload.
func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	// Use hmac.Equal for constant-time comparison
	return hmac.Equal([]byte(signature), []byte(expectedSig))
}

// SignPayload returns the signature header value for payload.
func SignPayload(key string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
