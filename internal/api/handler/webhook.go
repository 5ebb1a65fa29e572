package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/personal-ledger/internal/service"
	"go.uber.org/zap"
)

const signatureHeader = "X-Webhook-Signature"

// DepositWebhooks processes signed funding notifications.
// *service.WebhookService implements it.
type DepositWebhooks interface {
	HandleDepositWebhook(ctx context.Context, payload []byte, signature string) (*service.DepositWebhookResponse, error)
}

// WebhookHandler handles incoming webhook events from external systems.
type WebhookHandler struct {
	webhookSvc DepositWebhooks
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(webhookSvc DepositWebhooks) *WebhookHandler {
	return &WebhookHandler{
		webhookSvc: webhookSvc,
	}
}

// HandleDepositWebhook handles POST /v1/webhooks/deposits.
func (h *WebhookHandler) HandleDepositWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	resp, err := h.webhookSvc.HandleDepositWebhook(r.Context(), body, r.Header.Get(signatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
		case errors.Is(err, service.ErrInvalidWebhookPayload):
			RespondError(w, r, http.StatusBadRequest, "webhook/invalid-payload", err.Error())
		case errors.Is(err, service.ErrDepositPayloadMismatch):
			RespondError(w, r, http.StatusConflict, "webhook/reference-conflict", err.Error())
		case errors.Is(err, service.ErrDepositInProgress):
			w.Header().Set("Retry-After", retryAfter)
			RespondError(w, r, http.StatusConflict, "webhook/in-progress", err.Error())
		default:
			writeLedgerError(w, r, "webhook deposit", err)
		}
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}
