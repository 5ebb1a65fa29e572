// Package audit builds the append-only event journal written alongside every
// ledger commit. Payloads are stored both as plain JSON and in RFC 8785
// canonical form so their digest is stable across encoders.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

const (
	EventAccountOpened    = "ACCOUNT_OPENED"
	EventDepositPosted    = "DEPOSIT_POSTED"
	EventWithdrawalPosted = "WITHDRAWAL_POSTED"
	EventTransferPosted   = "TRANSFER_POSTED"
)

var ErrDigestMismatch = errors.New("audit event digest mismatch")

type Event struct {
	ID          uuid.UUID
	Type        string
	AggregateID uuid.UUID
	Payload     json.RawMessage
	Canonical   string
	Digest      string
}

type accountOpenedPayload struct {
	AccountID     string `json:"account_id"`
	UserID        string `json:"user_id"`
	AccountNumber string `json:"account_number"`
	Agency        string `json:"agency"`
}

type postedPayload struct {
	OperationID  string `json:"operation_id"`
	AccountID    string `json:"account_id"`
	Type         string `json:"type"`
	AmountMinor  int64  `json:"amount_minor"`
	BalanceAfter int64  `json:"balance_after_minor"`
	Seq          int64  `json:"seq"`
}

type transferPostedPayload struct {
	OperationID string `json:"operation_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	AmountMinor int64  `json:"amount_minor"`
	OutID       string `json:"out_tx_id"`
	InID        string `json:"in_tx_id"`
	OutSeq      int64  `json:"out_seq"`
	InSeq       int64  `json:"in_seq"`
}

// New encodes payload and computes its canonical form and digest.
func New(eventType string, aggregateID uuid.UUID, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return Event{}, fmt.Errorf("canonicalize %s payload: %w", eventType, err)
	}
	return Event{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     raw,
		Canonical:   string(canon),
		Digest:      digest(canon),
	}, nil
}

// Verify recomputes the canonical form of e.Payload and checks it against the
// stored canonical text and digest.
func Verify(e Event) error {
	canon, err := jcs.Transform(e.Payload)
	if err != nil {
		return fmt.Errorf("canonicalize %s payload: %w", e.Type, err)
	}
	if string(canon) != e.Canonical || digest(canon) != e.Digest {
		return fmt.Errorf("%w: event %s", ErrDigestMismatch, e.ID)
	}
	return nil
}

func AccountOpened(acc models.Account) (Event, error) {
	return New(EventAccountOpened, acc.ID, accountOpenedPayload{
		AccountID:     acc.ID.String(),
		UserID:        acc.UserID.String(),
		AccountNumber: acc.AccountNumber,
		Agency:        acc.Agency,
	})
}

// Posted describes a committed deposit or withdrawal record.
func Posted(rec models.Transaction) (Event, error) {
	eventType := EventDepositPosted
	if rec.Type == domain.TxTypeWithdrawal {
		eventType = EventWithdrawalPosted
	}
	return New(eventType, rec.OperationID, postedPayload{
		OperationID:  rec.OperationID.String(),
		AccountID:    rec.AccountID.String(),
		Type:         rec.Type,
		AmountMinor:  rec.Amount.Amount,
		BalanceAfter: rec.BalanceAfter.Amount,
		Seq:          rec.Seq,
	})
}

// TransferPosted describes a committed transfer pair.
func TransferPosted(out, in models.Transaction) (Event, error) {
	return New(EventTransferPosted, out.OperationID, transferPostedPayload{
		OperationID: out.OperationID.String(),
		From:        out.AccountID.String(),
		To:          in.AccountID.String(),
		AmountMinor: out.Amount.Amount,
		OutID:       out.ID.String(),
		InID:        in.ID.String(),
		OutSeq:      out.Seq,
		InSeq:       in.Seq,
	})
}

func digest(canon []byte) string {
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])
}
