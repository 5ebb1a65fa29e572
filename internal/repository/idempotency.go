package repository

import (
	"context"
	"errors"

	"github.com/ayo6706/personal-ledger/internal/idempotency"
	"github.com/jackc/pgx/v5"
)

var _ idempotency.Backend = (*IdempotencyBackend)(nil)

// IdempotencyBackend stores request reservations in idempotency_keys.
type IdempotencyBackend struct {
	queries *Queries
}

func NewIdempotencyBackend(db DBTX) *IdempotencyBackend {
	return &IdempotencyBackend{queries: New(db)}
}

func (b *IdempotencyBackend) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	row, err := b.queries.GetIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, idempotency.ErrNotFound
		}
		return nil, err
	}
	return toRecord(row), nil
}

func (b *IdempotencyBackend) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	_, err := b.queries.ReserveIdempotencyKey(ctx, ReserveIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Method:         method,
		Path:           path,
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, err
}

func (b *IdempotencyBackend) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*idempotency.Record, error) {
	row, err := b.queries.FinalizeIdempotencyKey(ctx, FinalizeIdempotencyKeyParams{
		ResponseStatus: int32(status),
		ResponseBody:   body,
		ContentType:    contentType,
		IdempotencyKey: key,
		RequestHash:    requestHash,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, idempotency.ErrNotFound
		}
		return nil, err
	}
	return toRecord(row), nil
}

func (b *IdempotencyBackend) Release(ctx context.Context, key, requestHash string) error {
	return b.queries.ReleaseIdempotencyKey(ctx, key, requestHash)
}

func toRecord(row IdempotencyKeyRow) *idempotency.Record {
	return &idempotency.Record{
		Key:         row.IdempotencyKey,
		RequestHash: row.RequestHash,
		Status:      int(row.ResponseStatus),
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
		InProgress:  row.InProgress,
	}
}
