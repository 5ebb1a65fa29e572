package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

type AccountRow struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	HolderName    string
	AccountNumber string
	Agency        string
	Balance       int64
	LastSeq       int64
	LastEntryAt   *time.Time
	CreatedAt     time.Time
}

type TransactionRow struct {
	ID                    uuid.UUID
	OperationID           uuid.UUID
	AccountID             uuid.UUID
	Type                  string
	Amount                int64
	CounterpartyAccountID *uuid.UUID
	BalanceAfter          int64
	Seq                   int64
	Description           string
	CreatedAt             time.Time
}

type EventRow struct {
	ID          uuid.UUID
	EventType   string
	AggregateID uuid.UUID
	Payload     []byte
	Canonical   string
	Digest      string
	CreatedAt   time.Time
}

type IdempotencyKeyRow struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	InProgress     bool
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
}

const accountColumns = `id, user_id, holder_name, account_number, agency, balance, last_seq, last_entry_at, created_at`

func scanAccount(row pgx.Row) (AccountRow, error) {
	var a AccountRow
	err := row.Scan(&a.ID, &a.UserID, &a.HolderName, &a.AccountNumber, &a.Agency, &a.Balance, &a.LastSeq, &a.LastEntryAt, &a.CreatedAt)
	return a, err
}

const createAccountSQL = `-- name: CreateAccount :one
INSERT INTO accounts (id, user_id, holder_name, account_number, agency, balance, created_at)
VALUES ($1, $2, $3, $4, $5, 0, NOW())
RETURNING created_at`

type CreateAccountParams struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	HolderName    string
	AccountNumber string
	Agency        string
}

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (time.Time, error) {
	row := q.db.QueryRow(ctx, createAccountSQL, arg.ID, arg.UserID, arg.HolderName, arg.AccountNumber, arg.Agency)
	var createdAt time.Time
	err := row.Scan(&createdAt)
	return createdAt, err
}

const getAccount = `-- name: GetAccount :one
SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

func (q *Queries) GetAccount(ctx context.Context, id uuid.UUID) (AccountRow, error) {
	return scanAccount(q.db.QueryRow(ctx, getAccount, id))
}

const getAccountByUserID = `-- name: GetAccountByUserID :one
SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1`

func (q *Queries) GetAccountByUserID(ctx context.Context, userID uuid.UUID) (AccountRow, error) {
	return scanAccount(q.db.QueryRow(ctx, getAccountByUserID, userID))
}

const getAccountForUpdate = `-- name: GetAccountForUpdate :one
SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

func (q *Queries) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (AccountRow, error) {
	return scanAccount(q.db.QueryRow(ctx, getAccountForUpdate, id))
}

const getAccountBalance = `-- name: GetAccountBalance :one
SELECT balance FROM accounts WHERE id = $1`

func (q *Queries) GetAccountBalance(ctx context.Context, id uuid.UUID) (int64, error) {
	var balance int64
	err := q.db.QueryRow(ctx, getAccountBalance, id).Scan(&balance)
	return balance, err
}

const updateAccountPosting = `-- name: UpdateAccountPosting :exec
UPDATE accounts
SET balance = $2, last_seq = $3, last_entry_at = $4
WHERE id = $1`

type UpdateAccountPostingParams struct {
	ID          uuid.UUID
	Balance     int64
	LastSeq     int64
	LastEntryAt time.Time
}

func (q *Queries) UpdateAccountPosting(ctx context.Context, arg UpdateAccountPostingParams) error {
	_, err := q.db.Exec(ctx, updateAccountPosting, arg.ID, arg.Balance, arg.LastSeq, arg.LastEntryAt)
	return err
}

const insertTransaction = `-- name: InsertTransaction :exec
INSERT INTO transactions (
    id, operation_id, account_id, type, amount, counterparty_account_id,
    balance_after, seq, description, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func (q *Queries) InsertTransaction(ctx context.Context, arg TransactionRow) error {
	_, err := q.db.Exec(ctx, insertTransaction,
		arg.ID,
		arg.OperationID,
		arg.AccountID,
		arg.Type,
		arg.Amount,
		arg.CounterpartyAccountID,
		arg.BalanceAfter,
		arg.Seq,
		arg.Description,
		arg.CreatedAt,
	)
	return err
}

const listTransactions = `-- name: ListTransactions :many
SELECT id, operation_id, account_id, type, amount, counterparty_account_id,
       balance_after, seq, description, created_at
FROM transactions
WHERE account_id = $1 AND ($2::bigint = 0 OR seq < $2)
ORDER BY seq DESC
LIMIT $3`

type ListTransactionsParams struct {
	AccountID uuid.UUID
	BeforeSeq int64
	Limit     int32
}

func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]TransactionRow, error) {
	rows, err := q.db.Query(ctx, listTransactions, arg.AccountID, arg.BeforeSeq, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TransactionRow
	for rows.Next() {
		var i TransactionRow
		if err := rows.Scan(
			&i.ID,
			&i.OperationID,
			&i.AccountID,
			&i.Type,
			&i.Amount,
			&i.CounterpartyAccountID,
			&i.BalanceAfter,
			&i.Seq,
			&i.Description,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const insertEventSQL = `-- name: InsertEvent :exec
INSERT INTO event_log (id, event_type, aggregate_id, payload, canonical, digest, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())`

func (q *Queries) InsertEvent(ctx context.Context, arg EventRow) error {
	_, err := q.db.Exec(ctx, insertEventSQL, arg.ID, arg.EventType, arg.AggregateID, arg.Payload, arg.Canonical, arg.Digest)
	return err
}

const listEvents = `-- name: ListEvents :many
SELECT id, event_type, aggregate_id, payload, canonical, digest, created_at
FROM event_log
WHERE aggregate_id = $1
ORDER BY created_at, id`

func (q *Queries) ListEvents(ctx context.Context, aggregateID uuid.UUID) ([]EventRow, error) {
	rows, err := q.db.Query(ctx, listEvents, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []EventRow
	for rows.Next() {
		var i EventRow
		if err := rows.Scan(&i.ID, &i.EventType, &i.AggregateID, &i.Payload, &i.Canonical, &i.Digest, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const ledgerTotals = `-- name: LedgerTotals :one
SELECT
    (SELECT COUNT(*) FROM accounts),
    (SELECT COALESCE(SUM(balance), 0)::bigint FROM accounts),
    (SELECT COUNT(*) FROM accounts WHERE balance < 0),
    COALESCE(SUM(amount) FILTER (WHERE type = 'deposit'), 0)::bigint,
    COALESCE(SUM(amount) FILTER (WHERE type = 'withdrawal'), 0)::bigint,
    COALESCE(SUM(amount) FILTER (WHERE type = 'transfer-out'), 0)::bigint,
    COALESCE(SUM(amount) FILTER (WHERE type = 'transfer-in'), 0)::bigint
FROM transactions`

type LedgerTotalsRow struct {
	Accounts         int64
	BalanceSum       int64
	NegativeBalances int64
	DepositSum       int64
	WithdrawalSum    int64
	TransferOutSum   int64
	TransferInSum    int64
}

func (q *Queries) LedgerTotals(ctx context.Context) (LedgerTotalsRow, error) {
	var i LedgerTotalsRow
	err := q.db.QueryRow(ctx, ledgerTotals).Scan(
		&i.Accounts,
		&i.BalanceSum,
		&i.NegativeBalances,
		&i.DepositSum,
		&i.WithdrawalSum,
		&i.TransferOutSum,
		&i.TransferInSum,
	)
	return i, err
}

// A transfer operation is paired when it has exactly one transfer-out and one
// transfer-in with equal amounts and mirrored accounts.
const countUnpairedTransfers = `-- name: CountUnpairedTransfers :one
SELECT COUNT(*) FROM (
    SELECT operation_id
    FROM transactions
    WHERE type IN ('transfer-out', 'transfer-in')
    GROUP BY operation_id
    HAVING COUNT(*) FILTER (WHERE type = 'transfer-out') <> 1
        OR COUNT(*) FILTER (WHERE type = 'transfer-in') <> 1
        OR MIN(amount) <> MAX(amount)
        OR MAX(account_id::text) FILTER (WHERE type = 'transfer-out')
           IS DISTINCT FROM MAX(counterparty_account_id::text) FILTER (WHERE type = 'transfer-in')
        OR MAX(account_id::text) FILTER (WHERE type = 'transfer-in')
           IS DISTINCT FROM MAX(counterparty_account_id::text) FILTER (WHERE type = 'transfer-out')
) unpaired`

func (q *Queries) CountUnpairedTransfers(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countUnpairedTransfers).Scan(&count)
	return count, err
}

const getIdempotencyKey = `-- name: GetIdempotencyKey :one
SELECT idempotency_key, request_hash, method, path, in_progress, response_status,
       COALESCE(response_body, ''::bytea), content_type
FROM idempotency_keys
WHERE idempotency_key = $1`

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKeyRow, error) {
	var i IdempotencyKeyRow
	err := q.db.QueryRow(ctx, getIdempotencyKey, key).Scan(
		&i.IdempotencyKey,
		&i.RequestHash,
		&i.Method,
		&i.Path,
		&i.InProgress,
		&i.ResponseStatus,
		&i.ResponseBody,
		&i.ContentType,
	)
	return i, err
}

const reserveIdempotencyKey = `-- name: ReserveIdempotencyKey :one
INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING idempotency_key`

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (string, error) {
	var key string
	err := q.db.QueryRow(ctx, reserveIdempotencyKey, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path).Scan(&key)
	return key, err
}

const finalizeIdempotencyKey = `-- name: FinalizeIdempotencyKey :one
UPDATE idempotency_keys
SET in_progress = FALSE, response_status = $1, response_body = $2, content_type = $3, updated_at = NOW()
WHERE idempotency_key = $4 AND request_hash = $5
RETURNING idempotency_key, request_hash, method, path, in_progress, response_status,
          COALESCE(response_body, ''::bytea), content_type`

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKeyRow, error) {
	var i IdempotencyKeyRow
	err := q.db.QueryRow(ctx, finalizeIdempotencyKey,
		arg.ResponseStatus,
		arg.ResponseBody,
		arg.ContentType,
		arg.IdempotencyKey,
		arg.RequestHash,
	).Scan(
		&i.IdempotencyKey,
		&i.RequestHash,
		&i.Method,
		&i.Path,
		&i.InProgress,
		&i.ResponseStatus,
		&i.ResponseBody,
		&i.ContentType,
	)
	return i, err
}

const releaseIdempotencyKey = `-- name: ReleaseIdempotencyKey :exec
DELETE FROM idempotency_keys
WHERE idempotency_key = $1 AND request_hash = $2 AND in_progress`

func (q *Queries) ReleaseIdempotencyKey(ctx context.Context, key, requestHash string) error {
	_, err := q.db.Exec(ctx, releaseIdempotencyKey, key, requestHash)
	return err
}

const purgeIdempotencyKeys = `-- name: PurgeIdempotencyKeys :execrows
DELETE FROM idempotency_keys WHERE NOT in_progress AND updated_at < $1`

func (q *Queries) PurgeIdempotencyKeys(ctx context.Context, before time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, purgeIdempotencyKeys, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
