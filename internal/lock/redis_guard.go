// Package lock provides a ledger.Guard shared across processes through Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/personal-ledger/internal/ledger"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix = "ledger:account:"

	DefaultExpiry     = 30 * time.Second
	DefaultRetryDelay = 25 * time.Millisecond
	unlockTimeout     = 2 * time.Second
)

var _ ledger.Guard = (*RedisGuard)(nil)

// RedisGuard holds one redsync mutex per account. The mutex expiry must
// outlive the longest commit; a lease that expires mid-commit is still safe
// because the store's row locks serialise the write itself.
type RedisGuard struct {
	rs         *redsync.Redsync
	expiry     time.Duration
	retryDelay time.Duration
	logger     *zap.Logger
}

type Option func(*RedisGuard)

func WithExpiry(d time.Duration) Option {
	return func(g *RedisGuard) {
		if d > 0 {
			g.expiry = d
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(g *RedisGuard) {
		if d > 0 {
			g.retryDelay = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *RedisGuard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewRedisGuard(client redis.UniversalClient, opts ...Option) *RedisGuard {
	g := &RedisGuard{
		rs:         redsync.New(goredis.NewPool(client)),
		expiry:     DefaultExpiry,
		retryDelay: DefaultRetryDelay,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *RedisGuard) Acquire(ctx context.Context, ids ...uuid.UUID) (func(), error) {
	ordered := ledger.LockOrder(ids...)
	held := make([]*redsync.Mutex, 0, len(ordered))
	for _, id := range ordered {
		m, err := g.lock(ctx, id)
		if err != nil {
			g.unlockAll(held)
			return nil, err
		}
		held = append(held, m)
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.unlockAll(held) })
	}, nil
}

func (g *RedisGuard) lock(ctx context.Context, id uuid.UUID) (*redsync.Mutex, error) {
	m := g.rs.NewMutex(Key(id),
		redsync.WithExpiry(g.expiry),
		redsync.WithTries(1),
	)

	for {
		err := m.TryLockContext(ctx)
		if err == nil {
			return m, nil
		}
		if !isContention(err) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ledger.WaitError(id, ctxErr)
			}
			return nil, fmt.Errorf("acquire account lock %s: %w", id, err)
		}

		select {
		case <-ctx.Done():
			return nil, ledger.WaitError(id, ctx.Err())
		case <-time.After(g.retryDelay):
		}
	}
}

func (g *RedisGuard) unlockAll(held []*redsync.Mutex) {
	for i := len(held) - 1; i >= 0; i-- {
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		ok, err := held[i].UnlockContext(ctx)
		cancel()
		if err != nil || !ok {
			// The lease expires on its own; the next holder just waits longer.
			g.logger.Warn("failed to release account lock",
				zap.String("key", held[i].Name()),
				zap.Error(err),
			)
		}
	}
}

// isContention reports whether err means another holder owns the lock, as
// opposed to Redis being unreachable.
func isContention(err error) bool {
	return errors.Is(err, redsync.ErrFailed) ||
		strings.Contains(err.Error(), "lock already taken") ||
		strings.Contains(err.Error(), "failed to acquire lock")
}

// Key is the Redis key guarding accountID.
func Key(accountID uuid.UUID) string {
	return keyPrefix + accountID.String()
}
