package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/ledger"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/ayo6706/personal-ledger/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGuard(t *testing.T, opts ...Option) (*RedisGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisGuard(client, append([]Option{WithRetryDelay(5 * time.Millisecond)}, opts...)...), mr
}

func TestRedisGuard_AcquireRelease(t *testing.T) {
	g, mr := setupGuard(t)
	id := uuid.New()

	release, err := g.Acquire(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, mr.Exists(Key(id)))

	release()
	release()
	assert.False(t, mr.Exists(Key(id)))
}

func TestRedisGuard_DeadlineIsBusy(t *testing.T) {
	g, _ := setupGuard(t)
	id := uuid.New()

	release, err := g.Acquire(context.Background(), id)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx, id)
	assert.ErrorIs(t, err, domain.ErrBusy)
}

func TestRedisGuard_FailedAcquireReleasesHeld(t *testing.T) {
	g, mr := setupGuard(t)
	ids := ledger.LockOrder(uuid.New(), uuid.New())

	release, err := g.Acquire(context.Background(), ids[1])
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx, ids[0], ids[1])
	require.ErrorIs(t, err, domain.ErrBusy)
	assert.False(t, mr.Exists(Key(ids[0])))
}

func TestRedisGuard_MutualExclusion(t *testing.T) {
	g, _ := setupGuard(t)
	id := uuid.New()

	var inside, violations int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			release, err := g.Acquire(ctx, id)
			if !assert.NoError(t, err) {
				return
			}
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.AddInt32(&violations, 1)
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Zero(t, violations)
}

func TestRedisGuard_DrivesProcessor(t *testing.T) {
	g, _ := setupGuard(t)
	store := memory.NewStore()
	p := ledger.NewProcessor(store, g)

	ids := make([]uuid.UUID, 2)
	for i, number := range []string{"10000-1", "20000-2"} {
		acc := newAccount(number)
		require.NoError(t, store.CreateAccount(context.Background(), acc))
		ids[i] = acc.ID
		_, err := p.Deposit(context.Background(), acc.ID, domain.NewMoney(10000))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := p.Transfer(context.Background(), ids[0], ids[1], domain.NewMoney(6000))
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := p.Transfer(context.Background(), ids[1], ids[0], domain.NewMoney(6000))
		assert.NoError(t, err)
	}()
	wg.Wait()

	for _, id := range ids {
		b, err := store.ReadBalance(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), b.Amount)
	}
}

func newAccount(number string) *models.Account {
	return &models.Account{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		HolderName:    "holder " + number,
		AccountNumber: number,
		Agency:        domain.DefaultAgency,
	}
}
