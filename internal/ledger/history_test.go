package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/ledger"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/ayo6706/personal-ledger/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHistory_PagesNewestFirst(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	r := ledger.NewHistoryReader(store)
	id := openAccount(t, store, "10000-1")
	for i := 1; i <= 5; i++ {
		fund(t, p, id, int64(i*100))
	}

	page, err := r.GetHistory(context.Background(), id, models.HistoryQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(5), page.Items[0].Seq)
	assert.Equal(t, int64(4), page.Items[1].Seq)
	require.NotNil(t, page.NextBeforeSeq)
	assert.Equal(t, int64(4), *page.NextBeforeSeq)

	page, err = r.GetHistory(context.Background(), id, models.HistoryQuery{Limit: 2, BeforeSeq: *page.NextBeforeSeq})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(3), page.Items[0].Seq)
	require.NotNil(t, page.NextBeforeSeq)

	page, err = r.GetHistory(context.Background(), id, models.HistoryQuery{Limit: 2, BeforeSeq: *page.NextBeforeSeq})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(1), page.Items[0].Seq)
	assert.Nil(t, page.NextBeforeSeq)
}

func TestGetHistory_EmptyAccount(t *testing.T) {
	store := memory.NewStore()
	r := ledger.NewHistoryReader(store)
	id := openAccount(t, store, "10000-1")

	page, err := r.GetHistory(context.Background(), id, models.HistoryQuery{})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.Nil(t, page.NextBeforeSeq)
}

func TestGetHistory_ClampsLimit(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	r := ledger.NewHistoryReader(store)
	id := openAccount(t, store, "10000-1")
	for i := 0; i < ledger.MaxHistoryLimit+5; i++ {
		fund(t, p, id, 1)
	}

	page, err := r.GetHistory(context.Background(), id, models.HistoryQuery{})
	require.NoError(t, err)
	assert.Len(t, page.Items, ledger.DefaultHistoryLimit)

	page, err = r.GetHistory(context.Background(), id, models.HistoryQuery{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, page.Items, ledger.MaxHistoryLimit)
	assert.NotNil(t, page.NextBeforeSeq)
}

func TestGetHistory_UnknownAccount(t *testing.T) {
	r := ledger.NewHistoryReader(memory.NewStore())
	_, err := r.GetHistory(context.Background(), uuid.New(), models.HistoryQuery{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetHistory_RepeatableWithoutWrites(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	r := ledger.NewHistoryReader(store)
	id := openAccount(t, store, "10000-1")
	fund(t, p, id, 500)
	fund(t, p, id, 700)

	first, err := r.GetHistory(context.Background(), id, models.HistoryQuery{})
	require.NoError(t, err)
	second, err := r.GetHistory(context.Background(), id, models.HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// A reader running alongside transfers sees either both halves of a transfer
// or neither.
func TestGetHistory_SeesTransferPairsWhole(t *testing.T) {
	store := memory.NewStore()
	p := newProcessor(store)
	r := ledger.NewHistoryReader(store)
	x := openAccount(t, store, "10000-1")
	y := openAccount(t, store, "20000-2")
	fund(t, p, x, 100000)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, err := p.Transfer(context.Background(), x, y, cents(100))
			assert.NoError(t, err)
		}
	}()

	for i := 0; i < 100; i++ {
		totals, err := store.Totals(context.Background())
		require.NoError(t, err)
		assert.Zero(t, totals.UnpairedTransfers)
		assert.Equal(t, totals.TransferOutSum, totals.TransferInSum)

		_, err = r.GetHistory(context.Background(), y, models.HistoryQuery{Limit: ledger.MaxHistoryLimit})
		require.NoError(t, err)
	}
	wg.Wait()

	page, err := r.GetHistory(context.Background(), y, models.HistoryQuery{Limit: ledger.MaxHistoryLimit})
	require.NoError(t, err)
	assert.Len(t, page.Items, 100)
}
