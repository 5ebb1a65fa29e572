package ledger

import (
	"context"
	"errors"

	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/google/uuid"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// HistoryReader is a read-only view over the transaction log. It takes no
// guards; pair visibility comes from the store committing both halves of a
// transfer together.
type HistoryReader struct {
	store Store
}

func NewHistoryReader(store Store) *HistoryReader {
	return &HistoryReader{store: store}
}

// GetHistory returns one page of accountID's transactions, newest first.
func (r *HistoryReader) GetHistory(ctx context.Context, accountID uuid.UUID, q models.HistoryQuery) (models.HistoryPage, error) {
	if _, err := r.store.GetAccount(ctx, accountID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return models.HistoryPage{}, err
		}
		return models.HistoryPage{}, domain.StoreFailure("get account", err)
	}

	q = normalizeQuery(q)
	// One extra row tells us whether another page exists.
	items, err := r.store.ListTransactions(ctx, accountID, models.HistoryQuery{Limit: q.Limit + 1, BeforeSeq: q.BeforeSeq})
	if err != nil {
		return models.HistoryPage{}, domain.StoreFailure("list transactions", err)
	}

	page := models.HistoryPage{Items: items}
	if len(items) > q.Limit {
		page.Items = items[:q.Limit]
		next := page.Items[len(page.Items)-1].Seq
		page.NextBeforeSeq = &next
	}
	if page.Items == nil {
		page.Items = []models.Transaction{}
	}
	return page, nil
}

func normalizeQuery(q models.HistoryQuery) models.HistoryQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Limit > MaxHistoryLimit {
		q.Limit = MaxHistoryLimit
	}
	if q.BeforeSeq < 0 {
		q.BeforeSeq = 0
	}
	return q
}
