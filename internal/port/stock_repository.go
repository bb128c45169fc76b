package port

import (
	"context"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type StockRepository interface {
	// Create inserts a freshly provisioned item, returns false if the product already has one
	Create(ctx context.Context, item *domain.StockItem) (bool, error)

	// Load retrieves an item and its reservations by stock item ID, domain.ErrNotFound if absent
	Load(ctx context.Context, stockItemID string) (*domain.StockItem, error)

	// LoadByProduct retrieves an item by product ID, domain.ErrNotFound if absent
	LoadByProduct(ctx context.Context, productID string) (*domain.StockItem, error)

	// LoadByProducts retrieves every provisioned item among productIDs; missing products are skipped
	LoadByProducts(ctx context.Context, productIDs []string) ([]*domain.StockItem, error)

	// Save writes on-hand quantity and reservations guarded by the version read at load time,
	// appending adjustments in the same transaction. Returns domain.ErrConcurrencyConflict
	// when another writer committed first.
	Save(ctx context.Context, item *domain.StockItem, adjustments ...domain.Adjustment) error

	// DeleteExpiredReservations removes up to limit reservations with expires_at <= now
	DeleteExpiredReservations(ctx context.Context, now time.Time, limit int) (int64, error)
}
