package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type stockRow struct {
	id             string
	productID      string
	quantityOnHand int
	version        int64
	reservations   []domain.StockReservation
}

// MemoryAdapter keeps the ledger in process. It enforces the same version
// check as the MySQL adapter, so it stands in for it in tests and local runs.
type MemoryAdapter struct {
	mu          sync.Mutex
	items       map[string]*stockRow
	byProduct   map[string]string
	adjustments []domain.Adjustment
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items:     make(map[string]*stockRow),
		byProduct: make(map[string]string),
	}
}

func (m *MemoryAdapter) Create(ctx context.Context, item *domain.StockItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byProduct[item.ProductID()]; ok {
		return false, nil
	}

	const version = 1
	m.items[item.ID()] = &stockRow{
		id:             item.ID(),
		productID:      item.ProductID(),
		quantityOnHand: item.QuantityOnHand(),
		version:        version,
		reservations:   item.Reservations(),
	}
	m.byProduct[item.ProductID()] = item.ID()
	item.MarkPersisted(version)
	return true, nil
}

func (m *MemoryAdapter) Load(ctx context.Context, stockItemID string) (*domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.items[stockItemID]
	if !ok {
		return nil, fmt.Errorf("stock item %s: %w", stockItemID, domain.ErrNotFound)
	}
	return row.restore(), nil
}

func (m *MemoryAdapter) LoadByProduct(ctx context.Context, productID string) (*domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byProduct[productID]
	if !ok {
		return nil, fmt.Errorf("stock item for product %s: %w", productID, domain.ErrNotFound)
	}
	return m.items[id].restore(), nil
}

func (m *MemoryAdapter) LoadByProducts(ctx context.Context, productIDs []string) ([]*domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []*domain.StockItem
	for _, pid := range productIDs {
		if id, ok := m.byProduct[pid]; ok {
			items = append(items, m.items[id].restore())
		}
	}
	return items, nil
}

func (m *MemoryAdapter) Save(ctx context.Context, item *domain.StockItem, adjustments ...domain.Adjustment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.items[item.ID()]
	if !ok {
		return fmt.Errorf("stock item %s: %w", item.ID(), domain.ErrNotFound)
	}
	if row.version != item.Version() {
		return domain.ErrConcurrencyConflict
	}

	row.quantityOnHand = item.QuantityOnHand()
	row.reservations = item.Reservations()
	row.version++
	m.adjustments = append(m.adjustments, adjustments...)

	item.MarkPersisted(row.version)
	return nil
}

// DeleteExpiredReservations does not bump versions: removing a row that every
// reader already ignores commutes with concurrent writers.
func (m *MemoryAdapter) DeleteExpiredReservations(ctx context.Context, now time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for _, row := range m.items {
		kept := row.reservations[:0]
		for _, r := range row.reservations {
			if !r.IsActive(now) && (limit <= 0 || deleted < int64(limit)) {
				deleted++
				continue
			}
			kept = append(kept, r)
		}
		row.reservations = kept
	}
	return deleted, nil
}

// Adjustments returns the audit rows written for stockItemID, oldest first.
func (m *MemoryAdapter) Adjustments(stockItemID string) []domain.Adjustment {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Adjustment
	for _, a := range m.adjustments {
		if a.StockItemID == stockItemID {
			out = append(out, a)
		}
	}
	return out
}

func (r *stockRow) restore() *domain.StockItem {
	return domain.RestoreStockItem(r.id, r.productID, r.quantityOnHand, r.version, r.reservations)
}
