package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

func TestMemoryAdapter_CreateAndLoad(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	item := domain.NewStockItem("p1")
	created, err := m.Create(ctx, item)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = m.Create(ctx, domain.NewStockItem("p1"))
	require.NoError(t, err)
	assert.False(t, created)

	byID, err := m.Load(ctx, item.ID())
	require.NoError(t, err)
	byProduct, err := m.LoadByProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, byID.ID(), byProduct.ID())
	assert.Equal(t, item.Version(), byID.Version())

	_, err = m.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = m.LoadByProduct(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	items, err := m.LoadByProducts(ctx, []string{"missing", "p1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0].ProductID())
}

func TestMemoryAdapter_SaveVersionCheck(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	item := domain.NewStockItem("p1")
	_, err := m.Create(ctx, item)
	require.NoError(t, err)

	a, _ := m.Load(ctx, item.ID())
	b, _ := m.Load(ctx, item.ID())

	events, err := a.AdjustStock(10, time.Now())
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx, a, domain.AdjustmentsFrom(events, "restock", "", time.Now())...))

	_, err = b.AdjustStock(3, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, m.Save(ctx, b), domain.ErrConcurrencyConflict)

	loaded, _ := m.Load(ctx, item.ID())
	assert.Equal(t, 10, loaded.QuantityOnHand())
	assert.Len(t, m.Adjustments(item.ID()), 1)
}

func TestMemoryAdapter_SnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	item := domain.NewStockItem("p1")
	_, err := m.Create(ctx, item)
	require.NoError(t, err)

	loaded, _ := m.Load(ctx, item.ID())
	_, err = loaded.AdjustStock(5, time.Now())
	require.NoError(t, err)

	fresh, _ := m.Load(ctx, item.ID())
	assert.Equal(t, 0, fresh.QuantityOnHand(), "unsaved mutation leaked into the store")
}

func TestMemoryAdapter_DeleteExpiredReservations(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	now := time.Now()

	item := domain.NewStockItem("p1")
	_, err := m.Create(ctx, item)
	require.NoError(t, err)
	_, err = item.AdjustStock(100, now)
	require.NoError(t, err)
	for _, q := range []int{1, 2, 3} {
		_, _, err := item.Reserve(q, now)
		require.NoError(t, err)
	}
	require.NoError(t, m.Save(ctx, item))
	version := item.Version()

	later := now.Add(domain.DefaultReservationTTL)
	n, err := m.DeleteExpiredReservations(ctx, later, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = m.DeleteExpiredReservations(ctx, later, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	loaded, _ := m.Load(ctx, item.ID())
	assert.Empty(t, loaded.Reservations())
	assert.Equal(t, version, loaded.Version())
}
