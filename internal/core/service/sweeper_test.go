package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/metrics"
	"github.com/rl1809/stock-ledger/internal/port"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	unlocked int
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	l.held = true
	return "token", true, nil
}

func (l *fakeLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.unlocked++
	return nil
}

func TestSweepOnce_ExpiredReservationRestoresAvailability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stock(t, "p1", 100)

	_, err := f.svc.Reserve(ctx, "p1", 20)
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)

	// Expired holds stop counting before the sweeper runs.
	levels, err := f.svc.StockLevels(ctx, []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, 100, levels[0].Available)

	m := metrics.New(prometheus.NewRegistry())
	sweeper := NewSweeper(f.store, WithSweeperClock(f.clock.Now), WithSweeperMetrics(m))
	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweptReservations))

	item, err := f.store.LoadByProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, item.Reservations())
	assert.Equal(t, 100, item.AvailableQuantity(f.clock.Now()))
}

func TestSweepOnce_KeepsActiveReservations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stock(t, "p1", 10)

	_, err := f.svc.Reserve(ctx, "p1", 4)
	require.NoError(t, err)
	f.clock.Advance(domain.DefaultReservationTTL - time.Second)

	n, err := NewSweeper(f.store, WithSweeperClock(f.clock.Now)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	item, _ := f.store.LoadByProduct(ctx, "p1")
	assert.Len(t, item.Reservations(), 1)
}

func TestSweepOnce_Batches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stock(t, "p1", 10)
	for i := 0; i < 5; i++ {
		_, err := f.svc.Reserve(ctx, "p1", 1)
		require.NoError(t, err)
	}
	f.clock.Advance(time.Hour)

	repo := &countingRepo{StockRepository: f.store}
	n, err := NewSweeper(repo, WithSweeperClock(f.clock.Now), WithSweepBatchSize(2)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, 3, repo.deletes)
}

func TestSweepOnce_LeaseHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stock(t, "p1", 10)
	_, err := f.svc.Reserve(ctx, "p1", 4)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	locker := &fakeLocker{held: true}
	n, err := NewSweeper(f.store, WithSweeperClock(f.clock.Now), WithLease(locker, time.Second)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	item, _ := f.store.LoadByProduct(ctx, "p1")
	assert.Len(t, item.Reservations(), 1)

	locker.held = false
	n, err = NewSweeper(f.store, WithSweeperClock(f.clock.Now), WithLease(locker, time.Second)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, locker.unlocked)
}

func TestSweepOnce_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := NewSweeper(f.store, WithLease(&fakeLocker{err: errors.New("redis down")}, time.Second)).SweepOnce(ctx)
	assert.Error(t, err)

	_, err = NewSweeper(&failingDeleteRepo{StockRepository: f.store}).SweepOnce(ctx)
	assert.Error(t, err)
}

func TestSweeperRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	m := metrics.New(prometheus.NewRegistry())
	sweeper := NewSweeper(&failingDeleteRepo{StockRepository: f.store},
		WithSweepInterval(5*time.Millisecond), WithSweeperMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	// Failing cycles are counted and the loop keeps going.
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.SweepErrors) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

type countingRepo struct {
	port.StockRepository
	deletes int
}

func (r *countingRepo) DeleteExpiredReservations(ctx context.Context, now time.Time, limit int) (int64, error) {
	r.deletes++
	return r.StockRepository.DeleteExpiredReservations(ctx, now, limit)
}

type failingDeleteRepo struct {
	port.StockRepository
}

func (r *failingDeleteRepo) DeleteExpiredReservations(ctx context.Context, now time.Time, limit int) (int64, error) {
	return 0, errors.New("connection reset")
}
