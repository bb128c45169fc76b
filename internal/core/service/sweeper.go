package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/stock-ledger/internal/metrics"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	sweepLockKey          = "stock:sweeper:lease"
	defaultSweepInterval  = time.Minute
	defaultSweepBatchSize = 500
	defaultSweepLockTTL   = 30 * time.Second
)

type SweeperOption func(*Sweeper)

// WithLease makes replicas share one sweep per interval through locker.
func WithLease(locker port.Locker, ttl time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.locker = locker
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithSweepBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithSweeperMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

func WithSweeperLogger(l zerolog.Logger) SweeperOption {
	return func(s *Sweeper) { s.log = l.With().Str("component", "sweeper").Logger() }
}

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// Sweeper physically deletes reservations whose expiry has passed. Reads
// already ignore them, so a missed or delayed sweep changes nothing a caller
// can observe.
type Sweeper struct {
	repo      port.StockRepository
	locker    port.Locker
	interval  time.Duration
	batchSize int
	lockTTL   time.Duration

	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewSweeper(repo port.StockRepository, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		repo:      repo,
		interval:  defaultSweepInterval,
		batchSize: defaultSweepBatchSize,
		lockTTL:   defaultSweepLockTTL,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop()
	}
	return s
}

// Run sweeps once per interval until ctx is cancelled. Failed cycles are
// logged and the loop carries on.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Msg("reservation sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("reservation sweeper stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.SweepErrors.Inc()
			s.log.Error().Interface("panic", r).Msg("sweep cycle panicked")
		}
	}()

	if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
		s.metrics.SweepErrors.Inc()
		s.log.Error().Err(err).Msg("sweep cycle failed")
	}
}

// SweepOnce removes every reservation expired at the current time, in
// batches, and returns how many rows went away. With a lease configured it
// returns 0 without touching storage when another replica holds the lease.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	defer func() { s.metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.lockTTL)
		if err != nil {
			return 0, fmt.Errorf("acquire sweep lease: %w", err)
		}
		if !ok {
			s.log.Debug().Msg("sweep lease held elsewhere, skipping cycle")
			return 0, nil
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
				s.log.Warn().Err(err).Msg("failed to release sweep lease")
			}
		}()
	}

	now := s.now()
	var total int64
	for {
		n, err := s.repo.DeleteExpiredReservations(ctx, now, s.batchSize)
		total += n
		s.metrics.SweptReservations.Add(float64(n))
		if err != nil {
			return total, fmt.Errorf("delete expired reservations: %w", err)
		}
		if n < int64(s.batchSize) {
			break
		}
	}

	if total > 0 {
		s.log.Info().Int64("removed", total).Msg("removed expired stock reservations")
	}
	return total, nil
}
