package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/metrics"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 10 * time.Millisecond
	defaultCacheTTL    = 30 * time.Second

	commitReason = "order confirmed"
	systemActor  = "system"
)

type ReserveResult struct {
	StockItemID   string
	ReservationID string
	ExpiresAt     time.Time
	Available     int
	Events        []domain.Event
}

type AdjustResult struct {
	StockItemID    string
	QuantityOnHand int
	Available      int
	Events         []domain.Event
}

type StockLevel struct {
	ProductID      string
	QuantityOnHand int
	Available      int
	InStock        bool
	LowStock       bool
}

type OrderLine struct {
	ProductID string
	Quantity  int
}

type LineReservation struct {
	ProductID     string
	StockItemID   string
	ReservationID string
	Quantity      int
}

type Option func(*StockService)

func WithCache(cache port.CacheRepository, ttl time.Duration) Option {
	return func(s *StockService) {
		s.cache = cache
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithPolicy(p domain.Policy) Option {
	return func(s *StockService) { s.policy = p }
}

// WithRetry bounds how many times one operation is attempted when Save
// reports a version conflict.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(s *StockService) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if backoff > 0 {
			s.backoff = backoff
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *StockService) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *StockService) { s.log = l.With().Str("component", "stock-service").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(s *StockService) { s.now = now }
}

// StockService runs each ledger operation as a load-mutate-save cycle against
// the repository and retries the whole cycle when another writer wins.
type StockService struct {
	repo      port.StockRepository
	publisher port.EventPublisher
	cache     port.CacheRepository

	policy      domain.Policy
	maxAttempts int
	backoff     time.Duration
	cacheTTL    time.Duration

	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewStockService builds the service. publisher may be nil.
func NewStockService(repo port.StockRepository, publisher port.EventPublisher, opts ...Option) *StockService {
	s := &StockService{
		repo:        repo,
		publisher:   publisher,
		policy:      domain.DefaultPolicy(),
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		cacheTTL:    defaultCacheTTL,
		log:         zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop()
	}
	return s
}

type loadFunc func(ctx context.Context) (*domain.StockItem, error)

// mutateFunc applies one aggregate call. Returning no events means nothing
// changed and the save is skipped.
type mutateFunc func(item *domain.StockItem, now time.Time) ([]domain.Event, []domain.Adjustment, error)

func (s *StockService) execute(ctx context.Context, op string, load loadFunc, mutate mutateFunc) (*domain.StockItem, []domain.Event, time.Time, error) {
	var (
		item   *domain.StockItem
		events []domain.Event
		now    time.Time
	)

	backoff := retry.WithMaxRetries(uint64(s.maxAttempts-1), retry.WithJitterPercent(20, retry.NewConstant(s.backoff)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		loaded, err := load(ctx)
		if err != nil {
			return err
		}
		loaded.WithPolicy(s.policy)

		now = s.now()
		evts, adjustments, err := mutate(loaded, now)
		if err != nil {
			return err
		}
		if len(evts) == 0 {
			item, events = loaded, nil
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, loaded, adjustments...); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				s.metrics.ConflictRetries.WithLabelValues(op).Inc()
				s.log.Debug().Str("operation", op).Str("stock_item_id", loaded.ID()).Msg("version conflict, reloading")
				return retry.RetryableError(err)
			}
			return err
		}

		item, events = loaded, evts
		return nil
	})

	s.metrics.Operations.WithLabelValues(op, outcome(err)).Inc()
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			s.log.Warn().Str("operation", op).Int("attempts", s.maxAttempts).Msg("giving up after repeated version conflicts")
			return nil, nil, now, fmt.Errorf("%s: %d attempts: %w", op, s.maxAttempts, err)
		}
		return nil, nil, now, err
	}

	if len(events) > 0 {
		s.afterCommit(ctx, item, events)
	}
	return item, events, now, nil
}

func (s *StockService) afterCommit(ctx context.Context, item *domain.StockItem, events []domain.Event) {
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events...); err != nil {
			s.metrics.PublishFailures.Inc()
			s.log.Error().Err(err).Str("stock_item_id", item.ID()).Int("events", len(events)).Msg("failed to publish stock events")
		}
	}
	s.invalidate(ctx, item)
}

// invalidate drops the cached quantity after a write and records the new
// version, so a read that loaded an older version cannot refill it.
func (s *StockService) invalidate(ctx context.Context, item *domain.StockItem) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAvailable(ctx, item.ProductID(), item.Version(), s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Str("product_id", item.ProductID()).Msg("failed to invalidate available quantity")
	}
}

func (s *StockService) cacheAvailable(ctx context.Context, item *domain.StockItem, now time.Time) {
	if s.cache == nil {
		return
	}

	ttl := s.cacheTTL
	if next, ok := item.NextExpiry(now); ok && next.Sub(now) < ttl {
		ttl = next.Sub(now)
	}
	if ttl < time.Millisecond {
		return
	}
	if err := s.cache.SetAvailable(ctx, item.ProductID(), item.Version(), item.AvailableQuantity(now), ttl); err != nil {
		s.log.Warn().Err(err).Str("product_id", item.ProductID()).Msg("failed to cache available quantity")
	}
}

func (s *StockService) byProduct(productID string) loadFunc {
	return func(ctx context.Context) (*domain.StockItem, error) {
		return s.repo.LoadByProduct(ctx, productID)
	}
}

func (s *StockService) byID(stockItemID string) loadFunc {
	return func(ctx context.Context) (*domain.StockItem, error) {
		return s.repo.Load(ctx, stockItemID)
	}
}

// Provision creates the stock item for a newly listed product. It is safe to
// call more than once per product; messageID, when set, short-circuits
// redelivered provisioning messages.
func (s *StockService) Provision(ctx context.Context, productID, messageID string) (bool, error) {
	if productID == "" {
		return false, fmt.Errorf("%w: product id is required", domain.ErrInvalidArgument)
	}

	key := ""
	if messageID != "" && s.cache != nil {
		claim := "provision:" + messageID
		ok, err := s.cache.SetIdempotency(ctx, claim)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Str("message_id", messageID).Msg("idempotency check failed, relying on store")
		case !ok:
			s.log.Info().Str("product_id", productID).Str("message_id", messageID).Msg("duplicate provisioning message, skipping")
			return false, nil
		default:
			key = claim
		}
	}

	item := domain.NewStockItem(productID).WithPolicy(s.policy)
	created, err := s.repo.Create(ctx, item)
	s.metrics.Operations.WithLabelValues("provision", outcome(err)).Inc()
	if err != nil {
		if key != "" {
			// A retry of the same message must reach the store again.
			if rerr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); rerr != nil {
				s.log.Error().Err(rerr).Str("message_id", messageID).Msg("failed to release idempotency key")
			}
		}
		return false, fmt.Errorf("provision %s: %w", productID, err)
	}

	if created {
		s.log.Info().Str("product_id", productID).Str("stock_item_id", item.ID()).Msg("stock item provisioned")
	} else {
		s.log.Info().Str("product_id", productID).Msg("stock item already exists, skipping")
	}
	return created, nil
}

func (s *StockService) Reserve(ctx context.Context, productID string, quantity int) (*ReserveResult, error) {
	var reservationID string
	item, events, now, err := s.execute(ctx, "reserve", s.byProduct(productID),
		func(item *domain.StockItem, now time.Time) ([]domain.Event, []domain.Adjustment, error) {
			id, events, err := item.Reserve(quantity, now)
			if err != nil {
				return nil, nil, err
			}
			reservationID = id
			return events, nil, nil
		})
	if err != nil {
		return nil, err
	}

	r, _ := item.Reservation(reservationID)
	return &ReserveResult{
		StockItemID:   item.ID(),
		ReservationID: reservationID,
		ExpiresAt:     r.ExpiresAt,
		Available:     item.AvailableQuantity(now),
		Events:        events,
	}, nil
}

// ReleaseReservation frees a reservation. Releasing one that is already gone
// is not an error; an unknown stock item is.
func (s *StockService) ReleaseReservation(ctx context.Context, stockItemID, reservationID string) ([]domain.Event, error) {
	return s.release(ctx, s.byID(stockItemID), reservationID)
}

func (s *StockService) ReleaseProductReservation(ctx context.Context, productID, reservationID string) ([]domain.Event, error) {
	return s.release(ctx, s.byProduct(productID), reservationID)
}

func (s *StockService) release(ctx context.Context, load loadFunc, reservationID string) ([]domain.Event, error) {
	_, events, _, err := s.execute(ctx, "release", load,
		func(item *domain.StockItem, now time.Time) ([]domain.Event, []domain.Adjustment, error) {
			return item.ReleaseReservation(reservationID), nil, nil
		})
	return events, err
}

// AdjustStock changes on-hand quantity and records the audit entry in the same write.
func (s *StockService) AdjustStock(ctx context.Context, productID string, delta int, reason, actor string) (*AdjustResult, error) {
	item, events, now, err := s.execute(ctx, "adjust", s.byProduct(productID),
		func(item *domain.StockItem, now time.Time) ([]domain.Event, []domain.Adjustment, error) {
			events, err := item.AdjustStock(delta, now)
			if err != nil {
				return nil, nil, err
			}
			return events, domain.AdjustmentsFrom(events, reason, actor, now), nil
		})
	if err != nil {
		return nil, err
	}

	return &AdjustResult{
		StockItemID:    item.ID(),
		QuantityOnHand: item.QuantityOnHand(),
		Available:      item.AvailableQuantity(now),
		Events:         events,
	}, nil
}

// CommitReservation turns a live reservation into a permanent deduction:
// on-hand drops by the reserved quantity and the hold is released, in one write.
func (s *StockService) CommitReservation(ctx context.Context, productID, reservationID string) ([]domain.Event, error) {
	_, events, _, err := s.execute(ctx, "commit", s.byProduct(productID),
		func(item *domain.StockItem, now time.Time) ([]domain.Event, []domain.Adjustment, error) {
			r, ok := item.Reservation(reservationID)
			if !ok || !r.IsActive(now) {
				return nil, nil, fmt.Errorf("reservation %s: %w", reservationID, domain.ErrNotFound)
			}

			adjusted, err := item.AdjustStock(-r.Quantity, now)
			if err != nil {
				return nil, nil, err
			}
			released := item.ReleaseReservation(reservationID)

			return append(adjusted, released...), domain.AdjustmentsFrom(adjusted, commitReason, systemActor, now), nil
		})
	return events, err
}

// ReserveBatch reserves every line or none: on the first failure the
// reservations already taken are released and the failure is returned.
func (s *StockService) ReserveBatch(ctx context.Context, lines []OrderLine) ([]LineReservation, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", domain.ErrInvalidArgument)
	}

	taken := make([]LineReservation, 0, len(lines))
	for _, line := range lines {
		res, err := s.Reserve(ctx, line.ProductID, line.Quantity)
		if err != nil {
			s.compensate(context.WithoutCancel(ctx), taken)
			return nil, fmt.Errorf("reserve %s: %w", line.ProductID, err)
		}
		taken = append(taken, LineReservation{
			ProductID:     line.ProductID,
			StockItemID:   res.StockItemID,
			ReservationID: res.ReservationID,
			Quantity:      line.Quantity,
		})
	}
	return taken, nil
}

func (s *StockService) compensate(ctx context.Context, taken []LineReservation) {
	for _, r := range taken {
		if _, err := s.ReleaseReservation(ctx, r.StockItemID, r.ReservationID); err != nil {
			// Left to expire on its own.
			s.log.Error().Err(err).Str("reservation_id", r.ReservationID).Msg("failed to release reservation during compensation")
		}
	}
}

// ReadAvailableQuantity reports what can still be reserved. Products without
// a stock item read as zero.
func (s *StockService) ReadAvailableQuantity(ctx context.Context, productID string) (int, error) {
	if s.cache != nil {
		qty, ok, err := s.cache.GetAvailable(ctx, productID)
		if err != nil {
			s.log.Warn().Err(err).Str("product_id", productID).Msg("available cache read failed")
		} else if ok {
			return qty, nil
		}
	}

	item, err := s.repo.LoadByProduct(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	now := s.now()
	s.cacheAvailable(ctx, item, now)
	return item.AvailableQuantity(now), nil
}

// StockLevels returns one level per requested product, in request order.
func (s *StockService) StockLevels(ctx context.Context, productIDs []string) ([]StockLevel, error) {
	items, err := s.repo.LoadByProducts(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[string]*domain.StockItem, len(items))
	for _, item := range items {
		byProduct[item.ProductID()] = item
	}

	now := s.now()
	levels := make([]StockLevel, 0, len(productIDs))
	for _, pid := range productIDs {
		item, ok := byProduct[pid]
		if !ok {
			levels = append(levels, StockLevel{ProductID: pid})
			continue
		}
		available := item.AvailableQuantity(now)
		levels = append(levels, StockLevel{
			ProductID:      pid,
			QuantityOnHand: item.QuantityOnHand(),
			Available:      available,
			InStock:        available > 0,
			LowStock:       available > 0 && available <= s.policy.LowStockThreshold,
		})
	}
	return levels, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
