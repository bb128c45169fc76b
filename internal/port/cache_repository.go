package port

import (
	"context"
	"time"
)

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency drops a key taken by SetIdempotency so the message can be handled again
	ReleaseIdempotency(ctx context.Context, key string) error

	// GetAvailable returns the cached available quantity, ok is false on a miss
	GetAvailable(ctx context.Context, productID string) (qty int, ok bool, err error)

	// SetAvailable caches the quantity computed from the item at version for at most ttl.
	// It is a no-op when a newer version has already been recorded for the product.
	SetAvailable(ctx context.Context, productID string, version int64, qty int, ttl time.Duration) error

	// InvalidateAvailable drops the cached quantity and remembers version for ttl,
	// so reads that loaded an older version cannot refill it
	InvalidateAvailable(ctx context.Context, productID string, version int64, ttl time.Duration) error
}

type Locker interface {
	// TryLock takes a lease on key, returns ok=false when someone else holds it
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Unlock releases the lease only if token still owns it
	Unlock(ctx context.Context, key, token string) error
}
