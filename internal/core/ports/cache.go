package ports

import (
	"context"
	"time"

	"github.com/fxsync/ratesync/internal/core/domain"
)

// RateCache is one service's private read-cache. Entries carry a logical TTL;
// implementations retain expired entries for a bounded period so stale-serve
// can still answer when the canonical store is unreachable.
type RateCache interface {
	// Get returns the entry for a key if present, expired or not. The
	// second return value is false when the key is unknown.
	Get(ctx context.Context, key string) (*domain.CacheEntry, bool, error)
	// Set stores a snapshot under the key with the given logical TTL.
	Set(ctx context.Context, key string, record domain.RateRecord, ttl time.Duration) error
	// Delete drops the given keys unconditionally. Missing keys are not an
	// error.
	Delete(ctx context.Context, keys ...string) error
}
