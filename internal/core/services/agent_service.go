package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fxsync/ratesync/internal/core/domain"
	"github.com/fxsync/ratesync/internal/core/ports"
)

// CacheAgent keeps one service's private cache consistent with the canonical
// store by reacting to bus events. It invalidates lazily: an update event
// drops the cached key, and the next read repopulates it from the store.
//
// The agent tracks a per-key watermark of the newest observation it has
// applied, so redelivered or out-of-order events are absorbed without
// clobbering fresher data.
type CacheAgent struct {
	cache  ports.RateCache
	repo   ports.RateReader
	logger *slog.Logger

	mu         sync.Mutex
	watermarks map[string]time.Time
}

// NewCacheAgent creates a CacheAgent for one consumer service.
func NewCacheAgent(cache ports.RateCache, repo ports.RateReader, logger *slog.Logger) *CacheAgent {
	return &CacheAgent{
		cache:      cache,
		repo:       repo,
		logger:     logger,
		watermarks: make(map[string]time.Time),
	}
}

// HandleDataBatchReceived only records that a collection cycle started;
// per-key work happens on the per-currency update events.
func (a *CacheAgent) HandleDataBatchReceived(ctx context.Context, ev domain.DataBatchReceived) error {
	a.logger.Info("collection cycle announced",
		slog.String("source", ev.Source),
		slog.Int("symbol_count", ev.SymbolCount),
		slog.String("correlation_id", ev.CorrelationID),
	)
	return nil
}

// HandleRateUpdated invalidates the cached entry for the updated currency.
// Events at or behind the key's watermark are duplicates or stale reorders
// and are dropped.
func (a *CacheAgent) HandleRateUpdated(ctx context.Context, ev domain.RateUpdated) error {
	key := domain.CacheKey(ev.CurrencyCode)

	a.mu.Lock()
	seen, ok := a.watermarks[key]
	if ok && !ev.ObservedAt.After(seen) {
		a.mu.Unlock()
		a.logger.Debug("ignoring already-applied rate event",
			slog.String("currency", ev.CurrencyCode),
			slog.Time("observed_at", ev.ObservedAt),
		)
		return nil
	}
	a.mu.Unlock()

	if err := a.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}

	a.mu.Lock()
	// Re-check under lock: a concurrent fresher event may have advanced it.
	if cur, ok := a.watermarks[key]; !ok || ev.ObservedAt.After(cur) {
		a.watermarks[key] = ev.ObservedAt
	}
	a.mu.Unlock()

	a.logger.Info("cache invalidated",
		slog.String("currency", ev.CurrencyCode),
		slog.Time("observed_at", ev.ObservedAt),
	)
	return nil
}

// HandleBatchProcessed runs a delta reconciliation sweep: every record the
// store persisted during the cycle is checked against the local watermark,
// and any update this agent missed is applied by invalidating the key.
func (a *CacheAgent) HandleBatchProcessed(ctx context.Context, ev domain.BatchProcessed) error {
	records, err := a.repo.ListUpdatedSince(ctx, ev.CycleStart)
	if err != nil {
		return fmt.Errorf("reconciliation sweep: %w", err)
	}

	var repaired int
	for _, record := range records {
		key := domain.CacheKey(record.CurrencyCode)

		a.mu.Lock()
		seen, ok := a.watermarks[key]
		a.mu.Unlock()
		if ok && !record.ObservedAt.After(seen) {
			continue
		}

		if err := a.cache.Delete(ctx, key); err != nil {
			return fmt.Errorf("reconcile %s: %w", key, err)
		}
		a.mu.Lock()
		if cur, ok := a.watermarks[key]; !ok || record.ObservedAt.After(cur) {
			a.watermarks[key] = record.ObservedAt
		}
		a.mu.Unlock()
		repaired++
	}

	a.logger.Info("reconciliation sweep complete",
		slog.String("source", ev.Source),
		slog.Int("records_checked", len(records)),
		slog.Int("repaired", repaired),
		slog.String("correlation_id", ev.CorrelationID),
	)
	return nil
}

// HandleCacheInvalidate drops the named keys unconditionally and forgets
// their watermarks, forcing the next read back to the canonical store.
func (a *CacheAgent) HandleCacheInvalidate(ctx context.Context, ev domain.CacheInvalidate) error {
	if len(ev.Keys) == 0 {
		return nil
	}
	if err := a.cache.Delete(ctx, ev.Keys...); err != nil {
		return fmt.Errorf("forced invalidation: %w", err)
	}

	a.mu.Lock()
	for _, key := range ev.Keys {
		delete(a.watermarks, key)
	}
	a.mu.Unlock()

	a.logger.Info("forced cache invalidation",
		slog.Int("keys", len(ev.Keys)),
		slog.String("reason", ev.Reason),
	)
	return nil
}
