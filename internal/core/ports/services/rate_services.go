package services

import (
	"context"
	"time"

	"github.com/fxsync/ratesync/internal/core/domain"
	coresvc "github.com/fxsync/ratesync/internal/core/services"
)

// RateQuerySvcFacade is the read-side surface exposed to transport handlers.
type RateQuerySvcFacade interface {
	// GetCurrent answers cache-first; the result is marked stale when it was
	// served from an expired cache entry because the store was unreachable.
	GetCurrent(ctx context.Context, currencyCode string) (*coresvc.CurrentRate, error)
	// GetHistory returns observations within [from, to], oldest first.
	GetHistory(ctx context.Context, currencyCode string, from, to time.Time) ([]domain.RateRecord, error)
	// GetStatistics aggregates a history window, applying the data-quality
	// gate before computing anything.
	GetStatistics(ctx context.Context, currencyCode string, from, to time.Time) (*coresvc.RateStatistics, error)
}
