package ports

import (
	"context"

	"github.com/fxsync/ratesync/internal/core/domain"
)

// RateProvider fetches quotes from one upstream source. FetchRates returns a
// quote per requested symbol; a symbol missing from the result means that
// symbol failed upstream and is skipped for the cycle. A returned error means
// the source is unavailable as a whole (apperrors.ErrUpstreamUnavailable).
type RateProvider interface {
	Name() string
	FetchRates(ctx context.Context, baseCurrency string, symbols []string) (map[string]domain.ProviderQuote, error)
}
