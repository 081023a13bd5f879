package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/fxsync/ratesync/internal/apperrors"
	"github.com/fxsync/ratesync/internal/core/domain"
	"github.com/fxsync/ratesync/internal/core/ports"
)

// CurrentRate is a read-side answer. Stale marks a value served from an
// expired cache entry because the canonical store was unreachable.
type CurrentRate struct {
	Record domain.RateRecord
	Stale  bool
}

// RateStatistics aggregates a history window that passed the quality gate.
type RateStatistics struct {
	CurrencyCode string
	Count        int
	Min          float64
	Max          float64
	Average      float64
	Volatility   float64
	Trend        string // "rising", "falling" or "stable"
	From         time.Time
	To           time.Time
}

// RateReadService answers rate queries cache-first, falling back to the
// canonical store on a miss and repopulating the cache on the way out.
type RateReadService struct {
	cache    ports.RateCache
	repo     ports.RateReader
	cacheTTL time.Duration
	quality  domain.QualityConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewRateReadService creates a RateReadService.
func NewRateReadService(cache ports.RateCache, repo ports.RateReader, cacheTTL time.Duration, quality domain.QualityConfig, logger *slog.Logger) *RateReadService {
	return &RateReadService{
		cache:    cache,
		repo:     repo,
		cacheTTL: cacheTTL,
		quality:  quality,
		logger:   logger,
		now:      time.Now,
	}
}

// GetCurrent returns the latest rate for a currency code. Fresh cache entries
// are served directly; a miss or expired entry goes to the store and the
// result is written back with the configured TTL. When the store is down and
// an expired entry is still retained, it is served marked stale.
func (s *RateReadService) GetCurrent(ctx context.Context, currencyCode string) (*CurrentRate, error) {
	code, err := normalizeCode(currencyCode)
	if err != nil {
		return nil, err
	}
	key := domain.CacheKey(code)

	entry, found, cacheErr := s.cache.Get(ctx, key)
	if cacheErr != nil {
		s.logger.Warn("cache read failed, falling through to store",
			slog.String("currency", code),
			slog.String("error", cacheErr.Error()),
		)
	}
	if found && !entry.Expired(s.now()) {
		return &CurrentRate{Record: entry.Record}, nil
	}

	record, err := s.repo.GetCurrent(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		if found {
			s.logger.Warn("store unreachable, serving stale cache entry",
				slog.String("currency", code),
				slog.Time("stored_at", entry.StoredAt),
				slog.String("error", err.Error()),
			)
			return &CurrentRate{Record: entry.Record, Stale: true}, nil
		}
		return nil, fmt.Errorf("read current rate for %s: %w", code, err)
	}

	if err := s.cache.Set(ctx, key, *record, s.cacheTTL); err != nil {
		s.logger.Warn("cache repopulation failed",
			slog.String("currency", code),
			slog.String("error", err.Error()),
		)
	}
	return &CurrentRate{Record: *record}, nil
}

// GetHistory returns the observations for a currency within [from, to],
// oldest first. History always comes from the canonical store.
func (s *RateReadService) GetHistory(ctx context.Context, currencyCode string, from, to time.Time) ([]domain.RateRecord, error) {
	code, err := normalizeCode(currencyCode)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: history window end precedes start", apperrors.ErrValidation)
	}
	return s.repo.GetHistory(ctx, code, from, to)
}

// GetStatistics aggregates a history window into summary statistics. The
// window must pass the data-quality gate; otherwise ErrDataInsufficient is
// returned rather than a statistic computed from bad data.
func (s *RateReadService) GetStatistics(ctx context.Context, currencyCode string, from, to time.Time) (*RateStatistics, error) {
	records, err := s.GetHistory(ctx, currencyCode, from, to)
	if err != nil {
		return nil, err
	}

	points := make([]domain.ObservationPoint, 0, len(records))
	for _, r := range records {
		points = append(points, domain.ObservationPoint{
			Value:     r.MidRate.InexactFloat64(),
			Timestamp: r.ObservedAt,
		})
	}

	verdict := domain.EvaluateQuality(points, s.quality)
	if !verdict.Sufficient {
		return nil, fmt.Errorf("%w: %d valid points, need %d", apperrors.ErrDataInsufficient, verdict.Valid, s.quality.MinValidPoints)
	}
	if !verdict.Passed {
		return nil, fmt.Errorf("%w: %d of %d points are outliers", apperrors.ErrDataInsufficient, verdict.Outliers, verdict.Valid)
	}

	stats := computeStatistics(points, s.quality)
	stats.CurrencyCode = strings.ToUpper(currencyCode)
	stats.From = from
	stats.To = to
	return &stats, nil
}

// computeStatistics summarizes the valid points of a window that already
// passed the gate. Volatility is the population standard deviation; trend
// compares the means of the window's two halves against a 0.1% band.
func computeStatistics(points []domain.ObservationPoint, cfg domain.QualityConfig) RateStatistics {
	values := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Value <= 0 || p.Value >= cfg.SanityCeiling || p.Timestamp.IsZero() {
			continue
		}
		values = append(values, p.Value)
	}

	stats := RateStatistics{Count: len(values), Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
		sum += v
	}
	stats.Average = sum / float64(len(values))

	var sumSq float64
	for _, v := range values {
		d := v - stats.Average
		sumSq += d * d
	}
	stats.Volatility = math.Sqrt(sumSq / float64(len(values)))

	half := len(values) / 2
	if half == 0 {
		stats.Trend = "stable"
		return stats
	}
	firstMean := mean(values[:half])
	secondMean := mean(values[half:])
	switch {
	case secondMean > firstMean*1.001:
		stats.Trend = "rising"
	case secondMean < firstMean*0.999:
		stats.Trend = "falling"
	default:
		stats.Trend = "stable"
	}
	return stats
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func normalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: currency codes must be 3 letters", apperrors.ErrValidation)
	}
	return code, nil
}
