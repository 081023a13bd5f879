package services_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fxsync/ratesync/internal/apperrors"
	"github.com/fxsync/ratesync/internal/core/domain"
	"github.com/fxsync/ratesync/internal/core/services"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type RateReadServiceTestSuite struct {
	suite.Suite
	cache   *MockRateCache
	repo    *MockRateRepository
	service *services.RateReadService
}

func (s *RateReadServiceTestSuite) SetupTest() {
	s.cache = new(MockRateCache)
	s.repo = new(MockRateRepository)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = services.NewRateReadService(s.cache, s.repo, 10*time.Minute, domain.QualityConfig{
		MinValidPoints:     10,
		MaxOutlierFraction: 0.30,
		SanityCeiling:      10000,
	}, logger)
}

func usdRecord(mid float64) *domain.RateRecord {
	return &domain.RateRecord{
		CurrencyCode: "USD",
		BaseCurrency: "KRW",
		MidRate:      decimal.NewFromFloat(mid),
		Source:       "exchangerate_api",
		ObservedAt:   time.Date(2025, 8, 26, 9, 0, 0, 0, time.UTC),
	}
}

func (s *RateReadServiceTestSuite) TestGetCurrent_MissReadsStoreAndRepopulates() {
	ctx := context.Background()
	record := usdRecord(1350.5)

	s.cache.On("Get", ctx, "rate:USD").Return(nil, false, nil).Once()
	s.repo.On("GetCurrent", ctx, "USD").Return(record, nil).Once()
	s.cache.On("Set", ctx, "rate:USD", *record, 10*time.Minute).Return(nil).Once()

	got, err := s.service.GetCurrent(ctx, "usd")

	s.Require().NoError(err)
	s.Equal("1350.5", got.Record.MidRate.String())
	s.False(got.Stale)
	s.cache.AssertExpectations(s.T())
	s.repo.AssertExpectations(s.T())
}

func (s *RateReadServiceTestSuite) TestGetCurrent_FreshHitSkipsStore() {
	ctx := context.Background()
	record := usdRecord(1350.5)
	entry := &domain.CacheEntry{Record: *record, StoredAt: time.Now(), TTL: 10 * time.Minute}

	s.cache.On("Get", ctx, "rate:USD").Return(entry, true, nil).Once()

	got, err := s.service.GetCurrent(ctx, "USD")

	s.Require().NoError(err)
	s.Equal("1350.5", got.Record.MidRate.String())
	s.False(got.Stale)
	s.repo.AssertNotCalled(s.T(), "GetCurrent", mock.Anything, mock.Anything)
}

func (s *RateReadServiceTestSuite) TestGetCurrent_ExpiredEntryRefreshedFromStore() {
	ctx := context.Background()
	stale := usdRecord(1340.0)
	fresh := usdRecord(1355.0)
	entry := &domain.CacheEntry{Record: *stale, StoredAt: time.Now().Add(-time.Hour), TTL: 10 * time.Minute}

	s.cache.On("Get", ctx, "rate:USD").Return(entry, true, nil).Once()
	s.repo.On("GetCurrent", ctx, "USD").Return(fresh, nil).Once()
	s.cache.On("Set", ctx, "rate:USD", *fresh, 10*time.Minute).Return(nil).Once()

	got, err := s.service.GetCurrent(ctx, "USD")

	s.Require().NoError(err)
	s.Equal("1355", got.Record.MidRate.String())
	s.False(got.Stale)
}

func (s *RateReadServiceTestSuite) TestGetCurrent_StoreDownServesStale() {
	ctx := context.Background()
	record := usdRecord(1340.0)
	entry := &domain.CacheEntry{Record: *record, StoredAt: time.Now().Add(-time.Hour), TTL: 10 * time.Minute}

	s.cache.On("Get", ctx, "rate:USD").Return(entry, true, nil).Once()
	s.repo.On("GetCurrent", ctx, "USD").
		Return(nil, fmt.Errorf("pool closed: %w", apperrors.ErrPersistence)).Once()

	got, err := s.service.GetCurrent(ctx, "USD")

	s.Require().NoError(err)
	s.True(got.Stale)
	s.Equal("1340", got.Record.MidRate.String())
}

func (s *RateReadServiceTestSuite) TestGetCurrent_StoreDownNoEntryFails() {
	ctx := context.Background()
	s.cache.On("Get", ctx, "rate:USD").Return(nil, false, nil).Once()
	s.repo.On("GetCurrent", ctx, "USD").
		Return(nil, fmt.Errorf("pool closed: %w", apperrors.ErrPersistence)).Once()

	_, err := s.service.GetCurrent(ctx, "USD")
	s.Require().ErrorIs(err, apperrors.ErrPersistence)
}

func (s *RateReadServiceTestSuite) TestGetCurrent_UnknownCurrencyIsNotFound() {
	ctx := context.Background()
	s.cache.On("Get", ctx, "rate:XXX").Return(nil, false, nil).Once()
	s.repo.On("GetCurrent", ctx, "XXX").Return(nil, apperrors.ErrNotFound).Once()

	_, err := s.service.GetCurrent(ctx, "XXX")
	s.Require().ErrorIs(err, apperrors.ErrNotFound)
}

func (s *RateReadServiceTestSuite) TestGetCurrent_RejectsMalformedCode() {
	_, err := s.service.GetCurrent(context.Background(), "DOLLARS")
	s.Require().ErrorIs(err, apperrors.ErrValidation)
	s.cache.AssertNotCalled(s.T(), "Get", mock.Anything, mock.Anything)
}

func (s *RateReadServiceTestSuite) TestGetHistory_RejectsInvertedWindow() {
	to := time.Date(2025, 8, 26, 0, 0, 0, 0, time.UTC)
	from := to.Add(time.Hour)
	_, err := s.service.GetHistory(context.Background(), "USD", from, to)
	s.Require().ErrorIs(err, apperrors.ErrValidation)
}

func historyWindow(count int, base float64, step float64) []domain.RateRecord {
	start := time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)
	records := make([]domain.RateRecord, 0, count)
	for i := 0; i < count; i++ {
		records = append(records, domain.RateRecord{
			CurrencyCode: "USD",
			BaseCurrency: "KRW",
			MidRate:      decimal.NewFromFloat(base + step*float64(i)),
			ObservedAt:   start.Add(time.Duration(i) * time.Hour),
		})
	}
	return records
}

func (s *RateReadServiceTestSuite) TestGetStatistics_RisingWindow() {
	ctx := context.Background()
	from := time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	// 20 points climbing from 1300 to 1319.
	s.repo.On("GetHistory", ctx, "USD", from, to).Return(historyWindow(20, 1300, 1), nil).Once()

	stats, err := s.service.GetStatistics(ctx, "USD", from, to)

	s.Require().NoError(err)
	s.Equal(20, stats.Count)
	s.InDelta(1300.0, stats.Min, 0.001)
	s.InDelta(1319.0, stats.Max, 0.001)
	s.InDelta(1309.5, stats.Average, 0.001)
	s.Equal("rising", stats.Trend)
	s.Greater(stats.Volatility, 0.0)
}

func (s *RateReadServiceTestSuite) TestGetStatistics_StableWindow() {
	ctx := context.Background()
	from := time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	s.repo.On("GetHistory", ctx, "USD", from, to).Return(historyWindow(20, 1300, 0), nil).Once()

	stats, err := s.service.GetStatistics(ctx, "USD", from, to)

	s.Require().NoError(err)
	s.Equal("stable", stats.Trend)
	s.InDelta(0.0, stats.Volatility, 0.0001)
}

func (s *RateReadServiceTestSuite) TestGetStatistics_SinglePointWindowIsStable() {
	ctx := context.Background()
	from := time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := services.NewRateReadService(s.cache, s.repo, 10*time.Minute, domain.QualityConfig{
		MinValidPoints:     1,
		MaxOutlierFraction: 0.30,
		SanityCeiling:      10000,
	}, logger)

	s.repo.On("GetHistory", ctx, "USD", from, to).Return(historyWindow(1, 1350.5, 0), nil).Once()

	stats, err := service.GetStatistics(ctx, "USD", from, to)

	s.Require().NoError(err)
	s.Equal(1, stats.Count)
	s.Equal("stable", stats.Trend)
	s.InDelta(1350.5, stats.Average, 0.001)
	s.InDelta(0.0, stats.Volatility, 0.0001)
}

func (s *RateReadServiceTestSuite) TestGetStatistics_TooFewPointsIsInsufficient() {
	ctx := context.Background()
	from := time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	s.repo.On("GetHistory", ctx, "USD", from, to).Return(historyWindow(5, 1300, 1), nil).Once()

	_, err := s.service.GetStatistics(ctx, "USD", from, to)
	s.Require().ErrorIs(err, apperrors.ErrDataInsufficient)
}

func (s *RateReadServiceTestSuite) TestGetStatistics_InvalidPointsDoNotCount() {
	ctx := context.Background()
	from := time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	// 9 sane points plus one absurd one: still below the 10-point minimum.
	records := historyWindow(9, 1300, 1)
	records = append(records, domain.RateRecord{
		CurrencyCode: "USD",
		MidRate:      decimal.NewFromInt(50000),
		ObservedAt:   from.Add(10 * time.Hour),
	})
	s.repo.On("GetHistory", ctx, "USD", from, to).Return(records, nil).Once()

	_, err := s.service.GetStatistics(ctx, "USD", from, to)
	s.Require().ErrorIs(err, apperrors.ErrDataInsufficient)
}

func TestRateReadServiceTestSuite(t *testing.T) {
	suite.Run(t, new(RateReadServiceTestSuite))
}
