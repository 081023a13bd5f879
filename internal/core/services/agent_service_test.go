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

type CacheAgentTestSuite struct {
	suite.Suite
	cache *MockRateCache
	repo  *MockRateRepository
	agent *services.CacheAgent
}

func (s *CacheAgentTestSuite) SetupTest() {
	s.cache = new(MockRateCache)
	s.repo = new(MockRateRepository)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.agent = services.NewCacheAgent(s.cache, s.repo, logger)
}

func rateUpdatedAt(code string, observed time.Time) domain.RateUpdated {
	return domain.RateUpdated{
		CurrencyCode: code,
		BaseCurrency: "KRW",
		MidRate:      decimal.NewFromFloat(1350.5),
		Source:       "exchangerate_api",
		ObservedAt:   observed,
	}
}

func (s *CacheAgentTestSuite) TestRateUpdated_InvalidatesKey() {
	ctx := context.Background()
	observed := time.Date(2025, 8, 26, 9, 0, 0, 0, time.UTC)
	s.cache.On("Delete", ctx, []string{"rate:USD"}).Return(nil).Once()

	err := s.agent.HandleRateUpdated(ctx, rateUpdatedAt("USD", observed))

	s.Require().NoError(err)
	s.cache.AssertExpectations(s.T())
}

func (s *CacheAgentTestSuite) TestRateUpdated_RedeliveryIsIdempotent() {
	ctx := context.Background()
	observed := time.Date(2025, 8, 26, 9, 0, 0, 0, time.UTC)
	ev := rateUpdatedAt("USD", observed)

	s.cache.On("Delete", ctx, []string{"rate:USD"}).Return(nil).Once()

	s.Require().NoError(s.agent.HandleRateUpdated(ctx, ev))
	s.Require().NoError(s.agent.HandleRateUpdated(ctx, ev))

	// The duplicate must not trigger a second invalidation.
	s.cache.AssertNumberOfCalls(s.T(), "Delete", 1)
}

func (s *CacheAgentTestSuite) TestRateUpdated_ReorderedDeliveryKeepsNewest() {
	ctx := context.Background()
	older := time.Date(2025, 8, 26, 9, 0, 0, 0, time.UTC)
	newer := older.Add(5 * time.Minute)

	s.cache.On("Delete", ctx, []string{"rate:USD"}).Return(nil).Once()

	// Newest observation arrives first, the older one is redelivered late.
	s.Require().NoError(s.agent.HandleRateUpdated(ctx, rateUpdatedAt("USD", newer)))
	s.Require().NoError(s.agent.HandleRateUpdated(ctx, rateUpdatedAt("USD", older)))

	s.cache.AssertNumberOfCalls(s.T(), "Delete", 1)
}

func (s *CacheAgentTestSuite) TestRateUpdated_CacheFailurePropagatesForRetry() {
	ctx := context.Background()
	observed := time.Date(2025, 8, 26, 9, 0, 0, 0, time.UTC)
	s.cache.On("Delete", ctx, []string{"rate:USD"}).
		Return(fmt.Errorf("conn refused: %w", apperrors.ErrBusUnavailable)).Once()
	s.cache.On("Delete", ctx, []string{"rate:USD"}).Return(nil).Once()

	ev := rateUpdatedAt("USD", observed)
	s.Require().Error(s.agent.HandleRateUpdated(ctx, ev))
	// A failed invalidation must not advance the watermark: the redelivered
	// event still does the work.
	s.Require().NoError(s.agent.HandleRateUpdated(ctx, ev))
	s.cache.AssertExpectations(s.T())
}

func (s *CacheAgentTestSuite) TestBatchProcessed_RepairsMissedUpdate() {
	ctx := context.Background()
	cycleStart := time.Date(2025, 8, 26, 9, 0, 0, 0, time.UTC)
	observed := cycleStart.Add(time.Second)

	// The agent saw USD's update event but missed JPY's.
	s.cache.On("Delete", ctx, []string{"rate:USD"}).Return(nil).Once()
	s.Require().NoError(s.agent.HandleRateUpdated(ctx, rateUpdatedAt("USD", observed)))

	persisted := []domain.RateRecord{
		{CurrencyCode: "USD", BaseCurrency: "KRW", ObservedAt: observed},
		{CurrencyCode: "JPY", BaseCurrency: "KRW", ObservedAt: observed},
	}
	s.repo.On("ListUpdatedSince", ctx, cycleStart).Return(persisted, nil).Once()
	s.cache.On("Delete", ctx, []string{"rate:JPY"}).Return(nil).Once()

	err := s.agent.HandleBatchProcessed(ctx, domain.BatchProcessed{
		Source:     "exchangerate_api",
		CycleStart: cycleStart,
	})

	s.Require().NoError(err)
	// USD was already applied: only JPY is repaired.
	s.cache.AssertExpectations(s.T())
}

func (s *CacheAgentTestSuite) TestBatchProcessed_StoreFailurePropagates() {
	ctx := context.Background()
	cycleStart := time.Date(2025, 8, 26, 9, 0, 0, 0, time.UTC)
	s.repo.On("ListUpdatedSince", ctx, cycleStart).
		Return(nil, fmt.Errorf("query: %w", apperrors.ErrPersistence)).Once()

	err := s.agent.HandleBatchProcessed(ctx, domain.BatchProcessed{CycleStart: cycleStart})
	s.Require().ErrorIs(err, apperrors.ErrPersistence)
}

func (s *CacheAgentTestSuite) TestCacheInvalidate_DropsUnconditionally() {
	ctx := context.Background()
	observed := time.Date(2025, 8, 26, 9, 0, 0, 0, time.UTC)

	s.cache.On("Delete", ctx, []string{"rate:USD"}).Return(nil)
	s.Require().NoError(s.agent.HandleRateUpdated(ctx, rateUpdatedAt("USD", observed)))

	s.cache.On("Delete", ctx, []string{"rate:USD", "rate:JPY"}).Return(nil).Once()
	err := s.agent.HandleCacheInvalidate(ctx, domain.CacheInvalidate{
		Keys:   []string{"rate:USD", "rate:JPY"},
		Reason: "manual flush",
	})
	s.Require().NoError(err)

	// The forced invalidation resets the watermark, so an event older than
	// the previously-applied one is honored again.
	s.Require().NoError(s.agent.HandleRateUpdated(ctx, rateUpdatedAt("USD", observed.Add(-time.Hour))))
	s.cache.AssertNumberOfCalls(s.T(), "Delete", 3)
}

func (s *CacheAgentTestSuite) TestCacheInvalidate_EmptyKeysIsNoop() {
	err := s.agent.HandleCacheInvalidate(context.Background(), domain.CacheInvalidate{Reason: "noop"})
	s.Require().NoError(err)
	s.cache.AssertNotCalled(s.T(), "Delete", mock.Anything, mock.Anything)
}

func TestCacheAgentTestSuite(t *testing.T) {
	suite.Run(t, new(CacheAgentTestSuite))
}
