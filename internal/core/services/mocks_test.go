package services_test

import (
	"context"
	"time"

	"github.com/fxsync/ratesync/internal/core/domain"
	"github.com/stretchr/testify/mock"
)

// --- Mock RateRepository ---
type MockRateRepository struct {
	mock.Mock
}

func (m *MockRateRepository) Save(ctx context.Context, record domain.RateRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockRateRepository) GetCurrent(ctx context.Context, currencyCode string) (*domain.RateRecord, error) {
	args := m.Called(ctx, currencyCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RateRecord), args.Error(1)
}

func (m *MockRateRepository) GetHistory(ctx context.Context, currencyCode string, from, to time.Time) ([]domain.RateRecord, error) {
	args := m.Called(ctx, currencyCode, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RateRecord), args.Error(1)
}

func (m *MockRateRepository) ListUpdatedSince(ctx context.Context, since time.Time) ([]domain.RateRecord, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RateRecord), args.Error(1)
}

// --- Mock RateCache ---
type MockRateCache struct {
	mock.Mock
}

func (m *MockRateCache) Get(ctx context.Context, key string) (*domain.CacheEntry, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.CacheEntry), args.Bool(1), args.Error(2)
}

func (m *MockRateCache) Set(ctx context.Context, key string, record domain.RateRecord, ttl time.Duration) error {
	args := m.Called(ctx, key, record, ttl)
	return args.Error(0)
}

func (m *MockRateCache) Delete(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

// --- Mock EventPublisher ---
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, env domain.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

func (m *MockEventPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Mock RateProvider ---
type MockRateProvider struct {
	mock.Mock
	name string
}

func (m *MockRateProvider) Name() string {
	return m.name
}

func (m *MockRateProvider) FetchRates(ctx context.Context, baseCurrency string, symbols []string) (map[string]domain.ProviderQuote, error) {
	args := m.Called(ctx, baseCurrency, symbols)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]domain.ProviderQuote), args.Error(1)
}
