package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateRecord is the canonical representation of one exchange-rate observation.
// Exactly one "current" row exists per (CurrencyCode, BaseCurrency); history
// rows are append-only, keyed by (CurrencyCode, BaseCurrency, ObservedAt).
type RateRecord struct {
	CurrencyCode string          `json:"currencyCode"` // e.g., "USD"
	BaseCurrency string          `json:"baseCurrency"` // e.g., "KRW"
	MidRate      decimal.Decimal `json:"midRate"`
	BuyRate      decimal.Decimal `json:"buyRate"`  // remittance receive rate
	SellRate     decimal.Decimal `json:"sellRate"` // remittance send rate
	Source       string          `json:"source"`
	ObservedAt   time.Time       `json:"observedAt"`
	PersistedAt  time.Time       `json:"persistedAt"`
}

// ProviderQuote is a raw mid-rate observation from an upstream provider,
// before normalization into a RateRecord.
type ProviderQuote struct {
	CurrencyCode string
	MidRate      decimal.Decimal
	ObservedAt   time.Time
}

// Remittance spreads applied when a provider quotes only a mid rate.
var (
	sellSpread = decimal.NewFromFloat(1.02)
	buySpread  = decimal.NewFromFloat(0.98)
)

// NewRateRecord normalizes a provider quote into a RateRecord.
func NewRateRecord(quote ProviderQuote, baseCurrency, source string) RateRecord {
	return RateRecord{
		CurrencyCode: quote.CurrencyCode,
		BaseCurrency: baseCurrency,
		MidRate:      quote.MidRate,
		SellRate:     quote.MidRate.Mul(sellSpread),
		BuyRate:      quote.MidRate.Mul(buySpread),
		Source:       source,
		ObservedAt:   quote.ObservedAt,
	}
}

// CacheEntry is a cached RateRecord snapshot with a logical TTL. Adapters
// retain entries past expiry (bounded) so an unreachable canonical store can
// still be answered with an explicitly-stale value.
type CacheEntry struct {
	Record   RateRecord    `json:"record"`
	StoredAt time.Time     `json:"storedAt"`
	TTL      time.Duration `json:"ttl"`
}

// Expired reports whether the entry's logical TTL has elapsed.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.After(e.StoredAt.Add(e.TTL))
}

// CacheKey builds the private-cache key for a currency code.
func CacheKey(currencyCode string) string {
	return "rate:" + currencyCode
}
