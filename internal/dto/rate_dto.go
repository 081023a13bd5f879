package dto

import (
	"time"

	"github.com/fxsync/ratesync/internal/core/domain"
	"github.com/fxsync/ratesync/internal/core/services"
	"github.com/shopspring/decimal"
)

// RateResponse is the API shape of one exchange-rate observation. Stale is
// true when the value was served from an expired cache entry while the
// canonical store was unreachable.
type RateResponse struct {
	CurrencyCode string          `json:"currencyCode"`
	BaseCurrency string          `json:"baseCurrency"`
	MidRate      decimal.Decimal `json:"midRate"`
	BuyRate      decimal.Decimal `json:"buyRate"`
	SellRate     decimal.Decimal `json:"sellRate"`
	Source       string          `json:"source"`
	ObservedAt   time.Time       `json:"observedAt"`
	Stale        bool            `json:"stale"`
}

// ToRateResponse converts a read-side answer into its API shape.
func ToRateResponse(current *services.CurrentRate) RateResponse {
	r := current.Record
	return RateResponse{
		CurrencyCode: r.CurrencyCode,
		BaseCurrency: r.BaseCurrency,
		MidRate:      r.MidRate,
		BuyRate:      r.BuyRate,
		SellRate:     r.SellRate,
		Source:       r.Source,
		ObservedAt:   r.ObservedAt,
		Stale:        current.Stale,
	}
}

// HistoryWindowQuery carries the from/to bounds of a history or statistics
// request. Both are optional RFC3339 timestamps.
type HistoryWindowQuery struct {
	From time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00" binding:"omitempty"`
	To   time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00" binding:"omitempty,gtefield=From"`
}

// Window resolves the bound query into a concrete interval, defaulting to
// the trailing 24 hours ending now.
func (q HistoryWindowQuery) Window(now time.Time) (time.Time, time.Time) {
	to := q.To
	if to.IsZero() {
		to = now
	}
	from := q.From
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	return from, to
}

// HistoryResponse wraps a window of observations.
type HistoryResponse struct {
	CurrencyCode string         `json:"currencyCode"`
	From         time.Time      `json:"from"`
	To           time.Time      `json:"to"`
	Count        int            `json:"count"`
	Rates        []HistoryPoint `json:"rates"`
}

// HistoryPoint is one observation inside a history window.
type HistoryPoint struct {
	MidRate    decimal.Decimal `json:"midRate"`
	BuyRate    decimal.Decimal `json:"buyRate"`
	SellRate   decimal.Decimal `json:"sellRate"`
	Source     string          `json:"source"`
	ObservedAt time.Time       `json:"observedAt"`
}

// ToHistoryResponse converts a window of records into its API shape.
func ToHistoryResponse(currencyCode string, from, to time.Time, records []domain.RateRecord) HistoryResponse {
	points := make([]HistoryPoint, len(records))
	for i, r := range records {
		points[i] = HistoryPoint{
			MidRate:    r.MidRate,
			BuyRate:    r.BuyRate,
			SellRate:   r.SellRate,
			Source:     r.Source,
			ObservedAt: r.ObservedAt,
		}
	}
	return HistoryResponse{
		CurrencyCode: currencyCode,
		From:         from,
		To:           to,
		Count:        len(points),
		Rates:        points,
	}
}

// StatisticsResponse summarizes a history window that passed the
// data-quality gate.
type StatisticsResponse struct {
	CurrencyCode string    `json:"currencyCode"`
	Count        int       `json:"count"`
	Min          float64   `json:"min"`
	Max          float64   `json:"max"`
	Average      float64   `json:"average"`
	Volatility   float64   `json:"volatility"`
	Trend        string    `json:"trend"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
}

// ToStatisticsResponse converts computed statistics into their API shape.
func ToStatisticsResponse(stats *services.RateStatistics) StatisticsResponse {
	return StatisticsResponse{
		CurrencyCode: stats.CurrencyCode,
		Count:        stats.Count,
		Min:          stats.Min,
		Max:          stats.Max,
		Average:      stats.Average,
		Volatility:   stats.Volatility,
		Trend:        stats.Trend,
		From:         stats.From,
		To:           stats.To,
	}
}
