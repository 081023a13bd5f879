package ports

import (
	"context"
	"time"

	"github.com/fxsync/ratesync/internal/core/domain"
)

// RateReader defines read operations against the canonical store.
type RateReader interface {
	// GetCurrent retrieves the single current record for a currency code.
	// Returns apperrors.ErrNotFound when no record exists.
	GetCurrent(ctx context.Context, currencyCode string) (*domain.RateRecord, error)
	// GetHistory retrieves historical records for a currency code within
	// [from, to], ordered by ObservedAt ascending.
	GetHistory(ctx context.Context, currencyCode string, from, to time.Time) ([]domain.RateRecord, error)
	// ListUpdatedSince returns current records persisted at or after the
	// given instant. Used by consumers to run delta reconciliation sweeps.
	ListUpdatedSince(ctx context.Context, since time.Time) ([]domain.RateRecord, error)
}

// RateWriter defines write operations against the canonical store.
type RateWriter interface {
	// Save upserts the current row and appends a history row in one
	// transaction. Re-saving an already-seen observation (same currency
	// code + observed at) must not duplicate history rows.
	Save(ctx context.Context, record domain.RateRecord) error
}

// RateRepository combines read and write access to the canonical store.
type RateRepository interface {
	RateReader
	RateWriter
}
