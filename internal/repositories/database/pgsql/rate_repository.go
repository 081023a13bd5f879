package pgsql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxsync/ratesync/internal/apperrors"
	"github.com/fxsync/ratesync/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxRateRepository implements ports.RateRepository against the canonical
// store: an exchange_rates_current table holding exactly one row per
// (currency_code, base_currency) and an append-only exchange_rate_history
// table keyed by (currency_code, base_currency, observed_at).
type PgxRateRepository struct {
	BaseRepository
	baseCurrency string
}

// NewPgxRateRepository creates a new PgxRateRepository scoped to the given
// base currency.
func NewPgxRateRepository(db *pgxpool.Pool, baseCurrency string) *PgxRateRepository {
	return &PgxRateRepository{
		BaseRepository: BaseRepository{Pool: db},
		baseCurrency:   strings.ToUpper(baseCurrency),
	}
}

// Save upserts the current row and appends a history row in one transaction.
// The current row is only replaced by a newer observation (last-observed
// wins); re-saving an already-seen observation leaves history untouched.
func (r *PgxRateRepository) Save(ctx context.Context, record domain.RateRecord) error {
	code := strings.ToUpper(record.CurrencyCode)
	base := strings.ToUpper(record.BaseCurrency)
	if len(code) != 3 || len(base) != 3 {
		return apperrors.NewValidationError("currency codes must be 3 letters")
	}
	persistedAt := time.Now().UTC()

	tx, err := r.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO exchange_rates_current (
			currency_code, base_currency, mid_rate, buy_rate, sell_rate,
			source, observed_at, persisted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (currency_code, base_currency) DO UPDATE SET
			mid_rate = EXCLUDED.mid_rate,
			buy_rate = EXCLUDED.buy_rate,
			sell_rate = EXCLUDED.sell_rate,
			source = EXCLUDED.source,
			observed_at = EXCLUDED.observed_at,
			persisted_at = EXCLUDED.persisted_at
		WHERE EXCLUDED.observed_at >= exchange_rates_current.observed_at`,
		code, base, record.MidRate, record.BuyRate, record.SellRate,
		record.Source, record.ObservedAt, persistedAt,
	)
	if err == nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO exchange_rate_history (
				currency_code, base_currency, mid_rate, buy_rate, sell_rate,
				source, observed_at, persisted_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (currency_code, base_currency, observed_at) DO NOTHING`,
			code, base, record.MidRate, record.BuyRate, record.SellRate,
			record.Source, record.ObservedAt, persistedAt,
		)
	}
	if err != nil {
		_ = r.Rollback(ctx, tx)
		return fmt.Errorf("%w: save rate %s/%s: %v", apperrors.ErrPersistence, code, base, err)
	}

	if err := r.Commit(ctx, tx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

// GetCurrent retrieves the single current record for a currency code.
func (r *PgxRateRepository) GetCurrent(ctx context.Context, currencyCode string) (*domain.RateRecord, error) {
	query := `
		SELECT currency_code, base_currency, mid_rate, buy_rate, sell_rate,
		       source, observed_at, persisted_at
		FROM exchange_rates_current
		WHERE currency_code = $1 AND base_currency = $2`

	var rec domain.RateRecord
	err := r.Pool.QueryRow(ctx, query, strings.ToUpper(currencyCode), r.baseCurrency).Scan(
		&rec.CurrencyCode, &rec.BaseCurrency, &rec.MidRate, &rec.BuyRate, &rec.SellRate,
		&rec.Source, &rec.ObservedAt, &rec.PersistedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("no rate found for " + currencyCode)
		}
		return nil, apperrors.NewAppError(500, "failed to get current rate", err)
	}
	return &rec, nil
}

// GetHistory retrieves historical records within [from, to], ordered by
// observed_at ascending.
func (r *PgxRateRepository) GetHistory(ctx context.Context, currencyCode string, from, to time.Time) ([]domain.RateRecord, error) {
	query := `
		SELECT currency_code, base_currency, mid_rate, buy_rate, sell_rate,
		       source, observed_at, persisted_at
		FROM exchange_rate_history
		WHERE currency_code = $1 AND base_currency = $2
		  AND observed_at BETWEEN $3 AND $4
		ORDER BY observed_at ASC`

	rows, err := r.Pool.Query(ctx, query, strings.ToUpper(currencyCode), r.baseCurrency, from, to)
	if err != nil {
		return nil, apperrors.NewAppError(500, "failed to query rate history", err)
	}
	defer rows.Close()

	return scanRateRecords(rows)
}

// ListUpdatedSince returns current records persisted at or after the given
// instant, bounding reconciliation sweeps to one cycle's writes.
func (r *PgxRateRepository) ListUpdatedSince(ctx context.Context, since time.Time) ([]domain.RateRecord, error) {
	query := `
		SELECT currency_code, base_currency, mid_rate, buy_rate, sell_rate,
		       source, observed_at, persisted_at
		FROM exchange_rates_current
		WHERE base_currency = $1 AND persisted_at >= $2`

	rows, err := r.Pool.Query(ctx, query, r.baseCurrency, since)
	if err != nil {
		return nil, apperrors.NewAppError(500, "failed to query updated rates", err)
	}
	defer rows.Close()

	return scanRateRecords(rows)
}

func scanRateRecords(rows pgx.Rows) ([]domain.RateRecord, error) {
	var records []domain.RateRecord
	for rows.Next() {
		var rec domain.RateRecord
		err := rows.Scan(
			&rec.CurrencyCode, &rec.BaseCurrency, &rec.MidRate, &rec.BuyRate, &rec.SellRate,
			&rec.Source, &rec.ObservedAt, &rec.PersistedAt,
		)
		if err != nil {
			return nil, apperrors.NewAppError(500, "failed to scan rate record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewAppError(500, "error iterating rate records", err)
	}
	return records, nil
}
