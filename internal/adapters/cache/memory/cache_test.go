package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/fxsync/ratesync/internal/adapters/cache/memory"
	"github.com/fxsync/ratesync/internal/core/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(code string) domain.RateRecord {
	return domain.RateRecord{
		CurrencyCode: code,
		BaseCurrency: "KRW",
		MidRate:      decimal.NewFromFloat(1350.5),
		Source:       "test",
		ObservedAt:   time.Now().UTC(),
	}
}

func TestCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := memory.NewCache(time.Hour)

	key := domain.CacheKey("USD")
	require.NoError(t, c.Set(ctx, key, sampleRecord("USD"), 10*time.Minute))

	entry, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "USD", entry.Record.CurrencyCode)
	assert.False(t, entry.Expired(time.Now()))

	require.NoError(t, c.Delete(ctx, key))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_ExpiredEntryStillServable(t *testing.T) {
	ctx := context.Background()
	c := memory.NewCache(time.Hour)

	base := time.Now()
	c.SetClock(func() time.Time { return base })

	key := domain.CacheKey("USD")
	require.NoError(t, c.Set(ctx, key, sampleRecord("USD"), time.Minute))

	// Past the logical TTL but within the stale-retention window the entry
	// remains readable, flagged expired.
	c.SetClock(func() time.Time { return base.Add(5 * time.Minute) })
	entry, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, entry.Expired(base.Add(5*time.Minute)))
}

func TestCache_EvictsBeyondStaleRetention(t *testing.T) {
	ctx := context.Background()
	c := memory.NewCache(time.Hour)

	base := time.Now()
	c.SetClock(func() time.Time { return base })

	key := domain.CacheKey("USD")
	require.NoError(t, c.Set(ctx, key, sampleRecord("USD"), time.Minute))

	c.SetClock(func() time.Time { return base.Add(2 * time.Hour) })
	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_DeleteMissingKeysIsNoError(t *testing.T) {
	c := memory.NewCache(time.Hour)
	assert.NoError(t, c.Delete(context.Background(), "rate:ZZZ", "rate:YYY"))
}
