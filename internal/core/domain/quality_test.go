package domain_test

import (
	"testing"
	"time"

	"github.com/fxsync/ratesync/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildWindow creates a 100-point window: a tight cluster plus the requested
// number of extreme points split across both tails so the quartiles stay
// inside the cluster.
func buildWindow(t *testing.T, lowOutliers, highOutliers int) []domain.ObservationPoint {
	t.Helper()
	now := time.Now()
	points := make([]domain.ObservationPoint, 0, 100)
	for i := 0; i < lowOutliers; i++ {
		points = append(points, domain.ObservationPoint{Value: 5, Timestamp: now})
	}
	cluster := 100 - lowOutliers - highOutliers
	for i := 0; i < cluster; i++ {
		points = append(points, domain.ObservationPoint{Value: 1300 + float64(i)*0.1, Timestamp: now})
	}
	for i := 0; i < highOutliers; i++ {
		points = append(points, domain.ObservationPoint{Value: 9000, Timestamp: now})
	}
	require.Len(t, points, 100)
	return points
}

func TestEvaluateQuality_RejectsAboveOutlierThreshold(t *testing.T) {
	// 35 of 100 points outside the IQR fence: 35% > 30% threshold.
	points := buildWindow(t, 17, 18)

	verdict := domain.EvaluateQuality(points, domain.DefaultQualityConfig())

	assert.True(t, verdict.Sufficient)
	assert.False(t, verdict.Passed)
	assert.Equal(t, 100, verdict.Valid)
	assert.Equal(t, 35, verdict.Outliers)
}

func TestEvaluateQuality_AcceptsBelowOutlierThreshold(t *testing.T) {
	// 25 of 100 points outside the fence: 25% < 30%.
	points := buildWindow(t, 12, 13)

	verdict := domain.EvaluateQuality(points, domain.DefaultQualityConfig())

	assert.True(t, verdict.Sufficient)
	assert.True(t, verdict.Passed)
	assert.Equal(t, 100, verdict.Valid)
	assert.Equal(t, 25, verdict.Outliers)
}

func TestEvaluateQuality_InsufficientBelowMinimum(t *testing.T) {
	cfg := domain.DefaultQualityConfig()
	cfg.MinValidPoints = 2

	// A single clean point, zero outliers: still insufficient.
	points := []domain.ObservationPoint{
		{Value: 1350.5, Timestamp: time.Now()},
	}

	verdict := domain.EvaluateQuality(points, cfg)

	assert.False(t, verdict.Sufficient)
	assert.False(t, verdict.Passed)
	assert.Equal(t, 1, verdict.Valid)
}

func TestEvaluateQuality_InvalidPointsAreRejectedNotCounted(t *testing.T) {
	cfg := domain.DefaultQualityConfig()
	cfg.MinValidPoints = 3
	now := time.Now()

	points := []domain.ObservationPoint{
		{Value: 1350.5, Timestamp: now},
		{Value: -4, Timestamp: now},              // non-positive
		{Value: 20000, Timestamp: now},           // above sanity ceiling
		{Value: 1351.0, Timestamp: time.Time{}}, // unparseable timestamp
		{Value: 1349.8, Timestamp: now},
		{Value: 1350.1, Timestamp: now},
	}

	verdict := domain.EvaluateQuality(points, cfg)

	assert.Equal(t, 3, verdict.Valid)
	assert.Equal(t, 3, verdict.Rejected)
	assert.True(t, verdict.Sufficient)
	assert.True(t, verdict.Passed)
}
