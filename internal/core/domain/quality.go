package domain

import (
	"sort"
	"time"
)

// QualityConfig configures the data-quality gate applied wherever many
// observations are aggregated into a derived view.
type QualityConfig struct {
	MinValidPoints     int     // reject as insufficient below this count
	MaxOutlierFraction float64 // reject when outliers exceed this share of valid points
	SanityCeiling      float64 // values at or above this are invalid
}

// DefaultQualityConfig mirrors the production thresholds: at least 10 valid
// points, at most 30% outside the IQR fence, rates sane below 10000.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		MinValidPoints:     10,
		MaxOutlierFraction: 0.30,
		SanityCeiling:      10000,
	}
}

// ObservationPoint is one raw point of an aggregation window.
type ObservationPoint struct {
	Value     float64
	Timestamp time.Time
}

// QualityVerdict is the gate output: a binary pass/fail plus counts. When
// Sufficient is false the caller must surface "insufficient data" rather
// than substituting a default value.
type QualityVerdict struct {
	Sufficient bool
	Passed     bool
	Valid      int
	Rejected   int
	Outliers   int
}

// EvaluateQuality validates every point, then fences the valid ones with the
// standard boxplot bound Q1-1.5*IQR .. Q3+1.5*IQR. A dataset fails when it has
// fewer than MinValidPoints valid points, or when more than
// MaxOutlierFraction of the valid points fall outside the fence.
func EvaluateQuality(points []ObservationPoint, cfg QualityConfig) QualityVerdict {
	verdict := QualityVerdict{}

	valid := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Value <= 0 || p.Value >= cfg.SanityCeiling || p.Timestamp.IsZero() {
			verdict.Rejected++
			continue
		}
		valid = append(valid, p.Value)
	}
	verdict.Valid = len(valid)

	if verdict.Valid < cfg.MinValidPoints {
		return verdict
	}
	verdict.Sufficient = true

	lower, upper := iqrFence(valid)
	for _, v := range valid {
		if v < lower || v > upper {
			verdict.Outliers++
		}
	}

	outlierFraction := float64(verdict.Outliers) / float64(verdict.Valid)
	verdict.Passed = outlierFraction <= cfg.MaxOutlierFraction
	return verdict
}

// iqrFence returns the boxplot outlier bounds for the given values.
func iqrFence(values []float64) (lower, upper float64) {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	return q1 - 1.5*iqr, q3 + 1.5*iqr
}

// quantile linearly interpolates the q-th quantile of sorted values.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	idx := int(pos)
	if idx >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(idx)
	return sorted[idx] + frac*(sorted[idx+1]-sorted[idx])
}
