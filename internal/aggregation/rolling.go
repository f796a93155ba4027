package aggregation

import (
	"gonum.org/v1/gonum/stat"
)

// RollingStats computes mean/stdev over the closed points of a float64
// Series, using gonum the same way internal/book uses it for volume sums
// (DOMAIN STACK: gonum feeds both C1/C2's metrics and C8's rolling stats).
type RollingStats struct {
	series *Series[float64]
}

// NewRollingStats wraps an existing float64 Series. The Series owns the
// bucket width, max-points eviction, and aggregator; RollingStats only reads
// its closed-point values.
func NewRollingStats(series *Series[float64]) *RollingStats {
	return &RollingStats{series: series}
}

// MeanStdev returns the unweighted sample mean and standard deviation across
// the series' closed buckets. ok is false when fewer than two closed points
// are available (stdev is undefined for a single sample).
func (r *RollingStats) MeanStdev() (mean, stdev float64, ok bool) {
	points := r.series.ClosedSnapshot()
	if len(points) < 2 {
		return 0, 0, false
	}
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	mean = stat.Mean(values, nil)
	stdev = stat.StdDev(values, nil)
	return mean, stdev, true
}

// SumAggregator is a ready-made Aggregator[float64] that accumulates values
// additively within a bucket — the common case for volume/count style
// series (e.g. feeding order/trade counters into C9's derived OTR metric).
func SumAggregator(current, next float64, isNew bool) float64 {
	if isNew {
		return next
	}
	return current + next
}

// LastAggregator is a ready-made Aggregator[float64] that keeps only the
// most recently observed value per bucket ("last value wins" — spec.md's
// description of how C9 publishes derived metrics into an aggregation
// bucket).
func LastAggregator(current, next float64, isNew bool) float64 {
	return next
}
