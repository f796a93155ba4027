// Package aggregation implements the time-bucketed aggregated series
// (spec.md C8): values are folded into fixed-width time buckets by a
// pluggable aggregator callback, with old buckets evicted once the series
// holds more than its configured maximum number of points.
//
// This generalizes the teacher's TimeframeAggregator
// (internal/trading/market_data/timeframe/aggregator.go), which hardcodes
// OHLCV folding across seven fixed intervals per symbol, into one bucket
// width and one pluggable fold function per Series instance — callers that
// need OHLCV build it by passing an OHLCV-folding Aggregator.
package aggregation

import (
	"sync"
	"time"
)

// Aggregator folds a newly observed value into a bucket. isNew is true the
// first time a bucket is opened, in which case current is the zero value of
// V and the aggregator should simply seed the bucket from next.
type Aggregator[V any] func(current V, next V, isNew bool) V

// Point is one closed or currently-open bucket.
type Point[V any] struct {
	Timestamp time.Time
	Value     V
}

// Series is a time-bucketed ring of aggregated points, bounded to MaxPoints
// closed buckets (spec.md §4.8 "max-points eviction").
type Series[V any] struct {
	bucketWidth time.Duration
	maxPoints   int
	aggregate   Aggregator[V]

	// OnAdded, if set, runs synchronously after every Add with the bucket
	// the value landed in.
	OnAdded func(Point[V])
	// OnEvicted, if set, runs synchronously when max-points eviction drops
	// the oldest closed bucket.
	OnEvicted func(Point[V])

	mu      sync.RWMutex
	points  []Point[V]
	current *Point[V]
}

// New creates a Series. maxPoints <= 0 means unbounded (no eviction).
func New[V any](bucketWidth time.Duration, maxPoints int, aggregate Aggregator[V]) *Series[V] {
	return &Series[V]{
		bucketWidth: bucketWidth,
		maxPoints:   maxPoints,
		aggregate:   aggregate,
	}
}

// Add folds value into the bucket containing ts, opening a new bucket (and
// closing/storing the previous one) if ts falls outside the currently open
// bucket. Returns the bucket's start time and whether this Add opened it.
func (s *Series[V]) Add(ts time.Time, value V) (bucketStart time.Time, openedNew bool) {
	bucketStart = ts.Truncate(s.bucketWidth)

	s.mu.Lock()
	if s.current != nil && s.current.Timestamp.Equal(bucketStart) {
		s.current.Value = s.aggregate(s.current.Value, value, false)
		p := *s.current
		s.mu.Unlock()
		if s.OnAdded != nil {
			s.OnAdded(p)
		}
		return bucketStart, false
	}

	var zero V
	if s.current != nil {
		s.closeCurrentLocked()
	}
	s.current = &Point[V]{Timestamp: bucketStart, Value: s.aggregate(zero, value, true)}
	p := *s.current
	s.mu.Unlock()

	if s.OnAdded != nil {
		s.OnAdded(p)
	}
	return bucketStart, true
}

// ForceAdd closes the currently open bucket (if any) regardless of whether
// ts falls inside it, then opens a fresh bucket seeded from value
// (spec.md §4.8 "add / force_add").
func (s *Series[V]) ForceAdd(ts time.Time, value V) {
	var zero V
	s.mu.Lock()
	if s.current != nil {
		s.closeCurrentLocked()
	}
	bucketStart := ts.Truncate(s.bucketWidth)
	s.current = &Point[V]{Timestamp: bucketStart, Value: s.aggregate(zero, value, true)}
	p := *s.current
	s.mu.Unlock()

	if s.OnAdded != nil {
		s.OnAdded(p)
	}
}

// closeCurrentLocked pushes s.current onto the closed-points ring and
// evicts the oldest point if that exceeds maxPoints. Caller holds s.mu.
func (s *Series[V]) closeCurrentLocked() {
	s.points = append(s.points, *s.current)
	s.current = nil
	if s.maxPoints > 0 && len(s.points) > s.maxPoints {
		evicted := s.points[0]
		s.points = s.points[1:]
		if s.OnEvicted != nil {
			s.OnEvicted(evicted)
		}
	}
}

// Snapshot returns a copy of every closed point plus the currently open
// bucket (if any), oldest first.
func (s *Series[V]) Snapshot() []Point[V] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Point[V], len(s.points), len(s.points)+1)
	copy(out, s.points)
	if s.current != nil {
		out = append(out, *s.current)
	}
	return out
}

// ClosedSnapshot returns a copy of only the closed points (excludes the
// currently open bucket), oldest first. Rolling statistics use this so an
// in-progress bucket doesn't skew a mean/stdev computed mid-accumulation.
func (s *Series[V]) ClosedSnapshot() []Point[V] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Point[V], len(s.points))
	copy(out, s.points)
	return out
}

// BucketWidth returns the series' fixed bucket width.
func (s *Series[V]) BucketWidth() time.Duration {
	return s.bucketWidth
}

// Len returns the number of closed points currently retained (excludes the
// open bucket).
func (s *Series[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// Latest returns the most recent point (open bucket if any, else the newest
// closed one) and whether one exists.
func (s *Series[V]) Latest() (Point[V], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current != nil {
		return *s.current, true
	}
	if len(s.points) == 0 {
		var zero Point[V]
		return zero, false
	}
	return s.points[len(s.points)-1], true
}
