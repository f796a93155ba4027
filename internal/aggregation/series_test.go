package aggregation

import (
	"testing"
	"time"
)

func ts(sec int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, sec, 0, time.UTC)
}

func TestAddWithinSameBucketMerges(t *testing.T) {
	s := New[float64](10*time.Second, 0, SumAggregator)

	start, isNew := s.Add(ts(1), 5)
	if !isNew {
		t.Fatalf("first Add should open a new bucket")
	}
	_, isNew = s.Add(ts(5), 3)
	if isNew {
		t.Fatalf("second Add within same bucket should not open a new bucket")
	}

	latest, ok := s.Latest()
	if !ok {
		t.Fatalf("expected a latest point")
	}
	if !latest.Timestamp.Equal(start) {
		t.Fatalf("latest bucket = %v, want %v", latest.Timestamp, start)
	}
	if latest.Value != 8 {
		t.Fatalf("latest value = %v, want 8", latest.Value)
	}
}

func TestAddOutsideBucketClosesPrevious(t *testing.T) {
	s := New[float64](10*time.Second, 0, SumAggregator)

	s.Add(ts(1), 5)
	s.Add(ts(15), 7)

	points := s.Snapshot()
	if len(points) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(points))
	}
	if points[0].Value != 5 {
		t.Fatalf("closed bucket value = %v, want 5", points[0].Value)
	}
	if points[1].Value != 7 {
		t.Fatalf("open bucket value = %v, want 7", points[1].Value)
	}
}

func TestMaxPointsEviction(t *testing.T) {
	var evicted []Point[float64]
	s := New[float64](time.Second, 2, SumAggregator)
	s.OnEvicted = func(p Point[float64]) { evicted = append(evicted, p) }

	s.Add(ts(0), 1)
	s.Add(ts(1), 2)
	s.Add(ts(2), 3)
	s.Add(ts(3), 4) // forces close of bucket@2, which should trip eviction of bucket@0

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (bounded by maxPoints)", s.Len())
	}
	if len(evicted) != 1 {
		t.Fatalf("evicted count = %d, want 1", len(evicted))
	}
	if !evicted[0].Timestamp.Equal(ts(0)) {
		t.Fatalf("evicted bucket = %v, want bucket@0", evicted[0].Timestamp)
	}
}

func TestForceAddOpensNewBucketRegardless(t *testing.T) {
	s := New[float64](10*time.Second, 0, SumAggregator)
	s.Add(ts(1), 5)
	s.ForceAdd(ts(2), 9) // still inside the same 10s bucket as the first Add

	points := s.Snapshot()
	if len(points) != 2 {
		t.Fatalf("snapshot len = %d, want 2 after ForceAdd", len(points))
	}
	if points[0].Value != 5 {
		t.Fatalf("forced-closed bucket value = %v, want 5 (unmerged)", points[0].Value)
	}
	if points[1].Value != 9 {
		t.Fatalf("new bucket value = %v, want 9", points[1].Value)
	}
}

func TestOnAddedFiresForEveryAdd(t *testing.T) {
	var calls int
	s := New[float64](10*time.Second, 0, SumAggregator)
	s.OnAdded = func(Point[float64]) { calls++ }

	s.Add(ts(1), 1)
	s.Add(ts(2), 1)
	s.Add(ts(20), 1)

	if calls != 3 {
		t.Fatalf("OnAdded calls = %d, want 3", calls)
	}
}

func TestLastAggregatorKeepsMostRecentValue(t *testing.T) {
	s := New[float64](10*time.Second, 0, LastAggregator)
	s.Add(ts(1), 1.5)
	s.Add(ts(2), 9.25)

	latest, ok := s.Latest()
	if !ok || latest.Value != 9.25 {
		t.Fatalf("latest = %+v, ok=%v, want 9.25", latest, ok)
	}
}

func TestRollingStatsMeanStdev(t *testing.T) {
	s := New[float64](time.Second, 0, SumAggregator)
	s.Add(ts(0), 2)
	s.Add(ts(1), 4)
	s.Add(ts(2), 6)
	// force-close the last bucket so all three become "closed" points
	s.ForceAdd(ts(3), 0)

	rs := NewRollingStats(s)
	mean, stdev, ok := rs.MeanStdev()
	if !ok {
		t.Fatalf("expected enough points for MeanStdev")
	}
	if mean != 4 {
		t.Fatalf("mean = %v, want 4", mean)
	}
	if stdev <= 0 {
		t.Fatalf("stdev = %v, want > 0", stdev)
	}
}

func TestRollingStatsInsufficientPoints(t *testing.T) {
	s := New[float64](time.Second, 0, SumAggregator)
	s.Add(ts(0), 1)

	rs := NewRollingStats(s)
	if _, _, ok := rs.MeanStdev(); ok {
		t.Fatalf("expected ok=false with fewer than 2 closed points")
	}
}
