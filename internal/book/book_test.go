package book

import (
	"testing"

	"github.com/quantedge/mdcore/internal/pool"
)

func newTestBook(maxDepth int) *OrderBook {
	return New("BTC-USD", "p1", "test-provider", 5, 4, maxDepth, pool.NewLevels(64), nil, nil)
}

func snap(price, size float64) SnapshotLevel {
	return SnapshotLevel{Price: price, Size: size}
}

// Scenario 1: apply_snapshot with 5 bids / 5 asks establishes an identity
// ladder: best bid first (descending), best ask first (ascending).
func TestApplySnapshotIdentity(t *testing.T) {
	ob := newTestBook(10)
	bids := []SnapshotLevel{snap(1.00010, 10), snap(1.00009, 5), snap(1.00008, 20), snap(1.00007, 1), snap(1.00006, 2)}
	asks := []SnapshotLevel{snap(1.00011, 8), snap(1.00012, 4), snap(1.00013, 15), snap(1.00014, 3), snap(1.00015, 1)}

	ob.ApplySnapshot(bids, asks, 100)

	if ob.State() != StateLive {
		t.Fatalf("state = %v, want live", ob.State())
	}
	if ob.Sequence() != 100 {
		t.Fatalf("sequence = %d, want 100", ob.Sequence())
	}
	if ob.bids.Len() != 5 || ob.asks.Len() != 5 {
		t.Fatalf("bids=%d asks=%d, want 5/5", ob.bids.Len(), ob.asks.Len())
	}
	if ob.bids.At(0).Price != 100010 {
		t.Fatalf("best bid price = %d, want 100010 (descending order)", ob.bids.At(0).Price)
	}
	if ob.asks.At(0).Price != 100011 {
		t.Fatalf("best ask price = %d, want 100011 (ascending order)", ob.asks.At(0).Price)
	}
	if ob.bids.At(4).CumSize != ob.bids.At(0).Size+ob.bids.At(1).Size+ob.bids.At(2).Size+ob.bids.At(3).Size+ob.bids.At(4).Size {
		t.Fatalf("cumulative size at tail is wrong: %d", ob.bids.At(4).CumSize)
	}
}

// Scenario 2: delete_level on an existing price removes it and moves the
// deleted counters.
func TestDeleteExistingLevel(t *testing.T) {
	ob := newTestBook(10)
	ob.ApplySnapshot([]SnapshotLevel{snap(1.0001, 10), snap(1.0000, 5)}, []SnapshotLevel{snap(1.0002, 8)}, 1)

	d := &pool.DeltaLevel{Side: pool.SideBid, Price: 100010, Size: 0}
	ob.AddOrUpdateLevel(d)

	if ob.bids.Len() != 1 {
		t.Fatalf("bids.Len() = %d, want 1 after delete", ob.bids.Len())
	}
	if ob.bids.FindByPrice(100010) != -1 {
		t.Fatalf("deleted price still present")
	}
	counters := ob.GetCounters()
	if counters.Deleted != 1 {
		t.Fatalf("deleted counter = %d, want 1", counters.Deleted)
	}
}

// Scenario 3: top-of-book insertion respects max depth — a new best level
// pushes out the current worst level, which is pool-returned.
func TestAddLevelRespectsMaxDepth(t *testing.T) {
	ob := newTestBook(2)
	ob.ApplySnapshot(nil, []SnapshotLevel{snap(1.0001, 1), snap(1.0002, 1)}, 1)

	// A new best ask (better than both existing) must still fit within depth 2,
	// displacing the current worst (1.0002).
	d := &pool.DeltaLevel{Side: pool.SideAsk, Price: 99990, Size: 500000}
	ob.AddOrUpdateLevel(d)

	if ob.asks.Len() != 2 {
		t.Fatalf("asks.Len() = %d, want 2 (bounded by max depth)", ob.asks.Len())
	}
	if ob.asks.At(0).Price != 99990 {
		t.Fatalf("best ask price = %d, want 99990", ob.asks.At(0).Price)
	}
	if ob.asks.FindByPrice(100020) != -1 {
		t.Fatalf("worst level (100020) should have been displaced")
	}

	// A level worse than the current worst, with the side already full, is
	// dropped outright.
	worse := &pool.DeltaLevel{Side: pool.SideAsk, Price: 200000, Size: 1}
	ob.AddOrUpdateLevel(worse)
	if ob.asks.Len() != 2 {
		t.Fatalf("asks.Len() = %d after dropped insert, want 2", ob.asks.Len())
	}
}

// Scenario 4: update_level with a changed size moves the right counter and
// the right volume bucket depending on whether the size grew or shrank.
func TestUpdateLevelChangeSize(t *testing.T) {
	ob := newTestBook(10)
	ob.ApplySnapshot([]SnapshotLevel{snap(1.0001, 10)}, nil, 1)

	grow := &pool.DeltaLevel{Side: pool.SideBid, Price: 100010, Size: 150000}
	ob.AddOrUpdateLevel(grow)
	counters := ob.GetCounters()
	if counters.Added != 1 {
		t.Fatalf("added counter = %d, want 1 after grow", counters.Added)
	}

	shrink := &pool.DeltaLevel{Side: pool.SideBid, Price: 100010, Size: 50000}
	ob.AddOrUpdateLevel(shrink)
	counters = ob.GetCounters()
	if counters.Deleted != 1 {
		t.Fatalf("deleted counter = %d, want 1 after shrink", counters.Deleted)
	}

	same := &pool.DeltaLevel{Side: pool.SideBid, Price: 100010, Size: 50000}
	ob.AddOrUpdateLevel(same)
	counters = ob.GetCounters()
	if counters.Updated != 1 {
		t.Fatalf("updated counter = %d, want 1 after equal-size update", counters.Updated)
	}
}

// Scenario 5: an out-of-order (stale) delta batch is dropped without
// mutating book state.
func TestStaleDeltaDropped(t *testing.T) {
	ob := newTestBook(10)
	ob.ApplySnapshot([]SnapshotLevel{snap(1.0001, 10)}, nil, 50)

	err := ob.ApplyDelta(48, 49, []*pool.DeltaLevel{{Side: pool.SideBid, Price: 999999, Size: 1}})
	if err != ErrStaleSequence {
		t.Fatalf("err = %v, want ErrStaleSequence", err)
	}
	if ob.Sequence() != 50 {
		t.Fatalf("sequence moved on a stale delta: %d", ob.Sequence())
	}
	if ob.bids.FindByPrice(999999) != -1 {
		t.Fatalf("stale delta was applied despite being dropped")
	}
}

// Scenario 6: a delta batch whose range does not cover last_sequence+1 is a
// gap — fatal for the book, which falls back to Empty until re-snapshotted.
func TestSequenceGapResetsToEmpty(t *testing.T) {
	ob := newTestBook(10)
	ob.ApplySnapshot([]SnapshotLevel{snap(1.0001, 10)}, nil, 50)

	err := ob.ApplyDelta(55, 56, []*pool.DeltaLevel{{Side: pool.SideBid, Price: 999999, Size: 1}})
	if err != ErrSequenceGap {
		t.Fatalf("err = %v, want ErrSequenceGap", err)
	}
	if ob.State() != StateEmpty {
		t.Fatalf("state = %v, want empty after gap", ob.State())
	}

	// Recovery: a fresh snapshot brings the book back to live.
	ob.ApplySnapshot([]SnapshotLevel{snap(1.0001, 10)}, nil, 60)
	if ob.State() != StateLive {
		t.Fatalf("state = %v, want live after re-snapshot", ob.State())
	}
}

func TestComputeDeltaAgainstTwoPointerMerge(t *testing.T) {
	prior := newTestBook(10)
	prior.ApplySnapshot(
		[]SnapshotLevel{snap(1.0003, 10), snap(1.0002, 5), snap(1.0001, 1)},
		[]SnapshotLevel{snap(1.0004, 8)},
		1,
	)

	curr := newTestBook(10)
	curr.ApplySnapshot(
		[]SnapshotLevel{snap(1.0003, 20) /* changed */, snap(1.0001, 1) /* unchanged */, snap(1.0000, 2) /* new */},
		[]SnapshotLevel{snap(1.0004, 8) /* unchanged */},
		2,
	)

	var changes, adds, deletes int
	curr.ComputeDeltaAgainst(prior, func(d *pool.DeltaLevel) {
		switch d.Action {
		case pool.ActionChange:
			changes++
		case pool.ActionNew:
			adds++
		case pool.ActionDelete:
			deletes++
		}
	})

	if changes != 1 {
		t.Fatalf("changes = %d, want 1", changes)
	}
	if adds != 1 {
		t.Fatalf("adds = %d, want 1 (new bid at 1.0000)", adds)
	}
	if deletes != 1 {
		t.Fatalf("deletes = %d, want 1 (bid at 1.0002 dropped)", deletes)
	}
}

func TestComputeMetricsImbalance(t *testing.T) {
	ob := newTestBook(10)
	ob.ApplySnapshot(
		[]SnapshotLevel{snap(1.0000, 10)},
		[]SnapshotLevel{snap(1.0002, 10)},
		1,
	)
	m := ob.ComputeMetrics()
	if m.Imbalance != 0 {
		t.Fatalf("imbalance = %v, want 0 for balanced book", m.Imbalance)
	}
	if m.Spread <= 0 {
		t.Fatalf("spread = %v, want positive", m.Spread)
	}
}
