package pool

import "sync/atomic"

// resettable is satisfied by every pooled type: Reset must clear all
// references so a returned instance cannot leak state to its next renter.
type resettable interface {
	Reset()
}

// Stats is an atomic snapshot of a pool's lifetime activity.
type Stats struct {
	Rents      int64
	Returns    int64
	Hits       int64
	Misses     int64
	Outstanding int64
}

// Pool is a typed free-list for *T. It wraps the same rent/return contract
// the teacher's ObjectPool/TradePool/FastOrderPool give to their respective
// element types, generalized with generics so BookLevel, DeltaLevel, and
// Trade share one implementation instead of three hand-duplicated ones.
type Pool[T resettable] struct {
	new func() T

	free chan T

	rents       int64
	returns     int64
	hits        int64
	misses      int64
	outstanding int64
}

// New creates a Pool backed by a bounded free-list of the given soft cap
// (the teacher's pools use an unbounded sync.Pool; here the cap is explicit
// so Stats.Outstanding and the bucket soft-cap policy in ArrayPool share one
// mental model).
func New[T resettable](softCap int, newFn func() T) *Pool[T] {
	if softCap <= 0 {
		softCap = 256
	}
	return &Pool[T]{
		new:  newFn,
		free: make(chan T, softCap),
	}
}

// Get rents an instance, allocating only when the free-list is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.rents, 1)
	select {
	case v := <-p.free:
		atomic.AddInt64(&p.hits, 1)
		atomic.AddInt64(&p.outstanding, 1)
		return v
	default:
		atomic.AddInt64(&p.misses, 1)
		atomic.AddInt64(&p.outstanding, 1)
		return p.new()
	}
}

// Put resets and returns an instance. If the free-list is at its soft cap the
// instance is dropped (left for GC) rather than grown without bound.
func (p *Pool[T]) Put(v T) {
	v.Reset()
	atomic.AddInt64(&p.returns, 1)
	atomic.AddInt64(&p.outstanding, -1)
	select {
	case p.free <- v:
	default:
	}
}

// Stats returns a point-in-time snapshot of pool activity.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Rents:       atomic.LoadInt64(&p.rents),
		Returns:     atomic.LoadInt64(&p.returns),
		Hits:        atomic.LoadInt64(&p.hits),
		Misses:      atomic.LoadInt64(&p.misses),
		Outstanding: atomic.LoadInt64(&p.outstanding),
	}
}

// Levels is the process-wide pool set for the three hot-path pooled types.
// A connector or test can construct its own; production wiring shares one
// instance across all books of all providers so pooled capacity is amortized.
type Levels struct {
	BookLevels  *Pool[*BookLevel]
	DeltaLevels *Pool[*DeltaLevel]
	Trades      *Pool[*Trade]
}

// NewLevels builds a Levels pool set with the given soft cap per pool.
func NewLevels(softCap int) *Levels {
	return &Levels{
		BookLevels:  New(softCap, func() *BookLevel { return &BookLevel{} }),
		DeltaLevels: New(softCap, func() *DeltaLevel { return &DeltaLevel{} }),
		Trades:      New(softCap, func() *Trade { return &Trade{} }),
	}
}
