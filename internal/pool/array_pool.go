package pool

import "sync"

// bucketSizes are the fixed capacity buckets for pooled []*BookLevel slices,
// per spec.md §4.3.
var bucketSizes = [...]int{5, 10, 20, 50, 100, 200, 500, 1000}

// arraySoftCap bounds how many free slices a bucket keeps before it starts
// discarding returns instead of growing without bound.
const arraySoftCap = 256

func bucketFor(minCap int) int {
	for _, b := range bucketSizes {
		if b >= minCap {
			return b
		}
	}
	return minCap
}

type arrayBucket struct {
	mu   sync.Mutex
	free [][]*BookLevel

	rents       int64
	returns     int64
	hits        int64
	misses      int64
	outstanding int64
}

// ArrayPool rents []*BookLevel of at least a requested capacity from the
// nearest fixed bucket, clearing contents before handing them out so a
// renter never observes a prior tenant's pointers.
type ArrayPool struct {
	mu      sync.Mutex
	buckets map[int]*arrayBucket
}

// NewArrayPool creates an empty ArrayPool; buckets are created lazily on
// first use of each size.
func NewArrayPool() *ArrayPool {
	return &ArrayPool{buckets: make(map[int]*arrayBucket)}
}

func (p *ArrayPool) bucket(size int) *arrayBucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[size]
	if !ok {
		b = &arrayBucket{}
		p.buckets[size] = b
	}
	return b
}

// Rent returns a []*BookLevel with len 0 and cap >= min, drawn from the
// smallest bucket that covers min. Allocation happens only on a bucket miss.
func (p *ArrayPool) Rent(min int) []*BookLevel {
	size := bucketFor(min)
	b := p.bucket(size)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rents++
	n := len(b.free)
	if n == 0 {
		b.misses++
		b.outstanding++
		return make([]*BookLevel, 0, size)
	}
	arr := b.free[n-1]
	b.free = b.free[:n-1]
	b.hits++
	b.outstanding++
	return arr[:0]
}

// Return clears references held by arr and pushes it back to its bucket if
// the bucket is below its soft cap; otherwise it is dropped for GC.
func (p *ArrayPool) Return(arr []*BookLevel) {
	size := cap(arr)
	if size == 0 {
		return
	}
	b := p.bucket(bucketFor(size))

	for i := range arr {
		arr[i] = nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.returns++
	b.outstanding--
	if len(b.free) >= arraySoftCap {
		return
	}
	b.free = append(b.free, arr[:0])
}

// BucketStats returns Stats for a single bucket size (rounded up to the
// nearest fixed bucket), for monitoring/diagnostics.
func (p *ArrayPool) BucketStats(size int) Stats {
	b := p.bucket(bucketFor(size))
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Rents:       b.rents,
		Returns:     b.returns,
		Hits:        b.hits,
		Misses:      b.misses,
		Outstanding: b.outstanding,
	}
}
