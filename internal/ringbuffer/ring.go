// Package ringbuffer implements the multicast SPMC ring buffer (spec.md C4):
// a single producer publishes into a fixed, power-of-two capacity slot
// array; any number of consumers read at their own pace through an
// independent cursor, falling behind and detecting loss if the producer
// laps them.
//
// The cursor/slot-sequence handshake follows the LMAX Disruptor pattern (see
// internal/ringbuffer's grounding note in DESIGN.md): a slot is only valid to
// read once its stored sequence number matches the position the consumer
// expects, which is what lets consumers run without a lock on the hot path.
package ringbuffer

import (
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is used when Config.Capacity is zero (spec.md §4.4).
const DefaultCapacity = 65536

var (
	// ErrCapacityNotPowerOfTwo is returned by New for a non power-of-two
	// capacity; the index mask trick requires it.
	ErrCapacityNotPowerOfTwo = errors.New("ringbuffer: capacity must be a power of two")

	// ErrDuplicateConsumer is returned by Subscribe for an already
	// registered consumer name (spec.md §9 Open Question: duplicate
	// subscriptions are rejected, not deduplicated).
	ErrDuplicateConsumer = errors.New("ringbuffer: consumer already subscribed")

	// ErrUnknownConsumer is returned by Unsubscribe for a name that was
	// never subscribed or was already unsubscribed.
	ErrUnknownConsumer = errors.New("ringbuffer: unknown consumer")

	// ErrLapped is returned by TryRead when the producer has overwritten
	// slots the consumer had not yet read; the consumer's cursor is
	// advanced to the oldest still-valid sequence and a loss count is
	// recorded.
	ErrLapped = errors.New("ringbuffer: consumer lapped, data lost")
)

// slot holds one published value plus its publication sequence. The struct
// is padded to a 64-byte cache line so adjacent slots in the backing array
// don't false-share between a writing producer and a reading consumer.
type slot[T any] struct {
	seq   uint64
	value T
	_     [48]byte
}

// Config configures a Ring.
type Config struct {
	// Capacity is the number of slots; must be a power of two. Zero uses
	// DefaultCapacity.
	Capacity uint64
}

// Ring is a single-producer, multi-consumer ring buffer over values of type
// T (spec.md C4). The zero value is not usable; construct with New.
type Ring[T any] struct {
	capacity uint64
	mask     uint64
	slots    []slot[T]

	cursor uint64 // atomic: highest published sequence

	mu        sync.RWMutex
	consumers map[string]*Consumer
}

// Consumer tracks one subscriber's read position and loss count. It is safe
// for exactly one goroutine to call TryRead for a given Consumer at a time;
// Health may be read from any goroutine.
type Consumer struct {
	name   string
	cursor uint64 // atomic: last sequence successfully read
	lost   uint64 // atomic: cumulative count of slots skipped due to lapping
}

// Name returns the consumer's registered name.
func (c *Consumer) Name() string { return c.name }

// New creates a Ring. Capacity must be a power of two; zero selects
// DefaultCapacity.
func New[T any](cfg Config) (*Ring[T], error) {
	cap := cfg.Capacity
	if cap == 0 {
		cap = DefaultCapacity
	}
	if cap == 0 || (cap&(cap-1)) != 0 {
		return nil, ErrCapacityNotPowerOfTwo
	}
	return &Ring[T]{
		capacity:  cap,
		mask:      cap - 1,
		slots:     make([]slot[T], cap),
		consumers: make(map[string]*Consumer),
	}, nil
}

// Capacity returns the ring's fixed slot count.
func (r *Ring[T]) Capacity() uint64 { return r.capacity }

// Cursor returns the highest sequence published so far (0 if nothing has
// been published yet).
func (r *Ring[T]) Cursor() uint64 {
	return atomic.LoadUint64(&r.cursor)
}

// Publish writes v into the next slot and makes it visible to consumers,
// returning the sequence number assigned. Safe for a single producer only —
// spec.md C4 is explicitly SPMC, not MPMC.
func (r *Ring[T]) Publish(v T) uint64 {
	seq := atomic.AddUint64(&r.cursor, 1)
	idx := seq & r.mask
	r.slots[idx].value = v
	atomic.StoreUint64(&r.slots[idx].seq, seq)
	return seq
}

// Subscribe registers a new consumer. If startFromLatest is true the
// consumer's cursor starts at the ring's current head (it only sees values
// published after this call); otherwise it starts at zero and will replay
// everything still held in the ring (subject to lapping).
func (r *Ring[T]) Subscribe(name string, startFromLatest bool) (*Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.consumers[name]; exists {
		return nil, ErrDuplicateConsumer
	}
	start := uint64(0)
	if startFromLatest {
		start = atomic.LoadUint64(&r.cursor)
	}
	c := &Consumer{name: name, cursor: start}
	r.consumers[name] = c
	return c, nil
}

// Unsubscribe removes a consumer by name.
func (r *Ring[T]) Unsubscribe(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.consumers[name]; !exists {
		return ErrUnknownConsumer
	}
	delete(r.consumers, name)
	return nil
}

// TryRead attempts to read the next value for c. ok is false with a nil
// error when the consumer is caught up to the producer (nothing new yet).
// ErrLapped is returned when the producer has overwritten unread slots; c's
// cursor is advanced past the lost range and the loss is recorded in
// c.Lost().
func (r *Ring[T]) TryRead(c *Consumer) (value T, ok bool, err error) {
	next := atomic.LoadUint64(&c.cursor) + 1
	published := atomic.LoadUint64(&r.cursor)

	if next > published {
		return value, false, nil
	}

	if published-next >= r.capacity {
		lostUpTo := published - r.capacity
		lost := lostUpTo - (next - 1)
		atomic.AddUint64(&c.lost, lost)
		atomic.StoreUint64(&c.cursor, lostUpTo)
		return value, false, ErrLapped
	}

	idx := next & r.mask
	if atomic.LoadUint64(&r.slots[idx].seq) != next {
		// Producer has claimed the sequence but not yet published the
		// value; nothing to read yet.
		return value, false, nil
	}

	value = r.slots[idx].value
	atomic.StoreUint64(&c.cursor, next)
	return value, true, nil
}

// Lag returns how many published-but-unread sequences c is behind.
func (r *Ring[T]) Lag(c *Consumer) uint64 {
	published := atomic.LoadUint64(&r.cursor)
	cursor := atomic.LoadUint64(&c.cursor)
	if published < cursor {
		return 0
	}
	return published - cursor
}

// Lost returns the cumulative count of slots c has lost to lapping.
func (c *Consumer) Lost() uint64 {
	return atomic.LoadUint64(&c.lost)
}

// HealthState classifies a consumer's lag as a fraction of ring capacity
// (spec.md §4.4 "per-consumer health").
type HealthState uint8

const (
	HealthHealthy HealthState = iota
	HealthWarning
	HealthCritical
)

func (h HealthState) String() string {
	switch h {
	case HealthWarning:
		return "warning"
	case HealthCritical:
		return "critical"
	default:
		return "healthy"
	}
}

// Health returns c's current lag percentage (0-100+) and classification:
// healthy below 50%, warning 50-90%, critical at or above 90% of capacity.
func (r *Ring[T]) Health(c *Consumer) (lagPct float64, state HealthState) {
	lag := r.Lag(c)
	lagPct = float64(lag) / float64(r.capacity) * 100
	switch {
	case lagPct >= 90:
		state = HealthCritical
	case lagPct >= 50:
		state = HealthWarning
	default:
		state = HealthHealthy
	}
	return lagPct, state
}

// Consumers returns the names of currently subscribed consumers.
func (r *Ring[T]) Consumers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.consumers))
	for name := range r.consumers {
		names = append(names, name)
	}
	return names
}
