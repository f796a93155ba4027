package connector

import (
	"math/rand"
	"sync/atomic"
	"time"
)

// Backoff computes exponentially increasing, jittered reconnect delays,
// bounded by Max (spec.md §4.7 "exponential backoff with jitter, bounded").
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	JitterFrac float64

	attempt int32 // atomic
}

// DefaultBackoff matches the teacher's circuit-breaker timeout order of
// magnitude (_examples/abdoElHodaky-tradSys/internal/architecture/fx/resilience/circuit_breaker.go
// uses a 60s Timeout) while keeping the first few retries fast.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Base:       500 * time.Millisecond,
		Max:        60 * time.Second,
		Multiplier: 2,
		JitterFrac: 0.2,
	}
}

// Next returns the delay for the next attempt and advances the internal
// attempt counter.
func (b *Backoff) Next() time.Duration {
	n := atomic.AddInt32(&b.attempt, 1) - 1
	d := float64(b.Base) * pow(b.Multiplier, n)
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.JitterFrac > 0 {
		jitter := d * b.JitterFrac
		d += (rand.Float64()*2 - 1) * jitter
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}

// Attempt returns the number of times Next has been called since the last
// Reset.
func (b *Backoff) Attempt() int {
	return int(atomic.LoadInt32(&b.attempt))
}

// Reset zeros the attempt counter, e.g. after a successful reconnect.
func (b *Backoff) Reset() {
	atomic.StoreInt32(&b.attempt, 0)
}

func pow(base float64, exp int32) float64 {
	result := 1.0
	for i := int32(0); i < exp; i++ {
		result *= base
	}
	return result
}
