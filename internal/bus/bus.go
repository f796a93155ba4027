// Package bus implements the trade/quote fan-out facade over the multicast
// ring buffer (spec.md C5): Publish feeds both a synchronous push dispatch
// to registered callback subscribers and the underlying ring buffer, so a
// consumer can either register a handler (push) or pull at its own pace
// through Ring() with full lag/health/loss semantics (spec.md C4).
package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/quantedge/mdcore/internal/pool"
	"github.com/quantedge/mdcore/internal/ringbuffer"
)

// ErrDuplicateSubscriber is returned by Subscribe/SubscribeLegacy for an
// already-registered name (spec.md §9 Open Question: reject, don't
// deduplicate).
var ErrDuplicateSubscriber = errors.New("bus: subscriber already registered")

// ErrUnknownSubscriber is returned by Unsubscribe for a name that was never
// registered or was already removed.
var ErrUnknownSubscriber = errors.New("bus: unknown subscriber")

// Handler is the modern subscriber signature: an error triggers isolation
// and error reporting, but never stops dispatch to other subscribers.
type Handler func(*pool.Trade) error

// LegacyHandler is the plain-callback subscriber signature, kept for
// consumers migrated from the bus's first iteration; it is dispatched
// through the exact same path as Handler, just without an error return.
type LegacyHandler func(*pool.Trade)

type subscriberKind uint8

const (
	kindModern subscriberKind = iota
	kindLegacy
)

type subscriber struct {
	name string
	kind subscriberKind
	call Handler
}

// Bus is a fan-out facade over one underlying Ring of trades.
type Bus struct {
	ring *ringbuffer.Ring[*pool.Trade]

	subsMu sync.Mutex      // serializes Subscribe/Unsubscribe only
	subs   atomic.Value     // copy-on-write []*subscriber, read lock-free by Publish

	errCh  chan error
	logger *zap.Logger
}

// New creates a Bus backed by a Ring of the given capacity (0 = default
// 65536, spec.md C4).
func New(capacity uint64, logger *zap.Logger) (*Bus, error) {
	ring, err := ringbuffer.New[*pool.Trade](ringbuffer.Config{Capacity: capacity})
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		ring:   ring,
		errCh:  make(chan error, 256),
		logger: logger,
	}
	b.subs.Store([]*subscriber{})
	return b, nil
}

// Ring exposes the underlying ring buffer for pull-style consumers that need
// lag/health/loss semantics instead of a push callback.
func (b *Bus) Ring() *ringbuffer.Ring[*pool.Trade] {
	return b.ring
}

// Errors returns the channel subscriber failures are reported on. When the
// channel is full, the newest error is dropped (logged) rather than
// blocking Publish.
func (b *Bus) Errors() <-chan error {
	return b.errCh
}

// Subscribe registers a modern push subscriber.
func (b *Bus) Subscribe(name string, h Handler) error {
	return b.addSubscriber(&subscriber{name: name, kind: kindModern, call: h})
}

// SubscribeLegacy registers a legacy plain-callback subscriber through the
// same dispatch path as Subscribe.
func (b *Bus) SubscribeLegacy(name string, h LegacyHandler) error {
	return b.addSubscriber(&subscriber{name: name, kind: kindLegacy, call: func(t *pool.Trade) error {
		h(t)
		return nil
	}})
}

func (b *Bus) addSubscriber(s *subscriber) error {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	current := b.subs.Load().([]*subscriber)
	for _, existing := range current {
		if existing.name == s.name {
			return ErrDuplicateSubscriber
		}
	}
	next := make([]*subscriber, len(current)+1)
	copy(next, current)
	next[len(current)] = s
	b.subs.Store(next)
	return nil
}

// Unsubscribe removes a subscriber by name.
func (b *Bus) Unsubscribe(name string) error {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	current := b.subs.Load().([]*subscriber)
	idx := -1
	for i, s := range current {
		if s.name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrUnknownSubscriber
	}
	next := make([]*subscriber, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)
	b.subs.Store(next)
	return nil
}

// Publish fans trade out to the ring buffer and to every registered push
// subscriber. A subscriber's error or panic is isolated and reported on
// Errors(); dispatch continues to the remaining subscribers regardless
// (spec.md §9 Open Question: no rethrow).
func (b *Bus) Publish(trade *pool.Trade) uint64 {
	seq := b.ring.Publish(trade)

	subs := b.subs.Load().([]*subscriber)
	for _, s := range subs {
		b.dispatchOne(s, trade)
	}
	return seq
}

func (b *Bus) dispatchOne(s *subscriber, trade *pool.Trade) {
	defer func() {
		if r := recover(); r != nil {
			b.reportError(fmt.Errorf("bus: subscriber %q panicked: %v", s.name, r))
		}
	}()
	if err := s.call(trade); err != nil {
		b.reportError(fmt.Errorf("bus: subscriber %q: %w", s.name, err))
	}
}

func (b *Bus) reportError(err error) {
	select {
	case b.errCh <- err:
	default:
		b.logger.Warn("bus: error channel full, dropping", zap.Error(err))
	}
}

// SubscriberCount returns the number of currently registered push
// subscribers.
func (b *Bus) SubscriberCount() int {
	return len(b.subs.Load().([]*subscriber))
}
