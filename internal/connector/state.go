// Package connector implements the exchange/provider connector finite state
// machine (spec.md C7): snapshot-before-delta ordering, heartbeat-driven
// reconnection with single-flight coalescing and exponential backoff, and an
// ordered resource release on stop.
package connector

import (
	"errors"
	"sync/atomic"
)

// State is one node of the connector lifecycle (spec.md §4.7).
type State int32

const (
	StateLoaded State = iota
	StateStarting
	StateStarted
	StateStopping
	StateStopped
	StateStoppedFailed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "LOADED"
	case StateStarting:
		return "STARTING"
	case StateStarted:
		return "STARTED"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateStoppedFailed:
		return "STOPPED_FAILED"
	default:
		return "UNKNOWN"
	}
}

// ErrInvalidTransition is returned when a lifecycle method is called from a
// state that does not permit it.
var ErrInvalidTransition = errors.New("connector: invalid state transition")

var validTransitions = map[State]map[State]bool{
	StateLoaded:        {StateStarting: true},
	StateStarting:      {StateStarted: true, StateStoppedFailed: true, StateStopping: true},
	StateStarted:       {StateStopping: true, StateStarting: true}, // StateStarting: in-place reconnection
	StateStopping:      {StateStopped: true, StateStoppedFailed: true},
	StateStopped:       {StateStarting: true},
	StateStoppedFailed: {StateStarting: true},
}

type stateBox struct {
	v int32
}

func (b *stateBox) load() State   { return State(atomic.LoadInt32(&b.v)) }
func (b *stateBox) store(s State) { atomic.StoreInt32(&b.v, int32(s)) }

// transition atomically moves from the current state to next, failing if
// the move isn't in validTransitions. Returns the previous state on success.
func (b *stateBox) transition(next State) (prev State, err error) {
	for {
		cur := b.load()
		if !validTransitions[cur][next] {
			return cur, ErrInvalidTransition
		}
		if atomic.CompareAndSwapInt32(&b.v, int32(cur), int32(next)) {
			return cur, nil
		}
	}
}
