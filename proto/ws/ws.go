// Package ws defines the canonical internal shapes spec.md §6 fixes for
// venue WebSocket inputs. Each venue's own wire layout is venue-specific
// and decoded by its provider in internal/transport/websocket; these are
// the shapes every provider maps onto, never a specific venue's own
// message format.
package ws

import "time"

// MessageType discriminates the envelope below.
type MessageType string

const (
	TypeSnapshot        MessageType = "snapshot"
	TypeDelta           MessageType = "delta"
	TypeTrade           MessageType = "trade"
	TypeHeartbeat       MessageType = "heartbeat"
	TypeSubscriptionAck MessageType = "subscription_ack"
	TypeError           MessageType = "error"
)

// Side identifies which side of the book a SideChange applies to.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Level is one raw (unscaled, venue-native float) price/size pair.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Snapshot is a full-depth book replace, always applied before any Delta
// batch it precedes (spec.md §4.7 "snapshot-before-delta").
type Snapshot struct {
	Symbol   string  `json:"symbol"`
	Bids     []Level `json:"bids"`
	Asks     []Level `json:"asks"`
	Sequence uint64  `json:"sequence"`
}

// SideChange is one incremental book mutation within a Delta batch.
type SideChange struct {
	Side  Side    `json:"side"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"` // 0 = remove the level
}

// Delta is an incremental update batch covering [StartSeq, EndSeq].
type Delta struct {
	Symbol      string       `json:"symbol"`
	SideChanges []SideChange `json:"side_changes"`
	StartSeq    uint64       `json:"start_seq"`
	EndSeq      uint64       `json:"end_seq"`
}

// Trade is one executed trade print.
type Trade struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Size   float64   `json:"size"`
	Side   Side      `json:"side"`
	Ts     time.Time `json:"ts"`
}

// Heartbeat carries no payload beyond its envelope Type.
type Heartbeat struct{}

// SubscriptionAck confirms a subscribe/unsubscribe request was accepted.
type SubscriptionAck struct {
	Symbol    string `json:"symbol"`
	Channel   string `json:"channel"`
	Confirmed bool   `json:"confirmed"`
}

// Error is a venue-reported error, distinct from a transport-level
// connection failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope wraps exactly one payload, selected by Type. A provider decodes
// a venue's native frame into one of these before handing it to the
// connector.
type Envelope struct {
	Type      MessageType      `json:"type"`
	Snapshot  *Snapshot        `json:"snapshot,omitempty"`
	Delta     *Delta           `json:"delta,omitempty"`
	Trade     *Trade           `json:"trade,omitempty"`
	Heartbeat *Heartbeat       `json:"heartbeat,omitempty"`
	Ack       *SubscriptionAck `json:"subscription_ack,omitempty"`
	Err       *Error           `json:"error,omitempty"`
}
