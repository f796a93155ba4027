// Package marketdata defines the wire shapes streamed to out-of-process
// consumers over internal/grpcapi: the same OrderBookUpdated/TradePublished
// events the in-process C5 bus fans out, serialized with grpcapi's JSON
// codec instead of a protoc-generated protobuf message (no .proto source is
// compiled into this tree; the shapes below stand in its place).
package marketdata

import "time"

// EventType discriminates the oneof-style Event payload.
type EventType int32

const (
	EventUnknown EventType = iota
	EventOrderBookUpdated
	EventTradePublished
)

func (t EventType) String() string {
	switch t {
	case EventOrderBookUpdated:
		return "ORDER_BOOK_UPDATED"
	case EventTradePublished:
		return "TRADE_PUBLISHED"
	default:
		return "UNKNOWN"
	}
}

// PriceLevel is one side-of-book entry, already scaled to display units.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookSnapshot is the payload of an EventOrderBookUpdated event: a
// depth-limited top-of-book snapshot, not a delta (spec.md §6 describes the
// outbound wire contract in terms of snapshots plus sequence numbers, not
// the internal delta representation used between C2 and C3).
type OrderBookSnapshot struct {
	Provider  string       `json:"provider"`
	Symbol    string       `json:"symbol"`
	Sequence  uint64       `json:"sequence"`
	State     string       `json:"state"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// Trade is the payload of an EventTradePublished event.
type Trade struct {
	Symbol     string    `json:"symbol"`
	ProviderID string    `json:"provider_id"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	IsBuy      bool      `json:"is_buy"`
	ServerTime time.Time `json:"server_time"`
}

// Event envelopes exactly one of Book or Trade, selected by Type.
type Event struct {
	Type  EventType          `json:"type"`
	Book  *OrderBookSnapshot `json:"book,omitempty"`
	Trade *Trade             `json:"trade,omitempty"`
}

// StreamRequest subscribes to events for one provider/symbol pair; an empty
// field matches all providers/symbols.
type StreamRequest struct {
	Provider string `json:"provider,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
}

func (r StreamRequest) matches(provider, symbol string) bool {
	if r.Provider != "" && r.Provider != provider {
		return false
	}
	if r.Symbol != "" && r.Symbol != symbol {
		return false
	}
	return true
}

// MatchesBook reports whether an OrderBookSnapshot event satisfies the request
// filter.
func (r StreamRequest) MatchesBook(s *OrderBookSnapshot) bool {
	return r.matches(s.Provider, s.Symbol)
}

// MatchesTrade reports whether a Trade event satisfies the request filter.
func (r StreamRequest) MatchesTrade(t *Trade) bool {
	return r.matches(t.ProviderID, t.Symbol)
}
