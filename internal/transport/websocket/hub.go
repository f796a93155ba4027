// Package websocket provides two gorilla/websocket surfaces: an outbound
// Hub/Client pair pushing OrderBookUpdated/TradePublished events to UI
// consumers (this file and client.go, adapted from the teacher's
// internal/transport/websocket/{client,optimized_hub}.go — the teacher's own
// Hub type was never retrieved into this pack, so it is rebuilt here from
// the contract client.go already assumes), and an inbound Provider dialing
// out to a venue (provider.go, spec.md §6 "WebSocket inputs").
package websocket

import (
	"sync"

	"go.uber.org/zap"

	"github.com/quantedge/mdcore/proto/marketdata"
)

// Hub fans proto/marketdata.Event messages out to every registered Client,
// the same broadcast/register/unregister shape the teacher's OptimizedHub
// built on top of (here: without the batching/compression machinery that
// depended on packages outside this module's scope).
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan *marketdata.Event

	Logger *zap.Logger

	done chan struct{}
}

// NewHub creates a Hub; call Run in a goroutine to start its event loop.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan *marketdata.Event, 256),
		Logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run processes register/unregister/broadcast until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case c := <-h.Register:
			h.mu.Lock()
			h.clients[c.ID] = c
			h.mu.Unlock()
			h.Logger.Debug("websocket: client connected", zap.String("client_id", c.ID))
		case c := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.ID]; ok {
				delete(h.clients, c.ID)
				close(c.Send)
			}
			h.mu.Unlock()
			h.Logger.Debug("websocket: client disconnected", zap.String("client_id", c.ID))
		case ev := <-h.Broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				if !c.wants(ev) {
					continue
				}
				select {
				case c.Send <- ev:
				default:
					h.Logger.Warn("websocket: dropping event for slow client", zap.String("client_id", c.ID))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop ends the Hub's Run loop.
func (h *Hub) Stop() {
	close(h.done)
}

// ClientCount reports the number of currently registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
