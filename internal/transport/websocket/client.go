package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quantedge/mdcore/proto/marketdata"
)

// Client is one UI consumer's outbound WebSocket connection, pushed
// proto/marketdata.Event messages by its Hub. Adapted from the teacher's
// Client (same ReadPump/WritePump/ping-pong shape); ReadPump here only
// parses subscription filters, since this is a push-only feed.
type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	Send chan *marketdata.Event

	Logger *zap.Logger

	filterMu sync.RWMutex
	filter   marketdata.StreamRequest
}

// ClientConfig mirrors the teacher's DefaultClientConfig knobs.
type ClientConfig struct {
	SendBufferSize int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// DefaultClientConfig returns the teacher's defaults unchanged.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SendBufferSize: 256,
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 1024 * 1024,
	}
}

// NewClient creates a Client bound to hub.
func NewClient(id string, conn *websocket.Conn, hub *Hub, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		ID:     id,
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan *marketdata.Event, DefaultClientConfig().SendBufferSize),
		Logger: logger,
	}
}

// wants reports whether ev passes the client's current subscription filter.
func (c *Client) wants(ev *marketdata.Event) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	switch ev.Type {
	case marketdata.EventOrderBookUpdated:
		return c.filter.MatchesBook(ev.Book)
	case marketdata.EventTradePublished:
		return c.filter.MatchesTrade(ev.Trade)
	default:
		return false
	}
}

// ReadPump reads subscription-filter updates from the client; any other
// inbound frame is ignored (this is a push-only feed, unlike the teacher's
// bidirectional order/chat hubs).
func (c *Client) ReadPump() {
	cfg := DefaultClientConfig()
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Logger.Warn("websocket: unexpected close", zap.Error(err))
			}
			return
		}
		var req marketdata.StreamRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.Logger.Warn("websocket: malformed filter update", zap.Error(err))
			continue
		}
		c.filterMu.Lock()
		c.filter = req
		c.filterMu.Unlock()
	}
}

// WritePump pumps Hub-broadcast events to the connection, pinging on
// PingInterval exactly as the teacher's WritePump does.
func (c *Client) WritePump() {
	cfg := DefaultClientConfig()
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
