package websocket

import (
	"time"

	"github.com/quantedge/mdcore/internal/book"
	"github.com/quantedge/mdcore/internal/pool"
	"github.com/quantedge/mdcore/proto/marketdata"
)

// BookUpdate builds an OrderBookUpdated event from a depth-limited
// snapshot; wire as a book.UpdateFunc that sends onto Hub.Broadcast.
func BookUpdate(ob *book.OrderBook, depth int) *marketdata.Event {
	bids, asks := ob.TopOfBook(depth)
	return &marketdata.Event{
		Type: marketdata.EventOrderBookUpdated,
		Book: &marketdata.OrderBookSnapshot{
			Provider:  ob.ProviderID,
			Symbol:    ob.Symbol,
			Sequence:  ob.Sequence(),
			State:     ob.State().String(),
			Bids:      toPriceLevels(bids, ob.PriceDP, ob.SizeDP),
			Asks:      toPriceLevels(asks, ob.PriceDP, ob.SizeDP),
			Timestamp: time.Now(),
		},
	}
}

// TradeUpdate builds a TradePublished event, scaled by the (priceDP,
// sizeDP) of the book that produced the trade.
func TradeUpdate(t *pool.Trade, priceDP, sizeDP uint8) *marketdata.Event {
	return &marketdata.Event{
		Type: marketdata.EventTradePublished,
		Trade: &marketdata.Trade{
			Symbol:     t.Symbol,
			ProviderID: t.ProviderID,
			Price:      float64(t.Price) / pow10f(priceDP),
			Size:       float64(t.Size) / pow10f(sizeDP),
			IsBuy:      t.IsBuy,
			ServerTime: t.ServerTime,
		},
	}
}

func toPriceLevels(levels []*pool.BookLevel, priceDP, sizeDP uint8) []marketdata.PriceLevel {
	priceScale := pow10f(priceDP)
	sizeScale := pow10f(sizeDP)
	out := make([]marketdata.PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = marketdata.PriceLevel{
			Price: float64(l.Price) / priceScale,
			Size:  float64(l.Size) / sizeScale,
		}
	}
	return out
}

func pow10f(dp uint8) float64 {
	scale := 1.0
	for i := uint8(0); i < dp; i++ {
		scale *= 10
	}
	return scale
}
