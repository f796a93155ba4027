package grpcapi

import (
	"testing"
	"time"

	"github.com/quantedge/mdcore/internal/book"
	"github.com/quantedge/mdcore/internal/pool"
	"github.com/quantedge/mdcore/proto/marketdata"
)

func newTestServer(t *testing.T, bk *book.OrderBook) *Server {
	t.Helper()
	lookup := func(provider, symbol string) (*book.OrderBook, bool) {
		if bk != nil && provider == bk.ProviderID && symbol == bk.Symbol {
			return bk, true
		}
		return nil, false
	}
	return New(nil, DefaultOptions(), lookup)
}

func TestPublishBookUpdateBroadcastsMatchingEvent(t *testing.T) {
	bk := book.New("BTC-USD", "fake", "fake-provider", 2, 4, 50, pool.NewLevels(64), nil, nil)
	s := newTestServer(t, bk)

	id, ch := s.addSubscriber()
	defer s.removeSubscriber(id)

	s.PublishBookUpdate(25)(bk)

	select {
	case ev := <-ch:
		if ev.Type != marketdata.EventOrderBookUpdated {
			t.Fatalf("expected EventOrderBookUpdated, got %v", ev.Type)
		}
		if ev.Book.Provider != "fake" || ev.Book.Symbol != "BTC-USD" {
			t.Fatalf("unexpected book identity: %+v", ev.Book)
		}
		if ev.Book.State != "empty" {
			t.Fatalf("expected empty state, got %q", ev.Book.State)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestPublishTradeScalesByBookDecimalPrecision(t *testing.T) {
	bk := book.New("BTC-USD", "fake", "fake-provider", 2, 4, 50, pool.NewLevels(64), nil, nil)
	s := newTestServer(t, bk)

	id, ch := s.addSubscriber()
	defer s.removeSubscriber(id)

	trade := &pool.Trade{
		Symbol:     "BTC-USD",
		ProviderID: "fake",
		Price:      1234567, // 2 dp -> 12345.67
		Size:       50000,   // 4 dp -> 5.0000
		IsBuy:      true,
		ServerTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.PublishTrade(trade); err != nil {
		t.Fatalf("PublishTrade: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != marketdata.EventTradePublished {
			t.Fatalf("expected EventTradePublished, got %v", ev.Type)
		}
		if ev.Trade.Price != 12345.67 {
			t.Fatalf("expected scaled price 12345.67, got %v", ev.Trade.Price)
		}
		if ev.Trade.Size != 5.0 {
			t.Fatalf("expected scaled size 5.0, got %v", ev.Trade.Size)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestPublishTradeUnknownBookPublishesUnscaled(t *testing.T) {
	s := newTestServer(t, nil)

	id, ch := s.addSubscriber()
	defer s.removeSubscriber(id)

	trade := &pool.Trade{Symbol: "ETH-USD", ProviderID: "other", Price: 42, Size: 1}
	if err := s.PublishTrade(trade); err != nil {
		t.Fatalf("PublishTrade: %v", err)
	}

	ev := <-ch
	if ev.Trade.Price != 42 || ev.Trade.Size != 1 {
		t.Fatalf("expected unscaled passthrough, got %+v", ev.Trade)
	}
}

func TestEventMatchesFiltersByProviderAndSymbol(t *testing.T) {
	book1 := &marketdata.OrderBookSnapshot{Provider: "fake", Symbol: "BTC-USD"}
	ev := &marketdata.Event{Type: marketdata.EventOrderBookUpdated, Book: book1}

	if !eventMatches(&marketdata.StreamRequest{}, ev) {
		t.Fatal("empty filter should match everything")
	}
	if !eventMatches(&marketdata.StreamRequest{Provider: "fake"}, ev) {
		t.Fatal("matching provider filter should match")
	}
	if eventMatches(&marketdata.StreamRequest{Provider: "other"}, ev) {
		t.Fatal("mismatched provider filter should not match")
	}
	if eventMatches(&marketdata.StreamRequest{Symbol: "ETH-USD"}, ev) {
		t.Fatal("mismatched symbol filter should not match")
	}
}

func TestRemoveSubscriberStopsFurtherDelivery(t *testing.T) {
	s := newTestServer(t, nil)
	id, ch := s.addSubscriber()
	s.removeSubscriber(id)

	s.broadcast(&marketdata.Event{Type: marketdata.EventTradePublished, Trade: &marketdata.Trade{}})

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after removeSubscriber")
	}
}
