package bus

import (
	"errors"
	"testing"

	"github.com/quantedge/mdcore/internal/pool"
)

func TestPublishDispatchesToAllSubscribers(t *testing.T) {
	b, err := New(64, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var gotA, gotB *pool.Trade
	if err := b.Subscribe("a", func(tr *pool.Trade) error { gotA = tr; return nil }); err != nil {
		t.Fatalf("Subscribe a: %v", err)
	}
	if err := b.SubscribeLegacy("b", func(tr *pool.Trade) { gotB = tr }); err != nil {
		t.Fatalf("SubscribeLegacy b: %v", err)
	}

	trade := &pool.Trade{Symbol: "BTC-USD", Price: 100}
	b.Publish(trade)

	if gotA != trade || gotB != trade {
		t.Fatalf("expected both subscribers to observe the trade, got a=%v b=%v", gotA, gotB)
	}
}

func TestSubscriberErrorIsolatedDispatchContinues(t *testing.T) {
	b, _ := New(64, nil)

	called := false
	if err := b.Subscribe("failing", func(tr *pool.Trade) error { return errors.New("boom") }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Subscribe("ok", func(tr *pool.Trade) error { called = true; return nil }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.Publish(&pool.Trade{Symbol: "BTC-USD"})

	if !called {
		t.Fatalf("expected dispatch to continue past the failing subscriber")
	}
	select {
	case err := <-b.Errors():
		if err == nil {
			t.Fatalf("expected a non-nil reported error")
		}
	default:
		t.Fatalf("expected an error to be reported on Errors()")
	}
}

func TestSubscriberPanicIsolatedDispatchContinues(t *testing.T) {
	b, _ := New(64, nil)

	called := false
	_ = b.Subscribe("panics", func(tr *pool.Trade) error { panic("nope") })
	_ = b.Subscribe("ok", func(tr *pool.Trade) error { called = true; return nil })

	b.Publish(&pool.Trade{Symbol: "BTC-USD"})

	if !called {
		t.Fatalf("expected dispatch to continue past the panicking subscriber")
	}
}

func TestDuplicateSubscriberRejected(t *testing.T) {
	b, _ := New(64, nil)
	if err := b.Subscribe("dup", func(tr *pool.Trade) error { return nil }); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if err := b.Subscribe("dup", func(tr *pool.Trade) error { return nil }); err != ErrDuplicateSubscriber {
		t.Fatalf("err = %v, want ErrDuplicateSubscriber", err)
	}
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	b, _ := New(64, nil)
	count := 0
	_ = b.Subscribe("x", func(tr *pool.Trade) error { count++; return nil })

	b.Publish(&pool.Trade{})
	if err := b.Unsubscribe("x"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	b.Publish(&pool.Trade{})

	if count != 1 {
		t.Fatalf("count = %d, want 1 (no dispatch after unsubscribe)", count)
	}
	if err := b.Unsubscribe("x"); err != ErrUnknownSubscriber {
		t.Fatalf("err = %v, want ErrUnknownSubscriber", err)
	}
}

func TestRingAccessorExposesPullConsumer(t *testing.T) {
	b, _ := New(8, nil)
	c, err := b.Ring().Subscribe("puller", false)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b.Publish(&pool.Trade{Symbol: "ETH-USD"})

	tr, ok, err := b.Ring().TryRead(c)
	if err != nil || !ok || tr.Symbol != "ETH-USD" {
		t.Fatalf("TryRead: tr=%v ok=%v err=%v", tr, ok, err)
	}
}
