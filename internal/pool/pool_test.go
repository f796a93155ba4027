package pool

import "testing"

func TestPoolReuse(t *testing.T) {
	p := New(4, func() *BookLevel { return &BookLevel{} })

	l := p.Get()
	l.Symbol = "BTC-USD"
	l.Price = 100
	p.Put(l)

	l2 := p.Get()
	if l2.Symbol != "" || l2.Price != 0 {
		t.Fatalf("expected reset level, got %+v", l2)
	}
	stats := p.Stats()
	if stats.Rents != 2 || stats.Returns != 1 || stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPoolOutstanding(t *testing.T) {
	p := New(2, func() *Trade { return &Trade{} })

	a := p.Get()
	b := p.Get()
	if got := p.Stats().Outstanding; got != 2 {
		t.Fatalf("outstanding = %d, want 2", got)
	}
	p.Put(a)
	p.Put(b)
	if got := p.Stats().Outstanding; got != 0 {
		t.Fatalf("outstanding = %d, want 0", got)
	}
}

func TestArrayPoolBucketing(t *testing.T) {
	ap := NewArrayPool()

	arr := ap.Rent(7)
	if cap(arr) != 10 {
		t.Fatalf("cap = %d, want bucket 10", cap(arr))
	}

	lvl := &BookLevel{Symbol: "X"}
	arr = append(arr, lvl)
	ap.Return(arr)

	if arr[0] != nil {
		t.Fatalf("expected returned slice to be cleared in place")
	}

	stats := ap.BucketStats(7)
	if stats.Rents != 1 || stats.Returns != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected bucket stats: %+v", stats)
	}

	again := ap.Rent(10)
	if len(again) != 0 || cap(again) != 10 {
		t.Fatalf("expected reused bucket slice with len 0 cap 10, got len=%d cap=%d", len(again), cap(again))
	}
}

func TestArrayPoolSoftCap(t *testing.T) {
	ap := NewArrayPool()
	var rented [][]*BookLevel
	for i := 0; i < arraySoftCap+5; i++ {
		rented = append(rented, ap.Rent(5))
	}
	for _, arr := range rented {
		ap.Return(arr)
	}
	stats := ap.BucketStats(5)
	if stats.Outstanding != 0 {
		t.Fatalf("outstanding = %d, want 0", stats.Outstanding)
	}
}
