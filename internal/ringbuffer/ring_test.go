package ringbuffer

import "testing"

func TestPublishAndRead(t *testing.T) {
	r, err := New[int](Config{Capacity: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c, err := r.Subscribe("consumer-a", false)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	r.Publish(10)
	r.Publish(20)
	r.Publish(30)

	for _, want := range []int{10, 20, 30} {
		v, ok, err := r.TryRead(c)
		if err != nil || !ok {
			t.Fatalf("TryRead: v=%d ok=%v err=%v", v, ok, err)
		}
		if v != want {
			t.Fatalf("v = %d, want %d", v, want)
		}
	}

	if _, ok, err := r.TryRead(c); ok || err != nil {
		t.Fatalf("expected no new data, got ok=%v err=%v", ok, err)
	}
}

func TestSubscribeFromLatestSkipsBacklog(t *testing.T) {
	r, _ := New[int](Config{Capacity: 8})
	r.Publish(1)
	r.Publish(2)

	c, err := r.Subscribe("late", true)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	r.Publish(3)

	v, ok, err := r.TryRead(c)
	if err != nil || !ok || v != 3 {
		t.Fatalf("v=%d ok=%v err=%v, want 3/true/nil", v, ok, err)
	}
}

func TestDuplicateSubscriberRejected(t *testing.T) {
	r, _ := New[int](Config{Capacity: 8})
	if _, err := r.Subscribe("dup", false); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if _, err := r.Subscribe("dup", false); err != ErrDuplicateConsumer {
		t.Fatalf("err = %v, want ErrDuplicateConsumer", err)
	}
}

func TestNonPowerOfTwoCapacityRejected(t *testing.T) {
	if _, err := New[int](Config{Capacity: 100}); err != ErrCapacityNotPowerOfTwo {
		t.Fatalf("err = %v, want ErrCapacityNotPowerOfTwo", err)
	}
}

func TestLappedConsumerReportsLoss(t *testing.T) {
	r, _ := New[int](Config{Capacity: 4})
	c, _ := r.Subscribe("slow", false)

	for i := 0; i < 20; i++ {
		r.Publish(i)
	}

	v, ok, err := r.TryRead(c)
	if err != ErrLapped {
		t.Fatalf("err = %v, want ErrLapped", err)
	}
	if ok {
		t.Fatalf("ok = true on a lapped read, want false (v=%d)", v)
	}
	if c.Lost() == 0 {
		t.Fatalf("expected nonzero lost count after lapping")
	}

	// After the lapped read repositions the cursor, subsequent reads
	// should succeed again from the oldest still-valid sequence.
	v, ok, err = r.TryRead(c)
	if err != nil || !ok {
		t.Fatalf("TryRead after catch-up: v=%d ok=%v err=%v", v, ok, err)
	}
}

func TestHealthClassification(t *testing.T) {
	r, _ := New[int](Config{Capacity: 128})
	c, _ := r.Subscribe("watcher", false)

	for i := 0; i < 13; i++ {
		r.Publish(i)
	}
	if _, state := r.Health(c); state != HealthHealthy {
		t.Fatalf("state = %v, want healthy at 10%% lag", state)
	}

	for i := 0; i < 77; i++ {
		r.Publish(i)
	}
	if _, state := r.Health(c); state != HealthWarning {
		t.Fatalf("state = %v, want warning at 70%% lag", state)
	}

	for i := 0; i < 32; i++ {
		r.Publish(i)
	}
	if _, state := r.Health(c); state != HealthCritical {
		t.Fatalf("state = %v, want critical at 95%% lag", state)
	}
}
