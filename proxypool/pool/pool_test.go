package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"liuproxy_rotator/proxypool/model"
)

func addr(i int) model.ProxyAddress {
	return model.ProxyAddress(fmt.Sprintf("http://10.0.0.%d:8080", i))
}

func TestPool_SizeNeverExceedsCapacity(t *testing.T) {
	done := make(chan struct{})
	p := New(5, done)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.Push(addr(i))
		}(i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.Len() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Len() != 5 {
		t.Fatalf("Expected pool to fill to capacity 5, got %d", p.Len())
	}
	for i := 0; i < 50; i++ {
		if p.Len() > p.Cap() {
			t.Fatalf("Pool size %d exceeded capacity %d", p.Len(), p.Cap())
		}
		time.Sleep(time.Millisecond)
	}

	// Closing done releases the blocked producers.
	close(done)
	wg.Wait()
	if p.Len() > p.Cap() {
		t.Fatalf("Pool size %d exceeded capacity %d", p.Len(), p.Cap())
	}
}

func TestPool_FIFOAcquire(t *testing.T) {
	p := New(3, make(chan struct{}))
	for i := 1; i <= 3; i++ {
		if !p.Push(addr(i)) {
			t.Fatalf("Push(%d) failed", i)
		}
	}
	for i := 1; i <= 3; i++ {
		got, outcome := p.Acquire(context.Background(), time.Second)
		if outcome != Acquired {
			t.Fatalf("Expected Acquired, got %v", outcome)
		}
		if got != addr(i) {
			t.Errorf("Expected %s, got %s", addr(i), got)
		}
	}
}

func TestPool_AcquireTimesOutOnEmptyPool(t *testing.T) {
	p := New(2, make(chan struct{}))
	start := time.Now()
	got, outcome := p.Acquire(context.Background(), 100*time.Millisecond)
	elapsed := time.Since(start)

	if outcome != TimedOut || got != "" {
		t.Fatalf("Expected TimedOut with empty address, got %v %q", outcome, got)
	}
	if elapsed < 90*time.Millisecond || elapsed > time.Second {
		t.Errorf("Acquire returned after %v, expected about 100ms", elapsed)
	}
}

func TestPool_AcquireObservesStopAndContext(t *testing.T) {
	done := make(chan struct{})
	p := New(2, done)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, outcome := p.Acquire(ctx, time.Minute); outcome != Canceled {
		t.Errorf("Expected Canceled, got %v", outcome)
	}

	close(done)
	if _, outcome := p.Acquire(context.Background(), time.Minute); outcome != Stopped {
		t.Errorf("Expected Stopped, got %v", outcome)
	}
	if p.Push(addr(1)) {
		t.Error("Expected Push to fail after stop")
	}
}

func TestPool_TryPushDropsWhenFull(t *testing.T) {
	p := New(1, make(chan struct{}))
	if !p.TryPush(addr(1)) {
		t.Fatal("Expected first TryPush to succeed")
	}
	if p.TryPush(addr(2)) {
		t.Fatal("Expected TryPush on a full pool to drop the address")
	}
	if p.Len() != 1 {
		t.Errorf("Expected size 1, got %d", p.Len())
	}
}

func TestDenySet_AddContainsFilter(t *testing.T) {
	d := NewDenySet(0)
	d.Add(addr(2))

	if !d.Contains(addr(2)) {
		t.Error("Expected addr(2) to be denied")
	}
	if d.Contains(addr(1)) {
		t.Error("Expected addr(1) not to be denied")
	}

	got := d.Filter([]model.ProxyAddress{addr(1), addr(2), addr(3)})
	if len(got) != 2 || got[0] != addr(1) || got[1] != addr(3) {
		t.Errorf("Unexpected filter result %v", got)
	}
}

func TestDenySet_TTLExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := NewDenySet(time.Minute)
	d.now = func() time.Time { return now }

	d.Add(addr(1))
	if !d.Contains(addr(1)) {
		t.Fatal("Expected fresh entry to be denied")
	}

	now = now.Add(2 * time.Minute)
	if d.Contains(addr(1)) {
		t.Error("Expected expired entry to be allowed again")
	}
	if got := d.Filter([]model.ProxyAddress{addr(1)}); len(got) != 1 {
		t.Errorf("Expected expired entry to pass the filter, got %v", got)
	}
	if d.Len() != 0 {
		t.Errorf("Expected Filter to purge expired entries, Len() = %d", d.Len())
	}
}

func TestDenySet_ConcurrentAccess(t *testing.T) {
	d := NewDenySet(0)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.Add(addr(i*100 + j))
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.Contains(addr(j))
				d.Filter([]model.ProxyAddress{addr(i), addr(j)})
			}
		}(i)
	}
	wg.Wait()
	if d.Len() != 1600 {
		t.Errorf("Expected 1600 entries, got %d", d.Len())
	}
}
