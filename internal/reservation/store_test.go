package reservation

import (
	"context"
	"sync"
	"testing"
	"time"
)

const (
	key = "2025-05-05T17:00:00Z"
	ttl = 300 * time.Second
)

// fixedClock lets tests move time forward explicitly.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStoreWithClock() (*MemoryStore, *fixedClock) {
	clk := &fixedClock{now: time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.clock = clk.Now
	return s, clk
}

func TestAcquire_WinnerLoser(t *testing.T) {
	s, _ := newStoreWithClock()

	if !s.Acquire(key, "u1", ttl) {
		t.Fatalf("first acquire must succeed")
	}
	if s.Acquire(key, "u2", ttl) {
		t.Fatalf("second holder must lose while u1 is live")
	}
}

func TestAcquire_IdempotentReacquireExtendsExpiry(t *testing.T) {
	s, clk := newStoreWithClock()

	if !s.Acquire(key, "u1", ttl) {
		t.Fatalf("acquire failed")
	}
	h1, ok := s.Get(key)
	if !ok {
		t.Fatalf("expected live hold")
	}

	clk.Advance(200 * time.Second)
	if !s.Acquire(key, "u1", ttl) {
		t.Fatalf("re-acquire by same holder must succeed")
	}
	h2, ok := s.Get(key)
	if !ok {
		t.Fatalf("expected live hold after re-acquire")
	}
	if !h2.ExpiresAt.After(h1.ExpiresAt) {
		t.Fatalf("re-acquire must extend expiry: %v vs %v", h2.ExpiresAt, h1.ExpiresAt)
	}
	if !h2.CreatedAt.Equal(h1.CreatedAt) {
		t.Fatalf("re-acquire must not look like a second reservation")
	}
	if s.Len() != 1 {
		t.Fatalf("expected exactly one hold, got %d", s.Len())
	}
}

func TestAcquire_ExpiredHoldNeverBlocks(t *testing.T) {
	s, clk := newStoreWithClock()

	if !s.Acquire(key, "u1", ttl) {
		t.Fatalf("acquire failed")
	}
	clk.Advance(ttl + time.Second)
	if !s.Acquire(key, "u2", ttl) {
		t.Fatalf("expired hold must not block a new holder")
	}
}

func TestConfirm_ConsumesAndIsNotRepeatable(t *testing.T) {
	s, _ := newStoreWithClock()

	s.Acquire(key, "u1", ttl)
	if !s.Confirm(key, "u1") {
		t.Fatalf("confirm by holder must succeed")
	}
	if s.Confirm(key, "u1") {
		t.Fatalf("confirm must not be repeatable")
	}
	if _, ok := s.Get(key); ok {
		t.Fatalf("confirmed hold must be gone")
	}
}

func TestConfirm_WrongHolderFails(t *testing.T) {
	s, _ := newStoreWithClock()

	s.Acquire(key, "u1", ttl)
	if s.Confirm(key, "u2") {
		t.Fatalf("confirm by non-holder must fail")
	}
	if _, ok := s.Get(key); !ok {
		t.Fatalf("failed confirm must not disturb the live hold")
	}
}

func TestConfirm_AfterExpiryAlwaysFails(t *testing.T) {
	s, clk := newStoreWithClock()

	s.Acquire(key, "u1", ttl)
	clk.Advance(ttl)
	if s.Confirm(key, "u1") {
		t.Fatalf("confirm after ttl must fail even for the holder")
	}
}

func TestRelease_OnlyByHolder(t *testing.T) {
	s, _ := newStoreWithClock()

	if s.Release(key, "u1") {
		t.Fatalf("release with no hold must be a no-op")
	}

	s.Acquire(key, "u1", ttl)
	if s.Release(key, "u2") {
		t.Fatalf("release by non-holder must fail")
	}
	if _, ok := s.Get(key); !ok {
		t.Fatalf("non-holder release must not affect the live hold")
	}
	if !s.Release(key, "u1") {
		t.Fatalf("release by holder must succeed")
	}
	if _, ok := s.Get(key); ok {
		t.Fatalf("released hold must be gone")
	}
}

func TestAcquire_ConcurrentSingleWinner(t *testing.T) {
	s := NewMemoryStore()

	const holders = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	wins := make(chan string, holders)

	for i := 0; i < holders; i++ {
		wg.Add(1)
		holder := string(rune('a' + i%26))
		// Distinct holder ids; suffix avoids duplicates past 26.
		holder = holder + string(rune('0'+i/26))
		go func(h string) {
			defer wg.Done()
			<-start
			if s.Acquire(key, h, ttl) {
				wins <- h
			}
		}(holder)
	}

	close(start)
	wg.Wait()
	close(wins)

	n := 0
	for range wins {
		n++
	}
	if n != 1 {
		t.Fatalf("expected exactly one winner, got %d", n)
	}
}

func TestSweep_RemovesExpiredEntries(t *testing.T) {
	s, clk := newStoreWithClock()

	s.Acquire("k1", "u1", ttl)
	s.Acquire("k2", "u2", 10*time.Second)
	clk.Advance(60 * time.Second)

	s.sweep()

	s.mu.Lock()
	remaining := len(s.holds)
	s.mu.Unlock()
	if remaining != 1 {
		t.Fatalf("sweep must drop expired entries, %d left", remaining)
	}
}

func TestSweeper_ToleratesClear(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.StartSweeper(ctx, time.Millisecond)
	s.Acquire(key, "u1", ttl)
	s.Clear()
	time.Sleep(5 * time.Millisecond)

	if !s.Acquire(key, "u2", ttl) {
		t.Fatalf("acquire after clear must succeed")
	}
}

func TestAcquire_RejectsInvalidArgs(t *testing.T) {
	s := NewMemoryStore()

	if s.Acquire("", "u1", ttl) {
		t.Fatalf("empty slot key must fail")
	}
	if s.Acquire(key, "", ttl) {
		t.Fatalf("empty holder must fail")
	}
	if s.Acquire(key, "u1", 0) {
		t.Fatalf("non-positive ttl must fail")
	}
}
