package reservation

import (
	"context"
	"sync"
	"time"
)

// Hold is a short-lived exclusive claim on one slot key.
//
// Invariant: at most one live (non-expired) hold exists per slot key. The
// store owns all holds; callers interact only through Acquire/Confirm/Release
// and never mutate a hold they are handed back.
type Hold struct {
	SlotKey   string    `json:"slot_key"`
	HolderID  string    `json:"holder_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h Hold) liveAt(now time.Time) bool {
	return h.ExpiresAt.After(now)
}

// Store is the reservation table contract. Implementations must make
// Acquire/Confirm/Release linearizable per slot key: two concurrent acquires
// for the same key must observe a strict winner/loser outcome.
type Store interface {
	// Acquire claims slotKey for holderID. It succeeds when no live hold
	// exists, or when the live hold already belongs to holderID (re-acquire
	// refreshes the expiry). It fails when a different holder is still live.
	Acquire(slotKey, holderID string, ttl time.Duration) bool

	// Confirm consumes the hold, handing the slot off to permanent booking.
	// It succeeds only for the live holder and is not repeatable.
	Confirm(slotKey, holderID string) bool

	// Release removes the hold iff held by holderID. Used for explicit
	// cancellation and for freeing a slot quickly after a failed booking.
	Release(slotKey, holderID string) bool

	// Get returns the live hold for slotKey, if any.
	Get(slotKey string) (Hold, bool)

	Len() int
	Clear()
}

// MemoryStore is the volatile, process-local reservation table. The external
// calendar is the source of truth for anything that outlives the hold window,
// so nothing here is persisted.
//
// Expired holds are treated as absent on every lookup, and a periodic sweep
// removes them so the map does not grow unbounded.
type MemoryStore struct {
	mu    sync.Mutex
	holds map[string]Hold

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holds: make(map[string]Hold),
		clock: time.Now,
	}
}

func (s *MemoryStore) Acquire(slotKey, holderID string, ttl time.Duration) bool {
	if slotKey == "" || holderID == "" || ttl <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	if h, ok := s.holds[slotKey]; ok && h.liveAt(now) && h.HolderID != holderID {
		return false
	}

	created := now
	if h, ok := s.holds[slotKey]; ok && h.liveAt(now) && h.HolderID == holderID {
		// Idempotent re-acquire keeps the original claim time.
		created = h.CreatedAt
	}
	s.holds[slotKey] = Hold{
		SlotKey:   slotKey,
		HolderID:  holderID,
		CreatedAt: created,
		ExpiresAt: now.Add(ttl),
	}
	return true
}

func (s *MemoryStore) Confirm(slotKey, holderID string) bool {
	if slotKey == "" || holderID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	h, ok := s.holds[slotKey]
	if !ok || !h.liveAt(now) || h.HolderID != holderID {
		return false
	}
	delete(s.holds, slotKey)
	return true
}

func (s *MemoryStore) Release(slotKey, holderID string) bool {
	if slotKey == "" || holderID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	h, ok := s.holds[slotKey]
	if !ok || !h.liveAt(now) || h.HolderID != holderID {
		return false
	}
	delete(s.holds, slotKey)
	return true
}

func (s *MemoryStore) Get(slotKey string) (Hold, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[slotKey]
	if !ok || !h.liveAt(s.clock().UTC()) {
		return Hold{}, false
	}
	return h, true
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	n := 0
	for _, h := range s.holds {
		if h.liveAt(now) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds = make(map[string]Hold)
}

// StartSweeper runs a periodic sweep until ctx is cancelled. The sweep only
// drops entries that are already expired, so it is safe against Clear and
// against holds created mid-flight.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	for key, h := range s.holds {
		if !h.liveAt(now) {
			delete(s.holds, key)
		}
	}
}
