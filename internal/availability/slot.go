package availability

import (
	"fmt"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open intervals intersect.
// Touching boundaries (a.End == b.Start) do not conflict.
func (a Interval) Overlaps(b Interval) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

// Slot is a candidate meeting interval. Slots are derived on demand from a
// day, a duration and a granularity; they are never stored as objects.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Key is the canonical identity of a slot: its normalized start instant.
// Holds, bookings and lookups all key on this value.
func (s Slot) Key() string {
	return s.Start.UTC().Format(time.RFC3339)
}

func (s Slot) Interval() Interval {
	return Interval{Start: s.Start, End: s.End}
}

// SlotAt builds a slot of the given duration starting at start.
func SlotAt(start time.Time, duration time.Duration) Slot {
	return Slot{Start: start, End: start.Add(duration)}
}

// SlotFromKey rebuilds a slot from its canonical key.
func SlotFromKey(key string, duration time.Duration) (Slot, error) {
	start, err := time.Parse(time.RFC3339, key)
	if err != nil {
		return Slot{}, fmt.Errorf("availability: bad slot key %q: %w", key, err)
	}
	return SlotAt(start.UTC(), duration), nil
}
