package availability

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"scheduling-platform/internal/calendar"
)

// Provider is the slice of the calendar client the oracle needs.
type Provider interface {
	BusyWindows(ctx context.Context, timeMin, timeMax time.Time) ([]calendar.BusyWindow, error)
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]calendar.Event, error)
}

// BusinessHours bound the candidate slots generated for a day.
type BusinessHours struct {
	OpenHour  int
	CloseHour int
	Location  *time.Location
}

// Oracle computes free meeting slots from external busy data.
//
// The canonical conflict strategy is a double query: the provider's free/busy
// answer merged with its event list (cancelled and declined events removed).
// When the provider is unreachable every method returns an error; there is
// deliberately no "assume free" fallback, because a silent green light
// defeats conflict detection entirely.
type Oracle struct {
	provider Provider
	cache    *BusyCache
	logger   *slog.Logger
}

func NewOracle(provider Provider, cache *BusyCache, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{provider: provider, cache: cache, logger: logger}
}

// BusyIntervals returns the merged, coalesced busy set for [from, to).
// Results may be served from the short-TTL cache; use SlotFree for the
// booking-time re-check, which always goes to the provider.
func (o *Oracle) BusyIntervals(ctx context.Context, from, to time.Time) ([]Interval, error) {
	if o.cache != nil {
		if cached, ok := o.cache.Get(ctx, from, to); ok {
			return cached, nil
		}
	}

	merged, err := o.busyFromProvider(ctx, from, to)
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		o.cache.Set(ctx, from, to, merged)
	}
	return merged, nil
}

func (o *Oracle) busyFromProvider(ctx context.Context, from, to time.Time) ([]Interval, error) {
	windows, err := o.provider.BusyWindows(ctx, from, to)
	if err != nil {
		return nil, err
	}
	events, err := o.provider.ListEvents(ctx, from, to)
	if err != nil {
		return nil, err
	}

	intervals := make([]Interval, 0, len(windows)+len(events))
	for _, w := range windows {
		intervals = append(intervals, Interval{Start: w.Start, End: w.End})
	}
	for _, e := range events {
		if excludedStatus(e.Status) {
			continue
		}
		if !e.End.After(e.Start) {
			continue
		}
		intervals = append(intervals, Interval{Start: e.Start, End: e.End})
	}

	return coalesce(intervals), nil
}

func excludedStatus(status string) bool {
	switch status {
	case "cancelled", "declined":
		return true
	default:
		return false
	}
}

// coalesce sorts intervals by start and merges overlapping ones. Abutting
// intervals stay separate; they cannot both conflict with one slot anyway.
func coalesce(in []Interval) []Interval {
	if len(in) <= 1 {
		return in
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Start.Before(in[j].Start) })

	out := make([]Interval, 0, len(in))
	cur := in[0]
	for _, iv := range in[1:] {
		if iv.Start.Before(cur.End) {
			if iv.End.After(cur.End) {
				cur.End = iv.End
			}
			continue
		}
		out = append(out, cur)
		cur = iv
	}
	return append(out, cur)
}

// FreeSlots computes the ordered free slots for one day within business
// hours. A slot is excluded iff it overlaps a busy interval or would end
// after close.
func (o *Oracle) FreeSlots(ctx context.Context, day time.Time, duration, granularity time.Duration, hours BusinessHours) ([]Slot, error) {
	loc := hours.Location
	if loc == nil {
		loc = time.UTC
	}
	open := time.Date(day.Year(), day.Month(), day.Day(), hours.OpenHour, 0, 0, 0, loc)
	close := time.Date(day.Year(), day.Month(), day.Day(), hours.CloseHour, 0, 0, 0, loc)

	busy, err := o.BusyIntervals(ctx, open, close)
	if err != nil {
		return nil, err
	}

	var free []Slot
	for start := open; ; start = start.Add(granularity) {
		slot := SlotAt(start, duration)
		if slot.End.After(close) {
			break
		}
		if !conflicts(slot, busy) {
			free = append(free, slot)
		}
	}
	return free, nil
}

// SlotFree re-checks a single slot directly against the provider, bypassing
// the cache. This is the defensive re-check the booking orchestrator runs
// while it holds the slot.
func (o *Oracle) SlotFree(ctx context.Context, slot Slot) (bool, error) {
	busy, err := o.busyFromProvider(ctx, slot.Start, slot.End)
	if err != nil {
		return false, err
	}
	return !conflicts(slot, busy), nil
}

func conflicts(slot Slot, busy []Interval) bool {
	for _, b := range busy {
		if slot.Interval().Overlaps(b) {
			return true
		}
	}
	return false
}
