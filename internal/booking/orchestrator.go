package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"scheduling-platform/internal/availability"
	"scheduling-platform/internal/calendar"
	"scheduling-platform/internal/notify"
	"scheduling-platform/internal/reservation"
)

// Attendee identifies who the appointment is for.
type Attendee struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
	Notes  string `json:"notes,omitempty"`
	CallID string `json:"call_id,omitempty"`
}

// AvailabilityChecker is the slice of the oracle the orchestrator needs.
type AvailabilityChecker interface {
	SlotFree(ctx context.Context, slot availability.Slot) (bool, error)
}

// EventCreator is the slice of the calendar client the orchestrator needs.
type EventCreator interface {
	CreateEvent(ctx context.Context, req calendar.CreateEventRequest) (calendar.CreatedEvent, error)
}

// Notifier delivers fire-and-forget downstream notifications.
type Notifier interface {
	Async(ctx context.Context, p notify.Payload)
}

// Orchestrator sequences a booking:
// acquire hold -> re-check availability -> confirm hold -> create the
// external event -> notify downstream.
//
// The hold mutex is never held across a network call; the store operations
// are purely in-memory transitions between the blocking steps.
type Orchestrator struct {
	store    reservation.Store
	oracle   AvailabilityChecker
	provider EventCreator
	notifier Notifier
	archive  *Archive

	holdTTL  time.Duration
	timezone string
	logger   *slog.Logger

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

type OrchestratorOptions struct {
	HoldTTL  time.Duration
	Timezone string
	Notifier Notifier
	Archive  *Archive
	Logger   *slog.Logger
}

func NewOrchestrator(store reservation.Store, oracle AvailabilityChecker, provider EventCreator, opts OrchestratorOptions) *Orchestrator {
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = 300 * time.Second
	}
	if opts.Timezone == "" {
		opts.Timezone = "UTC"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		store:    store,
		oracle:   oracle,
		provider: provider,
		notifier: opts.Notifier,
		archive:  opts.Archive,
		holdTTL:  opts.HoldTTL,
		timezone: opts.Timezone,
		logger:   opts.Logger,
		clock:    time.Now,
	}
}

// BookSlot books slot for holderID on behalf of attendee.
func (o *Orchestrator) BookSlot(ctx context.Context, slot availability.Slot, holderID string, attendee Attendee) (calendar.CreatedEvent, error) {
	if err := validateBooking(slot, holderID, attendee); err != nil {
		return calendar.CreatedEvent{}, err
	}
	key := slot.Key()

	if !o.store.Acquire(key, holderID, o.holdTTL) {
		return calendar.CreatedEvent{}, fmt.Errorf("%w: %s", ErrSlotTaken, key)
	}

	// The hold is local memory and cannot see bookings made through other
	// channels, so re-check against the provider before committing.
	free, err := o.oracle.SlotFree(ctx, slot)
	if err != nil {
		o.store.Release(key, holderID)
		return calendar.CreatedEvent{}, fmt.Errorf("%w: availability re-check: %w", ErrProvider, err)
	}
	if !free {
		o.store.Release(key, holderID)
		return calendar.CreatedEvent{}, fmt.Errorf("%w: %s", ErrSlotUnavailable, key)
	}

	if !o.store.Confirm(key, holderID) {
		return calendar.CreatedEvent{}, fmt.Errorf("%w: %s", ErrHoldExpired, key)
	}

	created, err := o.provider.CreateEvent(ctx, calendar.CreateEventRequest{
		Summary:       eventSummary(attendee),
		Description:   eventDescription(attendee),
		Start:         slot.Start,
		End:           slot.End,
		TimeZone:      o.timezone,
		AttendeeEmail: attendee.Email,
		AttendeeName:  attendee.Name,
	})
	if err != nil {
		// The hold was consumed by confirm; the slot key is free for a fresh
		// acquire, which is exactly what a retry needs.
		return calendar.CreatedEvent{}, fmt.Errorf("%w: create event: %w", ErrProvider, err)
	}

	o.logger.Info("slot booked",
		"slot_key", key,
		"holder_id", holderID,
		"event_id", created.ID,
	)

	if o.archive != nil {
		if err := o.archive.Record(ctx, newBookingRecord(slot, holderID, attendee, created, o.clock().UTC())); err != nil {
			o.logger.Warn("booking archive write failed", "slot_key", key, "err", err)
		}
	}

	if o.notifier != nil {
		o.notifier.Async(ctx, notify.Payload{
			Name:               attendee.Name,
			Email:              attendee.Email,
			Phone:              attendee.Phone,
			CallID:             attendee.CallID,
			SchedulingComplete: true,
			Timestamp:          o.clock().UTC(),
			AppointmentDate:    slot.Start.UTC().Format("2006-01-02"),
			AppointmentTime:    slot.Start.UTC().Format("15:04"),
			SchedulingLink:     created.MeetingLink,
			SchedulingData:     created.HTMLLink,
		})
	}

	return created, nil
}

func validateBooking(slot availability.Slot, holderID string, attendee Attendee) error {
	var missing []string
	if holderID == "" {
		missing = append(missing, "holder_id")
	}
	if attendee.Name == "" {
		missing = append(missing, "name")
	}
	if attendee.Email == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	if !slot.End.After(slot.Start) {
		return fmt.Errorf("%w: slot end must be after start", ErrInvalidInput)
	}
	return nil
}

func eventSummary(a Attendee) string {
	return "Appointment: " + a.Name
}

func eventDescription(a Attendee) string {
	var b strings.Builder
	b.WriteString("Booked by phone assistant.\n")
	b.WriteString("Email: " + a.Email + "\n")
	if a.Phone != "" {
		b.WriteString("Phone: " + a.Phone + "\n")
	}
	if a.Notes != "" {
		b.WriteString("Notes: " + a.Notes + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
