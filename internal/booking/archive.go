package booking

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"scheduling-platform/internal/availability"
	"scheduling-platform/internal/calendar"
	"scheduling-platform/pkg/utils"

	"github.com/google/uuid"
)

// Archive is an optional, append-only record of successful bookings.
//
// IMPORTANT:
// - Writes are best-effort; a failed insert never fails the booking.
// - Nothing is ever read back: the external calendar stays the source of
//   truth for anything that outlives the hold window.
//
// Expected table:
//
//	booking_records (
//	  id, slot_key, holder_id, event_id, attendee_name, attendee_email,
//	  attendee_phone, starts_at, ends_at, html_link, meeting_link, created_at
//	)
type Archive struct {
	db *sql.DB
}

func NewArchive(db *sql.DB) *Archive {
	return &Archive{db: db}
}

// BookingRecord is one archived booking.
type BookingRecord struct {
	ID            string
	SlotKey       string
	HolderID      string
	EventID       string
	AttendeeName  string
	AttendeeEmail string
	AttendeePhone string
	StartsAt      time.Time
	EndsAt        time.Time
	HTMLLink      string
	MeetingLink   string
	CreatedAt     time.Time
}

func newBookingRecord(slot availability.Slot, holderID string, attendee Attendee, created calendar.CreatedEvent, now time.Time) BookingRecord {
	return BookingRecord{
		ID:            uuid.NewString(),
		SlotKey:       slot.Key(),
		HolderID:      holderID,
		EventID:       created.ID,
		AttendeeName:  attendee.Name,
		AttendeeEmail: attendee.Email,
		AttendeePhone: attendee.Phone,
		StartsAt:      slot.Start.UTC(),
		EndsAt:        slot.End.UTC(),
		HTMLLink:      created.HTMLLink,
		MeetingLink:   created.MeetingLink,
		CreatedAt:     now,
	}
}

// Record appends one booking. Append-only by design; no update or delete
// methods exist.
func (a *Archive) Record(ctx context.Context, rec BookingRecord) error {
	if a == nil || a.db == nil {
		return errors.New("booking: archive not configured")
	}
	if rec.SlotKey == "" || rec.EventID == "" {
		return errors.New("booking: archive record missing slot key or event id")
	}

	return utils.WithTx(ctx, a.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO booking_records (
  id, slot_key, holder_id, event_id, attendee_name, attendee_email,
  attendee_phone, starts_at, ends_at, html_link, meeting_link, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
		_, err := tx.ExecContext(ctx, q,
			rec.ID,
			rec.SlotKey,
			rec.HolderID,
			rec.EventID,
			rec.AttendeeName,
			rec.AttendeeEmail,
			rec.AttendeePhone,
			rec.StartsAt,
			rec.EndsAt,
			rec.HTMLLink,
			rec.MeetingLink,
			rec.CreatedAt,
		)
		return err
	})
}
