package booking

import "errors"

// The orchestrator translates every reservation-table and oracle failure into
// one of these kinds; callers of the core never see a raw provider error
// outside the %w chain.
var (
	// ErrInvalidInput rejects missing or malformed fields before any side
	// effect happens.
	ErrInvalidInput = errors.New("booking: invalid input")

	// ErrSlotTaken means another holder has a live hold on the slot.
	ErrSlotTaken = errors.New("booking: slot already held")

	// ErrSlotUnavailable means the provider reports a conflict the local
	// table could not see; the hold has been released.
	ErrSlotUnavailable = errors.New("booking: slot no longer available")

	// ErrHoldExpired means the hold lapsed between acquire and confirm.
	ErrHoldExpired = errors.New("booking: reservation expired")

	// ErrProvider wraps calendar-provider failures. The hold has already been
	// consumed by confirm, so the slot key is immediately acquirable again; a
	// retry starts from a fresh acquire.
	ErrProvider = errors.New("booking: provider error")
)
