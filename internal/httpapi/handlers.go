package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"scheduling-platform/internal/availability"
	"scheduling-platform/internal/booking"
	"scheduling-platform/internal/calendar"
	"scheduling-platform/internal/calls"
	"scheduling-platform/internal/reservation"
	"scheduling-platform/internal/timeparse"
	"scheduling-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

// SlotOracle is the slice of the availability oracle the handlers need.
type SlotOracle interface {
	FreeSlots(ctx context.Context, day time.Time, duration, granularity time.Duration, hours availability.BusinessHours) ([]availability.Slot, error)
	SlotFree(ctx context.Context, slot availability.Slot) (bool, error)
}

// Booker runs the full booking pipeline.
type Booker interface {
	BookSlot(ctx context.Context, slot availability.Slot, holderID string, attendee booking.Attendee) (calendar.CreatedEvent, error)
}

// Dialer starts outbound calls at the voice provider.
type Dialer interface {
	StartCall(ctx context.Context, req calls.StartCallRequest) (string, error)
}

// SlotSettings carries the slot-shape configuration the handlers apply to
// every request.
type SlotSettings struct {
	Duration    time.Duration
	Granularity time.Duration
	HoldTTL     time.Duration
	Hours       availability.BusinessHours
}

type Handlers struct {
	Oracle   SlotOracle
	Store    reservation.Store
	Booker   Booker
	Registry *calls.Registry
	Dialer   Dialer
	Slots    SlotSettings
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// --- Slots ---

// ListSlots returns the free slots for one day. The day comes either from a
// date=YYYY-MM-DD query or from a preference= free-text query ("tomorrow
// afternoon"), in which case the parsed candidate is echoed back.
func (h Handlers) ListSlots(c *gin.Context) {
	loc := h.location()

	var day time.Time
	var candidate *timeparse.Candidate

	switch {
	case c.Query("date") != "":
		parsed, err := time.ParseInLocation("2006-01-02", c.Query("date"), loc)
		if err != nil {
			fail(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	case c.Query("preference") != "":
		cand := timeparse.Parse(c.Query("preference"), time.Now().In(loc))
		candidate = &cand
		day = cand.When
	default:
		fail(c, http.StatusBadRequest, "date or preference query is required")
		return
	}

	duration, err := h.slotDuration(c)
	if err != nil {
		fail(c, http.StatusBadRequest, "duration must be minutes > 0")
		return
	}

	slots, err := h.Oracle.FreeSlots(c.Request.Context(), day, duration, h.Slots.Granularity, h.Slots.Hours)
	if err != nil {
		h.log(c).Error("free slots lookup failed", "date", day.Format("2006-01-02"), "err", err)
		fail(c, http.StatusInternalServerError, "availability lookup failed")
		return
	}

	resp := gin.H{
		"success": true,
		"date":    day.Format("2006-01-02"),
		"slots":   slotViews(slots),
	}
	if candidate != nil {
		resp["candidate"] = gin.H{
			"when":         candidate.When,
			"matched_date": candidate.MatchedDate,
			"matched_time": candidate.MatchedTime,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// CheckSlot re-checks one slot directly against the provider.
func (h Handlers) CheckSlot(c *gin.Context) {
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		fail(c, http.StatusBadRequest, "start must be RFC3339")
		return
	}
	duration, err := h.slotDuration(c)
	if err != nil {
		fail(c, http.StatusBadRequest, "duration must be minutes > 0")
		return
	}
	slot := availability.SlotAt(start.UTC(), duration)

	free, err := h.Oracle.SlotFree(c.Request.Context(), slot)
	if err != nil {
		h.log(c).Error("slot check failed", "slot_key", slot.Key(), "err", err)
		fail(c, http.StatusInternalServerError, "availability check failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "available": free, "slot": slotView(slot)})
}

// --- Holds ---

type holdRequest struct {
	SlotStart  string `json:"slot_start"`
	HolderID   string `json:"holder_id"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

func (r holdRequest) slotKey(duration time.Duration) (string, error) {
	start, err := time.Parse(time.RFC3339, r.SlotStart)
	if err != nil {
		return "", err
	}
	return availability.SlotAt(start.UTC(), duration).Key(), nil
}

// AcquireHold claims a slot for a holder. Exactly one holder can own a live
// hold on a slot; losers get 409.
func (h Handlers) AcquireHold(c *gin.Context) {
	var req holdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.HolderID == "" {
		fail(c, http.StatusBadRequest, "holder_id required")
		return
	}
	key, err := req.slotKey(h.Slots.Duration)
	if err != nil {
		fail(c, http.StatusBadRequest, "slot_start must be RFC3339")
		return
	}

	if req.TTLSeconds < 0 {
		fail(c, http.StatusBadRequest, "ttl_seconds must be positive")
		return
	}
	ttl := h.Slots.HoldTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	if !h.Store.Acquire(key, req.HolderID, ttl) {
		fail(c, http.StatusConflict, "slot is held by another caller")
		return
	}
	hold, _ := h.Store.Get(key)
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"slot_key":   key,
		"expires_at": hold.ExpiresAt,
	})
}

// ReleaseHold drops a hold. Only the owning holder can release; anything else
// is a 404 so callers cannot probe who holds what.
func (h Handlers) ReleaseHold(c *gin.Context) {
	var req holdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.HolderID == "" {
		fail(c, http.StatusBadRequest, "holder_id required")
		return
	}
	key, err := req.slotKey(h.Slots.Duration)
	if err != nil {
		fail(c, http.StatusBadRequest, "slot_start must be RFC3339")
		return
	}

	if !h.Store.Release(key, req.HolderID) {
		fail(c, http.StatusNotFound, "no matching hold")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "slot_key": key})
}

// --- Bookings ---

type bookingRequest struct {
	SlotStart string `json:"slot_start"`
	HolderID  string `json:"holder_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Notes     string `json:"notes"`
	CallID    string `json:"call_id"`
}

// CreateBooking runs acquire, re-check, confirm, create event, notify.
func (h Handlers) CreateBooking(c *gin.Context) {
	var req bookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	start, err := time.Parse(time.RFC3339, req.SlotStart)
	if err != nil {
		fail(c, http.StatusBadRequest, "slot_start must be RFC3339")
		return
	}
	holderID := req.HolderID
	if holderID == "" {
		// Single-shot bookings (no prior hold flow) get a fresh holder id.
		holderID = uuid.NewString()
	}
	slot := availability.SlotAt(start.UTC(), h.Slots.Duration)

	created, err := h.Booker.BookSlot(c.Request.Context(), slot, holderID, booking.Attendee{
		Name:   req.Name,
		Email:  req.Email,
		Phone:  req.Phone,
		Notes:  req.Notes,
		CallID: req.CallID,
	})
	if err != nil {
		h.bookingError(c, slot.Key(), err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"event": gin.H{
			"id":           created.ID,
			"html_link":    created.HTMLLink,
			"meeting_link": created.MeetingLink,
			"start":        created.Start,
			"end":          created.End,
		},
	})
}

func (h Handlers) bookingError(c *gin.Context, slotKey string, err error) {
	switch {
	case errors.Is(err, booking.ErrInvalidInput):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrSlotTaken),
		errors.Is(err, booking.ErrSlotUnavailable),
		errors.Is(err, booking.ErrHoldExpired),
		errors.Is(err, calendar.ErrConflict):
		fail(c, http.StatusConflict, "slot is no longer available")
	default:
		h.log(c).Error("booking failed", "slot_key", slotKey, "err", err)
		fail(c, http.StatusInternalServerError, "booking failed")
	}
}

// --- Calls ---

type startCallRequest struct {
	ToNumber   string `json:"to_number"`
	FromNumber string `json:"from_number"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
}

// StartCall dials out via the voice provider and registers the call for
// webhook-driven tracking.
func (h Handlers) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ToNumber == "" {
		fail(c, http.StatusBadRequest, "to_number required")
		return
	}

	sessionID := uuid.NewString()
	callID, err := h.Dialer.StartCall(c.Request.Context(), calls.StartCallRequest{
		ToNumber:   req.ToNumber,
		FromNumber: req.FromNumber,
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		SessionID:  sessionID,
	})
	if err != nil {
		h.log(c).Error("start call failed", "to", req.ToNumber, "err", err)
		fail(c, http.StatusInternalServerError, "call could not be started")
		return
	}

	if _, err := h.Registry.Create(callID, sessionID, req.Name, req.Email, req.Phone); err != nil {
		h.log(c).Warn("call record create failed", "call_id", callID, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call_id": callID, "session_id": sessionID})
}

// GetCall returns a tracked call record.
func (h Handlers) GetCall(c *gin.Context) {
	rec, ok := h.Registry.Get(c.Param("call_id"))
	if !ok {
		fail(c, http.StatusNotFound, "call not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call": rec})
}

// UpdateConversation applies agent-driven conversation state to a call.
func (h Handlers) UpdateConversation(c *gin.Context) {
	var upd calls.ConversationUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	rec, err := h.Registry.UpdateConversation(c.Param("call_id"), upd)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			fail(c, http.StatusNotFound, "call not found")
			return
		}
		fail(c, http.StatusInternalServerError, "update failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call": rec})
}

// CallWebhook receives lifecycle events from the voice provider.
func (h Handlers) CallWebhook(c *gin.Context) {
	payload, err := calls.ParseWebhook(c.Request)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Registry.HandleEvent(c.Request.Context(), payload); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- helpers ---

// log returns the request-scoped logger so lines carry request_id.
func (h Handlers) log(c *gin.Context) *slog.Logger {
	return logger.FromGin(c)
}

// slotDuration applies the optional duration= override (in minutes).
func (h Handlers) slotDuration(c *gin.Context) (time.Duration, error) {
	raw := c.Query("duration")
	if raw == "" {
		return h.Slots.Duration, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("httpapi: bad duration %q", raw)
	}
	return time.Duration(n) * time.Minute, nil
}

func (h Handlers) location() *time.Location {
	if h.Slots.Hours.Location != nil {
		return h.Slots.Hours.Location
	}
	return time.UTC
}

func slotView(s availability.Slot) gin.H {
	return gin.H{"key": s.Key(), "start": s.Start, "end": s.End}
}

func slotViews(slots []availability.Slot) []gin.H {
	out := make([]gin.H, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotView(s))
	}
	return out
}
