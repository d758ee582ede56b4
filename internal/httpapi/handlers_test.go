package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scheduling-platform/internal/availability"
	"scheduling-platform/internal/booking"
	"scheduling-platform/internal/calendar"
	"scheduling-platform/internal/calls"
	"scheduling-platform/internal/reservation"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeOracle struct {
	slots []availability.Slot
	free  bool
	err   error
}

func (f *fakeOracle) FreeSlots(_ context.Context, _ time.Time, _, _ time.Duration, _ availability.BusinessHours) ([]availability.Slot, error) {
	return f.slots, f.err
}

func (f *fakeOracle) SlotFree(_ context.Context, _ availability.Slot) (bool, error) {
	return f.free, f.err
}

type fakeBooker struct {
	created calendar.CreatedEvent
	err     error

	gotHolder string
	gotSlot   availability.Slot
}

func (f *fakeBooker) BookSlot(_ context.Context, slot availability.Slot, holderID string, _ booking.Attendee) (calendar.CreatedEvent, error) {
	f.gotSlot = slot
	f.gotHolder = holderID
	return f.created, f.err
}

type fakeDialer struct {
	callID string
	err    error
}

func (f *fakeDialer) StartCall(_ context.Context, _ calls.StartCallRequest) (string, error) {
	return f.callID, f.err
}

func newTestRouter(h Handlers) *gin.Engine {
	r := gin.New()
	r.GET("/v1/slots", h.ListSlots)
	r.GET("/v1/slots/check", h.CheckSlot)
	r.POST("/v1/slots/hold", h.AcquireHold)
	r.DELETE("/v1/slots/hold", h.ReleaseHold)
	r.POST("/v1/bookings", h.CreateBooking)
	r.POST("/v1/calls", h.StartCall)
	r.GET("/v1/calls/:call_id", h.GetCall)
	r.PATCH("/v1/calls/:call_id/conversation", h.UpdateConversation)
	r.POST("/webhooks/call", h.CallWebhook)
	return r
}

func defaultSettings() SlotSettings {
	return SlotSettings{
		Duration:    30 * time.Minute,
		Granularity: 30 * time.Minute,
		HoldTTL:     5 * time.Minute,
		Hours:       availability.BusinessHours{OpenHour: 9, CloseHour: 17, Location: time.UTC},
	}
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var parsed map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("response is not json: %v (%s)", err, w.Body.String())
	}
	return w, parsed
}

func TestListSlots_ByDate(t *testing.T) {
	start := time.Date(2025, 5, 7, 9, 0, 0, 0, time.UTC)
	h := Handlers{
		Oracle: &fakeOracle{slots: []availability.Slot{availability.SlotAt(start, 30*time.Minute)}},
		Slots:  defaultSettings(),
	}
	w, body := doJSON(t, newTestRouter(h), http.MethodGet, "/v1/slots?date=2025-05-07", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	slots, _ := body["slots"].([]any)
	if len(slots) != 1 {
		t.Fatalf("expected one slot, got %v", body["slots"])
	}
	first, _ := slots[0].(map[string]any)
	if first["key"] != "2025-05-07T09:00:00Z" {
		t.Fatalf("unexpected slot key %v", first["key"])
	}
}

func TestListSlots_ByPreferenceEchoesCandidate(t *testing.T) {
	h := Handlers{Oracle: &fakeOracle{}, Slots: defaultSettings()}
	w, body := doJSON(t, newTestRouter(h), http.MethodGet, "/v1/slots?preference=tomorrow+afternoon", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	cand, ok := body["candidate"].(map[string]any)
	if !ok {
		t.Fatalf("expected candidate in response, got %v", body)
	}
	if cand["matched_date"] != true || cand["matched_time"] != true {
		t.Fatalf("expected matched candidate, got %v", cand)
	}
}

func TestListSlots_RequiresDateOrPreference(t *testing.T) {
	h := Handlers{Oracle: &fakeOracle{}, Slots: defaultSettings()}
	w, _ := doJSON(t, newTestRouter(h), http.MethodGet, "/v1/slots", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListSlots_ProviderErrorIsNotHidden(t *testing.T) {
	h := Handlers{Oracle: &fakeOracle{err: errors.New("upstream down")}, Slots: defaultSettings()}
	w, body := doJSON(t, newTestRouter(h), http.MethodGet, "/v1/slots?date=2025-05-07", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("a provider failure must not read as no slots, got %d", w.Code)
	}
	if body["success"] != false {
		t.Fatalf("expected success=false, got %v", body)
	}
}

func TestCheckSlot(t *testing.T) {
	h := Handlers{Oracle: &fakeOracle{free: true}, Slots: defaultSettings()}
	r := newTestRouter(h)

	w, body := doJSON(t, r, http.MethodGet, "/v1/slots/check?start=2025-05-07T09:00:00Z", "")
	if w.Code != http.StatusOK || body["available"] != true {
		t.Fatalf("expected available slot, got %d %v", w.Code, body)
	}

	w, _ = doJSON(t, r, http.MethodGet, "/v1/slots/check?start=not-a-time", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad start, got %d", w.Code)
	}
}

func TestCheckSlot_DurationOverride(t *testing.T) {
	oracle := &fakeOracle{free: true}
	h := Handlers{Oracle: oracle, Slots: defaultSettings()}
	r := newTestRouter(h)

	w, body := doJSON(t, r, http.MethodGet, "/v1/slots/check?start=2025-05-07T09:00:00Z&duration=60", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	slot, _ := body["slot"].(map[string]any)
	if slot["end"] != "2025-05-07T10:00:00Z" {
		t.Fatalf("duration override must stretch the slot, got %v", slot)
	}

	w, _ = doJSON(t, r, http.MethodGet, "/v1/slots/check?start=2025-05-07T09:00:00Z&duration=-5", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad duration, got %d", w.Code)
	}
}

func TestAcquireHold_TTLOverride(t *testing.T) {
	store := reservation.NewMemoryStore()
	h := Handlers{Store: store, Slots: defaultSettings()}
	r := newTestRouter(h)

	body := `{"slot_start":"2025-05-07T09:00:00Z","holder_id":"alice","ttl_seconds":10}`
	w, _ := doJSON(t, r, http.MethodPost, "/v1/slots/hold", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	hold, ok := store.Get("2025-05-07T09:00:00Z")
	if !ok {
		t.Fatalf("expected hold in store")
	}
	if got := hold.ExpiresAt.Sub(hold.CreatedAt); got != 10*time.Second {
		t.Fatalf("expected 10s ttl, got %v", got)
	}
}

func TestAcquireHold_WinnerAndLoser(t *testing.T) {
	h := Handlers{Store: reservation.NewMemoryStore(), Slots: defaultSettings()}
	r := newTestRouter(h)

	body := `{"slot_start":"2025-05-07T09:00:00Z","holder_id":"alice"}`
	w, resp := doJSON(t, r, http.MethodPost, "/v1/slots/hold", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for first acquire, got %d", w.Code)
	}
	if resp["slot_key"] != "2025-05-07T09:00:00Z" {
		t.Fatalf("unexpected slot key %v", resp["slot_key"])
	}
	if _, ok := resp["expires_at"]; !ok {
		t.Fatalf("expected expires_at in response")
	}

	loser := `{"slot_start":"2025-05-07T09:00:00Z","holder_id":"bob"}`
	w, _ = doJSON(t, r, http.MethodPost, "/v1/slots/hold", loser)
	if w.Code != http.StatusConflict {
		t.Fatalf("second holder must get 409, got %d", w.Code)
	}
}

func TestReleaseHold(t *testing.T) {
	store := reservation.NewMemoryStore()
	h := Handlers{Store: store, Slots: defaultSettings()}
	r := newTestRouter(h)

	store.Acquire("2025-05-07T09:00:00Z", "alice", time.Minute)

	wrong := `{"slot_start":"2025-05-07T09:00:00Z","holder_id":"bob"}`
	w, _ := doJSON(t, r, http.MethodDelete, "/v1/slots/hold", wrong)
	if w.Code != http.StatusNotFound {
		t.Fatalf("release by non-holder must 404, got %d", w.Code)
	}

	right := `{"slot_start":"2025-05-07T09:00:00Z","holder_id":"alice"}`
	w, _ = doJSON(t, r, http.MethodDelete, "/v1/slots/hold", right)
	if w.Code != http.StatusOK {
		t.Fatalf("release by holder must succeed, got %d", w.Code)
	}
	if store.Len() != 0 {
		t.Fatalf("hold must be gone after release")
	}
}

func TestCreateBooking_HappyPath(t *testing.T) {
	b := &fakeBooker{created: calendar.CreatedEvent{ID: "evt-1", HTMLLink: "https://cal/evt-1"}}
	h := Handlers{Booker: b, Slots: defaultSettings()}

	body := `{"slot_start":"2025-05-07T09:00:00Z","holder_id":"alice","name":"Ada","email":"ada@example.com"}`
	w, resp := doJSON(t, newTestRouter(h), http.MethodPost, "/v1/bookings", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	event, _ := resp["event"].(map[string]any)
	if event["id"] != "evt-1" {
		t.Fatalf("expected event id in response, got %v", resp)
	}
	if b.gotHolder != "alice" {
		t.Fatalf("holder id must pass through, got %q", b.gotHolder)
	}
	if b.gotSlot.Key() != "2025-05-07T09:00:00Z" {
		t.Fatalf("unexpected slot %v", b.gotSlot)
	}
}

func TestCreateBooking_GeneratesHolderWhenAbsent(t *testing.T) {
	b := &fakeBooker{}
	h := Handlers{Booker: b, Slots: defaultSettings()}

	body := `{"slot_start":"2025-05-07T09:00:00Z","name":"Ada","email":"ada@example.com"}`
	w, _ := doJSON(t, newTestRouter(h), http.MethodPost, "/v1/bookings", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if b.gotHolder == "" {
		t.Fatalf("handler must supply a holder id for hold-less bookings")
	}
}

func TestCreateBooking_StatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: missing name", booking.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: key", booking.ErrSlotTaken), http.StatusConflict},
		{fmt.Errorf("%w: key", booking.ErrSlotUnavailable), http.StatusConflict},
		{fmt.Errorf("%w: key", booking.ErrHoldExpired), http.StatusConflict},
		{fmt.Errorf("%w: create: %w", booking.ErrProvider, calendar.ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: re-check failed", booking.ErrProvider), http.StatusInternalServerError},
	}
	body := `{"slot_start":"2025-05-07T09:00:00Z","holder_id":"h","name":"Ada","email":"a@b.c"}`
	for _, tc := range cases {
		h := Handlers{Booker: &fakeBooker{err: tc.err}, Slots: defaultSettings()}
		w, _ := doJSON(t, newTestRouter(h), http.MethodPost, "/v1/bookings", body)
		if w.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestStartCall_RegistersRecord(t *testing.T) {
	reg := calls.NewRegistry(nil, 0, nil)
	h := Handlers{Dialer: &fakeDialer{callID: "call-1"}, Registry: reg, Slots: defaultSettings()}

	body := `{"to_number":"+15551112222","name":"Ada","email":"ada@example.com"}`
	w, resp := doJSON(t, newTestRouter(h), http.MethodPost, "/v1/calls", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["call_id"] != "call-1" {
		t.Fatalf("expected call id in response, got %v", resp)
	}
	if resp["session_id"] == "" || resp["session_id"] == nil {
		t.Fatalf("expected generated session id")
	}
	rec, ok := reg.Get("call-1")
	if !ok || rec.Name != "Ada" {
		t.Fatalf("expected registered record, got %+v ok=%v", rec, ok)
	}
}

func TestStartCall_RequiresToNumber(t *testing.T) {
	h := Handlers{Dialer: &fakeDialer{}, Registry: calls.NewRegistry(nil, 0, nil)}
	w, _ := doJSON(t, newTestRouter(h), http.MethodPost, "/v1/calls", `{"name":"Ada"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetCall(t *testing.T) {
	reg := calls.NewRegistry(nil, 0, nil)
	reg.Create("c1", "", "Ada", "", "")
	h := Handlers{Registry: reg}
	r := newTestRouter(h)

	w, resp := doJSON(t, r, http.MethodGet, "/v1/calls/c1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	call, _ := resp["call"].(map[string]any)
	if call["call_id"] != "c1" {
		t.Fatalf("unexpected call payload %v", resp)
	}

	w, _ = doJSON(t, r, http.MethodGet, "/v1/calls/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUpdateConversation(t *testing.T) {
	reg := calls.NewRegistry(nil, 0, nil)
	reg.Create("c1", "", "", "", "")
	h := Handlers{Registry: reg}
	r := newTestRouter(h)

	w, resp := doJSON(t, r, http.MethodPatch, "/v1/calls/c1/conversation", `{"scheduling_complete":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	call, _ := resp["call"].(map[string]any)
	if call["scheduling_complete"] != true {
		t.Fatalf("expected flag set, got %v", resp)
	}

	w, _ = doJSON(t, r, http.MethodPatch, "/v1/calls/missing/conversation", `{}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", w.Code)
	}
}

func TestCallWebhook(t *testing.T) {
	reg := calls.NewRegistry(nil, 0, nil)
	reg.Create("c1", "", "", "", "")
	h := Handlers{Registry: reg}
	r := newTestRouter(h)

	body := `{"event":"call_started","call":{"call_id":"c1"}}`
	w, _ := doJSON(t, r, http.MethodPost, "/webhooks/call", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	rec, _ := reg.Get("c1")
	if rec.State != calls.StateInProgress {
		t.Fatalf("webhook must advance state, got %s", rec.State)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/webhooks/call", `{"call":{"call_id":"c1"}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing event must 400, got %d", w.Code)
	}
}
