package calls

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scheduling-platform/internal/notify"
)

// State is a call's lifecycle position. Transitions only move forward:
// initiated -> in_progress -> ended -> analyzed.
type State string

const (
	StateInitiated  State = "initiated"
	StateInProgress State = "in_progress"
	StateEnded      State = "ended"
	StateAnalyzed   State = "analyzed"
)

// Record tracks one outbound call's progress. SchedulingComplete is
// monotonic: once true it never reverts, which is what makes duplicate
// webhook deliveries safe.
type Record struct {
	CallID    string `json:"call_id"`
	SessionID string `json:"session_id,omitempty"`

	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`

	State              State  `json:"state"`
	SchedulingComplete bool   `json:"scheduling_complete"`
	DiscoveryComplete  bool   `json:"discovery_complete"`
	SelectedSlotKey    string `json:"selected_slot_key,omitempty"`
	SchedulingData     string `json:"scheduling_data,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	AnalyzedAt time.Time `json:"analyzed_at,omitempty"`
}

// Notifier delivers the needs-followup notification downstream.
type Notifier interface {
	Async(ctx context.Context, p notify.Payload)
}

var ErrNotFound = errors.New("calls: record not found")

// DefaultRetention is how long a terminal record is kept before the janitor
// removes it.
const DefaultRetention = 24 * time.Hour

// Registry is the in-memory call table, driven by webhook events and
// explicit conversation updates. It is shared mutable state across handler
// goroutines; every access goes through the mutex, and the mutex is never
// held across a network call (the notifier only spawns a goroutine).
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record

	notifier  Notifier
	retention time.Duration
	logger    *slog.Logger

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewRegistry(notifier Notifier, retention time.Duration, logger *slog.Logger) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		records:   make(map[string]*Record),
		notifier:  notifier,
		retention: retention,
		logger:    logger,
		clock:     time.Now,
	}
}

// Create registers a freshly initiated call.
func (r *Registry) Create(callID, sessionID, name, email, phone string) (Record, error) {
	if callID == "" {
		return Record{}, errors.New("calls: call id required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock().UTC()
	rec := &Record{
		CallID:    callID,
		SessionID: sessionID,
		Name:      name,
		Email:     email,
		Phone:     phone,
		State:     StateInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.records[callID] = rec
	return *rec, nil
}

func (r *Registry) Get(callID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[callID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ConversationUpdate carries the mutable conversation fields. Nil pointers
// leave the current value untouched.
type ConversationUpdate struct {
	DiscoveryComplete  *bool   `json:"discovery_complete,omitempty"`
	SchedulingComplete *bool   `json:"scheduling_complete,omitempty"`
	SelectedSlotKey    *string `json:"selected_slot_key,omitempty"`
	SchedulingData     *string `json:"scheduling_data,omitempty"`
	Name               *string `json:"name,omitempty"`
	Email              *string `json:"email,omitempty"`
	Phone              *string `json:"phone,omitempty"`
}

// UpdateConversation applies agent-driven updates to a call record.
// SchedulingComplete can only be raised, never cleared.
func (r *Registry) UpdateConversation(callID string, upd ConversationUpdate) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[callID]
	if !ok {
		return Record{}, ErrNotFound
	}

	if upd.DiscoveryComplete != nil {
		rec.DiscoveryComplete = *upd.DiscoveryComplete
	}
	if upd.SchedulingComplete != nil && *upd.SchedulingComplete {
		rec.SchedulingComplete = true
	}
	if upd.SelectedSlotKey != nil {
		rec.SelectedSlotKey = *upd.SelectedSlotKey
	}
	if upd.SchedulingData != nil {
		rec.SchedulingData = *upd.SchedulingData
	}
	if upd.Name != nil {
		rec.Name = *upd.Name
	}
	if upd.Email != nil {
		rec.Email = *upd.Email
	}
	if upd.Phone != nil {
		rec.Phone = *upd.Phone
	}
	rec.UpdatedAt = r.clock().UTC()
	return *rec, nil
}

// HandleEvent advances the state machine from a webhook delivery.
// Unrecognized events are logged and ignored. Duplicate deliveries never emit
// a second follow-up notification: the analyzed-state check guards it, not an
// at-most-once assumption about the call service.
func (r *Registry) HandleEvent(ctx context.Context, payload WebhookPayload) error {
	if payload.Call.CallID == "" {
		return errors.New("calls: webhook missing call_id")
	}

	var followup *notify.Payload

	r.mu.Lock()
	now := r.clock().UTC()
	rec, ok := r.records[payload.Call.CallID]
	if !ok {
		// Webhooks can outrun the create path (or the process restarted);
		// track what we can from the event itself.
		rec = &Record{
			CallID:    payload.Call.CallID,
			Name:      payload.Call.metadataString("name"),
			Email:     payload.Call.metadataString("email"),
			Phone:     payload.Call.metadataString("phone"),
			State:     StateInitiated,
			CreatedAt: now,
		}
		r.records[rec.CallID] = rec
	}

	switch payload.Event {
	case EventCallStarted:
		if rec.State == StateInitiated {
			rec.State = StateInProgress
		}
	case EventCallEnded:
		if rec.State != StateAnalyzed {
			rec.State = StateEnded
		}
	case EventCallAnalyzed:
		if rec.State == StateAnalyzed {
			break // duplicate delivery
		}
		rec.State = StateAnalyzed
		rec.AnalyzedAt = now
		if payload.Call.analysisSchedulingComplete() {
			rec.SchedulingComplete = true
		}
		if !rec.SchedulingComplete {
			followup = &notify.Payload{
				Name:               rec.Name,
				Email:              rec.Email,
				Phone:              rec.Phone,
				CallID:             rec.CallID,
				SchedulingComplete: false,
				NeedsFollowup:      true,
				Timestamp:          now,
			}
		}
	default:
		r.logger.Info("ignoring unrecognized call event",
			"event", payload.Event, "call_id", payload.Call.CallID)
	}
	rec.UpdatedAt = now
	r.mu.Unlock()

	if followup != nil && r.notifier != nil {
		r.notifier.Async(ctx, *followup)
	}
	return nil
}

// StartJanitor removes terminal records past the retention window until ctx
// is cancelled.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.collect()
			}
		}
	}()
}

func (r *Registry) collect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock().UTC()
	for id, rec := range r.records {
		if rec.State == StateAnalyzed && now.Sub(rec.AnalyzedAt) > r.retention {
			delete(r.records, id)
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
