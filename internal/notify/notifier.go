package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Payload is the JSON document pushed to the downstream automation webhook.
type Payload struct {
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	Phone              string    `json:"phone"`
	CallID             string    `json:"call_id"`
	SchedulingComplete bool      `json:"schedulingComplete"`
	Timestamp          time.Time `json:"timestamp"`

	AppointmentDate string `json:"appointmentDate,omitempty"`
	AppointmentTime string `json:"appointmentTime,omitempty"`
	SchedulingLink  string `json:"schedulingLink,omitempty"`
	SchedulingData  string `json:"schedulingData,omitempty"`
	NeedsFollowup   bool   `json:"needs_followup,omitempty"`
}

// Notifier delivers payloads to the automation webhook.
//
// Delivery is at-least-once with exactly one retry after a fixed delay.
// Failures are logged and dropped; notification never blocks or fails a
// booking response, and it is not part of the reservation invariants.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
	retryDelay time.Duration
	logger     *slog.Logger
}

type Options struct {
	WebhookURL string
	Timeout    time.Duration
	RetryDelay time.Duration
	Logger     *slog.Logger
}

func NewNotifier(opts Options) *Notifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Notifier{
		webhookURL: opts.WebhookURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger,
	}
}

// Send posts the payload, retrying once on failure.
func (n *Notifier) Send(ctx context.Context, p Payload) error {
	if n.webhookURL == "" {
		return fmt.Errorf("notify: webhook url not configured")
	}

	err := n.post(ctx, p)
	if err == nil {
		return nil
	}
	n.logger.Warn("webhook delivery failed, retrying once", "call_id", p.CallID, "err", err)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(n.retryDelay):
	}

	if err := n.post(ctx, p); err != nil {
		n.logger.Warn("webhook delivery failed permanently", "call_id", p.CallID, "err", err)
		return err
	}
	return nil
}

// Async fires Send on its own goroutine, detached from the request context so
// an already-answered HTTP request does not cancel the delivery.
func (n *Notifier) Async(ctx context.Context, p Payload) {
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = n.Send(sendCtx, p)
	}()
}

func (n *Notifier) post(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
