package calls

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Lifecycle events pushed by the call service. Anything else is ignored.
const (
	EventCallStarted  = "call_started"
	EventCallEnded    = "call_ended"
	EventCallAnalyzed = "call_analyzed"
)

// WebhookPayload is the call service's push notification.
// Keep it minimal and adapter-only; lifecycle decisions live in the registry.
type WebhookPayload struct {
	Event string      `json:"event"`
	Call  WebhookCall `json:"call"`
}

type WebhookCall struct {
	CallID     string          `json:"call_id"`
	CallStatus string          `json:"call_status,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Analysis   *WebhookAnalysis `json:"analysis,omitempty"`
}

type WebhookAnalysis struct {
	CallSummary        string         `json:"call_summary,omitempty"`
	CustomAnalysisData map[string]any `json:"custom_analysis_data,omitempty"`
}

// ParseWebhook decodes a lifecycle webhook delivery.
func ParseWebhook(r *http.Request) (WebhookPayload, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return WebhookPayload{}, fmt.Errorf("calls: read webhook body: %w", err)
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookPayload{}, fmt.Errorf("calls: decode webhook: %w", err)
	}
	if payload.Event == "" {
		return WebhookPayload{}, errors.New("calls: webhook missing event")
	}
	if payload.Call.CallID == "" {
		return WebhookPayload{}, errors.New("calls: webhook missing call.call_id")
	}
	return payload, nil
}

func (c WebhookCall) metadataString(key string) string {
	if c.Metadata == nil {
		return ""
	}
	if v, ok := c.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// analysisSchedulingComplete reports whether the post-call analysis marked
// scheduling as done. Accepts a bool or the strings "true"/"yes" since the
// analysis fields are agent-authored.
func (c WebhookCall) analysisSchedulingComplete() bool {
	if c.Analysis == nil || c.Analysis.CustomAnalysisData == nil {
		return false
	}
	switch v := c.Analysis.CustomAnalysisData["scheduling_complete"].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "yes"
	default:
		return false
	}
}
