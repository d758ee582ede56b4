package calls

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Service starts outbound calls at the voice-call provider.
//
// Rules:
// - No provider SDK calls outside this adapter.
// - The provider later reports progress via lifecycle webhooks; this client
//   only initiates and returns the provider-assigned call id.
type Service struct {
	baseURL    string
	apiKey     string
	agentID    string
	fromNumber string
	httpClient *http.Client
	logger     *slog.Logger
}

type ServiceOptions struct {
	BaseURL    string
	APIKey     string
	AgentID    string
	FromNumber string
	Timeout    time.Duration
	Logger     *slog.Logger
}

func NewService(opts ServiceOptions) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		agentID:    opts.AgentID,
		fromNumber: opts.FromNumber,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     opts.Logger,
	}
}

// StartCallRequest carries caller identity passed through as call metadata so
// the webhook side can correlate it back without any shared storage.
type StartCallRequest struct {
	ToNumber   string `json:"to_number"`
	FromNumber string `json:"from_number,omitempty"`

	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// StartCall initiates an outbound call and returns the provider call id.
func (s *Service) StartCall(ctx context.Context, req StartCallRequest) (string, error) {
	if req.ToNumber == "" {
		return "", errors.New("calls: to_number required")
	}
	from := req.FromNumber
	if from == "" {
		from = s.fromNumber
	}
	if from == "" {
		return "", errors.New("calls: no from number configured")
	}

	body := map[string]any{
		"from_number": from,
		"to_number":   req.ToNumber,
		"agent_id":    s.agentID,
		"metadata": map[string]string{
			"name":       req.Name,
			"email":      req.Email,
			"phone":      req.Phone,
			"session_id": req.SessionID,
		},
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/create-phone-call", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calls: start call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("calls: read start-call response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("calls: start call: status=%d body=%s", resp.StatusCode, respBody)
	}

	var parsed struct {
		CallID string `json:"call_id"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("calls: decode start-call response: %w", err)
	}
	if parsed.CallID == "" {
		return "", errors.New("calls: provider returned no call_id")
	}

	s.logger.Info("outbound call started", "call_id", parsed.CallID, "to", req.ToNumber)
	return parsed.CallID, nil
}
