package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
)

// Client talks to the external calendar/booking provider over its REST API.
//
// Rules:
// - No provider calls outside this package.
// - Every method returns explicit result structs; callers never see raw JSON.
// - Absence of a definitive answer is an error, never an empty success.
type Client struct {
	baseURL    string
	calendarID string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[apiResponse]
	logger     *slog.Logger
}

// Sentinel errors let the orchestrator distinguish permission problems from
// scheduling conflicts, as the provider reports them with different statuses.
var (
	ErrPermissionDenied = errors.New("calendar: permission denied")
	ErrConflict         = errors.New("calendar: scheduling conflict")
)

type Options struct {
	BaseURL     string
	CalendarID  string
	TokenSource oauth2.TokenSource
	Timeout     time.Duration
	Logger      *slog.Logger
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        "calendar-provider",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Client{
		baseURL:    opts.BaseURL,
		calendarID: opts.CalendarID,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &oauthTransport{
				base:   http.DefaultTransport,
				source: opts.TokenSource,
			},
		},
		breaker: gobreaker.NewCircuitBreaker[apiResponse](settings),
		logger:  opts.Logger,
	}
}

// oauthTransport injects the bearer token on every request.
type oauthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, fmt.Errorf("calendar token: %w", err)
	}
	clone := req.Clone(req.Context())
	token.SetAuthHeader(clone)
	return t.base.RoundTrip(clone)
}

// BusyWindow is one busy interval reported by the provider's free/busy query.
type BusyWindow struct {
	Start time.Time
	End   time.Time
}

// Event is a calendar event as listed by the provider.
type Event struct {
	ID      string
	Summary string
	Status  string
	Start   time.Time
	End     time.Time
	// AllDay marks date-only events; Start/End cover the whole day then.
	AllDay bool
}

// CreateEventRequest carries everything the provider needs to book an event.
type CreateEventRequest struct {
	Summary       string
	Description   string
	Start         time.Time
	End           time.Time
	TimeZone      string
	AttendeeEmail string
	AttendeeName  string
}

// CreatedEvent is the provider's answer to a successful booking.
type CreatedEvent struct {
	ID          string
	HTMLLink    string
	MeetingLink string
	Start       time.Time
	End         time.Time
}

// BusyWindows runs a free/busy query for the configured calendar.
func (c *Client) BusyWindows(ctx context.Context, timeMin, timeMax time.Time) ([]BusyWindow, error) {
	reqBody := map[string]any{
		"timeMin": timeMin.UTC().Format(time.RFC3339),
		"timeMax": timeMax.UTC().Format(time.RFC3339),
		"items":   []map[string]string{{"id": c.calendarID}},
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/freeBusy", reqBody)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Calendars map[string]struct {
			Busy []struct {
				Start string `json:"start"`
				End   string `json:"end"`
			} `json:"busy"`
			Errors []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"calendars"`
	}
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return nil, fmt.Errorf("calendar: decode freebusy: %w", err)
	}

	cal, ok := parsed.Calendars[c.calendarID]
	if !ok {
		return nil, fmt.Errorf("calendar: freebusy response missing calendar %q", c.calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("calendar: freebusy reported %q for %q", cal.Errors[0].Reason, c.calendarID)
	}

	out := make([]BusyWindow, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		start, err := time.Parse(time.RFC3339, b.Start)
		if err != nil {
			return nil, fmt.Errorf("calendar: bad busy start %q: %w", b.Start, err)
		}
		end, err := time.Parse(time.RFC3339, b.End)
		if err != nil {
			return nil, fmt.Errorf("calendar: bad busy end %q: %w", b.End, err)
		}
		out = append(out, BusyWindow{Start: start, End: end})
	}
	return out, nil
}

// ListEvents returns events in [timeMin, timeMax), expanded to single
// instances and ordered by start time. Cancelled events are included; the
// availability layer filters them.
func (c *Client) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("timeMin", timeMin.UTC().Format(time.RFC3339))
	q.Set("timeMax", timeMax.UTC().Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")

	listURL := fmt.Sprintf("%s/calendars/%s/events?%s", c.baseURL, url.PathEscape(c.calendarID), q.Encode())
	resp, err := c.do(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Items []struct {
			ID      string        `json:"id"`
			Summary string        `json:"summary"`
			Status  string        `json:"status"`
			Start   eventDateTime `json:"start"`
			End     eventDateTime `json:"end"`
		} `json:"items"`
	}
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return nil, fmt.Errorf("calendar: decode events: %w", err)
	}

	out := make([]Event, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		start, allDay, err := item.Start.resolve()
		if err != nil {
			return nil, fmt.Errorf("calendar: event %s start: %w", item.ID, err)
		}
		end, _, err := item.End.resolve()
		if err != nil {
			return nil, fmt.Errorf("calendar: event %s end: %w", item.ID, err)
		}
		out = append(out, Event{
			ID:      item.ID,
			Summary: item.Summary,
			Status:  item.Status,
			Start:   start,
			End:     end,
			AllDay:  allDay,
		})
	}
	return out, nil
}

// CreateEvent books the event and requests a conference link.
func (c *Client) CreateEvent(ctx context.Context, req CreateEventRequest) (CreatedEvent, error) {
	tz := req.TimeZone
	if tz == "" {
		tz = "UTC"
	}

	body := map[string]any{
		"summary":     req.Summary,
		"description": req.Description,
		"start":       map[string]string{"dateTime": req.Start.Format(time.RFC3339), "timeZone": tz},
		"end":         map[string]string{"dateTime": req.End.Format(time.RFC3339), "timeZone": tz},
	}
	if req.AttendeeEmail != "" {
		body["attendees"] = []map[string]string{{
			"email":       req.AttendeeEmail,
			"displayName": req.AttendeeName,
		}}
	}

	createURL := fmt.Sprintf("%s/calendars/%s/events?conferenceDataVersion=1",
		c.baseURL, url.PathEscape(c.calendarID))
	resp, err := c.do(ctx, http.MethodPost, createURL, body)
	if err != nil {
		return CreatedEvent{}, err
	}

	var parsed struct {
		ID          string        `json:"id"`
		HTMLLink    string        `json:"htmlLink"`
		HangoutLink string        `json:"hangoutLink"`
		Start       eventDateTime `json:"start"`
		End         eventDateTime `json:"end"`
	}
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return CreatedEvent{}, fmt.Errorf("calendar: decode created event: %w", err)
	}
	if parsed.ID == "" {
		return CreatedEvent{}, errors.New("calendar: provider returned event without id")
	}

	start, _, err := parsed.Start.resolve()
	if err != nil {
		return CreatedEvent{}, fmt.Errorf("calendar: created event start: %w", err)
	}
	end, _, err := parsed.End.resolve()
	if err != nil {
		return CreatedEvent{}, fmt.Errorf("calendar: created event end: %w", err)
	}

	return CreatedEvent{
		ID:          parsed.ID,
		HTMLLink:    parsed.HTMLLink,
		MeetingLink: parsed.HangoutLink,
		Start:       start,
		End:         end,
	}, nil
}

type eventDateTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
	TimeZone string `json:"timeZone"`
}

func (e eventDateTime) resolve() (time.Time, bool, error) {
	if e.DateTime != "" {
		t, err := time.Parse(time.RFC3339, e.DateTime)
		return t, false, err
	}
	if e.Date != "" {
		t, err := time.Parse("2006-01-02", e.Date)
		return t, true, err
	}
	return time.Time{}, false, errors.New("missing dateTime and date")
}

type apiResponse struct {
	status int
	body   []byte
}

// do executes one provider request behind the circuit breaker. Transport
// failures count against the breaker; HTTP-level statuses do not, since a 409
// is a legitimate provider answer and must not open the circuit.
func (c *Client) do(ctx context.Context, method, rawURL string, body any) (apiResponse, error) {
	resp, err := c.breaker.Execute(func() (apiResponse, error) {
		var reader io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return apiResponse{}, err
			}
			reader = bytes.NewReader(buf)
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return apiResponse{}, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return apiResponse{}, err
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
		if err != nil {
			return apiResponse{}, err
		}
		return apiResponse{status: httpResp.StatusCode, body: respBody}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("calendar circuit open", "url", rawURL)
		}
		return apiResponse{}, fmt.Errorf("calendar: %s %s: %w", method, rawURL, err)
	}

	switch {
	case resp.status == http.StatusUnauthorized, resp.status == http.StatusForbidden:
		return apiResponse{}, fmt.Errorf("%w: status=%d", ErrPermissionDenied, resp.status)
	case resp.status == http.StatusConflict:
		return apiResponse{}, fmt.Errorf("%w: status=%d", ErrConflict, resp.status)
	case resp.status < 200 || resp.status >= 300:
		return apiResponse{}, fmt.Errorf("calendar: %s %s: status=%d body=%s",
			method, rawURL, resp.status, truncate(resp.body, 512))
	}
	return resp, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
