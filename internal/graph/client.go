package graph

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
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/slotfinder/internal/availability"
	"github.com/teemow/slotfinder/internal/instrumentation"
	"github.com/teemow/slotfinder/internal/logging"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// graphDateTime is the layout Graph uses for DateTimeTimeZone.DateTime.
const graphDateTime = "2006-01-02T15:04:05.9999999"

// maxResponseBytes bounds how much of a Graph response is read.
const maxResponseBytes = 8 << 20

// TokenSource supplies app-only access tokens. *AppAuth implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client calls Microsoft Graph as the application.
type Client struct {
	auth        TokenSource
	baseURL     string
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the Graph endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client used for Graph calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimiter replaces the default rate limiter.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) { c.rateLimiter = rl }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logging.WithProvider(logger, availability.ProviderMicrosoft) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *instrumentation.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a Graph client authenticated by auth.
func NewClient(auth TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		auth:        auth,
		baseURL:     DefaultBaseURL,
		httpClient:  &http.Client{},
		rateLimiter: NewRateLimiter(DefaultRateLimit),
		logger:      logging.WithProvider(slog.Default(), availability.ProviderMicrosoft),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchSchedules returns one Schedule per email, in the order given, built
// from a single getSchedule call anchored on the first email. Items with
// status "free" are dropped; every other status counts as busy.
func (c *Client) FetchSchedules(ctx context.Context, emails []string, r availability.TimeRange, intervalMinutes int, tz string) (schedules []availability.Schedule, err error) {
	if len(emails) == 0 {
		return []availability.Schedule{}, nil
	}

	ctx, span := instrumentation.StartProviderSpan(ctx, availability.ProviderMicrosoft, instrumentation.OperationGetSchedule,
		attribute.Int(instrumentation.SpanAttrParticipants, len(emails)),
		attribute.Int(instrumentation.SpanAttrInterval, intervalMinutes))
	defer span.End()

	start := time.Now()
	defer func() {
		c.finish(ctx, span, instrumentation.OperationGetSchedule, emails, start, err)
	}()

	payload := scheduleRequest{
		Schedules:                emails,
		StartTime:                DateTimeTimeZone{DateTime: r.Start.UTC().Format(graphDateTime), TimeZone: "UTC"},
		EndTime:                  DateTimeTimeZone{DateTime: r.End.UTC().Format(graphDateTime), TimeZone: "UTC"},
		AvailabilityViewInterval: intervalMinutes,
	}

	var resp scheduleResponse
	endpoint := fmt.Sprintf("%s/users/%s/calendar/getSchedule", c.baseURL, url.PathEscape(emails[0]))
	if err := c.post(ctx, endpoint, payload, &resp); err != nil {
		return nil, err
	}

	return schedulesFromResponse(emails, resp)
}

// CreateEvent creates ev in organizer's calendar. A transaction ID is
// generated when ev has none.
func (c *Client) CreateEvent(ctx context.Context, organizer string, ev Event) (created *CreatedEvent, err error) {
	if organizer == "" {
		return nil, fmt.Errorf("%w: organizer email is required", availability.ErrInvalidRequest)
	}
	if ev.TransactionID == "" {
		ev.TransactionID = uuid.NewString()
	}

	ctx, span := instrumentation.StartProviderSpan(ctx, availability.ProviderMicrosoft, instrumentation.OperationCreateEvent,
		attribute.Int(instrumentation.SpanAttrParticipants, len(ev.Attendees)))
	defer span.End()

	start := time.Now()
	defer func() {
		c.finish(ctx, span, instrumentation.OperationCreateEvent, []string{organizer}, start, err)
	}()

	created = &CreatedEvent{}
	endpoint := fmt.Sprintf("%s/users/%s/events", c.baseURL, url.PathEscape(organizer))
	if err := c.post(ctx, endpoint, ev, created); err != nil {
		return nil, err
	}
	return created, nil
}

func (c *Client) finish(ctx context.Context, span trace.Span, op string, emails []string, start time.Time, err error) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
		c.logger.Warn("graph call failed",
			logging.Operation(op),
			logging.Domains(emails),
			logging.Err(err))
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	c.metrics.RecordProviderOperationWithDomain(ctx, availability.ProviderMicrosoft, op, status,
		logging.ExtractDomain(emails[0]), time.Since(start))
}

// post sends body as JSON and decodes a 2xx answer into out. A 401 drops
// the cached app token and the call is sent once more with a fresh one.
func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	status, respBody, header, err := c.send(ctx, endpoint, payload)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		c.logger.Debug("graph returned 401, reacquiring app token")
		c.auth.Invalidate()
		status, respBody, header, err = c.send(ctx, endpoint, payload)
		if err != nil {
			return err
		}
	}

	if status < 200 || status >= 300 {
		if status == http.StatusTooManyRequests {
			c.rateLimiter.Backoff(retryAfter(header))
		}
		return availability.NewProviderError(availability.ProviderMicrosoft, availability.ReasonForStatus(status), status,
			fmt.Errorf("status %d: %w", status, WrapStatus(status))).WithDetail(errorDetail(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return availability.NewProviderError(availability.ProviderMicrosoft, availability.ReasonMalformed, status,
			fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// send performs one authenticated POST and returns the status and body.
func (c *Client) send(ctx context.Context, endpoint string, payload []byte) (int, []byte, http.Header, error) {
	token, err := c.auth.Token(ctx)
	if err != nil {
		return 0, nil, nil, err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, nil, nil, availability.ClassifyError(availability.ProviderMicrosoft, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, nil, classifyTransportError(err)
	}
	return resp.StatusCode, body, resp.Header, nil
}

func classifyTransportError(err error) error {
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return availability.NewProviderError(availability.ProviderMicrosoft, availability.ReasonTimeout, 0, err)
	}
	return availability.ClassifyError(availability.ProviderMicrosoft, err)
}

// schedulesFromResponse matches response entries to emails by scheduleId,
// ignoring case, and keeps the request order.
func schedulesFromResponse(emails []string, resp scheduleResponse) ([]availability.Schedule, error) {
	byID := make(map[string]scheduleInformation, len(resp.Value))
	for _, info := range resp.Value {
		byID[strings.ToLower(info.ScheduleID)] = info
	}

	schedules := make([]availability.Schedule, 0, len(emails))
	for _, email := range emails {
		info, ok := byID[strings.ToLower(email)]
		if !ok {
			return nil, availability.NewProviderError(availability.ProviderMicrosoft, availability.ReasonMalformed, 0,
				fmt.Errorf("no schedule returned for %s", logging.AnonymizeEmail(email)))
		}
		if info.Error != nil {
			return nil, availability.NewProviderError(availability.ProviderMicrosoft, availability.ReasonUpstream, 0,
				fmt.Errorf("schedule %s: %s", logging.AnonymizeEmail(email), info.Error.ResponseCode)).
				WithDetail(info.Error.Message)
		}

		busy := make([]availability.BusyWindow, 0, len(info.ScheduleItems))
		for _, item := range info.ScheduleItems {
			if strings.EqualFold(item.Status, "free") {
				continue
			}
			start, err := parseDateTime(item.Start)
			if err != nil {
				return nil, err
			}
			end, err := parseDateTime(item.End)
			if err != nil {
				return nil, err
			}
			busy = append(busy, availability.BusyWindow{Start: start, End: end})
		}
		schedules = append(schedules, availability.Schedule{Email: email, Busy: busy})
	}
	return schedules, nil
}

// parseDateTime converts a Graph wall-clock time in its named zone to an
// instant. An empty zone means UTC.
func parseDateTime(dt DateTimeTimeZone) (time.Time, error) {
	loc := time.UTC
	if dt.TimeZone != "" && !strings.EqualFold(dt.TimeZone, "UTC") {
		l, err := time.LoadLocation(dt.TimeZone)
		if err != nil {
			return time.Time{}, availability.NewProviderError(availability.ProviderMicrosoft, availability.ReasonMalformed, 0,
				fmt.Errorf("unknown time zone %q: %w", dt.TimeZone, err))
		}
		loc = l
	}

	t, err := time.ParseInLocation(graphDateTime, dt.DateTime, loc)
	if err != nil {
		if t, err2 := time.Parse(time.RFC3339Nano, dt.DateTime); err2 == nil {
			return t, nil
		}
		return time.Time{}, availability.NewProviderError(availability.ProviderMicrosoft, availability.ReasonMalformed, 0,
			fmt.Errorf("invalid dateTime %q: %w", dt.DateTime, err))
	}
	return t, nil
}
