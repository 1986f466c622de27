package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/slotfinder/internal/availability"
	"github.com/teemow/slotfinder/internal/google"
	"github.com/teemow/slotfinder/internal/instrumentation"
	"github.com/teemow/slotfinder/internal/logging"
)

// Fetcher queries free/busy for a single calendar of a linked identity.
type Fetcher struct {
	auth     *google.DelegatedAuth
	endpoint string
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithEndpoint overrides the Calendar API base URL.
func WithEndpoint(endpoint string) FetcherOption {
	return func(f *Fetcher) { f.endpoint = endpoint }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = logging.WithProvider(logger, availability.ProviderGoogle) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *instrumentation.Metrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

// NewFetcher creates a Fetcher that authenticates through auth.
func NewFetcher(auth *google.DelegatedAuth, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		auth:   auth,
		logger: logging.WithProvider(slog.Default(), availability.ProviderGoogle),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CheckLinked reports availability.ErrNotLinked when identity has no
// stored credential.
func (f *Fetcher) CheckLinked(ctx context.Context, identity string) error {
	return f.auth.CheckLinked(ctx, identity)
}

// FetchBusy returns the busy windows of calendarID within r as Google
// reports them. A calendar absent from the response has no busy time.
func (f *Fetcher) FetchBusy(ctx context.Context, identity, calendarID string, r availability.TimeRange, tz string) (busy []availability.BusyWindow, err error) {
	ctx, span := instrumentation.StartProviderSpan(ctx, availability.ProviderGoogle, instrumentation.OperationFreeBusy,
		attribute.String(instrumentation.SpanAttrIdentity, logging.AnonymizeIdentity(identity)))
	defer span.End()

	start := time.Now()
	defer func() {
		status := instrumentation.StatusSuccess
		if err != nil {
			status = instrumentation.StatusError
			instrumentation.SetSpanError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
		f.metrics.RecordProviderOperation(ctx, availability.ProviderGoogle, instrumentation.OperationFreeBusy, status, time.Since(start))
	}()

	client, err := f.auth.ForIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	opts := []option.ClientOption{option.WithHTTPClient(client.HTTPClient)}
	if f.endpoint != "" {
		opts = append(opts, option.WithEndpoint(f.endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}

	query := &calendar.FreeBusyRequest{
		TimeMin:  r.Start.UTC().Format(time.RFC3339),
		TimeMax:  r.End.UTC().Format(time.RFC3339),
		TimeZone: tz,
		Items:    []*calendar.FreeBusyRequestItem{{Id: calendarID}},
	}

	result, err := svc.Freebusy.Query(query).Context(ctx).Do()
	if err != nil {
		perr := classifyCallError(err)
		f.logger.Warn("freebusy query failed",
			logging.IdentityHash(identity),
			slog.String("reason", string(reasonOf(perr))),
			logging.Err(err))
		return nil, perr
	}

	busy, err = busyFromResponse(result, calendarID)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("freebusy query complete",
		logging.IdentityHash(identity),
		slog.Int("busy_windows", len(busy)),
		slog.Duration(logging.KeyDuration, time.Since(start)))
	return busy, nil
}

func busyFromResponse(result *calendar.FreeBusyResponse, calendarID string) ([]availability.BusyWindow, error) {
	cal, ok := result.Calendars[calendarID]
	if !ok {
		return []availability.BusyWindow{}, nil
	}

	if len(cal.Errors) > 0 {
		return nil, availability.NewProviderError(availability.ProviderGoogle, availability.ReasonUpstream, 0,
			fmt.Errorf("calendar %s: %s", calendarID, cal.Errors[0].Reason)).WithDetail(cal.Errors[0].Reason)
	}

	busy := make([]availability.BusyWindow, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, availability.NewProviderError(availability.ProviderGoogle, availability.ReasonMalformed, 0,
				fmt.Errorf("invalid busy start %q: %w", p.Start, err))
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, availability.NewProviderError(availability.ProviderGoogle, availability.ReasonMalformed, 0,
				fmt.Errorf("invalid busy end %q: %w", p.End, err))
		}
		busy = append(busy, availability.BusyWindow{Start: start, End: end})
	}
	return busy, nil
}

// classifyCallError maps a Calendar API call failure. Errors raised by the
// token source are already classified and pass through.
func classifyCallError(err error) error {
	var pe *availability.ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return availability.NewProviderError(availability.ProviderGoogle, availability.ReasonForStatus(gerr.Code), gerr.Code, err).
			WithDetail(gerr.Message)
	}

	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return availability.NewProviderError(availability.ProviderGoogle, availability.ReasonTimeout, 0, err)
	}

	return availability.ClassifyError(availability.ProviderGoogle, err)
}

func reasonOf(err error) availability.Reason {
	var pe *availability.ProviderError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}
