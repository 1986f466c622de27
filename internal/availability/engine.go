package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/slotfinder/internal/instrumentation"
	"github.com/teemow/slotfinder/internal/logging"
)

const (
	// DefaultProviderTimeout bounds each provider fetch.
	DefaultProviderTimeout = 10 * time.Second

	// DefaultMaxRange is the longest range a single request may cover.
	DefaultMaxRange = 62 * 24 * time.Hour

	// DefaultCalendarID selects the linked user's primary calendar.
	DefaultCalendarID = "primary"

	// DefaultTimeZone labels slots when the request does not name a zone.
	DefaultTimeZone = "Asia/Kolkata"
)

// BusyFetcher returns the busy windows of one calendar owned by identity,
// using that identity's delegated credential.
type BusyFetcher interface {
	FetchBusy(ctx context.Context, identity, calendarID string, r TimeRange, timeZone string) ([]BusyWindow, error)
}

// LinkChecker is implemented by BusyFetchers that can tell cheaply whether an
// identity has a stored credential. The engine checks it before starting any
// fetch so an unlinked identity always yields ErrNotLinked.
type LinkChecker interface {
	CheckLinked(ctx context.Context, identity string) error
}

// ScheduleFetcher returns one Schedule per email, in request order, using
// app-only credentials.
type ScheduleFetcher interface {
	FetchSchedules(ctx context.Context, emails []string, r TimeRange, intervalMinutes int, timeZone string) ([]Schedule, error)
}

// Request describes one availability query.
type Request struct {
	// Identity is the requesting user's identity-provider subject. When
	// empty the delegated calendar is not consulted.
	Identity string

	// CalendarID is the delegated calendar to read; defaults to "primary".
	CalendarID string

	// Participants are looked up through the app-only provider.
	Participants []string

	Range           TimeRange
	IntervalMinutes int
	TimeZone        string
}

// Engine combines both providers' busy windows into free slots.
type Engine struct {
	busy      BusyFetcher
	schedules ScheduleFetcher

	timeout         time.Duration
	maxRange        time.Duration
	defaultTimeZone string

	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithProviderTimeout sets the per-provider deadline.
func WithProviderTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxRange sets the longest accepted range. Zero disables the check.
func WithMaxRange(d time.Duration) Option {
	return func(e *Engine) { e.maxRange = d }
}

// WithDefaultTimeZone sets the slot label used when requests omit one.
func WithDefaultTimeZone(tz string) Option {
	return func(e *Engine) {
		if tz != "" {
			e.defaultTimeZone = tz
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *instrumentation.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine. Either fetcher may be nil, in which case
// requests that need it fail with ErrProviderNotConfigured.
func NewEngine(busy BusyFetcher, schedules ScheduleFetcher, opts ...Option) *Engine {
	e := &Engine{
		busy:            busy,
		schedules:       schedules,
		timeout:         DefaultProviderTimeout,
		maxRange:        DefaultMaxRange,
		defaultTimeZone: DefaultTimeZone,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.WithOperation(e.logger, "availability.get")
	return e
}

// validate normalizes req and rejects it before any provider is contacted.
func (e *Engine) validate(req *Request) error {
	if !req.Range.Valid() {
		return fmt.Errorf("%w: start must be before end", ErrInvalidRange)
	}
	if e.maxRange > 0 && req.Range.Duration() > e.maxRange {
		return fmt.Errorf("%w: range of %s exceeds maximum of %s", ErrInvalidRange, req.Range.Duration(), e.maxRange)
	}
	participants := req.Participants[:0:0]
	for _, p := range req.Participants {
		if p = strings.TrimSpace(p); p != "" {
			participants = append(participants, p)
		}
	}
	req.Participants = participants
	if req.Identity == "" && len(req.Participants) == 0 {
		return fmt.Errorf("%w: an identity or at least one participant is required", ErrInvalidRequest)
	}
	if req.CalendarID == "" {
		req.CalendarID = DefaultCalendarID
	}
	if req.TimeZone == "" {
		req.TimeZone = e.defaultTimeZone
	}
	return nil
}

// GetAvailability returns the free slots for req. Both providers are queried
// concurrently and the first failure cancels the other; no slots are returned
// unless every consulted provider succeeded.
func (e *Engine) GetAvailability(ctx context.Context, req Request) ([]Slot, error) {
	start := time.Now()

	if err := e.validate(&req); err != nil {
		e.metrics.RecordSlotComputation(ctx, instrumentation.StatusError, failureReason(err), 0)
		return nil, err
	}
	interval := ClampInterval(req.IntervalMinutes)

	ctx, span := instrumentation.StartSpan(ctx, "availability.get",
		attribute.String(instrumentation.SpanAttrIdentity, logging.AnonymizeIdentity(req.Identity)),
		attribute.Int(instrumentation.SpanAttrParticipants, len(req.Participants)),
		attribute.Int(instrumentation.SpanAttrInterval, interval),
	)
	defer span.End()

	busy, err := e.collectBusy(ctx, req, interval)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		e.metrics.RecordSlotComputation(ctx, instrumentation.StatusError, failureReason(err), 0)
		e.logger.Warn("availability failed",
			logging.IdentityHash(req.Identity),
			logging.Domains(req.Participants),
			logging.Err(err))
		return nil, err
	}

	slots := ComputeSlots(req.Range, interval, busy, req.TimeZone)

	span.SetAttributes(attribute.Int(instrumentation.SpanAttrSlots, len(slots)))
	instrumentation.SetSpanSuccess(span)
	e.metrics.RecordSlotComputation(ctx, instrumentation.StatusSuccess, "", len(slots))
	e.logger.Debug("availability computed",
		logging.IdentityHash(req.Identity),
		slog.Int("participants", len(req.Participants)),
		slog.Int("busy_windows", len(busy)),
		slog.Int("slots", len(slots)),
		slog.Duration(logging.KeyDuration, time.Since(start)))

	return slots, nil
}

func (e *Engine) collectBusy(ctx context.Context, req Request, interval int) ([]BusyWindow, error) {
	if req.Identity != "" && e.busy == nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, ProviderGoogle)
	}
	if len(req.Participants) > 0 && e.schedules == nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, ProviderMicrosoft)
	}

	if lc, ok := e.busy.(LinkChecker); ok && req.Identity != "" {
		if err := lc.CheckLinked(ctx, req.Identity); err != nil {
			return nil, ClassifyError(ProviderGoogle, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var delegated, appOnly []BusyWindow

	if req.Identity != "" {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()

			windows, err := e.busy.FetchBusy(fctx, req.Identity, req.CalendarID, req.Range, req.TimeZone)
			if err != nil {
				return ClassifyError(ProviderGoogle, err)
			}
			delegated = windows
			return nil
		})
	}

	if len(req.Participants) > 0 {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()

			schedules, err := e.schedules.FetchSchedules(fctx, req.Participants, req.Range, interval, req.TimeZone)
			if err != nil {
				return ClassifyError(ProviderMicrosoft, err)
			}
			for _, s := range schedules {
				appOnly = append(appOnly, s.Busy...)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return append(delegated, appOnly...), nil
}

// failureReason returns a low-cardinality label for err.
func failureReason(err error) string {
	var pe *ProviderError
	switch {
	case errors.Is(err, ErrNotLinked):
		return "not_linked"
	case errors.Is(err, ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrProviderNotConfigured):
		return "not_configured"
	case errors.As(err, &pe):
		return string(pe.Reason)
	default:
		return "unknown"
	}
}
