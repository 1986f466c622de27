package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/slotfinder/internal/availability"
	"github.com/teemow/slotfinder/internal/graph"
	"github.com/teemow/slotfinder/internal/instrumentation"
)

// AvailabilityService computes free slots.
type AvailabilityService interface {
	GetAvailability(ctx context.Context, req availability.Request) ([]availability.Slot, error)
}

// CalendarLinker connects and disconnects an identity's delegated calendar.
type CalendarLinker interface {
	AuthURL(state string) string
	Link(ctx context.Context, identity, code string) error
	Unlink(ctx context.Context, identity string) error
}

// EventCreator creates calendar events with app-only credentials.
type EventCreator interface {
	CreateEvent(ctx context.Context, organizer string, ev graph.Event) (*graph.CreatedEvent, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services shared by the REST handlers and the MCP tools.
// Linker and Events are nil when their provider is not configured.
type Deps struct {
	Availability AvailabilityService
	Linker       CalendarLinker
	Events       EventCreator
	Store        Pinger

	// States signs and verifies OAuth state; nil passes the identity
	// through unsigned.
	States *StateSigner

	DefaultTimeZone string
	// MaxRange is the longest range the availability service accepts.
	MaxRange time.Duration
	ReadOnly bool

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// ServerContext holds the dependencies and lifecycle of a running server.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc
	deps   Deps

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a server context derived from ctx.
func NewServerContext(ctx context.Context, deps Deps) *ServerContext {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DefaultTimeZone == "" {
		deps.DefaultTimeZone = availability.DefaultTimeZone
	}
	if deps.MaxRange <= 0 {
		deps.MaxRange = availability.DefaultMaxRange
	}
	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:    shutdownCtx,
		cancel: cancel,
		deps:   deps,
	}
}

// Context returns the server context.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Availability returns the availability service.
func (sc *ServerContext) Availability() AvailabilityService { return sc.deps.Availability }

// Linker returns the calendar linker, or nil.
func (sc *ServerContext) Linker() CalendarLinker { return sc.deps.Linker }

// Events returns the event creator, or nil.
func (sc *ServerContext) Events() EventCreator { return sc.deps.Events }

// States returns the OAuth state signer, or nil.
func (sc *ServerContext) States() *StateSigner { return sc.deps.States }

// DefaultTimeZone returns the zone label used when a request has none.
func (sc *ServerContext) DefaultTimeZone() string { return sc.deps.DefaultTimeZone }

// MaxRange returns the longest accepted availability range.
func (sc *ServerContext) MaxRange() time.Duration { return sc.deps.MaxRange }

// ReadOnly reports whether write operations are disabled.
func (sc *ServerContext) ReadOnly() bool { return sc.deps.ReadOnly }

// Logger returns the server logger.
func (sc *ServerContext) Logger() *slog.Logger { return sc.deps.Logger }

// Metrics returns the metrics recorder, which may be nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics { return sc.deps.Metrics }

// IsShutdown returns whether the server has been shut down.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown marks the context as shut down and cancels it.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
