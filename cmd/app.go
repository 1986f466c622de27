package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/teemow/slotfinder/internal/availability"
	"github.com/teemow/slotfinder/internal/calendar"
	"github.com/teemow/slotfinder/internal/config"
	"github.com/teemow/slotfinder/internal/google"
	"github.com/teemow/slotfinder/internal/graph"
	"github.com/teemow/slotfinder/internal/instrumentation"
	"github.com/teemow/slotfinder/internal/logging"
	"github.com/teemow/slotfinder/internal/server"
	"github.com/teemow/slotfinder/internal/tokenstore"
)

// app holds the wired services shared by every command.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	store     tokenstore.Store
	delegated *google.DelegatedAuth
	graph     *graph.Client
	engine    *availability.Engine
}

// loadConfig resolves the config path from --config or SLOTFINDER_CONFIG and
// loads the layered configuration.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("SLOTFINDER_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	deriveRedirectURI(&cfg)
	return cfg, nil
}

// deriveRedirectURI points the Google redirect at this service's callback
// route when only the public base URL is configured.
func deriveRedirectURI(cfg *config.Config) {
	if cfg.Google.RedirectURI == "" && cfg.BaseURL != "" {
		cfg.Google.RedirectURI = strings.TrimRight(cfg.BaseURL, "/") + "/api/google/callback"
	}
}

// parseCommaSeparatedList parses a comma-separated string into a slice,
// trimming whitespace from each element and filtering out empty strings.
// Returns nil if the input is empty or contains only whitespace/commas.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// newLogger builds the process logger from cfg. Logs always go to stderr so
// stdout stays free for the stdio transport and command output.
func newLogger(cfg config.Config, debug bool) *slog.Logger {
	level := logging.ParseLevel(cfg.LogLevel)
	if debug {
		level = slog.LevelDebug
	}
	return logging.New(os.Stderr, level, cfg.LogFormat)
}

// newApp opens the token store and builds the provider clients and the
// engine. Providers without configuration are left nil.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics *instrumentation.Metrics) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	var busy availability.BusyFetcher
	if cfg.Google.Enabled() {
		store, err := tokenstore.Open(ctx, cfg.TokenStore, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open token store: %w", err)
		}
		a.store = store

		gcfg := google.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURI,
			Scopes:       cfg.Google.Scopes,
		}
		a.delegated = google.NewDelegatedAuth(gcfg.OAuth2Config(), store)
		a.delegated.SetLogger(logger)
		a.delegated.SetMetrics(metrics)

		opts := []calendar.FetcherOption{calendar.WithLogger(logger), calendar.WithMetrics(metrics)}
		if cfg.Google.CalendarEndpoint != "" {
			opts = append(opts, calendar.WithEndpoint(cfg.Google.CalendarEndpoint))
		}
		busy = calendar.NewFetcher(a.delegated, opts...)
	}

	var schedules availability.ScheduleFetcher
	if cfg.Microsoft.Enabled() {
		auth := graph.NewAppAuth(graph.AppAuthConfig{
			TenantID:     cfg.Microsoft.TenantID,
			ClientID:     cfg.Microsoft.ClientID,
			ClientSecret: cfg.Microsoft.ClientSecret,
			TokenURL:     cfg.Microsoft.TokenURL,
		})
		auth.SetLogger(logger)
		auth.SetMetrics(metrics)

		opts := []graph.ClientOption{graph.WithLogger(logger), graph.WithMetrics(metrics)}
		if cfg.Microsoft.GraphBaseURL != "" {
			opts = append(opts, graph.WithBaseURL(cfg.Microsoft.GraphBaseURL))
		}
		a.graph = graph.NewClient(auth, opts...)
		schedules = a.graph
	}

	a.engine = availability.NewEngine(busy, schedules,
		availability.WithProviderTimeout(time.Duration(cfg.ProviderTimeout)),
		availability.WithMaxRange(time.Duration(cfg.MaxRange)),
		availability.WithDefaultTimeZone(cfg.DefaultTimeZone),
		availability.WithLogger(logger),
		availability.WithMetrics(metrics),
	)

	return a, nil
}

// deps returns the server dependencies for a. Interfaces are only set for
// configured providers so the router can answer 501 for the others.
func (a *app) deps(metrics *instrumentation.Metrics) server.Deps {
	d := server.Deps{
		Availability:    a.engine,
		States:          server.NewStateSigner(a.cfg.JWTSecret),
		DefaultTimeZone: a.cfg.DefaultTimeZone,
		MaxRange:        time.Duration(a.cfg.MaxRange),
		ReadOnly:        a.cfg.ReadOnly,
		Logger:          a.logger,
		Metrics:         metrics,
	}
	if a.delegated != nil {
		d.Linker = a.delegated
	}
	if a.store != nil {
		d.Store = a.store
	}
	if a.graph != nil {
		d.Events = a.graph
	}
	return d
}

// requireDelegated returns an error when Google is not configured.
func (a *app) requireDelegated() error {
	if a.delegated == nil {
		return errors.New("google is not configured: set GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URI")
	}
	return nil
}

func (a *app) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}
