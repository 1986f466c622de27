package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/slotfinder/internal/config"
	"github.com/teemow/slotfinder/internal/instrumentation"
	"github.com/teemow/slotfinder/internal/resources"
	"github.com/teemow/slotfinder/internal/server"
	"github.com/teemow/slotfinder/internal/tools/availability_tools"
)

const (
	transportHTTP  = "streamable-http"
	transportStdio = "stdio"
)

// serveOptions are the serve flags. Each overrides the loaded configuration
// only when set explicitly on the command line.
type serveOptions struct {
	debugMode        bool
	transport        string
	httpAddr         string
	yolo             bool
	baseURL          string
	disableStreaming bool
	metricsEnabled   bool
	metricsAddr      string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the availability API and MCP server",
		Long: `Start the availability service.

Supports multiple transport types:
  - streamable-http: HTTP API under /api plus MCP at /mcp (default)
  - stdio: MCP over standard input/output

Safety Mode:
  By default, the server operates in read-only mode and does not offer event
  creation. Use --yolo (or READ_ONLY=false) to enable it.

Providers:
  Google (delegated, per user):
    GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET, GOOGLE_REDIRECT_URI
  Microsoft 365 (app-only):
    MS_TENANT_ID, MS_CLIENT_ID, MS_CLIENT_SECRET
  At least one provider must be configured.

Identity:
  With JWT_SECRET set, callers authenticate with an HS256 bearer token whose
  subject is their identity. Without it the X-Identity header is trusted,
  which is only safe behind an authenticating proxy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyServeFlags(cmd, &cfg, opts)
			return runServe(cfg, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.transport, "transport", transportHTTP, "Transport type: streamable-http or stdio")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", ":8080", "HTTP server address. Can also use HTTP_ADDR env var.")
	cmd.Flags().BoolVar(&opts.yolo, "yolo", false, "Enable write operations (event creation). Default is read-only mode.")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Public base URL, used to derive the Google redirect URI. Can also use BASE_URL env var.")
	cmd.Flags().BoolVar(&opts.disableStreaming, "disable-streaming", false, "Disable streaming for the MCP HTTP transport (for compatibility with certain clients)")
	cmd.Flags().BoolVar(&opts.metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", ":9090", "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// applyServeFlags copies explicitly set flags over cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config, opts serveOptions) {
	flags := cmd.Flags()
	if flags.Changed("http-addr") {
		cfg.HTTPAddr = opts.httpAddr
	}
	if flags.Changed("yolo") {
		cfg.ReadOnly = !opts.yolo
	}
	if flags.Changed("base-url") {
		cfg.BaseURL = opts.baseURL
	}
	if flags.Changed("metrics-enabled") {
		cfg.Metrics.Enabled = opts.metricsEnabled
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	deriveRedirectURI(cfg)
}

func runServe(cfg config.Config, opts serveOptions) error {
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(cfg, opts.debugMode)
	slog.SetDefault(logger)

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Warn("instrumentation shutdown failed", "error", err)
		}
	}()
	metrics := provider.Metrics()

	a, err := newApp(shutdownCtx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("token store close failed", "error", err)
		}
	}()

	serverContext := server.NewServerContext(shutdownCtx, a.deps(metrics))
	defer func() { _ = serverContext.Shutdown() }()

	mcpSrv := mcpserver.NewMCPServer("slotfinder", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false),
	)
	if err := availability_tools.RegisterAvailabilityTools(mcpSrv, serverContext); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	if err := resources.RegisterResources(mcpSrv, serverContext); err != nil {
		return fmt.Errorf("failed to register resources: %w", err)
	}

	logger.Info("starting slotfinder",
		"version", version,
		"transport", opts.transport,
		"read_only", cfg.ReadOnly,
		"google", cfg.Google.Enabled(),
		"microsoft", cfg.Microsoft.Enabled(),
		"token_store", cfg.TokenStore.Type)

	switch opts.transport {
	case transportStdio:
		return runStdioServer(mcpSrv)
	case transportHTTP:
		return runHTTPServer(shutdownCtx, cfg, opts, serverContext, mcpSrv, provider, logger)
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: %s, %s)", opts.transport, transportHTTP, transportStdio)
	}
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func runHTTPServer(ctx context.Context, cfg config.Config, opts serveOptions, sc *server.ServerContext, mcpSrv *mcpserver.MCPServer, provider *instrumentation.Provider, logger *slog.Logger) error {
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, trusting the X-Identity header; only run this behind an authenticating proxy")
	}

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider.Enabled() {
		var err error
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		if err := metricsServer.Listen(); err != nil {
			return fmt.Errorf("metrics server failed to start: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		logger.Info("metrics server started", "addr", metricsServer.Addr())
	}

	mcpOpts := []mcpserver.StreamableHTTPOption{mcpserver.WithEndpointPath("/mcp")}
	if opts.disableStreaming {
		mcpOpts = append(mcpOpts, mcpserver.WithDisableStreaming(true))
	}

	health := server.NewHealthChecker(sc)
	handler := server.NewRouter(sc, server.RouterConfig{
		Verifier: server.NewIdentityVerifier(cfg.JWTSecret),
		Health:   health,
		MCP:      mcpserver.NewStreamableHTTPServer(mcpSrv, mcpOpts...),
		Limiter: server.NewCallerLimiter(ctx, server.RateLimitConfig{
			RPS:        cfg.RateLimit.RPS,
			Burst:      cfg.RateLimit.Burst,
			TrustProxy: cfg.RateLimit.TrustProxy,
		}),
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
	case err := <-serverDone:
		if err != nil {
			runErr = fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("error shutting down HTTP server: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("error shutting down metrics server: %w", err))
		}
	}

	if runErr == nil {
		logger.Info("HTTP server gracefully stopped")
	}
	return runErr
}
