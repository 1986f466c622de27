// Package instrumentation provides OpenTelemetry metrics and tracing for
// slotfinder.
//
// # Metrics
//
// HTTP:
//   - http_requests_total: requests by method, route and status
//   - http_request_duration_seconds: request latency
//
// Providers:
//   - provider_operations_total: upstream calls by provider, operation and status
//   - provider_operation_duration_seconds: upstream call latency
//   - oauth_token_refresh_total: delegated token refreshes by result
//   - app_token_acquire_total: client-credentials token acquisitions by result
//
// Engine:
//   - slots_computed_total: availability computations by result
//   - slots_returned: histogram of slot counts per computation
//
// MCP:
//   - mcp_tool_invocations_total: tool calls by tool and status
//   - mcp_tool_duration_seconds: tool call latency
//
// # Tracing
//
// Spans are created for availability computations (availability.get),
// provider calls (provider.<name>.<operation>) and MCP tools (tool.<name>).
//
// # Configuration
//
//   - INSTRUMENTATION_ENABLED: enable metrics and tracing (default: true)
//   - METRICS_EXPORTER: prometheus, otlp or stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector endpoint without scheme
//   - OTEL_TRACES_SAMPLER_ARG: sampling ratio (default: 0.1)
//   - OTEL_SERVICE_NAME: service name (default: slotfinder)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	m := provider.Metrics()
//	m.RecordProviderOperation(ctx, "microsoft", "getSchedule", instrumentation.StatusSuccess, time.Since(start))
package instrumentation
