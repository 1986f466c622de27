package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrProvider  = "provider"
	attrResult    = "result"
	attrTool      = "tool"
	attrReason    = "reason"
	attrDomain    = "domain"
)

// Metrics records slotfinder metrics. The zero value and a nil pointer are
// both valid no-op recorders.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	providerOperationsTotal   metric.Int64Counter
	providerOperationDuration metric.Float64Histogram

	oauthTokenRefreshTotal metric.Int64Counter
	appTokenAcquireTotal   metric.Int64Counter

	slotsComputedTotal metric.Int64Counter
	slotsReturned      metric.Int64Histogram

	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	detailedLabels bool
}

// NewMetrics creates all instruments on meter.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.providerOperationsTotal, err = meter.Int64Counter(
		"provider_operations_total",
		metric.WithDescription("Total number of calendar provider operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider_operations_total counter: %w", err)
	}

	m.providerOperationDuration, err = meter.Float64Histogram(
		"provider_operation_duration_seconds",
		metric.WithDescription("Calendar provider operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider_operation_duration_seconds histogram: %w", err)
	}

	m.oauthTokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of delegated OAuth token refreshes"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	m.appTokenAcquireTotal, err = meter.Int64Counter(
		"app_token_acquire_total",
		metric.WithDescription("Total number of app-only token acquisitions"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create app_token_acquire_total counter: %w", err)
	}

	m.slotsComputedTotal, err = meter.Int64Counter(
		"slots_computed_total",
		metric.WithDescription("Total number of availability computations"),
		metric.WithUnit("{computation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create slots_computed_total counter: %w", err)
	}

	m.slotsReturned, err = meter.Int64Histogram(
		"slots_returned",
		metric.WithDescription("Number of free slots returned per computation"),
		metric.WithUnit("{slot}"),
		metric.WithExplicitBucketBoundaries(0, 1, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create slots_returned histogram: %w", err)
	}

	m.toolInvocationsTotal, err = meter.Int64Counter(
		"mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_invocations_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request. path should be the route
// pattern, not the raw URL, to keep cardinality bounded.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)

	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordProviderOperation records one upstream calendar call.
//
// Parameters:
//   - provider: "google" or "microsoft"
//   - operation: freebusy, getSchedule, createEvent, exchange
//   - status: StatusSuccess or a failure reason such as "timeout"
//   - duration: time taken by the call
func (m *Metrics) RecordProviderOperation(ctx context.Context, provider, operation, status string, duration time.Duration) {
	if m == nil || m.providerOperationsTotal == nil || m.providerOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := metric.WithAttributes(
		attribute.String(attrProvider, provider),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)

	m.providerOperationsTotal.Add(ctx, 1, attrs)
	m.providerOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordProviderOperationWithDomain is RecordProviderOperation with the
// participant domain added when detailed labels are enabled.
func (m *Metrics) RecordProviderOperationWithDomain(ctx context.Context, provider, operation, status, domain string, duration time.Duration) {
	if m == nil || m.providerOperationsTotal == nil || m.providerOperationDuration == nil {
		return // Instrumentation not initialized
	}

	kvs := []attribute.KeyValue{
		attribute.String(attrProvider, provider),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}
	if m.detailedLabels && domain != "" {
		kvs = append(kvs, attribute.String(attrDomain, domain))
	}

	attrs := metric.WithAttributes(kvs...)
	m.providerOperationsTotal.Add(ctx, 1, attrs)
	m.providerOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordOAuthTokenRefresh records a delegated token refresh.
// Result is one of ResultSuccess or ResultFailure.
func (m *Metrics) RecordOAuthTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.oauthTokenRefreshTotal == nil {
		return // Instrumentation not initialized
	}

	m.oauthTokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordAppTokenAcquire records a client-credentials token request.
// Result is one of ResultSuccess, ResultFailure or ResultCached.
func (m *Metrics) RecordAppTokenAcquire(ctx context.Context, result string) {
	if m == nil || m.appTokenAcquireTotal == nil {
		return // Instrumentation not initialized
	}

	m.appTokenAcquireTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordSlotComputation records one availability computation. reason is
// empty on success.
func (m *Metrics) RecordSlotComputation(ctx context.Context, status, reason string, slots int) {
	if m == nil || m.slotsComputedTotal == nil || m.slotsReturned == nil {
		return // Instrumentation not initialized
	}

	kvs := []attribute.KeyValue{attribute.String(attrStatus, status)}
	if reason != "" {
		kvs = append(kvs, attribute.String(attrReason, reason))
	}
	m.slotsComputedTotal.Add(ctx, 1, metric.WithAttributes(kvs...))
	if status == StatusSuccess {
		m.slotsReturned.Record(ctx, int64(slots))
	}
}

// RecordToolInvocation records an MCP tool invocation.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil || m.toolDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := metric.WithAttributes(
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	)

	m.toolInvocationsTotal.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
}
