// Package server exposes slotfinder over HTTP.
//
// NewRouter builds a chi router with the REST API, Kubernetes probes and,
// optionally, the MCP streamable HTTP endpoint. ServerContext carries the
// services shared by the REST handlers and the MCP tools.
//
// Callers are identified by an HS256 bearer token whose sub claim is the
// identity, or by the X-Identity header when no JWT secret is configured.
// The identity is optional for availability lookups that only involve
// participants.
//
// Errors are returned as {"error": code, "message": text}:
//
//	calendar_not_linked  409  the identity has no stored Google credential
//	invalid_range        400  bad or oversized time range
//	relink_required      401  Google rejected the refresh token
//	provider_timeout     504  an upstream call exceeded its deadline
//	provider_error       502  any other upstream failure
//	rate_limited         429  the caller exceeded its request budget
//
// MetricsServer serves Prometheus metrics on a separate port.
package server
