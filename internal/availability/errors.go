package availability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotLinked means the delegated provider has no credential for the
	// identity. Callers should prompt the user to connect their calendar.
	ErrNotLinked = errors.New("calendar not linked")

	// ErrInvalidRange means the requested range is empty, inverted,
	// unparseable or longer than the engine allows.
	ErrInvalidRange = errors.New("invalid time range")

	// ErrInvalidRequest means the request names nothing to look up.
	ErrInvalidRequest = errors.New("invalid availability request")

	// ErrProviderNotConfigured means a request needs a provider that was not
	// wired into the engine.
	ErrProviderNotConfigured = errors.New("provider not configured")
)

// Provider names used in errors, logs and metrics.
const (
	ProviderGoogle    = "google"
	ProviderMicrosoft = "microsoft"
)

// Reason distinguishes the kinds of upstream failure.
type Reason string

const (
	ReasonTimeout       Reason = "timeout"
	ReasonUnauthorized  Reason = "unauthorized"
	ReasonRefreshFailed Reason = "refresh_failed"
	ReasonRateLimited   Reason = "rate_limited"
	ReasonUpstream      Reason = "upstream"
	ReasonMalformed     Reason = "malformed"
	ReasonCanceled      Reason = "canceled"
)

// ProviderError is returned for any failure of an upstream call.
type ProviderError struct {
	Provider string
	Reason   Reason
	// Status is the upstream HTTP status, or 0 when no response was received.
	Status int
	// Detail carries the upstream error message, if any.
	Detail string
	Err    error
}

// NewProviderError creates a ProviderError.
func NewProviderError(provider string, reason Reason, status int, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Reason:   reason,
		Status:   status,
		Err:      err,
	}
}

// WithDetail sets the upstream detail message and returns the error.
func (e *ProviderError) WithDetail(detail string) *ProviderError {
	e.Detail = detail
	return e
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s provider error (%s)", e.Provider, e.Reason)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the upstream call timed out.
func (e *ProviderError) Timeout() bool {
	return e.Reason == ReasonTimeout
}

// IsRefreshFailure reports whether err is a rejected token refresh for the
// delegated provider, meaning the user has to link their calendar again.
func IsRefreshFailure(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Reason == ReasonRefreshFailed
}

// IsTimeout reports whether err is a provider timeout.
func IsTimeout(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Timeout()
}

// ReasonForStatus maps an upstream HTTP status to a Reason.
func ReasonForStatus(status int) Reason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonUnauthorized
	case status == http.StatusTooManyRequests:
		return ReasonRateLimited
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return ReasonTimeout
	default:
		return ReasonUpstream
	}
}

// ClassifyError converts an arbitrary fetch error into the error taxonomy.
// ErrNotLinked and existing ProviderErrors pass through unchanged.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotLinked) || errors.Is(err, ErrInvalidRange) || errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrProviderNotConfigured) {
		return err
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(provider, ReasonTimeout, 0, err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(provider, ReasonCanceled, 0, err)
	default:
		return NewProviderError(provider, ReasonUpstream, 0, err)
	}
}
