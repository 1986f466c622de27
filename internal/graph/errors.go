package graph

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Sentinel errors for Microsoft Graph HTTP statuses.
var (
	ErrUnauthorised = errors.New("graph: unauthorised")
	ErrForbidden    = errors.New("graph: forbidden")
	ErrNotFound     = errors.New("graph: not found")
	ErrRateLimited  = errors.New("graph: rate limited")
	ErrBadRequest   = errors.New("graph: bad request")
	ErrServerError  = errors.New("graph: server error")
	ErrUnexpected   = errors.New("graph: unexpected status")
)

// WrapStatus converts an HTTP status code to a sentinel error. It returns
// nil for 2xx codes.
func WrapStatus(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusUnauthorized:
		return ErrUnauthorised
	case statusCode == http.StatusForbidden:
		return ErrForbidden
	case statusCode == http.StatusNotFound:
		return ErrNotFound
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case statusCode == http.StatusBadRequest:
		return ErrBadRequest
	case statusCode >= 500:
		return ErrServerError
	default:
		return ErrUnexpected
	}
}

// apiError is the error envelope Graph returns with non-2xx responses.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// errorDetail extracts "code: message" from a Graph error body, or "".
func errorDetail(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Code == "" {
		return ""
	}
	if e.Error.Message == "" {
		return e.Error.Code
	}
	return e.Error.Code + ": " + e.Error.Message
}
