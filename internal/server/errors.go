package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode"

	"github.com/teemow/slotfinder/internal/availability"
)

// Error codes returned in the "error" field of JSON error bodies.
const (
	CodeNotLinked       = "calendar_not_linked"
	CodeInvalidRange    = "invalid_range"
	CodeInvalidRequest  = "invalid_request"
	CodeRelinkRequired  = "relink_required"
	CodeProviderTimeout = "provider_timeout"
	CodeProviderError   = "provider_error"
	CodeNotConfigured   = "provider_not_configured"
	CodeUnauthenticated = "unauthenticated"
	CodeReadOnly        = "read_only"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal_error"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`

	// Set for upstream failures.
	Provider       string `json:"provider,omitempty"`
	Reason         string `json:"reason,omitempty"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

// maxDetailLen caps the upstream message echoed to callers.
const maxDetailLen = 200

// StatusForError maps an error to an HTTP status and error code.
func StatusForError(err error) (int, string) {
	var pe *availability.ProviderError
	switch {
	case errors.Is(err, availability.ErrNotLinked):
		return http.StatusConflict, CodeNotLinked
	case errors.Is(err, availability.ErrInvalidRange):
		return http.StatusBadRequest, CodeInvalidRange
	case errors.Is(err, availability.ErrInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, availability.ErrProviderNotConfigured):
		return http.StatusNotImplemented, CodeNotConfigured
	case errors.As(err, &pe):
		switch pe.Reason {
		case availability.ReasonTimeout:
			return http.StatusGatewayTimeout, CodeProviderTimeout
		case availability.ReasonRefreshFailed:
			return http.StatusUnauthorized, CodeRelinkRequired
		default:
			return http.StatusBadGateway, CodeProviderError
		}
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeError writes err as a JSON error body. Upstream failures carry the
// provider, reason, upstream status and a trimmed upstream message; internal
// errors carry no message.
func writeError(w http.ResponseWriter, err error) {
	status, code := StatusForError(err)
	body := errorResponse{Error: code}
	var pe *availability.ProviderError
	switch {
	case status == http.StatusInternalServerError:
	case errors.As(err, &pe):
		body.Message = pe.Provider + " " + string(pe.Reason)
		body.Provider = pe.Provider
		body.Reason = string(pe.Reason)
		body.UpstreamStatus = pe.Status
		body.Detail = sanitizeDetail(pe.Detail)
	default:
		body.Message = err.Error()
	}
	writeJSON(w, status, body)
}

// sanitizeDetail drops control characters and bounds the length.
func sanitizeDetail(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxDetailLen {
		s = string(r[:maxDetailLen]) + "..."
	}
	return s
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
