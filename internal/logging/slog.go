package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Common log attribute keys.
const (
	KeyOperation    = "operation"
	KeyProvider     = "provider"
	KeyIdentityHash = "identity_hash"
	KeyUserHash     = "user_hash"
	KeyRequestID    = "request_id"
	KeyDuration     = "duration"
	KeyStatus       = "status"
	KeyError        = "error"
	KeyTool         = "tool"
	KeyDomain       = "domain"
)

// Status values. Duplicated from instrumentation, which imports this package.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// New creates a logger writing to w. Format "json" selects the JSON handler,
// anything else the text handler.
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel converts a level name to a slog.Level, defaulting to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithProvider returns a logger with the provider attribute set.
func WithProvider(logger *slog.Logger, provider string) *slog.Logger {
	return logger.With(slog.String(KeyProvider, provider))
}

// WithTool returns a logger with the tool attribute set.
func WithTool(logger *slog.Logger, tool string) *slog.Logger {
	return logger.With(slog.String(KeyTool, tool))
}

func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

func Provider(provider string) slog.Attr {
	return slog.String(KeyProvider, provider)
}

func Tool(tool string) slog.Attr {
	return slog.String(KeyTool, tool)
}

func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// Err returns a slog attribute for an error.
// A nil error yields an empty group, which slog omits from output.
//
//	logger.Info("operation", logging.Err(err))  // safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// hash returns a short stable digest usable for log correlation.
func hash(prefix, value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return prefix + hex.EncodeToString(sum[:8])
}

// AnonymizeEmail returns a hashed representation of an email address.
func AnonymizeEmail(email string) string {
	return hash("user:", strings.ToLower(strings.TrimSpace(email)))
}

// AnonymizeIdentity returns a hashed representation of an identity provider
// subject such as "auth0|abc123".
func AnonymizeIdentity(identity string) string {
	return hash("id:", identity)
}

// UserHash returns a slog attribute with the anonymized email.
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}

// IdentityHash returns a slog attribute with the anonymized identity.
func IdentityHash(identity string) slog.Attr {
	return slog.String(KeyIdentityHash, AnonymizeIdentity(identity))
}

// SanitizeToken returns a length indicator without exposing token content.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}

// ExtractDomain returns the domain part of an email address, or "" if the
// address is malformed.
func ExtractDomain(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[1] == "" {
		return ""
	}
	return strings.ToLower(parts[1])
}

// Domains returns a slog attribute listing the distinct domains of emails.
// Participant lists are logged this way instead of as addresses.
func Domains(emails []string) slog.Attr {
	seen := make(map[string]struct{}, len(emails))
	domains := make([]string, 0, len(emails))
	for _, e := range emails {
		d := ExtractDomain(e)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		domains = append(domains, d)
	}
	return slog.Any(KeyDomain, domains)
}
