package common

import (
	"context"
	"strconv"
	"strings"

	"github.com/teemow/slotfinder/internal/server"
)

// IdentityFromRequest resolves the caller's identity for a tool call.
//
// Priority order:
//  1. Identity set on the context by the HTTP identity middleware
//  2. Explicit "identity" argument (stdio transport only has this)
//  3. "" meaning anonymous
func IdentityFromRequest(ctx context.Context, args map[string]any) string {
	if id := server.IdentityFromContext(ctx); id != "" {
		return id
	}
	if v, ok := args["identity"].(string); ok {
		return v
	}
	return ""
}

// StringArg returns the string argument key, or "" when absent or not a string.
func StringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// IntArg returns the numeric argument key truncated to an int. JSON numbers
// arrive as float64; numeric strings are accepted too.
func IntArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		return fallback
	default:
		return fallback
	}
}
