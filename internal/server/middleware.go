package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/teemow/slotfinder/internal/instrumentation"
	"github.com/teemow/slotfinder/internal/logging"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// requestIDMiddleware keeps a caller-supplied request ID or assigns one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// identityMiddleware resolves the caller identity. With a verifier, an
// Authorization header must hold a valid token; without one the
// X-Identity header is taken as is. Requests without either proceed
// anonymously.
func identityMiddleware(verifier *IdentityVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity string
			if verifier != nil {
				if h := r.Header.Get("Authorization"); h != "" {
					raw, ok := bearerToken(h)
					if !ok {
						writeJSONError(w, http.StatusUnauthorized, "invalid_token", "expected a bearer token")
						return
					}
					sub, err := verifier.Verify(raw)
					if err != nil {
						writeJSONError(w, http.StatusUnauthorized, "invalid_token", "bearer token is invalid or expired")
						return
					}
					identity = sub
				}
			} else {
				identity = r.Header.Get(IdentityHeader)
			}

			if identity != "" {
				r = r.WithContext(WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// accessLogMiddleware records request metrics and logs each request.
func accessLogMiddleware(logger *slog.Logger, metrics *instrumentation.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(start)

			metrics.RecordHTTPRequest(r.Context(), r.Method, route, status, duration)

			level := slog.LevelDebug
			if status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int(logging.KeyStatus, status),
				slog.Duration(logging.KeyDuration, duration),
				logging.RequestID(RequestIDFromContext(r.Context())))
		})
	}
}
