package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// Verifier authenticates bearer tokens; nil trusts the X-Identity header.
	Verifier *IdentityVerifier

	Health *HealthChecker

	// MCP is mounted at /mcp when set, behind the same identity
	// middleware as /api.
	MCP http.Handler

	// Limiter throttles /api and /mcp per caller; nil disables it.
	Limiter *CallerLimiter
}

// NewRouter builds the HTTP API.
//
// Routes:
//
//	GET    /healthz, /readyz
//	GET    /api/availability
//	GET    /api/google/auth-url
//	GET    /api/google/callback
//	DELETE /api/google/link
//	POST   /api/events
//	*      /mcp
func NewRouter(sc *ServerContext, cfg RouterConfig) http.Handler {
	h := &handlers{sc: sc}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(sc.Logger(), sc.Metrics()))
	r.Use(middleware.Recoverer)

	health := cfg.Health
	if health == nil {
		health = NewHealthChecker(sc)
	}
	r.Method(http.MethodGet, "/healthz", health.LivenessHandler())
	r.Method(http.MethodGet, "/readyz", health.ReadinessHandler())

	r.Route("/api", func(r chi.Router) {
		r.Use(identityMiddleware(cfg.Verifier))
		r.Use(rateLimitMiddleware(cfg.Limiter))

		r.Get("/availability", h.getAvailability)

		r.Route("/google", func(r chi.Router) {
			r.Use(requireConfigured(sc.Linker() != nil, "google"))
			r.Get("/auth-url", h.googleAuthURL)
			r.Get("/callback", h.googleCallback)
			r.Delete("/link", h.googleUnlink)
		})

		r.With(requireConfigured(sc.Events() != nil, "microsoft")).Post("/events", h.createEvent)
	})

	if cfg.MCP != nil {
		r.With(identityMiddleware(cfg.Verifier), rateLimitMiddleware(cfg.Limiter)).Mount("/mcp", cfg.MCP)
	}

	return r
}

func requireConfigured(ok bool, provider string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if ok {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSONError(w, http.StatusNotImplemented, CodeNotConfigured, provider+" is not configured")
		})
	}
}
