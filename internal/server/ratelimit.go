package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long a caller's bucket survives without requests.
const idleLimiterTTL = 10 * time.Minute

// RateLimitConfig configures per-caller request limiting on /api and /mcp.
type RateLimitConfig struct {
	// RPS is the sustained requests per second per caller. Zero disables
	// limiting.
	RPS float64
	// Burst is the bucket size.
	Burst int
	// TrustProxy keys anonymous callers by X-Forwarded-For / X-Real-IP
	// instead of the connection address.
	TrustProxy bool
}

// CallerLimiter keeps one token bucket per caller. Callers are keyed by
// identity when known, by client IP otherwise.
type CallerLimiter struct {
	cfg      RateLimitConfig
	limiters *ttlcache.Cache[string, *rate.Limiter]
}

// NewCallerLimiter returns nil when cfg.RPS is not positive. Idle buckets
// are evicted until ctx is done.
func NewCallerLimiter(ctx context.Context, cfg RateLimitConfig) *CallerLimiter {
	if cfg.RPS <= 0 {
		return nil
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *rate.Limiter](idleLimiterTTL),
	)
	go cache.Start()
	go func() {
		<-ctx.Done()
		cache.Stop()
	}()
	return &CallerLimiter{cfg: cfg, limiters: cache}
}

// Allow reports whether key may make a request now. When it may not, the
// returned duration is the wait until the next token.
func (l *CallerLimiter) Allow(key string) (bool, time.Duration) {
	item, _ := l.limiters.GetOrSet(key, rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst))
	lim := item.Value()

	r := lim.Reserve()
	if !r.OK() {
		return false, time.Second
	}
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return false, d
	}
	return true, 0
}

func (l *CallerLimiter) key(r *http.Request) string {
	if id := IdentityFromContext(r.Context()); id != "" {
		return "id:" + id
	}
	return "ip:" + clientIP(r, l.cfg.TrustProxy)
}

// rateLimitMiddleware must run after identityMiddleware so authenticated
// callers get their own bucket.
func rateLimitMiddleware(l *CallerLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := l.Allow(l.key(r))
			if !ok {
				secs := int(wait.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeJSONError(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests, retry later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the caller address. Proxy headers are only consulted
// when trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
