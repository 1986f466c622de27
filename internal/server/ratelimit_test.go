package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg RateLimitConfig) *CallerLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewCallerLimiter(ctx, cfg)
}

func TestNewCallerLimiter_Disabled(t *testing.T) {
	assert.Nil(t, NewCallerLimiter(context.Background(), RateLimitConfig{}))
	assert.Nil(t, NewCallerLimiter(context.Background(), RateLimitConfig{RPS: -1, Burst: 5}))
}

func TestCallerLimiter_Allow(t *testing.T) {
	l := newTestLimiter(t, RateLimitConfig{RPS: 0.001, Burst: 2})

	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.True(t, ok)

	ok, wait := l.Allow("a")
	assert.False(t, ok)
	assert.Greater(t, wait.Seconds(), 1.0)

	// Buckets are per key.
	ok, _ = l.Allow("b")
	assert.True(t, ok)
}

func TestRateLimitMiddleware(t *testing.T) {
	svc := &fakeAvailability{}
	limiter := newTestLimiter(t, RateLimitConfig{RPS: 0.001, Burst: 1})
	h := newTestRouter(t, Deps{Availability: svc}, RouterConfig{Limiter: limiter})

	target := "/api/availability?start=2026-03-02T09:00:00Z&end=2026-03-02T10:00:00Z"
	alice := http.Header{"X-Identity": {"alice@example.com"}}
	bob := http.Header{"X-Identity": {"bob@example.com"}}

	rec := do(t, h, http.MethodGet, target, nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, target, nil, alice)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, CodeRateLimited, decodeError(t, rec).Error)

	rec = do(t, h, http.MethodGet, target, nil, bob)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_HealthNotLimited(t *testing.T) {
	limiter := newTestLimiter(t, RateLimitConfig{RPS: 0.001, Burst: 1})
	h := newTestRouter(t, Deps{}, RouterConfig{Limiter: limiter})

	for range 3 {
		rec := do(t, h, http.MethodGet, "/healthz", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		header     http.Header
		trustProxy bool
		want       string
	}{
		{name: "remote addr", remote: "10.0.0.1:1234", want: "10.0.0.1"},
		{name: "no port", remote: "10.0.0.1", want: "10.0.0.1"},
		{name: "forwarded ignored", remote: "10.0.0.1:1234", header: http.Header{"X-Forwarded-For": {"1.2.3.4"}}, want: "10.0.0.1"},
		{name: "forwarded trusted", remote: "10.0.0.1:1234", header: http.Header{"X-Forwarded-For": {"1.2.3.4, 10.0.0.9"}}, trustProxy: true, want: "1.2.3.4"},
		{name: "real ip trusted", remote: "10.0.0.1:1234", header: http.Header{"X-Real-Ip": {"5.6.7.8"}}, trustProxy: true, want: "5.6.7.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, vs := range tt.header {
				req.Header[k] = vs
			}
			assert.Equal(t, tt.want, clientIP(req, tt.trustProxy))
		})
	}
}
