package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/teemow/slotfinder/internal/availability"
	"github.com/teemow/slotfinder/internal/instrumentation"
	"github.com/teemow/slotfinder/internal/logging"
)

const (
	// DefaultScope requests every application permission granted to the app.
	DefaultScope = "https://graph.microsoft.com/.default"

	// DefaultAuthority is the Microsoft identity platform host.
	DefaultAuthority = "https://login.microsoftonline.com"

	// ExpirySkew is subtracted from a token's lifetime before caching it.
	ExpirySkew = 60 * time.Second

	appTokenKey = "app"
)

// AppAuthConfig identifies the app registration.
type AppAuthConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// TokenURL overrides the tenant token endpoint; used by tests.
	TokenURL string
}

// Validate checks that the app registration is complete.
func (c AppAuthConfig) Validate() error {
	switch {
	case c.TenantID == "" && c.TokenURL == "":
		return errors.New("microsoft tenant id is required")
	case c.ClientID == "":
		return errors.New("microsoft client id is required")
	case c.ClientSecret == "":
		return errors.New("microsoft client secret is required")
	}
	return nil
}

func (c AppAuthConfig) tokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", DefaultAuthority, c.TenantID)
}

// AppAuth hands out app-only access tokens, caching each until shortly
// before it expires.
type AppAuth struct {
	conf       *clientcredentials.Config
	cache      *ttlcache.Cache[string, string]
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *instrumentation.Metrics

	// mu serialises acquisitions so concurrent misses share one request.
	mu sync.Mutex
}

// NewAppAuth creates an AppAuth for cfg.
func NewAppAuth(cfg AppAuthConfig) *AppAuth {
	return &AppAuth{
		conf: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.tokenURL(),
			Scopes:       []string{DefaultScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		cache: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
		logger: logging.WithProvider(slog.Default(), availability.ProviderMicrosoft),
	}
}

// SetLogger sets a custom logger.
func (a *AppAuth) SetLogger(logger *slog.Logger) {
	a.logger = logging.WithProvider(logger, availability.ProviderMicrosoft)
}

// SetMetrics sets the metrics recorder.
func (a *AppAuth) SetMetrics(m *instrumentation.Metrics) {
	a.metrics = m
}

// SetHTTPClient sets the client used for token endpoint calls.
func (a *AppAuth) SetHTTPClient(c *http.Client) {
	a.httpClient = c
}

// Token returns a valid app-only access token.
func (a *AppAuth) Token(ctx context.Context) (string, error) {
	if tok, ok := a.cached(); ok {
		a.metrics.RecordAppTokenAcquire(ctx, instrumentation.ResultCached)
		return tok, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if tok, ok := a.cached(); ok {
		a.metrics.RecordAppTokenAcquire(ctx, instrumentation.ResultCached)
		return tok, nil
	}

	if a.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}

	start := time.Now()
	tok, err := a.conf.Token(ctx)
	if err != nil {
		a.metrics.RecordAppTokenAcquire(ctx, instrumentation.ResultFailure)
		perr := classifyTokenError(err)
		a.logger.Warn("app token acquisition failed",
			slog.String("reason", string(perr.Reason)),
			logging.Err(err))
		return "", perr
	}
	a.metrics.RecordAppTokenAcquire(ctx, instrumentation.ResultSuccess)

	if ttl := time.Until(tok.Expiry) - ExpirySkew; !tok.Expiry.IsZero() && ttl > 0 {
		a.cache.Set(appTokenKey, tok.AccessToken, ttl)
	}

	a.logger.Debug("app token acquired",
		"expiry", tok.Expiry,
		slog.Duration(logging.KeyDuration, time.Since(start)))
	return tok.AccessToken, nil
}

func (a *AppAuth) cached() (string, bool) {
	item := a.cache.Get(appTokenKey)
	if item == nil || item.IsExpired() {
		return "", false
	}
	return item.Value(), true
}

// Invalidate drops the cached token so the next Token call acquires a new one.
func (a *AppAuth) Invalidate() {
	a.cache.Delete(appTokenKey)
}

func classifyTokenError(err error) *availability.ProviderError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		reason := availability.ReasonUnauthorized
		if status >= http.StatusInternalServerError || status == 0 {
			reason = availability.ReasonUpstream
		}
		return availability.NewProviderError(availability.ProviderMicrosoft, reason, status, err).WithDetail(re.ErrorCode)
	}

	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return availability.NewProviderError(availability.ProviderMicrosoft, availability.ReasonTimeout, 0, err)
	}
	classified := availability.ClassifyError(availability.ProviderMicrosoft, err)
	var pe *availability.ProviderError
	if errors.As(classified, &pe) {
		return pe
	}
	return availability.NewProviderError(availability.ProviderMicrosoft, availability.ReasonUpstream, 0, err)
}
