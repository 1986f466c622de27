package google

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/oauth2"

	"github.com/teemow/slotfinder/internal/availability"
	"github.com/teemow/slotfinder/internal/instrumentation"
	"github.com/teemow/slotfinder/internal/logging"
	"github.com/teemow/slotfinder/internal/tokenstore"
)

// DelegatedAuth issues per-identity authenticated clients backed by a
// tokenstore.Store.
type DelegatedAuth struct {
	conf       *oauth2.Config
	store      tokenstore.Store
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
}

// NewDelegatedAuth creates a DelegatedAuth for the given client registration.
func NewDelegatedAuth(conf *oauth2.Config, store tokenstore.Store) *DelegatedAuth {
	return &DelegatedAuth{
		conf:   conf,
		store:  store,
		logger: logging.WithProvider(slog.Default(), availability.ProviderGoogle),
	}
}

// SetLogger sets a custom logger.
func (a *DelegatedAuth) SetLogger(logger *slog.Logger) {
	a.logger = logging.WithProvider(logger, availability.ProviderGoogle)
}

// SetMetrics sets the metrics recorder.
func (a *DelegatedAuth) SetMetrics(m *instrumentation.Metrics) {
	a.metrics = m
}

// SetHTTPClient sets the client used for token endpoint calls. Its
// transport is also the base transport of authenticated clients.
func (a *DelegatedAuth) SetHTTPClient(c *http.Client) {
	a.httpClient = c
}

// AuthenticatedClient is an HTTP client acting on behalf of one identity.
type AuthenticatedClient struct {
	Identity   string
	HTTPClient *http.Client
}

// CheckLinked returns availability.ErrNotLinked if identity has no stored
// credential.
func (a *DelegatedAuth) CheckLinked(ctx context.Context, identity string) error {
	_, err := a.credential(ctx, identity)
	return err
}

func (a *DelegatedAuth) credential(ctx context.Context, identity string) (*tokenstore.Credential, error) {
	if identity == "" {
		return nil, availability.ErrNotLinked
	}
	cred, err := a.store.Get(ctx, identity)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return nil, availability.ErrNotLinked
	}
	if err != nil {
		return nil, err
	}
	if cred.AccessToken == "" && cred.RefreshToken == "" {
		return nil, availability.ErrNotLinked
	}
	return cred, nil
}

// ForIdentity returns a client whose requests carry identity's access token.
// An expired token is refreshed on first use and the refreshed token is
// merged into the store before that request is sent. A rejected refresh
// surfaces as a *availability.ProviderError with ReasonRefreshFailed.
//
// The client is bound to ctx for token refreshes; create one per request.
func (a *DelegatedAuth) ForIdentity(ctx context.Context, identity string) (*AuthenticatedClient, error) {
	cred, err := a.credential(ctx, identity)
	if err != nil {
		return nil, err
	}

	src := &persistingTokenSource{
		ctx:      ctx,
		identity: identity,
		base:     a.conf.TokenSource(a.tokenContext(ctx), cred.Token()),
		store:    a.store,
		current:  cred.AccessToken,
		logger:   a.logger,
		metrics:  a.metrics,
	}

	return &AuthenticatedClient{
		Identity: identity,
		HTTPClient: &http.Client{
			Transport: &oauth2.Transport{
				Source: src,
				Base:   a.baseTransport(),
			},
		},
	}, nil
}

// baseTransport returns the round tripper under the oauth2 transport.
// HTTP/2 is disabled to avoid stream errors seen with the Google APIs.
func (a *DelegatedAuth) baseTransport() http.RoundTripper {
	if a.httpClient != nil && a.httpClient.Transport != nil {
		return a.httpClient.Transport
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ForceAttemptHTTP2 = false
	return t
}

// persistingTokenSource wraps the refreshing token source and writes every
// new token to the store synchronously inside Token().
type persistingTokenSource struct {
	ctx      context.Context
	identity string
	base     oauth2.TokenSource
	store    tokenstore.Store
	logger   *slog.Logger
	metrics  *instrumentation.Metrics

	mu      sync.Mutex
	current string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.base.Token()
	if err != nil {
		s.metrics.RecordOAuthTokenRefresh(s.ctx, instrumentation.ResultFailure)
		perr := classifyRefreshError(err)
		s.logger.Warn("token refresh failed",
			logging.IdentityHash(s.identity),
			slog.String("reason", string(perr.Reason)),
			logging.Err(err))
		return nil, perr
	}

	if tok.AccessToken == s.current {
		return tok, nil
	}

	if err := s.store.Put(s.ctx, s.identity, tokenstore.FromToken(tok)); err != nil {
		s.logger.Error("failed to persist refreshed token",
			logging.IdentityHash(s.identity),
			logging.Err(err))
		return nil, err
	}
	s.current = tok.AccessToken
	s.metrics.RecordOAuthTokenRefresh(s.ctx, instrumentation.ResultSuccess)
	s.logger.Debug("refreshed token persisted",
		logging.IdentityHash(s.identity),
		"expiry", tok.Expiry)
	return tok, nil
}

// classifyRefreshError treats every failure that is not a transport problem
// as a rejected refresh, including a missing refresh token.
func classifyRefreshError(err error) *availability.ProviderError {
	var re *oauth2.RetrieveError
	var ue *url.Error
	if !errors.As(err, &re) && !errors.As(err, &ue) &&
		!errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return availability.NewProviderError(availability.ProviderGoogle, availability.ReasonRefreshFailed, 0, err)
	}
	return classifyTokenError(err, availability.ReasonRefreshFailed)
}
