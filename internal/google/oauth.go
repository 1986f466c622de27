package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/slotfinder/internal/availability"
	"github.com/teemow/slotfinder/internal/instrumentation"
	"github.com/teemow/slotfinder/internal/logging"
	"github.com/teemow/slotfinder/internal/tokenstore"
)

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Endpoint overrides google.Endpoint; used by tests.
	Endpoint *oauth2.Endpoint
}

// Validate checks that the client registration is complete.
func (c Config) Validate() error {
	switch {
	case c.ClientID == "":
		return errors.New("google client id is required")
	case c.ClientSecret == "":
		return errors.New("google client secret is required")
	case c.RedirectURL == "":
		return errors.New("google redirect uri is required")
	}
	return nil
}

// OAuth2Config builds the oauth2.Config for c.
func (c Config) OAuth2Config() *oauth2.Config {
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	endpoint := google.Endpoint
	if c.Endpoint != nil {
		endpoint = *c.Endpoint
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}
}

// AuthURL returns the consent URL for linking a calendar. It always requests
// offline access and forces the consent screen so Google issues a refresh
// token even if the user consented before. state is echoed to the callback.
func (a *DelegatedAuth) AuthURL(state string) string {
	return a.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Link exchanges an authorization code and stores the resulting credential
// for identity.
func (a *DelegatedAuth) Link(ctx context.Context, identity, code string) error {
	if identity == "" {
		return tokenstore.ErrEmptyIdentity
	}
	if code == "" {
		return errors.New("authorization code cannot be empty")
	}

	start := time.Now()
	tok, err := a.conf.Exchange(a.tokenContext(ctx), code)
	if err != nil {
		perr := classifyTokenError(err, availability.ReasonUnauthorized)
		a.metrics.RecordProviderOperation(ctx, availability.ProviderGoogle, instrumentation.OperationExchange, string(perr.Reason), time.Since(start))
		return perr
	}
	a.metrics.RecordProviderOperation(ctx, availability.ProviderGoogle, instrumentation.OperationExchange, instrumentation.StatusSuccess, time.Since(start))

	if err := a.store.Put(ctx, identity, tokenstore.FromToken(tok)); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	a.logger.Info("calendar linked",
		logging.IdentityHash(identity),
		"has_refresh_token", tok.RefreshToken != "")
	return nil
}

// Unlink removes the stored credential for identity.
func (a *DelegatedAuth) Unlink(ctx context.Context, identity string) error {
	if err := a.store.Delete(ctx, identity); err != nil {
		return fmt.Errorf("failed to remove credential: %w", err)
	}
	a.logger.Info("calendar unlinked", logging.IdentityHash(identity))
	return nil
}

// tokenContext makes the oauth2 package use the configured HTTP client for
// token endpoint calls.
func (a *DelegatedAuth) tokenContext(ctx context.Context) context.Context {
	if a.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}
	return ctx
}

// classifyTokenError maps a token endpoint failure to a ProviderError. A
// 4xx answer from the token endpoint gets rejected, everything else keeps
// its transport meaning.
func classifyTokenError(err error, rejected availability.Reason) *availability.ProviderError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		reason := rejected
		if status >= http.StatusInternalServerError {
			reason = availability.ReasonUpstream
		}
		return availability.NewProviderError(availability.ProviderGoogle, reason, status, err).WithDetail(re.ErrorCode)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return availability.NewProviderError(availability.ProviderGoogle, availability.ReasonTimeout, 0, err)
	}
	if errors.Is(err, context.Canceled) {
		return availability.NewProviderError(availability.ProviderGoogle, availability.ReasonCanceled, 0, err)
	}

	var ue interface{ Timeout() bool }
	if errors.As(err, &ue) && ue.Timeout() {
		return availability.NewProviderError(availability.ProviderGoogle, availability.ReasonTimeout, 0, err)
	}

	return availability.NewProviderError(availability.ProviderGoogle, availability.ReasonUpstream, 0, err)
}
