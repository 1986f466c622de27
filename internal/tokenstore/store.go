// Package tokenstore persists delegated OAuth credentials keyed by identity.
//
// Every backend implements Put as a merge: fields left empty in the partial
// credential keep their stored value. Refresh responses that omit the
// refresh token therefore never erase it.
package tokenstore

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrNotFound is returned by Get when no credential is stored.
	ErrNotFound = errors.New("credential not found")

	// ErrEmptyIdentity is returned when an operation is given an empty identity.
	ErrEmptyIdentity = errors.New("identity cannot be empty")
)

// Credential is the OAuth token material stored for one identity.
type Credential struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Merge returns c with every non-empty field of partial applied on top.
func (c Credential) Merge(partial Credential) Credential {
	if partial.AccessToken != "" {
		c.AccessToken = partial.AccessToken
	}
	if partial.RefreshToken != "" {
		c.RefreshToken = partial.RefreshToken
	}
	if partial.TokenType != "" {
		c.TokenType = partial.TokenType
	}
	if !partial.Expiry.IsZero() {
		c.Expiry = partial.Expiry
	}
	return c
}

// IsZero reports whether no field is set.
func (c Credential) IsZero() bool {
	return c == Credential{}
}

// Token converts the credential to an oauth2.Token.
func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// FromToken converts an oauth2.Token to a partial credential.
func FromToken(t *oauth2.Token) Credential {
	if t == nil {
		return Credential{}
	}
	return Credential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

// Store is a credential store keyed by identity.
//
// Put must apply the merge atomically with respect to other Puts for the
// same identity; concurrent writers must not interleave at field level.
type Store interface {
	Get(ctx context.Context, identity string) (*Credential, error)
	Put(ctx context.Context, identity string, partial Credential) error
	Delete(ctx context.Context, identity string) error
	Ping(ctx context.Context) error
	Close() error
}

func expiryToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToExpiry(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
