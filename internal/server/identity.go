package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityHeader carries the caller identity when no JWT secret is set.
const IdentityHeader = "X-Identity"

// stateTTL bounds how long a signed OAuth state stays valid.
const stateTTL = 10 * time.Minute

// stateAudience marks OAuth state tokens. Bearer tokens carrying it are
// rejected so a leaked state cannot be replayed against the API.
const stateAudience = "google-link"

var (
	// ErrMissingIdentity means the request carried no identity.
	ErrMissingIdentity = errors.New("missing identity")

	// ErrBadToken means a bearer token or state failed verification.
	ErrBadToken = errors.New("invalid token")
)

type ctxKey int

const (
	identityKey ctxKey = iota
	requestIDKey
)

// WithIdentity returns ctx carrying identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the identity set by the identity middleware.
func IdentityFromContext(ctx context.Context) string {
	v, _ := ctx.Value(identityKey).(string)
	return v
}

// WithRequestID returns ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// IdentityVerifier extracts the subject from HS256 bearer tokens.
type IdentityVerifier struct {
	secret []byte
}

// NewIdentityVerifier returns a verifier for secret, or nil if secret is empty.
func NewIdentityVerifier(secret string) *IdentityVerifier {
	if secret == "" {
		return nil
	}
	return &IdentityVerifier{secret: []byte(secret)}
}

// Verify parses raw and returns its sub claim.
func (v *IdentityVerifier) Verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if !tok.Valid || claims.Subject == "" {
		return "", ErrBadToken
	}
	if slices.Contains(claims.Audience, stateAudience) {
		return "", fmt.Errorf("%w: oauth state is not a bearer token", ErrBadToken)
	}
	return claims.Subject, nil
}

func (v *IdentityVerifier) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ErrBadToken
	}
	return v.secret, nil
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// StateSigner binds the OAuth state parameter to an identity so a callback
// cannot link a calendar to someone else.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

// NewStateSigner returns a signer for secret, or nil if secret is empty.
// States are signed with a key derived from secret, never with secret
// itself.
func NewStateSigner(secret string) *StateSigner {
	if secret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("slotfinder oauth state"))
	return &StateSigner{secret: mac.Sum(nil), now: time.Now}
}

// Sign returns a short-lived state token for identity.
func (s *StateSigner) Sign(identity string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   identity,
		Audience:  jwt.ClaimStrings{stateAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify returns the identity bound into state.
func (s *StateSigner) Verify(state string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrBadToken
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(stateAudience),
		jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if !tok.Valid || claims.Subject == "" {
		return "", ErrBadToken
	}
	return claims.Subject, nil
}
