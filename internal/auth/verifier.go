// Package auth verifies bearer tokens issued by the external identity provider.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/dvloznov/payscan/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const jwksPath = "/.well-known/jwks.json"

// TokenVerifier turns a raw bearer token into a caller identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Verifier checks RS256 tokens against the issuer's JSON Web Key Set. The key
// set is fetched once on creation and refreshed in the background; an unknown
// kid triggers a rate-limited refresh.
type Verifier struct {
	issuer string
	keys   keyfunc.Keyfunc
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock replaces the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a verifier for tokens issued by issuerURL. Background
// key refreshes stop when ctx is cancelled.
func NewVerifier(ctx context.Context, issuerURL string, opts ...Option) (*Verifier, error) {
	issuer := strings.TrimRight(issuerURL, "/")
	keys, err := keyfunc.NewDefaultCtx(ctx, []string{issuer + jwksPath})
	if err != nil {
		return nil, fmt.Errorf("NewVerifier: loading key set: %w", err)
	}

	v := &Verifier{
		issuer: issuer,
		keys:   keys,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify validates signature, issuer and expiry and returns the subject.
// Every failure wraps domain.ErrUnauthenticated.
func (v *Verifier) Verify(ctx context.Context, raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, domain.ErrUnauthenticated
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, v.keys.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthenticated)
	}

	return Identity{Subject: claims.Subject}, nil
}
