// Package auth verifies bearer tokens issued by the external identity provider. The gateway never issues
// credentials; it only checks signatures, issuer, and audience on tokens presented over the WebSocket handshake.
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/riverpile/riverpile-gateway/internal/config"
)

// ErrNoKeySource is returned when no verification key can be selected for a token: no static key, no shared secret,
// and no identity provider configured (or the token demands a mode that is not available).
var ErrNoKeySource = errors.New("no verification key source for token")

// Verifier validates access tokens. Key sources are tried in a fixed order: a statically configured public key, a
// kid-matched provider key from the JWKS endpoint, the HS256 shared secret, and finally the realm's public key.
type Verifier struct {
	staticKey *rsa.PublicKey
	secret    string
	issuer    string
	audience  string
	source    *keySource // nil when no provider is configured
}

// NewVerifier builds a Verifier from configuration. A configured JWT_PUBLIC_KEY that does not parse is a startup
// error rather than a per-token one.
func NewVerifier(cfg *config.Config) (*Verifier, error) {
	v := &Verifier{
		secret:   cfg.JWTHS256Secret,
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
	}

	if cfg.JWTPublicKey != "" {
		key, err := ParsePublicKeyPEM(cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("parse JWT_PUBLIC_KEY: %w", err)
		}
		v.staticKey = key
	}

	if cfg.AuthBaseURL != "" {
		v.source = newKeySource(cfg.AuthBaseURL, cfg.AuthRealm, cfg.JWKSCacheTTL)
	}

	return v, nil
}

// Verify parses and validates the token, returning its claims. Expiry and signature failures are permanent for the
// token; an unreachable identity provider is transient.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.keyFor(ctx, t)
	}, opts...)
	if err != nil {
		return nil, err
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// keyFor selects the verification key for a parsed token header. HS256 is only accepted when the chosen key is the
// shared secret and the header carries no kid; every other path verifies RS256.
func (v *Verifier) keyFor(ctx context.Context, t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)

	if v.staticKey != nil {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("static key requires RS256, got %v", t.Header["alg"])
		}
		return v.staticKey, nil
	}

	if kid != "" && v.source != nil {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("provider key requires RS256, got %v", t.Header["alg"])
		}
		return v.source.byKid(ctx, kid)
	}

	if v.secret != "" && kid == "" {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("shared secret requires HS256, got %v", t.Header["alg"])
		}
		return []byte(v.secret), nil
	}

	if v.source != nil {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("realm key requires RS256, got %v", t.Header["alg"])
		}
		return v.source.realmKey(ctx)
	}

	return nil, ErrNoKeySource
}

// SignHS256 creates an HS256 token with the given subject and lifetime. Only tests and local tooling use it; the
// production issuer lives outside the gateway.
func SignHS256(secret, subject, issuer string, ttl time.Duration, extra map[string]string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	for k, val := range extra {
		claims[k] = val
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
