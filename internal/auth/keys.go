package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// ErrKeyNotFound is returned when the identity provider's JWKS does not contain the requested kid. It is permanent
// for the token that referenced the kid.
var ErrKeyNotFound = errors.New("no matching key id in provider key set")

// keySource fetches and caches RSA verification keys from the identity provider. Entries carry a TTL so rotated
// keys are eventually refetched; an unknown kid always triggers a fetch, which doubles as rotation handling.
type keySource struct {
	baseURL string
	realm   string
	ttl     time.Duration
	client  *http.Client

	mu   sync.RWMutex
	keys map[string]cachedKey // kid -> key; the realm key is cached under ""
}

type cachedKey struct {
	key       *rsa.PublicKey
	fetchedAt time.Time
}

func newKeySource(baseURL, realm string, ttl time.Duration) *keySource {
	return &keySource{
		baseURL: baseURL,
		realm:   realm,
		ttl:     ttl,
		client:  &http.Client{Timeout: 10 * time.Second},
		keys:    make(map[string]cachedKey),
	}
}

// jwksDocument is the subset of the JWKS response the gateway reads. Keys are matched by kid; the certificate chain
// is preferred over the raw modulus when present.
type jwksDocument struct {
	Keys []struct {
		Kid string   `json:"kid"`
		Kty string   `json:"kty"`
		N   string   `json:"n"`
		E   string   `json:"e"`
		X5C []string `json:"x5c"`
	} `json:"keys"`
}

// realmDocument is the realm descriptor exposed at the provider root; PublicKey is a bare base64 SPKI body.
type realmDocument struct {
	PublicKey string `json:"public_key"`
}

// byKid returns the verification key for the given kid, fetching the provider JWKS when the cache has no fresh
// entry. Concurrent first fetches may race; the last writer wins and both writers arrive at the same key.
func (s *keySource) byKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := s.cached(kid); ok {
		return key, nil
	}

	url := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", s.baseURL, s.realm)
	var doc jwksDocument
	if err := s.fetchJSON(ctx, url, &doc); err != nil {
		return nil, fmt.Errorf("fetch provider JWKS: %w", err)
	}

	var found *rsa.PublicKey
	for _, k := range doc.Keys {
		if k.Kty != "" && k.Kty != "RSA" {
			continue
		}
		key, err := jwkToRSA(k.X5C, k.N, k.E)
		if err != nil {
			continue
		}
		s.store(k.Kid, key)
		if k.Kid == kid {
			found = key
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
	}
	return found, nil
}

// realmKey returns the realm's public key, fetching the realm descriptor when the cache has no fresh entry.
func (s *keySource) realmKey(ctx context.Context) (*rsa.PublicKey, error) {
	if key, ok := s.cached(""); ok {
		return key, nil
	}

	url := fmt.Sprintf("%s/realms/%s", s.baseURL, s.realm)
	var doc realmDocument
	if err := s.fetchJSON(ctx, url, &doc); err != nil {
		return nil, fmt.Errorf("fetch realm descriptor: %w", err)
	}
	if doc.PublicKey == "" {
		return nil, fmt.Errorf("realm descriptor has no public key")
	}

	key, err := ParsePublicKeyPEM(doc.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("parse realm public key: %w", err)
	}
	s.store("", key)
	return key, nil
}

func (s *keySource) cached(kid string) (*rsa.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.keys[kid]
	if !ok || time.Since(entry.fetchedAt) > s.ttl {
		return nil, false
	}
	return entry.key, true
}

func (s *keySource) store(kid string, key *rsa.PublicKey) {
	s.mu.Lock()
	s.keys[kid] = cachedKey{key: key, fetchedAt: time.Now()}
	s.mu.Unlock()
}

func (s *keySource) fetchJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// jwkToRSA builds an RSA public key from a JWKS entry, preferring the leaf certificate over the raw modulus.
func jwkToRSA(x5c []string, n, e string) (*rsa.PublicKey, error) {
	if len(x5c) > 0 {
		der, err := base64.StdEncoding.DecodeString(x5c[0])
		if err != nil {
			return nil, fmt.Errorf("decode certificate: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		key, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("certificate key is not RSA")
		}
		return key, nil
	}

	if n == "" || e == "" {
		return nil, fmt.Errorf("JWK entry has neither certificate nor modulus")
	}
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}

// ParsePublicKeyPEM parses a PEM-encoded RSA public key. A bare base64 body (no PEM armor) is wrapped first, since
// identity providers commonly hand out the key without headers.
func ParsePublicKeyPEM(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		wrapped := "-----BEGIN PUBLIC KEY-----\n" + raw + "\n-----END PUBLIC KEY-----"
		block, _ = pem.Decode([]byte(wrapped))
	}
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKIX key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key is not RSA")
	}
	return key, nil
}
