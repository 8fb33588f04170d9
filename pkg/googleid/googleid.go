// Package googleid verifies Google ID tokens for the federated sign-in flow.
// Tokens are RS256-signed JWTs validated against Google's published JWKS.
package googleid

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CertsURL is Google's JWKS endpoint for ID token signing keys.
const CertsURL = "https://www.googleapis.com/oauth2/v3/certs"

var (
	ErrInvalidToken = errors.New("googleid: invalid token")
	ErrUnknownKID   = errors.New("googleid: unknown kid")
)

// Identity is the subset of ID token claims the portal consumes.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Verifier validates a Google ID token and extracts the holder's identity.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (Identity, error)
}

// KeySource resolves the current RSA signing keys by kid.
type KeySource interface {
	Keys(ctx context.Context) (map[string]*rsa.PublicKey, error)
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// remoteKeySource fetches and caches Google's JWKS.
type remoteKeySource struct {
	url    string
	client *http.Client
	ttl    time.Duration

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
}

func newRemoteKeySource(url string, client *http.Client) *remoteKeySource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &remoteKeySource{url: url, client: client, ttl: time.Hour}
}

func (s *remoteKeySource) Keys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys != nil && time.Now().Before(s.expires) {
		return s.keys, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("googleid: build jwks request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("googleid: fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("googleid: jwks endpoint returned %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("googleid: decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("googleid: jwks contained no usable RSA keys")
	}

	s.keys = keys
	s.expires = time.Now().Add(s.ttl)
	return keys, nil
}

func (k jwk) publicKey() (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}

// StaticKeySource serves a fixed key set, for tests.
type StaticKeySource map[string]*rsa.PublicKey

func (s StaticKeySource) Keys(context.Context) (map[string]*rsa.PublicKey, error) {
	return s, nil
}

type tokenClaims struct {
	jwt.RegisteredClaims

	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// TokenVerifier validates RS256 ID tokens against a key source.
type TokenVerifier struct {
	clientID string
	keys     KeySource
}

// New returns a verifier backed by Google's JWKS endpoint.
func New(clientID string) *TokenVerifier {
	return NewWithKeySource(clientID, newRemoteKeySource(CertsURL, nil))
}

// NewWithKeySource returns a verifier using a custom key source.
func NewWithKeySource(clientID string, keys KeySource) *TokenVerifier {
	return &TokenVerifier{clientID: clientID, keys: keys}
}

func (v *TokenVerifier) Verify(ctx context.Context, idToken string) (Identity, error) {
	keys, err := v.keys.Keys(ctx)
	if err != nil {
		return Identity{}, err
	}

	claims := &tokenClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)

	token, err := parser.ParseWithClaims(idToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := keys[kid]
		if !ok {
			return nil, ErrUnknownKID
		}
		return key, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	// Google issues tokens under both issuer spellings.
	if iss := claims.Issuer; iss != "accounts.google.com" && iss != "https://accounts.google.com" {
		return Identity{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, iss)
	}
	if claims.Email == "" {
		return Identity{}, fmt.Errorf("%w: token carries no email", ErrInvalidToken)
	}

	return Identity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}
