package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opencoding/backend/internal/metrics"
	"github.com/opencoding/backend/pkg/retry"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the minimal caller identity the rest of the system sees.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Verifier validates bearer tokens against the identity provider's
// published signing keys. The audience claim is deliberately not checked;
// the provider does not always set it.
type Verifier struct {
	parser *jwt.Parser
	jwks   *jwksCache
}

func NewVerifier(jwksURL string, httpClient *http.Client) *Verifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Verifier{
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"RS256", "ES256"})),
		jwks:   newJWKSCache(jwksURL, httpClient),
	}
}

// Verify checks the token's signature and time claims and returns the
// resolved identity. Every failure maps to ErrUnauthenticated.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthenticated)
	}

	claims := jwt.MapClaims{}
	tok, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("missing kid")
		}
		return v.jwks.getKey(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if tok == nil || !tok.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthenticated)
	}

	id := &Identity{UserID: sub}
	if e, _ := claims["email"].(string); e != "" {
		id.Email = e
	}
	if n, _ := claims["name"].(string); n != "" {
		id.Name = n
	} else {
		first, _ := claims["given_name"].(string)
		last, _ := claims["family_name"].(string)
		id.Name = strings.TrimSpace(first + " " + last)
	}

	return id, nil
}

// jwksCache holds the provider's keys by kid. A lookup for an unknown kid
// refreshes the set, so provider key rotation recovers without a restart.

type jwksCache struct {
	url        string
	httpClient *http.Client

	mu        sync.RWMutex
	keys      map[string]interface{} // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	fetchedAt time.Time
	ttl       time.Duration
}

func newJWKSCache(url string, httpClient *http.Client) *jwksCache {
	return &jwksCache{
		url:        url,
		httpClient: httpClient,
		keys:       map[string]interface{}{},
		ttl:        6 * time.Hour,
	}
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`

	// RSA
	N string `json:"n"`
	E string `json:"e"`

	// EC
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (j *jwksCache) getKey(ctx context.Context, kid string) (interface{}, error) {
	j.mu.RLock()
	key := j.keys[kid]
	stale := time.Since(j.fetchedAt) > j.ttl
	j.mu.RUnlock()

	if key != nil && !stale {
		return key, nil
	}
	if strings.TrimSpace(j.url) == "" {
		return nil, errors.New("jwks url not configured")
	}

	if err := j.refresh(ctx); err != nil {
		// A stale key beats no key if the provider is unreachable.
		j.mu.RLock()
		key = j.keys[kid]
		j.mu.RUnlock()
		if key != nil {
			return key, nil
		}
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	key = j.keys[kid]
	if key == nil {
		return nil, fmt.Errorf("kid not found in jwks: %s", kid)
	}
	return key, nil
}

func (j *jwksCache) refresh(ctx context.Context) error {
	var set jwkSet

	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
		if err != nil {
			return err
		}
		res, err := j.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return fmt.Errorf("jwks fetch failed: %s", res.Status)
		}
		return json.NewDecoder(res.Body).Decode(&set)
	})
	if err != nil {
		metrics.JWKSRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to refresh jwks: %w", err)
	}

	next := map[string]interface{}{}
	for _, k := range set.Keys {
		if strings.TrimSpace(k.Kid) == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			if pub, err := rsaFromModExp(k.N, k.E); err == nil {
				next[k.Kid] = pub
			}
		case "EC":
			if pub, err := ecdsaFromXY(k.Crv, k.X, k.Y); err == nil {
				next[k.Kid] = pub
			}
		}
	}

	if len(next) == 0 {
		metrics.JWKSRefreshes.WithLabelValues("error").Inc()
		return errors.New("jwks contained no usable keys")
	}

	j.mu.Lock()
	j.keys = next
	j.fetchedAt = time.Now()
	j.mu.Unlock()

	metrics.JWKSRefreshes.WithLabelValues("ok").Inc()
	return nil
}

func rsaFromModExp(nB64, eB64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}

	n := new(big.Int).SetBytes(nb)
	e := 0
	for _, b := range eb {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, errors.New("invalid exponent")
	}

	return &rsa.PublicKey{N: n, E: e}, nil
}

func ecdsaFromXY(crv, xB64, yB64 string) (*ecdsa.PublicKey, error) {
	if crv != "P-256" {
		return nil, fmt.Errorf("unsupported curve: %s", crv)
	}

	xb, err := base64.RawURLEncoding.DecodeString(xB64)
	if err != nil {
		return nil, err
	}
	yb, err := base64.RawURLEncoding.DecodeString(yB64)
	if err != nil {
		return nil, err
	}

	x := new(big.Int).SetBytes(xb)
	y := new(big.Int).SetBytes(yb)

	if !elliptic.P256().IsOnCurve(x, y) {
		return nil, errors.New("invalid EC point")
	}

	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}
