package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwksServer struct {
	mu     sync.Mutex
	keys   map[string]*rsa.PrivateKey
	hits   int
	server *httptest.Server
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()

	s := &jwksServer{keys: map[string]*rsa.PrivateKey{}}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.hits++

		set := jwkSet{}
		for kid, key := range s.keys {
			pub := key.Public().(*rsa.PublicKey)
			set.Keys = append(set.Keys, jwk{
				Kty: "RSA",
				Kid: kid,
				N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			})
		}
		json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(s.server.Close)

	return s
}

func (s *jwksServer) addKey(t *testing.T, kid string) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	s.mu.Lock()
	s.keys[kid] = key
	s.mu.Unlock()

	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	return signed
}

func TestVerify(t *testing.T) {
	jwks := newJWKSServer(t)
	key := jwks.addKey(t, "key-1")
	verifier := NewVerifier(jwks.server.URL, nil)

	token := signToken(t, key, "key-1", jwt.MapClaims{
		"sub":   "user_abc",
		"email": "ada@example.com",
		"name":  "Ada Lovelace",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	id, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id.UserID != "user_abc" {
		t.Errorf("expected user_abc, got %s", id.UserID)
	}
	if id.Email != "ada@example.com" || id.Name != "Ada Lovelace" {
		t.Errorf("claims not extracted: %+v", id)
	}
}

func TestVerifyNameFromGivenFamily(t *testing.T) {
	jwks := newJWKSServer(t)
	key := jwks.addKey(t, "key-1")
	verifier := NewVerifier(jwks.server.URL, nil)

	token := signToken(t, key, "key-1", jwt.MapClaims{
		"sub":         "user_abc",
		"given_name":  "Ada",
		"family_name": "Lovelace",
		"exp":         time.Now().Add(time.Hour).Unix(),
	})

	id, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id.Name != "Ada Lovelace" {
		t.Errorf("expected name assembled from parts, got %q", id.Name)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	jwks := newJWKSServer(t)
	key := jwks.addKey(t, "key-1")
	verifier := NewVerifier(jwks.server.URL, nil)

	token := signToken(t, key, "key-1", jwt.MapClaims{
		"sub": "user_abc",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := verifier.Verify(context.Background(), token)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	jwks := newJWKSServer(t)
	jwks.addKey(t, "key-1")
	verifier := NewVerifier(jwks.server.URL, nil)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	token := signToken(t, otherKey, "key-1", jwt.MapClaims{
		"sub": "user_abc",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err = verifier.Verify(context.Background(), token)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestVerifyRejectsMissingSub(t *testing.T) {
	jwks := newJWKSServer(t)
	key := jwks.addKey(t, "key-1")
	verifier := NewVerifier(jwks.server.URL, nil)

	token := signToken(t, key, "key-1", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := verifier.Verify(context.Background(), token)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	verifier := NewVerifier("http://unused.invalid", nil)

	_, err := verifier.Verify(context.Background(), "")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestVerifyKeyRotation(t *testing.T) {
	jwks := newJWKSServer(t)
	oldKey := jwks.addKey(t, "key-old")
	verifier := NewVerifier(jwks.server.URL, nil)

	token := signToken(t, oldKey, "key-old", jwt.MapClaims{
		"sub": "user_abc",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := verifier.Verify(context.Background(), token); err != nil {
		t.Fatalf("Verify with initial key failed: %v", err)
	}

	// The provider rotates; a token under a kid not yet cached must
	// trigger a refetch rather than wait for the TTL.
	newKey := jwks.addKey(t, "key-new")
	rotated := signToken(t, newKey, "key-new", jwt.MapClaims{
		"sub": "user_abc",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := verifier.Verify(context.Background(), rotated); err != nil {
		t.Fatalf("Verify after rotation failed: %v", err)
	}

	jwks.mu.Lock()
	hits := jwks.hits
	jwks.mu.Unlock()
	if hits < 2 {
		t.Errorf("expected a second JWKS fetch for the unknown kid, got %d hits", hits)
	}
}

func TestVerifyCachesKeys(t *testing.T) {
	jwks := newJWKSServer(t)
	key := jwks.addKey(t, "key-1")
	verifier := NewVerifier(jwks.server.URL, nil)

	for i := 0; i < 3; i++ {
		token := signToken(t, key, "key-1", jwt.MapClaims{
			"sub": "user_abc",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		if _, err := verifier.Verify(context.Background(), token); err != nil {
			t.Fatalf("Verify %d failed: %v", i, err)
		}
	}

	jwks.mu.Lock()
	hits := jwks.hits
	jwks.mu.Unlock()
	if hits != 1 {
		t.Errorf("expected a single JWKS fetch, got %d", hits)
	}
}
