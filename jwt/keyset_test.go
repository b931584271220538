// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyID = "test-key"

func testJWTClaims() map[string]interface{} {
	return map[string]interface{}{
		"iss": "https://example.com/",
		"sub": "alice@example.com",
		"aud": "client-id",
		"exp": float64(time.Now().Add(time.Hour).Unix()),
	}
}

func testSignJWT(t *testing.T, key crypto.PrivateKey, alg Alg, kid string, claims map[string]interface{}) string {
	t.Helper()
	opts := (&jose.SignerOptions{}).WithType("JWT")
	if kid != "" {
		opts = opts.WithHeader("kid", kid)
	}
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: key}, opts)
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	jws, err := sig.Sign(payload)
	require.NoError(t, err)
	raw, err := jws.CompactSerialize()
	require.NoError(t, err)
	return raw
}

func testUnsignedJWT(t *testing.T, alg Alg, kid string, claims map[string]interface{}) string {
	t.Helper()
	h, err := json.Marshal(Header{Alg: alg, KeyID: kid})
	require.NoError(t, err)
	p, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(h) + "." + base64.RawURLEncoding.EncodeToString(p) + ".c2ln"
}

func testPublicKeyPEM(t *testing.T, pub crypto.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// testJWKSServer serves a mutable JWKS and counts fetches.
type testJWKSServer struct {
	*httptest.Server
	mu      sync.Mutex
	keys    []jose.JSONWebKey
	status  int
	fetches int32
}

func newTestJWKSServer(t *testing.T) *testJWKSServer {
	t.Helper()
	s := &testJWKSServer{status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.fetches, 1)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.status != http.StatusOK {
			w.WriteHeader(s.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: s.keys})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testJWKSServer) setKeys(keys ...jose.JSONWebKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

func (s *testJWKSServer) setStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *testJWKSServer) fetchCount() int32 {
	return atomic.LoadInt32(&s.fetches)
}

func TestJSONWebKeySet_VerifySignature(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name    string
		priv    crypto.PrivateKey
		pub     crypto.PublicKey
		alg     Alg
		wantErr error
	}{
		{name: "RS256", priv: rsaKey, pub: rsaKey.Public(), alg: RS256},
		{name: "PS512", priv: rsaKey, pub: rsaKey.Public(), alg: PS512},
		{name: "ES384", priv: ecKey, pub: ecKey.Public(), alg: ES384},
		{name: "EdDSA", priv: edPriv, pub: edPub, alg: EdDSA},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			srv := newTestJWKSServer(t)
			srv.setKeys(jose.JSONWebKey{Key: tt.pub, KeyID: testKeyID, Algorithm: string(tt.alg), Use: "sig"})
			ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()))
			require.NoError(err)

			want := testJWTClaims()
			claims, err := ks.VerifySignature(ctx, testSignJWT(t, tt.priv, tt.alg, testKeyID, want))
			require.NoError(err)
			assert.Equal(want, claims)
		})
	}

	t.Run("errors", func(t *testing.T) {
		t.Parallel()
		srv := newTestJWKSServer(t)
		srv.setKeys(jose.JSONWebKey{Key: rsaKey.Public(), KeyID: testKeyID, Algorithm: string(RS256), Use: "sig"})
		ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()), WithSigningAlgs(RS256))
		require.NoError(t, err)
		otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)

		tests := []struct {
			name    string
			token   string
			wantErr error
		}{
			{name: "malformed", token: "not.a-token", wantErr: ErrMalformedToken},
			{name: "wrong-key", token: testSignJWT(t, otherKey, RS256, testKeyID, testJWTClaims()), wantErr: ErrInvalidSignature},
			{name: "alg-not-accepted", token: testSignJWT(t, rsaKey, PS256, testKeyID, testJWTClaims()), wantErr: ErrUnsupportedAlg},
			{name: "unknown-kid", token: testSignJWT(t, rsaKey, RS256, "nope", testJWTClaims()), wantErr: ErrKeyNotFound},
			{name: "none", token: testUnsignedJWT(t, "none", testKeyID, testJWTClaims()), wantErr: ErrUnsupportedAlg},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert, require := assert.New(t), require.New(t)
				_, err := ks.VerifySignature(ctx, tt.token)
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
			})
		}
	})

	t.Run("fetch-failure", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		srv := newTestJWKSServer(t)
		srv.setStatus(http.StatusNotFound)
		ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()))
		require.NoError(err)
		_, err = ks.VerifySignature(ctx, testSignJWT(t, rsaKey, RS256, testKeyID, testJWTClaims()))
		require.Error(err)
		assert.ErrorIs(err, ErrKeySetFetch)
	})
}

func TestJSONWebKeySet_Caching(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	key1, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key2, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	t.Run("cached-until-ttl", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		srv := newTestJWKSServer(t)
		srv.setKeys(jose.JSONWebKey{Key: key1.Public(), KeyID: "k1", Use: "sig"})
		now := time.Now()
		var mu sync.Mutex
		clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
		ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()), WithCacheTTL(time.Minute), WithNow(clock))
		require.NoError(err)

		token := testSignJWT(t, key1, RS256, "k1", testJWTClaims())
		for i := 0; i < 3; i++ {
			_, err := ks.VerifySignature(ctx, token)
			require.NoError(err)
		}
		assert.Equal(int32(1), srv.fetchCount())

		mu.Lock()
		now = now.Add(2 * time.Minute)
		mu.Unlock()
		_, err = ks.VerifySignature(ctx, token)
		require.NoError(err)
		assert.Equal(int32(2), srv.fetchCount())
	})

	t.Run("unknown-kid-refetched-once", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		srv := newTestJWKSServer(t)
		srv.setKeys(jose.JSONWebKey{Key: key1.Public(), KeyID: "k1", Use: "sig"})
		ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()))
		require.NoError(err)

		_, err = ks.VerifySignature(ctx, testSignJWT(t, key1, RS256, "k1", testJWTClaims()))
		require.NoError(err)
		require.Equal(int32(1), srv.fetchCount())

		// the provider rotates in a new key
		srv.setKeys(
			jose.JSONWebKey{Key: key1.Public(), KeyID: "k1", Use: "sig"},
			jose.JSONWebKey{Key: key2.Public(), KeyID: "k2", Use: "sig"},
		)
		_, err = ks.VerifySignature(ctx, testSignJWT(t, key2, RS256, "k2", testJWTClaims()))
		require.NoError(err)
		assert.Equal(int32(2), srv.fetchCount())

		// an unknown kid refetches once and then is served from the cache
		bogus := testSignJWT(t, key2, RS256, "bogus", testJWTClaims())
		for i := 0; i < 3; i++ {
			_, err = ks.VerifySignature(ctx, bogus)
			assert.ErrorIs(err, ErrKeyNotFound)
		}
		assert.Equal(int32(3), srv.fetchCount())
	})

	t.Run("encryption-keys-ignored", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		srv := newTestJWKSServer(t)
		srv.setKeys(jose.JSONWebKey{Key: key1.Public(), KeyID: "k1", Use: "enc"})
		ks, err := NewJSONWebKeySet(srv.URL, WithHTTPClient(srv.Client()))
		require.NoError(err)
		_, err = ks.VerifySignature(ctx, testSignJWT(t, key1, RS256, "k1", testJWTClaims()))
		assert.ErrorIs(err, ErrKeyNotFound)
	})
}

func TestNewJSONWebKeySet(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	_, err := NewJSONWebKeySet("")
	assert.ErrorIs(err, ErrInvalidParameter)
	_, err = NewJSONWebKeySet("https://example.com/jwks", WithSigningAlgs("none"))
	assert.ErrorIs(err, ErrUnsupportedAlg)
}

func TestStaticKeySet_VerifySignature(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	ks, err := NewStaticKeySet([]string{
		testPublicKeyPEM(t, rsaKey.Public()),
		testPublicKeyPEM(t, ecKey.Public()),
		testPublicKeyPEM(t, edPub),
	})
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := testJWTClaims()
		for _, token := range []string{
			testSignJWT(t, rsaKey, RS256, "", want),
			testSignJWT(t, ecKey, ES256, "", want),
			testSignJWT(t, edPriv, EdDSA, "", want),
		} {
			got, err := ks.VerifySignature(ctx, token)
			require.NoError(err)
			assert.Equal(want, got)
		}
	})
	t.Run("unknown-key", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(err)
		_, err = ks.VerifySignature(ctx, testSignJWT(t, other, ES256, "", testJWTClaims()))
		assert.ErrorIs(err, ErrInvalidSignature)
	})
	t.Run("bad-pem", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewStaticKeySet([]string{"not a pem"})
		assert.ErrorIs(err, ErrInvalidParameter)
		_, err = NewStaticKeySet(nil)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestSecretKeySet_VerifySignature(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const secret = "client-secret-that-is-long-enough-for-hs512-signatures-0123456789"

	ks, err := NewSecretKeySet(secret)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := testJWTClaims()
		for _, alg := range []Alg{HS256, HS384, HS512} {
			got, err := ks.VerifySignature(ctx, testSignJWT(t, []byte(secret), alg, "", want))
			require.NoError(err, alg)
			assert.Equal(want, got)
		}
	})
	t.Run("wrong-secret", func(t *testing.T) {
		assert := assert.New(t)
		_, err := ks.VerifySignature(ctx, testSignJWT(t, []byte("another-secret-which-is-long-enough-0123456789"), HS256, "", testJWTClaims()))
		assert.ErrorIs(err, ErrInvalidSignature)
	})
	t.Run("asymmetric-token-rejected", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(err)
		_, err = ks.VerifySignature(ctx, testSignJWT(t, k, RS256, "", testJWTClaims()))
		assert.ErrorIs(err, ErrUnsupportedAlg)
	})
	t.Run("invalid", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewSecretKeySet("")
		assert.ErrorIs(err, ErrInvalidParameter)
		_, err = NewSecretKeySet(secret, WithSigningAlgs(RS256))
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestParseHeader(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		token   string
		want    *Header
		wantErr bool
	}{
		{name: "valid", token: testUnsignedJWT(t, RS256, "kid-1", testJWTClaims()), want: &Header{Alg: RS256, KeyID: "kid-1"}},
		{name: "two-parts", token: "a.b", wantErr: true},
		{name: "bad-base64", token: "!!.b.c", wantErr: true},
		{name: "not-json", token: base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".b.c", wantErr: true},
		{name: "missing-alg", token: base64.RawURLEncoding.EncodeToString([]byte(`{"kid":"x"}`)) + ".b.c", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := ParseHeader(tt.token)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, ErrMalformedToken)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}
