// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/rpsession/jwt"
	"github.com/hashicorp/rpsession/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testJWTAssertion signs a private_key_jwt client assertion for the test
// provider's token endpoint.
type testJWTAssertion struct {
	t   *testing.T
	key *rsa.PrivateKey
	aud string
}

func (a *testJWTAssertion) Serialize() (string, error) {
	now := time.Now()
	return TestSignJWT(a.t, a.key, string(jwt.RS256), "client-key", map[string]interface{}{
		"iss": TestClientID,
		"sub": TestClientID,
		"aud": a.aud,
		"jti": mustID(a.t, "jti"),
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	}), nil
}

// testAuthorize starts a flow with AuthURL and follows it through the test
// provider.
func testAuthorize(t *testing.T, tp *TestProvider, p *Provider, transient store.Store, opt ...Option) (code, state string) {
	t.Helper()
	authURL, err := p.AuthURL(context.Background(), transient, opt...)
	require.NoError(t, err)
	return tp.Authorize(t, authURL)
}

func requireTransientCleared(t *testing.T, transient store.Store) {
	t.Helper()
	for _, k := range transientKeys {
		_, err := transient.Get(context.Background(), k)
		require.ErrorIsf(t, err, store.ErrNotFound, "%s is still stored", k)
	}
}

// testConsumingStore deletes the stored state just before a compare-and-swap
// on it, like a concurrent callback consuming the same request.
type testConsumingStore struct {
	*store.Memory
}

func (s *testConsumingStore) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	if key == TransientStateKey {
		if err := s.Memory.Delete(ctx, key); err != nil {
			return false, err
		}
	}
	return s.Memory.CompareAndSwap(ctx, key, oldValue, newValue, ttl)
}

func TestProvider_Exchange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := newTestClock()
		tp := StartTestProvider(t)
		tp.SetNowFunc(clock.Now)
		tp.SetSessionID("sid-1")
		p := testNewProvider(t, tp, WithNow(clock.Now))
		transient := store.NewMemory()

		code, state := testAuthorize(t, tp, p, transient, WithScopes("offline_access"))
		nonce := testTransientValue(t, transient, TransientNonceKey)
		verifier := testTransientValue(t, transient, TransientCodeVerifierKey)

		tk, claims, err := p.Exchange(ctx, transient, state, code)
		require.NoError(err)
		assert.NotEmpty(tk.AccessToken())
		assert.NotEmpty(tk.RefreshToken())
		assert.NotEmpty(tk.IDToken())
		assert.Equal(clock.Now().Add(time.Hour), tk.Expiry())
		assert.Equal("openid offline_access", tk.Scope())
		assert.True(tk.Valid())

		assert.Equal(TestSubject, claims.Subject)
		assert.Equal(nonce, claims.Nonce)
		assert.Equal("sid-1", claims.SessionID)
		assert.Equal(tp.Issuer(), claims.Issuer)

		sent := tp.LastRequest(TokenPath)
		assert.Equal(verifier, sent.Get("code_verifier"))
		assert.Equal(TestRedirectURL, sent.Get("redirect_uri"))
		assert.Equal("authorization_code", sent.Get("grant_type"))

		requireTransientCleared(t, transient)

		// the callback can't be redeemed twice.
		_, _, err = p.Exchange(ctx, transient, state, code)
		assert.ErrorIs(err, ErrStateMismatch)
		assert.Equal(1, tp.RequestCount(TokenPath))
	})
	t.Run("state-mismatch", func(t *testing.T) {
		assert := assert.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		transient := store.NewMemory()
		code, _ := testAuthorize(t, tp, p, transient)

		_, _, err := p.Exchange(ctx, transient, "st_forged", code)
		assert.ErrorIs(err, ErrStateMismatch)
		assert.Equal(0, tp.RequestCount(TokenPath))
		requireTransientCleared(t, transient)
	})
	t.Run("concurrent-callbacks", func(t *testing.T) {
		assert := assert.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		transient := store.NewMemory()
		code, state := testAuthorize(t, tp, p, transient)

		const callers = 8
		errs := make(chan error, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := p.Exchange(ctx, transient, state, code)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		succeeded := 0
		for err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(err, ErrStateMismatch)
		}
		assert.Equal(1, succeeded)
		assert.Equal(1, tp.RequestCount(TokenPath))
		requireTransientCleared(t, transient)
	})
	t.Run("state-consumed-by-another-callback", func(t *testing.T) {
		assert := assert.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		transient := store.NewMemory()
		code, state := testAuthorize(t, tp, p, transient)

		racing := &testConsumingStore{Memory: transient}
		_, _, err := p.Exchange(ctx, racing, state, code)
		assert.ErrorIs(err, ErrStateMismatch)
		assert.Equal(0, tp.RequestCount(TokenPath))
	})
	t.Run("empty-state", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		transient := store.NewMemory()
		code, _ := testAuthorize(t, tp, p, transient)
		_, _, err := p.Exchange(ctx, transient, "", code)
		assert.ErrorIs(t, err, ErrStateMismatch)
		assert.Equal(t, 0, tp.RequestCount(TokenPath))
	})
	t.Run("nothing-pending", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, _, err := p.Exchange(ctx, store.NewMemory(), "st_state", "code")
		assert.ErrorIs(t, err, ErrStateMismatch)
		assert.Equal(t, 0, tp.RequestCount(TokenPath))
	})
	t.Run("expired-transient", func(t *testing.T) {
		clock := newTestClock()
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp, WithTransientTTL(time.Minute))
		transient := store.NewMemory(store.WithNow(clock.Now))
		code, state := testAuthorize(t, tp, p, transient)
		clock.Advance(2 * time.Minute)
		_, _, err := p.Exchange(ctx, transient, state, code)
		assert.ErrorIs(t, err, ErrStateMismatch)
		assert.Equal(t, 0, tp.RequestCount(TokenPath))
	})
	t.Run("incomplete-transient", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		transient := store.NewMemory()
		code, state := testAuthorize(t, tp, p, transient)
		require.NoError(t, transient.Delete(ctx, TransientCodeVerifierKey))
		_, _, err := p.Exchange(ctx, transient, state, code)
		assert.ErrorIs(t, err, ErrStateMismatch)
		assert.Equal(t, 0, tp.RequestCount(TokenPath))
	})
	t.Run("empty-code", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		transient := store.NewMemory()
		_, state := testAuthorize(t, tp, p, transient)
		_, _, err := p.Exchange(ctx, transient, state, "")
		assert.ErrorIs(t, err, ErrInvalidParameter)
		requireTransientCleared(t, transient)
	})
	t.Run("nil-store", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, _, err := p.Exchange(ctx, nil, "st_state", "code")
		assert.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("unknown-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		transient := store.NewMemory()
		_, state := testAuthorize(t, tp, p, transient)
		_, _, err := p.Exchange(ctx, transient, state, "code_bogus")
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidGrant)
		var grantErr *InvalidGrantError
		require.True(errors.As(err, &grantErr))
		assert.Equal(http.StatusBadRequest, grantErr.StatusCode)
		assert.Equal("invalid_grant", grantErr.Code)
	})
	t.Run("verifier-mismatch", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		transient := store.NewMemory()
		code, state := testAuthorize(t, tp, p, transient)
		other, err := GenerateCodeVerifier(DefaultVerifierLength)
		require.NoError(t, err)
		require.NoError(t, transient.Set(ctx, TransientCodeVerifierKey, []byte(other), time.Minute))
		_, _, err = p.Exchange(ctx, transient, state, code)
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})
	t.Run("token-endpoint-unavailable", func(t *testing.T) {
		assert := assert.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		transient := store.NewMemory()
		code, state := testAuthorize(t, tp, p, transient)
		tp.SetResponse(TokenPath, http.StatusServiceUnavailable, `{"error":"temporarily_unavailable"}`, 1)
		_, _, err := p.Exchange(ctx, transient, state, code)
		assert.ErrorIs(err, ErrNetwork)
		assert.False(errors.Is(err, ErrInvalidGrant))
		var netErr *NetworkError
		assert.True(errors.As(err, &netErr))
		assert.Equal(http.StatusServiceUnavailable, netErr.StatusCode)
	})
	t.Run("missing-id-token", func(t *testing.T) {
		tp := StartTestProvider(t)
		tp.OmitIDTokens()
		p := testNewProvider(t, tp)
		transient := store.NewMemory()
		code, state := testAuthorize(t, tp, p, transient)
		_, _, err := p.Exchange(ctx, transient, state, code)
		assert.ErrorIs(t, err, ErrMissingIDToken)
	})
	t.Run("missing-access-token", func(t *testing.T) {
		tp := StartTestProvider(t)
		tp.OmitAccessTokens()
		p := testNewProvider(t, tp)
		transient := store.NewMemory()
		code, state := testAuthorize(t, tp, p, transient)
		_, _, err := p.Exchange(ctx, transient, state, code)
		assert.ErrorIs(t, err, ErrMissingAccessToken)
	})

	verification := []struct {
		name      string
		setup     func(tp *TestProvider)
		opt       []Option
		wantIsErr error
	}{
		{
			name:      "nonce-mismatch",
			setup:     func(tp *TestProvider) { tp.SetCustomClaims(map[string]interface{}{"nonce": "n_other"}) },
			wantIsErr: ErrInvalidNonce,
		},
		{
			name:      "missing-nonce",
			setup:     func(tp *TestProvider) { tp.SetCustomClaims(map[string]interface{}{"nonce": nil}) },
			wantIsErr: ErrInvalidNonce,
		},
		{
			name:      "wrong-audience",
			setup:     func(tp *TestProvider) { tp.SetCustomAudience("someone-else") },
			wantIsErr: ErrInvalidAudience,
		},
		{
			name:      "wrong-issuer",
			setup:     func(tp *TestProvider) { tp.SetCustomClaims(map[string]interface{}{"iss": "https://evil.example.com/"}) },
			wantIsErr: ErrInvalidIssuer,
		},
		{
			name:      "organization-mismatch",
			setup:     func(tp *TestProvider) { tp.SetCustomClaims(map[string]interface{}{"org_id": "org_other"}) },
			opt:       []Option{WithOrganization("org_123")},
			wantIsErr: ErrInvalidOrganization,
		},
		{
			name: "auth-time-too-old",
			setup: func(tp *TestProvider) {
				tp.SetCustomClaims(map[string]interface{}{"auth_time": time.Now().Add(-time.Hour).Unix()})
			},
			opt:       []Option{WithMaxAge(time.Minute)},
			wantIsErr: ErrInvalidAuthTime,
		},
	}
	for _, tt := range verification {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			tp := StartTestProvider(t)
			tt.setup(tp)
			p := testNewProvider(t, tp)
			transient := store.NewMemory()
			code, state := testAuthorize(t, tp, p, transient, tt.opt...)
			tk, claims, err := p.Exchange(ctx, transient, state, code)
			require.Error(err)
			assert.ErrorIs(err, ErrInvalidToken)
			assert.ErrorIs(err, tt.wantIsErr)
			assert.Nil(tk)
			assert.Nil(claims)
		})
	}

	t.Run("organization-match", func(t *testing.T) {
		tp := StartTestProvider(t)
		tp.SetCustomClaims(map[string]interface{}{"org_id": "org_123", "org_name": "acme"})
		p := testNewProvider(t, tp)
		for _, org := range []string{"org_123", "ACME"} {
			transient := store.NewMemory()
			code, state := testAuthorize(t, tp, p, transient, WithOrganization(org))
			_, claims, err := p.Exchange(ctx, transient, state, code)
			require.NoError(t, err)
			assert.Equal(t, "org_123", claims.OrgID)
		}
	})
}

func TestProvider_Exchange_ClientAuth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("client-secret-basic", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp, WithClientAuthMethod(ClientSecretBasic))
		transient := store.NewMemory()
		code, state := testAuthorize(t, tp, p, transient)
		_, _, err := p.Exchange(ctx, transient, state, code)
		require.NoError(err)
		assert.Empty(tp.LastRequest(TokenPath).Get("client_secret"))
	})
	t.Run("private-key-jwt", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(err)
		tp := StartTestProvider(t)
		tp.SetClientCreds(TestClientID, "")
		tp.SetClientAssertionKey(&key.PublicKey)
		p := testNewProvider(t, tp, WithClientAssertionJWT(&testJWTAssertion{t: t, key: key, aud: tp.Issuer()}))
		require.Equal(PrivateKeyJWT, p.Config().ClientAuthMethod)

		transient := store.NewMemory()
		code, state := testAuthorize(t, tp, p, transient)
		tk, _, err := p.Exchange(ctx, transient, state, code)
		require.NoError(err)
		sent := tp.LastRequest(TokenPath)
		assert.Equal(ClientAssertionType, sent.Get("client_assertion_type"))
		assert.NotEmpty(sent.Get("client_assertion"))
		assert.Empty(sent.Get("client_secret"))

		renewed, err := p.Renew(ctx, tk.RefreshToken())
		require.NoError(err)
		assert.NotEqual(tk.RefreshToken(), renewed.RefreshToken())
		assert.NotEqual(sent.Get("client_assertion"), tp.LastRequest(TokenPath).Get("client_assertion"))
	})
	t.Run("private-key-jwt-wrong-key", func(t *testing.T) {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		tp := StartTestProvider(t)
		tp.SetClientCreds(TestClientID, "")
		tp.SetClientAssertionKey(&other.PublicKey)
		p := testNewProvider(t, tp, WithClientAssertionJWT(&testJWTAssertion{t: t, key: key, aud: tp.Issuer()}))
		transient := store.NewMemory()
		code, state := testAuthorize(t, tp, p, transient)
		_, _, err = p.Exchange(ctx, transient, state, code)
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})
}

func TestProvider_Renew(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	login := func(t *testing.T, tp *TestProvider, p *Provider) *Tk {
		t.Helper()
		transient := store.NewMemory()
		code, state := testAuthorize(t, tp, p, transient)
		tk, _, err := p.Exchange(ctx, transient, state, code)
		require.NoError(t, err)
		return tk
	}

	t.Run("rotates-and-advances-expiry", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := newTestClock()
		tp := StartTestProvider(t)
		tp.SetNowFunc(clock.Now)
		p := testNewProvider(t, tp, WithNow(clock.Now))
		tk := login(t, tp, p)

		clock.Advance(30 * time.Minute)
		renewed, err := p.Renew(ctx, tk.RefreshToken())
		require.NoError(err)
		assert.NotEqual(tk.AccessToken(), renewed.AccessToken())
		assert.NotEqual(tk.RefreshToken(), renewed.RefreshToken())
		assert.True(renewed.Expiry().After(tk.Expiry()))
		assert.Equal(clock.Now().Add(time.Hour), renewed.Expiry())
		assert.Empty(renewed.IDToken())
		assert.Equal("refresh_token", tp.LastRequest(TokenPath).Get("grant_type"))

		// the rotated refresh token is single use.
		_, err = p.Renew(ctx, tk.RefreshToken())
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidGrant)
		var grantErr *InvalidGrantError
		require.True(errors.As(err, &grantErr))
		assert.Equal(http.StatusBadRequest, grantErr.StatusCode)
		assert.Equal("invalid_grant", grantErr.Code)
	})
	t.Run("keeps-refresh-token-without-rotation", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		tk := login(t, tp, p)
		tp.OmitRefreshTokens()
		renewed, err := p.Renew(ctx, tk.RefreshToken())
		require.NoError(t, err)
		assert.Equal(t, tk.RefreshToken(), renewed.RefreshToken())
	})
	t.Run("id-token-on-refresh", func(t *testing.T) {
		tp := StartTestProvider(t)
		tp.SetIDTokenOnRefresh(true)
		p := testNewProvider(t, tp)
		tk := login(t, tp, p)
		renewed, err := p.Renew(ctx, tk.RefreshToken())
		require.NoError(t, err)
		assert.NotEmpty(t, renewed.IDToken())
	})
	t.Run("invalid-id-token-on-refresh", func(t *testing.T) {
		tp := StartTestProvider(t)
		tp.SetIDTokenOnRefresh(true)
		p := testNewProvider(t, tp)
		tk := login(t, tp, p)
		tp.SetCustomAudience("someone-else")
		_, err := p.Renew(ctx, tk.RefreshToken())
		assert.ErrorIs(t, err, ErrInvalidAudience)
	})
	t.Run("id-token-for-another-subject", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetIDTokenOnRefresh(true)
		p := testNewProvider(t, tp)
		tk := login(t, tp, p)
		tp.SetSubject("mallory")

		_, err := p.Renew(ctx, tk.RefreshToken(), WithSubject(TestSubject), WithIssuer(tp.Issuer()))
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidToken)
		assert.ErrorIs(err, ErrInvalidSubject)
		var tokenErr *InvalidTokenError
		require.True(errors.As(err, &tokenErr))
		assert.Equal(CheckSubject, tokenErr.Check)
	})
	t.Run("id-token-from-another-issuer", func(t *testing.T) {
		tp := StartTestProvider(t)
		tp.SetIDTokenOnRefresh(true)
		p := testNewProvider(t, tp)
		tk := login(t, tp, p)
		_, err := p.Renew(ctx, tk.RefreshToken(), WithSubject(TestSubject), WithIssuer("https://other.example.com/"))
		assert.ErrorIs(t, err, ErrInvalidIssuer)
	})
	t.Run("same-subject", func(t *testing.T) {
		tp := StartTestProvider(t)
		tp.SetIDTokenOnRefresh(true)
		p := testNewProvider(t, tp)
		tk := login(t, tp, p)
		renewed, err := p.Renew(ctx, tk.RefreshToken(), WithSubject(TestSubject), WithIssuer(tp.Issuer()))
		require.NoError(t, err)
		assert.NotEmpty(t, renewed.IDToken())
	})
	t.Run("revoked", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		tk := login(t, tp, p)
		tp.RevokeRefreshTokens()
		_, err := p.Renew(ctx, tk.RefreshToken())
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})
	t.Run("server-error-is-not-invalid-grant", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		tk := login(t, tp, p)
		tp.SetResponse(TokenPath, http.StatusInternalServerError, "", 1)
		_, err := p.Renew(ctx, tk.RefreshToken())
		assert.ErrorIs(t, err, ErrNetwork)
		assert.False(t, errors.Is(err, ErrInvalidGrant))

		// the refresh token wasn't consumed.
		_, err = p.Renew(ctx, tk.RefreshToken())
		assert.NoError(t, err)
	})
	t.Run("empty", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, err := p.Renew(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidParameter)
		assert.Equal(t, 0, tp.RequestCount(TokenPath))
	})
}
