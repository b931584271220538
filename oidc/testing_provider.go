// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/rpsession/jwt"
	"github.com/hashicorp/rpsession/oidc/internal/strutils"
)

// Defaults used by the TestProvider.
const (
	TestClientID       = "test-client-id"
	TestClientSecret   = "test-client-secret"
	TestRedirectURL    = "https://example.com/callback"
	TestCookieSecret   = "test-cookie-secret-which-is-at-least-32-bytes"
	TestSubject        = "auth0|r3qXcK2bix9eFECzsU3Sbmh0K16fatW6"
	testKeyID          = "test-key"
	testRequestURIBase = "urn:ietf:params:oauth:request_uri:"
)

// TestProvider is local server that supports test provider capabilities which
// make writing tests much easier.  It serves the authorize, token, pushed
// authorization request, JWKS, discovery and logout endpoints of a provider
// over TLS.  Authorization codes and refresh tokens are single use, and codes
// are bound to the PKCE challenge and nonce of the request which issued them.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks *jose.JSONWebKeySet

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	assertionKey        crypto.PublicKey
	allowedRedirectURIs []string
	replySubject        string
	replySessionID      string
	customClaims        map[string]interface{}
	customAudience      []string
	omitIDToken         bool
	omitAccessToken     bool
	omitRefreshToken    bool
	idTokenOnRefresh    bool
	accessTokenTTL      time.Duration
	authError           string
	nowFunc             func() time.Time

	codes         map[string]testAuthCode
	refreshTokens map[string]string
	requestURIs   map[string]testPushedRequest
	responses     map[string]*testResponse
	counts        map[string]int
	lastRequests  map[string]url.Values

	ecdsaPublicKey  string
	ecdsaPrivateKey string
	signingKey      *ecdsa.PrivateKey

	t *testing.T
}

// testAuthCode is what an issued code is bound to.
type testAuthCode struct {
	redirectURI string
	challenge   string
	nonce       string
	scope       string
}

type testPushedRequest struct {
	params  url.Values
	expires time.Time
}

// testResponse is a canned response for an endpoint.  A remaining count of
// zero means every request gets it.
type testResponse struct {
	status    int
	body      string
	remaining int
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// StartTestProvider creates a disposable TestProvider with client id
// TestClientID and secret TestClientSecret, which accepts TestRedirectURL.
// It's stopped when the test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:            TestClientID,
		clientSecret:        TestClientSecret,
		allowedRedirectURIs: []string{TestRedirectURL},
		replySubject:        TestSubject,
		accessTokenTTL:      time.Hour,
		nowFunc:             time.Now,
		codes:               map[string]testAuthCode{},
		refreshTokens:       map[string]string{},
		requestURIs:         map[string]testPushedRequest{},
		responses:           map[string]*testResponse{},
		counts:              map[string]int{},
		lastRequests:        map[string]url.Values{},
		t:                   t,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.signingKey = TestParseECDSAKey(t, p.ecdsaPrivateKey)
	p.jwks = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       p.signingKey.Public(),
				KeyID:     testKeyID,
				Algorithm: string(jose.ES256),
				Use:       "sig",
			},
		},
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// NewTestConfig returns a Config for the test provider: its domain, client
// credentials and CA, ES256 signed tokens and TestRedirectURL.  The opts are
// applied after those defaults.
func (p *TestProvider) NewTestConfig(t *testing.T, opt ...Option) *Config {
	t.Helper()
	p.mu.Lock()
	clientID, clientSecret := p.clientID, p.clientSecret
	p.mu.Unlock()

	opts := []Option{
		WithCookieSecret(TestCookieSecret),
		WithProviderCA(p.caCert),
		WithSupportedSigningAlgs(jwt.ES256),
		WithRedirectURL(TestRedirectURL),
	}
	if clientSecret != "" {
		opts = append(opts, WithClientSecret(ClientSecret(clientSecret)))
	}
	c, err := NewConfig(p.Addr(), clientID, append(opts, opt...)...)
	require.NoError(t, err)
	return c
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.  An empty secret means the client isn't authenticated
// with a secret.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetClientAssertionKey makes the token and PAR endpoints require a
// private_key_jwt client assertion signed by the key.
func (p *TestProvider) SetClientAssertionKey(pub crypto.PublicKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assertionKey = pub
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs for
// the OIDC workflow. If not configured TestRedirectURL is used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSubject configures the sub of issued ID tokens.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetSessionID configures the sid of issued ID tokens.
func (p *TestProvider) SetSessionID(sid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySessionID = sid
}

// SetCustomClaims lets you set claims to return in the ID tokens issued by
// the OIDC workflow.  A nil value removes a standard claim.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in the ID tokens
// issued by the OIDC workflow.
func (p *TestProvider) SetCustomAudience(customAudience ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetAccessTokenTTL configures the expires_in returned with access tokens.
// A zero ttl omits expires_in.
func (p *TestProvider) SetAccessTokenTTL(ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTokenTTL = ttl
}

// SetNowFunc configures the clock used to stamp issued tokens.
func (p *TestProvider) SetNowFunc(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nowFunc = now
}

// SetIDTokenOnRefresh makes refresh token grants return a new ID token.
func (p *TestProvider) SetIDTokenOnRefresh(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenOnRefresh = enabled
}

// SetAuthError makes the authorize endpoint redirect back with the error
// code instead of an authorization code.  An empty code clears it.
func (p *TestProvider) SetAuthError(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authError = code
}

// OmitIDTokens forces an error state where the token endpoint does not return
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitAccessTokens forces an error state where the token endpoint does not
// return access_token.
func (p *TestProvider) OmitAccessTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAccessToken = true
}

// OmitRefreshTokens makes the token endpoint stop issuing refresh tokens.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (p *TestProvider) RevokeRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshTokens = map[string]string{}
}

// SetResponse makes the endpoint at path answer with the status and body
// for the next times requests, or for every request when times is zero.
func (p *TestProvider) SetResponse(path string, status int, body string, times int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[path] = &testResponse{status: status, body: body, remaining: times}
}

// ClearResponses removes every response set with SetResponse.
func (p *TestProvider) ClearResponses() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = map[string]*testResponse{}
}

// RequestCount returns how many requests the endpoint at path received.
func (p *TestProvider) RequestCount(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[path]
}

// LastRequest returns the query or form values of the last request the
// endpoint at path received.
func (p *TestProvider) LastRequest(path string) url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRequests[path]
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// Issuer returns the iss of tokens issued by the test provider.
func (p *TestProvider) Issuer() string { return p.httpServer.URL + "/" }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns a client which trusts the test provider and doesn't
// follow redirects.
func (p *TestProvider) HTTPClient() *http.Client {
	c := p.httpServer.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c
}

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// SignJWT signs the claims with the test provider's key.
func (p *TestProvider) SignJWT(t *testing.T, claims interface{}) string {
	t.Helper()
	return TestSignJWT(t, p.signingKey, string(jose.ES256), testKeyID, claims)
}

// IssueIDToken returns a signed ID token for the configured client and
// subject, valid for five minutes.  The overrides replace standard claims,
// and a nil override removes one.
func (p *TestProvider) IssueIDToken(t *testing.T, overrides map[string]interface{}) string {
	t.Helper()
	p.mu.Lock()
	claims := p.idTokenClaims("")
	p.mu.Unlock()
	return p.SignJWT(t, mergeClaims(claims, overrides))
}

// IssueLogoutToken returns a signed backchannel logout token for the
// configured client with the given sid and sub (either may be empty).  The
// overrides replace standard claims, and a nil override removes one.
func (p *TestProvider) IssueLogoutToken(t *testing.T, sid, sub string, overrides map[string]interface{}) string {
	t.Helper()
	p.mu.Lock()
	now := p.nowFunc()
	claims := map[string]interface{}{
		"iss": p.Issuer(),
		"aud": p.clientID,
		"iat": now.Unix(),
		"exp": now.Add(2 * time.Minute).Unix(),
		"jti": mustID(t, "jti"),
		"events": map[string]interface{}{
			BackchannelLogoutEvent: map[string]interface{}{},
		},
	}
	p.mu.Unlock()
	if sid != "" {
		claims["sid"] = sid
	}
	if sub != "" {
		claims["sub"] = sub
	}
	return p.SignJWT(t, mergeClaims(claims, overrides))
}

// Authorize follows an authorization URL returned by Provider.AuthURL, as a
// browser would, and returns the code and state the test provider
// redirected back with.
func (p *TestProvider) Authorize(t *testing.T, authURL string) (code, state string) {
	t.Helper()
	require := require.New(t)
	resp, err := p.HTTPClient().Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	return loc.Query().Get("code"), loc.Query().Get("state")
}

func (p *TestProvider) idTokenClaims(nonce string) map[string]interface{} {
	now := p.nowFunc()
	claims := map[string]interface{}{
		"iss":       p.Issuer(),
		"sub":       p.replySubject,
		"aud":       []string{p.clientID},
		"iat":       now.Unix(),
		"exp":       now.Add(5 * time.Minute).Unix(),
		"auth_time": now.Unix(),
	}
	if len(p.customAudience) > 0 {
		claims["aud"] = p.customAudience
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	if p.replySessionID != "" {
		claims["sid"] = p.replySessionID
	}
	return mergeClaims(claims, p.customClaims)
}

func mergeClaims(claims, overrides map[string]interface{}) map[string]interface{} {
	for k, v := range overrides {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}
	return claims
}

func mustID(t *testing.T, prefix string) string {
	t.Helper()
	id, err := NewID(prefix)
	require.NoError(t, err)
	return id
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, redirectURI, state, errorCode, errorMessage string) {
	qv := url.Values{"error": {errorCode}}
	if state != "" {
		qv.Set("state", state)
	}
	if errorMessage != "" {
		qv.Set("error_description", errorMessage)
	}
	http.Redirect(w, req, redirectURI+"?"+qv.Encode(), http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	p.writeJSON(w, statusCode, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	if err := req.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	p.counts[req.URL.Path]++
	form := req.Form
	if req.Method == http.MethodPost {
		form = req.PostForm
	}
	p.lastRequests[req.URL.Path] = form

	if r, ok := p.responses[req.URL.Path]; ok {
		if r.remaining > 0 {
			r.remaining--
			if r.remaining == 0 {
				delete(p.responses, req.URL.Path)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(r.status)
		_, _ = io.WriteString(w, r.body)
		return
	}

	switch req.URL.Path {
	case DiscoveryPath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer             string   `json:"issuer"`
			AuthEndpoint       string   `json:"authorization_endpoint"`
			TokenEndpoint      string   `json:"token_endpoint"`
			JWKSURI            string   `json:"jwks_uri"`
			PAREndpoint        string   `json:"pushed_authorization_request_endpoint"`
			EndSessionEndpoint string   `json:"end_session_endpoint"`
			SigningAlgs        []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:             p.Issuer(),
			AuthEndpoint:       p.Addr() + AuthorizePath,
			TokenEndpoint:      p.Addr() + TokenPath,
			JWKSURI:            p.Addr() + JWKSPath,
			PAREndpoint:        p.Addr() + PARPath,
			EndSessionEndpoint: p.Addr() + OIDCLogoutPath,
			SigningAlgs:        []string{string(jose.ES256)},
		}
		p.writeJSON(w, http.StatusOK, &reply)

	case AuthorizePath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.serveAuthorize(w, req)

	case PARPath:
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.servePAR(w, req)

	case TokenPath:
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.serveToken(w, req)

	case JWKSPath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, http.StatusOK, p.jwks)

	case LogoutPath, OIDCLogoutPath:
		returnTo := req.Form.Get("returnTo")
		if req.URL.Path == OIDCLogoutPath {
			returnTo = req.Form.Get("post_logout_redirect_uri")
		}
		if returnTo == "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Redirect(w, req, returnTo, http.StatusFound)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveAuthorize(w http.ResponseWriter, req *http.Request) {
	qv := req.URL.Query()
	if qv.Get("client_id") != p.clientID {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if requestURI := qv.Get("request_uri"); requestURI != "" {
		pushed, ok := p.requestURIs[requestURI]
		delete(p.requestURIs, requestURI)
		if !ok || p.nowFunc().After(pushed.expires) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		qv = pushed.params
	}

	redirectURI := qv.Get("redirect_uri")
	if redirectURI == "" || !strutils.StrListContains(p.allowedRedirectURIs, redirectURI) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	state := qv.Get("state")
	switch {
	case p.authError != "":
		p.writeAuthErrorResponse(w, req, redirectURI, state, p.authError, "")
		return
	case !strutils.StrListContains(strings.Fields(qv.Get("response_type")), ResponseTypeCode):
		p.writeAuthErrorResponse(w, req, redirectURI, state, "unsupported_response_type", "")
		return
	case !strutils.StrListContains(strutils.SplitScopes(qv.Get("scope")), "openid"):
		p.writeAuthErrorResponse(w, req, redirectURI, state, "invalid_scope", "")
		return
	case state == "":
		p.writeAuthErrorResponse(w, req, redirectURI, state, "invalid_request", "missing state parameter")
		return
	case qv.Get("code_challenge") == "" || qv.Get("code_challenge_method") != string(S256):
		p.writeAuthErrorResponse(w, req, redirectURI, state, "invalid_request", "missing S256 code challenge")
		return
	}

	code := mustID(p.t, "code")
	p.codes[code] = testAuthCode{
		redirectURI: redirectURI,
		challenge:   qv.Get("code_challenge"),
		nonce:       qv.Get("nonce"),
		scope:       qv.Get("scope"),
	}
	http.Redirect(w, req, redirectURI+"?"+url.Values{"code": {code}, "state": {state}}.Encode(), http.StatusFound)
}

func (p *TestProvider) servePAR(w http.ResponseWriter, req *http.Request) {
	if err := p.authenticateClient(req); err != nil {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", err.Error())
		return
	}
	if req.PostForm.Get("request_uri") != "" {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "request_uri is not allowed")
		return
	}
	params := url.Values{}
	for k, v := range req.PostForm {
		switch k {
		case "client_secret", "client_assertion", "client_assertion_type":
		default:
			params[k] = v
		}
	}
	requestURI := testRequestURIBase + mustID(p.t, "")
	p.requestURIs[requestURI] = testPushedRequest{params: params, expires: p.nowFunc().Add(time.Minute)}
	p.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"request_uri": requestURI,
		"expires_in":  60,
	})
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	if err := p.authenticateClient(req); err != nil {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", err.Error())
		return
	}

	var nonce, scope, refreshSubject string
	issueIDToken := true
	switch req.PostForm.Get("grant_type") {
	case "authorization_code":
		code, ok := p.codes[req.PostForm.Get("code")]
		delete(p.codes, req.PostForm.Get("code"))
		switch {
		case !ok:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown or used auth code")
			return
		case req.PostForm.Get("redirect_uri") != code.redirectURI:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "redirect_uri doesn't match the authorization request")
			return
		case GenerateCodeChallenge(req.PostForm.Get("code_verifier")) != code.challenge:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code_verifier doesn't match the code challenge")
			return
		}
		nonce, scope = code.nonce, code.scope

	case "refresh_token":
		sub, ok := p.refreshTokens[req.PostForm.Get("refresh_token")]
		delete(p.refreshTokens, req.PostForm.Get("refresh_token"))
		if !ok {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown or rotated refresh token")
			return
		}
		refreshSubject = sub
		issueIDToken = p.idTokenOnRefresh

	default:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}

	reply := struct {
		AccessToken  string `json:"access_token,omitempty"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in,omitempty"`
		RefreshToken string `json:"refresh_token,omitempty"`
		IDToken      string `json:"id_token,omitempty"`
		Scope        string `json:"scope,omitempty"`
	}{
		TokenType: "Bearer",
		ExpiresIn: int64(p.accessTokenTTL / time.Second),
		Scope:     scope,
	}
	if !p.omitAccessToken {
		reply.AccessToken = mustID(p.t, "at")
	}
	if !p.omitRefreshToken {
		reply.RefreshToken = mustID(p.t, "rt")
		sub := p.replySubject
		if refreshSubject != "" {
			sub = refreshSubject
		}
		p.refreshTokens[reply.RefreshToken] = sub
	}
	if issueIDToken && !p.omitIDToken {
		reply.IDToken = TestSignJWT(p.t, p.signingKey, string(jose.ES256), testKeyID, p.idTokenClaims(nonce))
	}
	p.writeJSON(w, http.StatusOK, &reply)
}

// authenticateClient checks the request's client credentials: a
// private_key_jwt assertion when an assertion key is set, otherwise the
// client secret (basic or post) when the client has one.
func (p *TestProvider) authenticateClient(req *http.Request) error {
	id, secret, basic := req.BasicAuth()
	if basic {
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
	} else {
		id, secret = req.PostForm.Get("client_id"), req.PostForm.Get("client_secret")
	}
	if id != p.clientID {
		return fmt.Errorf("unknown client %q", id)
	}
	if p.assertionKey != nil {
		return p.verifyClientAssertion(req.PostForm)
	}
	if p.clientSecret != "" && secret != p.clientSecret {
		return fmt.Errorf("invalid client secret")
	}
	return nil
}

func (p *TestProvider) verifyClientAssertion(form url.Values) error {
	if form.Get("client_assertion_type") != ClientAssertionType {
		return fmt.Errorf("unexpected client_assertion_type %q", form.Get("client_assertion_type"))
	}
	tok, err := josejwt.ParseSigned(form.Get("client_assertion"), []jose.SignatureAlgorithm{
		jose.RS256, jose.RS384, jose.RS512, jose.PS256, jose.ES256, jose.ES384, jose.ES512, jose.EdDSA,
	})
	if err != nil {
		return fmt.Errorf("malformed client assertion: %w", err)
	}
	var c josejwt.Claims
	if err := tok.Claims(p.assertionKey, &c); err != nil {
		return fmt.Errorf("invalid client assertion signature: %w", err)
	}
	if c.Issuer != p.clientID || c.Subject != p.clientID {
		return fmt.Errorf("client assertion iss and sub must be the client id")
	}
	expected := josejwt.Expected{
		AnyAudience: josejwt.Audience{p.Issuer(), p.Addr() + TokenPath},
		Time:        p.nowFunc(),
	}
	if err := c.ValidateWithLeeway(expected, time.Minute); err != nil {
		return fmt.Errorf("client assertion is not valid: %w", err)
	}
	return nil
}
