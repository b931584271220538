// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/hashicorp/rpsession/jwt"
)

// Well known endpoint paths, relative to the provider's domain.
const (
	AuthorizePath  = "/authorize"
	TokenPath      = "/oauth/token"
	PARPath        = "/oauth/par"
	JWKSPath       = "/.well-known/jwks.json"
	LogoutPath     = "/v2/logout"
	OIDCLogoutPath = "/oidc/logout"
	DiscoveryPath  = "/.well-known/openid-configuration"
)

// Endpoints are the provider URLs used by a Provider.
type Endpoints struct {
	Authorize  string
	Token      string
	PAR        string
	JWKS       string
	Logout     string
	EndSession string
}

// Provider provides integration with an OIDC provider using the authorization
// code flow with PKCE.  It's safe for concurrent use.
type Provider struct {
	config    *Config
	client    *http.Client
	endpoints Endpoints
	keySet    jwt.KeySet
	logger    hclog.Logger

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like: discovery and refreshing JWKs key sets.
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// NewProvider creates and initializes a Provider.  Unless the config enables
// discovery, no requests are made to the provider until they're needed.
//
// See Provider.Done() which must be called to release provider resources.
func NewProvider(c *Config) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with it's background ctx/cancel will
	// allow us to use p.Done() to release any resources when returning errors
	// from this function.
	p := &Provider{
		config:              c,
		logger:              c.Logger,
		endpoints:           wellKnownEndpoints(c.requestBase()),
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	client, err := c.httpClient()
	if err != nil {
		p.Done()
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	if c.Discovery {
		if err := p.discover(client); err != nil {
			p.Done()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if c.ClientAuthMethod == PrivateKeyJWT {
		client = withClientAssertion(client, p.endpoints.Token, c.ClientAssertion)
	}
	p.client = client

	if p.keySet, err = p.newKeySet(); err != nil {
		p.Done()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// Config returns the provider's config.  It must not be modified.
func (p *Provider) Config() *Config { return p.config }

// Endpoints returns the provider URLs in use.
func (p *Provider) Endpoints() Endpoints { return p.endpoints }

// HTTPClient returns the client used for every request to the provider.
func (p *Provider) HTTPClient() *http.Client { return p.client }

// HTTPClientContext returns a new Context that carries the provider's HTTP
// client. This method sets the same context key used by the
// github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the returned
// context works for those packages as well.
func (p *Provider) HTTPClientContext(ctx context.Context) context.Context {
	return gooidc.ClientContext(ctx, p.client)
}

func wellKnownEndpoints(base string) Endpoints {
	return Endpoints{
		Authorize:  base + AuthorizePath,
		Token:      base + TokenPath,
		PAR:        base + PARPath,
		JWKS:       base + JWKSPath,
		Logout:     base + LogoutPath,
		EndSession: base + OIDCLogoutPath,
	}
}

// discover replaces the well known endpoints with those published in the
// provider's discovery document.
func (p *Provider) discover(client *http.Client) error {
	const op = "Provider.discover"
	issuer := p.config.requestBase() + "/"
	provider, err := gooidc.NewProvider(gooidc.ClientContext(p.backgroundCtx, client), issuer) // makes http req to issuer for discovery
	if err != nil {
		return fmt.Errorf("%s: unable to discover provider %s: %w", op, issuer, &NetworkError{Err: err})
	}
	var meta struct {
		JWKSURL    string `json:"jwks_uri"`
		PARURL     string `json:"pushed_authorization_request_endpoint"`
		EndSession string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return fmt.Errorf("%s: unable to decode discovery document: %w", op, err)
	}
	e := provider.Endpoint()
	p.endpoints.Authorize = e.AuthURL
	p.endpoints.Token = e.TokenURL
	if meta.JWKSURL != "" {
		p.endpoints.JWKS = meta.JWKSURL
	}
	if meta.PARURL != "" {
		p.endpoints.PAR = meta.PARURL
	}
	if meta.EndSession != "" {
		p.endpoints.EndSession = meta.EndSession
	}
	if p.config.PushedAuthorizationRequests && meta.PARURL == "" {
		return fmt.Errorf("%s: provider doesn't publish a pushed authorization request endpoint: %w", op, ErrConfiguration)
	}
	p.logger.Debug("discovered provider endpoints", "issuer", issuer, "token", e.TokenURL, "jwks", p.endpoints.JWKS)
	return nil
}

// newKeySet returns the KeySet used to verify ID and logout tokens: the
// configured one, or the provider's JWKS for asymmetric algorithms plus the
// client secret for HMAC algorithms.
func (p *Provider) newKeySet() (jwt.KeySet, error) {
	const op = "Provider.newKeySet"
	if p.config.KeySet != nil {
		return p.config.KeySet, nil
	}
	var asym, sym []jwt.Alg
	for _, a := range p.config.SupportedSigningAlgs {
		if symmetricAlg(a) {
			sym = append(sym, a)
			continue
		}
		asym = append(asym, a)
	}
	ks := &providerKeySet{}
	if len(asym) > 0 {
		remote, err := jwt.NewJSONWebKeySet(p.endpoints.JWKS,
			jwt.WithSigningAlgs(asym...),
			jwt.WithHTTPClient(p.client),
			jwt.WithCacheTTL(p.config.JWKSCacheTTL),
			jwt.WithNow(p.config.NowFunc),
			jwt.WithLogger(p.logger.Named("jwks")),
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ks.asymmetric = remote
	}
	if len(sym) > 0 {
		secret, err := jwt.NewSecretKeySet(string(p.config.ClientSecret), jwt.WithSigningAlgs(sym...))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ks.symmetric = secret
	}
	return ks, nil
}

// providerKeySet dispatches on the token's algorithm to the key set holding
// keys for it.
type providerKeySet struct {
	asymmetric jwt.KeySet
	symmetric  jwt.KeySet
}

// VerifySignature implements jwt.KeySet.
func (k *providerKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	h, err := jwt.ParseHeader(token)
	if err != nil {
		return nil, err
	}
	ks := k.asymmetric
	if symmetricAlg(h.Alg) {
		ks = k.symmetric
	}
	if ks == nil {
		return nil, fmt.Errorf("algorithm %q is not accepted: %w", h.Alg, jwt.ErrUnsupportedAlg)
	}
	return ks.VerifySignature(ctx, token)
}

// oauth2Config returns the x/oauth2 config used for authorization URLs and
// token requests.
func (p *Provider) oauth2Config(redirectURL string, scopes []string) *oauth2.Config {
	c := &oauth2.Config{
		ClientID:    p.config.ClientID,
		RedirectURL: redirectURL,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.endpoints.Authorize,
			TokenURL:  p.endpoints.Token,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	switch p.config.ClientAuthMethod {
	case ClientSecretBasic:
		c.ClientSecret = string(p.config.ClientSecret)
		c.Endpoint.AuthStyle = oauth2.AuthStyleInHeader
	case ClientSecretPost:
		c.ClientSecret = string(p.config.ClientSecret)
	}
	return c
}
