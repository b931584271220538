// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp/rpsession/jwt"
	"github.com/hashicorp/rpsession/oidc/internal/strutils"
	sdkhttp "github.com/hashicorp/rpsession/sdk/http"
	"github.com/hashicorp/rpsession/store"
)

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// CookieSecret is the secret used to encrypt session cookies.
type CookieSecret string

// RedactedCookieSecret is the redacted string or json for a cookie secret.
const RedactedCookieSecret = "[REDACTED: cookie secret]"

// String will redact the cookie secret.
func (t CookieSecret) String() string {
	return RedactedCookieSecret
}

// MarshalJSON will redact the cookie secret.
func (t CookieSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedCookieSecret)
}

// ClientAuthMethod is how the client authenticates itself to the token and
// pushed authorization request endpoints.
type ClientAuthMethod string

const (
	ClientSecretPost  ClientAuthMethod = "client_secret_post"
	ClientSecretBasic ClientAuthMethod = "client_secret_basic"
	PrivateKeyJWT     ClientAuthMethod = "private_key_jwt"
	ClientAuthNone    ClientAuthMethod = "none"
)

// ClientAssertion produces signed client assertions for the private_key_jwt
// client auth method.  *clientassertion.JWT implements it.
type ClientAssertion interface {
	Serialize() (string, error)
}

// Response types and modes accepted by Config.
const (
	ResponseTypeCode = "code"

	ResponseModeQuery    = "query"
	ResponseModeFormPost = "form_post"
)

const (
	// DefaultClockSkew is the tolerance used when checking token times.
	DefaultClockSkew = 60 * time.Second

	// DefaultTransientTTL is how long an authorization request's state,
	// nonce and code verifier are kept waiting for the callback.
	DefaultTransientTTL = 10 * time.Minute

	// MinCookieSecretLength is the shortest accepted cookie secret.
	MinCookieSecretLength = 32
)

// Config represents the configuration for an OIDC relying party using the
// authorization code flow with PKCE.  Use NewConfig to create one; a Config
// must not be changed after it's been used to create a Provider.
type Config struct {
	// Domain is the provider's domain (for example "tenant.example.com").  A
	// scheme may be included, otherwise https is used.  Required.
	Domain string

	// CustomDomain is an optional alternate domain for the same tenant.
	// Requests are sent to it and ID tokens issued by either domain are
	// accepted.
	CustomDomain string

	// ClientID is the relying party id.  Required.
	ClientID string

	// ClientSecret is the relying party secret.  Optional for public clients.
	ClientSecret ClientSecret

	// CookieSecret is the secret used to encrypt cookie stores.
	CookieSecret CookieSecret

	// RedirectURL is the default callback URL.  It may also be supplied per
	// authorization request.
	RedirectURL string

	// Scopes are requested in addition to "openid".
	Scopes []string

	// Audiences are the APIs access tokens are requested for.
	Audiences []string

	// Organization is the default organization to log in to.
	Organization string

	// ResponseMode is an optional response_mode: query or form_post.
	ResponseMode string

	// ResponseType defaults to "code".
	ResponseType string

	// PushedAuthorizationRequests submits authorization parameters to the
	// PAR endpoint before redirecting.
	PushedAuthorizationRequests bool

	// BackchannelLogoutCache stores logout token ids and revocation markers.
	// Backchannel logout is disabled when it's nil.
	BackchannelLogoutCache store.Cache

	// ClientAuthMethod defaults to client_secret_post when a secret is
	// configured, private_key_jwt when an assertion is configured and none
	// otherwise.
	ClientAuthMethod ClientAuthMethod

	// ClientAssertion signs assertions for the private_key_jwt method.
	ClientAssertion ClientAssertion

	// KeySet replaces the provider's JWKS for verifying token signatures,
	// for example a jwt.StaticKeySet.
	KeySet jwt.KeySet

	// SupportedSigningAlgs defaults to RS256.  HS256/384/512 use the
	// client secret as the key.
	SupportedSigningAlgs []jwt.Alg

	// ClockSkew is the tolerance used when checking token times.
	ClockSkew time.Duration

	// JWKSCacheTTL is how long the provider's keys are cached.
	JWKSCacheTTL time.Duration

	// HTTPTimeout is the overall timeout of requests to the provider.
	HTTPTimeout time.Duration

	// HTTPClient replaces the default http client.  ProviderCA and
	// HTTPTimeout are ignored when it's set.
	HTTPClient *http.Client

	// ProviderCA is an optional CA certs (PEM encoded) to use when sending
	// requests to the provider.
	ProviderCA string

	// ReturnToURL is the default URL the provider redirects to after logout.
	ReturnToURL string

	// Discovery uses the provider's discovery document to find its
	// endpoints instead of the well known paths.
	Discovery bool

	// OIDCLogout uses the standard RP-initiated logout endpoint instead of
	// the provider's /v2/logout endpoint.
	OIDCLogout bool

	// TransientTTL is how long an authorization request waits for its
	// callback.
	TransientTTL time.Duration

	// RevocationTTL extends how long revocation markers are kept beyond the
	// logout token's expiry.
	RevocationTTL time.Duration

	// Logger defaults to a null logger.
	Logger hclog.Logger

	// NowFunc is a time func that returns the current time.
	NowFunc func() time.Time
}

// NewConfig composes a new config for a provider.  The config is validated
// and an error matching ErrConfiguration is returned when it's invalid.
//
// Supported options: WithClientSecret, WithCookieSecret, WithCustomDomain,
// WithRedirectURL, WithScopes, WithAudiences, WithOrganization,
// WithResponseMode, WithResponseType, WithPushedAuthorizationRequests,
// WithBackchannelLogoutCache, WithClientAuthMethod, WithClientAssertionJWT,
// WithKeySet, WithSupportedSigningAlgs, WithClockSkew, WithJWKSCacheTTL,
// WithHTTPTimeout, WithHTTPClient, WithProviderCA, WithReturnToURL,
// WithDiscovery, WithOIDCLogout, WithTransientTTL, WithRevocationTTL,
// WithLogger, WithNow
func NewConfig(domain, clientID string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Domain:                      strings.TrimSuffix(strings.TrimSpace(domain), "/"),
		CustomDomain:                strings.TrimSuffix(strings.TrimSpace(opts.withCustomDomain), "/"),
		ClientID:                    clientID,
		ClientSecret:                opts.withClientSecret,
		CookieSecret:                opts.withCookieSecret,
		RedirectURL:                 opts.withRedirectURL,
		Scopes:                      opts.withScopes,
		Audiences:                   opts.withAudiences,
		Organization:                opts.withOrganization,
		ResponseMode:                opts.withResponseMode,
		ResponseType:                opts.withResponseType,
		PushedAuthorizationRequests: opts.withPushedAuthorizationRequests,
		BackchannelLogoutCache:      opts.withBackchannelLogoutCache,
		ClientAuthMethod:            opts.withClientAuthMethod,
		ClientAssertion:             opts.withClientAssertion,
		KeySet:                      opts.withKeySet,
		SupportedSigningAlgs:        opts.withSupportedSigningAlgs,
		ClockSkew:                   opts.withClockSkew,
		JWKSCacheTTL:                opts.withJWKSCacheTTL,
		HTTPTimeout:                 opts.withHTTPTimeout,
		HTTPClient:                  opts.withHTTPClient,
		ProviderCA:                  opts.withProviderCA,
		ReturnToURL:                 opts.withReturnToURL,
		Discovery:                   opts.withDiscovery,
		OIDCLogout:                  opts.withOIDCLogout,
		TransientTTL:                opts.withTransientTTL,
		RevocationTTL:               opts.withRevocationTTL,
		Logger:                      opts.withLogger,
		NowFunc:                     opts.withNow,
	}
	if c.ClientAuthMethod == "" {
		switch {
		case c.ClientAssertion != nil:
			c.ClientAuthMethod = PrivateKeyJWT
		case c.ClientSecret != "":
			c.ClientAuthMethod = ClientSecretPost
		default:
			c.ClientAuthMethod = ClientAuthNone
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration.  It doesn't make any requests to the
// provider.  Every problem found is reported in the returned error, which
// matches both ErrConfiguration and ErrInvalidParameter.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w: %w", op, ErrConfiguration, ErrNilParameter)
	}
	var result *multierror.Error
	invalid := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidParameter))
	}

	if c.Domain == "" {
		invalid("domain is empty")
	} else if _, err := baseURL(c.Domain); err != nil {
		invalid("domain %q is invalid: %s", c.Domain, err)
	}
	if c.CustomDomain != "" {
		if _, err := baseURL(c.CustomDomain); err != nil {
			invalid("custom domain %q is invalid: %s", c.CustomDomain, err)
		}
	}
	if c.ClientID == "" {
		invalid("client id is empty")
	}
	if c.RedirectURL != "" {
		if err := validRedirectURL(c.RedirectURL); err != nil {
			invalid("redirect URL %q is invalid: %s", c.RedirectURL, err)
		}
	}
	if c.ReturnToURL != "" {
		if u, err := url.Parse(c.ReturnToURL); err != nil || !u.IsAbs() {
			invalid("return to URL %q is not an absolute URL", c.ReturnToURL)
		}
	}
	if c.CookieSecret != "" && len(c.CookieSecret) < MinCookieSecretLength {
		invalid("cookie secret must be at least %d bytes", MinCookieSecretLength)
	}

	switch c.ClientAuthMethod {
	case ClientSecretPost, ClientSecretBasic:
		if c.ClientSecret == "" {
			invalid("client secret is required for %s", c.ClientAuthMethod)
		}
	case PrivateKeyJWT:
		if c.ClientAssertion == nil {
			invalid("client assertion is required for %s", c.ClientAuthMethod)
		}
	case ClientAuthNone:
	default:
		invalid("unsupported client auth method %q", c.ClientAuthMethod)
	}

	if c.ResponseType != "" && !strutils.StrListContains(strings.Fields(c.ResponseType), ResponseTypeCode) {
		invalid("response type %q doesn't include %q", c.ResponseType, ResponseTypeCode)
	}
	switch c.ResponseMode {
	case "", ResponseModeQuery, ResponseModeFormPost:
	default:
		invalid("unsupported response mode %q", c.ResponseMode)
	}

	if len(c.SupportedSigningAlgs) == 0 {
		invalid("supported signing algorithms is empty")
	}
	if err := jwt.SupportedSigningAlgorithm(c.SupportedSigningAlgs...); err != nil {
		invalid("%s", err)
	}
	for _, a := range c.SupportedSigningAlgs {
		if symmetricAlg(a) && c.ClientSecret == "" {
			invalid("%s requires a client secret", a)
		}
	}

	if c.ClockSkew < 0 {
		invalid("clock skew is negative")
	}
	if c.TransientTTL <= 0 {
		invalid("transient ttl must be greater than zero")
	}
	if c.JWKSCacheTTL <= 0 {
		invalid("jwks cache ttl must be greater than zero")
	}
	if c.RevocationTTL < 0 {
		invalid("revocation ttl is negative")
	}
	if c.HTTPTimeout < 0 {
		invalid("http timeout is negative")
	}
	if c.ProviderCA != "" {
		if ok := x509.NewCertPool().AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			result = multierror.Append(result, fmt.Errorf("could not parse CA PEM value: %w: %w", ErrInvalidCACert, ErrInvalidParameter))
		}
	}
	if c.Logger == nil {
		invalid("logger is nil")
	}
	if c.NowFunc == nil {
		invalid("now func is nil")
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrConfiguration, err)
	}
	return nil
}

// Now will return the current time which can be overridden by the NowFunc
func (c *Config) Now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now()
}

// Issuer returns the issuer of ID tokens for the config's Domain.
func (c *Config) Issuer() string {
	u, err := baseURL(c.Domain)
	if err != nil {
		return ""
	}
	return u.String() + "/"
}

// issuers returns every accepted issuer.
func (c *Config) issuers() []string {
	iss := []string{c.Issuer()}
	if c.CustomDomain != "" {
		if u, err := baseURL(c.CustomDomain); err == nil {
			iss = append(iss, u.String()+"/")
		}
	}
	return iss
}

// requestBase returns the base URL requests are sent to: the custom domain
// when one is configured.
func (c *Config) requestBase() string {
	d := c.Domain
	if c.CustomDomain != "" {
		d = c.CustomDomain
	}
	u, err := baseURL(d)
	if err != nil {
		return ""
	}
	return u.String()
}

// httpClient returns the configured client or a new default one.
func (c *Config) httpClient() (*http.Client, error) {
	const op = "Config.httpClient"
	if c.HTTPClient != nil {
		return c.HTTPClient, nil
	}
	timeout := c.HTTPTimeout
	if timeout == 0 {
		timeout = sdkhttp.DefaultTimeout
	}
	client, err := sdkhttp.NewClient(c.ProviderCA,
		sdkhttp.WithTimeout(timeout),
		sdkhttp.WithLogger(c.Logger.Named("http")),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
	}
	return client, nil
}

// baseURL parses a domain with an optional scheme into a URL without a
// trailing slash.
func baseURL(domain string) (*url.URL, error) {
	d := strings.TrimSuffix(domain, "/")
	if !strings.Contains(d, "://") {
		d = "https://" + d
	}
	u, err := url.Parse(d)
	if err != nil {
		return nil, err
	}
	switch {
	case u.Scheme != "https" && u.Scheme != "http":
		return nil, fmt.Errorf("scheme %q is not http or https", u.Scheme)
	case u.Host == "":
		return nil, fmt.Errorf("missing host")
	case u.RawQuery != "" || u.Fragment != "":
		return nil, fmt.Errorf("query and fragment are not allowed")
	}
	return u, nil
}

func validRedirectURL(s string) error {
	u, err := url.Parse(s)
	switch {
	case err != nil:
		return err
	case !u.IsAbs() || u.Host == "":
		return fmt.Errorf("not an absolute URL")
	case u.Fragment != "":
		return fmt.Errorf("fragment is not allowed")
	}
	return nil
}

func symmetricAlg(a jwt.Alg) bool {
	switch a {
	case jwt.HS256, jwt.HS384, jwt.HS512:
		return true
	default:
		return false
	}
}

// configOptions is the set of available options
type configOptions struct {
	withClientSecret                ClientSecret
	withCookieSecret                CookieSecret
	withCustomDomain                string
	withRedirectURL                 string
	withScopes                      []string
	withAudiences                   []string
	withOrganization                string
	withResponseMode                string
	withResponseType                string
	withPushedAuthorizationRequests bool
	withBackchannelLogoutCache      store.Cache
	withClientAuthMethod            ClientAuthMethod
	withClientAssertion             ClientAssertion
	withKeySet                      jwt.KeySet
	withSupportedSigningAlgs        []jwt.Alg
	withClockSkew                   time.Duration
	withJWKSCacheTTL                time.Duration
	withHTTPTimeout                 time.Duration
	withHTTPClient                  *http.Client
	withProviderCA                  string
	withReturnToURL                 string
	withDiscovery                   bool
	withOIDCLogout                  bool
	withTransientTTL                time.Duration
	withRevocationTTL               time.Duration
	withLogger                      hclog.Logger
	withNow                         func() time.Time
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{
		withResponseType:         ResponseTypeCode,
		withSupportedSigningAlgs: []jwt.Alg{jwt.RS256},
		withClockSkew:            DefaultClockSkew,
		withJWKSCacheTTL:         jwt.DefaultCacheTTL,
		withTransientTTL:         DefaultTransientTTL,
		withLogger:               hclog.NewNullLogger(),
		withNow:                  time.Now,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClientSecret provides an optional client secret for: Config
func WithClientSecret(secret ClientSecret) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withClientSecret = secret
		}
	}
}

// WithCookieSecret provides an optional cookie encryption secret for: Config
func WithCookieSecret(secret CookieSecret) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withCookieSecret = secret
		}
	}
}

// WithCustomDomain provides an optional custom domain for: Config
func WithCustomDomain(domain string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withCustomDomain = domain
		}
	}
}

// WithResponseMode provides an optional response_mode for: Config
func WithResponseMode(mode string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withResponseMode = mode
		}
	}
}

// WithResponseType provides an optional response_type for: Config
func WithResponseType(responseType string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withResponseType = responseType
		}
	}
}

// WithPushedAuthorizationRequests enables pushed authorization requests
// for: Config
func WithPushedAuthorizationRequests() Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withPushedAuthorizationRequests = true
		}
	}
}

// WithBackchannelLogoutCache provides the cache used for backchannel logout
// for: Config
func WithBackchannelLogoutCache(c store.Cache) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withBackchannelLogoutCache = c
		}
	}
}

// WithClientAuthMethod provides an optional client auth method for: Config
func WithClientAuthMethod(m ClientAuthMethod) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withClientAuthMethod = m
		}
	}
}

// WithClientAssertionJWT provides the client assertion used for
// private_key_jwt client authentication for: Config
func WithClientAssertionJWT(a ClientAssertion) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withClientAssertion = a
		}
	}
}

// WithKeySet provides an optional key set used instead of the provider's
// JWKS for: Config
func WithKeySet(ks jwt.KeySet) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withKeySet = ks
		}
	}
}

// WithSupportedSigningAlgs provides the accepted ID token signing algorithms
// for: Config
func WithSupportedSigningAlgs(algs ...jwt.Alg) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withSupportedSigningAlgs = algs
		}
	}
}

// WithClockSkew provides an optional clock skew tolerance for: Config
func WithClockSkew(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withClockSkew = d
		}
	}
}

// WithJWKSCacheTTL provides an optional key cache duration for: Config
func WithJWKSCacheTTL(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withJWKSCacheTTL = d
		}
	}
}

// WithHTTPTimeout provides an optional timeout for provider requests for:
// Config
func WithHTTPTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withHTTPTimeout = d
		}
	}
}

// WithHTTPClient provides an optional http client for: Config
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withHTTPClient = c
		}
	}
}

// WithProviderCA provides optional CA certs (PEM encoded) for the provider's
// config.  These certs will can be used when making http requests to the
// provider.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withProviderCA = cert
		}
	}
}

// WithDiscovery uses the provider's discovery document for: Config
func WithDiscovery() Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withDiscovery = true
		}
	}
}

// WithOIDCLogout uses RP-initiated logout for: Config
func WithOIDCLogout() Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withOIDCLogout = true
		}
	}
}

// WithTransientTTL provides an optional authorization request lifetime for:
// Config
func WithTransientTTL(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withTransientTTL = d
		}
	}
}

// WithRevocationTTL provides an optional extension of revocation markers'
// lifetime for: Config
func WithRevocationTTL(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withRevocationTTL = d
		}
	}
}

// WithLogger provides an optional logger for: Config
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}
