// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"

	"github.com/hashicorp/rpsession/oidc/internal/strutils"
	"github.com/hashicorp/rpsession/store"
)

// Prompt is a string values that specifies whether the Authorization Server
// prompts the End-User for reauthentication and consent.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
type Prompt string

const (
	// Defined the Prompt values that specifies whether the Authorization Server
	// prompts the End-User for reauthentication and consent.
	//
	// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
	None          Prompt = "none"
	Login         Prompt = "login"
	Consent       Prompt = "consent"
	SelectAccount Prompt = "select_account"
)

// reservedAuthParams can't be replaced with WithExtraParams.
var reservedAuthParams = []string{
	"client_id",
	"code_challenge",
	"code_challenge_method",
	"nonce",
	"redirect_uri",
	"request_uri",
	"response_type",
	"scope",
	"state",
}

// AuthURL starts an authorization code flow and returns the URL to redirect
// the user to.  A new state, nonce and PKCE code verifier are generated and
// saved in transient, which must be the same store later passed to Exchange.
// When pushed authorization requests are configured, the parameters are
// first pushed to the provider and the returned URL only refers to them.
//
// Options override the config's defaults for this request.
//
// Supported options: WithScopes, WithAudiences, WithOrganization,
// WithInvitation, WithRedirectURL, WithPrompts, WithMaxAge, WithUILocales,
// WithExtraParams
func (p *Provider) AuthURL(ctx context.Context, transient store.Store, opt ...Option) (string, error) {
	const op = "Provider.AuthURL"
	if transient == nil {
		return "", fmt.Errorf("%s: transient store is nil: %w", op, ErrNilParameter)
	}
	opts := getAuthURLOpts(p.config, opt...)
	if opts.withRedirectURL == "" {
		return "", fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	if err := validRedirectURL(opts.withRedirectURL); err != nil {
		return "", fmt.Errorf("%s: redirect URL %q is invalid: %s: %w", op, opts.withRedirectURL, err, ErrInvalidParameter)
	}
	if len(opts.withPrompts) > 1 && promptsContain(opts.withPrompts, None) {
		return "", fmt.Errorf("%s: prompt %q can't be combined with other prompts: %w", op, None, ErrInvalidParameter)
	}
	if opts.withMaxAge != nil && *opts.withMaxAge < 0 {
		return "", fmt.Errorf("%s: max age is negative: %w", op, ErrInvalidParameter)
	}

	state, err := NewID("st")
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	nonce, err := NewID("n")
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}
	verifier, err := NewCodeVerifier()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate code verifier: %w", op, err)
	}

	params, err := p.authParams(state, nonce, verifier, opts)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	t := &TransientAuthRequest{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier.Verifier(),
		RedirectURL:  opts.withRedirectURL,
		Organization: opts.withOrganization,
		MaxAge:       opts.withMaxAge,
	}
	if err := saveTransient(ctx, transient, t, p.config.TransientTTL); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if !p.config.PushedAuthorizationRequests {
		return p.endpoints.Authorize + "?" + params.Encode(), nil
	}
	requestURI, _, err := p.PushAuthorizationRequest(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return p.endpoints.Authorize + "?" + url.Values{
		"client_id":   {p.config.ClientID},
		"request_uri": {requestURI},
	}.Encode(), nil
}

// authParams assembles the authorization request parameters with x/oauth2.
func (p *Provider) authParams(state, nonce string, verifier CodeVerifier, opts authURLOptions) (url.Values, error) {
	const op = "Provider.authParams"
	scopes := strutils.RemoveDuplicatesStable(append([]string{gooidc.ScopeOpenID}, opts.withScopes...), false)
	conf := p.oauth2Config(opts.withRedirectURL, scopes)

	var authOpts []oauth2.AuthCodeOption
	for k, v := range opts.withExtraParams {
		if strutils.StrListContains(reservedAuthParams, k) {
			p.logger.Debug("ignoring reserved authorization parameter", "param", k)
			continue
		}
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, v))
	}
	if len(opts.withAudiences) > 0 {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("audience", strings.Join(opts.withAudiences, " ")))
	}
	if opts.withOrganization != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("organization", opts.withOrganization))
	}
	if opts.withInvitation != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("invitation", opts.withInvitation))
	}
	if p.config.ResponseMode != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("response_mode", p.config.ResponseMode))
	}
	if len(opts.withPrompts) > 0 {
		prompts := make([]string, 0, len(opts.withPrompts))
		for _, pr := range opts.withPrompts {
			prompts = append(prompts, string(pr))
		}
		authOpts = append(authOpts, oauth2.SetAuthURLParam("prompt", strings.Join(strutils.RemoveDuplicatesStable(prompts, false), " ")))
	}
	if opts.withMaxAge != nil {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("max_age", strconv.FormatInt(int64(opts.withMaxAge.Seconds()), 10)))
	}
	if len(opts.withUILocales) > 0 {
		locales := make([]string, 0, len(opts.withUILocales))
		for _, l := range opts.withUILocales {
			locales = append(locales, l.String())
		}
		authOpts = append(authOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	authOpts = append(authOpts,
		oauth2.SetAuthURLParam("response_type", p.config.ResponseType),
		gooidc.Nonce(nonce),
		oauth2.SetAuthURLParam("code_challenge", verifier.Challenge()),
		oauth2.SetAuthURLParam("code_challenge_method", string(verifier.Method())),
	)

	u, err := url.Parse(conf.AuthCodeURL(state, authOpts...))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse authorization URL: %w", op, err)
	}
	return u.Query(), nil
}

func promptsContain(prompts []Prompt, want Prompt) bool {
	for _, p := range prompts {
		if p == want {
			return true
		}
	}
	return false
}

// authURLOptions is the set of available options for AuthURL
type authURLOptions struct {
	withScopes       []string
	withAudiences    []string
	withOrganization string
	withInvitation   string
	withRedirectURL  string
	withPrompts      []Prompt
	withMaxAge       *time.Duration
	withUILocales    []language.Tag
	withExtraParams  map[string]string
}

// authURLDefaults takes its defaults from the config.
func authURLDefaults(c *Config) authURLOptions {
	return authURLOptions{
		withScopes:       c.Scopes,
		withAudiences:    c.Audiences,
		withOrganization: c.Organization,
		withRedirectURL:  c.RedirectURL,
	}
}

func getAuthURLOpts(c *Config, opt ...Option) authURLOptions {
	opts := authURLDefaults(c)
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPrompts provides an optional list of values that specifies whether the
// provider prompts the user for reauthentication and consent for: AuthURL.
// None can't be combined with other prompts.
func WithPrompts(prompts ...Prompt) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withPrompts = prompts
		}
	}
}

// WithInvitation provides an optional organization invitation id for:
// AuthURL
func WithInvitation(invitation string) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withInvitation = invitation
		}
	}
}

// WithExtraParams provides optional additional authorization request
// parameters for: AuthURL.  The parameters that bind the request to its
// callback (state, nonce, code_challenge, redirect_uri and the like) can't be
// replaced and are ignored.
func WithExtraParams(params map[string]string) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withExtraParams = params
		}
	}
}
