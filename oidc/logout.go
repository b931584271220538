// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"net/url"
)

// LogoutURL returns the provider URL which ends the user's session with the
// provider and then redirects to the return URL (WithReturnToURL, defaulting
// to the config's ReturnToURL).
//
// By default it's the provider's /v2/logout endpoint.  With the config's
// OIDCLogout it's the RP-initiated logout endpoint, which takes the return
// URL as post_logout_redirect_uri and an optional id_token_hint.
//
// Supported options: WithReturnToURL, WithIDTokenHint, WithFederated
func (p *Provider) LogoutURL(opt ...Option) (string, error) {
	const op = "Provider.LogoutURL"
	opts := getLogoutOpts(p.config, opt...)
	if opts.withReturnToURL != "" {
		if u, err := url.Parse(opts.withReturnToURL); err != nil || !u.IsAbs() {
			return "", fmt.Errorf("%s: return to URL %q is not an absolute URL: %w", op, opts.withReturnToURL, ErrInvalidParameter)
		}
	}
	params := url.Values{"client_id": {p.config.ClientID}}
	if !p.config.OIDCLogout {
		if opts.withReturnToURL != "" {
			params.Set("returnTo", opts.withReturnToURL)
		}
		if opts.withFederated {
			params.Set("federated", "")
		}
		return p.endpoints.Logout + "?" + params.Encode(), nil
	}
	if opts.withReturnToURL != "" {
		params.Set("post_logout_redirect_uri", opts.withReturnToURL)
	}
	if opts.withIDTokenHint != "" {
		params.Set("id_token_hint", string(opts.withIDTokenHint))
	}
	return p.endpoints.EndSession + "?" + params.Encode(), nil
}

// logoutOptions is the set of available options for LogoutURL
type logoutOptions struct {
	withReturnToURL string
	withIDTokenHint IDToken
	withFederated   bool
}

func logoutDefaults(c *Config) logoutOptions {
	return logoutOptions{withReturnToURL: c.ReturnToURL}
}

func getLogoutOpts(c *Config, opt ...Option) logoutOptions {
	opts := logoutDefaults(c)
	ApplyOpts(&opts, opt...)
	return opts
}

// WithIDTokenHint provides the ID token of the session being ended for:
// LogoutURL (RP-initiated logout only)
func WithIDTokenHint(t IDToken) Option {
	return func(o interface{}) {
		if v, ok := o.(*logoutOptions); ok {
			v.withIDTokenHint = t
		}
	}
}

// WithFederated also logs the user out of the provider's upstream identity
// provider for: LogoutURL (/v2/logout only)
func WithFederated() Option {
	return func(o interface{}) {
		if v, ok := o.(*logoutOptions); ok {
			v.withFederated = true
		}
	}
}
