// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"

	"golang.org/x/text/language"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithNow provides an optional clock for: Config, Token
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *configOptions:
			v.withNow = now
		case *tokenOptions:
			v.withNow = now
		}
	}
}

// WithScopes provides an optional list of scopes for: Config, AuthURL.
// The "openid" scope is always requested.  Scopes passed to AuthURL replace
// the configured scopes.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withScopes = scopes
		case *authURLOptions:
			v.withScopes = scopes
		}
	}
}

// WithAudiences provides an optional list of audiences for: Config, AuthURL.
// For AuthURL it's sent as the "audience" request parameter, which the
// provider uses to choose the API the access token is issued for.
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withAudiences = auds
		case *authURLOptions:
			v.withAudiences = auds
		}
	}
}

// WithOrganization provides an optional organization id (org_...) or name
// for: Config, AuthURL, VerifyIDToken.  It's sent as the "organization"
// request parameter and the resulting ID token must carry a matching org_id
// or org_name claim.
func WithOrganization(org string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withOrganization = org
		case *authURLOptions:
			v.withOrganization = org
		case *verifyOptions:
			v.withOrganization = org
		}
	}
}

// WithRedirectURL provides an optional redirect URL for: Config, AuthURL.
// The redirect URL used for an authorization request is stored with its
// transient state and reused when the code is exchanged.
func WithRedirectURL(redirectURL string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withRedirectURL = redirectURL
		case *authURLOptions:
			v.withRedirectURL = redirectURL
		}
	}
}

// WithMaxAge provides an optional max age for: AuthURL, VerifyIDToken.  It's
// sent as the "max_age" request parameter and the ID token's auth_time must
// be no older than it.
func WithMaxAge(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *authURLOptions:
			v.withMaxAge = &d
		case *verifyOptions:
			v.withMaxAge = &d
		}
	}
}

// WithUILocales provides optional preferred languages for the provider's UI
// for: AuthURL
func WithUILocales(tags ...language.Tag) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withUILocales = tags
		}
	}
}

// WithReturnToURL provides an optional URL the provider redirects to after
// logout for: Config, LogoutURL
func WithReturnToURL(returnTo string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withReturnToURL = returnTo
		case *logoutOptions:
			v.withReturnToURL = returnTo
		}
	}
}
