// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	josejwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/hashicorp/rpsession/jwt"
	"github.com/hashicorp/rpsession/oidc/internal/strutils"
)

// IDTokenClaims are the verified claims of an ID token.
type IDTokenClaims struct {
	Issuer          string               `json:"iss"`
	Subject         string               `json:"sub"`
	Audience        josejwt.Audience     `json:"aud"`
	AuthorizedParty string               `json:"azp,omitempty"`
	Expiry          *josejwt.NumericDate `json:"exp,omitempty"`
	IssuedAt        *josejwt.NumericDate `json:"iat,omitempty"`
	AuthTime        *josejwt.NumericDate `json:"auth_time,omitempty"`
	Nonce           string               `json:"nonce,omitempty"`
	SessionID       string               `json:"sid,omitempty"`
	OrgID           string               `json:"org_id,omitempty"`
	OrgName         string               `json:"org_name,omitempty"`

	// Raw holds every claim of the token.
	Raw map[string]interface{} `json:"-"`
}

// VerifyIDToken verifies the ID token's signature and claims.  Each failed
// check is reported as an *InvalidTokenError naming it, in this order:
// signature, claims (sub, exp and iat present), issuer, audience, authorized
// party, expiry, nonce, subject, organization and auth_time.  A failure to
// fetch the provider's keys is a *NetworkError instead.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
//
// Supported options: WithNonce, WithSubject, WithIssuer, WithOrganization,
// WithMaxAge
func (p *Provider) VerifyIDToken(ctx context.Context, t IDToken, opt ...Option) (*IDTokenClaims, error) {
	const op = "Provider.VerifyIDToken"
	if t == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	opts := getVerifyOpts(opt...)

	raw, err := p.verifySignature(ctx, string(t))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var c IDTokenClaims
	if err := decodeClaims(raw, &c); err != nil {
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckClaims, "malformed claims", err))
	}
	c.Raw = raw

	now := p.config.Now()
	skew := p.config.ClockSkew
	switch {
	case c.Subject == "":
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckClaims, "missing sub", nil))
	case c.Expiry == nil:
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckClaims, "missing exp", nil))
	case c.IssuedAt == nil:
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckClaims, "missing iat", nil))
	}
	if err := p.verifyIssuerAndAudience(c.Issuer, c.Audience); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if opts.withIssuer != "" && c.Issuer != opts.withIssuer {
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckIssuer, fmt.Sprintf("issuer %q isn't %q", c.Issuer, opts.withIssuer), nil))
	}
	if len(c.Audience) > 1 || c.AuthorizedParty != "" {
		if c.AuthorizedParty != p.config.ClientID {
			return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckAuthorizedParty, fmt.Sprintf("azp %q isn't the client id", c.AuthorizedParty), nil))
		}
	}
	if now.After(c.Expiry.Time().Add(skew)) {
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckExpiry, fmt.Sprintf("expired at %s", c.Expiry.Time().UTC().Format(time.RFC3339)), nil))
	}
	if opts.withNonce != "" {
		if c.Nonce == "" {
			return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckNonce, "missing nonce", nil))
		}
		if subtle.ConstantTimeCompare([]byte(c.Nonce), []byte(opts.withNonce)) != 1 {
			return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckNonce, "nonce doesn't match the request", nil))
		}
	}
	if opts.withSubject != "" && c.Subject != opts.withSubject {
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckSubject, "sub doesn't match the expected subject", nil))
	}
	if opts.withOrganization != "" {
		if err := verifyOrganization(&c, opts.withOrganization); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if opts.withMaxAge != nil {
		if c.AuthTime == nil {
			return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckAuthTime, "missing auth_time", nil))
		}
		if now.After(c.AuthTime.Time().Add(*opts.withMaxAge).Add(skew)) {
			return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckAuthTime, "authentication is older than max_age", nil))
		}
	}
	return &c, nil
}

// verifySignature verifies the token with the provider's keys and returns
// its claims.
func (p *Provider) verifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	claims, err := p.keySet.VerifySignature(ctx, token)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrKeySetFetch):
		return nil, &NetworkError{Err: err}
	default:
		return nil, invalidToken(CheckSignature, "", err)
	}
}

// verifyIssuerAndAudience checks the issuer is the configured domain (or
// custom domain) and the audience contains the client id.
func (p *Provider) verifyIssuerAndAudience(iss string, aud []string) error {
	if !strutils.StrListContains(p.config.issuers(), iss) {
		return invalidToken(CheckIssuer, fmt.Sprintf("unexpected issuer %q", iss), nil)
	}
	if !strutils.StrListContains(aud, p.config.ClientID) {
		return invalidToken(CheckAudience, "audience doesn't contain the client id", nil)
	}
	return nil
}

// verifyOrganization compares org against org_id when it's an organization
// id (org_...) and against org_name, case insensitively, otherwise.
func verifyOrganization(c *IDTokenClaims, org string) error {
	if strings.HasPrefix(org, "org_") {
		switch {
		case c.OrgID == "":
			return invalidToken(CheckOrganization, "missing org_id", nil)
		case c.OrgID != org:
			return invalidToken(CheckOrganization, "org_id doesn't match the requested organization", nil)
		}
		return nil
	}
	switch {
	case c.OrgName == "":
		return invalidToken(CheckOrganization, "missing org_name", nil)
	case !strings.EqualFold(c.OrgName, org):
		return invalidToken(CheckOrganization, "org_name doesn't match the requested organization", nil)
	}
	return nil
}

// decodeClaims converts verified claims into a typed struct.
func decodeClaims(raw map[string]interface{}, v interface{}) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// verifyOptions is the set of available options for VerifyIDToken
type verifyOptions struct {
	withNonce        string
	withSubject      string
	withIssuer       string
	withOrganization string
	withMaxAge       *time.Duration
}

func verifyDefaults() verifyOptions {
	return verifyOptions{}
}

func getVerifyOpts(opt ...Option) verifyOptions {
	opts := verifyDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithNonce provides the nonce the ID token must carry for: VerifyIDToken
func WithNonce(nonce string) Option {
	return func(o interface{}) {
		if v, ok := o.(*verifyOptions); ok {
			v.withNonce = nonce
		}
	}
}

// WithSubject provides the sub the ID token must carry for: VerifyIDToken,
// Renew
func WithSubject(sub string) Option {
	return func(o interface{}) {
		if v, ok := o.(*verifyOptions); ok {
			v.withSubject = sub
		}
	}
}

// WithIssuer provides the exact iss the ID token must carry, which narrows
// the issuers the config accepts, for: VerifyIDToken, Renew
func WithIssuer(iss string) Option {
	return func(o interface{}) {
		if v, ok := o.(*verifyOptions); ok {
			v.withIssuer = iss
		}
	}
}
