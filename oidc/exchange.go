// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/hashicorp/rpsession/store"
)

// Exchange completes an authorization code flow started by AuthURL.  The
// pending request is read from transient and deleted whatever the outcome,
// so a callback can only be redeemed once.
//
// When no request is pending or callbackState doesn't match it, Exchange
// fails with ErrStateMismatch without contacting the provider.  Otherwise
// the code is redeemed together with the PKCE code verifier and the
// returned ID token is verified, including its nonce.
//
// On success, the Token returned will include an IDToken and an AccessToken.
// Based on the provider, it may include a RefreshToken.
func (p *Provider) Exchange(ctx context.Context, transient store.Store, callbackState, code string) (*Tk, *IDTokenClaims, error) {
	const op = "Provider.Exchange"
	if transient == nil {
		return nil, nil, fmt.Errorf("%s: transient store is nil: %w", op, ErrNilParameter)
	}
	t, err := consumeTransient(ctx, transient)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if t.State == "" {
		return nil, nil, fmt.Errorf("%s: no authorization request is pending: %w", op, ErrStateMismatch)
	}
	if subtle.ConstantTimeCompare([]byte(t.State), []byte(callbackState)) != 1 {
		return nil, nil, fmt.Errorf("%s: callback state doesn't match the pending request: %w", op, ErrStateMismatch)
	}
	if t.Nonce == "" || t.CodeVerifier == "" {
		return nil, nil, fmt.Errorf("%s: pending request is incomplete: %w", op, ErrStateMismatch)
	}
	if code == "" {
		return nil, nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}

	conf := p.oauth2Config(t.RedirectURL, nil)
	oauth2Token, err := conf.Exchange(p.HTTPClientContext(ctx), code, oauth2.VerifierOption(t.CodeVerifier))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, tokenEndpointError(err))
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIDToken)
	}
	verifyOpts := []Option{WithNonce(t.Nonce)}
	if t.Organization != "" {
		verifyOpts = append(verifyOpts, WithOrganization(t.Organization))
	}
	if t.MaxAge != nil {
		verifyOpts = append(verifyOpts, WithMaxAge(*t.MaxAge))
	}
	claims, err := p.VerifyIDToken(ctx, IDToken(idToken), verifyOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	tk, err := NewToken(IDToken(idToken), oauth2Token, WithNow(p.config.NowFunc))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to create token: %w", op, err)
	}
	return tk, claims, nil
}

// Renew redeems a refresh token for a new access token.  The returned Token
// carries the rotated refresh token when the provider issued one, otherwise
// the one given.  Its IDToken is only set when the provider returned a new
// ID token, which is verified.  Callers holding the session's claims should
// pass WithSubject and WithIssuer, so a refreshed ID token for another user
// fails with an *InvalidTokenError.
//
// A 4xx response from the provider fails with an *InvalidGrantError: the
// refresh token can't be used again and the user must authenticate again.
//
// Supported options: WithSubject, WithIssuer
func (p *Provider) Renew(ctx context.Context, refreshToken RefreshToken, opt ...Option) (*Tk, error) {
	const op = "Provider.Renew"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	conf := p.oauth2Config("", nil)
	src := conf.TokenSource(p.HTTPClientContext(ctx), &oauth2.Token{RefreshToken: string(refreshToken)})
	oauth2Token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to refresh token: %w", op, tokenEndpointError(err))
	}

	var idToken IDToken
	if raw, ok := oauth2Token.Extra("id_token").(string); ok && raw != "" {
		if _, err := p.VerifyIDToken(ctx, IDToken(raw), opt...); err != nil {
			return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
		}
		idToken = IDToken(raw)
	}
	tk, err := NewToken(idToken, oauth2Token, WithNow(p.config.NowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create token: %w", op, err)
	}
	return tk, nil
}

// tokenEndpointError classifies an error returned by x/oauth2 for a token
// request.
func tokenEndpointError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
			return &InvalidGrantError{
				StatusCode:  status,
				Code:        re.ErrorCode,
				Description: re.ErrorDescription,
				Err:         err,
			}
		}
		return &NetworkError{StatusCode: status, Body: re.Body, Err: err}
	}
	if strings.Contains(err.Error(), "missing access_token") {
		return fmt.Errorf("%w: %w", ErrMissingAccessToken, err)
	}
	return &NetworkError{Err: err}
}
