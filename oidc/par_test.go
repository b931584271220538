// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_PushAuthorizationRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	params := func() url.Values {
		return url.Values{
			"response_type":         {ResponseTypeCode},
			"redirect_uri":          {TestRedirectURL},
			"scope":                 {"openid"},
			"state":                 {"st_state"},
			"nonce":                 {"n_nonce"},
			"code_challenge":        {GenerateCodeChallenge("verifier-verifier-verifier-verifier-verifier")},
			"code_challenge_method": {string(S256)},
		}
	}

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		uri, expiresIn, err := p.PushAuthorizationRequest(ctx, params())
		require.NoError(err)
		assert.Contains(uri, testRequestURIBase)
		assert.Equal(60*time.Second, expiresIn)
		got := tp.LastRequest(PARPath)
		assert.Equal(TestClientID, got.Get("client_id"))
		assert.Equal(TestClientSecret, got.Get("client_secret"))
		assert.Equal("st_state", got.Get("state"))
	})
	t.Run("basic-auth", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp, WithClientAuthMethod(ClientSecretBasic))
		_, _, err := p.PushAuthorizationRequest(ctx, params())
		require.NoError(err)
		assert.Empty(tp.LastRequest(PARPath).Get("client_secret"))
	})
	t.Run("wrong-secret", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp, WithClientSecret("wrong"))
		_, _, err := p.PushAuthorizationRequest(ctx, params())
		var parErr *PARResponseError
		require.True(t, errors.As(err, &parErr))
		assert.Equal(t, http.StatusUnauthorized, parErr.StatusCode)
		assert.Equal(t, redactedParam, parErr.Request.Get("client_secret"))
		assert.Equal(t, "st_state", parErr.Request.Get("state"))
		assert.NotContains(t, err.Error(), "wrong")
	})
	t.Run("missing-params", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, _, err := p.PushAuthorizationRequest(ctx, nil)
		assert.ErrorIs(t, err, ErrInvalidParameter)
		assert.Equal(t, 0, tp.RequestCount(PARPath))
	})
	t.Run("network", func(t *testing.T) {
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		tp.Stop()
		_, _, err := p.PushAuthorizationRequest(ctx, params())
		assert.ErrorIs(t, err, ErrNetwork)
	})

	malformed := []struct {
		name   string
		status int
		body   string
	}{
		{name: "status-200", status: http.StatusOK, body: `{"request_uri":"urn:x","expires_in":60}`},
		{name: "status-400", status: http.StatusBadRequest, body: `{"error":"invalid_request"}`},
		{name: "not-json", status: http.StatusCreated, body: `request_uri=urn:x`},
		{name: "json-array", status: http.StatusCreated, body: `["urn:x",60]`},
		{name: "missing-request-uri", status: http.StatusCreated, body: `{"expires_in":60}`},
		{name: "empty-request-uri", status: http.StatusCreated, body: `{"request_uri":"","expires_in":60}`},
		{name: "numeric-request-uri", status: http.StatusCreated, body: `{"request_uri":42,"expires_in":60}`},
		{name: "missing-expires-in", status: http.StatusCreated, body: `{"request_uri":"urn:x"}`},
		{name: "string-expires-in", status: http.StatusCreated, body: `{"request_uri":"urn:x","expires_in":"60"}`},
		{name: "fractional-expires-in", status: http.StatusCreated, body: `{"request_uri":"urn:x","expires_in":60.5}`},
		{name: "exponent-expires-in", status: http.StatusCreated, body: `{"request_uri":"urn:x","expires_in":6e1}`},
		{name: "zero-expires-in", status: http.StatusCreated, body: `{"request_uri":"urn:x","expires_in":0}`},
		{name: "negative-expires-in", status: http.StatusCreated, body: `{"request_uri":"urn:x","expires_in":-1}`},
	}
	tp := StartTestProvider(t)
	p := testNewProvider(t, tp)
	for _, tt := range malformed {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			tp.SetResponse(PARPath, tt.status, tt.body, 1)
			uri, expiresIn, err := p.PushAuthorizationRequest(ctx, params())
			require.Error(err)
			assert.ErrorIs(err, ErrPARResponse)
			var parErr *PARResponseError
			require.True(errors.As(err, &parErr))
			assert.Equal(tt.status, parErr.StatusCode)
			assert.Equal(tt.body, string(parErr.Response))
			assert.Equal(redactedParam, parErr.Request.Get("client_secret"))
			assert.Empty(uri)
			assert.Zero(expiresIn)
		})
	}
}

func TestRedactCredentials(t *testing.T) {
	t.Parallel()
	form := url.Values{
		"client_id":        {"client"},
		"client_secret":    {"secret"},
		"client_assertion": {"a.b.c"},
		"state":            {"st"},
	}
	got := redactCredentials(form)
	assert.Equal(t, url.Values{
		"client_id":        {"client"},
		"client_secret":    {redactedParam},
		"client_assertion": {redactedParam},
		"state":            {"st"},
	}, got)
	assert.Equal(t, "secret", form.Get("client_secret"))
}
