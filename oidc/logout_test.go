// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_LogoutURL(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)

	t.Run("v2-logout", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := testNewProvider(t, tp, WithReturnToURL("https://example.com/bye"))
		got, err := p.LogoutURL()
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Equal(tp.Addr()+LogoutPath, u.Scheme+"://"+u.Host+u.Path)
		assert.Equal(url.Values{
			"client_id": {TestClientID},
			"returnTo":  {"https://example.com/bye"},
		}, u.Query())

		resp, err := tp.HTTPClient().Get(got)
		require.NoError(err)
		defer resp.Body.Close()
		assert.Equal(http.StatusFound, resp.StatusCode)
		assert.Equal("https://example.com/bye", resp.Header.Get("Location"))
	})
	t.Run("override-and-federated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := testNewProvider(t, tp, WithReturnToURL("https://example.com/bye"))
		got, err := p.LogoutURL(WithReturnToURL("https://example.com/other"), WithFederated(), WithIDTokenHint("ignored"))
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		q := u.Query()
		assert.Equal("https://example.com/other", q.Get("returnTo"))
		_, federated := q["federated"]
		assert.True(federated)
		assert.Empty(q.Get("id_token_hint"))
	})
	t.Run("no-return-url", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := testNewProvider(t, tp)
		got, err := p.LogoutURL()
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Equal(url.Values{"client_id": {TestClientID}}, u.Query())
	})
	t.Run("oidc-logout", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := testNewProvider(t, tp, WithOIDCLogout())
		hint := IDToken(tp.IssueIDToken(t, nil))
		got, err := p.LogoutURL(WithReturnToURL("https://example.com/bye"), WithIDTokenHint(hint), WithFederated())
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Equal(tp.Addr()+OIDCLogoutPath, u.Scheme+"://"+u.Host+u.Path)
		assert.Equal(url.Values{
			"client_id":                {TestClientID},
			"post_logout_redirect_uri": {"https://example.com/bye"},
			"id_token_hint":            {string(hint)},
		}, u.Query())

		resp, err := tp.HTTPClient().Get(got)
		require.NoError(err)
		defer resp.Body.Close()
		assert.Equal(http.StatusFound, resp.StatusCode)
		assert.Equal("https://example.com/bye", resp.Header.Get("Location"))
	})
	t.Run("relative-return-url", func(t *testing.T) {
		p := testNewProvider(t, tp)
		got, err := p.LogoutURL(WithReturnToURL("/bye"))
		assert.ErrorIs(t, err, ErrInvalidParameter)
		assert.Empty(t, got)
	})
}
