// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/rpsession/oidc"
	"github.com/hashicorp/rpsession/store"
)

func TestBackchannelLogout_parameters(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)
	p, err := oidc.NewProvider(tp.NewTestConfig(t))
	require.NoError(t, err)
	t.Cleanup(p.Done)

	_, err = BackchannelLogout(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, oidc.ErrInvalidParameter)

	_, err = BackchannelLogout(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, oidc.ErrConfiguration)
}

func TestBackchannelLogout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	cache := store.NewMemory()
	p, err := oidc.NewProvider(tp.NewTestConfig(t, oidc.WithBackchannelLogoutCache(cache)))
	require.NoError(t, err)
	t.Cleanup(p.Done)

	h, err := BackchannelLogout(p, WithMaxBodyBytes(4096))
	require.NoError(t, err)

	post := func(contentType string, form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "https://example.com/backchannel", strings.NewReader(form.Encode()))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec
	}
	token := func(sid string, overrides map[string]interface{}) url.Values {
		return url.Values{"logout_token": {tp.IssueLogoutToken(t, sid, "", overrides)}}
	}

	t.Run("valid", func(t *testing.T) {
		createdAt := time.Now().Add(-time.Minute)
		revoked, err := p.IsRevoked(ctx, "sid-valid", "", createdAt)
		require.NoError(t, err)
		require.False(t, revoked)

		form := token("sid-valid", nil)
		rec := post(formContentType, form)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.String())

		revoked, err = p.IsRevoked(ctx, "sid-valid", "", createdAt)
		require.NoError(t, err)
		assert.True(t, revoked)

		// a replay is still a success
		n := cache.Len()
		rec = post(formContentType, form)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, n, cache.Len())
	})

	t.Run("content-type-parameters", func(t *testing.T) {
		rec := post(formContentType+"; charset=utf-8", token("sid-charset", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	rejected := []struct {
		name        string
		method      string
		contentType string
		form        url.Values
	}{
		{name: "get", method: http.MethodGet, contentType: formContentType, form: token("sid-get", nil)},
		{name: "json", contentType: "application/json", form: token("sid-json", nil)},
		{name: "no-content-type", form: token("sid-none", nil)},
		{name: "missing-token", contentType: formContentType, form: url.Values{"other": {"x"}}},
		{name: "empty-token", contentType: formContentType, form: url.Values{"logout_token": {""}}},
		{name: "garbage-token", contentType: formContentType, form: url.Values{"logout_token": {"not.a.jwt"}}},
		{name: "id-token", contentType: formContentType, form: url.Values{"logout_token": {tp.IssueIDToken(t, nil)}}},
		{name: "expired", contentType: formContentType, form: token("sid-expired", map[string]interface{}{
			"iat": time.Now().Add(-time.Hour).Unix(),
			"exp": time.Now().Add(-30 * time.Minute).Unix(),
		})},
		{name: "with-nonce", contentType: formContentType, form: token("sid-nonce", map[string]interface{}{"nonce": "n"})},
		{name: "too-large", contentType: formContentType, form: url.Values{"logout_token": {strings.Repeat("a", 8192)}}},
	}
	for _, tt := range rejected {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodPost
			}
			req := httptest.NewRequest(method, "https://example.com/backchannel", strings.NewReader(tt.form.Encode()))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			n := cache.Len()
			rec := httptest.NewRecorder()
			h(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, rec.Body.String())
			assert.Equal(t, n, cache.Len(), "no marker is written")
		})
	}
}
