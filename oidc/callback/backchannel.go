// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/hashicorp/rpsession/oidc"
)

// DefaultMaxLogoutRequestBytes is the default limit on the size of a
// backchannel logout request body.
const DefaultMaxLogoutRequestBytes = 64 * 1024

const formContentType = "application/x-www-form-urlencoded"

// BackchannelLogout creates a handler for backchannel logout requests from
// the provider.  The provider's config must have a BackchannelLogoutCache.
//
// Only POSTs of a form with a logout_token are handled.  A valid token, or
// one which was already handled, gets a 200 response.  Everything else gets
// a 400 response with no body, whatever the reason, which is logged.
//
// Supported options: WithLogger, WithMaxBodyBytes
func BackchannelLogout(p *oidc.Provider, opt ...Option) (http.HandlerFunc, error) {
	const op = "callback.BackchannelLogout"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, oidc.ErrInvalidParameter)
	}
	if p.Config().BackchannelLogoutCache == nil {
		return nil, fmt.Errorf("%s: backchannel logout cache is not configured: %w", op, oidc.ErrConfiguration)
	}
	opts := getBackchannelOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = p.Config().Logger.Named("backchannel")
	}
	return func(w http.ResponseWriter, req *http.Request) {
		ignore := func(reason string, args ...interface{}) {
			logger.Debug("ignoring backchannel logout request", append([]interface{}{"reason", reason}, args...)...)
			w.WriteHeader(http.StatusBadRequest)
		}
		if req.Method != http.MethodPost {
			ignore("method not allowed", "method", req.Method)
			return
		}
		if mt, _, err := mime.ParseMediaType(req.Header.Get("Content-Type")); err != nil || mt != formContentType {
			ignore("unsupported content type", "content_type", req.Header.Get("Content-Type"))
			return
		}
		req.Body = http.MaxBytesReader(w, req.Body, opts.withMaxBodyBytes)
		if err := req.ParseForm(); err != nil {
			ignore("unreadable form", "error", err)
			return
		}
		rawToken := req.PostForm.Get("logout_token")
		if rawToken == "" {
			ignore("missing logout_token")
			return
		}

		lt, err := p.HandleLogoutToken(req.Context(), rawToken)
		switch {
		case errors.Is(err, oidc.ErrReplay):
			logger.Debug("backchannel logout token was already handled", "jti", lt.ID)
		case errors.Is(err, oidc.ErrInvalidToken):
			var ite *oidc.InvalidTokenError
			check := "unknown"
			if errors.As(err, &ite) {
				check = string(ite.Check)
			}
			logger.Warn("rejected backchannel logout token", "check", check, "error", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		case err != nil:
			logger.Error("unable to handle backchannel logout token", "error", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
	}, nil
}
