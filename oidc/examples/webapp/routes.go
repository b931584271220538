// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/rpsession/oidc"
	"github.com/hashicorp/rpsession/oidc/callback"
	"github.com/hashicorp/rpsession/session"
	"github.com/hashicorp/rpsession/store"
)

func routes(m *session.Manager, secret oidc.CookieSecret, logger hclog.Logger) (*http.ServeMux, error) {
	const op = "routes"
	cookies, err := callback.CookieStores(secret, store.WithSecureCookies(false), store.WithCookiePrefix("webapp"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	eFn := failedFn(logger)

	login, err := callback.Login(m, cookies, eFn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	authCode, err := callback.AuthCode(m, cookies, cookies, successFn(logger), eFn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	logout, err := callback.Logout(m, cookies, eFn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	backchannel, err := callback.BackchannelLogout(m.Provider(), callback.WithLogger(logger.Named("backchannel")))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login", login)
	mux.HandleFunc("/callback", authCode)
	mux.HandleFunc("/logout", logout)
	mux.HandleFunc("/backchannel-logout", backchannel)
	mux.HandleFunc("/", profileHandler(m, cookies, logger))
	return mux, nil
}

func successFn(logger hclog.Logger) callback.SuccessResponseFunc {
	return func(state string, c *session.Credentials, w http.ResponseWriter, req *http.Request) {
		logger.Info("logged in", "sub", c.Claims.Subject)
		http.Redirect(w, req, "/", http.StatusSeeOther)
	}
}

func failedFn(logger hclog.Logger) callback.ErrorResponseFunc {
	return func(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
		switch {
		case r != nil:
			logger.Warn("error from oidc provider", "error", r.Error, "description", r.Description)
			http.Error(w, fmt.Sprintf("login failed: %s", r.Error), http.StatusUnauthorized)
		case e != nil:
			logger.Error("request failed", "path", req.URL.Path, "error", e)
			http.Error(w, "request failed", http.StatusInternalServerError)
		default:
			http.Error(w, "unknown error", http.StatusInternalServerError)
		}
	}
}

type profile struct {
	Subject    string    `json:"sub"`
	Issuer     string    `json:"iss"`
	SessionID  string    `json:"sid,omitempty"`
	Scope      string    `json:"scope,omitempty"`
	State      string    `json:"state"`
	ExpiresAt  time.Time `json:"access_token_expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	HasRefresh bool      `json:"has_refresh_token"`
}

// profileHandler shows the session, renewing its access token when it's
// expired.
func profileHandler(m *session.Manager, sessions callback.StoreFunc, logger hclog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/" {
			http.NotFound(w, req)
			return
		}
		s, err := sessions(w, req)
		if err != nil {
			logger.Error("unable to open session store", "error", err)
			http.Error(w, "request failed", http.StatusInternalServerError)
			return
		}
		if _, err := m.AccessToken(req.Context(), s); err != nil {
			if errors.Is(err, session.ErrUnauthenticated) {
				http.Redirect(w, req, "/login", http.StatusSeeOther)
				return
			}
			logger.Error("unable to read session", "error", err)
			http.Error(w, "request failed", http.StatusInternalServerError)
			return
		}
		c, err := m.Credentials(req.Context(), s)
		if err != nil {
			http.Redirect(w, req, "/login", http.StatusSeeOther)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		_ = enc.Encode(&profile{
			Subject:    c.Claims.Subject,
			Issuer:     c.Claims.Issuer,
			SessionID:  c.Claims.SessionID,
			Scope:      c.Scope,
			State:      c.State().String(),
			ExpiresAt:  c.AccessTokenExpiresAt,
			CreatedAt:  c.CreatedAt,
			HasRefresh: c.RefreshToken != "",
		})
	}
}
