// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rpsession_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/rpsession/oidc"
	"github.com/hashicorp/rpsession/session"
	"github.com/hashicorp/rpsession/store"
)

func Example_session() {
	ctx := context.Background()

	// Create a new Config
	pc, err := oidc.NewConfig(
		"your-tenant.example.com",
		"your_client_id",
		oidc.WithClientSecret("your_client_secret"),
		oidc.WithCookieSecret("your-cookie-secret-of-at-least-32-bytes"),
		oidc.WithRedirectURL("https://your_app/callback"),
		oidc.WithScopes("profile", "offline_access"),
		oidc.WithBackchannelLogoutCache(store.NewMemory()),
	)
	if err != nil {
		// handle error
	}

	// Create a provider
	p, err := oidc.NewProvider(pc)
	if err != nil {
		// handle error
	}
	defer p.Done()

	// Create a session manager
	m, err := session.NewManager(p, session.WithRenewalPolicy(session.RenewOnDemand))
	if err != nil {
		// handle error
	}

	http.HandleFunc("/login", func(w http.ResponseWriter, req *http.Request) {
		transient, err := store.NewCookieStore(w, req, string(pc.CookieSecret))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		authURL, err := m.Login(req.Context(), transient)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, req, authURL, http.StatusFound)
	})

	http.HandleFunc("/callback", func(w http.ResponseWriter, req *http.Request) {
		cookies, err := store.NewCookieStore(w, req, string(pc.CookieSecret))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if _, err := m.Callback(req.Context(), cookies, cookies, req.FormValue("state"), req.FormValue("code")); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		http.Redirect(w, req, "/", http.StatusSeeOther)
	})

	// Reading an access token renews the session when it's expired.  A
	// session which can't be renewed must log in again.
	sessions := store.NewMemory()
	at, err := m.AccessToken(ctx, sessions)
	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		fmt.Println("please log in")
	case err != nil:
		// handle error
	default:
		_ = at // call an API with it
	}
}
