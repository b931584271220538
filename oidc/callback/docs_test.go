// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback_test

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/rpsession/oidc"
	"github.com/hashicorp/rpsession/oidc/callback"
	"github.com/hashicorp/rpsession/session"
	"github.com/hashicorp/rpsession/store"
)

func Example() {
	// Create a new Config with a backchannel logout cache
	pc, _ := oidc.NewConfig(
		"your-tenant.example.com",
		"your_client_id",
		oidc.WithClientSecret("your_client_secret"),
		oidc.WithCookieSecret("your-cookie-secret-of-at-least-32-bytes"),
		oidc.WithRedirectURL("https://your_app/callback"),
		oidc.WithBackchannelLogoutCache(store.NewMemory()),
	)

	// Create a provider and a session manager
	p, _ := oidc.NewProvider(pc)
	defer p.Done()
	m, _ := session.NewManager(p)

	// Keep the transient and session state of each user agent in encrypted
	// cookies.
	cookies, _ := callback.CookieStores(pc.CookieSecret)

	// A function to handle successful logins.
	successFn := func(state string, c *session.Credentials, w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/", http.StatusSeeOther)
	}
	// A function to handle errors and failed attempts.
	errorFn := func(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
		if e != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(e.Error()))
			return
		}
		if r != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(fmt.Sprintf("login failed: %s", r.Error)))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}

	// create the handlers and register them for use.
	login, _ := callback.Login(m, cookies, errorFn)
	authCode, _ := callback.AuthCode(m, cookies, cookies, successFn, errorFn)
	logout, _ := callback.Logout(m, cookies, errorFn, oidc.WithReturnToURL("https://your_app/"))
	http.HandleFunc("/login", login)
	http.HandleFunc("/callback", authCode)
	http.HandleFunc("/logout", logout)

	backchannel, _ := callback.BackchannelLogout(p)
	http.HandleFunc("/backchannel-logout", backchannel)
}
