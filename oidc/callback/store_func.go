// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/rpsession/oidc"
	"github.com/hashicorp/rpsession/store"
)

// StoreFunc returns the store of the user agent which sent the request.
// Implementations must be concurrently safe, since they're called from
// concurrent http.Handlers.
type StoreFunc func(w http.ResponseWriter, req *http.Request) (store.Store, error)

// CookieStores returns a StoreFunc which keeps the user agent's state in
// cookies encrypted with the secret.
//
// Supported options: the options of store.NewCookieStore
func CookieStores(secret oidc.CookieSecret, opt ...store.Option) (StoreFunc, error) {
	const op = "callback.CookieStores"
	if _, err := store.DeriveCookieKey(string(secret)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return func(w http.ResponseWriter, req *http.Request) (store.Store, error) {
		return store.NewCookieStore(w, req, string(secret), opt...)
	}, nil
}

// SingleStore returns a StoreFunc which always returns s.  It's mostly
// useful for CLIs and tests which serve a single user.
func SingleStore(s store.Store) StoreFunc {
	return func(http.ResponseWriter, *http.Request) (store.Store, error) {
		return s, nil
	}
}
