// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/rpsession/oidc"
	"github.com/hashicorp/rpsession/session"
)

// Login creates a handler which starts a login attempt and redirects the
// user agent to the provider's authorization endpoint.  The attempt's
// transient state is kept in the store returned by transient, where AuthCode
// will find it.
//
// The opts are passed to session.Manager.Login for every attempt.  The
// ErrorResponseFunc is used to create a response when the attempt can't be
// started.
func Login(m *session.Manager, transient StoreFunc, eFn ErrorResponseFunc, opt ...oidc.Option) (http.HandlerFunc, error) {
	const op = "callback.Login"
	switch {
	case m == nil:
		return nil, fmt.Errorf("%s: session manager is nil: %w", op, oidc.ErrInvalidParameter)
	case transient == nil:
		return nil, fmt.Errorf("%s: transient store func is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		t, err := transient(w, req)
		if err != nil {
			eFn("", nil, fmt.Errorf("%s: unable to open transient store: %w", op, err), w, req)
			return
		}
		authURL, err := m.Login(req.Context(), t, opt...)
		if err != nil {
			eFn("", nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		http.Redirect(w, req, authURL, http.StatusFound)
	}, nil
}
