// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/rpsession/oidc"
	"github.com/hashicorp/rpsession/session"
)

// Logout creates a handler which clears the user agent's session and
// redirects it to the provider's logout endpoint.  The opts are passed to
// session.Manager.Logout, see oidc.Provider.LogoutURL.
func Logout(m *session.Manager, sessions StoreFunc, eFn ErrorResponseFunc, opt ...oidc.Option) (http.HandlerFunc, error) {
	const op = "callback.Logout"
	switch {
	case m == nil:
		return nil, fmt.Errorf("%s: session manager is nil: %w", op, oidc.ErrInvalidParameter)
	case sessions == nil:
		return nil, fmt.Errorf("%s: session store func is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		s, err := sessions(w, req)
		if err != nil {
			eFn("", nil, fmt.Errorf("%s: unable to open session store: %w", op, err), w, req)
			return
		}
		logoutURL, err := m.Logout(req.Context(), s, opt...)
		if err != nil {
			eFn("", nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		http.Redirect(w, req, logoutURL, http.StatusFound)
	}, nil
}
