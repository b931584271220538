// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/rpsession/oidc"
	"github.com/hashicorp/rpsession/session"
)

// AuthCode creates an oidc authorization code callback handler.  It
// completes the login attempt started by Login, whose transient state it
// reads from the store returned by transient, and stores the new session in
// the store returned by sessions.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails, including when the provider responded with an error.
func AuthCode(m *session.Manager, sessions, transient StoreFunc, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	switch {
	case m == nil:
		return nil, fmt.Errorf("%s: session manager is nil: %w", op, oidc.ErrInvalidParameter)
	case sessions == nil:
		return nil, fmt.Errorf("%s: session store func is nil: %w", op, oidc.ErrInvalidParameter)
	case transient == nil:
		return nil, fmt.Errorf("%s: transient store func is nil: %w", op, oidc.ErrInvalidParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found.
		reqState := req.FormValue("state")
		if err := req.FormValue("error"); err != "" {
			reqError := &AuthenErrorResponse{
				Error:       err,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}
			eFn(reqState, reqError, nil, w, req)
			return
		}
		reqCode := req.FormValue("code")

		t, err := transient(w, req)
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: unable to open transient store: %w", op, err), w, req)
			return
		}
		s, err := sessions(w, req)
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: unable to open session store: %w", op, err), w, req)
			return
		}
		c, err := m.Callback(req.Context(), s, t, reqState, reqCode)
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		sFn(reqState, c, w, req)
	}, nil
}
