// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"

	"github.com/hashicorp/rpsession/session"
)

// SuccessResponseFunc is used by AuthCode to create a http response when the
// callback is successful.
//
// The function state parameter will contain the state that was returned as
// part of a successful oidc authentication response.  The credentials are
// those of the session which was just established and stored.  The function
// should use the http.ResponseWriter to send back whatever content (headers,
// html, JSON, redirect, etc) it wishes to the user agent.
type SuccessResponseFunc func(state string, c *session.Credentials, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by the handlers to create a http response when
// they fail.
//
// The function receives the state returned as part of the oidc authentication
// response, if any.  It also gets parameters for the oidc authentication error
// response and/or the error raised while processing the request.  The
// function should use the http.ResponseWriter to send back whatever content
// (headers, html, JSON, etc) it wishes to the user agent.
type ErrorResponseFunc func(state string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents Oauth2 error responses.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string
	Description string
	Uri         string
}
