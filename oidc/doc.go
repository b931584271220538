// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc is a relying party client for an OpenID Connect provider using
the Authorization Code Flow with PKCE.

A Config describes the provider tenant (its domain, an optional custom
domain), the client's credentials and the defaults for authorization
requests.  A Provider built from a Config resolves the provider's endpoints,
caches its signing keys and performs every protocol operation:

  - AuthURL generates state, nonce and a PKCE code verifier for one login
    attempt, records them in a transient store.Store and returns the URL to
    redirect the user agent to.  With pushed authorization requests the
    parameters are posted to the provider first (PushAuthorizationRequest)
    and the URL only carries the returned request_uri.

  - Exchange consumes the transient state, compares it to the state returned
    by the provider, redeems the code with the verifier and verifies the
    resulting ID token (VerifyIDToken).

  - Renew redeems a refresh token for new tokens.

  - LogoutURL returns the provider's logout URL.

  - HandleLogoutToken verifies a backchannel logout token, rejects replays
    and records revocation markers in a store.Cache, which IsRevoked
    consults.

Failures are reported with sentinel errors that callers test with
errors.Is, and typed errors (InvalidTokenError, NetworkError,
PARResponseError and InvalidGrantError) that carry the details.

The session package builds a login session manager on top of a Provider and
the callback package provides http.Handlers for the login, callback, logout
and backchannel logout endpoints.
*/
package oidc
