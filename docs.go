// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// rpsession provides a collection of related packages for the relying party
// side of OIDC: authorization code logins with PKCE and pushed authorization
// requests, sessions whose tokens are renewed with refresh tokens, and
// backchannel logout.
//
//   - oidc: provider configuration, authorization requests, code exchange,
//     token renewal and verification, logout URLs and backchannel logout
//     tokens.
//   - oidc/clientassertion: private_key_jwt client assertions.
//   - oidc/callback: http.HandlerFuncs for login, callback, logout and
//     backchannel logout endpoints.
//   - session: the session manager.
//   - store: stores and caches for transient login state, sessions and
//     backchannel logout markers, in memory, files, redis or cookies.
//   - jwt: key sets and signature verification.
package rpsession
