// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides http.HandlerFuncs for the browser facing
endpoints of a relying party: starting a login, handling the provider's
authorization code callback, logging out, and receiving backchannel logout
tokens from the provider.

The login, callback and logout handlers drive a session.Manager.  The user
agent's transient and session stores are created per request by a StoreFunc,
usually CookieStores.  The backchannel logout handler drives an
oidc.Provider configured with a backchannel logout cache.
*/
package callback
