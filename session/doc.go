// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package session manages an end-user's authenticated session with an OpenID
Connect provider.

A Manager drives the session state machine:

	Unauthenticated --Callback--> Authenticated --(access token expires)--> Expired
	Expired --(renewal succeeds)--> Authenticated
	Expired --(renewal fails, no refresh token)--> Unauthenticated
	any --(Logout, backchannel logout)--> Unauthenticated

Each end-user's session lives in a store.Store supplied by the caller, for
example a store.CookieStore for the current request or a store.Prefixed view
of a shared Redis store keyed by the user's session key.  Renewal replaces the
stored session with a compare-and-swap, so concurrent renewals never overwrite
a newer session.  Every read consults the provider's backchannel logout
revocation markers.
*/
package session
