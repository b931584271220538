// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package clientassertion signs JWTs with a private key or client secret for
use as OAuth 2.0 client assertions, A.K.A. private_key_jwt.  A *JWT satisfies
oidc.ClientAssertion, and every call to Serialize signs a new assertion with
a fresh jti and iat.

Example usage:

	cass, err := clientassertion.NewJWT("client-id", []string{"https://your-tenant.us.auth0.com/"},
		clientassertion.WithRSAKey(rsaPrivateKey, clientassertion.RS256),
		clientassertion.WithKeyID("jwks-key-id-or-x5t-etc"),
	)
	if err != nil {
		// handle error
	}
	c, err := oidc.NewConfig("your-tenant.us.auth0.com", "client-id",
		oidc.WithClientAssertionJWT(cass),
		// ...
	)

See: https://oauth.net/private-key-jwt/
*/
package clientassertion
