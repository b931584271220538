// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion_test

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/hashicorp/rpsession/oidc"
	"github.com/hashicorp/rpsession/oidc/clientassertion"
)

func ExampleNewJWT() {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		// handle error
		return
	}
	cass, err := clientassertion.NewJWT(
		"your_client_id",
		[]string{"https://your-tenant.us.auth0.com/"},
		clientassertion.WithRSAKey(key, clientassertion.RS256),
		clientassertion.WithKeyID("the-key-id-registered-with-the-provider"),
	)
	if err != nil {
		// handle error
		return
	}

	// the provider will authenticate the client with a freshly signed
	// assertion for every token request.
	_, err = oidc.NewConfig(
		"your-tenant.us.auth0.com",
		"your_client_id",
		oidc.WithClientAssertionJWT(cass),
		oidc.WithRedirectURL("https://your_app.example.com/callback"),
		oidc.WithCookieSecret("a-secret-which-is-at-least-32-bytes-long"),
	)
	fmt.Println(err == nil)
	// Output: true
}
