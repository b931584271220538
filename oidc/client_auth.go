// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ClientAssertionType is the client_assertion_type of private_key_jwt
// client authentication.
const ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// withClientAssertion returns a copy of client which adds a freshly signed
// client assertion to every form POST sent to tokenURL.  x/oauth2 has no hook
// for extra refresh grant parameters, so the assertion is added here for both
// the code and refresh grants.
func withClientAssertion(client *http.Client, tokenURL string, a ClientAssertion) *http.Client {
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c := *client
	c.Transport = &assertionTransport{
		base:      base,
		tokenURL:  tokenURL,
		assertion: a,
	}
	return &c
}

type assertionTransport struct {
	base      http.RoundTripper
	tokenURL  string
	assertion ClientAssertion
}

// RoundTrip implements http.RoundTripper
func (t *assertionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost || !sameEndpoint(req.URL, t.tokenURL) || req.Body == nil {
		return t.base.RoundTrip(req)
	}
	raw, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("unable to read token request: %w", err)
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("unable to parse token request: %w", err)
	}
	if err := addClientAssertion(form, t.assertion); err != nil {
		return nil, err
	}
	body := []byte(form.Encode())
	r := req.Clone(req.Context())
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return t.base.RoundTrip(r)
}

// addClientAssertion signs a new assertion and adds it to form.
func addClientAssertion(form url.Values, a ClientAssertion) error {
	const op = "addClientAssertion"
	if a == nil {
		return fmt.Errorf("%s: client assertion is nil: %w", op, ErrNilParameter)
	}
	signed, err := a.Serialize()
	if err != nil {
		return fmt.Errorf("%s: unable to sign client assertion: %w", op, err)
	}
	form.Set("client_assertion_type", ClientAssertionType)
	form.Set("client_assertion", signed)
	return nil
}

// addClientAuth adds the configured client authentication to a form POST
// made outside x/oauth2.  For client_secret_basic the credentials are set
// on req once it's created, see setBasicAuth.
func (p *Provider) addClientAuth(form url.Values) error {
	form.Set("client_id", p.config.ClientID)
	switch p.config.ClientAuthMethod {
	case ClientSecretPost:
		form.Set("client_secret", string(p.config.ClientSecret))
	case PrivateKeyJWT:
		return addClientAssertion(form, p.config.ClientAssertion)
	}
	return nil
}

// setBasicAuth sets client_secret_basic credentials, encoded as RFC 6749
// section 2.3.1 requires.
func (p *Provider) setBasicAuth(req *http.Request) {
	if p.config.ClientAuthMethod == ClientSecretBasic {
		req.SetBasicAuth(url.QueryEscape(p.config.ClientID), url.QueryEscape(string(p.config.ClientSecret)))
	}
}

func sameEndpoint(u *url.URL, endpoint string) bool {
	e, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, e.Scheme) && strings.EqualFold(u.Host, e.Host) && u.Path == e.Path
}
