// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxResponseSize bounds the provider responses read by this package.
const maxResponseSize = 1 << 20

// redactedParam replaces client credentials in PARResponseError.Request.
const redactedParam = "[REDACTED]"

// PushAuthorizationRequest submits params to the provider's pushed
// authorization request endpoint and returns the request_uri which refers to
// them, along with its lifetime.  Client authentication is added according
// to the config's ClientAuthMethod.
//
// The provider must answer with a 201 and a JSON body holding a string
// request_uri and an integer expires_in; any other response is returned as a
// *PARResponseError.
//
// See: https://www.rfc-editor.org/rfc/rfc9126.html
func (p *Provider) PushAuthorizationRequest(ctx context.Context, params url.Values) (string, time.Duration, error) {
	const op = "Provider.PushAuthorizationRequest"
	if len(params) == 0 {
		return "", 0, fmt.Errorf("%s: missing parameters: %w", op, ErrInvalidParameter)
	}
	form := make(url.Values, len(params)+3)
	for k, v := range params {
		form[k] = append([]string(nil), v...)
	}
	if err := p.addClientAuth(form); err != nil {
		return "", 0, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoints.PAR, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	p.setBasicAuth(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%s: %w", op, &NetworkError{Err: err})
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", 0, fmt.Errorf("%s: unable to read response: %w", op, &NetworkError{StatusCode: resp.StatusCode, Err: err})
	}

	parErr := func(msg string) error {
		return fmt.Errorf("%s: %w", op, &PARResponseError{
			StatusCode: resp.StatusCode,
			Request:    redactCredentials(form),
			Response:   body,
			Msg:        msg,
		})
	}
	if resp.StatusCode != http.StatusCreated {
		return "", 0, parErr(fmt.Sprintf("expected status %d", http.StatusCreated))
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", 0, parErr("response is not a JSON object")
	}
	var requestURI string
	if raw, ok := fields["request_uri"]; !ok || json.Unmarshal(raw, &requestURI) != nil || requestURI == "" {
		return "", 0, parErr("missing or invalid request_uri")
	}
	raw, ok := fields["expires_in"]
	if !ok {
		return "", 0, parErr("missing expires_in")
	}
	// ParseInt rejects quoted, fractional and exponent forms.
	expiresIn, err := strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 64)
	if err != nil || expiresIn <= 0 {
		return "", 0, parErr("expires_in is not a positive integer")
	}
	return requestURI, time.Duration(expiresIn) * time.Second, nil
}

// redactCredentials returns a copy of form without client credentials.
func redactCredentials(form url.Values) url.Values {
	c := make(url.Values, len(form))
	for k, v := range form {
		switch k {
		case "client_secret", "client_assertion":
			c[k] = []string{redactedParam}
		default:
			c[k] = append([]string(nil), v...)
		}
	}
	return c
}
