// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-hclog"
)

// retryTransport retries requests which are safe to repeat.  When every
// attempt produced a retryable response, the last response is returned so
// callers can still classify it by status code.
type retryTransport struct {
	base           http.RoundTripper
	maxAttempts    uint
	initialBackoff time.Duration
	logger         hclog.Logger
}

var errRetryableStatus = errors.New("retryable response status")

// RoundTrip implements http.RoundTripper
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		// the body can't be replayed, so there's only one attempt.
		return t.base.RoundTrip(req)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = t.initialBackoff
	expBackoff.MaxInterval = 10 * t.initialBackoff
	expBackoff.Reset()

	var attempt uint
	operation := func() (*http.Response, error) {
		attempt++
		r := req
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			r = req.Clone(req.Context())
			r.Body = body
		}
		resp, err := t.base.RoundTrip(r)
		if err != nil {
			if attempt < t.maxAttempts && retryableError(req, err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		if attempt < t.maxAttempts && retryableStatus(req, resp.StatusCode) {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%s %s: %d: %w", req.Method, req.URL.Redacted(), resp.StatusCode, errRetryableStatus)
		}
		return resp, nil
	}

	return backoff.Retry(req.Context(), operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(t.maxAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			t.logger.Debug("retrying request", "method", req.Method, "url", req.URL.Redacted(), "attempt", attempt, "wait", d, "error", err)
		}),
	)
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func retryableError(req *http.Request, err error) bool {
	if req.Context().Err() != nil {
		return false
	}
	if idempotent(req.Method) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func retryableStatus(req *http.Request, status int) bool {
	if !idempotent(req.Method) {
		return false
	}
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
