// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
)

var ErrInvalidCertificatePem = errors.New("invalid certificate PEM")

const (
	// DefaultTimeout is the overall timeout applied to every request made by
	// a client returned from NewClient.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxAttempts is the default number of attempts (including the
	// first one) made for a retryable request.
	DefaultMaxAttempts = 3

	// DefaultInitialBackoff is the default initial wait between attempts. It
	// grows exponentially between subsequent attempts.
	DefaultInitialBackoff = 200 * time.Millisecond
)

// NewClient creates a new http client which will use the optional CA
// certificate PEM if provided, otherwise it will use the installed system CA
// chain.  The client retries transport failures with exponential backoff;
// see WithMaxAttempts for which requests are considered retryable.
//
// Supported options: WithTimeout, WithMaxAttempts, WithInitialBackoff,
// WithLogger
func NewClient(caPEM string, opt ...Option) (*http.Client, error) {
	opts := getClientOpts(opt...)
	tr := cleanhttp.DefaultPooledTransport()

	if caPEM != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(caPEM)); !ok {
			return nil, ErrInvalidCertificatePem
		}

		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}

	var rt http.RoundTripper = tr
	if opts.withMaxAttempts > 1 {
		rt = &retryTransport{
			base:           tr,
			maxAttempts:    opts.withMaxAttempts,
			initialBackoff: opts.withInitialBackoff,
			logger:         opts.withLogger,
		}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   opts.withTimeout,
	}, nil
}

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

type clientOptions struct {
	withTimeout        time.Duration
	withMaxAttempts    uint
	withInitialBackoff time.Duration
	withLogger         hclog.Logger
}

func clientDefaults() clientOptions {
	return clientOptions{
		withTimeout:        DefaultTimeout,
		withMaxAttempts:    DefaultMaxAttempts,
		withInitialBackoff: DefaultInitialBackoff,
		withLogger:         hclog.NewNullLogger(),
	}
}

func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTimeout provides an optional overall request timeout. A zero duration
// disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withTimeout = d
		}
	}
}

// WithMaxAttempts provides an optional bound on the number of attempts for a
// retryable request. Idempotent requests (GET, HEAD, OPTIONS) are retried on
// transport errors and on 429/5xx responses. Other requests are only retried
// when the connection could not be established, since the provider never
// saw them.  A value of 1 (or 0) disables retries.
func WithMaxAttempts(n uint) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withMaxAttempts = n
		}
	}
}

// WithInitialBackoff provides an optional initial wait between attempts.
func WithInitialBackoff(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withInitialBackoff = d
		}
	}
}

// WithLogger provides an optional logger used to report retries.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}
