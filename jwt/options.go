// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultCacheTTL is how long a JSONWebKeySet caches the remote keys before
// fetching them again.
const DefaultCacheTTL = 10 * time.Minute

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type keySetOptions struct {
	withSigningAlgs []Alg
	withHTTPClient  *http.Client
	withCacheTTL    time.Duration
	withNow         func() time.Time
	withLogger      hclog.Logger
}

func keySetDefaults() keySetOptions {
	return keySetOptions{
		withCacheTTL: DefaultCacheTTL,
		withNow:      time.Now,
		withLogger:   hclog.NewNullLogger(),
	}
}

// getKeySetOpts gets the defaults and applies the opt overrides passed
// in.
func getKeySetOpts(opt ...Option) keySetOptions {
	opts := keySetDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithSigningAlgs provides the algorithms a key set accepts.  Tokens signed
// with any other algorithm are rejected before any key is tried.
func WithSigningAlgs(alg ...Alg) Option {
	return func(o interface{}) {
		if v, ok := o.(*keySetOptions); ok {
			v.withSigningAlgs = alg
		}
	}
}

// WithHTTPClient provides an optional client used to fetch remote keys.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*keySetOptions); ok && c != nil {
			v.withHTTPClient = c
		}
	}
}

// WithCacheTTL provides an optional duration for caching remote keys.
func WithCacheTTL(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*keySetOptions); ok && d > 0 {
			v.withCacheTTL = d
		}
	}
}

// WithNow provides an optional clock used for cache expiry.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*keySetOptions); ok && now != nil {
			v.withNow = now
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*keySetOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}
