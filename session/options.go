// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// RenewalPolicy decides when an expired session is renewed.
type RenewalPolicy int

const (
	// RenewOnDemand renews only when a fresh access token is asked for
	// (AccessToken) or on an explicit Renew.  Credentials reads of an
	// expired session return it with State() == Expired.
	RenewOnDemand RenewalPolicy = iota

	// RenewEager renews an expired session during every Credentials read.
	RenewEager
)

// String implements fmt.Stringer
func (p RenewalPolicy) String() string {
	switch p {
	case RenewOnDemand:
		return "on-demand"
	case RenewEager:
		return "eager"
	default:
		return "unknown"
	}
}

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

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

// managerOptions is the set of available options for NewManager
type managerOptions struct {
	withRenewalPolicy RenewalPolicy
	withSessionTTL    time.Duration
	withLogger        hclog.Logger
	withNow           func() time.Time
}

// managerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func managerDefaults() managerOptions {
	return managerOptions{
		withRenewalPolicy: RenewOnDemand,
	}
}

func getManagerOpts(opt ...Option) managerOptions {
	opts := managerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRenewalPolicy provides an optional renewal policy for: NewManager.
// The default is RenewOnDemand.
func WithRenewalPolicy(p RenewalPolicy) Option {
	return func(o interface{}) {
		if v, ok := o.(*managerOptions); ok {
			v.withRenewalPolicy = p
		}
	}
}

// WithSessionTTL provides an optional ttl for stored sessions for:
// NewManager.  The default of zero keeps sessions until they are logged
// out, revoked or fail to renew.
func WithSessionTTL(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*managerOptions); ok {
			v.withSessionTTL = d
		}
	}
}

// WithLogger provides an optional logger for: NewManager.  The default is a
// sub-logger of the provider config's logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*managerOptions); ok {
			v.withLogger = l
		}
	}
}

// WithNow provides an optional clock for: NewManager.  The default is the
// provider config's clock.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*managerOptions); ok {
			v.withNow = now
		}
	}
}
