// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"github.com/hashicorp/go-hclog"
)

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

// backchannelOptions is the set of available options for BackchannelLogout
type backchannelOptions struct {
	withLogger       hclog.Logger
	withMaxBodyBytes int64
}

// backchannelDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func backchannelDefaults() backchannelOptions {
	return backchannelOptions{
		withMaxBodyBytes: DefaultMaxLogoutRequestBytes,
	}
}

func getBackchannelOpts(opt ...Option) backchannelOptions {
	opts := backchannelDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for: BackchannelLogout.  The
// default is a "backchannel" sub-logger of the provider config's logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*backchannelOptions); ok {
			v.withLogger = l
		}
	}
}

// WithMaxBodyBytes provides an optional limit on the size of request bodies
// for: BackchannelLogout.  The default is DefaultMaxLogoutRequestBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(o interface{}) {
		if v, ok := o.(*backchannelOptions); ok && n > 0 {
			v.withMaxBodyBytes = n
		}
	}
}
