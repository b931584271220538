// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrMalformedToken   = errors.New("malformed token")
	ErrUnsupportedAlg   = errors.New("unsupported signing algorithm")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrKeyNotFound      = errors.New("signing key not found")
	ErrKeySetFetch      = errors.New("unable to fetch key set")
)
