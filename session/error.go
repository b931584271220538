// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrUnauthenticated is returned when there's no usable session: none was
	// established, it was logged out or revoked, or it expired without a
	// refresh token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrReauthenticationRequired is returned when renewal failed for good:
	// the provider rejected the refresh token or returned an ID token for
	// another user, or the stored session was replaced while it was being
	// renewed.  It also matches ErrUnauthenticated.
	ErrReauthenticationRequired = fmt.Errorf("re-authentication required: %w", ErrUnauthenticated)

	// ErrNoRefreshToken is returned by Renew for a session without a refresh
	// token.
	ErrNoRefreshToken = errors.New("session has no refresh token")
)
