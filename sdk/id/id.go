// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// DefaultEntropyBits is the amount of randomness in an id returned by New.
// It is suitable for oauth state values, oidc nonces and session keys.
const DefaultEntropyBits = 256

// New generates a random, url-safe ID with an optional prefix.  The random
// portion is DefaultEntropyBits of crypto/rand output, base64url encoded
// without padding.
func New(optionalPrefix string) (string, error) {
	b, err := uuid.GenerateRandomBytes(DefaultEntropyBits / 8)
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	id := base64.RawURLEncoding.EncodeToString(b)
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}
