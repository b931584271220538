// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/hashicorp/rpsession/sdk/id"
)

// NewID generates a ID with an optional prefix.   The ID generated is suitable
// for a state or nonce: it carries 256 bits of entropy.
func NewID(optionalPrefix string) (string, error) {
	const op = "oidc.NewID"
	id, err := id.New(optionalPrefix)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate id: %w", op, ErrIDGeneratorFailed)
	}
	return id, nil
}
