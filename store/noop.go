// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"fmt"
	"time"
)

// Noop is a Cache that never retains anything.  With it configured as the
// backchannel logout cache, every logout token is accepted as new and no
// revocation markers survive, which makes backchannel logout a no-op.
type Noop struct{}

var _ Cache = Noop{}

// Get always returns ErrNotFound.
func (Noop) Get(_ context.Context, key string) ([]byte, error) {
	const op = "Noop.Get"
	return nil, fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
}

// Set discards the value.
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }

// Has is always false.
func (Noop) Has(context.Context, string) (bool, error) { return false, nil }

// SetIfAbsent always reports the value as stored.
func (Noop) SetIfAbsent(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}
