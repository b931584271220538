// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
)

// Store is the storage capability used for per-user transient values and
// sessions.  Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound when the key is
	// absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores the value at key.  A ttl of zero means the value does not
	// expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key.  Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndSwap replaces the value at key with newValue only if the
	// current value equals oldValue.  A nil oldValue means the key must be
	// absent and a nil newValue deletes the key.  It reports whether the
	// swap happened.
	CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte, ttl time.Duration) (bool, error)
}

// Cache is the TTL keyed capability used for pushed authorization requests
// and for backchannel logout replay detection and revocation markers.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores the value at key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Has reports whether an unexpired value is stored at key.
	Has(ctx context.Context, key string) (bool, error)

	// SetIfAbsent atomically stores the value at key only if no unexpired
	// value exists.  It reports whether the value was stored.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// Prefixed scopes a Store to a key prefix.  It is the usual way to give each
// end-user their own view of a shared backend, keyed by the user's session
// key.
type Prefixed struct {
	s      Store
	prefix string
}

// ensure that Prefixed implements the Store interface
var _ Store = (*Prefixed)(nil)

// NewPrefixed returns a Store where every key is prefixed with prefix and a
// ':' separator.
func NewPrefixed(s Store, prefix string) (*Prefixed, error) {
	const op = "store.NewPrefixed"
	switch {
	case s == nil:
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	case prefix == "":
		return nil, fmt.Errorf("%s: prefix is empty: %w", op, ErrInvalidParameter)
	}
	return &Prefixed{s: s, prefix: prefix + ":"}, nil
}

func (p *Prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.s.Get(ctx, p.prefix+key)
}

func (p *Prefixed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.s.Set(ctx, p.prefix+key, value, ttl)
}

func (p *Prefixed) Delete(ctx context.Context, key string) error {
	return p.s.Delete(ctx, p.prefix+key)
}

func (p *Prefixed) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	return p.s.CompareAndSwap(ctx, p.prefix+key, oldValue, newValue, ttl)
}

// sameValue compares a stored value against the expected one, where a nil
// expected value means "absent".
func sameValue(found bool, current, expected []byte) bool {
	if expected == nil {
		return !found
	}
	return found && bytes.Equal(current, expected)
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

// WithNow provides an optional clock, used to evaluate expirations by the
// Memory, File and Cookie stores.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *memoryOptions:
			v.withNow = now
		case *fileOptions:
			v.withNow = now
		case *cookieOptions:
			v.withNow = now
		}
	}
}
