// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp/rpsession/store"
)

// Keys of the values an authorization request keeps in its transient store.
const (
	TransientStateKey        = "state"
	TransientNonceKey        = "nonce"
	TransientCodeVerifierKey = "code_verifier"
	TransientRedirectURLKey  = "redirect_uri"
	TransientOrganizationKey = "organization"
	TransientMaxAgeKey       = "max_age"
)

var transientKeys = []string{
	TransientStateKey,
	TransientNonceKey,
	TransientCodeVerifierKey,
	TransientRedirectURLKey,
	TransientOrganizationKey,
	TransientMaxAgeKey,
}

// TransientAuthRequest is one pending authorization attempt.  It's written by
// Provider.AuthURL and consumed exactly once by Provider.Exchange.
type TransientAuthRequest struct {
	State        string
	Nonce        string
	CodeVerifier string
	RedirectURL  string

	// Organization and MaxAge are the constraints the ID token must satisfy
	// when they were requested.
	Organization string
	MaxAge       *time.Duration
}

func (t *TransientAuthRequest) values() map[string]string {
	v := map[string]string{
		TransientStateKey:        t.State,
		TransientNonceKey:        t.Nonce,
		TransientCodeVerifierKey: t.CodeVerifier,
		TransientRedirectURLKey:  t.RedirectURL,
		TransientOrganizationKey: t.Organization,
	}
	if t.MaxAge != nil {
		v[TransientMaxAgeKey] = strconv.FormatInt(int64(t.MaxAge.Seconds()), 10)
	}
	return v
}

// saveTransient writes the request to s.  Values left over from an earlier
// attempt are removed, so at most one attempt is pending per store.
func saveTransient(ctx context.Context, s store.Store, t *TransientAuthRequest, ttl time.Duration) error {
	const op = "saveTransient"
	values := t.values()
	for _, k := range transientKeys {
		v, ok := values[k]
		if !ok || v == "" {
			if err := s.Delete(ctx, k); err != nil {
				return fmt.Errorf("%s: unable to clear %s: %w", op, k, err)
			}
			continue
		}
		if err := s.Set(ctx, k, []byte(v), ttl); err != nil {
			return fmt.Errorf("%s: unable to store %s: %w", op, k, err)
		}
	}
	return nil
}

// consumeTransient reads the pending request from s and deletes it, whether
// or not it's complete.  The state is removed with a compare-and-swap, so
// of concurrent callers only one gets the request.  A missing request, or
// one consumed by another caller, is returned as an empty
// TransientAuthRequest.
func consumeTransient(ctx context.Context, s store.Store) (*TransientAuthRequest, error) {
	const op = "consumeTransient"
	values := make(map[string]string, len(transientKeys))
	var result *multierror.Error
	for _, k := range transientKeys {
		v, err := s.Get(ctx, k)
		switch {
		case err == nil:
			values[k] = string(v)
		case !errors.Is(err, store.ErrNotFound):
			result = multierror.Append(result, fmt.Errorf("unable to read %s: %w", k, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if state, ok := values[TransientStateKey]; ok {
		claimed, err := s.CompareAndSwap(ctx, TransientStateKey, []byte(state), nil, 0)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to delete %s: %w", op, TransientStateKey, err)
		}
		if !claimed {
			return &TransientAuthRequest{}, nil
		}
	}
	for _, k := range transientKeys {
		if k == TransientStateKey {
			continue
		}
		if err := s.Delete(ctx, k); err != nil {
			result = multierror.Append(result, fmt.Errorf("unable to delete %s: %w", k, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	t := &TransientAuthRequest{
		State:        values[TransientStateKey],
		Nonce:        values[TransientNonceKey],
		CodeVerifier: values[TransientCodeVerifierKey],
		RedirectURL:  values[TransientRedirectURLKey],
		Organization: values[TransientOrganizationKey],
	}
	if v := values[TransientMaxAgeKey]; v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: stored max_age %q is invalid: %w", op, v, ErrInvalidParameter)
		}
		d := time.Duration(secs) * time.Second
		t.MaxAge = &d
	}
	return t, nil
}
