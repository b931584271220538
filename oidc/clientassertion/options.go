// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// Option configures the JWT
type Option func(*JWT) error

// WithClientSecret sets a secret and algorithm to sign the JWT with
func WithClientSecret(secret string, alg HSAlgorithm) Option {
	const op = "WithClientSecret"
	return func(j *JWT) error {
		if err := alg.Validate(secret); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		j.secret = secret
		j.signingKeys++
		j.alg = jose.SignatureAlgorithm(alg)
		return nil
	}
}

// WithRSAKey sets a private key to sign the JWT with
func WithRSAKey(key *rsa.PrivateKey, alg RSAlgorithm) Option {
	const op = "WithRSAKey"
	return func(j *JWT) error {
		if err := alg.Validate(key); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		j.key = key
		j.signingKeys++
		j.alg = jose.SignatureAlgorithm(alg)
		return nil
	}
}

// WithECDSAKey sets a private key to sign the JWT with
func WithECDSAKey(key *ecdsa.PrivateKey, alg ESAlgorithm) Option {
	const op = "WithECDSAKey"
	return func(j *JWT) error {
		if err := alg.Validate(key); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		j.key = key
		j.signingKeys++
		j.alg = jose.SignatureAlgorithm(alg)
		return nil
	}
}

// WithKeyID sets the "kid" header that OIDC providers use to look up the
// public key to check the signed JWT
func WithKeyID(keyID string) Option {
	const op = "WithKeyID"
	return func(j *JWT) error {
		if keyID == "" {
			return fmt.Errorf("%s: %w: empty key id", op, ErrMissingKeyID)
		}
		j.headers["kid"] = keyID
		return nil
	}
}

// WithHeaders sets extra JWT headers.  The "alg" and "typ" headers are set
// by the signer and can't be overridden.
func WithHeaders(h map[string]string) Option {
	const op = "WithHeaders"
	return func(j *JWT) error {
		for k, v := range h {
			switch strings.ToLower(k) {
			case "alg", "typ":
				return fmt.Errorf("%s: %w: %q", op, ErrReservedHeader, k)
			}
			j.headers[k] = v
		}
		return nil
	}
}

// WithLifetime sets how long each signed assertion is valid for.  The
// default is DefaultLifetime.
func WithLifetime(d time.Duration) Option {
	const op = "WithLifetime"
	return func(j *JWT) error {
		if d <= 0 {
			return fmt.Errorf("%s: %w: %s", op, ErrInvalidLifetime, d)
		}
		j.lifetime = d
		return nil
	}
}

// withNow sets the clock used for iat, nbf and exp.
func withNow(now func() time.Time) Option {
	return func(j *JWT) error {
		j.now = now
		return nil
	}
}
