// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the only supported code challenge method.
	S256 ChallengeMethod = "S256"
)

const (
	// MinVerifierLength and MaxVerifierLength bound a code verifier's length,
	// see https://tools.ietf.org/html/rfc7636#section-4.1
	MinVerifierLength = 43
	MaxVerifierLength = 128

	// DefaultVerifierLength is the length of verifiers made by
	// NewCodeVerifier.
	DefaultVerifierLength = 64

	// verifierCharset is the RFC 7636 unreserved character set.
	verifierCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
)

// CodeVerifier represents an OAuth PKCE code verifier.
//
// See: https://tools.ietf.org/html/rfc7636#section-4.1
type CodeVerifier interface {
	// Verifier returns the code verifier (see:
	// https://tools.ietf.org/html/rfc7636#section-4.1)
	Verifier() string

	// Challenge returns the code verifier's code challenge (see:
	// https://tools.ietf.org/html/rfc7636#section-4.2)
	Challenge() string

	// Method returns the code verifier's challenge method (see
	// https://tools.ietf.org/html/rfc7636#section-4.2)
	Method() ChallengeMethod
}

// S256Verifier represents an OAuth PKCE code verifier that uses the S256
// challenge method.  It implements the CodeVerifier interface.
type S256Verifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// ensure that S256Verifier implements the CodeVerifier interface
var _ CodeVerifier = (*S256Verifier)(nil)

// NewCodeVerifier creates a new CodeVerifier (*S256Verifier).
//
// Supported options: WithVerifierLength
//
// See: https://tools.ietf.org/html/rfc7636#section-4.1
func NewCodeVerifier(opt ...Option) (*S256Verifier, error) {
	const op = "NewCodeVerifier"
	opts := getPKCEOpts(opt...)
	v, err := GenerateCodeVerifier(opts.withVerifierLength)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &S256Verifier{
		verifier:  v,
		challenge: GenerateCodeChallenge(v),
		method:    S256,
	}, nil
}

func (v *S256Verifier) Verifier() string        { return v.verifier }  // Verifier implements the CodeVerifier.Verifier() interface function.
func (v *S256Verifier) Challenge() string       { return v.challenge } // Challenge implements the CodeVerifier.Challenge() interface function.
func (v *S256Verifier) Method() ChallengeMethod { return v.method }    // Method implements the CodeVerifier.Method() interface function.

// GenerateCodeVerifier returns a random string of exactly length characters
// drawn uniformly from the unreserved set [A-Za-z0-9-._~].  Lengths outside
// [43, 128] fail with ErrPKCELength.
func GenerateCodeVerifier(length int) (string, error) {
	const op = "GenerateCodeVerifier"
	if length < MinVerifierLength || length > MaxVerifierLength {
		return "", fmt.Errorf("%s: length %d is outside [%d, %d]: %w", op, length, MinVerifierLength, MaxVerifierLength, ErrPKCELength)
	}
	// 66 characters don't divide 256, so bytes at or above the largest
	// multiple of 66 are rejected rather than folded in with a modulo.
	const limit = 256 - (256 % len(verifierCharset))
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("%s: unable to read random bytes: %w", op, err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, verifierCharset[int(b)%len(verifierCharset)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// GenerateCodeChallenge returns the S256 code challenge for verifier: the
// unpadded base64url encoding of SHA-256(verifier).
func GenerateCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// pkceOptions is the set of available options
type pkceOptions struct {
	withVerifierLength int
}

func pkceDefaults() pkceOptions {
	return pkceOptions{withVerifierLength: DefaultVerifierLength}
}

func getPKCEOpts(opt ...Option) pkceOptions {
	opts := pkceDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithVerifierLength provides an optional code verifier length for:
// NewCodeVerifier
func WithVerifierLength(n int) Option {
	return func(o interface{}) {
		if v, ok := o.(*pkceOptions); ok {
			v.withVerifierLength = n
		}
	}
}
