// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"fmt"
	"sync"

	"github.com/go-jose/go-jose/v4"
)

// Alg represents asymmetric and symmetric signing algorithms
type Alg string

const (
	// JOSE asymmetric signing algorithm values as defined by RFC 7518.
	//
	// See: https://tools.ietf.org/html/rfc7518#section-3.1
	RS256 Alg = "RS256" // RSASSA-PKCS-v1.5 using SHA-256
	RS384 Alg = "RS384" // RSASSA-PKCS-v1.5 using SHA-384
	RS512 Alg = "RS512" // RSASSA-PKCS-v1.5 using SHA-512
	ES256 Alg = "ES256" // ECDSA using P-256 and SHA-256
	ES384 Alg = "ES384" // ECDSA using P-384 and SHA-384
	ES512 Alg = "ES512" // ECDSA using P-521 and SHA-512
	PS256 Alg = "PS256" // RSASSA-PSS using SHA256 and MGF1-SHA256
	PS384 Alg = "PS384" // RSASSA-PSS using SHA384 and MGF1-SHA384
	PS512 Alg = "PS512" // RSASSA-PSS using SHA512 and MGF1-SHA512
	EdDSA Alg = "EdDSA" // Ed25519 using SHA-512

	// JOSE symmetric signing algorithm values, used when a provider signs ID
	// tokens with the client secret.
	HS256 Alg = "HS256" // HMAC using SHA-256
	HS384 Alg = "HS384" // HMAC using SHA-384
	HS512 Alg = "HS512" // HMAC using SHA-512
)

// SignatureVerifier verifies the signature of a compact serialized JWS with
// a single candidate key and returns the verified payload.
type SignatureVerifier interface {
	Verify(token string, key interface{}) ([]byte, error)
}

// SignatureVerifierFunc adapts a function to a SignatureVerifier.
type SignatureVerifierFunc func(token string, key interface{}) ([]byte, error)

// Verify implements SignatureVerifier.
func (f SignatureVerifierFunc) Verify(token string, key interface{}) ([]byte, error) {
	return f(token, key)
}

var (
	verifiersMu sync.RWMutex
	verifiers   = map[Alg]SignatureVerifier{}
)

func init() {
	for _, a := range []Alg{RS256, RS384, RS512, ES256, ES384, ES512, PS256, PS384, PS512, EdDSA, HS256, HS384, HS512} {
		verifiers[a] = joseVerifier(a)
	}
}

// joseVerifier verifies alg signatures with go-jose.  Parsing is restricted
// to alg so a token can't choose a different algorithm than the one it was
// dispatched on.
func joseVerifier(alg Alg) SignatureVerifier {
	allowed := []jose.SignatureAlgorithm{jose.SignatureAlgorithm(alg)}
	return SignatureVerifierFunc(func(token string, key interface{}) ([]byte, error) {
		jws, err := jose.ParseSigned(token, allowed)
		if err != nil {
			return nil, err
		}
		return jws.Verify(key)
	})
}

// RegisterVerifier adds or replaces the SignatureVerifier used for alg.  It
// is how support for an additional algorithm is added.
func RegisterVerifier(alg Alg, v SignatureVerifier) error {
	const op = "jwt.RegisterVerifier"
	switch {
	case alg == "" || alg == "none":
		return fmt.Errorf("%s: invalid algorithm %q: %w", op, alg, ErrInvalidParameter)
	case v == nil:
		return fmt.Errorf("%s: verifier is nil: %w", op, ErrNilParameter)
	}
	verifiersMu.Lock()
	defer verifiersMu.Unlock()
	verifiers[alg] = v
	return nil
}

func verifierFor(alg Alg) (SignatureVerifier, bool) {
	verifiersMu.RLock()
	defer verifiersMu.RUnlock()
	v, ok := verifiers[alg]
	return v, ok
}

// SupportedSigningAlgorithm returns an error if any of the given Algs
// has no registered SignatureVerifier.
func SupportedSigningAlgorithm(algs ...Alg) error {
	const op = "jwt.SupportedSigningAlgorithm"
	for _, a := range algs {
		if _, ok := verifierFor(a); !ok {
			return fmt.Errorf("%s: unsupported signing algorithm %q: %w", op, a, ErrUnsupportedAlg)
		}
	}
	return nil
}

// asymmetric reports whether alg is verified with a public key.
func asymmetric(alg Alg) bool {
	switch alg {
	case HS256, HS384, HS512:
		return false
	default:
		return true
	}
}
