// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	sdkhttp "github.com/hashicorp/rpsession/sdk/http"
)

// maxKeySetSize bounds the JWKS document read from a provider.
const maxKeySetSize = 1 << 20

// KeySet represents a set of keys that can be used to verify the signatures of JWTs.
// A KeySet is expected to be backed by a set of local or remote keys.
type KeySet interface {

	// VerifySignature parses the given JWT, verifies its signature, and returns the claims in its payload.
	VerifySignature(ctx context.Context, token string) (claims map[string]interface{}, err error)
}

// Header is the subset of the JOSE header used to select a verification key.
type Header struct {
	Alg   Alg    `json:"alg"`
	KeyID string `json:"kid,omitempty"`
	Type  string `json:"typ,omitempty"`
}

// ParseHeader decodes the JOSE header of a compact serialized JWS without
// verifying anything.
func ParseHeader(token string) (*Header, error) {
	const op = "jwt.ParseHeader"
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%s: expected 3 parts, got %d: %w", op, len(parts), ErrMalformedToken)
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%s: header is not base64url: %w", op, ErrMalformedToken)
	}
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%s: header is not JSON: %w", op, ErrMalformedToken)
	}
	if h.Alg == "" {
		return nil, fmt.Errorf("%s: missing alg: %w", op, ErrMalformedToken)
	}
	return &h, nil
}

// verifyWithKeys dispatches to the SignatureVerifier registered for the
// token's algorithm and tries each candidate key in turn.
func verifyWithKeys(token string, h *Header, allowed []Alg, keys []interface{}) (map[string]interface{}, error) {
	if err := acceptedAlg(h, allowed); err != nil {
		return nil, err
	}
	v, ok := verifierFor(h.Alg)
	if !ok {
		return nil, fmt.Errorf("no verifier registered for %q: %w", h.Alg, ErrUnsupportedAlg)
	}
	for _, k := range keys {
		payload, err := v.Verify(token, k)
		if err != nil {
			continue
		}
		claims := map[string]interface{}{}
		if err := json.Unmarshal(payload, &claims); err != nil {
			return nil, fmt.Errorf("payload is not a JSON object: %w", ErrMalformedToken)
		}
		return claims, nil
	}
	return nil, fmt.Errorf("no known key successfully validated the token signature: %w", ErrInvalidSignature)
}

func acceptedAlg(h *Header, allowed []Alg) error {
	if !slices.Contains(allowed, h.Alg) {
		return fmt.Errorf("%q is not an accepted algorithm: %w", h.Alg, ErrUnsupportedAlg)
	}
	return nil
}

func defaultAlgs(symmetric bool) []Alg {
	verifiersMu.RLock()
	defer verifiersMu.RUnlock()
	algs := make([]Alg, 0, len(verifiers))
	for a := range verifiers {
		if asymmetric(a) != symmetric {
			algs = append(algs, a)
		}
	}
	slices.Sort(algs)
	return algs
}

// JSONWebKeySet verifies JWT signatures using keys obtained from a JWKS URL.
// Keys are cached for the configured TTL.  A token naming a key id which
// isn't cached triggers at most one early refetch per key id within a TTL
// window, so a flood of tokens with made up key ids can't be used to hammer
// the provider.
type JSONWebKeySet struct {
	jwksURL string
	client  *http.Client
	ttl     time.Duration
	now     func() time.Time
	logger  hclog.Logger
	algs    []Alg

	group singleflight.Group

	mu        sync.Mutex
	keys      *jose.JSONWebKeySet
	fetchedAt time.Time
	refetched map[string]struct{}
}

var _ KeySet = (*JSONWebKeySet)(nil)

// NewJSONWebKeySet returns a KeySet that verifies JWT signatures using keys
// from the JSON Web Key Set (JWKS) at the given jwksURL.  Keys are fetched
// lazily on first use.
//
// Supported options: WithSigningAlgs (default every registered asymmetric
// algorithm), WithHTTPClient, WithCacheTTL, WithNow, WithLogger
func NewJSONWebKeySet(jwksURL string, opt ...Option) (*JSONWebKeySet, error) {
	const op = "jwt.NewJSONWebKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwksURL must not be empty: %w", op, ErrInvalidParameter)
	}
	opts := getKeySetOpts(opt...)
	if opts.withSigningAlgs == nil {
		opts.withSigningAlgs = defaultAlgs(false)
	}
	if err := SupportedSigningAlgorithm(opts.withSigningAlgs...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = sdkhttp.NewClient("", sdkhttp.WithLogger(opts.withLogger)); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &JSONWebKeySet{
		jwksURL:   jwksURL,
		client:    client,
		ttl:       opts.withCacheTTL,
		now:       opts.withNow,
		logger:    opts.withLogger,
		algs:      opts.withSigningAlgs,
		refetched: map[string]struct{}{},
	}, nil
}

// VerifySignature parses the given JWT, verifies its signature using JWKS keys, and returns
// the claims in its payload. The given JWT must be of the JWS compact serialization form.
func (ks *JSONWebKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	const op = "JSONWebKeySet.VerifySignature"
	h, err := ParseHeader(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := acceptedAlg(h, ks.algs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	keys, err := ks.keysFor(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, err := verifyWithKeys(token, h, ks.algs, keys)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims, nil
}

func (ks *JSONWebKeySet) keysFor(ctx context.Context, h *Header) ([]interface{}, error) {
	ks.mu.Lock()
	stale := ks.keys == nil || !ks.now().Before(ks.fetchedAt.Add(ks.ttl))
	ks.mu.Unlock()
	if stale {
		if err := ks.refresh(ctx, true); err != nil {
			return nil, err
		}
	}
	keys := ks.match(h)
	if len(keys) > 0 || h.KeyID == "" || stale {
		if len(keys) == 0 {
			return nil, fmt.Errorf("no key for kid %q: %w", h.KeyID, ErrKeyNotFound)
		}
		return keys, nil
	}

	ks.mu.Lock()
	_, tried := ks.refetched[h.KeyID]
	ks.refetched[h.KeyID] = struct{}{}
	ks.mu.Unlock()
	if tried {
		return nil, fmt.Errorf("no key for kid %q: %w", h.KeyID, ErrKeyNotFound)
	}
	ks.logger.Debug("unknown key id, refetching key set", "kid", h.KeyID)
	if err := ks.refresh(ctx, false); err != nil {
		return nil, err
	}
	if keys = ks.match(h); len(keys) == 0 {
		return nil, fmt.Errorf("no key for kid %q: %w", h.KeyID, ErrKeyNotFound)
	}
	return keys, nil
}

func (ks *JSONWebKeySet) match(h *Header) []interface{} {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.keys == nil {
		return nil
	}
	candidates := ks.keys.Keys
	if h.KeyID != "" {
		candidates = ks.keys.Key(h.KeyID)
	}
	var keys []interface{}
	for _, k := range candidates {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if k.Algorithm != "" && k.Algorithm != string(h.Alg) {
			continue
		}
		if !k.IsPublic() {
			k = k.Public()
		}
		if k.Key != nil {
			keys = append(keys, k.Key)
		}
	}
	return keys
}

// refresh fetches the key set, collapsing concurrent fetches into one
// request.  A scheduled refresh (expired cache) also forgets which key ids
// already caused an early refetch.
func (ks *JSONWebKeySet) refresh(ctx context.Context, scheduled bool) error {
	_, err, _ := ks.group.Do("jwks", func() (interface{}, error) {
		set, err := ks.fetch(ctx)
		if err != nil {
			return nil, err
		}
		ks.mu.Lock()
		defer ks.mu.Unlock()
		ks.keys = set
		ks.fetchedAt = ks.now()
		if scheduled {
			ks.refetched = map[string]struct{}{}
		}
		return nil, nil
	})
	return err
}

func (ks *JSONWebKeySet) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeySetFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d from %s: %w", resp.StatusCode, ks.jwksURL, ErrKeySetFetch)
	}
	var set jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeySetSize)).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: unable to decode key set: %w", ErrKeySetFetch, err)
	}
	ks.logger.Debug("fetched key set", "url", ks.jwksURL, "keys", len(set.Keys))
	return &set, nil
}

// StaticKeySet verifies JWT signatures using local PEM-encoded public keys.
type StaticKeySet struct {
	publicKeys []interface{}
	algs       []Alg
}

var _ KeySet = (*StaticKeySet)(nil)

// NewStaticKeySet returns a KeySet that verifies JWT signatures using PEM-encoded public keys.
// The given publicKeys must be of PEM-encoded x509 certificate or PKIX public key forms.
//
// Supported options: WithSigningAlgs (default every registered asymmetric
// algorithm)
func NewStaticKeySet(publicKeys []string, opt ...Option) (*StaticKeySet, error) {
	const op = "jwt.NewStaticKeySet"
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("%s: no public keys: %w", op, ErrInvalidParameter)
	}
	opts := getKeySetOpts(opt...)
	if opts.withSigningAlgs == nil {
		opts.withSigningAlgs = defaultAlgs(false)
	}
	if err := SupportedSigningAlgorithm(opts.withSigningAlgs...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	parsedPublicKeys := make([]interface{}, 0, len(publicKeys))
	for _, k := range publicKeys {
		key, err := parsePublicKeyPEM([]byte(k))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		parsedPublicKeys = append(parsedPublicKeys, key)
	}

	return &StaticKeySet{
		publicKeys: parsedPublicKeys,
		algs:       opts.withSigningAlgs,
	}, nil
}

// VerifySignature parses the given JWT, verifies its signature using local PEM-encoded public keys,
// and returns the claims in its payload. The given JWT must be of the JWS compact serialization form.
func (ks *StaticKeySet) VerifySignature(_ context.Context, token string) (map[string]interface{}, error) {
	const op = "StaticKeySet.VerifySignature"
	h, err := ParseHeader(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, err := verifyWithKeys(token, h, ks.algs, ks.publicKeys)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims, nil
}

// SecretKeySet verifies HMAC signed JWTs with a shared secret, which for
// OIDC is the client secret.
type SecretKeySet struct {
	secret []byte
	algs   []Alg
}

var _ KeySet = (*SecretKeySet)(nil)

// NewSecretKeySet returns a KeySet verifying HS256, HS384 and HS512
// signatures with secret.
//
// Supported options: WithSigningAlgs
func NewSecretKeySet(secret string, opt ...Option) (*SecretKeySet, error) {
	const op = "jwt.NewSecretKeySet"
	if secret == "" {
		return nil, fmt.Errorf("%s: secret must not be empty: %w", op, ErrInvalidParameter)
	}
	opts := getKeySetOpts(opt...)
	if opts.withSigningAlgs == nil {
		opts.withSigningAlgs = defaultAlgs(true)
	}
	for _, a := range opts.withSigningAlgs {
		if asymmetric(a) {
			return nil, fmt.Errorf("%s: %q is not an HMAC algorithm: %w", op, a, ErrInvalidParameter)
		}
	}
	return &SecretKeySet{
		secret: []byte(secret),
		algs:   opts.withSigningAlgs,
	}, nil
}

// VerifySignature implements KeySet.
func (ks *SecretKeySet) VerifySignature(_ context.Context, token string) (map[string]interface{}, error) {
	const op = "SecretKeySet.VerifySignature"
	h, err := ParseHeader(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, err := verifyWithKeys(token, h, ks.algs, []interface{}{ks.secret})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims, nil
}

// parsePublicKeyPEM is used to parse RSA, ECDSA and Ed25519 public keys from PEMs.
// It returns a *rsa.PublicKey, *ecdsa.PublicKey or ed25519.PublicKey.
func parsePublicKeyPEM(data []byte) (interface{}, error) {
	block, _ := pem.Decode(data)
	if block != nil {
		var rawKey interface{}
		var err error
		if rawKey, err = x509.ParsePKIXPublicKey(block.Bytes); err != nil {
			if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
				rawKey = cert.PublicKey
			} else {
				return nil, fmt.Errorf("unable to parse public key: %w", ErrInvalidParameter)
			}
		}

		switch k := rawKey.(type) {
		case *rsa.PublicKey:
			return k, nil
		case *ecdsa.PublicKey:
			return k, nil
		case ed25519.PublicKey:
			return k, nil
		}
	}

	return nil, fmt.Errorf("data does not contain any valid RSA, ECDSA or Ed25519 public keys: %w", ErrInvalidParameter)
}
