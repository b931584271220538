// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"
)

const (
	// JWTTypeParam is the proper value for client_assertion_type.
	// https://www.rfc-editor.org/rfc/rfc7523.html#section-2.2
	JWTTypeParam = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	// DefaultLifetime is how long a signed assertion is valid for.
	DefaultLifetime = 5 * time.Minute
)

// NewJWT creates a new JWT which will be signed with either a private key or
// client secret.  The audience is usually the provider's issuer.
//
// Supported Options:
// * WithClientSecret
// * WithRSAKey
// * WithECDSAKey
// * WithKeyID
// * WithHeaders
// * WithLifetime
//
// Exactly one of WithRSAKey, WithECDSAKey or WithClientSecret must be used.
func NewJWT(clientID string, audience []string, opts ...Option) (*JWT, error) {
	const op = "NewJWT"
	j := &JWT{
		clientID: clientID,
		audience: audience,
		headers:  make(map[string]string),
		lifetime: DefaultLifetime,
		genID:    uuid.GenerateUUID,
		now:      time.Now,
	}

	var errs *multierror.Error
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(j); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// finally, make sure Serialize() works; we can't pre-validate everything,
	// and this whole thing is useless if it can't Serialize()
	if _, err := j.Serialize(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return j, nil
}

// JWT is used to create a client assertion JWT, a special JWT used by an OAuth
// 2.0 or OIDC client to authenticate themselves to an authorization server
type JWT struct {
	// for JWT claims
	clientID string
	audience []string
	headers  map[string]string
	lifetime time.Duration

	// for signer
	alg jose.SignatureAlgorithm
	// key may be any key type that jose.SigningKey accepts for its Key
	key any
	// secret may be used instead of key
	secret string
	// signingKeys counts the options which set key or secret
	signingKeys int

	// these are overwritten for testing
	genID func() (string, error)
	now   func() time.Time
}

// Serialize returns client assertion JWT which can be used by an OAuth 2.0 or
// OIDC client to authenticate themselves to an authorization server
func (j *JWT) Serialize() (string, error) {
	const op = "JWT.Serialize"
	if err := j.validate(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	builder, err := j.builder()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	token, err := builder.Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: failed to serialize token: %w", op, err)
	}
	return token, nil
}

func (j *JWT) validate() error {
	const op = "JWT.validate"
	var errs *multierror.Error
	if j.genID == nil {
		errs = multierror.Append(errs, ErrMissingFuncIDGenerator)
	}
	if j.now == nil {
		errs = multierror.Append(errs, ErrMissingFuncNow)
	}
	// bail early if any internal func errors
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if j.clientID == "" {
		errs = multierror.Append(errs, ErrMissingClientID)
	}
	if len(j.audience) == 0 {
		errs = multierror.Append(errs, ErrMissingAudience)
	}
	if j.alg == "" {
		errs = multierror.Append(errs, ErrMissingAlgorithm)
	}
	if j.key == nil && j.secret == "" {
		errs = multierror.Append(errs, ErrMissingKeyOrSecret)
	}
	if j.signingKeys > 1 || (j.key != nil && j.secret != "") {
		errs = multierror.Append(errs, ErrBothKeyAndSecret)
	}
	if j.lifetime <= 0 {
		errs = multierror.Append(errs, ErrInvalidLifetime)
	}
	// if any of those fail, we have no hope.
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (j *JWT) builder() (jwt.Builder, error) {
	const op = "builder"
	signer, err := j.signer()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := j.genID()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to generate token id: %w", op, err)
	}
	claims := j.claims(id)
	return jwt.Signed(signer).Claims(claims), nil
}

func (j *JWT) signer() (jose.Signer, error) {
	const op = "signer"
	sKey := jose.SigningKey{
		Algorithm: j.alg,
	}

	// validate() ensures these are mutually exclusive
	if j.secret != "" {
		sKey.Key = []byte(j.secret)
	}
	if j.key != nil {
		sKey.Key = j.key
	}

	sOpts := &jose.SignerOptions{
		ExtraHeaders: make(map[jose.HeaderKey]interface{}, len(j.headers)),
	}
	for k, v := range j.headers {
		sOpts.ExtraHeaders[jose.HeaderKey(k)] = v
	}

	signer, err := jose.NewSigner(sKey, sOpts.WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrCreatingSigner, err)
	}
	return signer, nil
}

func (j *JWT) claims(id string) *jwt.Claims {
	now := j.now().UTC()
	return &jwt.Claims{
		Issuer:    j.clientID,
		Subject:   j.clientID,
		Audience:  j.audience,
		Expiry:    jwt.NewNumericDate(now.Add(j.lifetime)),
		NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Second)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        id,
	}
}

// serializer is the primary interface implemented by JWT.
type serializer interface {
	Serialize() (string, error)
}

// ensure JWT implements serializer, which is accepted by the oidc option
// oidc.WithClientAssertionJWT.
var _ serializer = &JWT{}
