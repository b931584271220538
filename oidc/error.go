// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrInvalidParameter       = errors.New("invalid parameter")
	ErrNilParameter           = errors.New("nil parameter")
	ErrConfiguration          = errors.New("invalid configuration")
	ErrInvalidCACert          = errors.New("invalid CA certificate")
	ErrIDGeneratorFailed      = errors.New("id generation failed")
	ErrStateMismatch          = errors.New("state mismatch")
	ErrPKCELength             = errors.New("invalid code verifier length")
	ErrNetwork                = errors.New("network error")
	ErrPARResponse            = errors.New("invalid pushed authorization response")
	ErrInvalidToken           = errors.New("invalid token")
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrInvalidIssuer          = errors.New("invalid issuer")
	ErrInvalidSubject         = errors.New("invalid subject")
	ErrInvalidAudience        = errors.New("invalid audience")
	ErrInvalidAuthorizedParty = errors.New("invalid authorized party")
	ErrExpiredToken           = errors.New("token is expired")
	ErrInvalidNonce           = errors.New("invalid nonce")
	ErrInvalidAuthTime        = errors.New("invalid auth_time")
	ErrMissingClaim           = errors.New("missing required claim")
	ErrInvalidOrganization    = errors.New("invalid organization")
	ErrInvalidLogoutToken     = errors.New("invalid logout token")
	ErrReplay                 = errors.New("token replayed")
	ErrInvalidGrant           = errors.New("invalid grant")
	ErrMissingIDToken         = errors.New("id_token is missing")
	ErrMissingAccessToken     = errors.New("access_token is missing")
	ErrNotFound               = errors.New("not found")
)

// TokenCheck names the verification step a token failed.
type TokenCheck string

const (
	CheckSignature       TokenCheck = "signature"
	CheckIssuer          TokenCheck = "issuer"
	CheckSubject         TokenCheck = "subject"
	CheckAudience        TokenCheck = "audience"
	CheckAuthorizedParty TokenCheck = "authorized_party"
	CheckExpiry          TokenCheck = "expiry"
	CheckNonce           TokenCheck = "nonce"
	CheckAuthTime        TokenCheck = "auth_time"
	CheckClaims          TokenCheck = "claims"
	CheckOrganization    TokenCheck = "organization"
	CheckLogoutToken     TokenCheck = "logout_token"
)

var checkErrors = map[TokenCheck]error{
	CheckSignature:       ErrInvalidSignature,
	CheckIssuer:          ErrInvalidIssuer,
	CheckSubject:         ErrInvalidSubject,
	CheckAudience:        ErrInvalidAudience,
	CheckAuthorizedParty: ErrInvalidAuthorizedParty,
	CheckExpiry:          ErrExpiredToken,
	CheckNonce:           ErrInvalidNonce,
	CheckAuthTime:        ErrInvalidAuthTime,
	CheckClaims:          ErrMissingClaim,
	CheckOrganization:    ErrInvalidOrganization,
	CheckLogoutToken:     ErrInvalidLogoutToken,
}

// InvalidTokenError is returned when an ID token or logout token fails
// verification.  It matches ErrInvalidToken and the sentinel for the failed
// Check (for example ErrInvalidAudience) with errors.Is.
type InvalidTokenError struct {
	Check TokenCheck
	Msg   string
	Err   error
}

func invalidToken(check TokenCheck, msg string, wrapped error) *InvalidTokenError {
	return &InvalidTokenError{Check: check, Msg: msg, Err: wrapped}
}

// Error implements the error interface.
func (e *InvalidTokenError) Error() string {
	s := fmt.Sprintf("%s: %s check failed", ErrInvalidToken, e.Check)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Is matches ErrInvalidToken and the sentinel for the error's Check.
func (e *InvalidTokenError) Is(target error) bool {
	if target == ErrInvalidToken {
		return true
	}
	sentinel, ok := checkErrors[e.Check]
	return ok && target == sentinel
}

// Unwrap returns the underlying error, if any.
func (e *InvalidTokenError) Unwrap() error { return e.Err }

// NetworkError is returned when the provider couldn't be reached or answered
// with an unexpected status.  Retryable failures have already been retried
// by the time it is returned.
type NetworkError struct {
	// StatusCode is zero when no response was received.
	StatusCode int
	Body       []byte
	Err        error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: unexpected status %d: %s", ErrNetwork, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: unexpected status %d", ErrNetwork, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", ErrNetwork, e.Err)
	default:
		return ErrNetwork.Error()
	}
}

// Is matches ErrNetwork.
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// Unwrap returns the underlying error, if any.
func (e *NetworkError) Unwrap() error { return e.Err }

// PARResponseError is returned when the pushed authorization request
// endpoint answers with anything but a 201 carrying a string request_uri and
// an integer expires_in.  Client credentials are removed from Request.
type PARResponseError struct {
	StatusCode int
	Request    url.Values
	Response   []byte
	Msg        string
}

// Error implements the error interface.
func (e *PARResponseError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrPARResponse, e.StatusCode, e.Msg)
}

// Is matches ErrPARResponse.
func (e *PARResponseError) Is(target error) bool { return target == ErrPARResponse }

// InvalidGrantError is returned when the token endpoint rejects a code or
// refresh token with a 4xx response.  The grant can't be used again; the
// user must authenticate again.
type InvalidGrantError struct {
	StatusCode  int
	Code        string
	Description string
	Err         error
}

// Error implements the error interface.
func (e *InvalidGrantError) Error() string {
	s := fmt.Sprintf("%s: status %d", ErrInvalidGrant, e.StatusCode)
	if e.Code != "" {
		s += ": " + e.Code
	}
	if e.Description != "" {
		s += ": " + e.Description
	}
	return s
}

// Is matches ErrInvalidGrant.
func (e *InvalidGrantError) Is(target error) bool { return target == ErrInvalidGrant }

// Unwrap returns the underlying error, if any.
func (e *InvalidGrantError) Unwrap() error { return e.Err }
