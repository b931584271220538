// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/rpsession/oidc"
)

// Key is the key of the session in the end-user's store.
const Key = "session"

// storedSessionVersion is bumped whenever storedSession changes
// incompatibly.  Sessions with another version read as absent.
const storedSessionVersion = 1

// State of a session.
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Expired
)

// String implements fmt.Stringer
func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return "unauthenticated"
	}
}

// Claims are the ID token claims a session keeps.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	SessionID string
}

// Credentials of an established session.
type Credentials struct {
	IDToken              oidc.IDToken
	AccessToken          oidc.AccessToken
	RefreshToken         oidc.RefreshToken
	AccessTokenExpiresAt time.Time
	Scope                string
	Claims               Claims

	// CreatedAt is when the session was established.  Renewal doesn't change
	// it.  A backchannel logout issued at or after it revokes the session.
	CreatedAt time.Time

	state State
}

// State of the session when the credentials were read.
func (c *Credentials) State() State { return c.state }

// expired reports whether the access token is expired at now.  A zero expiry
// never expires.
func (c *Credentials) expired(now time.Time) bool {
	return !c.AccessTokenExpiresAt.IsZero() && !now.Before(c.AccessTokenExpiresAt)
}

// storedSession is the persisted form of Credentials.  The oidc token types
// redact themselves when marshaled, so tokens are kept as plain strings.
type storedSession struct {
	Version      int       `json:"v"`
	IDToken      string    `json:"id_token"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
	Subject      string    `json:"sub"`
	Issuer       string    `json:"iss"`
	Audience     []string  `json:"aud,omitempty"`
	SessionID    string    `json:"sid,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func encode(c *Credentials) ([]byte, error) {
	const op = "session.encode"
	b, err := json.Marshal(&storedSession{
		Version:      storedSessionVersion,
		IDToken:      string(c.IDToken),
		AccessToken:  string(c.AccessToken),
		RefreshToken: string(c.RefreshToken),
		ExpiresAt:    c.AccessTokenExpiresAt,
		Scope:        c.Scope,
		Subject:      c.Claims.Subject,
		Issuer:       c.Claims.Issuer,
		Audience:     c.Claims.Audience,
		SessionID:    c.Claims.SessionID,
		CreatedAt:    c.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

func decode(b []byte) (*Credentials, error) {
	const op = "session.decode"
	var s storedSession
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	switch {
	case s.Version != storedSessionVersion:
		return nil, fmt.Errorf("%s: unsupported version %d: %w", op, s.Version, ErrInvalidParameter)
	case s.AccessToken == "":
		return nil, fmt.Errorf("%s: missing access token: %w", op, ErrInvalidParameter)
	case s.Subject == "":
		return nil, fmt.Errorf("%s: missing subject: %w", op, ErrInvalidParameter)
	}
	return &Credentials{
		IDToken:              oidc.IDToken(s.IDToken),
		AccessToken:          oidc.AccessToken(s.AccessToken),
		RefreshToken:         oidc.RefreshToken(s.RefreshToken),
		AccessTokenExpiresAt: s.ExpiresAt,
		Scope:                s.Scope,
		Claims: Claims{
			Subject:   s.Subject,
			Issuer:    s.Issuer,
			Audience:  s.Audience,
			SessionID: s.SessionID,
		},
		CreatedAt: s.CreatedAt,
	}, nil
}
