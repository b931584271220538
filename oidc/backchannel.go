// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	josejwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/hashicorp/rpsession/store"
)

// BackchannelLogoutEvent is the event a logout token's events claim must
// contain.
//
// See: https://openid.net/specs/openid-connect-backchannel-1_0.html#LogoutToken
const BackchannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"

// Cache key prefixes used for backchannel logout.
const (
	logoutJTIPrefix = "logout:jti:"
	logoutSIDPrefix = "logout:sid:"
	logoutSubPrefix = "logout:sub:"

	// logoutNoSIDPrefix marks the sessions of a subject that have no session
	// id, for logout tokens naming both a session id and a subject.
	logoutNoSIDPrefix = "logout:nosid:"
)

// LogoutToken is a verified backchannel logout token.  It's never persisted:
// handling it leaves a replay marker for its ID and a revocation marker for
// its session id, or its subject when it has no session id.
type LogoutToken struct {
	Issuer    string
	Subject   string
	SessionID string
	Audience  []string
	IssuedAt  time.Time
	Expiry    time.Time
	Events    map[string]interface{}
	ID        string
}

type logoutTokenClaims struct {
	Issuer    string                 `json:"iss"`
	Subject   string                 `json:"sub,omitempty"`
	SessionID string                 `json:"sid,omitempty"`
	Audience  josejwt.Audience       `json:"aud"`
	IssuedAt  *josejwt.NumericDate   `json:"iat,omitempty"`
	Expiry    *josejwt.NumericDate   `json:"exp,omitempty"`
	Events    map[string]interface{} `json:"events,omitempty"`
	ID        string                 `json:"jti,omitempty"`
	Nonce     *string                `json:"nonce,omitempty"`
}

// VerifyLogoutToken verifies a backchannel logout token.  Its signature,
// issuer, audience and expiry are checked like an ID token's.  In addition
// its events claim must contain BackchannelLogoutEvent, it must carry a sub
// or a sid, a jti and an iat, and it must not carry a nonce.
//
// See: https://openid.net/specs/openid-connect-backchannel-1_0.html#Validation
func (p *Provider) VerifyLogoutToken(ctx context.Context, rawToken string) (*LogoutToken, error) {
	const op = "Provider.VerifyLogoutToken"
	if rawToken == "" {
		return nil, fmt.Errorf("%s: logout token is empty: %w", op, ErrInvalidParameter)
	}
	raw, err := p.verifySignature(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var c logoutTokenClaims
	if err := decodeClaims(raw, &c); err != nil {
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckLogoutToken, "malformed claims", err))
	}
	if err := p.verifyIssuerAndAudience(c.Issuer, c.Audience); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := p.config.Now()
	skew := p.config.ClockSkew
	switch {
	case c.Expiry == nil:
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckLogoutToken, "missing exp", nil))
	case now.After(c.Expiry.Time().Add(skew)):
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckExpiry, fmt.Sprintf("expired at %s", c.Expiry.Time().UTC().Format(time.RFC3339)), nil))
	case c.IssuedAt == nil:
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckLogoutToken, "missing iat", nil))
	case c.IssuedAt.Time().After(now.Add(skew)):
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckLogoutToken, "iat is in the future", nil))
	case c.Subject == "" && c.SessionID == "":
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckLogoutToken, "missing both sub and sid", nil))
	case c.ID == "":
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckLogoutToken, "missing jti", nil))
	case c.Nonce != nil:
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckLogoutToken, "nonce is not allowed", nil))
	}
	event, ok := c.Events[BackchannelLogoutEvent]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckLogoutToken, "events doesn't contain the backchannel logout event", nil))
	}
	if _, ok := event.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("%s: %w", op, invalidToken(CheckLogoutToken, "backchannel logout event isn't a JSON object", nil))
	}
	return &LogoutToken{
		Issuer:    c.Issuer,
		Subject:   c.Subject,
		SessionID: c.SessionID,
		Audience:  c.Audience,
		IssuedAt:  c.IssuedAt.Time(),
		Expiry:    c.Expiry.Time(),
		Events:    c.Events,
		ID:        c.ID,
	}, nil
}

// HandleLogoutToken verifies a backchannel logout token and revokes the
// sessions it names: its session id, or every session of its subject
// created up to its iat when it has no session id.  A token with both also
// revokes the subject's sessions which were established without a session
// id.
//
// The token's jti is recorded with an atomic insert once the revocation
// markers are stored, so a token delivered again changes nothing and returns
// an error matching ErrReplay, which callers should treat as success.  When
// storing a marker fails the jti isn't recorded and the provider's
// redelivery is handled as new.  Markers expire with the token plus the
// config's RevocationTTL.  It fails with ErrConfiguration when the config has
// no BackchannelLogoutCache.
func (p *Provider) HandleLogoutToken(ctx context.Context, rawToken string) (*LogoutToken, error) {
	const op = "Provider.HandleLogoutToken"
	cache := p.config.BackchannelLogoutCache
	if cache == nil {
		return nil, fmt.Errorf("%s: backchannel logout cache is not configured: %w", op, ErrConfiguration)
	}
	lt, err := p.VerifyLogoutToken(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ttl := lt.Expiry.Sub(p.config.Now()) + p.config.ClockSkew + p.config.RevocationTTL
	if ttl < time.Second {
		ttl = time.Second
	}

	iat := []byte(strconv.FormatInt(lt.IssuedAt.Unix(), 10))
	for _, key := range revocationKeys(lt) {
		if err := markRevoked(ctx, cache, key, lt.IssuedAt, iat, ttl); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	first, err := cache.SetIfAbsent(ctx, logoutJTIPrefix+hashKey(lt.Issuer+"|"+lt.ID), iat, ttl)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to record logout token id: %w", op, err)
	}
	if !first {
		return lt, fmt.Errorf("%s: logout token %s was already handled: %w", op, lt.ID, ErrReplay)
	}
	p.logger.Debug("session revoked by backchannel logout", "sid_set", lt.SessionID != "", "sub_set", lt.Subject != "", "ttl", ttl)
	return lt, nil
}

// revocationKeys returns the keys of the markers a logout token sets.
func revocationKeys(lt *LogoutToken) []string {
	switch {
	case lt.SessionID == "":
		return []string{logoutSubPrefix + hashKey(lt.Subject)}
	case lt.Subject == "":
		return []string{logoutSIDPrefix + hashKey(lt.SessionID)}
	default:
		return []string{
			logoutSIDPrefix + hashKey(lt.SessionID),
			logoutNoSIDPrefix + hashKey(lt.Subject),
		}
	}
}

// markRevoked stores iat at key unless the marker already there is as
// recent.
func markRevoked(ctx context.Context, cache store.Cache, key string, issuedAt time.Time, iat []byte, ttl time.Duration) error {
	current, err := revokedAt(ctx, cache, key)
	if err != nil {
		return err
	}
	if !current.IsZero() && !current.Before(issuedAt) {
		return nil
	}
	if err := cache.Set(ctx, key, iat, ttl); err != nil {
		return fmt.Errorf("unable to store revocation marker: %w", err)
	}
	return nil
}

// IsRevoked reports whether a session created at createdAt for the given
// session id and subject has been revoked by a backchannel logout.  A logout
// token revokes the sessions created up to its iat plus the config's
// ClockSkew, since iat is read from the provider's clock.  It's always false
// when backchannel logout isn't configured.
func (p *Provider) IsRevoked(ctx context.Context, sessionID, subject string, createdAt time.Time) (bool, error) {
	const op = "Provider.IsRevoked"
	cache := p.config.BackchannelLogoutCache
	if cache == nil {
		return false, nil
	}
	var keys []string
	if sessionID != "" {
		keys = append(keys, logoutSIDPrefix+hashKey(sessionID))
	}
	if subject != "" {
		keys = append(keys, logoutSubPrefix+hashKey(subject))
		if sessionID == "" {
			keys = append(keys, logoutNoSIDPrefix+hashKey(subject))
		}
	}
	createdAt = createdAt.Add(-p.config.ClockSkew)
	for _, k := range keys {
		at, err := revokedAt(ctx, cache, k)
		if err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		if !at.IsZero() && createdAt.Unix() <= at.Unix() {
			return true, nil
		}
	}
	return false, nil
}

// revokedAt returns the iat stored in the revocation marker at key, or the
// zero time when there's none.
func revokedAt(ctx context.Context, cache store.Cache, key string) (time.Time, error) {
	v, err := cache.Get(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return time.Time{}, nil
	case err != nil:
		return time.Time{}, fmt.Errorf("unable to read revocation marker: %w", err)
	}
	secs, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("revocation marker %q is invalid: %w", v, ErrInvalidParameter)
	}
	return time.Unix(secs, 0), nil
}

func hashKey(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
