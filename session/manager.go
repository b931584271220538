// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/hashicorp/rpsession/oidc"
	"github.com/hashicorp/rpsession/store"
)

// Manager owns the lifecycle of end-user sessions established with a
// provider.  It's safe for concurrent use; the per-user state lives in the
// stores passed to each call.
type Manager struct {
	provider *oidc.Provider
	policy   RenewalPolicy
	ttl      time.Duration
	logger   hclog.Logger
	now      func() time.Time

	// renewals collapses concurrent renewals of the same refresh token
	// within this process into one token request.
	renewals singleflight.Group
}

// NewManager creates a session manager for the provider.
//
// Supported options: WithRenewalPolicy, WithSessionTTL, WithLogger, WithNow
func NewManager(p *oidc.Provider, opt ...Option) (*Manager, error) {
	const op = "session.NewManager"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, ErrNilParameter)
	}
	opts := getManagerOpts(opt...)
	switch opts.withRenewalPolicy {
	case RenewOnDemand, RenewEager:
	default:
		return nil, fmt.Errorf("%s: unknown renewal policy %d: %w", op, opts.withRenewalPolicy, ErrInvalidParameter)
	}
	if opts.withSessionTTL < 0 {
		return nil, fmt.Errorf("%s: session ttl is negative: %w", op, ErrInvalidParameter)
	}
	if opts.withLogger == nil {
		opts.withLogger = p.Config().Logger.Named("session")
	}
	if opts.withNow == nil {
		opts.withNow = p.Config().Now
	}
	return &Manager{
		provider: p,
		policy:   opts.withRenewalPolicy,
		ttl:      opts.withSessionTTL,
		logger:   opts.withLogger,
		now:      opts.withNow,
	}, nil
}

// Provider returns the manager's provider.
func (m *Manager) Provider() *oidc.Provider { return m.provider }

// Login starts a login attempt and returns the URL to redirect the user agent
// to.  The attempt's transient state is kept in transient until Callback.
//
// Supported options: the options of oidc.Provider.AuthURL
func (m *Manager) Login(ctx context.Context, transient store.Store, opt ...oidc.Option) (string, error) {
	const op = "Manager.Login"
	authURL, err := m.provider.AuthURL(ctx, transient, opt...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return authURL, nil
}

// Callback completes a login attempt with the state and code the provider
// redirected back with, and stores the new session in sessions, replacing
// any existing one.
func (m *Manager) Callback(ctx context.Context, sessions, transient store.Store, state, code string) (*Credentials, error) {
	const op = "Manager.Callback"
	if sessions == nil {
		return nil, fmt.Errorf("%s: session store is nil: %w", op, ErrNilParameter)
	}
	tk, claims, err := m.provider.Exchange(ctx, transient, state, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c := &Credentials{
		IDToken:              tk.IDToken(),
		AccessToken:          tk.AccessToken(),
		RefreshToken:         tk.RefreshToken(),
		AccessTokenExpiresAt: tk.Expiry(),
		Scope:                tk.Scope(),
		Claims: Claims{
			Subject:   claims.Subject,
			Issuer:    claims.Issuer,
			Audience:  []string(claims.Audience),
			SessionID: claims.SessionID,
		},
		CreatedAt: m.now(),
		state:     Authenticated,
	}
	raw, err := encode(c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := sessions.Set(ctx, Key, raw, m.ttl); err != nil {
		return nil, fmt.Errorf("%s: unable to store session: %w", op, err)
	}
	m.logger.Debug("session established", "refresh_token", c.RefreshToken != "", "expires_at", c.AccessTokenExpiresAt)
	return c, nil
}

// Credentials returns the current session's credentials.  It fails with
// ErrUnauthenticated when there's no session, when the session was revoked
// by a backchannel logout, or when it expired without a refresh token; the
// last two clear the session.
//
// An expired session with a refresh token is renewed first with the
// RenewEager policy.  With RenewOnDemand it's returned as is, with
// State() == Expired.
func (m *Manager) Credentials(ctx context.Context, sessions store.Store) (*Credentials, error) {
	const op = "Manager.Credentials"
	c, raw, err := m.load(ctx, sessions)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if c.state == Expired && m.policy == RenewEager {
		c, err = m.renew(ctx, sessions, raw, c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return c, nil
}

// AccessToken returns an unexpired access token for the current session,
// renewing the session when its access token has expired.
func (m *Manager) AccessToken(ctx context.Context, sessions store.Store) (oidc.AccessToken, error) {
	const op = "Manager.AccessToken"
	c, raw, err := m.load(ctx, sessions)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if c.state == Expired {
		if c, err = m.renew(ctx, sessions, raw, c); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}
	return c.AccessToken, nil
}

// Renew renews the current session with its refresh token, whether or not
// its access token has expired.  It fails with ErrNoRefreshToken, leaving
// the session untouched, when the session has no refresh token.
//
// When the provider rejects the refresh token the session is cleared and
// the error matches ErrReauthenticationRequired.  Other failures, such as an
// unavailable provider, leave the session untouched.
func (m *Manager) Renew(ctx context.Context, sessions store.Store) (*Credentials, error) {
	const op = "Manager.Renew"
	c, raw, err := m.load(ctx, sessions)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if c.RefreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoRefreshToken)
	}
	c, err = m.renew(ctx, sessions, raw, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Logout clears the current session and returns the provider's logout URL.
// The session's ID token is sent as the id_token_hint for RP-initiated
// logout.
//
// Supported options: the options of oidc.Provider.LogoutURL
func (m *Manager) Logout(ctx context.Context, sessions store.Store, opt ...oidc.Option) (string, error) {
	const op = "Manager.Logout"
	if sessions == nil {
		return "", fmt.Errorf("%s: session store is nil: %w", op, ErrNilParameter)
	}
	var hint oidc.IDToken
	if raw, err := sessions.Get(ctx, Key); err == nil {
		if c, err := decode(raw); err == nil {
			hint = c.IDToken
		}
	}
	if err := sessions.Delete(ctx, Key); err != nil {
		return "", fmt.Errorf("%s: unable to clear session: %w", op, err)
	}
	logoutURL, err := m.provider.LogoutURL(append([]oidc.Option{oidc.WithIDTokenHint(hint)}, opt...)...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return logoutURL, nil
}

// load reads the stored session, applies revocation and expiry, and returns
// the credentials with their state and the raw stored value they came from.
func (m *Manager) load(ctx context.Context, sessions store.Store) (*Credentials, []byte, error) {
	const op = "Manager.load"
	if sessions == nil {
		return nil, nil, fmt.Errorf("%s: session store is nil: %w", op, ErrNilParameter)
	}
	raw, err := sessions.Get(ctx, Key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, nil, fmt.Errorf("%s: no session: %w", op, ErrUnauthenticated)
	case err != nil:
		return nil, nil, fmt.Errorf("%s: unable to read session: %w", op, err)
	}
	c, err := decode(raw)
	if err != nil {
		m.logger.Warn("discarding unreadable session", "error", err)
		m.clear(ctx, sessions, raw)
		return nil, nil, fmt.Errorf("%s: %w: %w", op, ErrUnauthenticated, err)
	}

	revoked, err := m.provider.IsRevoked(ctx, c.Claims.SessionID, c.Claims.Subject, c.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if revoked {
		m.logger.Debug("session revoked by backchannel logout")
		m.clear(ctx, sessions, raw)
		return nil, nil, fmt.Errorf("%s: session was revoked: %w", op, ErrUnauthenticated)
	}

	c.state = Authenticated
	if c.expired(m.now()) {
		if c.RefreshToken == "" {
			m.clear(ctx, sessions, raw)
			return nil, nil, fmt.Errorf("%s: session expired: %w", op, ErrUnauthenticated)
		}
		c.state = Expired
	}
	return c, raw, nil
}

// renew redeems the refresh token of c, read from the stored value raw, and
// replaces raw with the renewed session.
//
// Concurrent renewals of one refresh token share a single token request,
// whose initiator stores the result before the others are released.  A
// caller whose refresh token was already rotated away gets the session
// stored by the renewal that won.  If the stored session was replaced in
// the meantime the renewed session is dropped and the error matches
// ErrReauthenticationRequired.
func (m *Manager) renew(ctx context.Context, sessions store.Store, raw []byte, c *Credentials) (*Credentials, error) {
	const op = "Manager.renew"
	v, err, _ := m.renewals.Do(renewalKey(c.RefreshToken), func() (interface{}, error) {
		tk, err := m.provider.Renew(ctx, c.RefreshToken, oidc.WithSubject(c.Claims.Subject), oidc.WithIssuer(c.Claims.Issuer))
		if err != nil {
			return nil, err
		}
		if newRaw, err := encode(renewedCredentials(c, tk)); err == nil {
			if _, err := sessions.CompareAndSwap(ctx, Key, raw, newRaw, m.ttl); err != nil {
				m.logger.Warn("unable to store renewed session", "error", err)
			}
		}
		return tk, nil
	})
	if err != nil {
		if !errors.Is(err, oidc.ErrInvalidGrant) && !identityChanged(err) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if current, ok := m.renewedElsewhere(ctx, sessions, raw); ok {
			return current, nil
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrReauthenticationRequired, err)
	}
	tk := v.(*oidc.Tk)

	renewed := renewedCredentials(c, tk)
	newRaw, err := encode(renewed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	swapped, err := sessions.CompareAndSwap(ctx, Key, raw, newRaw, m.ttl)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to store renewed session: %w", op, err)
	}
	if !swapped {
		current, err := sessions.Get(ctx, Key)
		if err != nil || !bytes.Equal(current, newRaw) {
			return nil, fmt.Errorf("%s: session changed during renewal: %w", op, ErrReauthenticationRequired)
		}
	}
	m.logger.Debug("session renewed", "rotated", renewed.RefreshToken != c.RefreshToken, "expires_at", renewed.AccessTokenExpiresAt)
	return renewed, nil
}

// renewedElsewhere is called when the provider rejected the refresh token
// of the stored value raw, or answered it for another user.  The session is cleared, unless it no longer is
// raw, in which case the current session is returned if it's usable.
func (m *Manager) renewedElsewhere(ctx context.Context, sessions store.Store, raw []byte) (*Credentials, bool) {
	cleared, err := sessions.CompareAndSwap(ctx, Key, raw, nil, 0)
	if err != nil {
		m.logger.Warn("unable to clear session", "error", err)
		return nil, false
	}
	if cleared {
		return nil, false
	}
	current, _, err := m.load(ctx, sessions)
	if err != nil || current.state != Authenticated {
		return nil, false
	}
	return current, true
}

// identityChanged reports whether a refresh returned an ID token whose
// subject or issuer differs from the session's.
func identityChanged(err error) bool {
	return errors.Is(err, oidc.ErrInvalidSubject) || errors.Is(err, oidc.ErrInvalidIssuer)
}

// renewedCredentials returns c updated with a token from a refresh.
func renewedCredentials(c *Credentials, tk *oidc.Tk) *Credentials {
	renewed := *c
	renewed.AccessToken = tk.AccessToken()
	renewed.AccessTokenExpiresAt = tk.Expiry()
	renewed.RefreshToken = tk.RefreshToken()
	if tk.IDToken() != "" {
		renewed.IDToken = tk.IDToken()
	}
	if tk.Scope() != "" {
		renewed.Scope = tk.Scope()
	}
	renewed.state = Authenticated
	return &renewed
}

// clear deletes the stored session if it's still raw.  Failures are logged:
// the caller already treats the session as gone.
func (m *Manager) clear(ctx context.Context, sessions store.Store, raw []byte) {
	if _, err := sessions.CompareAndSwap(ctx, Key, raw, nil, 0); err != nil {
		m.logger.Warn("unable to clear session", "error", err)
	}
}

func renewalKey(t oidc.RefreshToken) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
