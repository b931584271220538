// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultCookiePrefix is the prefix of every cookie name written by a
	// CookieStore.
	DefaultCookiePrefix = "rp"

	// maxCookieValue keeps each cookie under the 4096 byte limit browsers
	// apply to name, value and attributes together.
	maxCookieValue = 3800

	cookieKeyInfo = "rpsession cookie encryption v1"
)

// cookiePayload is the plaintext sealed into each cookie.  The key is bound
// into the ciphertext so a value can't be replayed under another name.
type cookiePayload struct {
	Key       string `json:"k"`
	Value     []byte `json:"v"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

// CookieStore is a Store scoped to a single HTTP request: values are read
// from the request's cookies and written to the response as encrypted
// cookies (JWE, dir + A256GCM, keyed from the cookie secret with HKDF).
// Writes must happen before the response header is written.
//
// CompareAndSwap is atomic only within the request; concurrent requests from
// the same browser each see their own copy of the cookies.
type CookieStore struct {
	w    http.ResponseWriter
	r    *http.Request
	key  []byte
	opts cookieOptions

	mu sync.Mutex
	// pending holds the values written during this request; a nil payload
	// marks a deletion.
	pending map[string]*cookiePayload
	// written counts the chunks set per cookie name during this request.
	written map[string]int
}

var _ Store = (*CookieStore)(nil)

// DeriveCookieKey derives the 256-bit encryption key used for cookies from
// the configured cookie secret.
func DeriveCookieKey(secret string) ([]byte, error) {
	const op = "store.DeriveCookieKey"
	if secret == "" {
		return nil, fmt.Errorf("%s: missing cookie secret: %w", op, ErrInvalidParameter)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(cookieKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("%s: unable to derive key: %w", op, err)
	}
	return key, nil
}

// NewCookieStore creates a store reading from r and writing to w.
//
// Supported options: WithCookiePrefix, WithCookiePath, WithCookieDomain,
// WithSecureCookies, WithSameSite, WithNow
func NewCookieStore(w http.ResponseWriter, r *http.Request, secret string, opt ...Option) (*CookieStore, error) {
	const op = "store.NewCookieStore"
	switch {
	case w == nil:
		return nil, fmt.Errorf("%s: response writer is nil: %w", op, ErrNilParameter)
	case r == nil:
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	key, err := DeriveCookieKey(secret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &CookieStore{
		w:       w,
		r:       r,
		key:     key,
		opts:    getCookieOpts(opt...),
		pending: map[string]*cookiePayload{},
		written: map[string]int{},
	}, nil
}

// cookieName maps a store key to a cookie name.  Keys which are not valid
// cookie tokens are base64url encoded behind a '~' marker.
func (c *CookieStore) cookieName(key string) string {
	valid := key != ""
	for _, r := range key {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			valid = false
			break
		}
	}
	if !valid {
		key = "~" + base64.RawURLEncoding.EncodeToString([]byte(key))
	}
	return c.opts.withPrefix + "_" + key
}

func chunkName(name string, i int) string {
	if i == 0 {
		return name
	}
	return name + "." + strconv.Itoa(i)
}

// current must be called with the lock held.
func (c *CookieStore) current(key string) (*cookiePayload, error) {
	if p, ok := c.pending[key]; ok {
		if p == nil || c.expired(p) {
			return nil, nil
		}
		return p, nil
	}
	name := c.cookieName(key)
	var sb strings.Builder
	for i := 0; ; i++ {
		ck, err := c.r.Cookie(chunkName(name, i))
		if err != nil {
			break
		}
		sb.WriteString(ck.Value)
	}
	if sb.Len() == 0 {
		return nil, nil
	}
	p, err := c.open(sb.String())
	if err != nil || p.Key != key || c.expired(p) {
		// undecryptable, foreign or stale cookies read as absent
		return nil, nil
	}
	return p, nil
}

func (c *CookieStore) expired(p *cookiePayload) bool {
	return p.ExpiresAt != 0 && !c.opts.withNow().Before(time.Unix(p.ExpiresAt, 0))
}

func (c *CookieStore) seal(p *cookiePayload) (string, error) {
	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: c.key}, nil)
	if err != nil {
		return "", fmt.Errorf("unable to create encrypter: %w", err)
	}
	plaintext, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("unable to encode cookie: %w", err)
	}
	obj, err := enc.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("unable to encrypt cookie: %w", err)
	}
	return obj.CompactSerialize()
}

func (c *CookieStore) open(raw string) (*cookiePayload, error) {
	obj, err := jose.ParseEncryptedCompact(raw, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, err
	}
	plaintext, err := obj.Decrypt(c.key)
	if err != nil {
		return nil, err
	}
	var p cookiePayload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *CookieStore) baseCookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Path:     c.opts.withPath,
		Domain:   c.opts.withDomain,
		Secure:   c.opts.withSecure,
		HttpOnly: true,
		SameSite: c.opts.withSameSite,
	}
}

// liveChunks returns the chunk indexes for name the browser would hold
// after this response so far: the ones it sent plus the ones set during the
// request.
func (c *CookieStore) liveChunks(name string) []int {
	seen := map[int]bool{}
	for i := 0; i < c.written[name]; i++ {
		seen[i] = true
	}
	for _, ck := range c.r.Cookies() {
		switch {
		case ck.Name == name:
			seen[0] = true
		case strings.HasPrefix(ck.Name, name+"."):
			if i, err := strconv.Atoi(strings.TrimPrefix(ck.Name, name+".")); err == nil && i > 0 {
				seen[i] = true
			}
		}
	}
	idx := make([]int, 0, len(seen))
	for i := range seen {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// write must be called with the lock held.
func (c *CookieStore) write(key string, p *cookiePayload, ttl time.Duration) error {
	name := c.cookieName(key)
	var chunks []string
	if p != nil {
		sealed, err := c.seal(p)
		if err != nil {
			return err
		}
		for len(sealed) > maxCookieValue {
			chunks = append(chunks, sealed[:maxCookieValue])
			sealed = sealed[maxCookieValue:]
		}
		chunks = append(chunks, sealed)
	}
	for i, v := range chunks {
		ck := c.baseCookie(chunkName(name, i))
		ck.Value = v
		if ttl > 0 {
			ck.MaxAge = int(math.Ceil(ttl.Seconds()))
		}
		http.SetCookie(c.w, ck)
	}
	for _, i := range c.liveChunks(name) {
		if i < len(chunks) {
			continue
		}
		ck := c.baseCookie(chunkName(name, i))
		ck.MaxAge = -1
		http.SetCookie(c.w, ck)
	}
	c.written[name] = len(chunks)
	c.pending[key] = p
	return nil
}

func (c *CookieStore) payload(key string, value []byte, ttl time.Duration) *cookiePayload {
	p := &cookiePayload{Key: key, Value: append([]byte(nil), value...)}
	if ttl > 0 {
		p.ExpiresAt = c.opts.withNow().Add(ttl).Unix()
	}
	return p
}

// Get implements Store.
func (c *CookieStore) Get(_ context.Context, key string) ([]byte, error) {
	const op = "CookieStore.Get"
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.current(key)
	switch {
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	case p == nil:
		return nil, fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
	}
	return append([]byte(nil), p.Value...), nil
}

// Set implements Store.
func (c *CookieStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	const op = "CookieStore.Set"
	if ttl < 0 {
		return fmt.Errorf("%s: negative ttl: %w", op, ErrInvalidParameter)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.write(key, c.payload(key, value, ttl), ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete implements Store by expiring the cookie.
func (c *CookieStore) Delete(_ context.Context, key string) error {
	const op = "CookieStore.Delete"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.write(key, nil, 0); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CompareAndSwap implements Store.
func (c *CookieStore) CompareAndSwap(_ context.Context, key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	const op = "CookieStore.CompareAndSwap"
	if ttl < 0 {
		return false, fmt.Errorf("%s: negative ttl: %w", op, ErrInvalidParameter)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.current(key)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	var cur []byte
	if p != nil {
		cur = p.Value
	}
	if !sameValue(p != nil, cur, oldValue) {
		return false, nil
	}
	var next *cookiePayload
	if newValue != nil {
		next = c.payload(key, newValue, ttl)
	}
	if err := c.write(key, next, ttl); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

type cookieOptions struct {
	withPrefix   string
	withPath     string
	withDomain   string
	withSecure   bool
	withSameSite http.SameSite
	withNow      func() time.Time
}

func cookieDefaults() cookieOptions {
	return cookieOptions{
		withPrefix:   DefaultCookiePrefix,
		withPath:     "/",
		withSecure:   true,
		withSameSite: http.SameSiteLaxMode,
		withNow:      time.Now,
	}
}

func getCookieOpts(opt ...Option) cookieOptions {
	opts := cookieDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithCookiePrefix provides an optional prefix for cookie names.
func WithCookiePrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*cookieOptions); ok && prefix != "" {
			o.withPrefix = prefix
		}
	}
}

// WithCookiePath provides an optional cookie Path attribute.
func WithCookiePath(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*cookieOptions); ok && path != "" {
			o.withPath = path
		}
	}
}

// WithCookieDomain provides an optional cookie Domain attribute.
func WithCookieDomain(domain string) Option {
	return func(o interface{}) {
		if o, ok := o.(*cookieOptions); ok {
			o.withDomain = domain
		}
	}
}

// WithSecureCookies sets the cookie Secure attribute, which defaults to
// true.  Only disable it for local development over plain http.
func WithSecureCookies(secure bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*cookieOptions); ok {
			o.withSecure = secure
		}
	}
}

// WithSameSite provides an optional cookie SameSite attribute; the default
// is Lax, which still sends the cookies on the provider's top level redirect
// back to the callback.  Use None for response_mode=form_post.
func WithSameSite(s http.SameSite) Option {
	return func(o interface{}) {
		if o, ok := o.(*cookieOptions); ok {
			o.withSameSite = s
		}
	}
}
