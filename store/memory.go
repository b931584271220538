// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Store and Cache.  Expired entries are removed
// lazily when they are next touched, or in bulk by Purge.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var (
	_ Store = (*Memory)(nil)
	_ Cache = (*Memory)(nil)
)

// NewMemory creates an in-memory store.
//
// Supported options: WithNow
func NewMemory(opt ...Option) *Memory {
	opts := getMemoryOpts(opt...)
	return &Memory{
		entries: map[string]memoryEntry{},
		now:     opts.withNow,
	}
}

// lookup must be called with the lock held.
func (m *Memory) lookup(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// put must be called with the lock held.
func (m *Memory) put(key string, value []byte, ttl time.Duration) {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
}

// Get implements Store and Cache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	const op = "Memory.Get"
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
	}
	return append([]byte(nil), e.value...), nil
}

// Set implements Store and Cache.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	const op = "Memory.Set"
	if ttl < 0 {
		return fmt.Errorf("%s: negative ttl: %w", op, ErrInvalidParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value, ttl)
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Has implements Cache.
func (m *Memory) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(key)
	return ok, nil
}

// SetIfAbsent implements Cache.
func (m *Memory) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	const op = "Memory.SetIfAbsent"
	if ttl < 0 {
		return false, fmt.Errorf("%s: negative ttl: %w", op, ErrInvalidParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.put(key, value, ttl)
	return true, nil
}

// CompareAndSwap implements Store.
func (m *Memory) CompareAndSwap(_ context.Context, key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	const op = "Memory.CompareAndSwap"
	if ttl < 0 {
		return false, fmt.Errorf("%s: negative ttl: %w", op, ErrInvalidParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, found := m.lookup(key)
	if !sameValue(found, cur.value, oldValue) {
		return false, nil
	}
	if newValue == nil {
		delete(m.entries, key)
		return true, nil
	}
	m.put(key, newValue, ttl)
	return true, nil
}

// Purge removes every expired entry and returns how many were removed.
func (m *Memory) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of entries, including expired entries that have
// not been purged yet.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type memoryOptions struct {
	withNow func() time.Time
}

func memoryDefaults() memoryOptions {
	return memoryOptions{withNow: time.Now}
}

func getMemoryOpts(opt ...Option) memoryOptions {
	opts := memoryDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
