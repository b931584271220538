// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// DefaultFileLockTimeout bounds how long an operation waits for the
	// cross-process lock.
	DefaultFileLockTimeout = 5 * time.Second

	fileLockRetryInterval = 10 * time.Millisecond
)

type fileEntry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// File is a Store and Cache persisted as a single JSON document.  Every
// operation holds an advisory lock on "<path>.lock", so several processes on
// one host can share the file; SetIfAbsent and CompareAndSwap are atomic
// across all of them.
type File struct {
	path        string
	mu          sync.Mutex
	now         func() time.Time
	lockTimeout time.Duration
}

var (
	_ Store = (*File)(nil)
	_ Cache = (*File)(nil)
)

// NewFile creates a file backed store at path.  The file is created on the
// first write.
//
// Supported options: WithNow, WithLockTimeout
func NewFile(path string, opt ...Option) (*File, error) {
	const op = "store.NewFile"
	if path == "" {
		return nil, fmt.Errorf("%s: missing path: %w", op, ErrInvalidParameter)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%s: unable to create directory: %w", op, err)
	}
	opts := getFileOpts(opt...)
	return &File{
		path:        path,
		now:         opts.withNow,
		lockTimeout: opts.withLockTimeout,
	}, nil
}

// update runs fn with the current entries while holding both the process
// and the file lock.  The entries are written back only when fn reports a
// change.
func (f *File) update(ctx context.Context, fn func(entries map[string]fileEntry) (bool, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, f.lockTimeout)
	defer cancel()
	fileLock := flock.New(f.path + ".lock")
	locked, err := fileLock.TryLockContext(lockCtx, fileLockRetryInterval)
	if err != nil {
		return fmt.Errorf("unable to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("unable to acquire lock: timeout after %v", f.lockTimeout)
	}
	defer func() { _ = fileLock.Unlock() }()

	entries, err := f.load()
	if err != nil {
		return err
	}
	now := f.now()
	pruned := false
	for k, e := range entries {
		if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
			delete(entries, k)
			pruned = true
		}
	}
	changed, err := fn(entries)
	if err != nil {
		return err
	}
	if !changed && !pruned {
		return nil
	}
	return f.save(entries)
}

func (f *File) load() (map[string]fileEntry, error) {
	entries := map[string]fileEntry{}
	b, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return entries, nil
	case err != nil:
		return nil, fmt.Errorf("unable to read %s: %w", f.path, err)
	case len(b) == 0:
		return entries, nil
	}
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("unable to decode %s: %w", f.path, err)
	}
	return entries, nil
}

func (f *File) save(entries map[string]fileEntry) error {
	b, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("unable to encode entries: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("unable to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("unable to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("unable to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("unable to replace %s: %w", f.path, err)
	}
	return nil
}

func (f *File) entry(value []byte, ttl time.Duration) fileEntry {
	e := fileEntry{Value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.ExpiresAt = f.now().Add(ttl).UTC()
	}
	return e
}

// Get implements Store and Cache.
func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "File.Get"
	var value []byte
	var found bool
	err := f.update(ctx, func(entries map[string]fileEntry) (bool, error) {
		var e fileEntry
		e, found = entries[key]
		value = e.Value
		return false, nil
	})
	switch {
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	case !found:
		return nil, fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
	}
	return value, nil
}

// Set implements Store and Cache.
func (f *File) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const op = "File.Set"
	if ttl < 0 {
		return fmt.Errorf("%s: negative ttl: %w", op, ErrInvalidParameter)
	}
	if err := f.update(ctx, func(entries map[string]fileEntry) (bool, error) {
		entries[key] = f.entry(value, ttl)
		return true, nil
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete implements Store.
func (f *File) Delete(ctx context.Context, key string) error {
	const op = "File.Delete"
	if err := f.update(ctx, func(entries map[string]fileEntry) (bool, error) {
		if _, ok := entries[key]; !ok {
			return false, nil
		}
		delete(entries, key)
		return true, nil
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Has implements Cache.
func (f *File) Has(ctx context.Context, key string) (bool, error) {
	const op = "File.Has"
	var found bool
	if err := f.update(ctx, func(entries map[string]fileEntry) (bool, error) {
		_, found = entries[key]
		return false, nil
	}); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return found, nil
}

// SetIfAbsent implements Cache.
func (f *File) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	const op = "File.SetIfAbsent"
	if ttl < 0 {
		return false, fmt.Errorf("%s: negative ttl: %w", op, ErrInvalidParameter)
	}
	var stored bool
	if err := f.update(ctx, func(entries map[string]fileEntry) (bool, error) {
		if _, ok := entries[key]; ok {
			return false, nil
		}
		entries[key] = f.entry(value, ttl)
		stored = true
		return true, nil
	}); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return stored, nil
}

// CompareAndSwap implements Store.
func (f *File) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	const op = "File.CompareAndSwap"
	if ttl < 0 {
		return false, fmt.Errorf("%s: negative ttl: %w", op, ErrInvalidParameter)
	}
	var swapped bool
	if err := f.update(ctx, func(entries map[string]fileEntry) (bool, error) {
		cur, found := entries[key]
		if !sameValue(found, cur.Value, oldValue) {
			return false, nil
		}
		swapped = true
		if newValue == nil {
			delete(entries, key)
			return found, nil
		}
		entries[key] = f.entry(newValue, ttl)
		return true, nil
	}); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return swapped, nil
}

type fileOptions struct {
	withNow         func() time.Time
	withLockTimeout time.Duration
}

func fileDefaults() fileOptions {
	return fileOptions{
		withNow:         time.Now,
		withLockTimeout: DefaultFileLockTimeout,
	}
}

func getFileOpts(opt ...Option) fileOptions {
	opts := fileDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLockTimeout provides an optional bound on how long the File store
// waits for its cross-process lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*fileOptions); ok && d > 0 {
			o.withLockTimeout = d
		}
	}
}
