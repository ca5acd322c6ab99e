package objcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// DefaultTTL is the expiration window applied when Set is called without an
// explicit TTL. It is measured from the write; reads never extend it.
const DefaultTTL = 4 * time.Hour

// NoExpiry marks an entry that never expires.
const NoExpiry time.Duration = -1

var (
	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("objcache: cache is closed")
)

// Storage is the persistent byte store behind a Cache. Implementations are
// namespaced by construction and must be safe for concurrent use.
type Storage interface {
	GetItem(ctx context.Context, key string) ([]byte, bool, error)
	SetItem(ctx context.Context, key string, data []byte) error
	RemoveItem(ctx context.Context, key string) ([]byte, bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the clock used for TTL bookkeeping (useful in tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Cache) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithDefaultTTL overrides DefaultTTL. A negative value disables expiry.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl != 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithCompressThreshold sets the encoded size above which entries are zstd
// compressed. Zero or negative disables compression.
func WithCompressThreshold(n int) Option {
	return func(c *Cache) {
		c.compressThreshold = n
	}
}

// WithLogger sets the logger used for lazy eviction diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// SetOption adjusts a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl    time.Duration
	hasTTL bool
}

// WithTTL stores the entry with the given expiration window. Use NoExpiry
// for entries that never expire.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
		o.hasTTL = true
	}
}

// Cache is a key/value store with per-entry expiration. Concurrent writers to
// the same key resolve as last write wins.
type Cache struct {
	storage           Storage
	now               func() time.Time
	defaultTTL        time.Duration
	compressThreshold int
	logger            *slog.Logger
}

// New creates a Cache over storage.
func New(storage Storage, opts ...Option) *Cache {
	c := &Cache{
		storage:           storage,
		now:               time.Now,
		defaultTTL:        DefaultTTL,
		compressThreshold: defaultCompressThreshold,
		logger:            slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get loads the value stored under key into out. Missing and expired entries
// report false; expired entries are evicted on the way out.
func (c *Cache) Get(ctx context.Context, key string, out any) (bool, error) {
	if err := c.check(ctx, key); err != nil {
		return false, err
	}
	data, ok, err := c.storage.GetItem(ctx, key)
	if err != nil {
		return false, fmt.Errorf("objcache: get %q: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	ent, err := decodeEntry(data)
	if err != nil {
		return false, fmt.Errorf("objcache: get %q: %w", key, err)
	}
	if ent.expired(c.now()) {
		if _, _, err := c.storage.RemoveItem(ctx, key); err != nil {
			c.logger.WarnContext(ctx, "objcache: evict expired entry", "key", key, "error", err)
		}
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := ent.decodeValue(out); err != nil {
		return false, fmt.Errorf("objcache: decode %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key.
func (c *Cache) Set(ctx context.Context, key string, value any, opts ...SetOption) error {
	if err := c.check(ctx, key); err != nil {
		return err
	}
	so := setOptions{ttl: c.defaultTTL}
	for _, opt := range opts {
		opt(&so)
	}
	if so.hasTTL && so.ttl == 0 {
		so.ttl = c.defaultTTL
	}
	data, err := encodeEntry(value, c.now(), so.ttl, c.compressThreshold)
	if err != nil {
		return fmt.Errorf("objcache: encode %q: %w", key, err)
	}
	if err := c.storage.SetItem(ctx, key, data); err != nil {
		return fmt.Errorf("objcache: set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key and, when out is non-nil, decodes the previous live
// value into it. It reports whether a live value was removed.
func (c *Cache) Remove(ctx context.Context, key string, out any) (bool, error) {
	if err := c.check(ctx, key); err != nil {
		return false, err
	}
	data, ok, err := c.storage.RemoveItem(ctx, key)
	if err != nil {
		return false, fmt.Errorf("objcache: remove %q: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	ent, err := decodeEntry(data)
	if err != nil {
		// The entry is gone either way.
		c.logger.WarnContext(ctx, "objcache: removed undecodable entry", "key", key, "error", err)
		return false, nil
	}
	if ent.expired(c.now()) {
		return false, nil
	}
	if out != nil {
		if err := ent.decodeValue(out); err != nil {
			return true, fmt.Errorf("objcache: decode %q: %w", key, err)
		}
	}
	return true, nil
}

// Keys lists the stored keys in lexical order. Expired entries that have not
// yet been read are included.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	if c == nil || c.storage == nil {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := c.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("objcache: keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Size reports the number of stored keys.
func (c *Cache) Size(ctx context.Context) (int, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close releases the storage when it holds resources.
func (c *Cache) Close() error {
	if c == nil || c.storage == nil {
		return nil
	}
	if closer, ok := c.storage.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Cache) check(ctx context.Context, key string) error {
	if c == nil || c.storage == nil {
		return ErrClosed
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("objcache: key is required")
	}
	return ctx.Err()
}
