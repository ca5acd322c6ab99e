package model

import (
	"context"
	"fmt"
	"maps"

	"golang.org/x/sync/errgroup"

	"github.com/Ratio1/ratio1_records_go/pkg/objcache"
)

// FetchOption adjusts Fetch.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	related     bool
	waitRelated bool
	ignoreCache bool
	// ancestors holds the cache keys of the instances whose relation
	// expansion led to this fetch.
	ancestors map[string]struct{}
}

func defaultFetchOptions() fetchOptions {
	return fetchOptions{related: true}
}

// WithoutRelated skips relation expansion.
func WithoutRelated() FetchOption {
	return func(o *fetchOptions) {
		o.related = false
	}
}

// WaitRelated makes Fetch wait for relation fetches and report their first
// error. By default relations load in the background and their errors are
// only logged.
func WaitRelated() FetchOption {
	return func(o *fetchOptions) {
		o.waitRelated = true
	}
}

// IgnoreCache skips the cache read; the loaded record is still written back.
func IgnoreCache() FetchOption {
	return func(o *fetchOptions) {
		o.ignoreCache = true
	}
}

// Fetch loads the instance's record: from the cache when present, otherwise
// from the Type's Fetcher, coalescing concurrent loads that share the cache
// key when the Env has a queue. It returns the instance itself. Without
// identity, or when the record does not exist, the instance is returned
// unchanged. Cache failures fall through to the Fetcher; Fetcher errors are
// returned.
func (m *Model) Fetch(ctx context.Context, opts ...FetchOption) (*Model, error) {
	fo := defaultFetchOptions()
	for _, opt := range opts {
		opt(&fo)
	}
	return m.fetch(ctx, fo)
}

func (m *Model) fetch(ctx context.Context, fo fetchOptions) (*Model, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !m.HasID() {
		return m, nil
	}
	key := m.CacheKey("")
	if _, seen := fo.ancestors[key]; seen {
		// Already being expanded further up; load without recursing.
		fo.related = false
	}

	record, err := m.load(ctx, key, fo)
	if err != nil {
		return m, err
	}
	if record == nil {
		return m, nil
	}
	if err := m.Deserialize(record); err != nil {
		return m, err
	}
	if fo.related {
		if err := m.expand(ctx, key, fo); err != nil {
			return m, err
		}
	}
	return m, nil
}

// load returns the raw record and whether it exists.
func (m *Model) load(ctx context.Context, key string, fo fetchOptions) (Record, error) {
	env := m.env
	if env.cache != nil && !fo.ignoreCache {
		var record Record
		found, err := env.cache.Get(ctx, key, &record)
		switch {
		case err != nil:
			env.logger.WarnContext(ctx, "model: cache read failed", "key", key, "error", err)
		case found && len(record) > 0:
			return record, nil
		}
	}

	if env.queue == nil {
		return m.loadBackend(ctx, key)
	}

	ch := env.flights.DoChan(key, func() (any, error) {
		var record Record
		// The shared load outlives any single caller's cancellation.
		err := env.queue.Run(context.WithoutCancel(ctx), func(qctx context.Context) error {
			rec, err := m.loadBackend(qctx, key)
			record = rec
			return err
		})
		return record, err
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		record, _ := res.Val.(Record)
		if record == nil {
			return nil, nil
		}
		return cloneRecord(record), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Model) loadBackend(ctx context.Context, key string) (Record, error) {
	fetcher := m.typ.Fetcher
	if fetcher == nil {
		return nil, nil
	}
	record, err := fetcher.Fetch(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("model: fetch %s: %w", key, err)
	}
	if len(record) == 0 {
		return nil, nil
	}
	if err := m.mergeCache(ctx, key, record); err != nil {
		m.env.logger.WarnContext(ctx, "model: cache write failed", "key", key, "error", err)
	}
	return record, nil
}

func (m *Model) expand(ctx context.Context, key string, fo fetchOptions) error {
	children := m.relations()
	if len(children) == 0 {
		return nil
	}

	child := fo
	child.ancestors = make(map[string]struct{}, len(fo.ancestors)+1)
	maps.Copy(child.ancestors, fo.ancestors)
	child.ancestors[key] = struct{}{}

	if fo.waitRelated {
		g, gctx := errgroup.WithContext(ctx)
		for _, c := range children {
			g.Go(func() error {
				_, err := c.fetch(gctx, child)
				return err
			})
		}
		return g.Wait()
	}

	bg := context.WithoutCancel(ctx)
	for _, c := range children {
		m.env.goBackground(func() {
			if _, err := c.fetch(bg, child); err != nil {
				m.env.logger.WarnContext(bg, "model: relation fetch failed",
					"parent", key,
					"relation", c.Name(),
					"error", err,
				)
			}
		})
	}
	return nil
}

// relations snapshots the nested instances that carry an identity.
func (m *Model) relations() []*Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Model
	for _, field := range m.schema.fields {
		if m.schema.kinds[field] != kindRelation {
			continue
		}
		if c := m.related[field]; c != nil && c.HasID() {
			out = append(out, c)
		}
	}
	return out
}

// FetchRelated fetches every relation with identity and waits for all of
// them.
func (m *Model) FetchRelated(ctx context.Context, opts ...FetchOption) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fo := defaultFetchOptions()
	for _, opt := range opts {
		opt(&fo)
	}
	fo.waitRelated = true
	return m.expand(ctx, m.CacheKey(""), fo)
}

// LocalUpdate merges values onto the cached record of the instance and writes
// it back. The instance's own fields are not touched. It is a no-op without
// a cache or identity.
func (m *Model) LocalUpdate(ctx context.Context, values Record) error {
	if m.env.cache == nil || !m.HasID() {
		return nil
	}
	return m.mergeCache(ctx, m.CacheKey(""), values)
}

func (m *Model) mergeCache(ctx context.Context, key string, values Record) error {
	cache := m.env.cache
	if cache == nil {
		return nil
	}
	var stored Record
	if _, err := cache.Get(ctx, key, &stored); err != nil {
		m.env.logger.WarnContext(ctx, "model: cache read failed", "key", key, "error", err)
		stored = nil
	}
	merged := make(Record, len(stored)+len(values))
	maps.Copy(merged, stored)
	maps.Copy(merged, values)
	return cache.Set(ctx, key, merged)
}

// ObjectCache reads the cache slot of the instance under subkey into out.
func (m *Model) ObjectCache(ctx context.Context, subkey string, out any) (bool, error) {
	if m.env.cache == nil {
		return false, nil
	}
	return m.env.cache.Get(ctx, m.CacheKey(subkey), out)
}

// SetObjectCache writes value to the cache slot of the instance under subkey.
func (m *Model) SetObjectCache(ctx context.Context, subkey string, value any, opts ...objcache.SetOption) error {
	if m.env.cache == nil {
		return nil
	}
	return m.env.cache.Set(ctx, m.CacheKey(subkey), value, opts...)
}

// RemoveObjectCache drops the cache slot of the instance under subkey.
func (m *Model) RemoveObjectCache(ctx context.Context, subkey string) error {
	if m.env.cache == nil {
		return nil
	}
	_, err := m.env.cache.Remove(ctx, m.CacheKey(subkey), nil)
	return err
}

// LoadFromID resets the instance to the given encoded identity and fetches
// it. An empty id only resets.
func (m *Model) LoadFromID(ctx context.Context, encoded string, opts ...FetchOption) (*Model, error) {
	m.Reset(nil)
	if encoded == "" {
		return m, nil
	}
	m.mu.Lock()
	err := m.setIdentityLocked(encoded)
	m.mu.Unlock()
	if err != nil {
		return m, err
	}
	return m.Fetch(ctx, opts...)
}

// LoadFromData resets the instance to the identity found in values, seeds the
// cache with values and fetches.
func (m *Model) LoadFromData(ctx context.Context, values Record, opts ...FetchOption) (*Model, error) {
	m.Reset(nil)
	if err := m.Deserialize(m.PickID(values)); err != nil {
		return m, err
	}
	if err := m.LocalUpdate(ctx, values); err != nil {
		m.env.logger.WarnContext(ctx, "model: cache seed failed", "key", m.CacheKey(""), "error", err)
	}
	return m.Fetch(ctx, opts...)
}

func cloneRecord(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Record:
		return cloneRecord(x)
	case map[string]any:
		return map[string]any(cloneRecord(Record(x)))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
