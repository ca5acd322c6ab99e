package model

import (
	"context"
	"sync"
)

// Interner hands out one instance per encoded identity of a Type. The first
// LoadFromData for an identity creates the instance, seeds the cache and
// starts the fetch in the background; later calls return the same instance
// immediately, whatever its loading state.
type Interner struct {
	typ  *Type
	env  *Env
	opts []FetchOption

	mu    sync.Mutex
	items map[string]*Model
}

// NewInterner builds an Interner. opts apply to every background fetch.
func NewInterner(t *Type, env *Env, opts ...FetchOption) (*Interner, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Interner{
		typ:   t,
		env:   envOrDefault(env),
		opts:  opts,
		items: make(map[string]*Model),
	}, nil
}

// LoadFromData returns the instance for the identity in values.
func (i *Interner) LoadFromData(ctx context.Context, values Record) *Model {
	m := newModel(i.typ, i.env, 0)
	m.Reset(nil)
	if err := m.Deserialize(m.PickID(values)); err != nil {
		i.env.logger.WarnContext(ctx, "model: intern identity", "type", i.typ.Name, "error", err)
	}
	key := m.EncodedID()

	i.mu.Lock()
	if existing, ok := i.items[key]; ok {
		i.mu.Unlock()
		return existing
	}
	i.items[key] = m
	i.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	seed := cloneRecord(values)
	i.env.goBackground(func() {
		if err := m.LocalUpdate(bg, seed); err != nil {
			i.env.logger.WarnContext(bg, "model: cache seed failed", "key", m.CacheKey(""), "error", err)
		}
		if _, err := m.Fetch(bg, i.opts...); err != nil {
			i.env.logger.WarnContext(bg, "model: interned fetch failed", "key", m.CacheKey(""), "error", err)
		}
	})
	return m
}

// Len reports the number of interned instances.
func (i *Interner) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.items)
}

// Forget drops the instance held for an encoded identity.
func (i *Interner) Forget(encodedID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.items, encodedID)
}
