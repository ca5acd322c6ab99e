// Package mock provides an in-memory chainstore backend. It satisfies
// cstore.Backend and is used by the mock runtime mode, the sandbox server and
// tests.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Ratio1/ratio1_records_go/internal/devseed"
)

// Mock is an in-memory chainstore. The zero value is not usable; call New.
type Mock struct {
	mu     sync.RWMutex
	items  map[string][]byte
	hashes map[string]map[string][]byte

	failMu sync.Mutex
	fail   error
	calls  atomic.Int64
}

// Option configures the mock instance.
type Option func(*Mock)

// WithSeed preloads plain keys.
func WithSeed(entries []devseed.CStoreSeedEntry) Option {
	return func(m *Mock) {
		for _, e := range entries {
			m.items[e.Key] = normalize(e.Value)
		}
	}
}

// New creates an empty mock store.
func New(opts ...Option) *Mock {
	m := &Mock{
		items:  make(map[string][]byte),
		hashes: make(map[string]map[string][]byte),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Seed loads initial items from seed entries (typically decoded via devseed.LoadCStoreSeed).
func (m *Mock) Seed(entries []devseed.CStoreSeedEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			return fmt.Errorf("mock cstore: seed entry missing key")
		}
		m.items[e.Key] = normalize(e.Value)
	}
	return nil
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (m *Mock) FailWith(err error) {
	m.failMu.Lock()
	m.fail = err
	m.failMu.Unlock()
}

// Calls reports how many backend calls were made.
func (m *Mock) Calls() int64 {
	return m.calls.Load()
}

func (m *Mock) enter(ctx context.Context) error {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	m.failMu.Lock()
	defer m.failMu.Unlock()
	return m.fail
}

// GetRaw implements cstore.Backend.
func (m *Mock) GetRaw(ctx context.Context, key string) ([]byte, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	return clone(data), nil
}

// SetRaw implements cstore.Backend.
func (m *Mock) SetRaw(ctx context.Context, key string, raw []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("mock cstore: key is required")
	}
	if err := m.enter(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = normalize(raw)
	return nil
}

// DeleteRaw implements cstore.Backend.
func (m *Mock) DeleteRaw(ctx context.Context, key string) (bool, error) {
	if err := m.enter(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	delete(m.items, key)
	return ok, nil
}

// ListKeys implements cstore.Backend.
func (m *Mock) ListKeys(ctx context.Context) ([]string, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// HGetRaw implements cstore.Backend.
func (m *Mock) HGetRaw(ctx context.Context, hashKey, field string) ([]byte, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.hashes[hashKey][field]
	if !ok {
		return nil, nil
	}
	return clone(data), nil
}

// HSetRaw implements cstore.Backend.
func (m *Mock) HSetRaw(ctx context.Context, hashKey, field string, raw []byte) error {
	if strings.TrimSpace(hashKey) == "" {
		return fmt.Errorf("mock cstore: hash key is required")
	}
	if strings.TrimSpace(field) == "" {
		return fmt.Errorf("mock cstore: hash field is required")
	}
	if err := m.enter(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.hashes[hashKey]
	if bucket == nil {
		bucket = make(map[string][]byte)
		m.hashes[hashKey] = bucket
	}
	bucket[field] = normalize(raw)
	return nil
}

// HDeleteRaw implements cstore.Backend.
func (m *Mock) HDeleteRaw(ctx context.Context, hashKey, field string) (bool, error) {
	if err := m.enter(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.hashes[hashKey]
	if _, ok := bucket[field]; !ok {
		return false, nil
	}
	delete(bucket, field)
	if len(bucket) == 0 {
		delete(m.hashes, hashKey)
	}
	return true, nil
}

// HGetAllRaw implements cstore.Backend.
func (m *Mock) HGetAllRaw(ctx context.Context, hashKey string) (map[string]json.RawMessage, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.hashes[hashKey]
	if len(bucket) == 0 {
		return nil, nil
	}
	result := make(map[string]json.RawMessage, len(bucket))
	for field, data := range bucket {
		result[field] = clone(data)
	}
	return result, nil
}

func normalize(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return clone(raw)
}

func clone(data []byte) []byte {
	return append([]byte(nil), data...)
}
