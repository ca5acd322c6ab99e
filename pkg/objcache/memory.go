package objcache

import (
	"context"
	"sync"
)

// MemoryStorage is an in-process Storage. It is the default for tests and for
// the mock runtime mode.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string][]byte)}
}

// GetItem implements Storage.
func (s *MemoryStorage) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// SetItem implements Storage.
func (s *MemoryStorage) SetItem(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = append([]byte(nil), data...)
	return nil
}

// RemoveItem implements Storage.
func (s *MemoryStorage) RemoveItem(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return data, ok, nil
}

// Keys implements Storage.
func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	return keys, nil
}
