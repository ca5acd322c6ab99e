// Package cstorestore keeps objcache entries in the chainstore, one hash key
// per namespace. Entries are shared by every process pointed at the same
// chainstore and namespace.
package cstorestore

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/Ratio1/ratio1_records_go/pkg/cstore"
)

// HashPrefix prefixes the hash key that holds a namespace.
const HashPrefix = "records-cache:"

// Store is a namespaced objcache.Storage backed by a chainstore client.
type Store struct {
	client  *cstore.Client
	hashKey string
}

// New returns a Store writing under the given namespace.
func New(client *cstore.Client, namespace string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("cstorestore: client is required")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "default"
	}
	return &Store{client: client, hashKey: HashPrefix + namespace}, nil
}

// GetItem implements objcache.Storage.
func (s *Store) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	item, err := cstore.HGet[string](ctx, s.client, s.hashKey, key)
	if err != nil {
		return nil, false, err
	}
	if item == nil {
		return nil, false, nil
	}
	data, err := base64.StdEncoding.DecodeString(item.Value)
	if err != nil {
		return nil, false, fmt.Errorf("cstorestore: decode %q: %w", key, err)
	}
	return data, true, nil
}

// SetItem implements objcache.Storage.
func (s *Store) SetItem(ctx context.Context, key string, data []byte) error {
	_, err := cstore.HSet(ctx, s.client, s.hashKey, key, base64.StdEncoding.EncodeToString(data))
	return err
}

// RemoveItem implements objcache.Storage. The read and the delete are two
// calls; a concurrent writer between them wins.
func (s *Store) RemoveItem(ctx context.Context, key string) ([]byte, bool, error) {
	prev, ok, err := s.GetItem(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if _, err := s.client.HDelete(ctx, s.hashKey, key); err != nil {
		return nil, false, err
	}
	return prev, true, nil
}

// Keys implements objcache.Storage.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.client.HKeys(ctx, s.hashKey)
}
