// Package boltstore persists objcache entries in a BoltDB file, one bucket per
// namespace.
package boltstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// Store is a namespaced objcache.Storage backed by BoltDB.
type Store struct {
	db     *bbolt.DB
	bucket []byte
}

// Open opens a BoltDB file at path and ensures the namespace bucket exists.
func Open(path, namespace string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("boltstore: storage path is required")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "default"
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open storage db: %w", err)
	}

	store := &Store{db: db, bucket: []byte("cache-storage." + namespace)}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(store.bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: create bucket: %w", err)
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetItem implements objcache.Storage.
func (s *Store) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.ready(ctx); err != nil {
		return nil, false, err
	}
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket, err := s.lookup(tx)
		if err != nil {
			return err
		}
		if v := bucket.Get([]byte(key)); v != nil {
			// Values are only valid for the life of the transaction.
			data = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return data, data != nil, nil
}

// SetItem implements objcache.Storage.
func (s *Store) SetItem(ctx context.Context, key string, data []byte) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := s.lookup(tx)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), data)
	})
}

// RemoveItem implements objcache.Storage.
func (s *Store) RemoveItem(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.ready(ctx); err != nil {
		return nil, false, err
	}
	var prev []byte
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := s.lookup(tx)
		if err != nil {
			return err
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return nil
		}
		prev = append([]byte{}, v...)
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return nil, false, err
	}
	return prev, prev != nil, nil
}

// Keys implements objcache.Storage.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket, err := s.lookup(tx)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (s *Store) lookup(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	bucket := tx.Bucket(s.bucket)
	if bucket == nil {
		return nil, fmt.Errorf("boltstore: bucket %q is missing", s.bucket)
	}
	return bucket, nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}
