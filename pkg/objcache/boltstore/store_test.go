package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/Ratio1/ratio1_records_go/pkg/objcache"
	"github.com/Ratio1/ratio1_records_go/pkg/objcache/storagetest"
)

func TestStorageContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) objcache.Storage {
		store, err := Open(filepath.Join(t.TempDir(), "cache.bolt"), "default")
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestOpenCreatesNamespaceBucket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bolt")
	store, err := Open(path, "admin")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.SetItem(context.Background(), "user:1", []byte("x")); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	err = db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte("cache-storage.admin"))
		if bucket == nil {
			t.Fatalf("expected namespace bucket")
		}
		if string(bucket.Get([]byte("user:1"))) != "x" {
			t.Fatalf("expected stored value in namespace bucket")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(" ", "default"); err == nil {
		t.Fatalf("expected error")
	}
}
