// Package storagetest holds a behavioural suite every objcache.Storage
// implementation is expected to pass.
package storagetest

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/Ratio1/ratio1_records_go/pkg/objcache"
)

// Run exercises storage returned by newStorage. Each subtest gets a fresh
// storage value.
func Run(t *testing.T, newStorage func(t *testing.T) objcache.Storage) {
	t.Helper()

	t.Run("missing key", func(t *testing.T) {
		s := newStorage(t)
		_, ok, err := s.GetItem(context.Background(), "nope")
		if err != nil {
			t.Fatalf("GetItem: %v", err)
		}
		if ok {
			t.Fatalf("expected miss")
		}
	})

	t.Run("set get overwrite", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		if err := s.SetItem(ctx, "user:1", []byte("one")); err != nil {
			t.Fatalf("SetItem: %v", err)
		}
		if err := s.SetItem(ctx, "user:1", []byte("uno")); err != nil {
			t.Fatalf("SetItem overwrite: %v", err)
		}
		data, ok, err := s.GetItem(ctx, "user:1")
		if err != nil || !ok {
			t.Fatalf("GetItem: ok=%v err=%v", ok, err)
		}
		if string(data) != "uno" {
			t.Fatalf("expected last write to win, got %q", data)
		}
	})

	t.Run("remove returns previous", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		if err := s.SetItem(ctx, "k", []byte("v")); err != nil {
			t.Fatalf("SetItem: %v", err)
		}
		prev, ok, err := s.RemoveItem(ctx, "k")
		if err != nil || !ok || string(prev) != "v" {
			t.Fatalf("RemoveItem: prev=%q ok=%v err=%v", prev, ok, err)
		}
		if _, ok, _ := s.GetItem(ctx, "k"); ok {
			t.Fatalf("expected key to be gone")
		}
		if _, ok, err := s.RemoveItem(ctx, "k"); ok || err != nil {
			t.Fatalf("second RemoveItem: ok=%v err=%v", ok, err)
		}
	})

	t.Run("keys", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		for _, k := range []string{"b:1", "a:1", "a:2"} {
			if err := s.SetItem(ctx, k, []byte(k)); err != nil {
				t.Fatalf("SetItem %s: %v", k, err)
			}
		}
		keys, err := s.Keys(ctx)
		if err != nil {
			t.Fatalf("Keys: %v", err)
		}
		sort.Strings(keys)
		if strings.Join(keys, ",") != "a:1,a:2,b:1" {
			t.Fatalf("unexpected keys %v", keys)
		}
	})

	t.Run("binary values", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		payload := []byte{0, 1, 2, 0xff, 0}
		if err := s.SetItem(ctx, "bin", payload); err != nil {
			t.Fatalf("SetItem: %v", err)
		}
		data, ok, err := s.GetItem(ctx, "bin")
		if err != nil || !ok {
			t.Fatalf("GetItem: ok=%v err=%v", ok, err)
		}
		if string(data) != string(payload) {
			t.Fatalf("binary payload mangled: %v", data)
		}
	})
}
