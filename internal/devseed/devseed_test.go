package devseed

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const sampleSeed = `
cstore:
  - key: settings
    value:
      theme: dark
      size: 2
cache:
  - key: "user:MQ=="
    ttl: 1h
    value:
      id: 1
      name: Ada
records:
  - path: users
    id: [1]
    data:
      id: 1
      name: Ada
`

func TestParseSections(t *testing.T) {
	file, err := Parse([]byte(sampleSeed))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(file.CStore) != 1 || file.CStore[0].Key != "settings" {
		t.Fatalf("unexpected cstore section: %+v", file.CStore)
	}
	if got := string(file.CStore[0].Value); got != `{"size":2,"theme":"dark"}` {
		t.Fatalf("unexpected cstore value %s", got)
	}
	if len(file.Cache) != 1 || file.Cache[0].TTL != time.Hour {
		t.Fatalf("unexpected cache section: %+v", file.Cache)
	}
	want := []RecordSeedEntry{{
		Path: "users",
		ID:   []any{1},
		Data: map[string]any{"id": 1, "name": "Ada"},
	}}
	if diff := cmp.Diff(want, file.Records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAcceptsJSON(t *testing.T) {
	file, err := Parse([]byte(`{"cstore":[{"key":"a","value":[1,2]}]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(file.CStore[0].Value) != "[1,2]" {
		t.Fatalf("unexpected value %s", file.CStore[0].Value)
	}
}

func TestParseRejectsUnknownSection(t *testing.T) {
	if _, err := Parse([]byte("blobs: []\n")); err == nil {
		t.Fatal("expected error for unknown section")
	}
}

func TestParseRejectsMissingKeys(t *testing.T) {
	for _, doc := range []string{
		"cstore:\n  - value: 1\n",
		"cache:\n  - value: 1\n",
		"records:\n  - path: users\n",
	} {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("expected error for %q", doc)
		}
	}
}

func TestLoadCacheSeedFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(sampleSeed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	entries, err := LoadCacheSeed(path)
	if err != nil {
		t.Fatalf("LoadCacheSeed: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "user:MQ==" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error")
	}
}
