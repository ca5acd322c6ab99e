package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func setupEnv(t *testing.T, handler http.Handler) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("RECORDS_API_URL", srv.URL+"/api")
	t.Setenv("RECORDS_RETRY_INTERVAL", "1ms")
	t.Setenv("RECORDS_CACHE_BACKEND", "bolt")
	t.Setenv("RECORDS_CACHE_PATH", filepath.Join(t.TempDir(), "cache.bolt"))
	t.Setenv("RECORDS_LOG_LEVEL", "error")
}

func TestGetAndCacheCommands(t *testing.T) {
	var hits atomic.Int32
	setupEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/api/users/7" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"7","name":"Ada","email":"ada@example.com"}}`))
	}))
	ctx := context.Background()

	var out bytes.Buffer
	if err := run(ctx, []string{"get", "users", "7", "--fields", "name"}, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(out.Bytes(), &record); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	if diff := cmp.Diff(map[string]any{"id": "7", "name": "Ada"}, record); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}

	out.Reset()
	if err := run(ctx, []string{"cache", "keys"}, &out); err != nil {
		t.Fatalf("cache keys: %v", err)
	}
	var keys []string
	if err := json.Unmarshal(out.Bytes(), &keys); err != nil {
		t.Fatalf("decode keys: %v", err)
	}
	if diff := cmp.Diff([]string{"users:7"}, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}

	out.Reset()
	if err := run(ctx, []string{"cache", "get", "users:7"}, &out); err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte(`"email": "ada@example.com"`)) {
		t.Fatalf("cached record should keep every backend field: %s", out.String())
	}

	if err := run(ctx, []string{"get", "users", "7"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("second get must be served from the persistent cache, got %d hits", hits.Load())
	}
}

func TestUploadCommand(t *testing.T) {
	var chunks atomic.Int32
	setupEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/uploads/doc" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil || r.FormValue("kind") != "pdf" {
			http.Error(w, "bad chunk", http.StatusBadRequest)
			return
		}
		chunks.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Setenv("RECORDS_CHUNK_SIZE", "10")

	path := filepath.Join(t.TempDir(), "doc.bin")
	if err := os.WriteFile(path, bytes.Repeat([]byte("z"), 25), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	var out bytes.Buffer
	if err := run(context.Background(), []string{"upload", "uploads/doc", path, "--value", "kind=pdf"}, &out); err != nil {
		t.Fatalf("upload: %v", err)
	}
	var summary struct {
		Chunks int   `json:"chunks"`
		Size   int64 `json:"size"`
		Status int   `json:"status"`
	}
	if err := json.Unmarshal(out.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Chunks != 3 || summary.Size != 25 || summary.Status != http.StatusOK || chunks.Load() != 3 {
		t.Fatalf("unexpected summary %+v (server saw %d chunks)", summary, chunks.Load())
	}
}

func TestUnknownCommand(t *testing.T) {
	setupEnv(t, http.NotFoundHandler())
	if err := run(context.Background(), []string{"frobnicate"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected unknown command error")
	}
	if err := run(context.Background(), []string{"upload", "x", "y", "--value", "novalue"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected invalid --value error")
	}
}
