package httpx_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ratio1/ratio1_records_go/internal/httpx"
)

// flakyDoer fails the first `failures` calls with a distinct transport error.
type flakyDoer struct {
	mu       sync.Mutex
	calls    int
	failures int
	bodies   []string
}

func (d *flakyDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		d.bodies = append(d.bodies, string(data))
	}
	if d.calls <= d.failures {
		return nil, fmt.Errorf("dial failure %d", d.calls)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("ok")),
		Request:    req,
	}, nil
}

func newTestClient(t *testing.T, doer httpx.Doer, interval time.Duration) *httpx.Client {
	t.Helper()
	client, err := httpx.NewClient("http://records.invalid/api",
		httpx.WithHTTPClient(doer),
		httpx.WithRetryPolicy(httpx.RetryPolicy{MaxAttempts: 3, Interval: interval}),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestDoRetriesTransportFailures(t *testing.T) {
	doer := &flakyDoer{failures: 2}
	interval := 20 * time.Millisecond
	client := newTestClient(t, doer, interval)

	start := time.Now()
	resp, err := client.Do(context.Background(), &httpx.Request{
		Method: http.MethodPost,
		Path:   "records",
		Body:   strings.NewReader(`{"name":"a"}`),
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	if doer.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", doer.calls)
	}
	if elapsed < 2*interval {
		t.Fatalf("expected at least %v between attempts, elapsed %v", 2*interval, elapsed)
	}
	for i, body := range doer.bodies {
		if body != `{"name":"a"}` {
			t.Fatalf("attempt %d replayed body %q", i+1, body)
		}
	}
}

func TestDoReturnsLastErrorAfterBudget(t *testing.T) {
	doer := &flakyDoer{failures: 10}
	client := newTestClient(t, doer, time.Millisecond)

	_, err := client.Do(context.Background(), &httpx.Request{Method: http.MethodGet, Path: "records/1"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "dial failure 3") {
		t.Fatalf("expected last observed error, got %v", err)
	}
	if doer.calls != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", doer.calls)
	}
}

func TestDoDoesNotRetryErrorStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := httpx.NewClient(srv.URL, httpx.WithRetryPolicy(httpx.RetryPolicy{MaxAttempts: 3, Interval: time.Millisecond}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := client.Do(context.Background(), &httpx.Request{Method: http.MethodGet, Path: "boom"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}

	checkErr := httpx.CheckResponse(resp)
	var httpErr *httpx.HTTPError
	if !errors.As(checkErr, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", checkErr)
	}
	if !httpErr.IsServerFault() || httpErr.IsValidation() {
		t.Fatalf("unexpected classification for %d", httpErr.StatusCode)
	}
}

func TestDoAppliesHeadersAndHooks(t *testing.T) {
	var got http.Header
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := httpx.NewClient(srv.URL+"/api",
		httpx.WithRequestHook(func(req *http.Request) error {
			req.Header.Set("Authorization", "Bearer token")
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := client.Do(context.Background(), &httpx.Request{
		Method: http.MethodDelete,
		Path:   "/users/7",
		Header: http.Header{"X-Trace": {"abc"}},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	httpx.DrainAndClose(resp.Body)

	if path != "/api/users/7" {
		t.Fatalf("unexpected path %q", path)
	}
	if got.Get("Accept") != "application/json" || got.Get("X-Requested-With") != "XMLHttpRequest" {
		t.Fatalf("default headers missing: %v", got)
	}
	if got.Get("Authorization") != "Bearer token" || got.Get("X-Trace") != "abc" {
		t.Fatalf("hook or request headers missing: %v", got)
	}
}

func TestDoRejectsBodyOnGet(t *testing.T) {
	client := newTestClient(t, &flakyDoer{}, time.Millisecond)
	_, err := client.Do(context.Background(), &httpx.Request{
		Method: http.MethodGet,
		Body:   strings.NewReader("x"),
	})
	if err == nil {
		t.Fatalf("expected error for GET with body")
	}
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	doer := &flakyDoer{failures: 10}
	client := newTestClient(t, doer, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Do(ctx, &httpx.Request{Method: http.MethodGet})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if doer.calls != 1 {
		t.Fatalf("expected one call before cancellation, got %d", doer.calls)
	}
}

func TestHTTPErrorClassification(t *testing.T) {
	for _, code := range []int{400, 409, 422} {
		if !(&httpx.HTTPError{StatusCode: code}).IsValidation() {
			t.Fatalf("expected %d to be a validation error", code)
		}
	}
	if !(&httpx.HTTPError{StatusCode: 404}).IsNotFound() {
		t.Fatalf("expected 404 to be not found")
	}
	if (&httpx.HTTPError{StatusCode: 404}).IsServerFault() {
		t.Fatalf("404 is not a server fault")
	}
}

func TestBackoffDoublesUpToCeiling(t *testing.T) {
	b := httpx.NewBackoff(10*time.Millisecond, 35*time.Millisecond, 0)
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 35 * time.Millisecond, 35 * time.Millisecond}
	for attempt, w := range want {
		if got := b.ForAttempt(attempt); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, w, got)
		}
	}
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	b := httpx.NewBackoff(100*time.Millisecond, time.Second, 0.5)
	for range 50 {
		got := b.ForAttempt(0)
		if got < 50*time.Millisecond || got > 150*time.Millisecond {
			t.Fatalf("jittered delay %v out of range", got)
		}
	}
}

func TestDoUsesPolicyDelay(t *testing.T) {
	doer := &flakyDoer{failures: 1}
	client, err := httpx.NewClient("http://records.invalid/api",
		httpx.WithHTTPClient(doer),
		httpx.WithRetryPolicy(httpx.RetryPolicy{
			MaxAttempts: 2,
			Interval:    time.Hour,
			Delay:       httpx.NewBackoff(time.Millisecond, 5*time.Millisecond, 0),
		}),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := client.Do(ctx, &httpx.Request{Method: http.MethodGet, Path: "records/1"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	httpx.DrainAndClose(resp.Body)
	if doer.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", doer.calls)
	}
}
