package model_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ratio1/ratio1_records_go/pkg/datecodec"
	"github.com/Ratio1/ratio1_records_go/pkg/model"
	"github.com/Ratio1/ratio1_records_go/pkg/objcache"
	"github.com/Ratio1/ratio1_records_go/pkg/queue"
)

// fakeBackend serves records keyed by cache key and counts calls.
type fakeBackend struct {
	mu      sync.Mutex
	records map[string]model.Record
	errs    map[string]error
	calls   map[string]int
	started chan string
	release chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		records: make(map[string]model.Record),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (b *fakeBackend) put(key string, rec model.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[key] = rec
}

func (b *fakeBackend) fail(key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[key] = err
}

func (b *fakeBackend) count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[key]
}

func (b *fakeBackend) Fetch(ctx context.Context, m *model.Model) (model.Record, error) {
	key := m.CacheKey("")
	b.mu.Lock()
	b.calls[key]++
	rec := b.records[key]
	err := b.errs[key]
	started, release := b.started, b.release
	b.mu.Unlock()

	if started != nil {
		started <- key
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	out := make(model.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out, nil
}

type schema struct {
	user       *model.Type
	team       *model.Type
	membership *model.Type
}

func newSchema(b *fakeBackend) schema {
	user := &model.Type{
		Name:           "user",
		IDFields:       []string{"id"},
		Fields:         []string{"id", "name", "email"},
		NonRecursive:   []string{"manager"},
		DateFields:     []string{"birthday"},
		DateTimeFields: []string{"created_at"},
		Fetcher:        b,
	}
	team := &model.Type{
		Name:      "team",
		IDFields:  []string{"id"},
		Fields:    []string{"id", "title"},
		Relations: map[string]*model.Type{"lead": user},
		Fetcher:   b,
	}
	user.Relations = map[string]*model.Type{"manager": user, "team": team}
	membership := &model.Type{
		Name:     "membership",
		Alias:    "members",
		IDFields: []string{"org_id", "user_id"},
		Fields:   []string{"role"},
		Fetcher:  b,
	}
	return schema{user: user, team: team, membership: membership}
}

func newDates(t *testing.T) *datecodec.LayoutCodec {
	t.Helper()
	c, err := datecodec.New(datecodec.Layouts{}, datecodec.WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("datecodec.New: %v", err)
	}
	return c
}

func newCache() *objcache.Cache {
	return objcache.New(objcache.NewMemoryStorage())
}

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q := queue.New()
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func mustNew(t *testing.T, typ *model.Type, env *model.Env) *model.Model {
	t.Helper()
	m, err := model.New(typ, env)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	return m
}

// failingCache errors on every read and write.
type failingCache struct{}

var errCacheDown = errors.New("cache down")

func (failingCache) Get(context.Context, string, any) (bool, error) { return false, errCacheDown }
func (failingCache) Set(context.Context, string, any, ...objcache.SetOption) error {
	return errCacheDown
}
func (failingCache) Remove(context.Context, string, any) (bool, error) { return false, errCacheDown }
