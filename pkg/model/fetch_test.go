package model_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Ratio1/ratio1_records_go/pkg/model"
)

func TestFetchWithoutIdentityIsNoop(t *testing.T) {
	backend := newFakeBackend()
	s := newSchema(backend)
	m := mustNew(t, s.user, model.NewEnv(model.WithCache(newCache())))

	got, err := m.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != m {
		t.Fatalf("Fetch must return the instance itself")
	}
	if backend.count("user:") != 0 {
		t.Fatalf("backend must not be called without identity")
	}
}

func TestFetchServesRepeatedLoadsFromCache(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.put("user:1", model.Record{"id": "1", "name": "Ada", "email": "ada@example.com"})
	s := newSchema(backend)
	env := model.NewEnv(model.WithCache(newCache()))

	first := mustNew(t, s.user, env)
	first.Reset(model.Record{"id": "1"})
	if _, err := first.Fetch(ctx, model.WithoutRelated()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if first.Value("name") != "Ada" {
		t.Fatalf("record not applied: %#v", first.Serialize())
	}

	second := mustNew(t, s.user, env)
	second.Reset(model.Record{"id": "1"})
	if _, err := second.Fetch(ctx, model.WithoutRelated()); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if backend.count("user:1") != 1 {
		t.Fatalf("expected one backend call, got %d", backend.count("user:1"))
	}
	if diff := cmp.Diff(first.Serialize(), second.Serialize()); diff != "" {
		t.Fatalf("cached instance differs (-first +second):\n%s", diff)
	}

	if _, err := second.Fetch(ctx, model.WithoutRelated(), model.IgnoreCache()); err != nil {
		t.Fatalf("Fetch ignoring cache: %v", err)
	}
	if backend.count("user:1") != 2 {
		t.Fatalf("IgnoreCache must reach the backend, got %d calls", backend.count("user:1"))
	}
}

func TestFetchMissingRecordLeavesInstanceUnchanged(t *testing.T) {
	backend := newFakeBackend()
	s := newSchema(backend)
	m := mustNew(t, s.user, model.NewEnv(model.WithCache(newCache())))
	m.Reset(model.Record{"id": "404", "name": "local"})

	if _, err := m.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if m.Value("name") != "local" {
		t.Fatalf("instance changed by a missing record: %#v", m.Serialize())
	}
}

func TestFetchCoalescesConcurrentLoads(t *testing.T) {
	backend := newFakeBackend()
	backend.put("user:1", model.Record{"id": "1", "name": "Ada"})
	backend.started = make(chan string, 1)
	backend.release = make(chan struct{})
	s := newSchema(backend)
	env := model.NewEnv(model.WithCache(newCache()), model.WithQueue(newQueue(t)))

	const callers = 5
	instances := make([]*model.Model, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		instances[i] = mustNew(t, s.user, env)
		instances[i].Reset(model.Record{"id": "1"})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = instances[i].Fetch(context.Background(), model.WithoutRelated())
		}()
	}

	<-backend.started
	time.Sleep(50 * time.Millisecond)
	close(backend.release)
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if instances[i].Value("name") != "Ada" {
			t.Fatalf("caller %d not populated: %#v", i, instances[i].Serialize())
		}
	}
	if got := backend.count("user:1"); got != 1 {
		t.Fatalf("expected a single backend call, got %d", got)
	}
}

func TestFetchCoalescedCallerCanCancel(t *testing.T) {
	backend := newFakeBackend()
	backend.put("user:1", model.Record{"id": "1", "name": "Ada"})
	backend.started = make(chan string, 2)
	backend.release = make(chan struct{})
	s := newSchema(backend)
	env := model.NewEnv(model.WithQueue(newQueue(t)))

	m := mustNew(t, s.user, env)
	m.Reset(model.Record{"id": "1"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Fetch(ctx, model.WithoutRelated())
		done <- err
	}()

	<-backend.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(backend.release)
}

func TestFetchBackendErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	backend := newFakeBackend()
	backend.fail("user:1", boom)
	s := newSchema(backend)

	for name, env := range map[string]*model.Env{
		"direct": model.NewEnv(),
		"queued": model.NewEnv(model.WithQueue(newQueue(t))),
	} {
		t.Run(name, func(t *testing.T) {
			m := mustNew(t, s.user, env)
			m.Reset(model.Record{"id": "1"})
			if _, err := m.Fetch(context.Background()); !errors.Is(err, boom) {
				t.Fatalf("expected backend error, got %v", err)
			}
		})
	}
}

func TestFetchCacheErrorsAreSoft(t *testing.T) {
	backend := newFakeBackend()
	backend.put("user:1", model.Record{"id": "1", "name": "Ada"})
	s := newSchema(backend)
	m := mustNew(t, s.user, model.NewEnv(model.WithCache(failingCache{})))
	m.Reset(model.Record{"id": "1"})

	if _, err := m.Fetch(context.Background(), model.WithoutRelated()); err != nil {
		t.Fatalf("cache failures must not fail Fetch: %v", err)
	}
	if m.Value("name") != "Ada" {
		t.Fatalf("expected backend record, got %#v", m.Serialize())
	}
}

func TestFetchRelatedTerminatesOnCycles(t *testing.T) {
	backend := newFakeBackend()
	backend.put("user:1", model.Record{"id": "1", "name": "Ada", "manager": "2"})
	backend.put("user:2", model.Record{"id": "2", "name": "Grace", "manager": "1"})
	s := newSchema(backend)
	env := model.NewEnv(model.WithCache(newCache()), model.WithQueue(newQueue(t)))

	m := mustNew(t, s.user, env)
	m.Reset(model.Record{"id": "1"})
	if _, err := m.Fetch(context.Background(), model.WaitRelated()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	manager, _ := m.Related("manager")
	if manager.Value("name") != "Grace" {
		t.Fatalf("manager not fetched: %#v", manager.Serialize())
	}
	back, _ := manager.Related("manager")
	if back.Value("name") != "Ada" {
		t.Fatalf("cycle back-reference not loaded: %#v", back.Serialize())
	}
	if backend.count("user:1") != 1 || backend.count("user:2") != 1 {
		t.Fatalf("unexpected backend calls: user:1=%d user:2=%d", backend.count("user:1"), backend.count("user:2"))
	}
}

func TestBackgroundRelationErrorsAreSwallowed(t *testing.T) {
	boom := errors.New("team backend down")
	backend := newFakeBackend()
	backend.put("user:1", model.Record{"id": "1", "name": "Ada", "team": "9"})
	backend.fail("team:9", boom)
	s := newSchema(backend)
	env := model.NewEnv()

	m := mustNew(t, s.user, env)
	m.Reset(model.Record{"id": "1"})
	if _, err := m.Fetch(context.Background()); err != nil {
		t.Fatalf("background relation errors must not surface: %v", err)
	}
	env.Wait()
	if backend.count("team:9") != 1 {
		t.Fatalf("expected the team fetch to run, got %d calls", backend.count("team:9"))
	}

	waited := mustNew(t, s.user, env)
	waited.Reset(model.Record{"id": "1"})
	if _, err := waited.Fetch(context.Background(), model.WaitRelated()); !errors.Is(err, boom) {
		t.Fatalf("expected relation error with WaitRelated, got %v", err)
	}
	if err := waited.FetchRelated(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected relation error from FetchRelated, got %v", err)
	}
}

func TestFetchAppliesRelationsWithoutExpansion(t *testing.T) {
	backend := newFakeBackend()
	backend.put("user:1", model.Record{"id": "1", "team": "9"})
	backend.put("team:9", model.Record{"id": "9", "title": "Compilers"})
	s := newSchema(backend)

	m := mustNew(t, s.user, model.NewEnv())
	m.Reset(model.Record{"id": "1"})
	if _, err := m.Fetch(context.Background(), model.WithoutRelated()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	team, _ := m.Related("team")
	if team.EncodedID() != "9" || team.Value("title") != nil {
		t.Fatalf("expected an unfetched team shell, got %#v", team.Serialize())
	}
	if backend.count("team:9") != 0 {
		t.Fatalf("WithoutRelated must not fetch relations")
	}
}

func TestLocalUpdateMergesCachedRecord(t *testing.T) {
	ctx := context.Background()
	s := newSchema(newFakeBackend())
	cache := newCache()
	m := mustNew(t, s.user, model.NewEnv(model.WithCache(cache)))
	m.Reset(model.Record{"id": "1"})

	if err := m.LocalUpdate(ctx, model.Record{"id": "1", "name": "Ada"}); err != nil {
		t.Fatalf("LocalUpdate: %v", err)
	}
	if err := m.LocalUpdate(ctx, model.Record{"email": "ada@example.com"}); err != nil {
		t.Fatalf("second LocalUpdate: %v", err)
	}

	var stored map[string]any
	ok, err := cache.Get(ctx, "user:1", &stored)
	if err != nil || !ok {
		t.Fatalf("cache Get: ok=%v err=%v", ok, err)
	}
	want := map[string]any{"id": "1", "name": "Ada", "email": "ada@example.com"}
	if diff := cmp.Diff(want, stored); diff != "" {
		t.Fatalf("merged record mismatch (-want +got):\n%s", diff)
	}
	if m.Value("name") != nil {
		t.Fatalf("LocalUpdate must not touch the instance")
	}
}

func TestObjectCacheSubkeys(t *testing.T) {
	ctx := context.Background()
	s := newSchema(newFakeBackend())
	cache := newCache()
	m := mustNew(t, s.user, model.NewEnv(model.WithCache(cache)))
	m.Reset(model.Record{"id": "1"})

	if err := m.SetObjectCache(ctx, "avatar", "png-bytes"); err != nil {
		t.Fatalf("SetObjectCache: %v", err)
	}
	var got string
	ok, err := m.ObjectCache(ctx, "avatar", &got)
	if err != nil || !ok || got != "png-bytes" {
		t.Fatalf("ObjectCache: ok=%v err=%v value=%q", ok, err, got)
	}
	if ok, _ := cache.Get(ctx, "user:1:avatar", nil); !ok {
		t.Fatalf("expected the subkey slot under user:1:avatar")
	}
	if err := m.RemoveObjectCache(ctx, "avatar"); err != nil {
		t.Fatalf("RemoveObjectCache: %v", err)
	}
	if ok, _ := m.ObjectCache(ctx, "avatar", &got); ok {
		t.Fatalf("slot must be gone after removal")
	}
}

func TestLoadFromDataSeedsCache(t *testing.T) {
	backend := newFakeBackend()
	s := newSchema(backend)
	env := model.NewEnv(model.WithCache(newCache()))

	m := mustNew(t, s.user, env)
	if _, err := m.LoadFromData(context.Background(), model.Record{"id": "3", "name": "Linus"}, model.WithoutRelated()); err != nil {
		t.Fatalf("LoadFromData: %v", err)
	}
	if m.Value("name") != "Linus" {
		t.Fatalf("expected seeded record, got %#v", m.Serialize())
	}
	if backend.count("user:3") != 0 {
		t.Fatalf("seeded record must be served from the cache")
	}
}

func TestLoadFromIDComposite(t *testing.T) {
	backend := newFakeBackend()
	encoded := model.EncodeCompositeID([]any{"acme", "7"})
	backend.put("members:"+encoded, model.Record{"org_id": "acme", "user_id": "7", "role": "admin"})
	s := newSchema(backend)

	m := mustNew(t, s.membership, nil)
	if _, err := m.LoadFromID(context.Background(), encoded); err != nil {
		t.Fatalf("LoadFromID: %v", err)
	}
	if m.Value("role") != "admin" {
		t.Fatalf("expected fetched role, got %#v", m.Serialize())
	}
	if _, err := m.LoadFromID(context.Background(), ""); err != nil {
		t.Fatalf("LoadFromID empty: %v", err)
	}
	if m.HasID() || m.Value("role") != nil {
		t.Fatalf("empty id must only reset, got %#v", m.Serialize())
	}
}
