package model_test

import (
	"context"
	"testing"

	"github.com/Ratio1/ratio1_records_go/pkg/model"
)

func TestInternerReturnsSameInstance(t *testing.T) {
	backend := newFakeBackend()
	backend.put("user:1", model.Record{"id": "1", "name": "Ada", "email": "ada@example.com"})
	s := newSchema(backend)
	env := model.NewEnv(model.WithCache(newCache()))

	interner, err := model.NewInterner(s.user, env, model.WithoutRelated())
	if err != nil {
		t.Fatalf("NewInterner: %v", err)
	}
	ctx := context.Background()
	first := interner.LoadFromData(ctx, model.Record{"id": "1", "name": "Ada"})
	second := interner.LoadFromData(ctx, model.Record{"id": "1", "name": "ignored"})
	if first != second {
		t.Fatalf("expected the same instance for the same identity")
	}
	other := interner.LoadFromData(ctx, model.Record{"id": "2"})
	if other == first {
		t.Fatalf("distinct identities must map to distinct instances")
	}
	env.Wait()

	if interner.Len() != 2 {
		t.Fatalf("expected 2 interned instances, got %d", interner.Len())
	}
	if first.Value("name") != "Ada" {
		t.Fatalf("background load not applied: %#v", first.Serialize())
	}
	if backend.count("user:1") != 0 {
		t.Fatalf("seeded identity must load from the cache, got %d backend calls", backend.count("user:1"))
	}

	interner.Forget(first.EncodedID())
	if interner.LoadFromData(ctx, model.Record{"id": "1"}) == first {
		t.Fatalf("Forget must drop the instance")
	}
	env.Wait()
}

func TestNewInternerValidatesType(t *testing.T) {
	if _, err := model.NewInterner(&model.Type{Name: "broken"}, nil); err == nil {
		t.Fatalf("expected invalid type to fail")
	}
}
