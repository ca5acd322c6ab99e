package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownField is returned when a field is not declared on the Type.
	ErrUnknownField = errors.New("model: unknown field")
	// ErrNotRelation is returned when a relation accessor is used on a plain
	// field.
	ErrNotRelation = errors.New("model: field is not a relation")
)

// Record is a sparse raw record: field name to wire value.
type Record map[string]any

// Fetcher loads the raw record for m. A nil or empty record means the
// record does not exist.
type Fetcher interface {
	Fetch(ctx context.Context, m *Model) (Record, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, m *Model) (Record, error)

// Fetch implements Fetcher.
func (f FetchFunc) Fetch(ctx context.Context, m *Model) (Record, error) {
	return f(ctx, m)
}

// Type describes one kind of remote record.
//
// IDFields lists the identity fields in encoding order; more than one field
// makes the identity composite. Relations maps a field to the Type of the
// nested record it references; a Type may reference itself. NonRecursive
// names relations whose nested instance is built without its own relations.
//
// A Type must not be modified after the first Model is created from it.
type Type struct {
	Name           string
	Alias          string
	IDFields       []string
	Fields         []string
	Relations      map[string]*Type
	NonRecursive   []string
	DateFields     []string
	DateTimeFields []string
	Fetcher        Fetcher

	once   sync.Once
	schema *schema
	err    error
}

type fieldKind int

const (
	kindPlain fieldKind = iota
	kindRelation
	kindDate
	kindDateTime
)

type schema struct {
	fields       []string
	kinds        map[string]fieldKind
	nonRecursive map[string]bool
}

// DisplayName returns the alias when set, the name otherwise. It prefixes
// every cache key of the type.
func (t *Type) DisplayName() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

// Composite reports whether identity spans more than one field.
func (t *Type) Composite() bool {
	return len(t.IDFields) > 1
}

// Validate checks the Type and every Type reachable through its relations.
func (t *Type) Validate() error {
	return t.validate(map[*Type]bool{})
}

func (t *Type) validate(seen map[*Type]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true
	if _, err := t.compiled(); err != nil {
		return err
	}
	for _, field := range sortedKeys(t.Relations) {
		if err := t.Relations[field].validate(seen); err != nil {
			return fmt.Errorf("model: %s.%s: %w", t.Name, field, err)
		}
	}
	return nil
}

func (t *Type) compiled() (*schema, error) {
	if t == nil {
		return nil, errors.New("model: type is nil")
	}
	t.once.Do(func() {
		t.schema, t.err = t.compile()
	})
	return t.schema, t.err
}

func (t *Type) compile() (*schema, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, errors.New("model: type name is required")
	}
	if len(t.IDFields) == 0 {
		return nil, fmt.Errorf("model: %s: at least one id field is required", t.Name)
	}

	s := &schema{
		kinds:        make(map[string]fieldKind),
		nonRecursive: make(map[string]bool),
	}
	add := func(field string, kind fieldKind) error {
		if strings.TrimSpace(field) == "" {
			return fmt.Errorf("model: %s: empty field name", t.Name)
		}
		if prev, ok := s.kinds[field]; ok {
			if prev != kindPlain && kind != kindPlain && prev != kind {
				return fmt.Errorf("model: %s: field %q declared with two kinds", t.Name, field)
			}
			if kind != kindPlain {
				s.kinds[field] = kind
			}
			return nil
		}
		s.kinds[field] = kind
		s.fields = append(s.fields, field)
		return nil
	}

	for _, f := range t.Fields {
		if err := add(f, kindPlain); err != nil {
			return nil, err
		}
	}
	for _, f := range t.IDFields {
		if err := add(f, kindPlain); err != nil {
			return nil, err
		}
	}
	for _, f := range sortedKeys(t.Relations) {
		if t.Relations[f] == nil {
			return nil, fmt.Errorf("model: %s: relation %q has no type", t.Name, f)
		}
		if err := add(f, kindRelation); err != nil {
			return nil, err
		}
	}
	for _, f := range t.DateFields {
		if err := add(f, kindDate); err != nil {
			return nil, err
		}
	}
	for _, f := range t.DateTimeFields {
		if err := add(f, kindDateTime); err != nil {
			return nil, err
		}
	}
	for _, f := range t.NonRecursive {
		if s.kinds[f] != kindRelation {
			return nil, fmt.Errorf("model: %s: non-recursive field %q is not a relation", t.Name, f)
		}
		s.nonRecursive[f] = true
	}
	return s, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
