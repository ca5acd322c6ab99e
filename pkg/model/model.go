package model

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Model is one instance of a Type. Plain fields hold wire or codec values;
// relation fields hold nested *Model instances. Methods are safe for
// concurrent use.
type Model struct {
	typ    *Type
	schema *schema
	env    *Env
	depth  int

	mu      sync.RWMutex
	values  map[string]any
	related map[string]*Model
}

// ResetOption adjusts Reset.
type ResetOption func(*resetOptions)

type resetOptions struct {
	initModels bool
}

// WithoutModels leaves relation fields as empty shells instead of building
// their nested instances eagerly.
func WithoutModels() ResetOption {
	return func(o *resetOptions) {
		o.initModels = false
	}
}

// New creates a reset instance of t bound to env. A nil env means no
// collaborators.
func New(t *Type, env *Env) (*Model, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	m := newModel(t, envOrDefault(env), 0)
	m.Reset(nil)
	return m, nil
}

// MustNew is New for statically declared types. It panics on an invalid
// Type.
func MustNew(t *Type, env *Env) *Model {
	m, err := New(t, env)
	if err != nil {
		panic(err)
	}
	return m
}

func newModel(t *Type, env *Env, depth int) *Model {
	s, _ := t.compiled()
	return &Model{
		typ:     t,
		schema:  s,
		env:     env,
		depth:   depth,
		values:  make(map[string]any, len(s.fields)),
		related: make(map[string]*Model),
	}
}

// Type returns the instance's Type.
func (m *Model) Type() *Type {
	return m.typ
}

// Name returns the Type's display name.
func (m *Model) Name() string {
	return m.typ.DisplayName()
}

// Fields lists the declared fields in declaration order.
func (m *Model) Fields() []string {
	return append([]string(nil), m.schema.fields...)
}

// IDFields lists the identity fields in encoding order.
func (m *Model) IDFields() []string {
	return append([]string(nil), m.typ.IDFields...)
}

// Reset makes every declared field present again. Fields named in initial
// take that value (a relation accepts a *Model or an identity value); the
// rest become nil, and relations get fresh nested instances built down to the
// configured depth, honouring the Type's NonRecursive list.
func (m *Model) Reset(initial Record, opts ...ResetOption) *Model {
	ro := resetOptions{initModels: true}
	for _, opt := range opts {
		opt(&ro)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked(initial, ro.initModels)
	return m
}

func (m *Model) resetLocked(initial Record, initModels bool) {
	for _, field := range m.schema.fields {
		v, given := initial[field]
		if m.schema.kinds[field] != kindRelation {
			if given {
				m.values[field] = v
			} else {
				m.values[field] = nil
			}
			continue
		}

		relType := m.typ.Relations[field]
		if given {
			if child, ok := v.(*Model); ok && child != m && child.typ == relType {
				m.related[field] = child
				continue
			}
			child := newModel(relType, m.env, m.depth+1)
			child.resetLocked(nil, m.childInit(field, initModels))
			if err := child.setIdentityLocked(v); err != nil {
				m.env.logger.Warn("model: reset relation identity",
					"type", m.typ.Name,
					"field", field,
					"error", err,
				)
			}
			m.related[field] = child
			continue
		}
		if !initModels {
			delete(m.related, field)
			continue
		}
		child := newModel(relType, m.env, m.depth+1)
		child.resetLocked(nil, m.childInit(field, true))
		m.related[field] = child
	}
}

// childInit reports whether the nested instance for field builds its own
// relations.
func (m *Model) childInit(field string, initModels bool) bool {
	return initModels && !m.schema.nonRecursive[field] && m.depth+1 < m.env.maxDepth
}

// relatedLocked returns the nested instance for field, building an empty one
// when Reset left it as a shell. Callers hold m.mu for writing.
func (m *Model) relatedLocked(field string) *Model {
	child := m.related[field]
	if child == nil {
		child = newModel(m.typ.Relations[field], m.env, m.depth+1)
		child.resetLocked(nil, false)
		m.related[field] = child
	}
	return child
}

// Related returns the nested instance held by a relation field.
func (m *Model) Related(field string) (*Model, error) {
	kind, ok := m.schema.kinds[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, m.typ.Name, field)
	}
	if kind != kindRelation {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotRelation, m.typ.Name, field)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relatedLocked(field), nil
}

// Get returns a plain field's value, or the nested *Model of a relation.
func (m *Model) Get(field string) (any, error) {
	kind, ok := m.schema.kinds[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, m.typ.Name, field)
	}
	if kind == kindRelation {
		return m.Related(field)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[field], nil
}

// Value returns a plain field's value, or nil for unknown fields and
// relations.
func (m *Model) Value(field string) any {
	if m.schema.kinds[field] == kindRelation {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[field]
}

// Set assigns a field. A relation accepts a *Model of the related Type or an
// identity value, which replaces the nested instance's identity.
func (m *Model) Set(field string, value any) error {
	kind, ok := m.schema.kinds[field]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, m.typ.Name, field)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind != kindRelation {
		m.values[field] = value
		return nil
	}
	if child, ok := value.(*Model); ok {
		if child == m {
			return fmt.Errorf("model: %s.%s: instance cannot reference itself", m.typ.Name, field)
		}
		if child.typ != m.typ.Relations[field] {
			return fmt.Errorf("model: %s.%s: expected %s, got %s", m.typ.Name, field, m.typ.Relations[field].Name, child.typ.Name)
		}
		m.related[field] = child
		return nil
	}
	return m.deserializeRelationLocked(field, value)
}

// Deserialize overlays raw onto the instance. Absent keys keep their current
// value. Relation values are identities (encoded for composite types) or
// embedded records. Date fields go through the Env's codec; a value the codec
// rejects leaves the field unchanged and is reported in the joined error
// while the remaining fields are still applied.
func (m *Model) Deserialize(raw Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deserializeLocked(raw)
}

func (m *Model) deserializeLocked(raw Record) error {
	var errs []error
	for _, field := range m.schema.fields {
		v, present := raw[field]
		if !present {
			continue
		}
		var err error
		switch m.schema.kinds[field] {
		case kindRelation:
			err = m.deserializeRelationLocked(field, v)
		case kindDate:
			err = m.deserializeTemporalLocked(field, v, false)
		case kindDateTime:
			err = m.deserializeTemporalLocked(field, v, true)
		default:
			m.values[field] = v
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.%s: %w", m.typ.Name, field, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Model) deserializeTemporalLocked(field string, v any, withTime bool) error {
	codec := m.env.dates
	if codec == nil || v == nil {
		m.values[field] = v
		return nil
	}
	var (
		t   time.Time
		err error
	)
	if withTime {
		t, err = codec.DeserializeDateTime(v)
	} else {
		t, err = codec.DeserializeDate(v)
	}
	if err != nil {
		return err
	}
	if t.IsZero() {
		m.values[field] = nil
		return nil
	}
	m.values[field] = t
	return nil
}

func (m *Model) deserializeRelationLocked(field string, v any) error {
	child := m.relatedLocked(field)
	init := m.childInit(field, true)

	child.mu.Lock()
	defer child.mu.Unlock()
	if embedded, ok := asRecord(v); ok {
		child.resetLocked(nil, init)
		return child.deserializeLocked(embedded)
	}
	child.resetLocked(nil, init)
	return child.setIdentityLocked(v)
}

// setIdentityLocked assigns v as the instance's identity. Composite types
// expect the encoded form.
func (m *Model) setIdentityLocked(v any) error {
	if !m.typ.Composite() {
		return m.deserializeLocked(Record{m.typ.IDFields[0]: v})
	}
	if v == nil {
		return nil
	}
	encoded, ok := v.(string)
	if !ok {
		return fmt.Errorf("model: %s: composite id must be an encoded string, got %T", m.typ.Name, v)
	}
	if encoded == "" {
		return nil
	}
	parts, err := DecodeCompositeID(encoded, len(m.typ.IDFields))
	if err != nil {
		return err
	}
	rec := make(Record, len(parts))
	for i, field := range m.typ.IDFields {
		if parts[i] != nil {
			rec[field] = parts[i]
		}
	}
	return m.deserializeLocked(rec)
}

// Serialize is the inverse of Deserialize. Relations collapse to the nested
// instance's identity, nil when it has none. Temporal values go through the
// codec; nil stays nil.
func (m *Model) Serialize() Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(Record, len(m.schema.fields))
	for _, field := range m.schema.fields {
		out[field] = m.serializeFieldLocked(field)
	}
	return out
}

func (m *Model) serializeFieldLocked(field string) any {
	switch m.schema.kinds[field] {
	case kindRelation:
		child := m.related[field]
		if child == nil {
			return nil
		}
		return child.wireID()
	case kindDate, kindDateTime:
		v := m.values[field]
		codec := m.env.dates
		if codec == nil || v == nil || !codec.IsValid(v) {
			return v
		}
		if m.schema.kinds[field] == kindDate {
			return codec.SerializeDate(v)
		}
		return codec.SerializeDateTime(v)
	default:
		return m.values[field]
	}
}

// wireID is the identity as it appears in a parent's serialized record.
func (m *Model) wireID() any {
	if !m.HasID() {
		return nil
	}
	if m.typ.Composite() {
		return m.EncodedID()
	}
	return m.ID()
}

func asRecord(v any) (Record, bool) {
	switch x := v.(type) {
	case Record:
		return x, true
	case map[string]any:
		return Record(x), true
	default:
		return nil, false
	}
}
