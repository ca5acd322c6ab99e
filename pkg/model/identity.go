package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// partEscaper keeps the "," separator unambiguous inside identity parts.
var (
	partEscaper   = strings.NewReplacer("%", "%25", ",", "%2C")
	partUnescaper = strings.NewReplacer("%2C", ",", "%2c", ",", "%25", "%")
)

// EncodeCompositeID joins the string forms of parts with "," and base64
// encodes the result. Nil parts render as empty strings; "%" and "," inside a
// part are percent-encoded so distinct part lists never share an encoding.
func EncodeCompositeID(parts []any) string {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = partEscaper.Replace(stringify(p))
	}
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(strs, ",")))
}

// DecodeCompositeID reverses EncodeCompositeID for an identity of n parts.
// Empty parts decode to nil; missing trailing parts are nil and extra parts
// are dropped.
func DecodeCompositeID(encoded string, n int) ([]any, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("model: decode composite id %q: %w", encoded, err)
	}
	pieces := strings.Split(string(raw), ",")
	parts := make([]any, n)
	for i := 0; i < n && i < len(pieces); i++ {
		if pieces[i] != "" {
			parts[i] = partUnescaper.Replace(pieces[i])
		}
	}
	return parts, nil
}

// CacheKey builds "name:encodedID" with an optional ":subkey" suffix.
func CacheKey(name, encodedID, subkey string) string {
	key := name + ":" + encodedID
	if subkey != "" {
		key += ":" + subkey
	}
	return key
}

// stringify renders an identity part. Floats use the shortest decimal form
// so 7, 7.0 and "7" encode alike.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func isEmptyPart(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// truthy mirrors the loose validity check used by IsValid: nil, "", zero
// numbers and false are not valid identity values.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0
	case float32:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case int32:
		return x != 0
	case uint64:
		return x != 0
	case uint:
		return x != 0
	case uint32:
		return x != 0
	case json.Number:
		f, err := x.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}

// ID recomputes the identity from the current field values: the serialized
// value of the id field, or a slice of parts in IDFields order for composite
// types.
func (m *Model) ID() any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idLocked()
}

func (m *Model) idLocked() any {
	if !m.typ.Composite() {
		return m.serializeFieldLocked(m.typ.IDFields[0])
	}
	parts := make([]any, len(m.typ.IDFields))
	for i, field := range m.typ.IDFields {
		parts[i] = m.serializeFieldLocked(field)
	}
	return parts
}

// HasID reports whether any identity part is set.
func (m *Model) HasID() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasIDLocked()
}

func (m *Model) hasIDLocked() bool {
	switch id := m.idLocked().(type) {
	case []any:
		for _, p := range id {
			if !isEmptyPart(p) {
				return true
			}
		}
		return false
	default:
		return !isEmptyPart(id)
	}
}

// EncodedID is the identity's string form: the scalar verbatim for a single
// field, EncodeCompositeID for composite types. It is "" without identity.
func (m *Model) EncodedID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.encodedIDLocked()
}

func (m *Model) encodedIDLocked() string {
	if !m.hasIDLocked() {
		return ""
	}
	switch id := m.idLocked().(type) {
	case []any:
		return EncodeCompositeID(id)
	default:
		return stringify(id)
	}
}

// CacheKey is the object cache key of the instance, with an optional subkey.
func (m *Model) CacheKey(subkey string) string {
	return CacheKey(m.Name(), m.EncodedID(), subkey)
}

// IsValid reports whether every identity field holds a non-zero value.
func (m *Model) IsValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, field := range m.typ.IDFields {
		if m.schema.kinds[field] == kindRelation {
			if !truthy(m.serializeFieldLocked(field)) {
				return false
			}
			continue
		}
		if !truthy(m.values[field]) {
			return false
		}
	}
	return true
}

// PickID returns the identity fields present in values. With nil values it
// picks from the instance's own serialized state.
func (m *Model) PickID(values Record) Record {
	if values == nil {
		values = m.Serialize()
	}
	out := make(Record, len(m.typ.IDFields))
	for _, field := range m.typ.IDFields {
		if v, ok := values[field]; ok {
			out[field] = v
		}
	}
	return out
}
