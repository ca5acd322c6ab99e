// Package envelope unwraps the response envelopes used by record endpoints
// ({"data": ...}) and by the chainstore API ({"result": ...}).
package envelope

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// envelopeKeys lists the wrapper fields checked, in order.
var envelopeKeys = []string{"result", "data"}

// Unwrap returns the JSON document stored under the first present envelope
// key. Bodies without an envelope are returned trimmed but otherwise intact.
// A wrapped value that is itself a JSON-encoded string holding a document is
// decoded once more, up to a few levels of quoting.
func Unwrap(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	inner, ok := Inner(trimmed)
	if !ok {
		return append([]byte(nil), trimmed...), nil
	}

	var asString string
	if err := json.Unmarshal(inner, &asString); err == nil {
		decoded := asString
		for i := 0; i < 4; i++ {
			unquoted, err := strconv.Unquote(decoded)
			if err != nil {
				break
			}
			decoded = unquoted
		}
		var doc json.RawMessage
		if err := json.Unmarshal([]byte(decoded), &doc); err == nil {
			return append([]byte(nil), doc...), nil
		}
	}
	return append([]byte(nil), inner...), nil
}

// Inner returns the raw value stored under the first present envelope key,
// without any string decoding. It reports false when body is not an envelope.
func Inner(body []byte) (json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(body), &fields); err != nil || fields == nil {
		return nil, false
	}
	for _, key := range envelopeKeys {
		if raw, ok := fields[key]; ok {
			return append(json.RawMessage(nil), raw...), true
		}
	}
	return nil, false
}

// Decode unwraps body and decodes the payload into out. An empty body decodes
// as JSON null.
func Decode(body []byte, out any) error {
	payload, err := Unwrap(body)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		payload = []byte("null")
	}
	return json.Unmarshal(payload, out)
}

// IsNull reports whether payload is empty or the JSON literal null.
func IsNull(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
