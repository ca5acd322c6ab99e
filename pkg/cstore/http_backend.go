package cstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Ratio1/ratio1_records_go/internal/envelope"
	"github.com/Ratio1/ratio1_records_go/internal/httpx"
)

type httpBackend struct {
	client *httpx.Client
}

func (b *httpBackend) GetRaw(ctx context.Context, key string) ([]byte, error) {
	data, err := b.get(ctx, "get", url.Values{"key": {key}})
	if err != nil {
		return nil, err
	}
	return storedValue(data)
}

func (b *httpBackend) SetRaw(ctx context.Context, key string, raw []byte) error {
	_, err := b.post(ctx, "set", map[string]any{
		"key":              key,
		"value":            string(raw),
		"chainstore_peers": []string{},
	})
	return err
}

func (b *httpBackend) DeleteRaw(ctx context.Context, key string) (bool, error) {
	data, err := b.post(ctx, "delete", map[string]any{"key": key})
	if err != nil {
		return false, err
	}
	return decodeBool(data)
}

func (b *httpBackend) ListKeys(ctx context.Context) ([]string, error) {
	data, err := b.get(ctx, "get_status", nil)
	if err != nil {
		return nil, err
	}
	var status Status
	if err := envelope.Decode(data, &status); err != nil {
		return nil, fmt.Errorf("cstore: decode get_status response: %w", err)
	}
	return status.Keys, nil
}

func (b *httpBackend) HGetRaw(ctx context.Context, hashKey, field string) ([]byte, error) {
	data, err := b.get(ctx, "hget", url.Values{"hkey": {hashKey}, "key": {field}})
	if err != nil {
		return nil, err
	}
	return storedValue(data)
}

func (b *httpBackend) HSetRaw(ctx context.Context, hashKey, field string, raw []byte) error {
	_, err := b.post(ctx, "hset", map[string]any{
		"hkey":             hashKey,
		"key":              field,
		"value":            string(raw),
		"chainstore_peers": []string{},
	})
	return err
}

func (b *httpBackend) HDeleteRaw(ctx context.Context, hashKey, field string) (bool, error) {
	data, err := b.post(ctx, "hdel", map[string]any{"hkey": hashKey, "key": field})
	if err != nil {
		return false, err
	}
	return decodeBool(data)
}

func (b *httpBackend) HGetAllRaw(ctx context.Context, hashKey string) (map[string]json.RawMessage, error) {
	data, err := b.get(ctx, "hgetall", url.Values{"hkey": {hashKey}})
	if err != nil {
		return nil, err
	}
	inner, ok := envelope.Inner(data)
	if !ok {
		inner = bytes.TrimSpace(data)
	}
	if isNull(inner) {
		return nil, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(inner, &raw); err != nil {
		return nil, fmt.Errorf("cstore: decode hash map: %w", err)
	}
	fields := make(map[string]json.RawMessage, len(raw))
	for field, value := range raw {
		doc, err := unquoteStored(value)
		if err != nil {
			return nil, fmt.Errorf("cstore: decode hash field %q: %w", field, err)
		}
		fields[field] = doc
	}
	return fields, nil
}

func (b *httpBackend) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if b == nil || b.client == nil {
		return nil, fmt.Errorf("cstore: http backend not configured")
	}
	resp, err := b.client.Do(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
	})
	if err != nil {
		return nil, err
	}
	if err := httpx.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("cstore: %s: %w", path, err)
	}
	return httpx.ReadAllAndClose(resp.Body)
}

func (b *httpBackend) post(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	if b == nil || b.client == nil {
		return nil, fmt.Errorf("cstore: http backend not configured")
	}
	body, err := httpx.JSONBody(payload)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(ctx, &httpx.Request{
		Method: http.MethodPost,
		Path:   path,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return nil, err
	}
	if err := httpx.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("cstore: %s: %w", path, err)
	}
	return httpx.ReadAllAndClose(resp.Body)
}

// storedValue extracts the stored JSON document from a get/hget response.
// The API returns the value as the JSON text it was written with.
func storedValue(body []byte) ([]byte, error) {
	inner, ok := envelope.Inner(body)
	if !ok {
		inner = bytes.TrimSpace(body)
	}
	if isNull(inner) {
		return nil, nil
	}
	return unquoteStored(inner)
}

func unquoteStored(value json.RawMessage) ([]byte, error) {
	var text string
	if err := json.Unmarshal(value, &text); err != nil {
		// Already a document.
		return append([]byte(nil), value...), nil
	}
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("cstore: stored value is not JSON")
	}
	return []byte(text), nil
}

func decodeBool(body []byte) (bool, error) {
	var ok bool
	if err := envelope.Decode(body, &ok); err != nil {
		return false, fmt.Errorf("cstore: decode response: %w", err)
	}
	return ok, nil
}
