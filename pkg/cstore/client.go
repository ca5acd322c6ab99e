package cstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Ratio1/ratio1_records_go/internal/httpx"
)

// Backend is the raw storage contract behind a Client. Values are JSON
// documents; a nil slice means the key is absent.
type Backend interface {
	GetRaw(ctx context.Context, key string) ([]byte, error)
	SetRaw(ctx context.Context, key string, raw []byte) error
	DeleteRaw(ctx context.Context, key string) (bool, error)
	ListKeys(ctx context.Context) ([]string, error)
	HGetRaw(ctx context.Context, hashKey, field string) ([]byte, error)
	HSetRaw(ctx context.Context, hashKey, field string, raw []byte) error
	HDeleteRaw(ctx context.Context, hashKey, field string) (bool, error)
	HGetAllRaw(ctx context.Context, hashKey string) (map[string]json.RawMessage, error)
}

// Client provides typed access to a chainstore Backend.
type Client struct {
	backend Backend
}

// New constructs a Client bound to the provided base URL.
func New(baseURL string, opts ...httpx.Option) (*Client, error) {
	cl, err := httpx.NewClient(baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return NewWithHTTPClient(cl), nil
}

// NewWithHTTPClient wraps an existing httpx.Client.
func NewWithHTTPClient(httpClient *httpx.Client) *Client {
	return &Client{backend: &httpBackend{client: httpClient}}
}

// NewWithBackend allows callers to supply a custom backend (e.g., mocks).
func NewWithBackend(b Backend) *Client {
	return &Client{backend: b}
}

// Get retrieves a value and decodes it into the requested type. A missing key
// yields a nil item.
func Get[T any](ctx context.Context, client *Client, key string) (*Item[T], error) {
	if err := requireKey("key", key); err != nil {
		return nil, err
	}
	if err := client.ready(); err != nil {
		return nil, err
	}
	data, err := client.backend.GetRaw(ctx, key)
	if err != nil {
		return nil, err
	}
	value, ok, err := decodeValue[T](data)
	if err != nil || !ok {
		return nil, err
	}
	return &Item[T]{Key: key, Value: value}, nil
}

// Put stores a value encoded as JSON.
func Put[T any](ctx context.Context, client *Client, key string, value T) (*Item[T], error) {
	if err := requireKey("key", key); err != nil {
		return nil, err
	}
	raw, err := httpx.JSONBody(value)
	if err != nil {
		return nil, fmt.Errorf("cstore: encode value: %w", err)
	}
	if err := client.ready(); err != nil {
		return nil, err
	}
	if err := client.backend.SetRaw(ctx, key, raw); err != nil {
		return nil, err
	}
	return &Item[T]{Key: key, Value: value}, nil
}

// HGet retrieves a value stored under a hash key and decodes it into the requested type.
func HGet[T any](ctx context.Context, client *Client, hashKey, field string) (*HashItem[T], error) {
	if err := requireHash(hashKey, field); err != nil {
		return nil, err
	}
	if err := client.ready(); err != nil {
		return nil, err
	}
	data, err := client.backend.HGetRaw(ctx, hashKey, field)
	if err != nil {
		return nil, err
	}
	value, ok, err := decodeValue[T](data)
	if err != nil || !ok {
		return nil, err
	}
	return &HashItem[T]{HashKey: hashKey, Field: field, Value: value}, nil
}

// HSet stores a field value within a hash key.
func HSet[T any](ctx context.Context, client *Client, hashKey, field string, value T) (*HashItem[T], error) {
	if err := requireHash(hashKey, field); err != nil {
		return nil, err
	}
	raw, err := httpx.JSONBody(value)
	if err != nil {
		return nil, fmt.Errorf("cstore: encode hash value: %w", err)
	}
	if err := client.ready(); err != nil {
		return nil, err
	}
	if err := client.backend.HSetRaw(ctx, hashKey, field, raw); err != nil {
		return nil, err
	}
	return &HashItem[T]{HashKey: hashKey, Field: field, Value: value}, nil
}

// HGetAll retrieves all fields stored under a hash key, ordered by field.
func HGetAll[T any](ctx context.Context, client *Client, hashKey string) ([]HashItem[T], error) {
	if err := requireKey("hash key", hashKey); err != nil {
		return nil, err
	}
	if err := client.ready(); err != nil {
		return nil, err
	}
	raw, err := client.backend.HGetAllRaw(ctx, hashKey)
	if err != nil {
		return nil, err
	}
	fields := sortedFields(raw)
	items := make([]HashItem[T], 0, len(fields))
	for _, field := range fields {
		value, ok, err := decodeValue[T](raw[field])
		if err != nil {
			return nil, fmt.Errorf("cstore: decode hash field %q: %w", field, err)
		}
		if !ok {
			continue
		}
		items = append(items, HashItem[T]{HashKey: hashKey, Field: field, Value: value})
	}
	return items, nil
}

// List enumerates keys using the get_status endpoint and returns decoded items.
// The cursor is the last key of the previous page.
func List[T any](ctx context.Context, client *Client, prefix string, cursor string, limit int) (*ListResult[T], error) {
	keys, err := client.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	start := 0
	if cursor != "" {
		start = sort.Search(len(keys), func(i int) bool { return keys[i] > cursor })
	}
	end := len(keys)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	items := make([]Item[T], 0, end-start)
	for _, key := range keys[start:end] {
		item, err := Get[T](ctx, client, key)
		if err != nil {
			return nil, err
		}
		if item != nil {
			items = append(items, *item)
		}
	}

	nextCursor := ""
	if end < len(keys) && end > 0 {
		nextCursor = keys[end-1]
	}
	return &ListResult[T]{Items: items, NextCursor: nextCursor}, nil
}

// Keys lists stored keys with the given prefix in lexical order.
func (c *Client) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	keys, err := c.backend.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]string, 0, len(keys))
	for _, k := range keys {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			filtered = append(filtered, k)
		}
	}
	sort.Strings(filtered)
	return filtered, nil
}

// HKeys lists the fields of a hash key in lexical order.
func (c *Client) HKeys(ctx context.Context, hashKey string) ([]string, error) {
	if err := requireKey("hash key", hashKey); err != nil {
		return nil, err
	}
	if err := c.ready(); err != nil {
		return nil, err
	}
	raw, err := c.backend.HGetAllRaw(ctx, hashKey)
	if err != nil {
		return nil, err
	}
	return sortedFields(raw), nil
}

// Delete removes key and reports whether it existed.
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	if err := requireKey("key", key); err != nil {
		return false, err
	}
	if err := c.ready(); err != nil {
		return false, err
	}
	return c.backend.DeleteRaw(ctx, key)
}

// HDelete removes a field from a hash key and reports whether it existed.
func (c *Client) HDelete(ctx context.Context, hashKey, field string) (bool, error) {
	if err := requireHash(hashKey, field); err != nil {
		return false, err
	}
	if err := c.ready(); err != nil {
		return false, err
	}
	return c.backend.HDeleteRaw(ctx, hashKey, field)
}

// GetJSON fetches the raw JSON payload stored for a key. It returns
// ErrNotFound when the key is absent.
func (c *Client) GetJSON(ctx context.Context, key string) ([]byte, error) {
	if err := requireKey("key", key); err != nil {
		return nil, err
	}
	if err := c.ready(); err != nil {
		return nil, err
	}
	data, err := c.backend.GetRaw(ctx, key)
	if err != nil {
		return nil, err
	}
	if isNull(data) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, nil
}

// PutJSON stores a pre-encoded JSON document.
func (c *Client) PutJSON(ctx context.Context, key string, jsonPayload []byte) error {
	if err := requireKey("key", key); err != nil {
		return err
	}
	if !json.Valid(jsonPayload) {
		return fmt.Errorf("cstore: payload for %q is not valid JSON", key)
	}
	if err := c.ready(); err != nil {
		return err
	}
	return c.backend.SetRaw(ctx, key, bytes.TrimSpace(jsonPayload))
}

func (c *Client) ready() error {
	if c == nil || c.backend == nil {
		return fmt.Errorf("cstore: client is nil")
	}
	return nil
}

func requireKey(what, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("cstore: %s is required", what)
	}
	return nil
}

func requireHash(hashKey, field string) error {
	if err := requireKey("hash key", hashKey); err != nil {
		return err
	}
	return requireKey("hash field", field)
}

func decodeValue[T any](data []byte) (T, bool, error) {
	var value T
	if isNull(data) {
		return value, false, nil
	}
	if err := json.Unmarshal(bytes.TrimSpace(data), &value); err != nil {
		return value, false, fmt.Errorf("cstore: decode value: %w", err)
	}
	return value, true, nil
}

func isNull(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func sortedFields(raw map[string]json.RawMessage) []string {
	fields := make([]string, 0, len(raw))
	for field := range raw {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
