package cstore

import "errors"

// Item represents a stored key/value pair.
type Item[T any] struct {
	Key   string
	Value T
}

// HashItem represents a field stored under a hash key.
type HashItem[T any] struct {
	HashKey string
	Field   string
	Value   T
}

// ListResult captures a paginated set of items.
type ListResult[T any] struct {
	Items      []Item[T]
	NextCursor string
}

// Status is the payload of the get_status endpoint.
type Status struct {
	Keys []string `json:"keys"`
}

// ErrNotFound is returned by the raw accessors when a key is missing.
var ErrNotFound = errors.New("cstore: not found")
