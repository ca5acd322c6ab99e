// Package cstore is a client for the chainstore key/value API. Values are
// stored as JSON text under plain keys or under fields of a hash key. The
// record runtime uses it as a remote backing store for the object cache (see
// objcache/cstorestore).
package cstore
